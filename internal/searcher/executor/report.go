package executor

import (
	"fmt"
	"strings"
	"time"
)

// Phase is one timed step of a search.
type Phase struct {
	Name    string        `json:"name"`
	Elapsed time.Duration `json:"elapsed"`
	Notes   []string      `json:"notes,omitempty"`

	start time.Time
}

// Notef attaches a formatted note to the phase.
func (p *Phase) Notef(format string, args ...any) {
	p.Notes = append(p.Notes, fmt.Sprintf(format, args...))
}

// End stops the phase clock.
func (p *Phase) End() {
	p.Elapsed = time.Since(p.start)
}

// Report lists the phases of one search in execution order.
type Report struct {
	Phases []*Phase `json:"phases"`
}

// Begin starts a new phase.
func (r *Report) Begin(name string) *Phase {
	p := &Phase{Name: name, start: time.Now()}
	r.Phases = append(r.Phases, p)
	return p
}

func (r *Report) String() string {
	var sb strings.Builder
	for i, p := range r.Phases {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "%s (%.2f ms)", p.Name, float64(p.Elapsed)/float64(time.Millisecond))
		for _, note := range p.Notes {
			sb.WriteByte('\n')
			sb.WriteString(note)
		}
	}
	return sb.String()
}
