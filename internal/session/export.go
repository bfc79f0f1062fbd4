package session

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"

	apperrors "github.com/Adithya-Monish-Kumar-K/codesearch/pkg/errors"
)

type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// ParseFormat accepts "text" (or "") and "json".
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(FormatText), "txt":
		return FormatText, nil
	case string(FormatJSON):
		return FormatJSON, nil
	}
	return "", fmt.Errorf("%w: unknown export format %q", apperrors.ErrInvalidInput, s)
}

// Entry is one exported match.
type Entry struct {
	Path  string `json:"path"`
	Line  int    `json:"line"`
	Start int    `json:"start"`
	End   int    `json:"end"`
	Text  string `json:"text"`
}

// Entries lists every match of the session in document and offset order
// with the text of its line. The cursor is not consulted. A file that can no
// longer be read yields entries with empty text.
func (s *Session) Entries() []Entry {
	entries := make([]Entry, 0, s.result.MatchCount)
	for _, m := range s.result.Matches {
		lines := readLines(m.Document.Path)
		for _, span := range m.Spans {
			text := ""
			if span.Line >= 1 && span.Line <= len(lines) {
				text = strings.TrimSpace(string(lines[span.Line-1]))
			}
			entries = append(entries, Entry{
				Path:  m.Document.Path,
				Line:  span.Line,
				Start: span.Start,
				End:   span.End,
				Text:  text,
			})
		}
	}
	return entries
}

func readLines(path string) [][]byte {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	return bytes.Split(data, []byte("\n"))
}

// Export writes every match to w.
func (s *Session) Export(w io.Writer, format Format) error {
	entries := s.Entries()
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(entries); err != nil {
			return fmt.Errorf("encoding export: %w", err)
		}
		return nil
	case FormatText, "":
		bw := bufio.NewWriter(w)
		for _, e := range entries {
			fmt.Fprintf(bw, "%s:%d: %s\n", e.Path, e.Line, e.Text)
		}
		if err := bw.Flush(); err != nil {
			return fmt.Errorf("writing export: %w", err)
		}
		return nil
	}
	return fmt.Errorf("%w: unknown export format %q", apperrors.ErrInvalidInput, format)
}

// ExportText returns the text report as a reader.
func (s *Session) ExportText() (io.Reader, error) {
	var buf bytes.Buffer
	if err := s.Export(&buf, FormatText); err != nil {
		return nil, err
	}
	return &buf, nil
}

var lineNumber = regexp.MustCompile(`^:(\d+): ?`)

// ParseReport reads a text report back into entries. Blank lines are
// skipped; any other line that is not "<path>:<line>: <text>" is an error.
// When ":<digits>:" occurs more than once, the first split whose path exists
// on disk wins, else the first split.
func ParseReport(r io.Reader) ([]Entry, error) {
	var entries []Entry
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	n := 0
	for scanner.Scan() {
		n++
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		entry, err := splitReportLine(line)
		if err != nil {
			return nil, fmt.Errorf("%w: report line %d: %v", apperrors.ErrInvalidInput, n, err)
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading report: %w", err)
	}
	return entries, nil
}

func splitReportLine(line string) (Entry, error) {
	var candidates []Entry
	for i := 1; i < len(line); i++ {
		if line[i] != ':' {
			continue
		}
		m := lineNumber.FindStringSubmatch(line[i:])
		if m == nil {
			continue
		}
		lineNo, err := strconv.Atoi(m[1])
		if err != nil {
			return Entry{}, err
		}
		candidates = append(candidates, Entry{Path: line[:i], Line: lineNo, Text: line[i+len(m[0]):]})
	}
	switch len(candidates) {
	case 0:
		return Entry{}, errors.New("not <path>:<line>: <text>")
	case 1:
		return candidates[0], nil
	}
	for _, c := range candidates {
		if _, err := os.Stat(c.Path); err == nil {
			return c, nil
		}
	}
	return candidates[0], nil
}
