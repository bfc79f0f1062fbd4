package parser

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/Adithya-Monish-Kumar-K/codesearch/internal/indexer/tokenizer"
	apperrors "github.com/Adithya-Monish-Kumar-K/codesearch/pkg/errors"
)

type Kind int

const (
	Literal Kind = iota
	Prefix
	Suffix
	Infix
	Any
)

func (k Kind) String() string {
	switch k {
	case Literal:
		return "literal"
	case Prefix:
		return "prefix"
	case Suffix:
		return "suffix"
	case Infix:
		return "infix"
	case Any:
		return "any"
	}
	return fmt.Sprintf("kind(%d)", k)
}

// Atom matches one token. Sep is the punctuation required between this
// token and the next one; on the last atom it is the text the token must be
// followed by.
type Atom struct {
	Kind    Kind
	Pattern string
	Sep     string

	folded string
	parts  []string
	raw    []string
}

type Query struct {
	Raw           string
	Lead          string
	Atoms         []Atom
	CaseSensitive bool
}

// Parse compiles query text into a sequence of atoms. Words become atoms,
// '*' inside a word is a wildcard, and any other character is punctuation
// that must appear between the matched tokens. Whitespace is insignificant
// except that it separates atoms.
func Parse(text string, caseSensitive bool) (*Query, error) {
	q := &Query{Raw: text, CaseSensitive: caseSensitive}
	if strings.TrimSpace(text) == "" {
		return nil, &apperrors.QueryError{Query: text, Pos: -1, Reason: "query is empty"}
	}

	var punct strings.Builder
	literal := false
	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		switch {
		case r == '*' || tokenizer.IsTokenRune(r):
			end := i
			for end < len(text) {
				next, n := utf8.DecodeRuneInString(text[end:])
				if next != '*' && !tokenizer.IsTokenRune(next) {
					break
				}
				end += n
			}
			if n := len(q.Atoms); n == 0 {
				q.Lead = punct.String()
			} else {
				q.Atoms[n-1].Sep = punct.String()
			}
			punct.Reset()

			word := text[i:end]
			if pos := strings.Index(word, "**"); pos >= 0 {
				return nil, &apperrors.QueryError{Query: text, Pos: i + pos, Reason: "empty wildcard group"}
			}
			atom := newAtom(word)
			if atom.Kind != Any {
				literal = true
			}
			q.Atoms = append(q.Atoms, atom)
			i = end
			continue
		case unicode.IsSpace(r), r == utf8.RuneError && size == 1:
		default:
			punct.WriteString(text[i : i+size])
		}
		i += size
	}

	if !literal {
		return nil, &apperrors.QueryError{Query: text, Pos: -1, Reason: "query has no literal characters"}
	}
	q.Atoms[len(q.Atoms)-1].Sep = punct.String()
	return q, nil
}

func newAtom(word string) Atom {
	a := Atom{Pattern: word, folded: tokenizer.Fold(word)}
	stars := strings.Count(word, "*")
	switch {
	case word == "*":
		a.Kind = Any
	case stars == 0:
		a.Kind = Literal
	case stars == 1 && strings.HasSuffix(word, "*"):
		a.Kind = Prefix
	case stars == 1 && strings.HasPrefix(word, "*"):
		a.Kind = Suffix
	default:
		a.Kind = Infix
	}
	a.parts = strings.Split(a.folded, "*")
	a.raw = strings.Split(word, "*")
	return a
}

// Stem is the literal text of a Literal or Prefix atom, folded.
func (a Atom) Stem() string {
	return strings.TrimSuffix(a.folded, "*")
}

// MatchKey reports whether a folded vocabulary key can satisfy the atom.
func (a Atom) MatchKey(key string) bool {
	switch a.Kind {
	case Any:
		return true
	case Literal:
		return key == a.folded
	case Prefix:
		return strings.HasPrefix(key, a.Stem())
	}
	return matchParts(a.parts, key)
}

// MatchToken reports whether a token, spelled as in the document, satisfies
// the atom.
func (a Atom) MatchToken(token string, caseSensitive bool) bool {
	if !caseSensitive {
		return a.MatchKey(tokenizer.Fold(token))
	}
	switch a.Kind {
	case Any:
		return true
	case Literal:
		return token == a.Pattern
	case Prefix:
		return strings.HasPrefix(token, strings.TrimSuffix(a.Pattern, "*"))
	}
	return matchParts(a.raw, token)
}

// matchParts matches s against literal parts separated by wildcards. An
// empty first or last part leaves that end of s unanchored.
func matchParts(parts []string, s string) bool {
	first, last := parts[0], parts[len(parts)-1]
	if len(s) < len(first)+len(last) {
		return false
	}
	if !strings.HasPrefix(s, first) || !strings.HasSuffix(s, last) {
		return false
	}
	rest := s[len(first) : len(s)-len(last)]
	for _, part := range parts[1 : len(parts)-1] {
		i := strings.Index(rest, part)
		if i < 0 {
			return false
		}
		rest = rest[i+len(part):]
	}
	return true
}

// Literals returns the non-wildcard atoms' patterns.
func (q *Query) Literals() []string {
	var out []string
	for _, a := range q.Atoms {
		if a.Kind == Literal {
			out = append(out, a.Pattern)
		}
	}
	return out
}

// String renders the query in its normalised form.
func (q *Query) String() string {
	var sb strings.Builder
	sb.WriteString(q.Lead)
	for i, a := range q.Atoms {
		if i > 0 && q.Atoms[i-1].Sep == "" {
			sb.WriteByte(' ')
		}
		sb.WriteString(a.Pattern)
		sb.WriteString(a.Sep)
	}
	return sb.String()
}
