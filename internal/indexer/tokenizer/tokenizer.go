// Package tokenizer splits source text into identifier-like tokens. A token is
// a maximal run of letters, digits, '_' and '#'; everything else delimits.
// Tokens keep their exact casing and remember the punctuation around them so
// that adjacency constraints can be checked without re-reading the file.
package tokenizer

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxBoundary caps the stored delimiter text on either side of a token.
// Longer runs are cut at a rune boundary and marked with a newline, which a
// whitespace-free boundary never contains, so an exact comparison against a
// truncated boundary always fails while prefix/suffix anchors keep working.
const MaxBoundary = 64

const truncMark = "\n"

// Token is a single occurrence in a document.
type Token struct {
	Value   string
	Offset  int
	Line    int
	Ordinal int
	Lead    string
	Trail   string
}

// End returns the byte offset just past the token.
func (t Token) End() int {
	return t.Offset + len(t.Value)
}

// IsTokenRune reports whether r can be part of a token.
func IsTokenRune(r rune) bool {
	return r == '_' || r == '#' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// Fold returns the case-insensitive key of a token value.
func Fold(s string) string {
	return strings.ToLower(s)
}

// Tokenize returns the tokens of text in order of appearance.
func Tokenize(text []byte) []Token {
	tokens := make([]Token, 0, len(text)/6)
	line := 1
	start := -1
	startLine := 0
	gap := 0

	flush := func(end int) {
		lead := compact(text[gap:start])
		if n := len(tokens); n > 0 {
			tokens[n-1].Trail = trimTrail(lead)
		}
		tokens = append(tokens, Token{
			Value:   string(text[start:end]),
			Offset:  start,
			Line:    startLine,
			Ordinal: len(tokens),
			Lead:    trimLead(lead),
		})
		gap = end
		start = -1
	}

	for i := 0; i < len(text); {
		r, size := utf8.DecodeRune(text[i:])
		if IsTokenRune(r) {
			if start < 0 {
				start = i
				startLine = line
			}
		} else {
			if start >= 0 {
				flush(i)
			}
			if r == '\n' {
				line++
			}
		}
		i += size
	}
	if start >= 0 {
		flush(len(text))
	}
	if n := len(tokens); n > 0 {
		tokens[n-1].Trail = trimTrail(compact(text[gap:]))
	}
	return tokens
}

// compact drops whitespace and undecodable bytes from a delimiter run.
func compact(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	var sb strings.Builder
	for i := 0; i < len(b); {
		r, size := utf8.DecodeRune(b[i:])
		if !unicode.IsSpace(r) && !(r == utf8.RuneError && size == 1) {
			sb.Write(b[i : i+size])
		}
		i += size
	}
	return sb.String()
}

func trimTrail(s string) string {
	if len(s) <= MaxBoundary {
		return s
	}
	cut := MaxBoundary
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + truncMark
}

func trimLead(s string) string {
	if len(s) <= MaxBoundary {
		return s
	}
	cut := len(s) - MaxBoundary
	for cut < len(s) && !utf8.RuneStart(s[cut]) {
		cut++
	}
	return truncMark + s[cut:]
}
