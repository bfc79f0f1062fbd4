package index

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/codesearch/internal/indexer/tokenizer"
)

// Document is the metadata of one indexed file. Size and ModTime decide
// whether the file has to be re-indexed.
type Document struct {
	Path    string    `json:"path"`
	Ext     string    `json:"ext"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// NewDocument builds the metadata for path, deriving the lower-cased extension.
func NewDocument(path string, size int64, modTime time.Time) Document {
	return Document{
		Path:    path,
		Ext:     strings.ToLower(filepath.Ext(path)),
		Size:    size,
		ModTime: modTime,
	}
}

// SameVersion reports whether other describes the same file contents as d.
func (d Document) SameVersion(other Document) bool {
	return d.Size == other.Size && d.ModTime.Equal(other.ModTime)
}

// Posting is one token occurrence. Path is not serialised because a segment
// holds the postings of a single document.
type Posting struct {
	Token   string `json:"t"`
	Path    string `json:"-"`
	Offset  int    `json:"o"`
	Line    int    `json:"l"`
	Ordinal int    `json:"n"`
	Lead    string `json:"b,omitempty"`
	Trail   string `json:"a,omitempty"`
}

// End returns the byte offset just past the token.
func (p Posting) End() int {
	return p.Offset + len(p.Token)
}

// PostingList is ordered by (Path, Offset).
type PostingList []Posting

// FromTokens converts the token stream of a document into its postings.
func FromTokens(path string, tokens []tokenizer.Token) PostingList {
	list := make(PostingList, len(tokens))
	for i, tok := range tokens {
		list[i] = Posting{
			Token:   tok.Value,
			Path:    path,
			Offset:  tok.Offset,
			Line:    tok.Line,
			Ordinal: tok.Ordinal,
			Lead:    tok.Lead,
			Trail:   tok.Trail,
		}
	}
	return list
}

// Stats summarises the contents of a MemoryIndex.
type Stats struct {
	Documents int   `json:"documents"`
	Terms     int   `json:"terms"`
	Postings  int   `json:"postings"`
	Bytes     int64 `json:"bytes"`
}
