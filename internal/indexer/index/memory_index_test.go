package index

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/codesearch/internal/indexer/tokenizer"
)

func put(m *MemoryIndex, path, text string) Document {
	doc := NewDocument(path, int64(len(text)), time.Unix(1700000000, 0))
	m.Put(doc, FromTokens(path, tokenizer.Tokenize([]byte(text))))
	return doc
}

func TestNewDocumentExtension(t *testing.T) {
	assert.Equal(t, ".cpp", NewDocument("/src/Main.CPP", 1, time.Time{}).Ext)
	assert.Equal(t, "", NewDocument("/src/Makefile", 1, time.Time{}).Ext)
}

func TestLookupOrderAndCase(t *testing.T) {
	m := NewMemoryIndex()
	put(m, "/src/b.c", "hwnd = HWND; hWnd")
	put(m, "/src/a.c", "x hWnd")

	all := m.Lookup("HWND", false)
	require.Len(t, all, 4)
	assert.Equal(t, "/src/a.c", all[0].Path)
	assert.Equal(t, []int{0, 7, 13}, []int{all[1].Offset, all[2].Offset, all[3].Offset})

	exact := m.Lookup("hWnd", true)
	require.Len(t, exact, 2)
	assert.Equal(t, "/src/a.c", exact[0].Path)
	assert.Equal(t, "/src/b.c", exact[1].Path)
	assert.Equal(t, 13, exact[1].Offset)

	assert.Empty(t, m.Lookup("missing", false))
}

func TestPutReplacesAllPostings(t *testing.T) {
	m := NewMemoryIndex()
	put(m, "/src/a.go", "alpha beta")
	put(m, "/src/a.go", "gamma")

	assert.Empty(t, m.Lookup("alpha", false))
	assert.Len(t, m.Lookup("gamma", false), 1)
	assert.Equal(t, []string{"gamma"}, m.Vocabulary())
	assert.Equal(t, 1, m.Stats().Documents)
	assert.Equal(t, 1, m.Stats().Postings)
}

func TestPutUnchangedIsIdentical(t *testing.T) {
	m := NewMemoryIndex()
	put(m, "/src/a.go", "func main() { fmt.Println(x) }")
	before := m.DocumentPostings("/src/a.go")
	stats := m.Stats()

	put(m, "/src/a.go", "func main() { fmt.Println(x) }")
	assert.Equal(t, before, m.DocumentPostings("/src/a.go"))
	assert.Equal(t, stats, m.Stats())
}

func TestSnapshotsKeepTheirVersion(t *testing.T) {
	m := NewMemoryIndex()
	put(m, "/src/b.go", "foo bar")
	put(m, "/src/a.go", "bar")
	put(m, "/src/c.go", "other")

	snaps := m.Snapshots([]string{"foo", "bar"})
	require.Len(t, snaps, 2)
	assert.Equal(t, "/src/a.go", snaps[0].Document().Path)
	assert.Equal(t, "/src/b.go", snaps[1].Document().Path)

	put(m, "/src/b.go", "xx yy foo")
	old := snaps[1]
	assert.Len(t, old.Postings(), 2)
	require.Len(t, old.Key("foo"), 1)
	assert.Equal(t, 0, old.Key("foo")[0].Offset)
	assert.Equal(t, 6, m.DocumentPostings("/src/b.go")[2].Offset)

	assert.Empty(t, m.Snapshots([]string{"missing"}))
}

func TestRemove(t *testing.T) {
	m := NewMemoryIndex()
	put(m, "/src/a.go", "shared only_a")
	put(m, "/src/b.go", "shared")

	assert.True(t, m.Remove("/src/a.go"))
	assert.False(t, m.Remove("/src/a.go"))
	assert.Equal(t, []string{"shared"}, m.Vocabulary())
	_, ok := m.Document("/src/a.go")
	assert.False(t, ok)
	assert.Len(t, m.Documents(), 1)
}

func TestPrefixRange(t *testing.T) {
	m := NewMemoryIndex()
	put(m, "/src/a.c", "DuplicateHandle DuplicateHandleEx Duplicate CloseHandle")

	assert.Equal(t, []string{"duplicatehandle", "duplicatehandleex"}, m.PrefixRange("DuplicateHandle"))
	assert.Empty(t, m.PrefixRange("zzz"))
	assert.Len(t, m.PrefixRange(""), 4)
}

func TestDocumentsSortedByPath(t *testing.T) {
	m := NewMemoryIndex()
	put(m, "/src/z.go", "z")
	put(m, "/src/a.go", "a")
	put(m, "/src/m.go", "m")

	docs := m.Documents()
	require.Len(t, docs, 3)
	assert.Equal(t, []string{"/src/a.go", "/src/m.go", "/src/z.go"}, []string{docs[0].Path, docs[1].Path, docs[2].Path})
}

func TestConcurrentPutAndLookup(t *testing.T) {
	m := NewMemoryIndex()
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				put(m, fmt.Sprintf("/src/%d/%d.go", w, i%10), "token other token")
				for _, p := range m.Lookup("token", false) {
					assert.Equal(t, "token", p.Token)
				}
				_ = m.Vocabulary()
			}
		}(w)
	}
	wg.Wait()
	assert.Equal(t, 40, m.DocCount())
	assert.Len(t, m.Lookup("token", false), 80)
}

func BenchmarkMemoryIndexPut(b *testing.B) {
	m := NewMemoryIndex()
	text := []byte("for (int i = 0; i < count; ++i) { total += values[i]; }")
	toks := tokenizer.Tokenize(text)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		path := fmt.Sprintf("/src/file-%d.c", i%1000)
		m.Put(NewDocument(path, int64(len(text)), time.Time{}), FromTokens(path, toks))
	}
}

func BenchmarkMemoryIndexLookupParallel(b *testing.B) {
	m := NewMemoryIndex()
	for i := 0; i < 5000; i++ {
		put(m, fmt.Sprintf("/src/file-%d.c", i), "HANDLE h = DuplicateHandle(src, dst);")
	}
	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_ = m.Lookup("duplicatehandle", false)
		}
	})
}
