package store

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/codesearch/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/codesearch/internal/indexer/tokenizer"
	apperrors "github.com/Adithya-Monish-Kumar-K/codesearch/pkg/errors"
)

type fixture struct {
	dataDir string
	root    string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	return fixture{dataDir: t.TempDir(), root: t.TempDir()}
}

func (f fixture) open(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), f.dataDir, f.root)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func (f fixture) doc(name, text string, mtime int64) (index.Document, index.PostingList) {
	path := filepath.Join(f.root, name)
	doc := index.NewDocument(path, int64(len(text)), time.Unix(mtime, 0))
	return doc, index.FromTokens(path, tokenizer.Tokenize([]byte(text)))
}

func segmentFiles(t *testing.T, s *Store) []string {
	t.Helper()
	entries, err := os.ReadDir(filepath.Join(s.Dir(), segmentsDir))
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestPutPersistsAcrossReopen(t *testing.T) {
	f := newFixture(t)
	s := f.open(t)
	doc, postings := f.doc("a.cpp", "DuplicateHandle(foo); DuplicateHandleEx(bar);", 100)
	require.NoError(t, s.Put(doc, postings))
	require.NoError(t, s.Close())

	s2 := f.open(t)
	assert.False(t, s2.Recovered)
	assert.Equal(t, postings, s2.Index().DocumentPostings(doc.Path))
	assert.Len(t, s2.Index().Lookup("duplicatehandle", false), 1)

	stored, ok := s2.Stored(doc.Path)
	require.True(t, ok)
	assert.True(t, stored.SameVersion(doc))
}

func TestPutReplacesSegment(t *testing.T) {
	f := newFixture(t)
	s := f.open(t)
	doc, postings := f.doc("a.go", "alpha", 1)
	require.NoError(t, s.Put(doc, postings))
	doc2, postings2 := f.doc("a.go", "beta", 2)
	require.NoError(t, s.Put(doc2, postings2))

	assert.Len(t, segmentFiles(t, s), 1)
	assert.Empty(t, s.Index().Lookup("alpha", false))
	assert.Len(t, s.Index().Lookup("beta", false), 1)
}

func TestRemove(t *testing.T) {
	f := newFixture(t)
	s := f.open(t)
	doc, postings := f.doc("a.go", "alpha", 1)
	require.NoError(t, s.Put(doc, postings))
	require.NoError(t, s.Remove(doc.Path))
	require.NoError(t, s.Remove(doc.Path))

	assert.Empty(t, segmentFiles(t, s))
	assert.Zero(t, s.Index().DocCount())
	require.NoError(t, s.Close())

	assert.Zero(t, f.open(t).Index().DocCount())
}

func TestStale(t *testing.T) {
	f := newFixture(t)
	s := f.open(t)
	same, p1 := f.doc("same.go", "x", 1)
	changed, p2 := f.doc("changed.go", "y", 1)
	gone, p3 := f.doc("gone.go", "z", 1)
	for _, put := range []struct {
		doc index.Document
		p   index.PostingList
	}{{same, p1}, {changed, p2}, {gone, p3}} {
		require.NoError(t, s.Put(put.doc, put.p))
	}

	changedNow, _ := f.doc("changed.go", "yy", 2)
	fresh, _ := f.doc("new.go", "n", 1)
	c := s.Stale([]index.Document{same, changedNow, fresh})

	assert.Equal(t, []index.Document{fresh}, c.New)
	assert.Equal(t, []index.Document{changedNow}, c.Changed)
	assert.Equal(t, []index.Document{same}, c.Unchanged)
	assert.Equal(t, []string{gone.Path}, c.Deleted)
	assert.Equal(t, []index.Document{changedNow, fresh}, c.Pending())
}

func TestCorruptSegmentTriggersRebuild(t *testing.T) {
	f := newFixture(t)
	s := f.open(t)
	doc, postings := f.doc("a.go", "alpha beta", 1)
	require.NoError(t, s.Put(doc, postings))
	segs := segmentFiles(t, s)
	require.Len(t, segs, 1)
	require.NoError(t, s.Close())

	segPath := filepath.Join(s.Dir(), segmentsDir, segs[0])
	data, err := os.ReadFile(segPath)
	require.NoError(t, err)
	data[len(data)/2] ^= 0xff
	require.NoError(t, os.WriteFile(segPath, data, 0644))

	s2 := f.open(t)
	assert.True(t, s2.Recovered)
	assert.Zero(t, s2.Index().DocCount())
	assert.Empty(t, segmentFiles(t, s2))
}

func TestMissingSegmentTriggersRebuild(t *testing.T) {
	f := newFixture(t)
	s := f.open(t)
	doc, postings := f.doc("a.go", "alpha", 1)
	require.NoError(t, s.Put(doc, postings))
	require.NoError(t, s.Close())
	require.NoError(t, os.RemoveAll(filepath.Join(s.Dir(), segmentsDir)))

	s2 := f.open(t)
	assert.True(t, s2.Recovered)
	assert.Zero(t, s2.Index().DocCount())
}

func TestGarbageCatalogTriggersRebuild(t *testing.T) {
	f := newFixture(t)
	dir := Dir(f.dataDir, f.root)
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, catalogFile), []byte("definitely not sqlite, just some garbage bytes padded out"), 0644))

	s := f.open(t)
	assert.True(t, s.Recovered)
	assert.Zero(t, s.Index().DocCount())
}

func TestOrphanSegmentsCollected(t *testing.T) {
	f := newFixture(t)
	s := f.open(t)
	require.NoError(t, s.Close())

	orphan := filepath.Join(s.Dir(), segmentsDir, "0000000000000000-1.seg.tmp")
	require.NoError(t, os.WriteFile(orphan, []byte("partial"), 0644))

	s2 := f.open(t)
	assert.False(t, s2.Recovered)
	assert.NoFileExists(t, orphan)
}

func TestReplacedRootInvalidatesIndex(t *testing.T) {
	f := newFixture(t)
	s := f.open(t)
	doc, postings := f.doc("a.go", "alpha", 1)
	require.NoError(t, s.Put(doc, postings))
	require.NoError(t, s.cat.setMeta(metaIdentity, "0:0"))
	require.NoError(t, s.Close())

	s2 := f.open(t)
	assert.False(t, s2.Recovered)
	assert.Zero(t, s2.Index().DocCount())
}

func TestMissingRoot(t *testing.T) {
	f := newFixture(t)
	s := f.open(t)
	require.NoError(t, s.Close())
	require.NoError(t, os.RemoveAll(f.root))

	_, err := Open(context.Background(), f.dataDir, f.root)
	assert.ErrorIs(t, err, apperrors.ErrRootNotFound)
	assert.NoDirExists(t, s.Dir())
}

func TestIdentity(t *testing.T) {
	f := newFixture(t)
	s := f.open(t)
	ok, err := s.Identity()
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, os.RemoveAll(f.root))
	ok, err = s.Identity()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestInvalidate(t *testing.T) {
	f := newFixture(t)
	s := f.open(t)
	doc, postings := f.doc("a.go", "alpha", 1)
	require.NoError(t, s.Put(doc, postings))
	require.NoError(t, s.Invalidate())

	assert.Zero(t, s.Index().DocCount())
	assert.Empty(t, segmentFiles(t, s))
	_, ok := s.Stored(doc.Path)
	assert.False(t, ok)
}

func TestConcurrentPutsSameDocument(t *testing.T) {
	f := newFixture(t)
	s := f.open(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			doc, postings := f.doc("a.go", "alpha beta gamma", int64(i))
			assert.NoError(t, s.Put(doc, postings))
		}(i)
	}
	wg.Wait()

	assert.Len(t, segmentFiles(t, s), 1)
	assert.Equal(t, 1, s.Index().DocCount())
	assert.Zero(t, s.locks.held())
}

func TestLockerSerializes(t *testing.T) {
	l := NewLocker()
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.Lock("k")
			defer unlock()
			v := counter
			time.Sleep(time.Microsecond)
			counter = v + 1
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, counter)
	assert.Zero(t, l.held())
}
