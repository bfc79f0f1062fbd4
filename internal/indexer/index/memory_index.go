package index

import (
	"sort"
	"strings"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/codesearch/internal/indexer/tokenizer"
)

// entry is the immutable indexed form of one document. Put replaces the whole
// entry, so readers see either the old or the new postings, never a mix.
type entry struct {
	doc      Document
	all      PostingList
	postings map[string]PostingList
	size     int64
}

type MemoryIndex struct {
	mu      sync.RWMutex
	docs    map[string]*entry
	vocab   map[string]map[string]struct{}
	sorted  []string
	size    int64
	entries int
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{
		docs:  make(map[string]*entry),
		vocab: make(map[string]map[string]struct{}),
	}
}

func newEntry(doc Document, postings PostingList) *entry {
	e := &entry{
		doc:      doc,
		all:      make(PostingList, len(postings)),
		postings: make(map[string]PostingList),
		size:     int64(len(doc.Path) + 64),
	}
	for i, p := range postings {
		p.Path = doc.Path
		e.all[i] = p
		key := tokenizer.Fold(p.Token)
		e.postings[key] = append(e.postings[key], p)
		e.size += int64(len(p.Token) + len(p.Lead) + len(p.Trail) + 48)
	}
	return e
}

// Put replaces all postings of doc. Postings must be in offset order.
func (m *MemoryIndex) Put(doc Document, postings PostingList) {
	e := newEntry(doc, postings)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropLocked(doc.Path)
	m.docs[doc.Path] = e
	for key := range e.postings {
		paths, ok := m.vocab[key]
		if !ok {
			paths = make(map[string]struct{})
			m.vocab[key] = paths
		}
		paths[doc.Path] = struct{}{}
	}
	m.size += e.size
	m.entries += len(e.all)
	m.sorted = nil
}

// Remove drops a document. It reports whether the document was present.
func (m *MemoryIndex) Remove(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.dropLocked(path) {
		return false
	}
	m.sorted = nil
	return true
}

func (m *MemoryIndex) dropLocked(path string) bool {
	old, ok := m.docs[path]
	if !ok {
		return false
	}
	for key := range old.postings {
		paths := m.vocab[key]
		delete(paths, path)
		if len(paths) == 0 {
			delete(m.vocab, key)
		}
	}
	delete(m.docs, path)
	m.size -= old.size
	m.entries -= len(old.all)
	return true
}

// Lookup returns the postings of term ordered by (path, offset). With exact
// set only occurrences spelled exactly like term are returned; otherwise
// every casing of term matches.
func (m *MemoryIndex) Lookup(term string, exact bool) PostingList {
	key := tokenizer.Fold(term)
	entries := m.entriesFor(key)
	var result PostingList
	for _, e := range entries {
		for _, p := range e.postings[key] {
			if exact && p.Token != term {
				continue
			}
			result = append(result, p)
		}
	}
	return result
}

// Snapshot is one version of a document. Its postings never change, even
// when the document is replaced in the index afterwards.
type Snapshot struct {
	e *entry
}

func (s Snapshot) Document() Document {
	return s.e.doc
}

// Postings returns the full token stream in offset order.
func (s Snapshot) Postings() PostingList {
	return s.e.all
}

// Key returns the postings stored under a folded key, in offset order.
func (s Snapshot) Key(key string) PostingList {
	return s.e.postings[key]
}

// Snapshots returns, in path order, the current version of every document
// holding at least one of the folded keys. All versions are taken under a
// single read lock.
func (m *MemoryIndex) Snapshots(keys []string) []Snapshot {
	m.mu.RLock()
	seen := make(map[string]struct{})
	var snaps []Snapshot
	for _, key := range keys {
		for path := range m.vocab[key] {
			if _, ok := seen[path]; ok {
				continue
			}
			seen[path] = struct{}{}
			snaps = append(snaps, Snapshot{e: m.docs[path]})
		}
	}
	m.mu.RUnlock()
	sort.Slice(snaps, func(i, j int) bool {
		return snaps[i].e.doc.Path < snaps[j].e.doc.Path
	})
	return snaps
}

func (m *MemoryIndex) entriesFor(key string) []*entry {
	m.mu.RLock()
	paths := m.vocab[key]
	entries := make([]*entry, 0, len(paths))
	for path := range paths {
		entries = append(entries, m.docs[path])
	}
	m.mu.RUnlock()
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].doc.Path < entries[j].doc.Path
	})
	return entries
}

// Documents returns the metadata of every document sorted by path.
func (m *MemoryIndex) Documents() []Document {
	m.mu.RLock()
	docs := make([]Document, 0, len(m.docs))
	for _, e := range m.docs {
		docs = append(docs, e.doc)
	}
	m.mu.RUnlock()
	sort.Slice(docs, func(i, j int) bool { return docs[i].Path < docs[j].Path })
	return docs
}

func (m *MemoryIndex) Document(path string) (Document, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.docs[path]
	if !ok {
		return Document{}, false
	}
	return e.doc, true
}

// DocumentPostings returns every posting of one document in offset order.
func (m *MemoryIndex) DocumentPostings(path string) PostingList {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.docs[path]
	if !ok {
		return nil
	}
	return e.all
}

// Vocabulary returns the sorted distinct folded keys. The slice is shared
// and must not be modified; it is rebuilt lazily after writes.
func (m *MemoryIndex) Vocabulary() []string {
	m.mu.RLock()
	sorted := m.sorted
	m.mu.RUnlock()
	if sorted != nil {
		return sorted
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sorted == nil {
		m.sorted = make([]string, 0, len(m.vocab))
		for key := range m.vocab {
			m.sorted = append(m.sorted, key)
		}
		sort.Strings(m.sorted)
	}
	return m.sorted
}

// PrefixRange returns the vocabulary keys starting with the folded prefix.
func (m *MemoryIndex) PrefixRange(prefix string) []string {
	vocab := m.Vocabulary()
	prefix = tokenizer.Fold(prefix)
	lo := sort.SearchStrings(vocab, prefix)
	hi := lo
	for hi < len(vocab) && strings.HasPrefix(vocab[hi], prefix) {
		hi++
	}
	return vocab[lo:hi]
}

func (m *MemoryIndex) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Stats{
		Documents: len(m.docs),
		Terms:     len(m.vocab),
		Postings:  m.entries,
		Bytes:     m.size,
	}
}

func (m *MemoryIndex) Size() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.size
}

func (m *MemoryIndex) DocCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs)
}

func (m *MemoryIndex) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs = make(map[string]*entry)
	m.vocab = make(map[string]map[string]struct{})
	m.sorted = nil
	m.size = 0
	m.entries = 0
}
