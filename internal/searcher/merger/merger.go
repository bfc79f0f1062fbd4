package merger

import (
	"container/heap"

	"github.com/Adithya-Monish-Kumar-K/codesearch/internal/indexer/index"
)

// Merge combines posting lists that are each ordered by (path, offset) into
// a single list with the same order. keep, when not nil, drops postings
// before they are emitted.
func Merge(lists []index.PostingList, keep func(index.Posting) bool) index.PostingList {
	total := 0
	h := make(cursorHeap, 0, len(lists))
	for _, list := range lists {
		if len(list) > 0 {
			h = append(h, &cursor{list: list})
			total += len(list)
		}
	}
	switch len(h) {
	case 0:
		return nil
	case 1:
		if keep == nil {
			return h[0].list
		}
	}
	heap.Init(&h)

	out := make(index.PostingList, 0, total)
	for h.Len() > 0 {
		c := h[0]
		p := c.list[c.pos]
		if keep == nil || keep(p) {
			out = append(out, p)
		}
		c.pos++
		if c.pos == len(c.list) {
			heap.Pop(&h)
		} else {
			heap.Fix(&h, 0)
		}
	}
	return out
}

type cursor struct {
	list index.PostingList
	pos  int
}

func (c *cursor) head() index.Posting {
	return c.list[c.pos]
}

type cursorHeap []*cursor

func (h cursorHeap) Len() int { return len(h) }

func (h cursorHeap) Less(i, j int) bool {
	a, b := h[i].head(), h[j].head()
	if a.Path != b.Path {
		return a.Path < b.Path
	}
	return a.Offset < b.Offset
}

func (h cursorHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *cursorHeap) Push(x interface{}) {
	*h = append(*h, x.(*cursor))
}

func (h *cursorHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
