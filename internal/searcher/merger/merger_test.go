package merger

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Adithya-Monish-Kumar-K/codesearch/internal/indexer/index"
)

func p(path string, offset int, token string) index.Posting {
	return index.Posting{Path: path, Offset: offset, Token: token}
}

func TestMergeOrdersByPathThenOffset(t *testing.T) {
	lists := []index.PostingList{
		{p("/a", 10, "fooBar"), p("/c", 0, "fooBar")},
		{p("/a", 2, "foo"), p("/b", 5, "foo"), p("/c", 7, "foo")},
		nil,
		{p("/b", 1, "fooBaz")},
	}
	got := Merge(lists, nil)
	want := index.PostingList{
		p("/a", 2, "foo"),
		p("/a", 10, "fooBar"),
		p("/b", 1, "fooBaz"),
		p("/b", 5, "foo"),
		p("/c", 0, "fooBar"),
		p("/c", 7, "foo"),
	}
	assert.Equal(t, want, got)
}

func TestMergeKeep(t *testing.T) {
	lists := []index.PostingList{
		{p("/a", 0, "Foo"), p("/b", 0, "Foo")},
		{p("/a", 4, "foo")},
	}
	got := Merge(lists, func(x index.Posting) bool { return x.Token == "Foo" })
	assert.Equal(t, index.PostingList{p("/a", 0, "Foo"), p("/b", 0, "Foo")}, got)

	single := Merge(lists[1:], func(x index.Posting) bool { return x.Path != "/a" })
	assert.Empty(t, single)
}

func TestMergeEmpty(t *testing.T) {
	assert.Nil(t, Merge(nil, nil))
	assert.Nil(t, Merge([]index.PostingList{{}, nil}, nil))
}

func BenchmarkMerge(b *testing.B) {
	lists := make([]index.PostingList, 64)
	for i := range lists {
		for j := 0; j < 500; j++ {
			lists[i] = append(lists[i], p("/doc", j*64+i, "tok"))
		}
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Merge(lists, nil)
	}
}
