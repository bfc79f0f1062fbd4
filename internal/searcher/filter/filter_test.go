package filter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/codesearch/internal/indexer/index"
	apperrors "github.com/Adithya-Monish-Kumar-K/codesearch/pkg/errors"
)

func doc(path string) index.Document {
	return index.NewDocument(path, 1, time.Unix(0, 0))
}

func TestEmptyFilter(t *testing.T) {
	f, err := Parse("", " , ", "")
	require.NoError(t, err)
	assert.True(t, f.Empty())
	assert.True(t, f.Match(doc("/src/a.cpp")))

	var nilFilter *Filter
	assert.True(t, nilFilter.Match(doc("/src/a.cpp")))
}

func TestExtensionFilter(t *testing.T) {
	tests := []struct {
		filter string
		path   string
		want   bool
	}{
		{"cpp", "/src/a.cpp", true},
		{".cpp", "/src/a.CPP", true},
		{"*.cpp", "/src/a.cpp", true},
		{"cpp,h", "/src/a.h", true},
		{"cpp,h", "/src/a.hpp", false},
		{"-h", "/src/a.h", false},
		{"-h", "/src/a.cpp", true},
		{".", "/src/Makefile", true},
		{".", "/src/a.cpp", false},
		{"-.", "/src/Makefile", false},
		{"cpp,-cpp", "/src/a.cpp", false},
	}
	for _, tt := range tests {
		t.Run(tt.filter+" "+tt.path, func(t *testing.T) {
			f, err := Parse(tt.filter, "", "")
			require.NoError(t, err)
			assert.Equal(t, tt.want, f.Match(doc(tt.path)))
		})
	}
}

func TestFolderFilter(t *testing.T) {
	tests := []struct {
		filter string
		path   string
		want   bool
	}{
		{"net", "/home/me/src/Network/a.go", true},
		{"NET", "/home/me/src/network/a.go", true},
		{"-test", "/home/me/src/test/a.go", false},
		{"-test", "/home/me/src/lib/a.go", true},
		{"src/*", "/home/me/src/net/a.go", true},
		{"src/*", "/home/me/src/a.go", false},
		{"src/**", "/home/me/src/a.go", true},
		{"src/**", "/home/me/lib/a.go", false},
		{"*/internal", "/repo/pkg/internal/x.go", true},
		{"lib,vendor", "/repo/vendor/x.go", true},
		{"lib,vendor", "/repo/pkg/x.go", false},
	}
	for _, tt := range tests {
		t.Run(tt.filter+" "+tt.path, func(t *testing.T) {
			f, err := Parse("", tt.filter, "")
			require.NoError(t, err)
			assert.Equal(t, tt.want, f.Match(doc(tt.path)))
		})
	}
}

func TestPathFilter(t *testing.T) {
	f, err := Parse("", "", "handle")
	require.NoError(t, err)
	assert.True(t, f.Match(doc("/src/DuplicateHandle.cpp")))
	assert.False(t, f.Match(doc("/handle/other.cpp")))

	f, err = Parse("", "", "*_test.go")
	require.NoError(t, err)
	assert.True(t, f.Match(doc("/src/a_test.go")))
	assert.False(t, f.Match(doc("/src/a.go")))
}

func TestCombinedFilters(t *testing.T) {
	f, err := Parse("cpp", "src", "-legacy")
	require.NoError(t, err)
	assert.True(t, f.Match(doc("/repo/src/a.cpp")))
	assert.False(t, f.Match(doc("/repo/src/a.h")))
	assert.False(t, f.Match(doc("/repo/lib/a.cpp")))
	assert.False(t, f.Match(doc("/repo/src/legacy_a.cpp")))

	docs := []index.Document{doc("/repo/src/a.cpp"), doc("/repo/src/b.h"), doc("/repo/src/c.cpp")}
	kept := f.Apply(docs)
	require.Len(t, kept, 2)
	assert.Equal(t, "/repo/src/a.cpp", kept[0].Path)
	assert.Equal(t, "/repo/src/c.cpp", kept[1].Path)
}

func TestBadPattern(t *testing.T) {
	_, err := Parse("", "src/[", "")
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}
