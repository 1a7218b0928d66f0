package textutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTruncateRunes(t *testing.T) {
	tests := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{name: "short", in: "abc", max: 5, want: "abc"},
		{name: "exact", in: "abc", max: 3, want: "abc"},
		{name: "ascii", in: "abcdef", max: 4, want: "abcd"},
		{name: "multibyte", in: "立德树人五育并举", max: 4, want: "立德树人"},
		{name: "zero", in: "abc", max: 0, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TruncateRunes(tt.in, tt.max))
		})
	}
}

func TestTruncateWithEllipsis(t *testing.T) {
	assert.Equal(t, "abc", TruncateWithEllipsis("abc", 3))
	assert.Equal(t, "ab…", TruncateWithEllipsis("abc", 2))
}

func TestNormalizeSpace(t *testing.T) {
	assert.Equal(t, "a b c", NormalizeSpace("  a\n b\t\tc  "))
	assert.Equal(t, "", NormalizeSpace(" \n "))
}

func TestFirstNonEmpty(t *testing.T) {
	assert.Equal(t, "b", FirstNonEmpty("", "  ", "b", "c"))
	assert.Equal(t, "", FirstNonEmpty("", " "))
}
