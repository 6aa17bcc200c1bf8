package terminal

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScrollback(t *testing.T) {
	tests := []struct {
		name   string
		size   int
		writes []string
		want   string
	}{
		{"empty", 8, nil, ""},
		{"under capacity", 8, []string{"abc", "de"}, "abcde"},
		{"exact capacity", 4, []string{"ab", "cd"}, "abcd"},
		{"wraps", 4, []string{"abc", "def"}, "cdef"},
		{"oversized write", 4, []string{"ab", "0123456789"}, "6789"},
		{"many wraps", 3, []string{"a", "b", "c", "d", "e"}, "cde"},
		{"disabled", 0, []string{"abc"}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewScrollback(tt.size)
			for _, w := range tt.writes {
				n, err := s.Write([]byte(w))
				assert.NoError(t, err)
				assert.Equal(t, len(w), n)
			}
			assert.Equal(t, tt.want, string(s.Bytes()))
			assert.Equal(t, len(tt.want), s.Len())
		})
	}
}

func TestScrollbackSnapshotIsCopy(t *testing.T) {
	s := NewScrollback(8)
	s.Write([]byte("abc"))

	snap := s.Bytes()
	snap[0] = 'z'

	assert.Equal(t, "abc", string(s.Bytes()))
}
