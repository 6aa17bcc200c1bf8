package main

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitDetach(t *testing.T) {
	tests := []struct {
		name       string
		in         []byte
		want       []byte
		wantDetach bool
	}{
		{"plain input", []byte("ls -la\r"), []byte("ls -la\r"), false},
		{"detach alone", []byte{detachKey}, []byte{}, true},
		{"detach after input", []byte{'q', detachKey, 'x'}, []byte("q"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, detached := splitDetach(tt.in)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantDetach, detached)
		})
	}
}

func TestPumpInputStopsAtDetach(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()

	_, err = w.Write([]byte{'a', 'b', detachKey, 'c'})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	var sent []byte
	detached := false
	pumpInput(context.Background(), r, func(b []byte) error {
		sent = append(sent, b...)
		return nil
	}, func() { detached = true })

	assert.Equal(t, "ab", string(sent))
	assert.True(t, detached)
}
