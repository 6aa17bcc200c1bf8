package terminal

import "sync"

// Scrollback is a bounded ring of recent output used to repaint a terminal
// for a new owner. The oldest bytes are overwritten when full.
type Scrollback struct {
	mu   sync.Mutex
	data []byte
	pos  int
	full bool
}

// NewScrollback creates a ring holding up to size bytes. A non-positive size
// disables retention.
func NewScrollback(size int) *Scrollback {
	if size < 0 {
		size = 0
	}
	return &Scrollback{data: make([]byte, size)}
}

// Write appends p, keeping only the newest len(data) bytes.
func (s *Scrollback) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	size := len(s.data)
	if size == 0 {
		return len(p), nil
	}

	n := len(p)
	if n >= size {
		copy(s.data, p[n-size:])
		s.pos = 0
		s.full = true
		return n, nil
	}

	written := copy(s.data[s.pos:], p)
	if written < n {
		copy(s.data, p[written:])
		s.full = true
	}
	next := s.pos + n
	if next >= size {
		s.full = true
	}
	s.pos = next % size
	return n, nil
}

// Bytes returns a copy of the retained output, oldest first.
func (s *Scrollback) Bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.full {
		return append([]byte(nil), s.data[:s.pos]...)
	}
	out := make([]byte, 0, len(s.data))
	out = append(out, s.data[s.pos:]...)
	return append(out, s.data[:s.pos]...)
}

// Len returns the number of retained bytes.
func (s *Scrollback) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.full {
		return len(s.data)
	}
	return s.pos
}
