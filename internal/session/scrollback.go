package session

import "sync"

// DefaultScrollbackSize bounds the per-session replay buffer.
const DefaultScrollbackSize = 256 * 1024

// Scrollback is a thread-safe circular byte buffer of recent PTY output,
// replayed to endpoints that attach mid-session.
type Scrollback struct {
	mu   sync.RWMutex
	data []byte
	head int
	tail int
	full bool
}

// NewScrollback creates a scrollback buffer with the given capacity.
func NewScrollback(size int) *Scrollback {
	if size <= 0 {
		size = DefaultScrollbackSize
	}
	return &Scrollback{data: make([]byte, size)}
}

// Write appends output, evicting the oldest bytes once full.
func (b *Scrollback) Write(p []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, c := range p {
		b.data[b.tail] = c
		b.tail = (b.tail + 1) % len(b.data)
		if b.full {
			b.head = b.tail
		} else if b.tail == b.head {
			b.full = true
		}
	}
}

// Bytes returns the buffered output in arrival order without clearing it.
func (b *Scrollback) Bytes() []byte {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.full {
		out := make([]byte, b.tail-b.head)
		copy(out, b.data[b.head:b.tail])
		return out
	}

	first := b.data[b.head:]
	second := b.data[:b.tail]
	out := make([]byte, len(first)+len(second))
	copy(out, first)
	copy(out[len(first):], second)
	return out
}
