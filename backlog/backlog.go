// Package backlog holds the bounded recent-history buffer that is replayed
// to newly attached display clients. It is a fixed-capacity ring: appends
// evict the oldest entry once full, and snapshots observe a consistent,
// fully-applied sequence.
package backlog

import (
	"sync"

	"github.com/onnwee/chatmux/backend/message"
)

// Entry wraps a message with its insertion sequence number. Sequence numbers
// are assigned in receipt order and are strictly increasing.
type Entry struct {
	Seq uint64
	Msg message.NormalizedMessage
}

// Buffer is a fixed-capacity ordered history of the most recent messages.
// Safe for concurrent use.
type Buffer struct {
	mu      sync.Mutex
	entries []Entry
	head    int // index of oldest entry
	size    int
	nextSeq uint64
}

// New returns a buffer holding at most capacity entries. Capacity below 1 is
// raised to 1; range policy (10-200, default 50) is enforced by config.
func New(capacity int) *Buffer {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer{entries: make([]Entry, capacity)}
}

// Append inserts msg, evicting the oldest entry when full, and returns the
// assigned sequence number.
func (b *Buffer) Append(msg message.NormalizedMessage) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	seq := b.nextSeq
	b.nextSeq++
	if b.size == len(b.entries) {
		// overwrite oldest
		b.entries[b.head] = Entry{Seq: seq, Msg: msg}
		b.head = (b.head + 1) % len(b.entries)
		return seq
	}
	b.entries[(b.head+b.size)%len(b.entries)] = Entry{Seq: seq, Msg: msg}
	b.size++
	return seq
}

// Snapshot returns a copy of the current contents in insertion order. The
// copy never observes a partially applied append.
func (b *Buffer) Snapshot() []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Entry, b.size)
	for i := 0; i < b.size; i++ {
		out[i] = b.entries[(b.head+i)%len(b.entries)]
	}
	return out
}

// Len returns the current number of entries.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Cap returns the fixed capacity.
func (b *Buffer) Cap() int { return len(b.entries) }
