// Package dedup keeps a bounded record of recently seen transaction hashes.
package dedup

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

const DefaultCapacity = 1000

// Window is a FIFO of hashes backed by a set for membership checks. It may
// grow past its capacity during a poll cycle; Trim brings it back by dropping
// the oldest half in one batch.
type Window struct {
	mu       sync.Mutex
	capacity int
	set      map[common.Hash]struct{}

	// ring buffer, head is the oldest entry
	ring []common.Hash
	head int
	size int
}

func New(capacity int) *Window {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Window{
		capacity: capacity,
		set:      make(map[common.Hash]struct{}, capacity),
		ring:     make([]common.Hash, capacity),
	}
}

func (w *Window) Contains(h common.Hash) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.set[h]
	return ok
}

// Add records h and reports whether it was new.
func (w *Window) Add(h common.Hash) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.set[h]; ok {
		return false
	}
	if w.size == len(w.ring) {
		w.grow()
	}
	w.ring[(w.head+w.size)%len(w.ring)] = h
	w.size++
	w.set[h] = struct{}{}
	return true
}

// Trim evicts the oldest half of the entries if the window exceeds its
// capacity and returns how many were evicted.
func (w *Window) Trim() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.size <= w.capacity {
		return 0
	}
	n := w.size / 2
	for i := 0; i < n; i++ {
		idx := (w.head + i) % len(w.ring)
		delete(w.set, w.ring[idx])
		w.ring[idx] = common.Hash{}
	}
	w.head = (w.head + n) % len(w.ring)
	w.size -= n
	return n
}

func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.size
}

func (w *Window) Capacity() int { return w.capacity }

func (w *Window) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()

	clear(w.set)
	if len(w.ring) > w.capacity {
		w.ring = make([]common.Hash, w.capacity)
	} else {
		clear(w.ring)
	}
	w.head = 0
	w.size = 0
}

func (w *Window) grow() {
	next := make([]common.Hash, 2*len(w.ring))
	for i := 0; i < w.size; i++ {
		next[i] = w.ring[(w.head+i)%len(w.ring)]
	}
	w.ring = next
	w.head = 0
}
