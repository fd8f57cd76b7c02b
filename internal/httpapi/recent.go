package httpapi

import (
	"sync"

	"github.com/pvzzle/mempoolwatch/internal/mempool"
)

// Recent keeps the last delivered transactions for the dashboard.
type Recent struct {
	mu   sync.RWMutex
	buf  []mempool.PendingTransaction
	next int
	size int
}

func NewRecent(limit int) *Recent {
	if limit <= 0 {
		limit = 50
	}
	return &Recent{buf: make([]mempool.PendingTransaction, limit)}
}

func (r *Recent) Push(tx mempool.PendingTransaction) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.buf[r.next] = tx
	r.next = (r.next + 1) % len(r.buf)
	if r.size < len(r.buf) {
		r.size++
	}
}

// Latest returns up to n transactions, newest first.
func (r *Recent) Latest(n int) []mempool.PendingTransaction {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if n <= 0 || n > r.size {
		n = r.size
	}
	out := make([]mempool.PendingTransaction, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, r.buf[(r.next-i+len(r.buf))%len(r.buf)])
	}
	return out
}

func (r *Recent) Limit() int { return len(r.buf) }
