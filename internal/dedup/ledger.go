// Package dedup tracks which message identifiers are already represented locally
package dedup

import (
	"chatsync/internal/models"
	"sync"
	"time"
)

// NearDuplicateWindow is the largest timestamp distance at which two messages with the same content and author
// are considered the same message
const NearDuplicateWindow = time.Second

// Ledger is a set of admitted message identifiers, safe for concurrent use
type Ledger struct {
	mu  sync.Mutex
	ids map[string]struct{}
}

func NewLedger() *Ledger {
	return &Ledger{ids: make(map[string]struct{})}
}

func (l *Ledger) Has(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	_, ok := l.ids[id]
	return ok
}

// Add registers id and reports whether it was absent
func (l *Ledger) Add(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.ids[id]; ok {
		return false
	}
	l.ids[id] = struct{}{}
	return true
}

// Replace swaps a temporary identifier for the server-assigned one
func (l *Ledger) Replace(old, current string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.ids, old)
	l.ids[current] = struct{}{}
}

// Reset forgets every identifier
func (l *Ledger) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.ids = make(map[string]struct{})
}

func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.ids)
}

// IsNearDuplicate reports whether a and b are distinct records of the same message:
// same content and author, created less than NearDuplicateWindow apart
func IsNearDuplicate(a, b models.Message) bool {
	if a.ID == b.ID || a.AuthorID != b.AuthorID || a.Content != b.Content {
		return false
	}
	d := a.CreatedAt.Sub(b.CreatedAt)
	if d < 0 {
		d = -d
	}
	return d < NearDuplicateWindow
}
