// Package nullifier records consumed nullifiers. Entries are never removed.
package nullifier

import (
	"sync"

	"anonreport/internal/zk"
)

// Ledger maps each consumed nullifier to the report id it was consumed for.
type Ledger struct {
	mu       sync.Mutex
	consumed map[zk.Hash]uint64
}

func NewLedger() *Ledger {
	return &Ledger{consumed: make(map[zk.Hash]uint64)}
}

// TryConsume inserts n if absent and reports whether it was newly inserted.
func (l *Ledger) TryConsume(n zk.Hash, reportID uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.consumed[n]; ok {
		return false
	}
	l.consumed[n] = reportID
	return true
}

func (l *Ledger) Contains(n zk.Hash) bool {
	_, ok := l.Lookup(n)
	return ok
}

// Lookup returns the report id n was consumed for.
func (l *Ledger) Lookup(n zk.Hash) (uint64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	id, ok := l.consumed[n]
	return id, ok
}

func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.consumed)
}
