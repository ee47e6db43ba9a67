package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"anonreport/internal/apperr"
	"anonreport/internal/membership"
	"anonreport/internal/nullifier"
	"anonreport/internal/registry"
	"anonreport/internal/zk"

	"github.com/fxamacker/cbor/v2"
)

const snapshotVersion = 1

type snapshot struct {
	Version int                 `cbor:"version"`
	Members []membership.Member `cbor:"members"`
	Digests []membership.Digest `cbor:"digests"`
	Entries []registry.Entry    `cbor:"entries"`
}

var snapshotEnc = func() cbor.EncMode {
	em, err := cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// Memory keeps all state in process behind one mutex. With a path, every
// change is written to a CBOR snapshot before it is applied, so a crash can
// lose an in-flight request but never split a ledger insert from its entry.
type Memory struct {
	mu      sync.Mutex
	path    string
	members []membership.Member
	digests []membership.Digest
	entries []registry.Entry
	ledger  *nullifier.Ledger
}

// NewMemory returns a store without a snapshot file.
func NewMemory() *Memory {
	return &Memory{ledger: nullifier.NewLedger()}
}

// OpenMemory loads path if it exists. An empty path disables snapshots.
func OpenMemory(path string) (*Memory, error) {
	m := NewMemory()
	m.path = path
	if path == "" {
		return m, nil
	}
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	var snap snapshot
	if err := cbor.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("%w: decode snapshot: %v", apperr.ErrLedgerCorruption, err)
	}
	if snap.Version != snapshotVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", snap.Version)
	}
	// The ledger is derived from the entries, never stored on its own.
	for i, e := range snap.Entries {
		if e.ID != uint64(i) {
			return nil, fmt.Errorf("%w: entry %d has id %d", apperr.ErrLedgerCorruption, i, e.ID)
		}
		if !m.ledger.TryConsume(e.Nullifier, e.ID) {
			return nil, fmt.Errorf("%w: nullifier %s appears twice", apperr.ErrLedgerCorruption, e.Nullifier)
		}
	}
	m.members = snap.Members
	m.digests = snap.Digests
	m.entries = snap.Entries
	return m, nil
}

func (m *Memory) save(members []membership.Member, digests []membership.Digest, entries []registry.Entry) error {
	if m.path == "" {
		return nil
	}
	b, err := snapshotEnc.Marshal(snapshot{
		Version: snapshotVersion,
		Members: members,
		Digests: digests,
		Entries: entries,
	})
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return err
	}
	tmp := m.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(b); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, m.path)
}

func (m *Memory) SaveMember(_ context.Context, mem membership.Member, d *membership.Digest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	members := append([]membership.Member(nil), m.members...)
	switch {
	case mem.Index < uint64(len(members)):
		members[mem.Index] = mem
	case mem.Index == uint64(len(members)):
		members = append(members, mem)
	default:
		return fmt.Errorf("%w: member slot %d skips %d", apperr.ErrSequenceConflict, mem.Index, len(members))
	}
	digests := m.digests
	if d != nil {
		digests = append(append([]membership.Digest(nil), m.digests...), *d)
	}
	if err := m.save(members, digests, m.entries); err != nil {
		return err
	}
	m.members = members
	m.digests = digests
	return nil
}

func (m *Memory) LoadMembership(context.Context) ([]membership.Member, []membership.Digest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]membership.Member(nil), m.members...), append([]membership.Digest(nil), m.digests...), nil
}

func (m *Memory) Commit(_ context.Context, e registry.Entry) (registry.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.ledger.Lookup(e.Nullifier); ok {
		return registry.Entry{}, &registry.DuplicateError{Existing: m.entries[id]}
	}
	e.ID = uint64(len(m.entries))
	if n := len(m.entries); n > 0 && e.SubmittedAt.Before(m.entries[n-1].SubmittedAt) {
		e.SubmittedAt = m.entries[n-1].SubmittedAt
	}
	next := append(m.entries, e)
	if err := m.save(m.members, m.digests, next); err != nil {
		return registry.Entry{}, fmt.Errorf("persist report: %w", err)
	}
	if !m.ledger.TryConsume(e.Nullifier, e.ID) {
		return registry.Entry{}, fmt.Errorf("%w: nullifier consumed during commit", apperr.ErrLedgerCorruption)
	}
	m.entries = next
	return e, nil
}

func (m *Memory) Get(_ context.Context, id uint64) (registry.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id >= uint64(len(m.entries)) {
		return registry.Entry{}, fmt.Errorf("%w: report %d", apperr.ErrNotFound, id)
	}
	return m.entries[id], nil
}

func (m *Memory) List(_ context.Context, offset, limit int) ([]registry.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if offset >= len(m.entries) {
		return []registry.Entry{}, nil
	}
	end := offset + limit
	if end > len(m.entries) {
		end = len(m.entries)
	}
	return append([]registry.Entry(nil), m.entries[offset:end]...), nil
}

func (m *Memory) Count(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries), nil
}

func (m *Memory) ByNullifier(_ context.Context, n zk.Hash) (registry.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.ledger.Lookup(n)
	if !ok {
		return registry.Entry{}, fmt.Errorf("%w: nullifier", apperr.ErrNotFound)
	}
	return m.entries[id], nil
}

func (m *Memory) CountSince(_ context.Context, t time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	// Commit keeps SubmittedAt non-decreasing by id, so scan from the end.
	n := 0
	for i := len(m.entries) - 1; i >= 0; i-- {
		if m.entries[i].SubmittedAt.Before(t) {
			break
		}
		n++
	}
	return n, nil
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() error { return nil }
