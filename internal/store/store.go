// Package store persists membership history, the nullifier ledger and the
// report registry together, so that all three stay consistent across restarts.
package store

import (
	"context"

	"anonreport/internal/membership"
	"anonreport/internal/registry"
)

// Store is what the server runs on: a membership persister and a registry
// backend sharing one durability boundary.
type Store interface {
	membership.Persister
	registry.Backend
	// LoadMembership returns persisted members in slot order and digests in
	// epoch order, for membership.Set.Restore.
	LoadMembership(ctx context.Context) ([]membership.Member, []membership.Digest, error)
	Ping(ctx context.Context) error
	Close() error
}

// Open returns a Postgres store when databaseURL is set and the file-backed
// memory store otherwise.
func Open(ctx context.Context, databaseURL, stateFile string) (Store, error) {
	if databaseURL != "" {
		return NewPostgres(ctx, databaseURL)
	}
	return OpenMemory(stateFile)
}

var (
	_ Store = (*Memory)(nil)
	_ Store = (*Postgres)(nil)
)
