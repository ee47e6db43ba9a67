// Package registry is the append-only log of accepted reports.
package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"anonreport/internal/apperr"
	"anonreport/internal/content"
	"anonreport/internal/zk"
)

// Entry is an accepted report. Entries are never modified; a correction is a
// new entry whose Supersedes names the earlier id.
type Entry struct {
	ID             uint64      `cbor:"id" json:"id"`
	ContentRef     content.Ref `cbor:"content_ref" json:"content_ref"`
	Tags           []string    `cbor:"tags,omitempty" json:"tags,omitempty"`
	SubmittedAt    time.Time   `cbor:"submitted_at" json:"submitted_at"`
	Nullifier      zk.Hash     `cbor:"nullifier" json:"nullifier"`
	MembershipRoot zk.Hash     `cbor:"membership_root" json:"membership_root"`
	ActionContext  zk.Hash     `cbor:"action_context" json:"action_context"`
	Signal         zk.Hash     `cbor:"signal" json:"signal"`
	Verified       bool        `cbor:"verified" json:"verified"`
	Supersedes     *uint64     `cbor:"supersedes,omitempty" json:"supersedes,omitempty"`
	// ProofDigest identifies the exact proof bytes, for idempotent retries.
	ProofDigest [32]byte `cbor:"proof_digest" json:"-"`
}

// DuplicateError is returned by Backend.Commit when the nullifier was already
// consumed. Existing is the entry that consumed it.
type DuplicateError struct {
	Existing Entry
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("nullifier already consumed by report %d", e.Existing.ID)
}

func (e *DuplicateError) Is(target error) bool {
	return target == apperr.ErrDuplicateSubmission
}

// Backend stores entries and the nullifier ledger together.
type Backend interface {
	// Commit atomically consumes e.Nullifier and appends e under the next id.
	// Both writes happen or neither does. SubmittedAt is raised to the
	// previous entry's if needed, so timestamps never decrease with id.
	Commit(ctx context.Context, e Entry) (Entry, error)
	Get(ctx context.Context, id uint64) (Entry, error)
	List(ctx context.Context, offset, limit int) ([]Entry, error)
	Count(ctx context.Context) (int, error)
	ByNullifier(ctx context.Context, n zk.Hash) (Entry, error)
	CountSince(ctx context.Context, t time.Time) (int, error)
}

// Registry is the report log service.
type Registry struct {
	backend Backend
	now     func() time.Time
}

func New(b Backend) *Registry {
	return &Registry{backend: b, now: time.Now}
}

// WithClock is for tests.
func (r *Registry) WithClock(now func() time.Time) *Registry {
	r.now = now
	return r
}

// Append records a verified submission and returns the stored entry.
func (r *Registry) Append(ctx context.Context, e Entry) (Entry, error) {
	if e.Nullifier.IsZero() {
		return Entry{}, apperr.BadRequest("missing nullifier")
	}
	e.ID = 0
	e.SubmittedAt = r.now().UTC()
	e.Verified = true
	return r.backend.Commit(ctx, e)
}

func (r *Registry) Get(ctx context.Context, id uint64) (Entry, error) {
	return r.backend.Get(ctx, id)
}

// List returns up to limit entries starting at offset, ordered by id.
func (r *Registry) List(ctx context.Context, offset, limit int) ([]Entry, error) {
	if offset < 0 || limit < 0 {
		return nil, apperr.BadRequest("offset and limit must be non-negative")
	}
	if limit == 0 {
		return []Entry{}, nil
	}
	return r.backend.List(ctx, offset, limit)
}

func (r *Registry) Count(ctx context.Context) (int, error) {
	return r.backend.Count(ctx)
}

// ByNullifier finds the entry that consumed n, or apperr.ErrNotFound.
func (r *Registry) ByNullifier(ctx context.Context, n zk.Hash) (Entry, error) {
	return r.backend.ByNullifier(ctx, n)
}

// Stats summarizes the registry.
type Stats struct {
	Total       int        `json:"total"`
	Today       int        `json:"today"`
	LastUpdated *time.Time `json:"last_updated"`
}

// Stats counts all entries and those submitted since midnight UTC.
func (r *Registry) Stats(ctx context.Context) (Stats, error) {
	total, err := r.backend.Count(ctx)
	if err != nil {
		return Stats{}, err
	}
	now := r.now().UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	today, err := r.backend.CountSince(ctx, midnight)
	if err != nil {
		return Stats{}, err
	}
	st := Stats{Total: total, Today: today}
	if total > 0 {
		last, err := r.backend.Get(ctx, uint64(total-1))
		if err != nil {
			return Stats{}, err
		}
		t := last.SubmittedAt
		st.LastUpdated = &t
	}
	return st, nil
}

// AsDuplicate extracts the existing entry from a duplicate-submission error.
func AsDuplicate(err error) (Entry, bool) {
	var dup *DuplicateError
	if errors.As(err, &dup) {
		return dup.Existing, true
	}
	return Entry{}, false
}
