// Package membership keeps the enrolled commitments, their Merkle tree and the
// history of tree roots that proofs may be generated against.
package membership

import (
	"context"
	"fmt"
	"sync"
	"time"

	"anonreport/internal/apperr"
	"anonreport/internal/zk"
)

// Member is one enrolled commitment. Epochs refer to Digest.Epoch.
type Member struct {
	Commitment    zk.Hash   `cbor:"commitment" json:"commitment"`
	Index         uint64    `cbor:"index" json:"index"`
	EnrolledEpoch uint64    `cbor:"enrolled_epoch" json:"enrolled_epoch"`
	EnrolledAt    time.Time `cbor:"enrolled_at" json:"enrolled_at"`
	Revoked       bool      `cbor:"revoked" json:"revoked"`
	RevokedEpoch  uint64    `cbor:"revoked_epoch,omitempty" json:"revoked_epoch,omitempty"`
	RevokedAt     time.Time `cbor:"revoked_at,omitempty" json:"revoked_at,omitempty"`
	Leaked        bool      `cbor:"leaked,omitempty" json:"leaked,omitempty"`
}

// Digest is the tree root after one enroll or revoke.
type Digest struct {
	Epoch     uint64    `cbor:"epoch" json:"epoch"`
	Root      zk.Hash   `cbor:"root" json:"root"`
	CreatedAt time.Time `cbor:"created_at" json:"created_at"`
}

// Window bounds how long a superseded digest stays acceptable: it must be one
// of the last Digests superseded digests and superseded less than MaxAge ago.
type Window struct {
	Digests int
	MaxAge  time.Duration
}

// Persister durably records a member change before the set applies it.
// d is nil when the change does not move the root.
type Persister interface {
	SaveMember(ctx context.Context, m Member, d *Digest) error
}

type nopPersister struct{}

func (nopPersister) SaveMember(context.Context, Member, *Digest) error { return nil }

// Option configures a Set.
type Option func(*Set)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Set) { s.now = now }
}

// WithPersister makes every enroll and revoke durable before it is applied.
func WithPersister(p Persister) Option {
	return func(s *Set) { s.persist = p }
}

// Set is the membership service. Enroll and revoke are serialized by admin and
// persist without holding mu, so readers only wait for the in-memory apply.
type Set struct {
	admin        sync.Mutex
	mu           sync.RWMutex
	tree         *Tree
	members      []Member
	byCommitment map[zk.Hash]int
	digests      []Digest
	latestByRoot map[zk.Hash]int
	// Digests with Epoch below leakFloor predate a leaked revocation.
	leakFloor uint64

	window  Window
	now     func() time.Time
	persist Persister
}

func NewSet(w Window, opts ...Option) *Set {
	s := &Set{
		tree:         NewTree(),
		byCommitment: make(map[zk.Hash]int),
		latestByRoot: make(map[zk.Hash]int),
		window:       w,
		now:          time.Now,
		persist:      nopPersister{},
	}
	for _, o := range opts {
		o(s)
	}
	s.appendDigest(Digest{Epoch: 0, Root: s.tree.Root(), CreatedAt: s.now().UTC()})
	return s
}

func (s *Set) appendDigest(d Digest) {
	s.digests = append(s.digests, d)
	s.latestByRoot[d.Root] = len(s.digests) - 1
}

// Restore replaces the set's state with persisted members and digests. The
// rebuilt tree must reproduce the last persisted root.
func (s *Set) Restore(members []Member, digests []Digest) error {
	s.admin.Lock()
	defer s.admin.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	tree := NewTree()
	byCommitment := make(map[zk.Hash]int, len(members))
	var leakFloor uint64
	for i, m := range members {
		if m.Index != uint64(i) {
			return fmt.Errorf("%w: member %d stored at slot %d", apperr.ErrLedgerCorruption, i, m.Index)
		}
		if _, dup := byCommitment[m.Commitment]; dup {
			return fmt.Errorf("%w: commitment %s enrolled twice", apperr.ErrLedgerCorruption, m.Commitment)
		}
		byCommitment[m.Commitment] = i
		if !m.Revoked {
			if err := tree.Update(m.Index, m.Commitment); err != nil {
				return fmt.Errorf("%w: %v", apperr.ErrLedgerCorruption, err)
			}
		}
		if m.Leaked && m.RevokedEpoch > leakFloor {
			leakFloor = m.RevokedEpoch
		}
	}

	genesis := s.digests[0]
	if len(digests) > 0 {
		genesis.CreatedAt = time.Time{}
	}
	s.tree = tree
	s.members = append([]Member(nil), members...)
	s.byCommitment = byCommitment
	s.leakFloor = leakFloor
	s.digests = nil
	s.latestByRoot = make(map[zk.Hash]int)
	if len(digests) == 0 || digests[0].Epoch != 0 {
		s.appendDigest(genesis)
	}
	for _, d := range digests {
		if n := len(s.digests); n > 0 && d.Epoch != s.digests[n-1].Epoch+1 {
			return fmt.Errorf("%w: digest epoch %d follows %d", apperr.ErrLedgerCorruption, d.Epoch, s.digests[n-1].Epoch)
		}
		s.appendDigest(d)
	}
	if cur := s.digests[len(s.digests)-1]; cur.Root != tree.Root() {
		return fmt.Errorf("%w: rebuilt root %s does not match stored root %s", apperr.ErrLedgerCorruption, tree.Root(), cur.Root)
	}
	return nil
}

// Enroll adds commitment c at the next free slot. Revoked commitments stay
// barred so that revocation cannot be undone by re-enrolling.
func (s *Set) Enroll(ctx context.Context, c zk.Hash) (Digest, error) {
	if c.IsZero() || !c.Canonical() {
		return Digest{}, apperr.BadRequest("commitment must be a non-zero field element")
	}
	s.admin.Lock()
	defer s.admin.Unlock()

	s.mu.RLock()
	_, dup := s.byCommitment[c]
	index := uint64(len(s.members))
	epoch := s.current().Epoch + 1
	var root zk.Hash
	if !dup && index < Capacity {
		root = s.tree.RootWith(index, c)
	}
	s.mu.RUnlock()

	if dup {
		return Digest{}, apperr.ErrDuplicateCommitment
	}
	if index >= Capacity {
		return Digest{}, apperr.ErrSetFull
	}
	now := s.now().UTC()
	d := Digest{Epoch: epoch, Root: root, CreatedAt: now}
	m := Member{Commitment: c, Index: index, EnrolledEpoch: d.Epoch, EnrolledAt: now}
	if err := s.persist.SaveMember(ctx, m, &d); err != nil {
		return Digest{}, fmt.Errorf("persist enrollment: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.tree.Update(index, c); err != nil {
		return Digest{}, err
	}
	s.members = append(s.members, m)
	s.byCommitment[c] = int(index)
	s.appendDigest(d)
	return d, nil
}

// Revoke zeroes c's slot. Revoking twice is a no-op returning the current
// digest, except that a later leaked revocation upgrades an earlier plain one.
func (s *Set) Revoke(ctx context.Context, c zk.Hash) (Digest, error) {
	return s.revoke(ctx, c, false)
}

// RevokeLeaked revokes c and also invalidates every digest from before the
// revocation, for commitments whose secret is known to be exposed.
func (s *Set) RevokeLeaked(ctx context.Context, c zk.Hash) (Digest, error) {
	return s.revoke(ctx, c, true)
}

func (s *Set) revoke(ctx context.Context, c zk.Hash, leaked bool) (Digest, error) {
	s.admin.Lock()
	defer s.admin.Unlock()

	s.mu.RLock()
	i, ok := s.byCommitment[c]
	var (
		m    Member
		cur  Digest
		root zk.Hash
	)
	if ok {
		m = s.members[i]
		cur = s.current()
		if !m.Revoked {
			root = s.tree.RootWith(m.Index, zk.ZeroHash)
		}
	}
	s.mu.RUnlock()

	if !ok {
		return Digest{}, apperr.ErrUnknownCommitment
	}
	if m.Revoked {
		if !leaked || m.Leaked {
			return cur, nil
		}
		m.Leaked = true
		if err := s.persist.SaveMember(ctx, m, nil); err != nil {
			return Digest{}, fmt.Errorf("persist revocation: %w", err)
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		s.members[i] = m
		s.raiseLeakFloor(m.RevokedEpoch)
		return s.current(), nil
	}

	now := s.now().UTC()
	d := Digest{Epoch: cur.Epoch + 1, Root: root, CreatedAt: now}
	m.Revoked = true
	m.RevokedEpoch = d.Epoch
	m.RevokedAt = now
	m.Leaked = leaked
	if err := s.persist.SaveMember(ctx, m, &d); err != nil {
		return Digest{}, fmt.Errorf("persist revocation: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.tree.Update(m.Index, zk.ZeroHash); err != nil {
		return Digest{}, err
	}
	s.members[i] = m
	s.appendDigest(d)
	if leaked {
		s.raiseLeakFloor(d.Epoch)
	}
	return d, nil
}

func (s *Set) raiseLeakFloor(epoch uint64) {
	if epoch > s.leakFloor {
		s.leakFloor = epoch
	}
}

// IsRevokedByLeak reports whether c was revoked as leaked.
func (s *Set) IsRevokedByLeak(c zk.Hash) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.byCommitment[c]
	return ok && s.members[i].Leaked
}

func (s *Set) current() Digest {
	return s.digests[len(s.digests)-1]
}

// Current returns the latest digest.
func (s *Set) Current() Digest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current()
}

// DigestAt returns the digest in force at t. ok is false before the first digest.
func (s *Set) DigestAt(t time.Time) (Digest, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.digests) - 1; i >= 0; i-- {
		if !s.digests[i].CreatedAt.After(t) {
			return s.digests[i], true
		}
	}
	return Digest{}, false
}

// CheckFresh returns the digest for root if proofs against it are still
// accepted, and ErrStaleMembershipRoot otherwise. Roots the set never had are
// reported as stale.
func (s *Set) CheckFresh(root zk.Hash) (Digest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.latestByRoot[root]
	if !ok {
		return Digest{}, apperr.ErrStaleMembershipRoot
	}
	d := s.digests[i]
	if d.Epoch < s.leakFloor {
		return Digest{}, apperr.ErrStaleMembershipRoot
	}
	last := len(s.digests) - 1
	if i == last {
		return d, nil
	}
	if last-i > s.window.Digests {
		return Digest{}, apperr.ErrStaleMembershipRoot
	}
	supersededAt := s.digests[i+1].CreatedAt
	if s.now().Sub(supersededAt) >= s.window.MaxAge {
		return Digest{}, apperr.ErrStaleMembershipRoot
	}
	return d, nil
}

// IsActive reports whether c was enrolled at or before d and not revoked at or
// before it.
func (s *Set) IsActive(c zk.Hash, d Digest) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.byCommitment[c]
	if !ok {
		return false
	}
	m := s.members[i]
	if m.EnrolledEpoch > d.Epoch {
		return false
	}
	return !m.Revoked || m.RevokedEpoch > d.Epoch
}

// Snapshot is a consistent view of the current tree for clients.
type Snapshot struct {
	Digest Digest
	Leaves []zk.Hash
	// Revoked lists revoked commitments so a member can tell revocation apart
	// from never having been enrolled.
	Revoked []zk.Hash
}

// Snapshot returns the current leaves in slot order. Revoked slots are zero.
func (s *Set) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{Digest: s.current(), Leaves: make([]zk.Hash, len(s.members))}
	for i, m := range s.members {
		if m.Revoked {
			snap.Revoked = append(snap.Revoked, m.Commitment)
			continue
		}
		snap.Leaves[i] = m.Commitment
	}
	return snap
}

// Member looks up c.
func (s *Set) Member(c zk.Hash) (Member, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.byCommitment[c]
	if !ok {
		return Member{}, false
	}
	return s.members[i], true
}

// Path returns the current authentication path for c.
func (s *Set) Path(c zk.Hash) (zk.MerklePath, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.byCommitment[c]
	if !ok {
		return zk.MerklePath{}, apperr.ErrUnknownCommitment
	}
	if s.members[i].Revoked {
		return zk.MerklePath{}, apperr.ErrRevokedIdentity
	}
	return s.tree.Path(s.members[i].Index)
}
