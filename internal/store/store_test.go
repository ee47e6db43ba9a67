package store

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"anonreport/internal/apperr"
	"anonreport/internal/content"
	"anonreport/internal/membership"
	"anonreport/internal/registry"
	"anonreport/internal/zk"
)

func randomHash(t *testing.T) zk.Hash {
	t.Helper()
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		t.Fatal(err)
	}
	return zk.SecretFromBytes(b)
}

func testEntry(t *testing.T, n zk.Hash) registry.Entry {
	return registry.Entry{
		ContentRef:     content.RefOf([]byte(n.String())),
		SubmittedAt:    time.Now().UTC().Truncate(time.Microsecond),
		Nullifier:      n,
		MembershipRoot: randomHash(t),
		ActionContext:  randomHash(t),
		Signal:         randomHash(t),
		Verified:       true,
		ProofDigest:    [32]byte{1, 2, 3},
	}
}

// runBackendTests exercises behavior every Store must share.
func runBackendTests(t *testing.T, s Store) {
	ctx := context.Background()

	t.Run("commit and get", func(t *testing.T) {
		start, _ := s.Count(ctx)
		e := testEntry(t, randomHash(t))
		e.Tags = []string{"spam"}
		got, err := s.Commit(ctx, e)
		if err != nil {
			t.Fatalf("Commit: %v", err)
		}
		if got.ID != uint64(start) {
			t.Fatalf("id = %d, want %d", got.ID, start)
		}
		back, err := s.Get(ctx, got.ID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if back.ContentRef != e.ContentRef || back.Nullifier != e.Nullifier ||
			back.MembershipRoot != e.MembershipRoot || !back.Verified ||
			back.ProofDigest != e.ProofDigest || len(back.Tags) != 1 {
			t.Fatalf("round trip mismatch: %+v", back)
		}
		byN, err := s.ByNullifier(ctx, e.Nullifier)
		if err != nil || byN.ID != got.ID {
			t.Fatalf("ByNullifier = %+v, %v", byN, err)
		}
	})

	t.Run("duplicate nullifier", func(t *testing.T) {
		n := randomHash(t)
		first, err := s.Commit(ctx, testEntry(t, n))
		if err != nil {
			t.Fatal(err)
		}
		before, _ := s.Count(ctx)
		_, err = s.Commit(ctx, testEntry(t, n))
		if !errors.Is(err, apperr.ErrDuplicateSubmission) {
			t.Fatalf("err = %v, want duplicate", err)
		}
		existing, ok := registry.AsDuplicate(err)
		if !ok || existing.ID != first.ID {
			t.Fatalf("duplicate did not carry the existing entry: %+v", existing)
		}
		after, _ := s.Count(ctx)
		if after != before {
			t.Fatal("duplicate changed the registry")
		}
	})

	t.Run("timestamps follow id order", func(t *testing.T) {
		first, err := s.Commit(ctx, testEntry(t, randomHash(t)))
		if err != nil {
			t.Fatal(err)
		}
		late := testEntry(t, randomHash(t))
		late.SubmittedAt = first.SubmittedAt.Add(-time.Hour)
		second, err := s.Commit(ctx, late)
		if err != nil {
			t.Fatal(err)
		}
		if second.SubmittedAt.Before(first.SubmittedAt) {
			t.Fatalf("report %d stamped %v, before report %d at %v", second.ID, second.SubmittedAt, first.ID, first.SubmittedAt)
		}
		back, err := s.Get(ctx, second.ID)
		if err != nil || back.SubmittedAt.Before(first.SubmittedAt) {
			t.Fatalf("stored stamp %v, %v", back.SubmittedAt, err)
		}
		n, err := s.CountSince(ctx, first.SubmittedAt)
		if err != nil || n < 2 {
			t.Fatalf("CountSince = %d, %v", n, err)
		}
	})

	t.Run("concurrent commits are gap free", func(t *testing.T) {
		start, _ := s.Count(ctx)
		const n = 32
		var wg sync.WaitGroup
		ids := make([]uint64, n)
		errs := make([]error, n)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				e, err := s.Commit(ctx, testEntry(t, randomHash(t)))
				ids[i], errs[i] = e.ID, err
			}(i)
		}
		wg.Wait()
		seen := make(map[uint64]bool)
		for i := range ids {
			if errs[i] != nil {
				t.Fatalf("commit %d: %v", i, errs[i])
			}
			seen[ids[i]] = true
		}
		for id := uint64(start); id < uint64(start+n); id++ {
			if !seen[id] {
				t.Fatalf("id %d missing", id)
			}
		}
		count, _ := s.Count(ctx)
		if count != start+n {
			t.Fatalf("count = %d, want %d", count, start+n)
		}
		list, err := s.List(ctx, start, n)
		if err != nil {
			t.Fatal(err)
		}
		for i, e := range list {
			if e.ID != uint64(start+i) {
				t.Fatalf("list out of order at %d: %d", i, e.ID)
			}
		}
	})

	t.Run("not found", func(t *testing.T) {
		if _, err := s.Get(ctx, 1<<40); !errors.Is(err, apperr.ErrNotFound) {
			t.Fatalf("Get err = %v", err)
		}
		if _, err := s.ByNullifier(ctx, randomHash(t)); !errors.Is(err, apperr.ErrNotFound) {
			t.Fatalf("ByNullifier err = %v", err)
		}
		list, err := s.List(ctx, 1<<30, 10)
		if err != nil || len(list) != 0 {
			t.Fatalf("List past end = %v, %v", list, err)
		}
	})

	t.Run("count since", func(t *testing.T) {
		total, _ := s.Count(ctx)
		all, err := s.CountSince(ctx, time.Time{})
		if err != nil || all != total {
			t.Fatalf("CountSince(zero) = %d, %v; want %d", all, err, total)
		}
		future, _ := s.CountSince(ctx, time.Now().Add(time.Hour))
		if future != 0 {
			t.Fatalf("CountSince(future) = %d", future)
		}
	})
}

func TestMemoryBackend(t *testing.T) {
	runBackendTests(t, NewMemory())
}

func TestPostgresBackend(t *testing.T) {
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	s, err := NewPostgres(ctx, dsn)
	if err != nil {
		t.Fatalf("NewPostgres: %v", err)
	}
	defer s.Close()
	if _, err := s.db.ExecContext(ctx, `TRUNCATE nullifiers, reports, digests, members`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	runBackendTests(t, s)
	runMembershipTests(t, s)
}

func runMembershipTests(t *testing.T, s Store) {
	ctx := context.Background()
	set := membership.NewSet(membership.Window{Digests: 4, MaxAge: time.Minute}, membership.WithPersister(s))
	a, b := randomHash(t), randomHash(t)
	if _, err := set.Enroll(ctx, a); err != nil {
		t.Fatal(err)
	}
	if _, err := set.Enroll(ctx, b); err != nil {
		t.Fatal(err)
	}
	if _, err := set.RevokeLeaked(ctx, a); err != nil {
		t.Fatal(err)
	}

	members, digests, err := s.LoadMembership(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(members) != 2 || len(digests) != 3 {
		t.Fatalf("loaded %d members, %d digests", len(members), len(digests))
	}
	restored := membership.NewSet(membership.Window{Digests: 4, MaxAge: time.Minute})
	if err := restored.Restore(members, digests); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if restored.Current().Root != set.Current().Root || !restored.IsRevokedByLeak(a) {
		t.Fatal("restored membership differs")
	}
}

func TestMemorySnapshotReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state", "state.cbor")
	s, err := OpenMemory(path)
	if err != nil {
		t.Fatal(err)
	}
	runMembershipTests(t, s)

	var nullifiers []zk.Hash
	for i := 0; i < 3; i++ {
		n := randomHash(t)
		nullifiers = append(nullifiers, n)
		if _, err := s.Commit(ctx, testEntry(t, n)); err != nil {
			t.Fatal(err)
		}
	}
	wantMembers, wantDigests, _ := s.LoadMembership(ctx)

	reopened, err := OpenMemory(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if n, _ := reopened.Count(ctx); n != 3 {
		t.Fatalf("count after reopen = %d", n)
	}
	for i, n := range nullifiers {
		e, err := reopened.ByNullifier(ctx, n)
		if err != nil || e.ID != uint64(i) {
			t.Fatalf("ledger not rebuilt for %d: %+v, %v", i, e, err)
		}
	}
	if _, err := reopened.Commit(ctx, testEntry(t, nullifiers[0])); !errors.Is(err, apperr.ErrDuplicateSubmission) {
		t.Fatalf("replay after reopen err = %v", err)
	}
	members, digests, _ := reopened.LoadMembership(ctx)
	if fmt.Sprint(members) != fmt.Sprint(wantMembers) || fmt.Sprint(digests) != fmt.Sprint(wantDigests) {
		t.Fatal("membership differs after reopen")
	}
}

func TestMemorySnapshotWriteFailure(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	// A directory where the snapshot file should be makes every write fail.
	path := filepath.Join(dir, "state.cbor")
	s, err := OpenMemory(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(path+".tmp", 0o755); err != nil {
		t.Fatal(err)
	}
	n := randomHash(t)
	if _, err := s.Commit(ctx, testEntry(t, n)); err == nil {
		t.Fatal("expected write failure")
	}
	if c, _ := s.Count(ctx); c != 0 {
		t.Fatal("failed commit was applied")
	}
	if _, err := s.ByNullifier(ctx, n); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatal("failed commit consumed the nullifier")
	}
}

func TestMemoryRejectsCorruptSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.cbor")
	if err := os.WriteFile(path, []byte("not cbor"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := OpenMemory(path); !errors.Is(err, apperr.ErrLedgerCorruption) {
		t.Fatalf("err = %v", err)
	}
}
