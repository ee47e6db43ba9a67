package registry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"anonreport/internal/apperr"
	"anonreport/internal/content"
	"anonreport/internal/registry"
	"anonreport/internal/store"
	"anonreport/internal/zk"
)

func TestAppendRoundTrip(t *testing.T) {
	ctx := context.Background()
	r := registry.New(store.NewMemory())
	ref := content.RefOf([]byte("report body"))
	n := zk.SecretFromBytes([]byte("nullifier"))
	root := zk.SecretFromBytes([]byte("root"))

	e, err := r.Append(ctx, registry.Entry{ContentRef: ref, Nullifier: n, MembershipRoot: root})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	got, err := r.Get(ctx, e.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ContentRef != ref || got.Nullifier != n || got.MembershipRoot != root || !got.Verified {
		t.Fatalf("unexpected entry %+v", got)
	}
	if got.SubmittedAt.IsZero() {
		t.Fatal("SubmittedAt not set")
	}

	if _, err := r.Append(ctx, registry.Entry{ContentRef: ref}); !errors.Is(err, apperr.ErrBadRequest) {
		t.Fatalf("missing nullifier err = %v", err)
	}
	if _, err := r.Append(ctx, registry.Entry{ContentRef: ref, Nullifier: n}); !errors.Is(err, apperr.ErrDuplicateSubmission) {
		t.Fatalf("duplicate err = %v", err)
	}
}

func TestListBounds(t *testing.T) {
	ctx := context.Background()
	r := registry.New(store.NewMemory())
	for i := 0; i < 5; i++ {
		n := zk.SecretFromBytes([]byte{byte(i + 1)})
		if _, err := r.Append(ctx, registry.Entry{Nullifier: n}); err != nil {
			t.Fatal(err)
		}
	}
	page, err := r.List(ctx, 1, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 2 || page[0].ID != 1 || page[1].ID != 2 {
		t.Fatalf("unexpected page %+v", page)
	}
	if _, err := r.List(ctx, -1, 2); !errors.Is(err, apperr.ErrBadRequest) {
		t.Fatalf("negative offset err = %v", err)
	}
	empty, err := r.List(ctx, 0, 0)
	if err != nil || len(empty) != 0 {
		t.Fatalf("zero limit = %v, %v", empty, err)
	}
	count, _ := r.Count(ctx)
	if count != 5 {
		t.Fatalf("count = %d", count)
	}
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 23, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	r := registry.New(store.NewMemory()).WithClock(clock)

	st, err := r.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Total != 0 || st.Today != 0 || st.LastUpdated != nil {
		t.Fatalf("empty stats = %+v", st)
	}

	_, _ = r.Append(ctx, registry.Entry{Nullifier: zk.SecretFromBytes([]byte("a"))})
	now = now.Add(2 * time.Hour) // next day
	_, _ = r.Append(ctx, registry.Entry{Nullifier: zk.SecretFromBytes([]byte("b"))})
	_, _ = r.Append(ctx, registry.Entry{Nullifier: zk.SecretFromBytes([]byte("c"))})

	st, err = r.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Total != 3 || st.Today != 2 {
		t.Fatalf("stats = %+v", st)
	}
	if st.LastUpdated == nil || !st.LastUpdated.Equal(now) {
		t.Fatalf("last updated = %v", st.LastUpdated)
	}

	// A submission stamped before midnight that commits after a later one
	// must not hide today's reports from the count.
	latest := now
	now = now.Add(-90 * time.Minute)
	late, err := r.Append(ctx, registry.Entry{Nullifier: zk.SecretFromBytes([]byte("d"))})
	if err != nil {
		t.Fatal(err)
	}
	if late.SubmittedAt.Before(latest) {
		t.Fatalf("report %d stamped %v, before %v", late.ID, late.SubmittedAt, latest)
	}
	now = latest
	st, err = r.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if st.Total != 4 || st.Today != 3 || !st.LastUpdated.Equal(latest) {
		t.Fatalf("stats after late stamp = %+v", st)
	}
}
