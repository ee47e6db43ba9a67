package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"anonreport/internal/apperr"
	"anonreport/internal/client"
	"anonreport/internal/content"
	"anonreport/internal/identity"
	"anonreport/internal/member"
	"anonreport/internal/membership"
	"anonreport/internal/registry"
	"anonreport/internal/store"
	"anonreport/internal/submission"
	"anonreport/internal/testutil"
	"anonreport/internal/zk"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

const adminKey = "test-admin"

func writeKeys(t *testing.T, dir string) {
	t.Helper()
	keys := testutil.Keys(t)
	for name, k := range map[string]io.WriterTo{zk.ProvingKeyFile: keys.PK, zk.VerifyingKeyFile: keys.VK} {
		f, err := os.Create(filepath.Join(dir, name))
		if err != nil {
			t.Fatal(err)
		}
		if _, err := k.WriteTo(f); err != nil {
			t.Fatal(err)
		}
		if err := f.Close(); err != nil {
			t.Fatal(err)
		}
	}
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	keysDir := t.TempDir()
	writeKeys(t, keysDir)

	st := store.NewMemory()
	set := membership.NewSet(membership.Window{Digests: 8, MaxAge: time.Minute}, membership.WithPersister(st))
	contents, err := content.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	reg := registry.New(st)
	log := zerolog.Nop()
	router := NewRouter(Deps{
		Set:           set,
		Registry:      reg,
		Verifier:      submission.NewVerifier(set, testutil.Verifier(t), reg, zk.ContentScope, contents, log),
		Content:       contents,
		Store:         st,
		Scope:         zk.ContentScope,
		KeysDir:       keysDir,
		AdminKey:      adminKey,
		ReceiptSecret: "receipt-secret",
		PageMax:       50,
		Log:           log,
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func TestHealthAndReady(t *testing.T) {
	srv := newTestServer(t)
	for _, path := range []string{"/health", "/ready"} {
		resp, err := http.Get(srv.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s status = %d", path, resp.StatusCode)
		}
	}
}

func TestAdminRoutesRequireKey(t *testing.T) {
	srv := newTestServer(t)
	c := client.New(srv.URL, "wrong")
	_, err := c.Enroll(context.Background(), zk.SecretFromBytes([]byte("c")))
	var apiErr *client.APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnauthorized {
		t.Fatalf("err = %v", err)
	}
}

// Enroll, report twice under one identity, hit the duplicate, revoke, and
// confirm the revoked identity can no longer prove.
func TestEndToEnd(t *testing.T) {
	ctx := context.Background()
	srv := newTestServer(t)
	admin := client.New(srv.URL, adminKey)
	anon := client.New(srv.URL, "")

	id, err := identity.Create()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := admin.Enroll(ctx, identity.CommitmentOf(id)); err != nil {
		t.Fatalf("enroll: %v", err)
	}

	keys, err := anon.Keys(ctx, t.TempDir())
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	gen := member.NewGenerator(zk.NewProver(keys.CS, keys.PK))

	report := func(text string) (member.Report, error) {
		up, err := anon.Upload(ctx, text, []string{"facilities"})
		if err != nil {
			return member.Report{}, err
		}
		st, err := anon.Membership(ctx)
		if err != nil {
			return member.Report{}, err
		}
		return gen.Prove(ctx, id, st, up.ContentRef, []string{"facilities"}, nil)
	}

	a, err := report("the fire exit on floor 3 is locked")
	if err != nil {
		t.Fatal(err)
	}
	check, err := anon.Check(ctx, a)
	if err != nil || !check.Verified {
		t.Fatalf("dry run = %+v, %v", check, err)
	}
	resA, err := anon.Submit(ctx, a)
	if err != nil {
		t.Fatalf("submit A: %v", err)
	}
	if resA.ReportID != 0 {
		t.Fatalf("report A id = %d", resA.ReportID)
	}
	rc, err := anon.VerifyReceipt(ctx, resA.Receipt)
	if err != nil || !rc.Valid || rc.Receipt.ReportID != 0 {
		t.Fatalf("receipt = %+v, %v", rc, err)
	}

	again, err := report("the fire exit on floor 3 is locked")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := anon.Submit(ctx, again); !errors.Is(err, apperr.ErrDuplicateSubmission) {
		t.Fatalf("resubmit err = %v", err)
	}

	b, err := report("the badge reader at the loading dock is broken")
	if err != nil {
		t.Fatal(err)
	}
	resB, err := anon.Submit(ctx, b)
	if err != nil {
		t.Fatalf("submit B: %v", err)
	}
	if resB.ReportID != 1 || resB.Entry.Nullifier == resA.Entry.Nullifier {
		t.Fatalf("report B = %+v", resB)
	}

	list, err := anon.Reports(ctx, 0, 10)
	if err != nil || list.Total != 2 || len(list.Entries) != 2 {
		t.Fatalf("list = %+v, %v", list, err)
	}
	byN, err := admin.ByNullifier(ctx, resB.Entry.Nullifier)
	if err != nil || byN.ID != 1 {
		t.Fatalf("by nullifier = %+v, %v", byN, err)
	}

	if _, err := admin.Revoke(ctx, identity.CommitmentOf(id), false); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := report("one more"); !errors.Is(err, apperr.ErrRevokedIdentity) {
		t.Fatalf("prove after revoke err = %v", err)
	}

	stats, err := anon.Stats(ctx)
	if err != nil || stats.Total != 2 {
		t.Fatalf("stats = %+v, %v", stats, err)
	}
}
