package verify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

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

func setup(t *testing.T) (*gin.Engine, *submission.Verifier, submission.Request) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()

	set := membership.NewSet(membership.Window{Digests: 4, MaxAge: time.Minute})
	var seed [identity.SeedSize]byte
	seed[0] = 42
	id, err := identity.FromSeed(seed)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := set.Enroll(ctx, id.Commitment); err != nil {
		t.Fatal(err)
	}
	reg := registry.New(store.NewMemory())
	v := submission.NewVerifier(set, testutil.Verifier(t), reg, zk.ContentScope, nil, zerolog.Nop())

	snap := set.Snapshot()
	st := member.State{Root: snap.Digest.Root, Leaves: snap.Leaves, Scope: "content"}
	rep, err := member.NewGenerator(testutil.Prover(t)).Prove(ctx, id, st, content.RefOf([]byte("verify me")), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	b64, err := zk.EncodeProof(rep.Proof)
	if err != nil {
		t.Fatal(err)
	}
	req := submission.Request{
		ContentRef:     rep.ContentRef,
		ProofB64:       b64,
		Nullifier:      rep.Nullifier,
		MembershipRoot: rep.Root,
		Signal:         rep.Signal,
	}

	r := gin.New()
	r.POST("/api/verify", Handler(v))
	return r, v, req
}

func postVerify(t *testing.T, r *gin.Engine, req submission.Request) VerifyResponse {
	t.Helper()
	body, _ := json.Marshal(req)
	w := httptest.NewRecorder()
	httpReq, _ := http.NewRequest(http.MethodPost, "/api/verify", bytes.NewReader(body))
	httpReq.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, httpReq)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", w.Code, w.Body)
	}
	var resp VerifyResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp
}

func TestVerifyHandlerDryRun(t *testing.T) {
	r, v, req := setup(t)

	resp := postVerify(t, r, req)
	if !resp.Verified || resp.State != "NULLIFIER_CHECKED" {
		t.Fatalf("unexpected response %+v", resp)
	}

	sub, err := req.Decode()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := v.Submit(context.Background(), sub); err != nil {
		t.Fatalf("submit after dry run: %v", err)
	}

	resp = postVerify(t, r, req)
	if resp.Verified || resp.Code != "duplicate_submission" || resp.State != "REJECTED" {
		t.Fatalf("expected duplicate after submit, got %+v", resp)
	}
}

func TestVerifyHandlerReportsStaleRoot(t *testing.T) {
	r, _, req := setup(t)
	req.MembershipRoot = zk.SecretFromBytes([]byte("unknown root"))
	proof, err := zk.DecodeProof(req.ProofB64)
	if err != nil {
		t.Fatal(err)
	}
	proof.Public.Root = req.MembershipRoot
	if req.ProofB64, err = zk.EncodeProof(proof); err != nil {
		t.Fatal(err)
	}

	resp := postVerify(t, r, req)
	if resp.Verified || resp.Code != "stale_membership_root" || !resp.Retryable {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestVerifyHandlerInvalidBase64Returns400(t *testing.T) {
	r, _, req := setup(t)
	req.ProofB64 = "%%%"
	body, _ := json.Marshal(req)
	w := httptest.NewRecorder()
	httpReq, _ := http.NewRequest(http.MethodPost, "/api/verify", bytes.NewReader(body))
	httpReq.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, httpReq)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", w.Code)
	}
}

func TestKeyHandlers(t *testing.T) {
	gin.SetMode(gin.TestMode)
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, zk.VerifyingKeyFile), []byte("vk-bytes"), 0o644); err != nil {
		t.Fatal(err)
	}
	r := gin.New()
	r.GET("/api/zk/proving-key", ProvingKeyHandler(dir))
	r.GET("/api/zk/verifying-key", VerifyingKeyHandler(dir))

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/api/zk/verifying-key", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK || w.Body.String() != "vk-bytes" {
		t.Fatalf("verifying key = %d %q", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	req, _ = http.NewRequest(http.MethodGet, "/api/zk/proving-key", nil)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("missing proving key status = %d", w.Code)
	}
}
