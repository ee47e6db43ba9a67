// Package client talks to the report server over HTTP.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"anonreport/internal/apperr"
	"anonreport/internal/content"
	"anonreport/internal/member"
	"anonreport/internal/membership"
	"anonreport/internal/receipt"
	"anonreport/internal/registry"
	"anonreport/internal/submission"
	"anonreport/internal/verify"
	"anonreport/internal/zk"
)

// APIError is a non-2xx response. It unwraps to the matching apperr sentinel
// so callers can use errors.Is.
type APIError struct {
	Status    int
	Code      string
	Message   string
	Retryable bool
}

func (e *APIError) Error() string {
	return fmt.Sprintf("server returned %d %s: %s", e.Status, e.Code, e.Message)
}

var codeErrors = map[string]error{
	"stale_membership_root": apperr.ErrStaleMembershipRoot,
	"invalid_proof":         apperr.ErrInvalidProof,
	"duplicate_submission":  apperr.ErrDuplicateSubmission,
	"duplicate_commitment":  apperr.ErrDuplicateCommitment,
	"unknown_commitment":    apperr.ErrUnknownCommitment,
	"set_full":              apperr.ErrSetFull,
	"not_found":             apperr.ErrNotFound,
	"bad_request":           apperr.ErrBadRequest,
	"too_large":             apperr.ErrBadRequest,
}

func (e *APIError) Unwrap() error {
	return codeErrors[e.Code]
}

// Client is safe for concurrent use.
type Client struct {
	base       string
	adminKey   string
	httpClient *http.Client
}

// New returns a client for baseURL. adminKey is only needed for admin calls.
func New(baseURL, adminKey string) *Client {
	return &Client{
		base:       strings.TrimRight(baseURL, "/"),
		adminKey:   adminKey,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *Client) do(ctx context.Context, method, path string, in, out any, admin bool) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if admin {
		req.Header.Set("X-Admin-Key", c.adminKey)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		var eb struct {
			Error     string `json:"error"`
			Code      string `json:"code"`
			Retryable bool   `json:"retryable"`
		}
		if json.NewDecoder(io.LimitReader(resp.Body, 64*1024)).Decode(&eb) == nil {
			apiErr.Code, apiErr.Message, apiErr.Retryable = eb.Code, eb.Error, eb.Retryable
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

// Membership fetches the state a proof must be generated against.
func (c *Client) Membership(ctx context.Context) (member.State, error) {
	var st member.State
	err := c.do(ctx, http.MethodGet, "/api/membership", nil, &st, false)
	return st, err
}

// Upload stores report text and returns its content reference.
func (c *Client) Upload(ctx context.Context, text string, tags []string) (content.UploadResponse, error) {
	var out content.UploadResponse
	err := c.do(ctx, http.MethodPost, "/api/content", content.UploadRequest{Content: text, Tags: tags}, &out, false)
	return out, err
}

func requestOf(rep member.Report) (submission.Request, error) {
	b64, err := zk.EncodeProof(rep.Proof)
	if err != nil {
		return submission.Request{}, err
	}
	return submission.Request{
		ContentRef:     rep.ContentRef,
		Tags:           rep.Tags,
		Supersedes:     rep.Supersedes,
		ProofB64:       b64,
		Nullifier:      rep.Nullifier,
		MembershipRoot: rep.Root,
		Signal:         rep.Signal,
	}, nil
}

// Submit posts a proven report. Retrying after a network failure is safe.
func (c *Client) Submit(ctx context.Context, rep member.Report) (submission.Response, error) {
	var out submission.Response
	req, err := requestOf(rep)
	if err != nil {
		return out, err
	}
	err = c.do(ctx, http.MethodPost, "/api/reports", req, &out, false)
	return out, err
}

// ProveFunc proves a report against a membership state.
type ProveFunc func(ctx context.Context, st member.State) (member.Report, error)

// SubmitFresh fetches the membership state, proves against it and submits. A
// stale root means the set changed in between; the state is fetched again and
// the report re-proved once.
func (c *Client) SubmitFresh(ctx context.Context, prove ProveFunc) (submission.Response, error) {
	for attempt := 0; ; attempt++ {
		st, err := c.Membership(ctx)
		if err != nil {
			return submission.Response{}, err
		}
		rep, err := prove(ctx, st)
		if err != nil {
			return submission.Response{}, err
		}
		res, err := c.Submit(ctx, rep)
		if errors.Is(err, apperr.ErrStaleMembershipRoot) && attempt == 0 {
			continue
		}
		return res, err
	}
}

// Check asks the server to dry-run a submission.
func (c *Client) Check(ctx context.Context, rep member.Report) (verify.VerifyResponse, error) {
	var out verify.VerifyResponse
	req, err := requestOf(rep)
	if err != nil {
		return out, err
	}
	err = c.do(ctx, http.MethodPost, "/api/verify", req, &out, false)
	return out, err
}

func (c *Client) Report(ctx context.Context, id uint64) (registry.Entry, error) {
	var e registry.Entry
	err := c.do(ctx, http.MethodGet, "/api/reports/"+strconv.FormatUint(id, 10), nil, &e, false)
	return e, err
}

func (c *Client) Reports(ctx context.Context, offset, limit int) (registry.ListResponse, error) {
	var out registry.ListResponse
	q := url.Values{}
	q.Set("offset", strconv.Itoa(offset))
	q.Set("limit", strconv.Itoa(limit))
	err := c.do(ctx, http.MethodGet, "/api/reports?"+q.Encode(), nil, &out, false)
	return out, err
}

func (c *Client) Stats(ctx context.Context) (registry.Stats, error) {
	var st registry.Stats
	err := c.do(ctx, http.MethodGet, "/api/stats", nil, &st, false)
	return st, err
}

// VerifyReceipt asks the server whether a receipt is genuine.
func (c *Client) VerifyReceipt(ctx context.Context, token string) (receipt.VerifyResponse, error) {
	var out receipt.VerifyResponse
	err := c.do(ctx, http.MethodPost, "/api/receipts/verify", receipt.VerifyRequest{Receipt: token}, &out, false)
	return out, err
}

// Enroll adds a commitment. Admin only.
func (c *Client) Enroll(ctx context.Context, commitment zk.Hash) (membership.ChangeResponse, error) {
	var out membership.ChangeResponse
	err := c.do(ctx, http.MethodPost, "/api/admin/members", map[string]any{"commitment": commitment}, &out, true)
	return out, err
}

// Revoke revokes a commitment. Admin only.
func (c *Client) Revoke(ctx context.Context, commitment zk.Hash, leaked bool) (membership.ChangeResponse, error) {
	var out membership.ChangeResponse
	err := c.do(ctx, http.MethodPost, "/api/admin/members/revoke", map[string]any{"commitment": commitment, "leaked": leaked}, &out, true)
	return out, err
}

// ByNullifier looks up the report that consumed n. Admin only.
func (c *Client) ByNullifier(ctx context.Context, n zk.Hash) (registry.Entry, error) {
	var e registry.Entry
	err := c.do(ctx, http.MethodGet, "/api/admin/reports/by-nullifier/"+n.String(), nil, &e, true)
	return e, err
}

func (c *Client) download(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Status: resp.StatusCode, Code: "download", Message: path}
	}
	return io.ReadAll(resp.Body)
}
