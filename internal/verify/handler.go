package verify

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"

	"anonreport/internal/apperr"
	"anonreport/internal/config"
	"anonreport/internal/httputil"
	"anonreport/internal/submission"
	"anonreport/internal/zk"

	"github.com/gin-gonic/gin"
)

// VerifyResponse is the JSON response for POST /api/verify.
type VerifyResponse struct {
	Verified  bool     `json:"verified"`
	State     string   `json:"state"`
	Trail     []string `json:"trail"`
	Code      string   `json:"code,omitempty"`
	Message   string   `json:"message,omitempty"`
	Retryable bool     `json:"retryable,omitempty"`
}

// Handler handles POST /api/verify: a dry run of POST /api/reports that
// checks root freshness, the proof and nullifier availability without
// consuming anything.
func Handler(v *submission.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req submission.Request
		if !httputil.BindJSON(c, config.MaxSubmitBytes, &req) {
			return
		}
		sub, err := req.Decode()
		if err != nil {
			httputil.WriteError(c, err)
			return
		}
		out, err := v.Check(c.Request.Context(), sub)
		resp := VerifyResponse{Verified: err == nil, State: string(out.State)}
		for _, s := range out.Trail {
			resp.Trail = append(resp.Trail, string(s))
		}
		if err != nil {
			cls := apperr.Describe(err)
			if cls.Status >= http.StatusInternalServerError {
				httputil.WriteError(c, err)
				return
			}
			resp.Code, resp.Message, resp.Retryable = cls.Code, cls.Message, cls.Retryable
		}
		c.JSON(http.StatusOK, resp)
	}
}

// KeyHandler serves one of the groth16 key files from dir.
func KeyHandler(dir, name string) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				httputil.WriteError(c, apperr.ErrNotFound)
				return
			}
			httputil.WriteError(c, err)
			return
		}
		c.Header("Cache-Control", "public, max-age=3600")
		c.FileAttachment(path, name)
	}
}

// ProvingKeyHandler handles GET /api/zk/proving-key.
func ProvingKeyHandler(dir string) gin.HandlerFunc {
	return KeyHandler(dir, zk.ProvingKeyFile)
}

// VerifyingKeyHandler handles GET /api/zk/verifying-key.
func VerifyingKeyHandler(dir string) gin.HandlerFunc {
	return KeyHandler(dir, zk.VerifyingKeyFile)
}
