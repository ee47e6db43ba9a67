package submission

import (
	"net/http"
	"strings"
	"time"

	"anonreport/internal/apperr"
	"anonreport/internal/config"
	"anonreport/internal/content"
	"anonreport/internal/httputil"
	"anonreport/internal/receipt"
	"anonreport/internal/registry"
	"anonreport/internal/zk"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Request is the JSON body for POST /api/reports and POST /api/verify.
type Request struct {
	ContentRef     content.Ref `json:"content_ref"`
	Tags           []string    `json:"tags,omitempty"`
	Supersedes     *uint64     `json:"supersedes,omitempty"`
	ProofB64       string      `json:"proof_b64"`
	Nullifier      zk.Hash     `json:"nullifier"`
	MembershipRoot zk.Hash     `json:"membership_root"`
	Signal         zk.Hash     `json:"signal"`
}

// Response is returned when a report is accepted.
type Response struct {
	ReportID uint64         `json:"report_id"`
	Replayed bool           `json:"replayed"`
	Receipt  string         `json:"receipt"`
	Entry    registry.Entry `json:"entry"`
}

// Decode validates the request and decodes its proof bundle.
func (r Request) Decode() (Submission, error) {
	if r.ContentRef == (content.Ref{}) {
		return Submission{}, apperr.BadRequest("missing content_ref")
	}
	proofB64 := strings.TrimSpace(r.ProofB64)
	if proofB64 == "" {
		return Submission{}, apperr.BadRequest("missing proof_b64")
	}
	if r.Nullifier.IsZero() || r.MembershipRoot.IsZero() {
		return Submission{}, apperr.BadRequest("missing nullifier or membership_root")
	}
	tags, err := content.ValidateTags(r.Tags)
	if err != nil {
		return Submission{}, err
	}
	proof, err := zk.DecodeProof(proofB64)
	if err != nil {
		return Submission{}, apperr.BadRequest("%s", err.Error())
	}
	return Submission{
		ContentRef:     r.ContentRef,
		Tags:           tags,
		Supersedes:     r.Supersedes,
		Proof:          proof,
		Nullifier:      r.Nullifier,
		MembershipRoot: r.MembershipRoot,
		Signal:         r.Signal,
	}, nil
}

// Handler handles POST /api/reports.
func Handler(v *Verifier, receiptSecret string, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req Request
		if !httputil.BindJSON(c, config.MaxSubmitBytes, &req) {
			return
		}
		sub, err := req.Decode()
		if err != nil {
			httputil.WriteError(c, err)
			return
		}
		out, err := v.Submit(c.Request.Context(), sub)
		if err != nil {
			if cls := apperr.Describe(err); cls.Fatal || cls.Code == "internal" {
				log.Error().Err(err).Str("state", string(out.State)).Msg("submission failed")
			}
			httputil.WriteError(c, err)
			return
		}
		token, err := receipt.Sign(receiptSecret, receipt.New(out.Entry.ID, out.Entry.Nullifier, out.Entry.ContentRef, time.Now()))
		if err != nil {
			httputil.WriteError(c, err)
			return
		}
		status := http.StatusCreated
		if out.Replayed {
			status = http.StatusOK
		}
		c.JSON(status, Response{
			ReportID: out.Entry.ID,
			Replayed: out.Replayed,
			Receipt:  token,
			Entry:    out.Entry,
		})
	}
}
