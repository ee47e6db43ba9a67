// Package receipt issues signed acceptance receipts. A receipt lets a reporter
// show that a report was accepted without revealing who they are.
package receipt

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"net/http"
	"strings"
	"time"

	"anonreport/internal/config"
	"anonreport/internal/content"
	"anonreport/internal/httputil"
	"anonreport/internal/zk"

	"github.com/fxamacker/cbor/v2"
	"github.com/gin-gonic/gin"
)

// Receipt is the signed payload.
type Receipt struct {
	ReportID   uint64      `cbor:"1,keyasint" json:"report_id"`
	Nullifier  zk.Hash     `cbor:"2,keyasint" json:"nullifier"`
	ContentRef content.Ref `cbor:"3,keyasint" json:"content_ref"`
	IssuedAt   int64       `cbor:"4,keyasint" json:"issued_at"`
}

// Sign produces base64(CBOR(r)) + "." + hex(HMAC-SHA256(secret, payload)).
func Sign(secret string, r Receipt) (string, error) {
	payload, err := cbor.Marshal(r)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	sig := hex.EncodeToString(mac.Sum(nil))
	return base64.RawURLEncoding.EncodeToString(payload) + "." + sig, nil
}

// Verify checks the signature and returns the receipt if valid.
func Verify(secret, signed string) (Receipt, bool) {
	idx := strings.LastIndex(signed, ".")
	if idx == -1 {
		return Receipt{}, false
	}
	encoded, sigHex := signed[:idx], signed[idx+1:]
	sig, err := hex.DecodeString(sigHex)
	if err != nil || len(sig) != sha256.Size {
		return Receipt{}, false
	}
	payload, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return Receipt{}, false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	if !hmac.Equal(sig, mac.Sum(nil)) {
		return Receipt{}, false
	}
	var r Receipt
	if err := cbor.Unmarshal(payload, &r); err != nil {
		return Receipt{}, false
	}
	return r, true
}

// New builds a receipt for an accepted report.
func New(reportID uint64, nullifier zk.Hash, ref content.Ref, at time.Time) Receipt {
	return Receipt{ReportID: reportID, Nullifier: nullifier, ContentRef: ref, IssuedAt: at.Unix()}
}

// VerifyRequest is the JSON body for POST /api/receipts/verify.
type VerifyRequest struct {
	Receipt string `json:"receipt" binding:"required"`
}

// VerifyResponse is returned by POST /api/receipts/verify.
type VerifyResponse struct {
	Valid   bool     `json:"valid"`
	Receipt *Receipt `json:"receipt,omitempty"`
}

// VerifyHandler handles POST /api/receipts/verify.
func VerifyHandler(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req VerifyRequest
		if !httputil.BindJSON(c, config.MaxAdminBytes, &req) {
			return
		}
		r, ok := Verify(secret, strings.TrimSpace(req.Receipt))
		if !ok {
			c.JSON(http.StatusOK, VerifyResponse{Valid: false})
			return
		}
		c.JSON(http.StatusOK, VerifyResponse{Valid: true, Receipt: &r})
	}
}
