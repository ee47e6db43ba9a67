package membership

import (
	"net/http"

	"anonreport/internal/apperr"
	"anonreport/internal/config"
	"anonreport/internal/httputil"
	"anonreport/internal/zk"
	"anonreport/internal/zk/reportzk"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// StateResponse is the public view of the set that members prove against.
type StateResponse struct {
	Root    zk.Hash   `json:"root"`
	Epoch   uint64    `json:"epoch"`
	Leaves  []zk.Hash `json:"leaves"`
	Revoked []zk.Hash `json:"revoked"`
	Scope   string    `json:"scope"`
	Depth   int       `json:"depth"`
}

// StateHandler handles GET /api/membership.
func StateHandler(s *Set, scope zk.Scope) gin.HandlerFunc {
	return func(c *gin.Context) {
		snap := s.Snapshot()
		revoked := snap.Revoked
		if revoked == nil {
			revoked = []zk.Hash{}
		}
		c.JSON(http.StatusOK, StateResponse{
			Root:    snap.Digest.Root,
			Epoch:   snap.Digest.Epoch,
			Leaves:  snap.Leaves,
			Revoked: revoked,
			Scope:   scope.String(),
			Depth:   reportzk.Depth,
		})
	}
}

type enrollRequest struct {
	Commitment zk.Hash `json:"commitment"`
}

type revokeRequest struct {
	Commitment zk.Hash `json:"commitment"`
	Leaked     bool    `json:"leaked"`
}

// ChangeResponse is returned by enroll and revoke.
type ChangeResponse struct {
	Member Member `json:"member"`
	Digest Digest `json:"digest"`
}

// EnrollHandler handles POST /api/admin/members.
func EnrollHandler(s *Set, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req enrollRequest
		if !httputil.BindJSON(c, config.MaxAdminBytes, &req) {
			return
		}
		if req.Commitment.IsZero() {
			httputil.WriteError(c, apperr.BadRequest("missing commitment"))
			return
		}
		d, err := s.Enroll(c.Request.Context(), req.Commitment)
		if err != nil {
			httputil.WriteError(c, err)
			return
		}
		m, _ := s.Member(req.Commitment)
		log.Info().Uint64("epoch", d.Epoch).Uint64("index", m.Index).Msg("member enrolled")
		c.JSON(http.StatusCreated, ChangeResponse{Member: m, Digest: d})
	}
}

// RevokeHandler handles POST /api/admin/members/revoke.
func RevokeHandler(s *Set, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req revokeRequest
		if !httputil.BindJSON(c, config.MaxAdminBytes, &req) {
			return
		}
		if req.Commitment.IsZero() {
			httputil.WriteError(c, apperr.BadRequest("missing commitment"))
			return
		}
		revoke := s.Revoke
		if req.Leaked {
			revoke = s.RevokeLeaked
		}
		d, err := revoke(c.Request.Context(), req.Commitment)
		if err != nil {
			httputil.WriteError(c, err)
			return
		}
		m, _ := s.Member(req.Commitment)
		log.Info().Uint64("epoch", d.Epoch).Bool("leaked", req.Leaked).Msg("member revoked")
		c.JSON(http.StatusOK, ChangeResponse{Member: m, Digest: d})
	}
}

// LeakedHandler handles GET /api/admin/members/:commitment/leaked.
func LeakedHandler(s *Set) gin.HandlerFunc {
	return func(c *gin.Context) {
		commitment, err := zk.ParseHash(c.Param("commitment"))
		if err != nil {
			httputil.WriteError(c, apperr.BadRequest("invalid commitment"))
			return
		}
		if _, ok := s.Member(commitment); !ok {
			httputil.WriteError(c, apperr.ErrUnknownCommitment)
			return
		}
		c.JSON(http.StatusOK, gin.H{"leaked": s.IsRevokedByLeak(commitment)})
	}
}
