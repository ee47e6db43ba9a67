package registry

import (
	"net/http"
	"strconv"

	"anonreport/internal/apperr"
	"anonreport/internal/httputil"
	"anonreport/internal/zk"

	"github.com/gin-gonic/gin"
)

// ListResponse is one page of the registry.
type ListResponse struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Offset  int     `json:"offset"`
	Limit   int     `json:"limit"`
}

func queryInt(c *gin.Context, key string, def int) (int, error) {
	v := c.Query(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, apperr.BadRequest("%s must be a non-negative integer", key)
	}
	return n, nil
}

// ListHandler handles GET /api/reports?offset=&limit=. limit is capped at pageMax.
func ListHandler(r *Registry, pageMax int) gin.HandlerFunc {
	return func(c *gin.Context) {
		offset, err := queryInt(c, "offset", 0)
		if err != nil {
			httputil.WriteError(c, err)
			return
		}
		limit, err := queryInt(c, "limit", pageMax)
		if err != nil {
			httputil.WriteError(c, err)
			return
		}
		if limit > pageMax {
			limit = pageMax
		}
		ctx := c.Request.Context()
		entries, err := r.List(ctx, offset, limit)
		if err != nil {
			httputil.WriteError(c, err)
			return
		}
		total, err := r.Count(ctx)
		if err != nil {
			httputil.WriteError(c, err)
			return
		}
		c.JSON(http.StatusOK, ListResponse{Entries: entries, Total: total, Offset: offset, Limit: limit})
	}
}

// GetHandler handles GET /api/reports/:id.
func GetHandler(r *Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil {
			httputil.WriteError(c, apperr.BadRequest("invalid report id"))
			return
		}
		e, err := r.Get(c.Request.Context(), id)
		if err != nil {
			httputil.WriteError(c, err)
			return
		}
		c.JSON(http.StatusOK, e)
	}
}

// StatsHandler handles GET /api/stats.
func StatsHandler(r *Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		st, err := r.Stats(c.Request.Context())
		if err != nil {
			httputil.WriteError(c, err)
			return
		}
		c.JSON(http.StatusOK, st)
	}
}

// ByNullifierHandler handles GET /api/admin/reports/by-nullifier/:nullifier.
func ByNullifierHandler(r *Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		n, err := zk.ParseHash(c.Param("nullifier"))
		if err != nil {
			httputil.WriteError(c, apperr.BadRequest("invalid nullifier"))
			return
		}
		e, err := r.ByNullifier(c.Request.Context(), n)
		if err != nil {
			httputil.WriteError(c, err)
			return
		}
		c.JSON(http.StatusOK, e)
	}
}
