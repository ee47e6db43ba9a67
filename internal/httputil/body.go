package httputil

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// BindJSON decodes the request body into v, reading at most limit bytes. On
// failure it writes the error response itself and returns false.
func BindJSON(c *gin.Context, limit int64, v any) bool {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
	if err := c.ShouldBindJSON(v); err != nil {
		if bodyTooLarge(err) {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, ErrorBody{Error: "request body too large", Code: "too_large"})
			return false
		}
		c.AbortWithStatusJSON(http.StatusBadRequest, ErrorBody{Error: "invalid JSON body", Code: "bad_request"})
		return false
	}
	return true
}

// bodyTooLarge reports whether err came from the MaxBytesReader. The JSON
// decoder usually returns it unwrapped; the string match covers binders that
// flatten it.
func bodyTooLarge(err error) bool {
	if err == nil {
		return false
	}
	var tooLarge *http.MaxBytesError
	return errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large")
}
