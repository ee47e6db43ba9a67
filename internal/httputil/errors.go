package httputil

import (
	"anonreport/internal/apperr"

	"github.com/gin-gonic/gin"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Retryable bool   `json:"retryable"`
}

// WriteError classifies err and writes it. Internal details are never sent.
func WriteError(c *gin.Context, err error) {
	cls := apperr.Describe(err)
	c.AbortWithStatusJSON(cls.Status, ErrorBody{Error: cls.Message, Code: cls.Code, Retryable: cls.Retryable})
}
