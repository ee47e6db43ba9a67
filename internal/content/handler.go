package content

import (
	"context"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"anonreport/internal/apperr"
	"anonreport/internal/config"
	"anonreport/internal/httputil"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Classifier suggests a category for new content. It may return nil.
type Classifier interface {
	Classify(ctx context.Context, ref Ref, text string, tags []string) (*Triage, error)
}

// UploadRequest is the JSON body for POST /api/content.
type UploadRequest struct {
	Content string   `json:"content" binding:"required"`
	Tags    []string `json:"tags"`
}

// UploadResponse is returned by POST /api/content.
type UploadResponse struct {
	ContentRef Ref     `json:"content_ref"`
	Size       int     `json:"size"`
	Created    bool    `json:"created"`
	Triage     *Triage `json:"triage,omitempty"`
}

// GetResponse is returned by GET /api/content/:ref.
type GetResponse struct {
	ContentRef Ref       `json:"content_ref"`
	Content    string    `json:"content"`
	Tags       []string  `json:"tags,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	Triage     *Triage   `json:"triage,omitempty"`
}

// ValidateTags checks count and length limits and returns the trimmed tags.
func ValidateTags(tags []string) ([]string, error) {
	if len(tags) > config.MaxTags {
		return nil, apperr.BadRequest("at most %d tags allowed", config.MaxTags)
	}
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if len(t) > config.MaxTagLen {
			return nil, apperr.BadRequest("tags must be at most %d bytes", config.MaxTagLen)
		}
		out = append(out, t)
	}
	return out, nil
}

// UploadHandler handles POST /api/content. classifier may be nil.
func UploadHandler(store *FileStore, classifier Classifier, log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req UploadRequest
		if !httputil.BindJSON(c, config.MaxContentBytes+4096, &req) {
			return
		}
		if strings.TrimSpace(req.Content) == "" {
			httputil.WriteError(c, apperr.BadRequest("content must be non-empty"))
			return
		}
		if len(req.Content) > config.MaxContentBytes {
			c.JSON(http.StatusRequestEntityTooLarge, httputil.ErrorBody{Error: "content too large", Code: "too_large"})
			return
		}
		if !utf8.ValidString(req.Content) {
			httputil.WriteError(c, apperr.BadRequest("content must be UTF-8 text"))
			return
		}
		tags, err := ValidateTags(req.Tags)
		if err != nil {
			httputil.WriteError(c, err)
			return
		}

		ref, created, err := store.Put([]byte(req.Content), Meta{Tags: tags})
		if err != nil {
			log.Error().Err(err).Msg("store content")
			httputil.WriteError(c, err)
			return
		}
		resp := UploadResponse{ContentRef: ref, Size: len(req.Content), Created: created}

		if created && classifier != nil {
			t, err := classifier.Classify(c.Request.Context(), ref, req.Content, tags)
			if err != nil {
				log.Warn().Err(err).Msg("triage")
			} else if t != nil {
				if err := store.SetTriage(ref, *t); err != nil {
					log.Warn().Err(err).Msg("save triage")
				}
				resp.Triage = t
			}
		} else if !created {
			if _, meta, err := store.Get(ref); err == nil {
				resp.Triage = meta.Triage
			}
		}
		status := http.StatusOK
		if created {
			status = http.StatusCreated
		}
		c.JSON(status, resp)
	}
}

// GetHandler handles GET /api/content/:ref.
func GetHandler(store *FileStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		ref, err := ParseRef(c.Param("ref"))
		if err != nil {
			httputil.WriteError(c, apperr.BadRequest("%s", err.Error()))
			return
		}
		b, meta, err := store.Get(ref)
		if err != nil {
			httputil.WriteError(c, err)
			return
		}
		c.JSON(http.StatusOK, GetResponse{
			ContentRef: ref,
			Content:    string(b),
			Tags:       meta.Tags,
			CreatedAt:  meta.CreatedAt,
			Triage:     meta.Triage,
		})
	}
}
