// Package server assembles the HTTP routes and runs the listener.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"anonreport/internal/auth"
	"anonreport/internal/content"
	"anonreport/internal/logging"
	"anonreport/internal/membership"
	"anonreport/internal/receipt"
	"anonreport/internal/registry"
	"anonreport/internal/submission"
	"anonreport/internal/verify"
	"anonreport/internal/zk"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Pinger reports whether durable state is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps is everything the routes need.
type Deps struct {
	Set        *membership.Set
	Registry   *registry.Registry
	Verifier   *submission.Verifier
	Content    *content.FileStore
	Classifier content.Classifier // nil disables triage
	Store      Pinger
	Scope      zk.Scope
	KeysDir    string

	AdminKey      string
	ReceiptSecret string
	PageMax       int
	Log           zerolog.Logger
}

// NewRouter builds the gin engine.
func NewRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), logging.Middleware(d.Log))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := d.Store.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error", "error": "store unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	{
		api.GET("/membership", membership.StateHandler(d.Set, d.Scope))
		api.GET("/zk/proving-key", verify.ProvingKeyHandler(d.KeysDir))
		api.GET("/zk/verifying-key", verify.VerifyingKeyHandler(d.KeysDir))

		api.POST("/content", content.UploadHandler(d.Content, d.Classifier, d.Log))
		api.GET("/content/:ref", content.GetHandler(d.Content))

		api.POST("/reports", submission.Handler(d.Verifier, d.ReceiptSecret, d.Log))
		api.POST("/verify", verify.Handler(d.Verifier))
		api.GET("/reports", registry.ListHandler(d.Registry, d.PageMax))
		api.GET("/reports/:id", registry.GetHandler(d.Registry))
		api.GET("/stats", registry.StatsHandler(d.Registry))

		api.POST("/receipts/verify", receipt.VerifyHandler(d.ReceiptSecret))
	}

	admin := r.Group("/api/admin")
	admin.Use(auth.AdminKey(d.AdminKey))
	{
		admin.POST("/members", membership.EnrollHandler(d.Set, d.Log))
		admin.POST("/members/revoke", membership.RevokeHandler(d.Set, d.Log))
		admin.GET("/members/:commitment/leaked", membership.LeakedHandler(d.Set))
		admin.GET("/reports/by-nullifier/:nullifier", registry.ByNullifierHandler(d.Registry))
	}
	return r
}

// Run serves h on addr until ctx is cancelled, then drains for up to ten
// seconds.
func Run(ctx context.Context, addr string, h http.Handler, log zerolog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", addr).Msg("listening")
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		log.Info().Msg("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
