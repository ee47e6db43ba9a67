package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"anonreport/internal/config"
	"anonreport/internal/content"
	"anonreport/internal/logging"
	"anonreport/internal/membership"
	"anonreport/internal/registry"
	"anonreport/internal/store"
	"anonreport/internal/submission"
	"anonreport/internal/triage"
	"anonreport/internal/zk"
	"anonreport/server"

	"github.com/gin-gonic/gin"
)

func main() {
	loadErr := config.Load()
	log := logging.New(config.LogLevel(), config.LogFormat())
	if loadErr != nil {
		log.Debug().Err(loadErr).Msg("no .env loaded")
	}
	logging.RouteGnark(log)
	gin.SetMode(gin.ReleaseMode)

	if err := config.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	if os.Getenv("RECEIPT_SECRET") == "" {
		log.Warn().Msg("RECEIPT_SECRET not set; using dev default")
	}
	scope, err := zk.ParseScope(config.NullifierScope())
	if err != nil {
		log.Fatal().Err(err).Msg("invalid nullifier scope")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, config.DatabaseURL(), config.StateFile())
	if err != nil {
		log.Fatal().Err(err).Msg("open store")
	}
	defer st.Close()

	set := membership.NewSet(
		membership.Window{Digests: config.RootWindowDigests(), MaxAge: config.RootWindowMaxAge()},
		membership.WithPersister(st),
	)
	members, digests, err := st.LoadMembership(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("load membership")
	}
	if err := set.Restore(members, digests); err != nil {
		log.Fatal().Err(err).Msg("restore membership")
	}
	cur := set.Current()
	log.Info().Int("members", len(members)).Uint64("epoch", cur.Epoch).Stringer("root", cur.Root).Msg("membership restored")

	keys, created, err := zk.LoadOrSetup(config.KeysDir())
	if err != nil {
		log.Fatal().Err(err).Msg("load circuit keys")
	}
	if created {
		log.Warn().Str("dir", config.KeysDir()).Msg("generated single-party groth16 keys")
	}

	contents, err := content.NewFileStore(config.ContentDir())
	if err != nil {
		log.Fatal().Err(err).Msg("open content store")
	}
	var classifier content.Classifier
	if config.GeminiAPIKey() != "" {
		classifier = triage.New(config.TriageCacheDir(), log)
		log.Info().Str("model", config.GeminiModel()).Msg("triage enabled")
	}

	reg := registry.New(st)
	verifier := submission.NewVerifier(set, zk.NewVerifier(keys.VK), reg, scope, contents, log)

	router := server.NewRouter(server.Deps{
		Set:           set,
		Registry:      reg,
		Verifier:      verifier,
		Content:       contents,
		Classifier:    classifier,
		Store:         st,
		Scope:         scope,
		KeysDir:       config.KeysDir(),
		AdminKey:      config.AdminKey(),
		ReceiptSecret: config.ReceiptSecret(),
		PageMax:       config.ListPageMax(),
		Log:           log,
	})

	if err := server.Run(ctx, config.Addr(), router, log); err != nil {
		log.Error().Err(err).Msg("server stopped")
		os.Exit(1)
	}
}
