// Command experiments serves the creative experimentation engine: starting
// single and A/B creative tests on the ad platform, scheduler-driven checks,
// results and deletion.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/adlift-labs/adlift-go/internal/platform/adplatform"
	"github.com/adlift-labs/adlift-go/internal/platform/analysis"
	"github.com/adlift-labs/adlift-go/internal/platform/auditlog"
	"github.com/adlift-labs/adlift-go/internal/platform/auth"
	"github.com/adlift-labs/adlift-go/internal/platform/cache"
	"github.com/adlift-labs/adlift-go/internal/platform/env"
	"github.com/adlift-labs/adlift-go/internal/platform/httpserver"
	"github.com/adlift-labs/adlift-go/internal/platform/limits"
	"github.com/adlift-labs/adlift-go/internal/platform/objectstore"
	"github.com/adlift-labs/adlift-go/internal/platform/postgres"
	repopg "github.com/adlift-labs/adlift-go/internal/repo/postgres"
	"github.com/adlift-labs/adlift-go/internal/service/accounts"
	"github.com/adlift-labs/adlift-go/internal/service/experiments"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx := context.Background()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := env.String("EXPERIMENTS_HTTP_ADDR", ":8084")
	shutdownTimeout, err := env.Duration("EXPERIMENTS_SHUTDOWN_TIMEOUT", 10*time.Second)
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}

	dbCfg, err := postgres.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid database config", "error", err)
		os.Exit(2)
	}
	db, err := postgres.Open(ctx, dbCfg)
	if err != nil {
		logger.Error("database unavailable", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	storeCfg, err := objectstore.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid object store config", "error", err)
		os.Exit(2)
	}
	storeClient, err := objectstore.NewMinIOClient(storeCfg)
	if err != nil {
		logger.Error("object store client init failed", "error", err)
		os.Exit(2)
	}
	startupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := objectstore.EnsureBucket(startupCtx, storeClient, storeCfg); err != nil {
		cancel()
		logger.Error("object store unavailable", "error", err)
		os.Exit(1)
	}
	cancel()
	signer, err := objectstore.NewSigner(storeClient, storeCfg)
	if err != nil {
		logger.Error("asset signer init failed", "error", err)
		os.Exit(2)
	}

	platformCfg, err := adplatform.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid ad platform config", "error", err)
		os.Exit(2)
	}
	platformClient, err := adplatform.NewClient(platformCfg, signer)
	if err != nil {
		logger.Error("ad platform client init failed", "error", err)
		os.Exit(2)
	}

	analysisCfg, err := analysis.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid analysis config", "error", err)
		os.Exit(2)
	}
	analysisClient, err := analysis.NewClient(analysisCfg)
	if err != nil {
		logger.Error("analysis client init failed", "error", err)
		os.Exit(2)
	}

	limitsSpec, err := limits.FromEnv()
	if err != nil {
		logger.Error("invalid limits spec", "error", err)
		os.Exit(2)
	}

	contextTTL, err := env.Duration("ADLIFT_CONTEXT_CACHE_TTL", time.Minute)
	if err != nil {
		logger.Error("invalid context cache ttl", "error", err)
		os.Exit(2)
	}
	contexts := cache.New(contextTTL)
	go contexts.RunEviction(ctx, contextTTL)

	resolver := accounts.NewResolver(repopg.NewTenantStore(db))
	service := experiments.NewService(experiments.Deps{
		Logger:        logger,
		Resolver:      resolver,
		Creatives:     repopg.NewCreativeStore(db),
		Experiments:   repopg.NewExperimentStore(db),
		ABExperiments: repopg.NewABExperimentStore(db),
		Platform:      platformClient,
		Analyzer:      analysisClient,
		Limits:        limitsSpec,
		Contexts:      contexts,
	})
	if service == nil {
		logger.Error("service init failed")
		os.Exit(2)
	}

	authCfg, err := auth.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid auth config", "error", err)
		os.Exit(2)
	}
	var authenticator auth.Authenticator
	switch authCfg.Mode {
	case auth.ModeOIDC:
		authenticator, err = auth.NewOIDCAuthenticator(ctx, authCfg)
		if err != nil {
			logger.Error("oidc authenticator init failed", "error", err)
			os.Exit(2)
		}
	case auth.ModeInternal:
		authenticator, err = auth.NewInternalAuthenticator(authCfg.InternalSecret)
		if err != nil {
			logger.Error("internal authenticator init failed", "error", err)
			os.Exit(2)
		}
	case auth.ModeDev:
		authenticator = auth.DevAuthenticator{
			Subject: authCfg.DevSubject,
			Email:   authCfg.DevEmail,
			Roles:   authCfg.DevRoles,
		}
	case auth.ModeDisabled:
		authenticator = nil
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", httpserver.Healthz("experiments"))
	mux.HandleFunc(
		"/readyz",
		httpserver.ReadyzWithChecks(
			"experiments",
			httpserver.ReadinessCheck{
				Name: "postgres",
				Check: func(ctx context.Context) error {
					checkCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
					defer cancel()
					return db.PingContext(checkCtx)
				},
			},
			httpserver.ReadinessCheck{
				Name: "minio",
				Check: func(ctx context.Context) error {
					checkCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
					defer cancel()
					return objectstore.CheckBucket(checkCtx, storeClient, storeCfg)
				},
			},
		),
	)

	api := newExperimentsAPI(logger, service, auditlog.DBAppender{DB: db})
	api.register(mux)

	handler := auth.Middleware{
		Logger:        logger,
		Authenticator: authenticator,
		SkipPrefixes:  []string{"/healthz", "/readyz"},
	}.Wrap(mux)

	cfg := httpserver.Config{
		Service:         "experiments",
		Addr:            addr,
		ShutdownTimeout: shutdownTimeout,
	}

	if err := httpserver.Run(ctx, logger, cfg, httpserver.Wrap(logger, "experiments", handler)); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}
