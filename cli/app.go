// Application assembly for CLI commands.
//
// Information Hiding:
// - Store and cache backend selection hidden
// - Service wiring order hidden
// - Shutdown sequencing hidden
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/selasie/charon/access"
	"github.com/selasie/charon/citation"
	"github.com/selasie/charon/config"
	"github.com/selasie/charon/link"
	"github.com/selasie/charon/model"
	"github.com/selasie/charon/parser"
	"github.com/selasie/charon/prefetch"
	"github.com/selasie/charon/server"
	"github.com/selasie/charon/storage"
)

// sweepInterval is how often the prefetch cache sweeper runs.
const sweepInterval = time.Minute

// NewLogger builds the process-wide structured logger.
func NewLogger(verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// Serve runs the HTTP API until the context is canceled or a shutdown
// signal arrives.
func Serve(ctx context.Context, settings config.Settings, logger *slog.Logger) error {
	store, err := storage.OpenSqlite(settings.Server.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer store.Close()

	cache, closeCache, err := newCache(ctx, settings)
	if err != nil {
		return err
	}
	if closeCache != nil {
		defer closeCache()
	}

	signer, err := newSigner(ctx, settings, logger)
	if err != nil {
		return err
	}

	p := parser.New(logger)
	recorder := citation.NewRecorder(store, store, model.StorageType(settings.Link.DefaultStorage), logger)
	citations := citation.NewService(p, recorder, settings.Citation.MaxResults)
	validator := access.NewValidator(store, store, store)
	issuer := link.NewIssuer(signer, store,
		settings.Server.BaseURL, settings.Link.SignedURLExpiry, settings.Link.SigningTimeout, logger)

	orchestrator := prefetch.NewOrchestrator(
		prefetch.Config{
			Enabled:             settings.Prefetch.Enabled,
			MaxConcurrent:       settings.Prefetch.MaxConcurrent,
			ConfidenceThreshold: settings.Prefetch.ConfidenceThreshold,
		},
		cache,
		server.NewLinkResolver(validator, issuer),
		store, store, prefetch.NewProfileStore(), logger,
	)

	srv := server.New(citations, validator, issuer, orchestrator, store, store, settings.Link.BatchLimit, logger)

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	go orchestrator.RunSweeper(runCtx, sweepInterval)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe(settings.Server.Addr)
	}()

	select {
	case err := <-errCh:
		return err
	case <-runCtx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// SweepCitations deletes citation records older than the retention
// window and reports how many were removed.
func SweepCitations(ctx context.Context, settings config.Settings, logger *slog.Logger) (int64, error) {
	store, err := storage.OpenSqlite(settings.Server.DBPath)
	if err != nil {
		return 0, fmt.Errorf("failed to open database: %w", err)
	}
	defer store.Close()

	cutoff := time.Now().AddDate(0, 0, -settings.Citation.RetentionDays)
	removed, err := store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("retention sweep failed: %w", err)
	}
	logger.Info("retention sweep complete", "removed", removed, "cutoff", cutoff)
	return removed, nil
}

// newCache picks the prefetch cache backend from settings.
func newCache(ctx context.Context, settings config.Settings) (prefetch.Cache, func(), error) {
	switch settings.Prefetch.CacheBackend {
	case "redis":
		c, err := prefetch.NewRedisCache(ctx, prefetch.RedisOptions{
			Addr:     settings.Redis.Addr,
			Password: settings.Redis.Password,
			DB:       settings.Redis.DB,
		}, settings.Prefetch.CacheTTL)
		if err != nil {
			return nil, nil, err
		}
		return c, func() { _ = c.Close() }, nil
	default:
		return prefetch.NewMemoryCache(settings.Prefetch.CacheTTL, 1000), nil, nil
	}
}

// newSigner builds the object-store signer, or nil when the deployment
// has no object store configured.
func newSigner(ctx context.Context, settings config.Settings, logger *slog.Logger) (link.ObjectSigner, error) {
	if settings.Link.DefaultStorage != "object-store" && settings.Link.S3Bucket == "" {
		logger.Info("no object store configured, signing disabled")
		return nil, nil
	}
	signer, err := link.NewS3Signer(ctx, settings.Link.AWSRegion)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize object-store signer: %w", err)
	}
	return signer, nil
}
