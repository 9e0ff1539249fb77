package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/campusprint/printdesk/internal/api"
	"github.com/campusprint/printdesk/internal/api/handlers"
	"github.com/campusprint/printdesk/internal/api/middleware"
	"github.com/campusprint/printdesk/internal/config"
	"github.com/campusprint/printdesk/internal/core"
	"github.com/campusprint/printdesk/internal/db"
	"github.com/campusprint/printdesk/internal/document"
	"github.com/campusprint/printdesk/internal/storage"
	"github.com/campusprint/printdesk/internal/webhook"
)

// Run wires every component from cfg and serves HTTP until SIGINT or SIGTERM.
func Run(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	database, err := db.Open(db.Config{Path: cfg.Database.Path})
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer database.Close()

	objects, err := storage.New(storage.Config{
		Endpoint:  cfg.Storage.Endpoint,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		Bucket:    cfg.Storage.Bucket,
		Region:    cfg.Storage.Region,
		UseSSL:    cfg.Storage.UseSSL,
	})
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	bucketCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	if err := objects.EnsureBucket(bucketCtx); err != nil {
		// Uploads will surface storage_unavailable until the bucket is reachable.
		log.Warn().Err(err).Str("bucket", objects.Bucket()).Msg("object storage not ready")
	}
	cancel()

	codes, err := core.NewNumericCodeGenerator(cfg.Redemption.Digits)
	if err != nil {
		return fmt.Errorf("redemption codes: %w", err)
	}

	sender := webhook.NewWebhookSender(database.Webhooks, webhook.WebhookConfig{
		RetryCount:  cfg.Webhooks.RetryCount,
		RetryDelay:  cfg.Webhooks.RetryDelay,
		Timeout:     cfg.Webhooks.Timeout,
		WorkerCount: cfg.Webhooks.WorkerCount,
		QueueSize:   cfg.Webhooks.QueueSize,
	}, log)
	sender.Start()
	defer sender.Stop()

	jobs := core.NewJobManager(database.Jobs, codes, core.JobManagerOptions{
		MaxCodeAttempts: cfg.Redemption.MaxAttempts,
		Events:          sender,
		Logger:          log,
	})

	auth, err := middleware.NewAuthMiddleware(ctx, database.Users, database.Settings, database.Audit, middleware.AuthConfig{
		Secret:        cfg.Auth.JWTSecret,
		TokenDuration: cfg.Auth.TokenDuration,
		SecureCookie:  cfg.Auth.SecureCookie,
	}, log)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	var rateLimit gin.HandlerFunc
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
		defer rdb.Close()

		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			log.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis unreachable, rate limiter fails open")
		}
		cancel()

		rateLimit = middleware.NewRateLimiter(middleware.RateLimiterConfig{
			RedisClient: rdb,
			Limit:       cfg.Redis.RateLimit,
			Window:      cfg.Redis.RateWindow,
			Logger:      log,
		})
	}

	ingestor := document.NewIngestor(document.PDFPageCounter{}, objects, cfg.Storage.Prefix, log)

	router := api.NewRouter(api.RouterDeps{
		Auth: auth,
		Print: handlers.NewPrintHandler(jobs, ingestor, objects, handlers.PrintConfig{
			PerPageRate:      cfg.Pricing.PerPageRate,
			Currency:         cfg.Pricing.Currency,
			MaxUploadBytes:   cfg.Upload.MaxBytes,
			OperationTimeout: cfg.Server.OperationTimeout,
			PresignExpiry:    cfg.Storage.PresignExpiry,
		}, log),
		Admin:      handlers.NewAdminHandler(database.Jobs, database.Audit, cfg.Pricing.Currency, log),
		Webhooks:   handlers.NewWebhookHandler(database.Webhooks, sender, database.Audit, log),
		StationKey: cfg.Station.APIKey,
		RateLimit:  rateLimit,
		Health:     database.PingContext,
		Logger:     log,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.Server.Port).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case <-ctx.Done():
		log.Info().Msg("context cancelled, shutting down")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown error")
	}
	return nil
}
