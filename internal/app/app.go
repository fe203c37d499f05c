// Package app assembles the orchestrator and its collaborators from config.
// Both binaries go through it so they behave identically.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"transcription-jobs/internal/cache"
	"transcription-jobs/internal/config"
	"transcription-jobs/internal/events"
	"transcription-jobs/internal/fetch"
	"transcription-jobs/internal/notify"
	"transcription-jobs/internal/orchestrator"
	"transcription-jobs/internal/ratelimit"
	"transcription-jobs/internal/store"
	"transcription-jobs/internal/transcribe"
)

// App holds the wired orchestrator plus whatever needs closing at exit.
type App struct {
	Orchestrator *orchestrator.Orchestrator
	// Limiter is nil unless Redis is configured.
	Limiter *ratelimit.TokenBucket

	closers []func()
}

// Build connects every configured backend and wires the orchestrator.
func Build(ctx context.Context, cfg config.Config, log *logrus.Logger) (*App, error) {
	a := &App{}

	st, err := a.openStore(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		a.closers = append(a.closers, func() { _ = rdb.Close() })
		st = cache.New(st, rdb, cfg.CacheTTL, log.WithField("component", "cache"))
		a.Limiter = ratelimit.NewTokenBucket(rdb, cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour)
	}

	fetcher := NewFetcher(ctx, cfg, log)
	transcriber, err := NewTranscriber(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	webhook := notify.NewWebhook(notify.Options{
		Timeout:        cfg.WebhookTimeout,
		MaxAttempts:    cfg.WebhookMaxAttempts,
		BackoffInitial: cfg.WebhookBackoffInitial,
		BackoffMax:     cfg.WebhookBackoffMax,
	}, log.WithField("component", "webhook"))

	opts := []orchestrator.Option{
		orchestrator.WithLogger(log.WithField("component", "orchestrator")),
		orchestrator.WithTempDir(cfg.TempDir),
	}
	if cfg.NATSURL != "" {
		pub, err := events.NewNATSPublisher(cfg.NATSURL, cfg.NATSSubject)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, pub.Close)
		opts = append(opts, orchestrator.WithEvents(pub))
	}

	a.Orchestrator = orchestrator.New(st, fetcher, transcriber, webhook, opts...)
	return a, nil
}

func (a *App) openStore(ctx context.Context, cfg config.Config) (cache.Backend, error) {
	switch cfg.StoreDriver {
	case "postgres":
		pg, err := store.NewPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		a.closers = append(a.closers, pg.Close)
		if err := pg.RunMigrations(ctx); err != nil {
			return nil, fmt.Errorf("migrations: %w", err)
		}
		return pg, nil
	case "sqlite":
		lite, err := store.NewSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		a.closers = append(a.closers, func() { _ = lite.Close() })
		return lite, nil
	case "memory":
		return store.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

// NewFetcher serves http(s) and, when AWS config loads, s3:// URLs.
func NewFetcher(ctx context.Context, cfg config.Config, log logrus.FieldLogger) *fetch.Router {
	h := fetch.NewHTTP(cfg.DownloadTimeout, cfg.DownloadMaxBytes)
	s3, err := fetch.NewS3(ctx, fetch.S3Options{
		Region:    cfg.S3Region,
		Endpoint:  cfg.S3Endpoint,
		PathStyle: cfg.S3PathStyle,
		MaxBytes:  cfg.DownloadMaxBytes,
	})
	if err != nil {
		log.WithError(err).Warn("s3 fetcher disabled")
		s3 = nil
	}
	return fetch.NewRouter(h, s3)
}

// NewTranscriber picks the engine named by cfg.Transcriber.
func NewTranscriber(cfg config.Config) (transcribe.Transcriber, error) {
	switch cfg.Transcriber {
	case "api":
		return transcribe.NewAPI(transcribe.APIOptions{
			URL:      cfg.TranscriptionAPIURL,
			APIKey:   cfg.TranscriptionAPIKey,
			Model:    cfg.TranscriptionModel,
			Language: cfg.TranscriptionLanguage,
			Timeout:  cfg.TranscriptionTimeout,
		}), nil
	case "whisper":
		return transcribe.NewWhisper(cfg.WhisperCommand, cfg.WhisperModel, cfg.TranscriptionLanguage), nil
	default:
		return nil, fmt.Errorf("unknown transcriber %q", cfg.Transcriber)
	}
}

// Close releases connections in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
