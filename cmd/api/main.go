package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	api "transcription-jobs/internal/api"
	"transcription-jobs/internal/app"
	"transcription-jobs/internal/cleanup"
	"transcription-jobs/internal/config"
	"transcription-jobs/internal/logging"
)

func main() {
	cfg, err := config.Load()
	log := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.WithError(err).Fatal("load config")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("init")
	}
	defer a.Close()

	sweeper := cleanup.NewSweeper(cfg.TempDir, cfg.TempMaxAge, cfg.TempSweepInterval, log.WithField("component", "cleanup"))
	sweeper.InUse = a.Orchestrator.WorkspaceInUse
	go sweeper.Run(ctx)

	var limiter api.Limiter
	if a.Limiter != nil {
		limiter = a.Limiter
	}
	server := api.New(a.Orchestrator, limiter, log.WithField("component", "api"))
	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: server.Router(),
	}

	log.WithFields(logrus.Fields{"port": cfg.HTTPPort, "store": cfg.StoreDriver, "transcriber": cfg.Transcriber}).Info("api listening")
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("listen")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
	if err := a.Orchestrator.Shutdown(shutdownCtx); err != nil {
		log.WithField("in_flight", a.Orchestrator.InFlight()).Warn("shutdown before all jobs finished")
	}
}
