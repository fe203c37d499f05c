// Command transcribe runs a single transcription job in-process and prints
// the finished record as JSON.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"transcription-jobs/internal/app"
	"transcription-jobs/internal/config"
	"transcription-jobs/internal/logging"
	"transcription-jobs/internal/models"
)

func main() {
	audio := flag.String("audio", "", "audio file url (http, https or s3)")
	webhook := flag.String("webhook", "", "optional webhook url notified on completion")
	timeout := flag.Duration("timeout", 30*time.Minute, "give up waiting after this long")
	flag.Parse()

	cfg, err := config.Load()
	log := logging.New(cfg.LogLevel, cfg.LogFormat)
	log.SetOutput(os.Stderr)
	if err != nil {
		log.WithError(err).Fatal("load config")
	}
	if os.Getenv("STORE_DRIVER") == "" && os.Getenv("CONFIG_FILE") == "" {
		cfg.StoreDriver = "memory"
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("init")
	}
	defer a.Close()

	job, err := a.Orchestrator.CreateJob(ctx, *audio, webhook)
	if err != nil {
		log.WithError(err).Fatal("create job")
	}

	waitCtx, cancelWait := context.WithTimeout(ctx, *timeout)
	defer cancelWait()
	if err := a.Orchestrator.WaitForJob(waitCtx, job.ID); err != nil {
		log.WithError(err).WithField("job_id", job.ID).Fatal("gave up waiting")
	}

	job, _, err = a.Orchestrator.GetJob(ctx, job.ID)
	if err != nil {
		log.WithError(err).Fatal("load job")
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(job)
	if job.Status != models.StatusCompleted {
		a.Close()
		os.Exit(1)
	}
}
