// Command worker drains the asynchronous verification queue described
// in SPEC_FULL.md's "Supplemented features": a fixed-size pool of
// goroutines pop jobs pushed by POST /verify?async=true, run them
// through the same orchestrator the HTTP server uses, and reschedule
// greylisted attempts once after a cooldown. Grounded on the
// teacher's main.go worker loop (BRPOP + RetryMonitor).
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/devyanshu/emailprobe/internal/app"
	"github.com/devyanshu/emailprobe/internal/config"
	"github.com/devyanshu/emailprobe/internal/queue"
)

func main() {
	log := logrus.New()

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("worker: loading config")
	}

	application, err := app.New(cfg)
	if err != nil {
		log.WithError(err).Fatal("worker: wiring application")
	}
	defer application.Close()

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("worker: shutting down")
		cancel()
	}()

	w := queue.NewWorker(
		application.Redis,
		application.Orch,
		cfg.WorkerCount,
		time.Duration(cfg.RetryDelaySeconds)*time.Second,
		log,
	)
	log.WithField("workers", cfg.WorkerCount).Info("worker: starting")
	w.Run(ctx)
}
