// Command server runs the HTTP API described in spec.md §6: POST
// /verify plus the read-side company/pattern/person/catch-all
// lookups, backed by Postgres and Redis.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/devyanshu/emailprobe/internal/app"
	"github.com/devyanshu/emailprobe/internal/config"
)

func main() {
	log := logrus.New()

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("server: loading config")
	}

	application, err := app.New(cfg)
	if err != nil {
		log.WithError(err).Fatal("server: wiring application")
	}
	defer application.Close()

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: application.HTTP.Router(),
	}

	go func() {
		log.WithField("addr", cfg.HTTPAddr).Info("server: listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server: listen failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("server: shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Warn("server: shutdown did not complete cleanly")
	}
}
