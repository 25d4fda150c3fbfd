package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/RottenNinja-Go/pipeline"
	"github.com/RottenNinja-Go/pipeline/background"
	"github.com/RottenNinja-Go/pipeline/config"
	"github.com/RottenNinja-Go/pipeline/logger"
	"github.com/RottenNinja-Go/pipeline/metrics"
	"github.com/RottenNinja-Go/pipeline/openapi"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := zerolog.New(os.Stderr)
		boot.Fatal().Err(err).Msg("loading configuration")
	}
	log := logger.New(cfg.Logging)

	opts := append(pipeline.OptionsFromConfig(cfg.Pipeline), pipeline.WithLogger(log))
	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector = metrics.New()
		opts = append(opts, pipeline.WithObserver(collector))
	}
	app := pipeline.New(opts...)
	if collector != nil {
		app.Use(collector.InFlight)
		app.Mount(http.MethodGet, cfg.Metrics.Path, collector.Handler())
	}

	svc := &service{
		users:  newUserStore(),
		events: background.NewLog(),
		runner: background.NewRunner(4, log),
		kinds:  newEventUnion(),
	}
	if err := svc.routes(app); err != nil {
		log.Fatal().Err(err).Msg("registering routes")
	}

	// documentation on the root, after every other route
	if err := openapi.NewOpenApi(app).RegisterOpenAPIDocs(
		"User API",
		"Schema-driven user API with lifecycle hooks",
		"1.0.0",
		"/openapi.json",
		"/docs",
	); err != nil {
		log.Fatal().Err(err).Msg("registering docs")
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           app,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown")
	}
	if err := svc.runner.Wait(); err != nil {
		log.Warn().Err(err).Msg("background tasks finished with errors")
	}
	log.Info().Msg("server stopped")
}
