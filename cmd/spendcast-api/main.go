// Command spendcast-api serves forecasts from stored models over HTTP.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"spendcast/internal/cli"
	apphttp "spendcast/internal/http"
	"spendcast/internal/log"
	"spendcast/internal/pipeline"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(log.ComponentApp)
	cfg := cli.LoadAndValidateConfig(logger)

	pcfg, err := cfg.PipelineConfig()
	if err != nil {
		logger.Error("Invalid model configuration", log.FieldError, err)
		os.Exit(1)
	}

	res := cli.InitBackend(context.Background(), logger, cfg)
	manager := pipeline.NewManager(res.Source, res.Store, pcfg, pipeline.WithLogger(logger))

	pinger, _ := res.Store.(apphttp.Pinger)
	srv := apphttp.NewServer(apphttp.Options{
		Addr:      ":" + cfg.Port,
		CacheSize: cfg.CacheSize,
		CacheTTL:  cfg.CacheTTL,
	}, manager, res.Store, pinger, logger)
	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = 60 * time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err)
		}
		if err := res.Close(); err != nil {
			logger.Error("Backend cleanup error", log.FieldError, err)
		}
	})
	srv.Start(ctx)

	logger.Info("Starting spendcast-api", "addr", srv.Addr, log.FieldBackend, cfg.DataBackend)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", log.FieldError, err)
		os.Exit(1)
	}
	cli.WaitForShutdown(ctx, done)
}
