// Command retrain-worker re-runs the learning pass for every user on a fixed
// interval and on demand from the AMQP retrain queue.
package main

import (
	"context"
	"errors"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"spendcast/internal/amqp"
	"spendcast/internal/cli"
	"spendcast/internal/log"
	"spendcast/internal/pipeline"
	"spendcast/internal/scheduler"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(log.ComponentScheduler)
	logger.Info("Starting retrain-worker")

	cfg := cli.LoadAndValidateConfig(logger)
	pcfg, err := cfg.PipelineConfig()
	if err != nil {
		logger.Error("Invalid model configuration", log.FieldError, err)
		os.Exit(1)
	}

	res := cli.InitBackend(context.Background(), logger, cfg)
	pubs := cli.InitPublishers(logger, cfg)
	manager := pipeline.NewManager(res.Source, res.Store, pcfg,
		pipeline.WithLogger(logger), pipeline.WithPublisher(pubs.Fanout))

	if len(cfg.RetrainUsers) == 0 {
		logger.Info("Retraining every known user, resolved each cycle")
	}

	sched := scheduler.New(manager, scheduler.Config{
		Interval:           cfg.RetrainInterval,
		Users:              cfg.RetrainUsers,
		Directory:          res.Source,
		UseBudgetFeatures:  cfg.UseBudgetFeatures,
		ContinuousLearning: cfg.ContinuousLearning,
		Horizon:            cfg.ForecastHorizon,
		FailureThreshold:   cfg.FailureThreshold,
		RunTimeout:         cfg.RunTimeout,
	}, logger)

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, nil)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sched.Start(gctx) })
	if pubs.AMQP != nil {
		g.Go(func() error {
			return pubs.AMQP.ConsumeRetrainRequests(gctx, func(ctx context.Context, req *amqp.RetrainRequest) error {
				return sched.Submit(ctx, scheduler.Request{
					UserID:          req.UserID,
					ForceUnivariate: req.ForceUnivariate,
				})
			})
		})
	} else {
		logger.Info("AMQP disabled, only scheduled passes will run")
	}

	err = g.Wait()
	pubs.Close()
	if cerr := res.Close(); cerr != nil {
		logger.Error("Backend cleanup error", log.FieldError, cerr)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Worker stopped", log.FieldError, err)
		os.Exit(1)
	}
	cli.WaitForShutdown(ctx, done)
}
