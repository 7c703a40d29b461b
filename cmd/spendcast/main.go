// Command spendcast trains per-user spending models and prints forecasts,
// backtests and run history.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"spendcast/internal/backend"
	"spendcast/internal/cli"
	"spendcast/internal/config"
	"spendcast/internal/log"
	"spendcast/internal/pipeline"
)

var (
	flagUser     string
	flagBackend  string
	flagModelCfg string
	flagJSON     bool
)

var rootCmd = &cobra.Command{
	Use:           "spendcast",
	Short:         "Daily spending forecasts",
	Long:          "Train LSTM spending models per user, forecast the next days and report their accuracy.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	cli.LoadEnvFile()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagUser, "user", "u", "", "User ID")
	rootCmd.PersistentFlags().StringVarP(&flagBackend, "backend", "b", "", "Data backend (sqlite, postgres, sheets, memory); overrides DATA_BACKEND")
	rootCmd.PersistentFlags().StringVar(&flagModelCfg, "model-config", "", "TOML hyperparameter file; overrides MODEL_CONFIG_FILE")
	rootCmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "Print JSON instead of tables")
}

// app is what every subcommand works with.
type app struct {
	cfg     *config.Config
	logger  *log.Logger
	backend *backend.BackendResult
	manager *pipeline.Manager
	pubs    *cli.Publishers
}

func (a *app) Close() {
	if a.pubs != nil {
		a.pubs.Close()
	}
	if err := a.backend.Close(); err != nil {
		a.logger.Warn("Backend cleanup failed", log.FieldError, err)
	}
}

// loadApp reads configuration, opens the backend and builds the manager.
// withPublishers connects the event sinks, which only training needs.
func loadApp(ctx context.Context, withPublishers bool) (*app, error) {
	logger := cli.SetupLogger(log.ComponentCLI)

	cfg := config.Load()
	if flagBackend != "" {
		cfg.DataBackend = flagBackend
	}
	if flagModelCfg != "" {
		cfg.ModelConfigFile = flagModelCfg
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	pcfg, err := cfg.PipelineConfig()
	if err != nil {
		return nil, err
	}

	bcfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return nil, err
	}
	res, err := backend.NewFactory(logger).CreateBackend(ctx, bcfg)
	if err != nil {
		return nil, fmt.Errorf("open %s backend: %w", cfg.DataBackend, err)
	}

	a := &app{cfg: cfg, logger: logger, backend: res}
	opts := []pipeline.Option{pipeline.WithLogger(logger)}
	if withPublishers {
		a.pubs = cli.InitPublishers(logger, cfg)
		opts = append(opts, pipeline.WithPublisher(a.pubs.Fanout))
	}
	a.manager = pipeline.NewManager(res.Source, res.Store, pcfg, opts...)
	return a, nil
}

func requireUser() error {
	if flagUser == "" {
		return fmt.Errorf("--user is required")
	}
	return nil
}
