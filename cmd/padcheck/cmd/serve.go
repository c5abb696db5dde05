package cmd

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Aidin1998/padcheck/internal/config"
	"github.com/Aidin1998/padcheck/pkg/logger"
	"github.com/Aidin1998/padcheck/pkg/telemetry"
)

var (
	seedFile  string
	watchConf bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the evaluation API",
	Long: `Serve starts the HTTP API and the background jobs: the fuzzy index
refresh schedule, cross-process rule invalidation (when Redis is
configured) and connection pool metrics.

Examples:
  padcheck serve
  padcheck serve --config configs/padcheck.yaml --seed configs/rules.yaml`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&seedFile, "seed", "", "rules file stored when no rule set exists yet (default rules.seed_file)")
	serveCmd.Flags().BoolVar(&watchConf, "watch", true, "reload the log level when the config file changes")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := cfgManager.Get()
	shutdownTelemetry, err := telemetry.Setup(ctx, telemetry.Config{
		Enabled:     cfg.Telemetry.Enabled,
		ServiceName: cfg.Telemetry.ServiceName,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			log.Warn("Telemetry shutdown failed", zap.Error(err))
		}
	}()

	a, err := buildApp(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Warn("Shutdown left resources open", zap.Error(err))
		}
	}()

	seed := seedFile
	if seed == "" {
		seed = cfg.Rules.SeedFile
	}
	if seed != "" {
		if _, err := a.SeedRules(ctx, seed, false); err != nil {
			return err
		}
	}
	if err := a.Start(ctx); err != nil {
		return err
	}

	if watchConf && cfgManager.File() != "" {
		cfgManager.OnChange(func(next *config.Config) {
			if logger.SetLevel(logLevel, next.Log.Level) {
				log.Info("Log level changed", zap.String("level", next.Log.Level))
			}
		})
		cfgManager.Watch()
	}

	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				a.RecordPoolStats()
			}
		}
	}()

	srv := a.Server()
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(cfg.Server.Addr(), cfg.Server.ReadTimeout, cfg.Server.WriteTimeout)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Info("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("API server forced to shutdown", zap.Error(err))
		return err
	}
	log.Info("Server exited")
	return nil
}
