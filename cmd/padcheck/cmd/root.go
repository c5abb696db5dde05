package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Aidin1998/padcheck/internal/app"
	"github.com/Aidin1998/padcheck/internal/config"
	"github.com/Aidin1998/padcheck/pkg/logger"
)

var (
	cfgFile string
	envFile string

	cfgManager *config.Manager
	log        *zap.Logger
	logLevel   zap.AtomicLevel
)

var rootCmd = &cobra.Command{
	Use:   "padcheck",
	Short: "Personal account dealing pre-trade compliance checks",
	Long: `padcheck evaluates employee personal account dealing requests.

It resolves the instrument, enriches the request with firm positions,
scores risk factors, runs the advisory checklist and routes the request
to auto-approval, a line manager, compliance or the SMF16 holder.

Configuration is read from --config (or ./configs/padcheck.yaml) and
PADCHECK_* environment variables. A .env file is loaded first if present.`,
	SilenceUsage:      true,
	PersistentPreRunE: bootstrap,
	PersistentPostRun: func(*cobra.Command, []string) {
		if log != nil {
			_ = log.Sync()
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default ./configs/padcheck.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before configuration")
}

// bootstrap loads the environment, configuration and logger shared by
// every subcommand.
func bootstrap(cmd *cobra.Command, _ []string) error {
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", envFile, err)
	}

	boot, _, err := logger.NewLogger("info", "json")
	if err != nil {
		return err
	}
	var paths []string
	if cfgFile != "" {
		if _, err := os.Stat(cfgFile); err != nil {
			return fmt.Errorf("config file: %w", err)
		}
		paths = append(paths, cfgFile)
	}
	cfgManager, err = config.Load(boot, paths...)
	if err != nil {
		return err
	}

	cfg := cfgManager.Get()
	log, logLevel, err = logger.NewLogger(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	log = log.With(zap.String("env", cfg.Environment))
	if f := cfgManager.File(); f != "" {
		log.Debug("Configuration loaded", zap.String("file", f))
	}
	return nil
}

// buildApp wires the pipeline for a one-shot command. The caller closes
// it.
func buildApp(ctx context.Context) (*app.App, error) {
	return app.Build(ctx, cfgManager.Get(), log, nil)
}
