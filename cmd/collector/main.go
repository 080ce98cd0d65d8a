package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/zgpcy/azure-billing-collector/internal/azure"
	"github.com/zgpcy/azure-billing-collector/internal/config"
	"github.com/zgpcy/azure-billing-collector/internal/logger"
	"github.com/zgpcy/azure-billing-collector/internal/retry"
)

// rootOptions are the flags shared by every subcommand
type rootOptions struct {
	configPath string
	logLevel   string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "azure-billing-collector",
		Short:         "Collect Azure billing data and normalize it into canonical cost records.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "config.yaml", "Path to configuration file")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override the configured log level (debug, info, warn, error)")

	root.AddCommand(
		newServeCommand(opts),
		newCollectCommand(opts),
		newTasksCommand(opts),
		newAccountsCommand(opts),
		newVersionCommand(),
	)
	return root
}

// load reads the configuration and builds the logger it asks for
func (o *rootOptions) load() (*config.Config, *logger.Logger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	return cfg, logger.New(cfg.LogLevel), nil
}

// session builds and verifies an Azure session for the configured service
// principal. Billing lookups retry through ctrl, or through a controller built
// from cfg when ctrl is nil.
func session(ctx context.Context, cfg *config.Config, ctrl *retry.Controller, log *logger.Logger) (*azure.Session, error) {
	if ctrl == nil {
		ctrl = retry.New(cfg.MaxRetries(), cfg.MinBackoff(), log)
	}
	log.Info("Initializing Azure billing session")
	s, err := azure.NewSession(cfg.SecretData, azure.Options{
		Timeout: cfg.Timeout(),
		Retry:   ctrl,
		Logger:  log,
	})
	if err != nil {
		return nil, err
	}
	if err := s.Verify(ctx); err != nil {
		return nil, err
	}
	log.Info("Azure session verified")
	return s, nil
}
