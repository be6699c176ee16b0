// Package commands implements the dittostore command line.
package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/dittostore/internal/logger"
	"github.com/marmos91/dittostore/pkg/config"
	"github.com/marmos91/dittostore/pkg/facade"
	"github.com/marmos91/dittostore/pkg/registry"
)

var (
	version = "dev"
	commit  = "none"
)

// SetVersion sets the version info reported by --version and /health.
func SetVersion(v, c string) {
	version = v
	commit = c
}

// globalOptions holds the persistent flags.
type globalOptions struct {
	configPath string
	logLevel   string
	user       string
}

// NewRootCmd builds the full command tree.
func NewRootCmd() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:           "dittostore",
		Short:         "Versioned, deduplicating file storage over pluggable backends",
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.SetVersionTemplate("dittostore version {{.Version}}\n")

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (default $XDG_CONFIG_HOME/dittostore/config.yaml)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override the configured log level (DEBUG, INFO, WARN, ERROR)")
	root.PersistentFlags().StringVar(&opts.user, "user", "", "user id attached to emitted events")

	root.AddCommand(
		newInitCmd(opts),
		newServeCmd(opts),
		newPutCmd(opts),
		newGetCmd(opts),
		newLsCmd(opts),
		newSearchCmd(opts),
		newVersionsCmd(opts),
		newRestoreCmd(opts),
		newRmCmd(opts),
		newTrashCmd(opts),
		newGCCmd(opts),
	)
	return root
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// loadConfig loads the configuration and applies the logging section.
func loadConfig(opts *globalOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}

	logger.SetLevel(cfg.Logging.Level)
	logger.SetFormat(cfg.Logging.Format)
	if err := logger.SetOutput(cfg.Logging.Output); err != nil {
		return nil, fmt.Errorf("failed to open log output: %w", err)
	}
	return cfg, nil
}

// app is the engine opened by one-shot commands.
type app struct {
	cfg    *config.Config
	reg    *registry.Registry
	facade *facade.Facade
}

// openApp loads the configuration and opens every storage without metrics
// or webhooks.
func openApp(ctx context.Context, opts *globalOptions) (*app, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}

	reg, err := config.InitializeRegistry(ctx, cfg, nil)
	if err != nil {
		return nil, err
	}

	return &app{
		cfg: cfg,
		reg: reg,
		facade: facade.New(reg, facade.Options{
			Retry:            cfg.Retry,
			OperationTimeout: cfg.Server.OperationTimeout,
		}),
	}, nil
}

func (a *app) Close() error {
	return a.reg.Close()
}

// withApp runs fn against an opened engine and closes it afterwards.
func withApp(cmd *cobra.Command, opts *globalOptions, fn func(ctx context.Context, a *app) error) (err error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.user != "" {
		ctx = facade.WithUser(ctx, opts.user)
	}

	a, err := openApp(ctx, opts)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(ctx, a)
}
