package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/marmos91/dittostore/internal/logger"
	"github.com/marmos91/dittostore/pkg/cache"
	"github.com/marmos91/dittostore/pkg/config"
	"github.com/marmos91/dittostore/pkg/dedup"
	"github.com/marmos91/dittostore/pkg/facade"
	"github.com/marmos91/dittostore/pkg/gc"
	"github.com/marmos91/dittostore/pkg/health"
	"github.com/marmos91/dittostore/pkg/metrics"
	"github.com/marmos91/dittostore/pkg/webhook"
)

func newServeCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the engine with webhooks, garbage collection and the metrics endpoint",
		Long: `Open every configured storage and keep running until SIGINT or SIGTERM.

While running, webhook deliveries are dispatched, the garbage collector runs
on its configured interval and, when metrics are enabled, /metrics, /health
and /stats are served on the metrics port.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts)
		},
	}
}

// runServe blocks until ctx is cancelled, then shuts every component down
// within the configured shutdown timeout.
func runServe(ctx context.Context, opts *globalOptions) (err error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	logger.Info("Starting dittostore %s (commit: %s)", version, commit)

	m := config.InitializeMetrics(cfg)

	reg, err := config.InitializeRegistry(ctx, cfg, m)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, reg.Close())
	}()

	dispatcher, err := webhook.New(cfg.Webhooks, m.Webhook)
	if err != nil {
		return fmt.Errorf("failed to create webhook dispatcher: %w", err)
	}
	dispatcher.Start(ctx)

	f := facade.New(reg, facade.Options{
		Retry:            cfg.Retry,
		OperationTimeout: cfg.Server.OperationTimeout,
		Publisher:        dispatcher,
		Metrics:          m.Facade,
	})

	collector := gc.NewCollector(reg, cfg.GC)
	collector.Start()

	g, gctx := errgroup.WithContext(ctx)
	if m.Enabled {
		healthCfg := cfg.Health
		healthCfg.Version = version
		srv := metrics.NewServer(metrics.ServerConfig{
			Port:   m.Port,
			Health: health.NewChecker(reg, healthCfg),
			Stats:  statsFunc(f),
		})
		g.Go(func() error { return srv.Start(gctx) })
	}

	logger.Info("dittostore is running with %d storage(s)", reg.Count())
	<-gctx.Done()
	logger.Info("Shutdown signal received, stopping")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	err = multierr.Combine(
		g.Wait(),
		collector.Stop(shutdownCtx),
		dispatcher.Stop(shutdownCtx),
	)
	logger.Info("dittostore stopped")
	return err
}

// storageStats is one entry of the /stats document.
type storageStats struct {
	Versioning    bool         `json:"versioning"`
	Deduplication bool         `json:"deduplication"`
	Dedup         *dedup.Stats `json:"dedup,omitempty"`
	Cache         *cache.Stats `json:"cache,omitempty"`
}

func statsFunc(f *facade.Facade) metrics.StatsFunc {
	return func(ctx context.Context) (any, error) {
		out := make(map[string]storageStats)
		for _, s := range f.Registry().Storages() {
			st := storageStats{Versioning: s.Versioning, Deduplication: s.Deduplication}
			if s.Deduplication {
				ds, err := f.DedupStats(ctx, s.Name)
				if err != nil {
					return nil, err
				}
				st.Dedup = &ds
			}
			if s.Cache.Enabled() {
				cs, err := f.CacheStats(s.Name)
				if err != nil {
					return nil, err
				}
				st.Cache = &cs
			}
			out[s.Name] = st
		}
		return out, nil
	}
}
