package config

import (
	"github.com/marmos91/dittostore/pkg/backend/s3"
	"github.com/marmos91/dittostore/pkg/cache"
	"github.com/marmos91/dittostore/pkg/facade"
	"github.com/marmos91/dittostore/pkg/metrics"
	"github.com/marmos91/dittostore/pkg/webhook"
)

// MetricsResult contains all metrics collectors created from configuration.
//
// Every collector is nil when metrics are disabled; the components fall back
// to their built-in no-op implementations.
type MetricsResult struct {
	Enabled bool
	Port    int

	Facade  facade.Metrics
	Cache   cache.Metrics
	S3      s3.S3Metrics
	Webhook webhook.Metrics
}

// InitializeMetrics creates the metrics collectors based on configuration.
//
// If metrics are enabled in the configuration the global Prometheus registry
// is initialized and one collector per component is registered. Call it once
// per process: collectors share metric names.
func InitializeMetrics(cfg *Config) *MetricsResult {
	if !cfg.Server.Metrics.Enabled {
		return &MetricsResult{}
	}

	metrics.InitRegistry()

	return &MetricsResult{
		Enabled: true,
		Port:    cfg.Server.Metrics.Port,
		Facade:  metrics.NewFacadeMetrics(),
		Cache:   metrics.NewCacheMetrics(),
		S3:      metrics.NewS3Metrics(),
		Webhook: metrics.NewWebhookMetrics(),
	}
}
