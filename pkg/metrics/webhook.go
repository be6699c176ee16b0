package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/dittostore/pkg/webhook"
)

type webhookMetrics struct {
	deliveries *prometheus.CounterVec
}

// NewWebhookMetrics creates a new Prometheus-backed webhook.Metrics instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewWebhookMetrics() webhook.Metrics {
	if !IsEnabled() {
		return nil
	}
	return newWebhookMetrics(GetRegistry())
}

func newWebhookMetrics(reg prometheus.Registerer) *webhookMetrics {
	return &webhookMetrics{
		deliveries: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittostore_webhooks_total",
				Help: "Webhook deliveries by event and result (sent, failed, dropped)",
			},
			[]string{"event", "result"},
		),
	}
}

func (m *webhookMetrics) Sent(event webhook.EventKind) {
	m.deliveries.WithLabelValues(string(event), "sent").Inc()
}

func (m *webhookMetrics) Failed(event webhook.EventKind) {
	m.deliveries.WithLabelValues(string(event), "failed").Inc()
}

func (m *webhookMetrics) Dropped(event webhook.EventKind) {
	m.deliveries.WithLabelValues(string(event), "dropped").Inc()
}
