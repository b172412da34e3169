package telemetry

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/mkalens/pipehub-identity/internal/infra/config"
)

// Provider represents a telemetry provider handle.
type Provider struct {
	rateLimitDenies *prometheus.CounterVec
}

// Attach configures telemetry exporters and returns a provider handle. Request
// level collectors live in the HTTP metrics middleware; the provider carries
// counters shared across layers.
func Attach(_ context.Context, cfg *config.AppConfig) (*Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	denies := promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "identity",
		Name:      "rate_limit_denies_total",
		Help:      "Requests rejected by the token-bucket rate limiter",
	}, []string{"tier"})

	return &Provider{
		rateLimitDenies: denies,
	}, nil
}

// RateLimitDenies exposes the per-tier limiter rejection metric.
func (p *Provider) RateLimitDenies() *prometheus.CounterVec {
	if p == nil {
		return prometheus.NewCounterVec(prometheus.CounterOpts{}, []string{"tier"})
	}
	return p.rateLimitDenies
}
