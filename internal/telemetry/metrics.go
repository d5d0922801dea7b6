package telemetry

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

type MetricsConfig struct {
	Enabled        bool
	ServiceName    string
	ServiceVersion string
}

// MeterProvider exposes otel instruments in Prometheus text format on its
// own registry, so tests can build several without collisions.
type MeterProvider struct {
	provider *sdkmetric.MeterProvider
	registry *prometheus.Registry
}

func (mp *MeterProvider) Shutdown(ctx context.Context) error {
	if mp.provider == nil {
		return nil
	}
	return mp.provider.Shutdown(ctx)
}

func (mp *MeterProvider) Enabled() bool {
	return mp.provider != nil
}

// Handler serves the scrape endpoint. It answers 404 when metrics are disabled.
func (mp *MeterProvider) Handler() http.Handler {
	if mp.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(mp.registry, promhttp.HandlerOpts{})
}

func NewMeterProvider(ctx context.Context, config MetricsConfig) (*MeterProvider, error) {
	if !config.Enabled {
		return &MeterProvider{}, nil
	}

	registry := prometheus.NewRegistry()

	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	res, err := newResource(ctx, config.ServiceName, config.ServiceVersion)
	if err != nil {
		return nil, err
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
		sdkmetric.WithResource(res),
	)

	otel.SetMeterProvider(provider)

	return &MeterProvider{
		provider: provider,
		registry: registry,
	}, nil
}
