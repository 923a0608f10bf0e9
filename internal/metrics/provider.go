package metrics

import (
	"context"
	"fmt"
	"net/http"
	"os"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

const (
	ExporterPrometheus = "prometheus"
	ExporterStdout     = "stdout"
	ExporterNone       = "none"
)

const meterName = "github.com/angeloszaimis/driftwatch"

// Provider owns the meter provider and, for Prometheus, the scrape handler.
type Provider struct {
	meterProvider *sdkmetric.MeterProvider
	handler       http.Handler
}

// NewProvider creates a meter provider for the named exporter: prometheus,
// stdout (periodic JSON to stderr) or none.
func NewProvider(exporter string) (*Provider, error) {
	switch exporter {
	case ExporterPrometheus:
		registry := promclient.NewRegistry()
		exp, err := prometheus.New(prometheus.WithRegisterer(registry))
		if err != nil {
			return nil, fmt.Errorf("failed to create Prometheus exporter: %w", err)
		}
		return &Provider{
			meterProvider: sdkmetric.NewMeterProvider(sdkmetric.WithReader(exp)),
			handler:       promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		}, nil

	case ExporterStdout:
		exp, err := stdoutmetric.New(stdoutmetric.WithWriter(os.Stderr))
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout metrics exporter: %w", err)
		}
		return &Provider{
			meterProvider: sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp))),
		}, nil

	case ExporterNone, "":
		return &Provider{meterProvider: sdkmetric.NewMeterProvider()}, nil

	default:
		return nil, fmt.Errorf("unknown metrics exporter: %q", exporter)
	}
}

// NewProviderWithReader wraps an existing reader, e.g. a ManualReader in tests.
func NewProviderWithReader(reader sdkmetric.Reader) *Provider {
	return &Provider{meterProvider: sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))}
}

func (p *Provider) Meter() metric.Meter {
	return p.meterProvider.Meter(meterName)
}

// Handler serves Prometheus scrapes, or 404 for other exporters.
func (p *Provider) Handler() http.Handler {
	if p.handler == nil {
		return http.NotFoundHandler()
	}
	return p.handler
}

// Shutdown flushes and stops every reader.
func (p *Provider) Shutdown(ctx context.Context) error {
	return p.meterProvider.Shutdown(ctx)
}
