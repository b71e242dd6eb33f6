package telemetry

import (
	"context"
	"errors"
	"net/http"
)

type Telemetry struct {
	// Metrics serves the Prometheus scrape endpoint.
	Metrics  http.Handler
	shutdown []func(context.Context) error
}

// Setup installs tracing and metrics for one service.
func Setup(ctx context.Context, serviceName, serviceVersion string) (*Telemetry, error) {
	shutdownTracer, err := InitTracerProvider(ctx, serviceName, serviceVersion)
	if err != nil {
		return nil, err
	}

	metricsHandler, shutdownMeter, err := InitMeterProvider(serviceName, serviceVersion)
	if err != nil {
		_ = shutdownTracer(ctx)
		return nil, err
	}

	return &Telemetry{
		Metrics:  metricsHandler,
		shutdown: []func(context.Context) error{shutdownMeter, shutdownTracer},
	}, nil
}

// Shutdown flushes exporters. Providers are stopped in reverse start order.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	for _, fn := range t.shutdown {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
