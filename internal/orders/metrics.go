package orders

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/joao-fontenele/storefront-orders/internal/domain"
)

const meterName = "github.com/joao-fontenele/storefront-orders/internal/orders"

type orderMetrics struct {
	created       metric.Int64Counter
	rejected      metric.Int64Counter
	statusChanges metric.Int64Counter
	publishFailed metric.Int64Counter
}

// newOrderMetrics reads the global MeterProvider, a no-op until main installs
// the Prometheus one.
func newOrderMetrics() (*orderMetrics, error) {
	meter := otel.Meter(meterName)

	created, err := meter.Int64Counter("orders.created",
		metric.WithDescription("Orders committed"))
	if err != nil {
		return nil, err
	}

	rejected, err := meter.Int64Counter("orders.rejected",
		metric.WithDescription("Order submissions rolled back or refused"))
	if err != nil {
		return nil, err
	}

	statusChanges, err := meter.Int64Counter("orders.status_changes",
		metric.WithDescription("Committed order status transitions"))
	if err != nil {
		return nil, err
	}

	publishFailed, err := meter.Int64Counter("orders.publish_failed",
		metric.WithDescription("Events that could not be handed to the notification channel"))
	if err != nil {
		return nil, err
	}

	return &orderMetrics{
		created:       created,
		rejected:      rejected,
		statusChanges: statusChanges,
		publishFailed: publishFailed,
	}, nil
}

func (m *orderMetrics) orderCreated(ctx context.Context) {
	m.created.Add(ctx, 1)
}

func (m *orderMetrics) orderRejected(ctx context.Context, err error) {
	m.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", rejectReason(err))))
}

func (m *orderMetrics) statusChanged(ctx context.Context, status domain.OrderStatus) {
	m.statusChanges.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(status))))
}

func (m *orderMetrics) publishFailure(ctx context.Context, channel string) {
	m.publishFailed.Add(ctx, 1, metric.WithAttributes(attribute.String("channel", channel)))
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrInsufficientStock):
		return "insufficient_stock"
	default:
		return "error"
	}
}
