package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/joao-fontenele/storefront-orders/internal/domain"
)

var ErrRestockNeedsStrict = errors.New("restock on cancel requires strict transitions")

type LifecycleOption func(*LifecycleManager)

// WithStrictTransitions rejects moves that are not edges of the status graph.
func WithStrictTransitions() LifecycleOption {
	return func(m *LifecycleManager) {
		m.strict = true
	}
}

// WithRestockOnCancel returns an order's quantities to stock when it moves
// into CANCELLED.
func WithRestockOnCancel() LifecycleOption {
	return func(m *LifecycleManager) {
		m.restock = true
	}
}

type LifecycleManager struct {
	store     Store
	publisher Publisher
	logger    *slog.Logger
	metrics   *orderMetrics
	strict    bool
	restock   bool
	newID     func() string
	now       func() time.Time
}

func NewLifecycleManager(store Store, publisher Publisher, logger *slog.Logger, opts ...LifecycleOption) (*LifecycleManager, error) {
	m, err := newOrderMetrics()
	if err != nil {
		return nil, fmt.Errorf("order metrics: %w", err)
	}

	lm := &LifecycleManager{
		store:     store,
		publisher: publisher,
		logger:    logger,
		metrics:   m,
		newID:     uuid.NewString,
		now:       func() time.Time { return time.Now().UTC() },
	}

	for _, opt := range opts {
		opt(lm)
	}

	// Restock relies on CANCELLED being terminal.
	if lm.restock && !lm.strict {
		return nil, ErrRestockNeedsStrict
	}

	return lm, nil
}

func (m *LifecycleManager) UpdateStatus(ctx context.Context, orderID int64, status domain.OrderStatus) (*domain.Order, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown order status %q", domain.ErrInvalidInput, status)
	}

	var previous domain.OrderStatus
	var customerEmail string

	err := m.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		order, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return fmt.Errorf("lock order %d: %w", orderID, err)
		}
		if order == nil {
			return &domain.NotFoundError{Entity: domain.EntityOrder, ID: orderID}
		}

		if m.strict && !domain.CanTransition(order.Status, status) {
			return &domain.InvalidTransitionError{From: order.Status, To: status}
		}

		if err := tx.SetStatus(ctx, orderID, status); err != nil {
			return err
		}

		if m.restock && status == domain.OrderStatusCancelled {
			ledger := tx.Ledger()
			for _, item := range order.Items {
				if err := ledger.Increase(ctx, item.Product.ID, item.Quantity); err != nil {
					return err
				}
			}
		}

		previous = order.Status
		customerEmail = order.User.Email
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.metrics.statusChanged(ctx, status)
	m.logger.Info("order status updated",
		"order_id", orderID,
		"previous_status", previous,
		"status", status,
	)

	m.publishStatusChanged(ctx, domain.OrderStatusChangedEvent{
		EventID:        m.newID(),
		OrderID:        orderID,
		CustomerEmail:  customerEmail,
		PreviousStatus: previous,
		Status:         status,
		OccurredAt:     m.now(),
	})

	order, err := m.store.GetByID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("reload order %d: %w", orderID, err)
	}
	if order == nil {
		return nil, &domain.NotFoundError{Entity: domain.EntityOrder, ID: orderID}
	}

	return order, nil
}

func (m *LifecycleManager) publishStatusChanged(ctx context.Context, event domain.OrderStatusChangedEvent) {
	if m.publisher == nil {
		return
	}

	key := strconv.FormatInt(event.OrderID, 10)
	if err := m.publisher.Publish(ctx, domain.ChannelOrderUpdated, key, event); err != nil {
		m.metrics.publishFailure(ctx, domain.ChannelOrderUpdated)
		m.logger.Error("failed to publish order status changed event", "error", err, "order_id", event.OrderID)
	}
}
