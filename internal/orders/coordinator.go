package orders

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"

	"github.com/google/uuid"

	"github.com/joao-fontenele/storefront-orders/internal/domain"
	"github.com/joao-fontenele/storefront-orders/internal/users"
)

// LineRequest is one requested (product, quantity) pair.
type LineRequest struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

// Coordinator places orders. Stock checks, decrements and the order insert
// share one transaction, so a failed line leaves no trace.
type Coordinator struct {
	store     Store
	users     users.Lookup
	publisher Publisher
	logger    *slog.Logger
	metrics   *orderMetrics
	newID     func() string
}

func NewCoordinator(store Store, lookup users.Lookup, publisher Publisher, logger *slog.Logger) (*Coordinator, error) {
	m, err := newOrderMetrics()
	if err != nil {
		return nil, fmt.Errorf("order metrics: %w", err)
	}

	return &Coordinator{
		store:     store,
		users:     lookup,
		publisher: publisher,
		logger:    logger,
		metrics:   m,
		newID:     uuid.NewString,
	}, nil
}

func (c *Coordinator) CreateOrder(ctx context.Context, userID int64, lines []LineRequest) (*domain.Order, error) {
	order, err := c.createOrder(ctx, userID, lines)
	if err != nil {
		c.metrics.orderRejected(ctx, err)
		return nil, err
	}

	c.metrics.orderCreated(ctx)
	c.logger.Info("order created",
		"order_id", order.ID,
		"user_id", order.User.ID,
		"items", len(order.Items),
		"total", order.Total.StringFixed(2),
	)

	c.publishCreated(ctx, order)
	return order, nil
}

func (c *Coordinator) createOrder(ctx context.Context, userID int64, lines []LineRequest) (*domain.Order, error) {
	if err := validateLines(lines); err != nil {
		return nil, err
	}

	user, err := c.users.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("find user %d: %w", userID, err)
	}
	if user == nil {
		return nil, &domain.NotFoundError{Entity: domain.EntityUser, ID: userID}
	}

	var order *domain.Order
	err = c.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		ledger := tx.Ledger()
		locked := make(map[int64]*domain.Product, len(lines))

		for _, i := range lockOrder(lines) {
			line := lines[i]

			product, ok := locked[line.ProductID]
			if !ok {
				p, err := ledger.LockAndGet(ctx, line.ProductID)
				if err != nil {
					return err
				}
				product = p
				locked[line.ProductID] = product
			}

			if product.Stock < line.Quantity {
				return &domain.InsufficientStockError{
					ProductID:   product.ID,
					ProductName: product.Name,
					Requested:   line.Quantity,
					Available:   product.Stock,
				}
			}

			if err := ledger.Decrement(ctx, line.ProductID, line.Quantity); err != nil {
				return err
			}
			product.Stock -= line.Quantity
		}

		priced := make([]PricedLine, 0, len(lines))
		for _, line := range lines {
			priced = append(priced, PricedLine{Product: *locked[line.ProductID], Quantity: line.Quantity})
		}

		order = Build(*user, priced)
		return tx.InsertOrder(ctx, order)
	})
	if err != nil {
		return nil, err
	}

	return order, nil
}

func (c *Coordinator) publishCreated(ctx context.Context, order *domain.Order) {
	if c.publisher == nil {
		return
	}

	event := domain.NewOrderCreatedEvent(c.newID(), order)
	key := strconv.FormatInt(order.ID, 10)

	if err := c.publisher.Publish(ctx, domain.ChannelOrderCreated, key, event); err != nil {
		c.metrics.publishFailure(ctx, domain.ChannelOrderCreated)
		c.logger.Error("failed to publish order created event", "error", err, "order_id", order.ID)
	}
}

func validateLines(lines []LineRequest) error {
	if len(lines) == 0 {
		return fmt.Errorf("%w: order must contain at least one line", domain.ErrInvalidInput)
	}

	for i, line := range lines {
		if line.ProductID <= 0 {
			return fmt.Errorf("%w: line %d: product id must be positive", domain.ErrInvalidInput, i)
		}
		if line.Quantity <= 0 {
			return fmt.Errorf("%w: line %d: quantity must be positive, got %d", domain.ErrInvalidInput, i, line.Quantity)
		}
	}

	return nil
}

// lockOrder returns line indexes sorted by product id. Every transaction
// acquires row locks in this order, so two orders over the same products
// cannot wait on each other.
func lockOrder(lines []LineRequest) []int {
	idx := make([]int, len(lines))
	for i := range idx {
		idx[i] = i
	}

	sort.SliceStable(idx, func(a, b int) bool {
		return lines[idx[a]].ProductID < lines[idx[b]].ProductID
	})

	return idx
}
