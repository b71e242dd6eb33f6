package orders

import (
	"context"

	"github.com/joao-fontenele/storefront-orders/internal/domain"
)

// Ledger is the stock surface an order transaction needs. inventory.Ledger
// bound to the transaction satisfies it.
type Ledger interface {
	LockAndGet(ctx context.Context, productID int64) (*domain.Product, error)
	Decrement(ctx context.Context, productID int64, quantity int) error
	Increase(ctx context.Context, productID int64, quantity int) error
}

// Tx is a unit of work. Every write made through it commits or rolls back
// together.
type Tx interface {
	Ledger() Ledger
	// InsertOrder assigns ID and CreatedAt on the order and IDs on its items.
	InsertOrder(ctx context.Context, order *domain.Order) error
	// LockOrder returns nil, nil when the order does not exist.
	LockOrder(ctx context.Context, orderID int64) (*domain.Order, error)
	SetStatus(ctx context.Context, orderID int64, status domain.OrderStatus) error
}

type Store interface {
	// WithinTx returns the error from fn unchanged after rolling back.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	// GetByID returns nil, nil when the order does not exist.
	GetByID(ctx context.Context, orderID int64) (*domain.Order, error)
	List(ctx context.Context) ([]domain.Order, error)
	ListByUser(ctx context.Context, userID int64) ([]domain.Order, error)
}

// Publisher hands a committed event to the notification channels. It must not
// block the caller on the transport.
type Publisher interface {
	Publish(ctx context.Context, channel, key string, payload any) error
}
