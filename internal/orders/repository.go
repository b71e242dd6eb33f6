package orders

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/joao-fontenele/storefront-orders/internal/domain"
	"github.com/joao-fontenele/storefront-orders/internal/inventory"
)

const foreignKeyViolation = "23503"

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type OrderRepository struct {
	db *sql.DB
}

func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

func (r *OrderRepository) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(ctx, &pgTx{tx: tx, ledger: inventory.NewLedger(tx)}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}

func (r *OrderRepository) GetByID(ctx context.Context, orderID int64) (*domain.Order, error) {
	return getOrder(ctx, r.db, orderID, false)
}

func (r *OrderRepository) List(ctx context.Context) ([]domain.Order, error) {
	return listOrders(ctx, r.db, `
		SELECT o.id, o.status, o.created_at, u.id, u.username, u.email
		FROM orders o
		JOIN users u ON u.id = o.user_id
		ORDER BY o.created_at DESC, o.id DESC
	`)
}

func (r *OrderRepository) ListByUser(ctx context.Context, userID int64) ([]domain.Order, error) {
	return listOrders(ctx, r.db, `
		SELECT o.id, o.status, o.created_at, u.id, u.username, u.email
		FROM orders o
		JOIN users u ON u.id = o.user_id
		WHERE o.user_id = $1
		ORDER BY o.created_at DESC, o.id DESC
	`, userID)
}

type pgTx struct {
	tx     *sql.Tx
	ledger *inventory.Ledger
}

func (t *pgTx) Ledger() Ledger {
	return t.ledger
}

func (t *pgTx) InsertOrder(ctx context.Context, order *domain.Order) error {
	err := t.tx.QueryRowContext(ctx, `
		INSERT INTO orders (user_id, status)
		VALUES ($1, $2)
		RETURNING id, created_at
	`, order.User.ID, order.Status).Scan(&order.ID, &order.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == foreignKeyViolation {
			return &domain.NotFoundError{Entity: domain.EntityUser, ID: order.User.ID}
		}
		return fmt.Errorf("insert order: %w", err)
	}

	for i := range order.Items {
		item := &order.Items[i]
		item.OrderID = order.ID

		err := t.tx.QueryRowContext(ctx, `
			INSERT INTO order_items (order_id, product_id, position, quantity, unit_price)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id
		`, order.ID, item.Product.ID, i, item.Quantity, item.UnitPrice).Scan(&item.ID)
		if err != nil {
			return fmt.Errorf("insert order item %d: %w", i, err)
		}
	}

	return nil
}

func (t *pgTx) LockOrder(ctx context.Context, orderID int64) (*domain.Order, error) {
	return getOrder(ctx, t.tx, orderID, true)
}

func (t *pgTx) SetStatus(ctx context.Context, orderID int64, status domain.OrderStatus) error {
	result, err := t.tx.ExecContext(ctx, `
		UPDATE orders SET status = $2, updated_at = NOW()
		WHERE id = $1
	`, orderID, status)
	if err != nil {
		return fmt.Errorf("update order %d status: %w", orderID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return &domain.NotFoundError{Entity: domain.EntityOrder, ID: orderID}
	}

	return nil
}

func getOrder(ctx context.Context, q queryer, orderID int64, forUpdate bool) (*domain.Order, error) {
	query := `
		SELECT o.id, o.status, o.created_at, u.id, u.username, u.email
		FROM orders o
		JOIN users u ON u.id = o.user_id
		WHERE o.id = $1
	`
	if forUpdate {
		query += " FOR UPDATE OF o"
	}

	order := &domain.Order{}
	err := q.QueryRowContext(ctx, query, orderID).Scan(
		&order.ID, &order.Status, &order.CreatedAt,
		&order.User.ID, &order.User.Username, &order.User.Email,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	byID := map[int64]*domain.Order{order.ID: order}
	if err := loadItems(ctx, q, byID, []int64{order.ID}); err != nil {
		return nil, err
	}

	return order, nil
}

func listOrders(ctx context.Context, q queryer, query string, args ...any) ([]domain.Order, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	orderMap := make(map[int64]*domain.Order)
	var orderIDs []int64

	for rows.Next() {
		order := &domain.Order{}
		if err := rows.Scan(
			&order.ID, &order.Status, &order.CreatedAt,
			&order.User.ID, &order.User.Username, &order.User.Email,
		); err != nil {
			return nil, err
		}
		orderMap[order.ID] = order
		orderIDs = append(orderIDs, order.ID)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(orderIDs) == 0 {
		return []domain.Order{}, nil
	}

	if err := loadItems(ctx, q, orderMap, orderIDs); err != nil {
		return nil, err
	}

	orders := make([]domain.Order, 0, len(orderIDs))
	for _, id := range orderIDs {
		orders = append(orders, *orderMap[id])
	}

	return orders, nil
}

// loadItems fills Items in submission order and recomputes each Total.
func loadItems(ctx context.Context, q queryer, orderMap map[int64]*domain.Order, orderIDs []int64) error {
	rows, err := q.QueryContext(ctx, `
		SELECT oi.id, oi.order_id, p.id, p.name, oi.quantity, oi.unit_price
		FROM order_items oi
		JOIN products p ON p.id = oi.product_id
		WHERE oi.order_id = ANY($1)
		ORDER BY oi.order_id, oi.position
	`, pq.Array(orderIDs))
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var item domain.LineItem
		if err := rows.Scan(
			&item.ID, &item.OrderID, &item.Product.ID, &item.Product.Name,
			&item.Quantity, &item.UnitPrice,
		); err != nil {
			return err
		}
		order := orderMap[item.OrderID]
		order.Items = append(order.Items, item)
	}

	if err := rows.Err(); err != nil {
		return err
	}

	for _, order := range orderMap {
		if order.Items == nil {
			order.Items = []domain.LineItem{}
		}
		order.ComputeTotal()
	}

	return nil
}
