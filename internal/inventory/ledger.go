package inventory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/joao-fontenele/storefront-orders/internal/domain"
)

// Queryer is satisfied by both *sql.DB and *sql.Tx.
type Queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Ledger owns mutation of products.stock. Bound to a *sql.Tx, LockAndGet holds
// an exclusive row lock until that transaction ends.
type Ledger struct {
	q Queryer
}

func NewLedger(q Queryer) *Ledger {
	return &Ledger{q: q}
}

// LockAndGet must precede any stock read that informs a Decrement.
func (l *Ledger) LockAndGet(ctx context.Context, productID int64) (*domain.Product, error) {
	product, err := scanProduct(l.q.QueryRowContext(ctx, `
		SELECT id, name, price, stock, category_id
		FROM products
		WHERE id = $1
		FOR UPDATE
	`, productID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &domain.NotFoundError{Entity: domain.EntityProduct, ID: productID}
		}
		return nil, fmt.Errorf("lock product %d: %w", productID, err)
	}

	return product, nil
}

// Decrement expects the caller to hold the lock from LockAndGet. Stock is left
// unchanged when quantity exceeds it.
func (l *Ledger) Decrement(ctx context.Context, productID int64, quantity int) error {
	if quantity <= 0 {
		return fmt.Errorf("%w: quantity must be positive, got %d", domain.ErrInvalidInput, quantity)
	}

	result, err := l.q.ExecContext(ctx, `
		UPDATE products
		SET stock = stock - $2, updated_at = NOW()
		WHERE id = $1 AND stock >= $2
	`, productID, quantity)
	if err != nil {
		return fmt.Errorf("decrement product %d: %w", productID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return l.explainMiss(ctx, productID, quantity)
	}

	return nil
}

// Increase adds stock unconditionally. It is safe outside a transaction.
func (l *Ledger) Increase(ctx context.Context, productID int64, quantity int) error {
	if quantity <= 0 {
		return fmt.Errorf("%w: quantity must be positive, got %d", domain.ErrInvalidInput, quantity)
	}

	result, err := l.q.ExecContext(ctx, `
		UPDATE products
		SET stock = stock + $2, updated_at = NOW()
		WHERE id = $1
	`, productID, quantity)
	if err != nil {
		return fmt.Errorf("increase product %d: %w", productID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return &domain.NotFoundError{Entity: domain.EntityProduct, ID: productID}
	}

	return nil
}

func (l *Ledger) explainMiss(ctx context.Context, productID int64, quantity int) error {
	var name string
	var stock int

	err := l.q.QueryRowContext(ctx, `
		SELECT name, stock FROM products WHERE id = $1
	`, productID).Scan(&name, &stock)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return &domain.NotFoundError{Entity: domain.EntityProduct, ID: productID}
		}
		return fmt.Errorf("read product %d: %w", productID, err)
	}

	return &domain.InsufficientStockError{
		ProductID:   productID,
		ProductName: name,
		Requested:   quantity,
		Available:   stock,
	}
}
