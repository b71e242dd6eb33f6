package inventory

import (
	"context"
	"database/sql"

	"github.com/joao-fontenele/storefront-orders/internal/domain"
)

type InventoryRepository struct {
	db     *sql.DB
	ledger *Ledger
}

func NewInventoryRepository(db *sql.DB) *InventoryRepository {
	return &InventoryRepository{db: db, ledger: NewLedger(db)}
}

func (r *InventoryRepository) ListAll(ctx context.Context) ([]domain.Product, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, price, stock, category_id
		FROM products
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	products := []domain.Product{}
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, *product)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return products, nil
}

func (r *InventoryRepository) GetStock(ctx context.Context, productID int64) (*domain.Product, error) {
	product, err := scanProduct(r.db.QueryRowContext(ctx, `
		SELECT id, name, price, stock, category_id
		FROM products
		WHERE id = $1
	`, productID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	return product, nil
}

// Increase restocks a product outside any order transaction.
func (r *InventoryRepository) Increase(ctx context.Context, productID int64, quantity int) error {
	return r.ledger.Increase(ctx, productID, quantity)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProduct(s scanner) (*domain.Product, error) {
	product := &domain.Product{}
	var categoryID sql.NullInt64

	if err := s.Scan(&product.ID, &product.Name, &product.Price, &product.Stock, &categoryID); err != nil {
		return nil, err
	}

	if categoryID.Valid {
		product.CategoryID = &categoryID.Int64
	}

	return product, nil
}
