//go:build integration

package orders

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/joao-fontenele/storefront-orders/internal/domain"
	"github.com/joao-fontenele/storefront-orders/internal/testutil"
	"github.com/joao-fontenele/storefront-orders/internal/users"
)

func setupOrdersDB(t *testing.T) (*sql.DB, *OrderRepository, *Coordinator) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	t.Cleanup(cancel)

	db := testutil.SetupPostgres(ctx, t)
	testutil.MustExec(t, db, `
		INSERT INTO users (id, username, email, role) VALUES
			(1, 'admin', 'admin@example.com', 'ADMIN'),
			(2, 'ana', 'ana@example.com', 'USER')
	`)
	testutil.MustExec(t, db, `
		INSERT INTO products (id, name, price, stock) VALUES
			(1, 'Keyboard', 10.00, 5),
			(2, 'Mouse', 20.00, 1)
	`)

	repo := NewOrderRepository(db)
	c, err := NewCoordinator(repo, users.NewRepository(db), nil, testLogger())
	if err != nil {
		t.Fatalf("failed to create coordinator: %v", err)
	}

	return db, repo, c
}

func productStock(t *testing.T, db *sql.DB, id int64) int {
	t.Helper()

	var stock int
	if err := db.QueryRow(`SELECT stock FROM products WHERE id = $1`, id).Scan(&stock); err != nil {
		t.Fatalf("failed to read stock: %v", err)
	}
	return stock
}

func TestPostgresCreateOrder(t *testing.T) {
	db, repo, c := setupOrdersDB(t)
	ctx := context.Background()

	order, err := c.CreateOrder(ctx, 2, []LineRequest{
		{ProductID: 2, Quantity: 1},
		{ProductID: 1, Quantity: 2},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if productStock(t, db, 1) != 3 || productStock(t, db, 2) != 0 {
		t.Errorf("unexpected stock after order")
	}
	if order.CreatedAt.IsZero() {
		t.Error("expected created_at from the database")
	}

	fetched, err := repo.GetByID(ctx, order.ID)
	if err != nil {
		t.Fatalf("failed to fetch order: %v", err)
	}
	if fetched == nil {
		t.Fatal("order not found")
	}
	if !fetched.Total.Equal(mustDecimal("40.00")) {
		t.Errorf("expected total 40.00, got %s", fetched.Total)
	}
	if len(fetched.Items) != 2 || fetched.Items[0].Product.Name != "Mouse" {
		t.Errorf("expected items in submission order, got %+v", fetched.Items)
	}
	if fetched.User.Email != "ana@example.com" {
		t.Errorf("unexpected user: %+v", fetched.User)
	}

	mine, err := repo.ListByUser(ctx, 2)
	if err != nil {
		t.Fatalf("failed to list orders: %v", err)
	}
	if len(mine) != 1 {
		t.Errorf("expected 1 order for user 2, got %d", len(mine))
	}

	none, err := repo.ListByUser(ctx, 1)
	if err != nil {
		t.Fatalf("failed to list orders: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("expected no orders for user 1, got %d", len(none))
	}
}

func TestPostgresRollback(t *testing.T) {
	db, _, c := setupOrdersDB(t)
	ctx := context.Background()

	_, err := c.CreateOrder(ctx, 2, []LineRequest{
		{ProductID: 1, Quantity: 2},
		{ProductID: 2, Quantity: 4},
	})
	var stockErr *domain.InsufficientStockError
	if !errors.As(err, &stockErr) || stockErr.ProductID != 2 {
		t.Fatalf("expected insufficient stock for product 2, got %v", err)
	}

	_, err = c.CreateOrder(ctx, 2, []LineRequest{
		{ProductID: 1, Quantity: 2},
		{ProductID: 404, Quantity: 1},
	})
	if !domain.IsNotFound(err, domain.EntityProduct) {
		t.Fatalf("expected product not found, got %v", err)
	}

	if productStock(t, db, 1) != 5 {
		t.Errorf("expected product 1 stock to stay 5, got %d", productStock(t, db, 1))
	}

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM orders`).Scan(&count); err != nil {
		t.Fatalf("failed to count orders: %v", err)
	}
	if count != 0 {
		t.Errorf("expected no orders, got %d", count)
	}
}

func TestPostgresConcurrentOrdersDoNotOversell(t *testing.T) {
	db, _, c := setupOrdersDB(t)
	testutil.MustExec(t, db, `UPDATE products SET stock = 10 WHERE id = 1`)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.CreateOrder(context.Background(), 2, []LineRequest{{ProductID: 1, Quantity: 6}})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		if !errors.Is(err, domain.ErrInsufficientStock) {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if succeeded != 1 {
		t.Fatalf("expected exactly one success, got %d", succeeded)
	}
	if got := productStock(t, db, 1); got != 4 {
		t.Errorf("expected final stock 4, got %d", got)
	}
}

func TestPostgresReversedLineOrderDoesNotDeadlock(t *testing.T) {
	db, _, c := setupOrdersDB(t)
	testutil.MustExec(t, db, `UPDATE products SET stock = 100`)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	const workers = 20
	var wg sync.WaitGroup
	errs := make(chan error, workers)

	for i := 0; i < workers; i++ {
		lines := []LineRequest{{ProductID: 1, Quantity: 1}, {ProductID: 2, Quantity: 1}}
		if i%2 == 1 {
			lines[0], lines[1] = lines[1], lines[0]
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.CreateOrder(ctx, 2, lines); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("order failed: %v", err)
	}

	if productStock(t, db, 1) != 80 || productStock(t, db, 2) != 80 {
		t.Errorf("expected both products at 80, got %d and %d", productStock(t, db, 1), productStock(t, db, 2))
	}
}

func TestPostgresLifecycleRestock(t *testing.T) {
	db, repo, c := setupOrdersDB(t)
	ctx := context.Background()

	order, err := c.CreateOrder(ctx, 2, []LineRequest{{ProductID: 1, Quantity: 2}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	m, err := NewLifecycleManager(repo, nil, testLogger(), WithStrictTransitions(), WithRestockOnCancel())
	if err != nil {
		t.Fatalf("failed to create lifecycle manager: %v", err)
	}

	updated, err := m.UpdateStatus(ctx, order.ID, domain.OrderStatusCancelled)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.Status != domain.OrderStatusCancelled {
		t.Errorf("expected CANCELLED, got %s", updated.Status)
	}
	if productStock(t, db, 1) != 5 {
		t.Errorf("expected stock restored to 5, got %d", productStock(t, db, 1))
	}

	if _, err := m.UpdateStatus(ctx, 999, domain.OrderStatusApproved); !domain.IsNotFound(err, domain.EntityOrder) {
		t.Errorf("expected order not found, got %v", err)
	}
}

func TestPostgresSnapshotPrice(t *testing.T) {
	db, repo, c := setupOrdersDB(t)
	ctx := context.Background()

	testutil.MustExec(t, db, `UPDATE products SET price = 99.99 WHERE id = 1`)
	order, err := c.CreateOrder(ctx, 2, []LineRequest{{ProductID: 1, Quantity: 1}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	testutil.MustExec(t, db, `UPDATE products SET price = 149.99 WHERE id = 1`)

	fetched, err := repo.GetByID(ctx, order.ID)
	if err != nil || fetched == nil {
		t.Fatalf("failed to fetch order: %v", err)
	}
	if !fetched.Items[0].UnitPrice.Equal(mustDecimal("99.99")) {
		t.Errorf("expected unit price 99.99, got %s", fetched.Items[0].UnitPrice)
	}
}
