package orders

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/joao-fontenele/storefront-orders/internal/domain"
)

// memStore serializes transactions behind one mutex and applies a
// transaction's writes only when fn succeeds.
type memStore struct {
	mu          sync.Mutex
	products    map[int64]domain.Product
	orders      map[int64]domain.Order
	nextOrderID int64
	nextItemID  int64
	now         time.Time

	// failInsert, when set, is returned by InsertOrder.
	failInsert error
}

func newMemStore(products ...domain.Product) *memStore {
	s := &memStore{
		products: map[int64]domain.Product{},
		orders:   map[int64]domain.Order{},
		now:      time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	for _, p := range products {
		s.products[p.ID] = p
	}
	return s
}

func (s *memStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{
		store:       s,
		products:    make(map[int64]domain.Product, len(s.products)),
		orders:      make(map[int64]domain.Order, len(s.orders)),
		nextOrderID: s.nextOrderID,
		nextItemID:  s.nextItemID,
	}
	for id, p := range s.products {
		tx.products[id] = p
	}
	for id, o := range s.orders {
		tx.orders[id] = copyOrder(o)
	}

	if err := fn(ctx, tx); err != nil {
		return err
	}

	s.products = tx.products
	s.orders = tx.orders
	s.nextOrderID = tx.nextOrderID
	s.nextItemID = tx.nextItemID
	return nil
}

func (s *memStore) GetByID(_ context.Context, orderID int64) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[orderID]
	if !ok {
		return nil, nil
	}
	cp := copyOrder(o)
	return &cp, nil
}

func (s *memStore) List(context.Context) ([]domain.Order, error) {
	return s.filter(func(domain.Order) bool { return true }), nil
}

func (s *memStore) ListByUser(_ context.Context, userID int64) ([]domain.Order, error) {
	return s.filter(func(o domain.Order) bool { return o.User.ID == userID }), nil
}

func (s *memStore) filter(keep func(domain.Order) bool) []domain.Order {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []domain.Order{}
	for _, o := range s.orders {
		if keep(o) {
			out = append(out, copyOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

func (s *memStore) stock(productID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.products[productID].Stock
}

func (s *memStore) setPrice(productID int64, price string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.products[productID]
	p.Price = mustDecimal(price)
	s.products[productID] = p
}

func (s *memStore) orderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

type memTx struct {
	store       *memStore
	products    map[int64]domain.Product
	orders      map[int64]domain.Order
	nextOrderID int64
	nextItemID  int64
}

func (t *memTx) Ledger() Ledger {
	return memLedger{tx: t}
}

func (t *memTx) InsertOrder(_ context.Context, order *domain.Order) error {
	if t.store.failInsert != nil {
		return t.store.failInsert
	}

	t.nextOrderID++
	order.ID = t.nextOrderID
	order.CreatedAt = t.store.now
	for i := range order.Items {
		t.nextItemID++
		order.Items[i].ID = t.nextItemID
		order.Items[i].OrderID = order.ID
	}

	t.orders[order.ID] = copyOrder(*order)
	return nil
}

func (t *memTx) LockOrder(_ context.Context, orderID int64) (*domain.Order, error) {
	o, ok := t.orders[orderID]
	if !ok {
		return nil, nil
	}
	cp := copyOrder(o)
	return &cp, nil
}

func (t *memTx) SetStatus(_ context.Context, orderID int64, status domain.OrderStatus) error {
	o, ok := t.orders[orderID]
	if !ok {
		return &domain.NotFoundError{Entity: domain.EntityOrder, ID: orderID}
	}
	o.Status = status
	t.orders[orderID] = o
	return nil
}

type memLedger struct {
	tx *memTx
}

func (l memLedger) LockAndGet(_ context.Context, productID int64) (*domain.Product, error) {
	p, ok := l.tx.products[productID]
	if !ok {
		return nil, &domain.NotFoundError{Entity: domain.EntityProduct, ID: productID}
	}
	return &p, nil
}

func (l memLedger) Decrement(_ context.Context, productID int64, quantity int) error {
	p, ok := l.tx.products[productID]
	if !ok {
		return &domain.NotFoundError{Entity: domain.EntityProduct, ID: productID}
	}
	if p.Stock < quantity {
		return &domain.InsufficientStockError{ProductID: p.ID, ProductName: p.Name, Requested: quantity, Available: p.Stock}
	}
	p.Stock -= quantity
	l.tx.products[productID] = p
	return nil
}

func (l memLedger) Increase(_ context.Context, productID int64, quantity int) error {
	p, ok := l.tx.products[productID]
	if !ok {
		return &domain.NotFoundError{Entity: domain.EntityProduct, ID: productID}
	}
	p.Stock += quantity
	l.tx.products[productID] = p
	return nil
}

func copyOrder(o domain.Order) domain.Order {
	o.Items = append([]domain.LineItem(nil), o.Items...)
	return o
}

type fakeUsers map[int64]domain.User

func (f fakeUsers) FindByID(_ context.Context, id int64) (*domain.User, error) {
	u, ok := f[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

type published struct {
	channel string
	key     string
	payload any
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []published
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, channel, key string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, published{channel: channel, key: key, payload: payload})
	return nil
}

func (p *recordingPublisher) all() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]published(nil), p.events...)
}

var errPublishDown = errors.New("bus unavailable")

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var (
	testAdmin    = domain.User{ID: 1, Username: "admin", Email: "admin@example.com", Role: domain.RoleAdmin}
	testCustomer = domain.User{ID: 2, Username: "ana", Email: "ana@example.com", Role: domain.RoleUser}
)

func testUsers() fakeUsers {
	return fakeUsers{testAdmin.ID: testAdmin, testCustomer.ID: testCustomer}
}
