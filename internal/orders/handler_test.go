package orders

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/joao-fontenele/storefront-orders/internal/domain"
	"github.com/joao-fontenele/storefront-orders/internal/idempotency"
	"github.com/joao-fontenele/storefront-orders/internal/users"
)

type memIdempotency struct {
	mu      sync.Mutex
	entries map[string]int64
	err     error
}

func newMemIdempotency() *memIdempotency {
	return &memIdempotency{entries: map[string]int64{}}
}

func (m *memIdempotency) Begin(_ context.Context, key string) (idempotency.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return idempotency.Result{}, m.err
	}
	orderID, ok := m.entries[key]
	switch {
	case !ok:
		m.entries[key] = 0
		return idempotency.Result{State: idempotency.StateNew}, nil
	case orderID == 0:
		return idempotency.Result{State: idempotency.StateInFlight}, nil
	default:
		return idempotency.Result{State: idempotency.StateDone, OrderID: orderID}, nil
	}
}

func (m *memIdempotency) Finish(_ context.Context, key string, orderID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = orderID
	return nil
}

func (m *memIdempotency) Abort(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

type testEnv struct {
	store *memStore
	idem  *memIdempotency
	srv   *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := newMemStore(exampleProducts(1)...)
	idem := newMemIdempotency()

	coordinator := newTestCoordinator(t, store, nil)
	lifecycle := newTestLifecycle(t, store, nil)

	mux := http.NewServeMux()
	NewHandler(coordinator, lifecycle, store, testUsers(), idem, testLogger()).Register(mux, nil)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return &testEnv{store: store, idem: idem, srv: srv}
}

func (e *testEnv) do(t *testing.T, method, path, caller, body string, headers ...string) *http.Response {
	t.Helper()

	req, err := http.NewRequest(method, e.srv.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	if caller != "" {
		req.Header.Set(users.HeaderUserID, caller)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()

	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return v
}

const exampleOrderBody = `{"lines":[{"product_id":1,"quantity":2},{"product_id":2,"quantity":1}]}`

func TestHandleCreate(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/orders", "2", exampleOrderBody)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	order := decode[domain.Order](t, resp)
	if order.User.ID != testCustomer.ID {
		t.Errorf("expected order for user 2, got %d", order.User.ID)
	}
	if !order.Total.Equal(mustDecimal("40.00")) {
		t.Errorf("expected total 40.00, got %s", order.Total)
	}
	if len(order.Items) != 2 || order.Items[0].Product.Name != "Keyboard" {
		t.Errorf("unexpected items: %+v", order.Items)
	}
}

func TestHandleCreateErrors(t *testing.T) {
	tests := []struct {
		name       string
		caller     string
		body       string
		wantStatus int
		wantError  string
	}{
		{name: "no caller", caller: "", body: exampleOrderBody, wantStatus: http.StatusUnauthorized},
		{name: "unknown caller", caller: "77", body: exampleOrderBody, wantStatus: http.StatusUnauthorized},
		{name: "malformed body", caller: "2", body: `{"lines":`, wantStatus: http.StatusBadRequest},
		{name: "empty lines", caller: "2", body: `{"lines":[]}`, wantStatus: http.StatusBadRequest},
		{name: "unknown product", caller: "2", body: `{"lines":[{"product_id":9,"quantity":1}]}`, wantStatus: http.StatusNotFound, wantError: "product 9 not found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)

			resp := env.do(t, http.MethodPost, "/orders", tt.caller, tt.body)
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("expected %d, got %d", tt.wantStatus, resp.StatusCode)
			}
			if tt.wantError != "" {
				body := decode[map[string]string](t, resp)
				if body["error"] != tt.wantError {
					t.Errorf("expected error %q, got %q", tt.wantError, body["error"])
				}
			}
		})
	}
}

func TestHandleCreateInsufficientStock(t *testing.T) {
	env := newTestEnv(t)

	body := `{"lines":[{"product_id":1,"quantity":2},{"product_id":2,"quantity":3}]}`
	resp := env.do(t, http.MethodPost, "/orders", "2", body)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}

	got := decode[insufficientStockResponse](t, resp)
	if got.ProductID != 2 || got.ProductName != "Mouse" || got.Requested != 3 || got.Available != 1 {
		t.Errorf("unexpected conflict body: %+v", got)
	}
	if env.store.stock(1) != 5 {
		t.Errorf("expected product 1 stock to stay 5, got %d", env.store.stock(1))
	}
}

func TestHandleCreateIdempotent(t *testing.T) {
	env := newTestEnv(t)

	first := env.do(t, http.MethodPost, "/orders", "2", `{"lines":[{"product_id":1,"quantity":1}]}`, idempotency.Header, "retry-1")
	if first.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", first.StatusCode)
	}
	created := decode[domain.Order](t, first)

	second := env.do(t, http.MethodPost, "/orders", "2", `{"lines":[{"product_id":1,"quantity":1}]}`, idempotency.Header, "retry-1")
	if second.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 on replay, got %d", second.StatusCode)
	}
	replayed := decode[domain.Order](t, second)

	if replayed.ID != created.ID {
		t.Errorf("expected replay of order %d, got %d", created.ID, replayed.ID)
	}
	if env.store.stock(1) != 4 {
		t.Errorf("expected a single decrement, stock is %d", env.store.stock(1))
	}
	if env.store.orderCount() != 1 {
		t.Errorf("expected one order, got %d", env.store.orderCount())
	}
}

func TestHandleCreateIdempotentInFlight(t *testing.T) {
	env := newTestEnv(t)
	env.idem.entries["2:busy"] = 0

	resp := env.do(t, http.MethodPost, "/orders", "2", exampleOrderBody, idempotency.Header, "busy")
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
	if env.store.orderCount() != 0 {
		t.Error("expected no order while key is in flight")
	}
}

func TestHandleCreateIdempotencyReleasedOnFailure(t *testing.T) {
	env := newTestEnv(t)

	body := `{"lines":[{"product_id":2,"quantity":5}]}`
	resp := env.do(t, http.MethodPost, "/orders", "2", body, idempotency.Header, "k")
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}

	if _, ok := env.idem.entries["2:k"]; ok {
		t.Error("expected the key to be released after a failed order")
	}
}

func TestHandleCreateIdempotencyStoreDown(t *testing.T) {
	env := newTestEnv(t)
	env.idem.err = errors.New("redis down")

	resp := env.do(t, http.MethodPost, "/orders", "2", exampleOrderBody, idempotency.Header, "k")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201 when the key store is down, got %d", resp.StatusCode)
	}
}

func TestHandleGet(t *testing.T) {
	env := newTestEnv(t)
	id := placeOrder(t, env.store)

	tests := []struct {
		name       string
		caller     string
		path       string
		wantStatus int
	}{
		{name: "owner", caller: "2", path: "/orders/1", wantStatus: http.StatusOK},
		{name: "admin", caller: "1", path: "/orders/1", wantStatus: http.StatusOK},
		{name: "missing", caller: "1", path: "/orders/50", wantStatus: http.StatusNotFound},
		{name: "bad id", caller: "1", path: "/orders/x", wantStatus: http.StatusBadRequest},
		{name: "no caller", caller: "", path: "/orders/1", wantStatus: http.StatusUnauthorized},
	}

	if id != 1 {
		t.Fatalf("expected first order id 1, got %d", id)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.do(t, http.MethodGet, tt.path, tt.caller, "")
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("expected %d, got %d", tt.wantStatus, resp.StatusCode)
			}
		})
	}
}

func TestHandleGetForbiddenForOtherUser(t *testing.T) {
	env := newTestEnv(t)

	c := newTestCoordinator(t, env.store, nil)
	order, err := c.CreateOrder(context.Background(), testAdmin.ID, []LineRequest{{ProductID: 1, Quantity: 1}})
	if err != nil {
		t.Fatalf("failed to place order: %v", err)
	}

	resp := env.do(t, http.MethodGet, "/orders/"+strconv.FormatInt(order.ID, 10), "2", "")
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.StatusCode)
	}
}

func TestHandleList(t *testing.T) {
	env := newTestEnv(t)
	placeOrder(t, env.store)

	if resp := env.do(t, http.MethodGet, "/orders", "2", ""); resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 for non-admin, got %d", resp.StatusCode)
	}

	resp := env.do(t, http.MethodGet, "/orders", "1", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if orders := decode[[]domain.Order](t, resp); len(orders) != 1 {
		t.Errorf("expected 1 order, got %d", len(orders))
	}
}

func TestHandleListMine(t *testing.T) {
	env := newTestEnv(t)
	placeOrder(t, env.store)

	resp := env.do(t, http.MethodGet, "/orders/mine", "1", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if orders := decode[[]domain.Order](t, resp); len(orders) != 0 {
		t.Errorf("expected admin to have no orders, got %d", len(orders))
	}

	resp = env.do(t, http.MethodGet, "/orders/mine", "2", "")
	if orders := decode[[]domain.Order](t, resp); len(orders) != 1 {
		t.Errorf("expected customer to have 1 order, got %d", len(orders))
	}
}

func TestHandleUpdateStatus(t *testing.T) {
	env := newTestEnv(t)
	placeOrder(t, env.store)

	tests := []struct {
		name       string
		caller     string
		path       string
		body       string
		wantStatus int
	}{
		{name: "non admin", caller: "2", path: "/orders/1/status", body: `{"status":"APPROVED"}`, wantStatus: http.StatusForbidden},
		{name: "unknown status", caller: "1", path: "/orders/1/status", body: `{"status":"LOST"}`, wantStatus: http.StatusBadRequest},
		{name: "missing order", caller: "1", path: "/orders/42/status", body: `{"status":"APPROVED"}`, wantStatus: http.StatusNotFound},
		{name: "admin approves", caller: "1", path: "/orders/1/status", body: `{"status":"APPROVED"}`, wantStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.do(t, http.MethodPatch, tt.path, tt.caller, tt.body)
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("expected %d, got %d", tt.wantStatus, resp.StatusCode)
			}
		})
	}

	order, _ := env.store.GetByID(context.Background(), 1)
	if order.Status != domain.OrderStatusApproved {
		t.Errorf("expected APPROVED, got %s", order.Status)
	}
}

func TestWriteServiceErrorInvalidTransition(t *testing.T) {
	h := &Handler{logger: testLogger()}
	rec := httptest.NewRecorder()

	h.writeServiceError(rec, &domain.InvalidTransitionError{From: domain.OrderStatusDelivered, To: domain.OrderStatusPending})

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}

	var body invalidTransitionResponse
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body.From != domain.OrderStatusDelivered || body.To != domain.OrderStatusPending {
		t.Errorf("unexpected body: %+v", body)
	}
}
