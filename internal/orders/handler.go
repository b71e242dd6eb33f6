package orders

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/joao-fontenele/storefront-orders/internal/domain"
	"github.com/joao-fontenele/storefront-orders/internal/idempotency"
	"github.com/joao-fontenele/storefront-orders/internal/users"
)

const requestTimeout = 10 * time.Second

var errIdempotencyInFlight = errors.New("a request with this idempotency key is still being processed")

type OrderCreator interface {
	CreateOrder(ctx context.Context, userID int64, lines []LineRequest) (*domain.Order, error)
}

type StatusUpdater interface {
	UpdateStatus(ctx context.Context, orderID int64, status domain.OrderStatus) (*domain.Order, error)
}

type OrderReader interface {
	GetByID(ctx context.Context, orderID int64) (*domain.Order, error)
	List(ctx context.Context) ([]domain.Order, error)
	ListByUser(ctx context.Context, userID int64) ([]domain.Order, error)
}

type Handler struct {
	creator OrderCreator
	updater StatusUpdater
	reader  OrderReader
	users   users.Lookup
	idem    idempotency.Store
	logger  *slog.Logger
}

// NewHandler wires the order HTTP surface. idem may be nil, in which case
// Idempotency-Key headers are ignored.
func NewHandler(creator OrderCreator, updater StatusUpdater, reader OrderReader, lookup users.Lookup, idem idempotency.Store, logger *slog.Logger) *Handler {
	return &Handler{
		creator: creator,
		updater: updater,
		reader:  reader,
		users:   lookup,
		idem:    idem,
		logger:  logger,
	}
}

func (h *Handler) Register(mux *http.ServeMux, wrap func(http.HandlerFunc) http.HandlerFunc) {
	if wrap == nil {
		wrap = func(f http.HandlerFunc) http.HandlerFunc { return f }
	}

	mux.HandleFunc("POST /orders", wrap(h.HandleCreate))
	mux.HandleFunc("GET /orders", wrap(h.HandleList))
	mux.HandleFunc("GET /orders/mine", wrap(h.HandleListMine))
	mux.HandleFunc("GET /orders/{id}", wrap(h.HandleGet))
	mux.HandleFunc("PATCH /orders/{id}/status", wrap(h.HandleUpdateStatus))
}

type createOrderRequest struct {
	Lines []LineRequest `json:"lines"`
}

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	caller, err := users.Caller(r, h.users)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	key := ""
	if h.idem != nil {
		key = idempotency.Key(r, caller.ID)
	}

	if key != "" {
		result, err := h.idem.Begin(ctx, key)
		switch {
		case err != nil:
			h.logger.Warn("idempotency store unavailable, processing without key", "error", err, "user_id", caller.ID)
			key = ""
		case result.State == idempotency.StateInFlight:
			h.writeError(w, http.StatusConflict, errIdempotencyInFlight.Error())
			return
		case result.State == idempotency.StateDone:
			h.replay(ctx, w, result.OrderID)
			return
		}
	}

	order, err := h.creator.CreateOrder(ctx, caller.ID, req.Lines)
	if err != nil {
		if key != "" {
			if abortErr := h.idem.Abort(ctx, key); abortErr != nil {
				h.logger.Warn("failed to release idempotency key", "error", abortErr, "user_id", caller.ID)
			}
		}
		h.writeServiceError(w, err)
		return
	}

	if key != "" {
		if err := h.idem.Finish(ctx, key, order.ID); err != nil {
			h.logger.Warn("failed to record idempotency result", "error", err, "order_id", order.ID)
		}
	}

	h.writeJSON(w, http.StatusCreated, order)
}

func (h *Handler) replay(ctx context.Context, w http.ResponseWriter, orderID int64) {
	order, err := h.reader.GetByID(ctx, orderID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	if order == nil {
		h.writeServiceError(w, &domain.NotFoundError{Entity: domain.EntityOrder, ID: orderID})
		return
	}

	h.logger.Info("idempotent order replayed", "order_id", order.ID)
	h.writeJSON(w, http.StatusOK, order)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	caller, err := users.Caller(r, h.users)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	id, ok := h.orderID(w, r)
	if !ok {
		return
	}

	order, err := h.reader.GetByID(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	if order == nil {
		h.writeServiceError(w, &domain.NotFoundError{Entity: domain.EntityOrder, ID: id})
		return
	}

	if order.User.ID != caller.ID && !caller.IsAdmin() {
		h.writeServiceError(w, users.ErrForbidden)
		return
	}

	h.writeJSON(w, http.StatusOK, order)
}

type updateStatusRequest struct {
	Status domain.OrderStatus `json:"status"`
}

func (h *Handler) HandleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	caller, err := users.RequireAdmin(r, h.users)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	id, ok := h.orderID(w, r)
	if !ok {
		return
	}

	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), requestTimeout)
	defer cancel()

	order, err := h.updater.UpdateStatus(ctx, id, req.Status)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.logger.Info("order status changed by admin", "order_id", order.ID, "status", order.Status, "admin_id", caller.ID)
	h.writeJSON(w, http.StatusOK, order)
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	if _, err := users.RequireAdmin(r, h.users); err != nil {
		h.writeServiceError(w, err)
		return
	}

	orders, err := h.reader.List(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.logger.Info("orders listed", "count", len(orders))
	h.writeJSON(w, http.StatusOK, orders)
}

func (h *Handler) HandleListMine(w http.ResponseWriter, r *http.Request) {
	caller, err := users.Caller(r, h.users)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	orders, err := h.reader.ListByUser(r.Context(), caller.ID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, orders)
}

func (h *Handler) orderID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		h.writeError(w, http.StatusBadRequest, "invalid order id")
		return 0, false
	}
	return id, true
}

type insufficientStockResponse struct {
	Error       string `json:"error"`
	ProductID   int64  `json:"product_id"`
	ProductName string `json:"product_name"`
	Requested   int    `json:"requested"`
	Available   int    `json:"available"`
}

type invalidTransitionResponse struct {
	Error string             `json:"error"`
	From  domain.OrderStatus `json:"from"`
	To    domain.OrderStatus `json:"to"`
}

func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	var stockErr *domain.InsufficientStockError
	var transitionErr *domain.InvalidTransitionError

	switch {
	case errors.Is(err, users.ErrUnauthenticated):
		h.writeError(w, http.StatusUnauthorized, "unauthenticated")
	case errors.Is(err, users.ErrForbidden):
		h.writeError(w, http.StatusForbidden, "forbidden")
	case errors.As(err, &stockErr):
		h.writeJSON(w, http.StatusConflict, insufficientStockResponse{
			Error:       stockErr.Error(),
			ProductID:   stockErr.ProductID,
			ProductName: stockErr.ProductName,
			Requested:   stockErr.Requested,
			Available:   stockErr.Available,
		})
	case errors.As(err, &transitionErr):
		h.writeJSON(w, http.StatusConflict, invalidTransitionResponse{
			Error: transitionErr.Error(),
			From:  transitionErr.From,
			To:    transitionErr.To,
		})
	case errors.Is(err, domain.ErrNotFound):
		h.writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrInvalidInput):
		h.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		h.logger.Error("request timed out", "error", err)
		h.writeError(w, http.StatusServiceUnavailable, "request timed out")
	default:
		h.logger.Error("request failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
