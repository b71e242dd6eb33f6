package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/joao-fontenele/storefront-orders/internal/domain"
	"github.com/joao-fontenele/storefront-orders/internal/users"
)

type StockStore interface {
	ListAll(ctx context.Context) ([]domain.Product, error)
	GetStock(ctx context.Context, productID int64) (*domain.Product, error)
	Increase(ctx context.Context, productID int64, quantity int) error
}

type Handler struct {
	repo   StockStore
	users  users.Lookup
	logger *slog.Logger
}

func NewHandler(repo StockStore, lookup users.Lookup, logger *slog.Logger) *Handler {
	return &Handler{
		repo:   repo,
		users:  lookup,
		logger: logger,
	}
}

func (h *Handler) Register(mux *http.ServeMux, wrap func(http.HandlerFunc) http.HandlerFunc) {
	if wrap == nil {
		wrap = func(f http.HandlerFunc) http.HandlerFunc { return f }
	}

	mux.HandleFunc("GET /products", wrap(h.HandleListStock))
	mux.HandleFunc("GET /products/{id}/stock", wrap(h.HandleGetStock))
	mux.HandleFunc("POST /products/{id}/stock/increase", wrap(h.HandleIncrease))
}

func (h *Handler) HandleListStock(w http.ResponseWriter, r *http.Request) {
	products, err := h.repo.ListAll(r.Context())
	if err != nil {
		h.logger.Error("failed to list stock", "error", err)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.logger.Info("stock listed", "count", len(products))
	h.writeJSON(w, http.StatusOK, products)
}

func (h *Handler) HandleGetStock(w http.ResponseWriter, r *http.Request) {
	productID, ok := h.productID(w, r)
	if !ok {
		return
	}

	product, err := h.repo.GetStock(r.Context(), productID)
	if err != nil {
		h.logger.Error("failed to get stock", "error", err, "product_id", productID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if product == nil {
		h.writeError(w, http.StatusNotFound, "product not found")
		return
	}

	h.writeJSON(w, http.StatusOK, product)
}

type increaseRequest struct {
	Quantity int `json:"quantity"`
}

func (h *Handler) HandleIncrease(w http.ResponseWriter, r *http.Request) {
	caller, err := users.RequireAdmin(r, h.users)
	if err != nil {
		h.writeCallerError(w, err)
		return
	}

	productID, ok := h.productID(w, r)
	if !ok {
		return
	}

	var req increaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.repo.Increase(r.Context(), productID, req.Quantity); err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidInput):
			h.writeError(w, http.StatusBadRequest, "quantity must be positive")
		case errors.Is(err, domain.ErrNotFound):
			h.writeError(w, http.StatusNotFound, "product not found")
		default:
			h.logger.Error("failed to increase stock", "error", err, "product_id", productID, "quantity", req.Quantity)
			h.writeError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	product, err := h.repo.GetStock(r.Context(), productID)
	if err != nil || product == nil {
		h.logger.Error("failed to get updated stock", "error", err, "product_id", productID)
		h.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.logger.Info("stock increased",
		"product_id", productID,
		"quantity", req.Quantity,
		"stock", product.Stock,
		"admin_id", caller.ID,
	)
	h.writeJSON(w, http.StatusOK, product)
}

func (h *Handler) productID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		h.writeError(w, http.StatusBadRequest, "invalid product id")
		return 0, false
	}
	return id, true
}

func (h *Handler) writeCallerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, users.ErrUnauthenticated):
		h.writeError(w, http.StatusUnauthorized, "unauthenticated")
	case errors.Is(err, users.ErrForbidden):
		h.writeError(w, http.StatusForbidden, "admin role required")
	default:
		h.logger.Error("failed to resolve caller", "error", err)
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
