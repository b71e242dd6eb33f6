package users

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/joao-fontenele/storefront-orders/internal/domain"
)

// HeaderUserID carries the authenticated caller id, set by the auth gateway
// in front of these services.
const HeaderUserID = "X-User-ID"

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
)

type Lookup interface {
	FindByID(ctx context.Context, id int64) (*domain.User, error)
}

// CallerID parses the caller identity header.
func CallerID(r *http.Request) (int64, error) {
	raw := strings.TrimSpace(r.Header.Get(HeaderUserID))
	if raw == "" {
		return 0, ErrUnauthenticated
	}

	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrUnauthenticated
	}

	return id, nil
}

// Caller resolves the caller to a user record. An id that no longer maps to
// a user is treated as unauthenticated.
func Caller(r *http.Request, lookup Lookup) (*domain.User, error) {
	id, err := CallerID(r)
	if err != nil {
		return nil, err
	}

	user, err := lookup.FindByID(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrUnauthenticated
	}

	return user, nil
}

// RequireAdmin resolves the caller and rejects non-admins with ErrForbidden.
func RequireAdmin(r *http.Request, lookup Lookup) (*domain.User, error) {
	user, err := Caller(r, lookup)
	if err != nil {
		return nil, err
	}
	if !user.IsAdmin() {
		return nil, ErrForbidden
	}

	return user, nil
}
