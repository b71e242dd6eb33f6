// Package idempotency lets a client retry an order submission without placing
// it twice.
package idempotency

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

const Header = "Idempotency-Key"

const maxKeyLength = 200

type State int

const (
	// StateNew means the caller now owns the key and must Finish or Abort it.
	StateNew State = iota
	StateInFlight
	StateDone
)

type Result struct {
	State   State
	OrderID int64
}

type Store interface {
	Begin(ctx context.Context, key string) (Result, error)
	Finish(ctx context.Context, key string, orderID int64) error
	Abort(ctx context.Context, key string) error
}

// Key returns the request's idempotency key scoped to the caller, or "" when
// the header is absent or unusable.
func Key(r *http.Request, userID int64) string {
	raw := strings.TrimSpace(r.Header.Get(Header))
	if raw == "" || len(raw) > maxKeyLength {
		return ""
	}
	return fmt.Sprintf("%d:%s", userID, raw)
}
