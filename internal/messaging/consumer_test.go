package messaging

import (
	"errors"
	"testing"

	"github.com/cenkalti/backoff/v4"
)

func TestDiscard(t *testing.T) {
	cause := errors.New("bad payload")
	err := Discard(cause)

	if !errors.Is(err, cause) {
		t.Fatal("expected the cause to stay reachable")
	}

	var permanent *backoff.PermanentError
	if !errors.As(err, &permanent) {
		t.Fatal("expected a permanent error so retries stop")
	}

	var discarded *discardError
	if !errors.As(permanent.Err, &discarded) {
		t.Fatal("expected the discard marker to survive unwrapping by backoff.Retry")
	}
}

func TestDiscardStopsRetry(t *testing.T) {
	calls := 0
	err := backoff.Retry(func() error {
		calls++
		return Discard(errors.New("bad payload"))
	}, backoff.WithMaxRetries(&backoff.ZeroBackOff{}, 5))

	if calls != 1 {
		t.Errorf("expected a single attempt, got %d", calls)
	}

	var discarded *discardError
	if !errors.As(err, &discarded) {
		t.Errorf("expected discard marker, got %v", err)
	}
}
