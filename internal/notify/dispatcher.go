// Package notify decouples committed order events from their transport. A
// Dispatcher accepts events without blocking and delivers them from a
// background goroutine.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	ErrQueueFull      = errors.New("notification queue full")
	ErrUnknownChannel = errors.New("unknown notification channel")
	ErrClosed         = errors.New("dispatcher closed")
)

// Sink delivers one event to a single channel.
type Sink interface {
	Publish(ctx context.Context, key string, event any) error
}

type envelope struct {
	ctx     context.Context
	channel string
	key     string
	payload any
}

type Option func(*Dispatcher)

// WithMaxRetries bounds redelivery attempts after the first failure.
func WithMaxRetries(n uint64) Option {
	return func(d *Dispatcher) {
		d.maxRetries = n
	}
}

// WithBackOff overrides the initial retry interval.
func WithBackOff(initial time.Duration) Option {
	return func(d *Dispatcher) {
		d.initialInterval = initial
	}
}

type Dispatcher struct {
	sinks  map[string]Sink
	queue  chan envelope
	logger *slog.Logger

	maxRetries      uint64
	initialInterval time.Duration

	dropped metric.Int64Counter

	mu     sync.RWMutex
	closed bool
}

func NewDispatcher(sinks map[string]Sink, queueSize int, logger *slog.Logger, opts ...Option) (*Dispatcher, error) {
	if queueSize <= 0 {
		return nil, fmt.Errorf("queue size must be positive, got %d", queueSize)
	}

	dropped, err := otel.Meter("github.com/joao-fontenele/storefront-orders/internal/notify").
		Int64Counter("notifications.dropped",
			metric.WithDescription("Events discarded before reaching their channel"))
	if err != nil {
		return nil, fmt.Errorf("notification metrics: %w", err)
	}

	d := &Dispatcher{
		sinks:           sinks,
		queue:           make(chan envelope, queueSize),
		logger:          logger,
		maxRetries:      3,
		initialInterval: 200 * time.Millisecond,
		dropped:         dropped,
	}

	for _, opt := range opts {
		opt(d)
	}

	return d, nil
}

// Publish enqueues the event and returns immediately. The trace in ctx is
// kept for delivery but its cancellation is not.
func (d *Dispatcher) Publish(ctx context.Context, channel, key string, payload any) error {
	if _, ok := d.sinks[channel]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownChannel, channel)
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return ErrClosed
	}

	select {
	case d.queue <- envelope{ctx: context.WithoutCancel(ctx), channel: channel, key: key, payload: payload}:
		return nil
	default:
		d.drop(ctx, channel)
		return fmt.Errorf("%w: %s", ErrQueueFull, channel)
	}
}

// Run delivers queued events until Close is called and the queue is drained,
// or until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-d.queue:
			if !ok {
				return
			}
			d.deliver(ctx, env)
		}
	}
}

// Close stops accepting events. Run returns once the backlog is delivered.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return
	}
	d.closed = true
	close(d.queue)
}

func (d *Dispatcher) deliver(ctx context.Context, env envelope) {
	sink := d.sinks[env.channel]

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = d.initialInterval
	retry := backoff.WithContext(backoff.WithMaxRetries(policy, d.maxRetries), ctx)

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		return sink.Publish(env.ctx, env.key, env.payload)
	}, retry)
	if err != nil {
		d.drop(env.ctx, env.channel)
		d.logger.Error("dropping notification after retries",
			"error", err,
			"channel", env.channel,
			"key", env.key,
			"attempts", attempt,
		)
		return
	}

	if attempt > 1 {
		d.logger.Info("notification delivered after retry", "channel", env.channel, "key", env.key, "attempts", attempt)
	}
}

func (d *Dispatcher) drop(ctx context.Context, channel string) {
	d.dropped.Add(ctx, 1, metric.WithAttributes(attribute.String("channel", channel)))
}
