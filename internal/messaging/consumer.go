package messaging

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

var consumerTracer = otel.Tracer("messaging/consumer")

// Message is what a handler sees of a fetched record.
type Message struct {
	Key       string
	EventType string
	Payload   []byte
}

type HandlerFunc func(ctx context.Context, msg Message) error

type discardError struct {
	err error
}

func (e *discardError) Error() string { return e.err.Error() }

func (e *discardError) Unwrap() error { return e.err }

// Discard marks a handler error as final. The message is committed and
// skipped instead of retried.
func Discard(err error) error {
	return backoff.Permanent(&discardError{err: err})
}

type Consumer struct {
	reader     *kafka.Reader
	topic      string
	groupID    string
	maxRetries uint64
	interval   time.Duration
	outcomes   metric.Int64Counter
}

type ConsumerOption func(*kafka.ReaderConfig, *Consumer)

func WithStartOffset(offset int64) ConsumerOption {
	return func(cfg *kafka.ReaderConfig, _ *Consumer) {
		cfg.StartOffset = offset
	}
}

// WithHandlerRetries sets how many times a failing handler is re-run before
// Consume gives up on the message.
func WithHandlerRetries(n uint64, initial time.Duration) ConsumerOption {
	return func(_ *kafka.ReaderConfig, c *Consumer) {
		c.maxRetries = n
		c.interval = initial
	}
}

func NewConsumer(brokers []string, topic, groupID string, opts ...ConsumerOption) (*Consumer, error) {
	outcomes, err := otel.Meter("github.com/joao-fontenele/storefront-orders/internal/messaging").
		Int64Counter("messaging.consumed",
			metric.WithDescription("Messages handled, by topic and outcome"))
	if err != nil {
		return nil, fmt.Errorf("consumer metrics: %w", err)
	}

	c := &Consumer{
		topic:      topic,
		groupID:    groupID,
		maxRetries: 3,
		interval:   500 * time.Millisecond,
		outcomes:   outcomes,
	}

	cfg := kafka.ReaderConfig{
		Brokers: brokers,
		Topic:   topic,
		GroupID: groupID,
	}
	for _, opt := range opts {
		opt(&cfg, c)
	}

	c.reader = kafka.NewReader(cfg)
	return c, nil
}

// Consume fetches until ctx is done. A message is committed once its handler
// succeeds or discards it. When retries run out the error is returned with the
// message uncommitted, so the group sees it again.
func (c *Consumer) Consume(ctx context.Context, handler HandlerFunc) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			return err
		}

		err = c.handle(ctx, msg, handler)

		var discarded *discardError
		switch {
		case err == nil:
			c.record(ctx, "ok")
		case errors.As(err, &discarded):
			c.record(ctx, "discarded")
		default:
			c.record(ctx, "failed")
			return fmt.Errorf("handle %s offset %d: %w", c.topic, msg.Offset, err)
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			return fmt.Errorf("commit %s offset %d: %w", c.topic, msg.Offset, err)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message, handler HandlerFunc) error {
	eventType := header(&msg, HeaderEventType)

	spanCtx, span := consumerTracer.Start(
		otel.GetTextMapPropagator().Extract(ctx, NewMessageCarrier(&msg)),
		"process "+c.topic,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			semconv.MessagingSystemKafka,
			semconv.MessagingOperationName("process"),
			semconv.MessagingOperationTypeDeliver,
			semconv.MessagingDestinationName(c.topic),
			semconv.MessagingKafkaConsumerGroup(c.groupID),
			semconv.MessagingKafkaMessageOffset(int(msg.Offset)),
			semconv.MessagingDestinationPartitionID(strconv.Itoa(msg.Partition)),
			semconv.MessagingKafkaMessageKey(string(msg.Key)),
			attribute.String("messaging.event_type", eventType),
		),
	)
	defer span.End()

	in := Message{Key: string(msg.Key), EventType: eventType, Payload: msg.Value}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.interval

	attempts := 0
	err := backoff.Retry(func() error {
		attempts++
		return handler(spanCtx, in)
	}, backoff.WithContext(backoff.WithMaxRetries(policy, c.maxRetries), spanCtx))

	span.SetAttributes(attribute.Int("messaging.handler.attempts", attempts))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	return err
}

func (c *Consumer) record(ctx context.Context, outcome string) {
	c.outcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("topic", c.topic),
		attribute.String("outcome", outcome),
	))
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
