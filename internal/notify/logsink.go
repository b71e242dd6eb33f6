package notify

import (
	"context"
	"log/slog"
)

// LogSink records events in the service log. It stands in for the bus when
// no brokers are configured.
type LogSink struct {
	channel string
	logger  *slog.Logger
}

func NewLogSink(channel string, logger *slog.Logger) *LogSink {
	return &LogSink{channel: channel, logger: logger}
}

func (s *LogSink) Publish(ctx context.Context, key string, event any) error {
	s.logger.InfoContext(ctx, "notification", "channel", s.channel, "key", key, "event", event)
	return nil
}
