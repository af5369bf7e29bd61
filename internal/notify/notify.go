package notify

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Notification is a one-shot user-facing alert.
type Notification struct {
	Topic     string        `json:"topic"`
	Title     string        `json:"title"`
	Body      string        `json:"body"`
	Delay     time.Duration `json:"-"`
	DelaySec  float64       `json:"delaySeconds"`
	CreatedAt time.Time     `json:"createdAt"`
	// Ref identifies the entity that caused the notification (journey id, city).
	Ref string `json:"ref,omitempty"`
}

// Sink delivers notifications. Implementations must be safe for concurrent use.
type Sink interface {
	Notify(ctx context.Context, n Notification) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, n Notification) error

func (f SinkFunc) Notify(ctx context.Context, n Notification) error { return f(ctx, n) }

// LogSink writes notifications to the log. Used when no push backend is configured.
type LogSink struct{}

func (LogSink) Notify(_ context.Context, n Notification) error {
	log.Info().
		Str("topic", n.Topic).
		Str("title", n.Title).
		Str("body", n.Body).
		Dur("delay", n.Delay).
		Msg("notification")
	return nil
}

// Wait blocks for the notification's delay, returning early if ctx is cancelled.
func Wait(ctx context.Context, n Notification) error {
	if n.Delay <= 0 {
		return nil
	}
	timer := time.NewTimer(n.Delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func normalize(n Notification) Notification {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	n.DelaySec = n.Delay.Seconds()
	if n.Topic == "" {
		n.Topic = "general"
	}
	return n
}
