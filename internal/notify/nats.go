package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

// NATSSink publishes notifications as JSON on notifications.<topic>. The
// delay travels in the payload; devices schedule the alert locally.
type NATSSink struct {
	nc     *nats.Conn
	prefix string
}

func NewNATSSink(nc *nats.Conn) *NATSSink {
	return &NATSSink{nc: nc, prefix: "notifications"}
}

func (s *NATSSink) Subject(n Notification) string {
	n = normalize(n)
	return fmt.Sprintf("%s.%s", s.prefix, n.Topic)
}

func (s *NATSSink) Notify(ctx context.Context, n Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n = normalize(n)
	b, err := json.Marshal(n)
	if err != nil {
		return err
	}
	if err := s.nc.Publish(s.Subject(n), b); err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}
