package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// publisher is the subset of *nats.Conn the backend uses.
type publisher interface {
	Publish(subject string, data []byte) error
}

// NATSBackend publishes each event to <subject>.<event type>.
type NATSBackend struct {
	conn    publisher
	nc      *nats.Conn
	subject string
}

// DialNATS connects to url and returns a backend publishing under subject.
func DialNATS(url, subject string) (*NATSBackend, error) {
	nc, err := nats.Connect(url,
		nats.Name("dotbot"),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return &NATSBackend{conn: nc, nc: nc, subject: subject}, nil
}

func (n *NATSBackend) Name() string { return "nats" }

// Deliver publishes e as JSON.
func (n *NATSBackend) Deliver(ctx context.Context, e Event) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled before publish: %w", err)
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	subject := n.subject + "." + string(e.Event)
	if err := n.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Close drains and closes the connection.
func (n *NATSBackend) Close() error {
	if n.nc == nil {
		return nil
	}
	if err := n.nc.Drain(); err != nil {
		n.nc.Close()
		return fmt.Errorf("drain NATS: %w", err)
	}
	return nil
}
