// Package nats publishes announcements to NATS JetStream subjects.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// DefaultStream is the JetStream stream that retains announcements.
const DefaultStream = "SCANNER_ANNOUNCEMENTS"

// Config describes the NATS connection and subject layout.
type Config struct {
	URL string
	// Stream is created or updated on Connect to capture Prefix.>.
	Stream string
	// Prefix is prepended to topic names to form subjects.
	Prefix string
	// MaxAge bounds how long announcements are retained.
	MaxAge time.Duration
}

// Publisher publishes JSON payloads through JetStream.
type Publisher struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	prefix string
}

// Connect dials NATS, ensures the announcement stream exists and returns a Publisher.
func Connect(ctx context.Context, cfg Config) (*Publisher, error) {
	if cfg.Stream == "" {
		cfg.Stream = DefaultStream
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "scanner"
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 24 * time.Hour
	}
	nc, err := nats.Connect(cfg.URL,
		nats.Name("mention-scanner"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("creating JetStream context: %w", err)
	}
	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:      cfg.Stream,
		Subjects:  []string{cfg.Prefix + ".>"},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.WorkQueuePolicy,
		MaxAge:    cfg.MaxAge,
		Discard:   jetstream.DiscardOld,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("creating stream %s: %w", cfg.Stream, err)
	}
	return &Publisher{nc: nc, js: js, prefix: cfg.Prefix}, nil
}

// Subject maps a topic name onto the publisher's subject namespace.
func Subject(prefix, topic string) string {
	if prefix == "" {
		return topic
	}
	return prefix + "." + topic
}

// Publish marshals payload to JSON and publishes it to the topic's subject.
// The returned ID is the JetStream stream sequence.
func (p *Publisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	msg := nats.NewMsg(Subject(p.prefix, topic))
	msg.Data = data
	msg.Header.Set("Content-Type", "application/json")
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(http.Header(msg.Header)))

	ack, err := p.js.PublishMsg(ctx, msg)
	if err != nil {
		return "", fmt.Errorf("publish to %s: %w", msg.Subject, err)
	}
	return strconv.FormatUint(ack.Sequence, 10), nil
}

// Close drains the underlying connection.
func (p *Publisher) Close() error {
	if p.nc == nil {
		return nil
	}
	if err := p.nc.Drain(); err != nil {
		return fmt.Errorf("drain NATS connection: %w", err)
	}
	return nil
}
