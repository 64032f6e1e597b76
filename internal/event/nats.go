// internal/event/nats.go
// Package event publishes catalog domain events to NATS JetStream.
// Events are best effort: callers log publish failures and carry on.
package event

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/trinetra-eo/cogcatalog/internal/model"
)

// Event types, also used as JetStream subjects.
const (
	TypeCogIngested       = "cogcat.cogs.ingested"
	TypeCogsPurged        = "cogcat.cogs.purged"
	TypeProductVisibility = "cogcat.products.visibility"
)

// Publisher defines the event publishing operations of the catalog.
type Publisher interface {
	PublishCogIngested(ctx context.Context, cog model.Cog) error
	PublishCogsPurged(ctx context.Context, cutoff int64, deleted int) error
	PublishProductVisibility(ctx context.Context, productIDs []string, visible bool) error

	// Close closes the publisher connection
	Close() error
}

// NewNoop returns a Publisher that drops every event.
func NewNoop() Publisher { return noop{} }

type noop struct{}

func (noop) PublishCogIngested(context.Context, model.Cog) error            { return nil }
func (noop) PublishCogsPurged(context.Context, int64, int) error            { return nil }
func (noop) PublishProductVisibility(context.Context, []string, bool) error { return nil }
func (noop) Close() error                                                   { return nil }

// natsPub is the NATS JetStream implementation of Publisher.
type natsPub struct {
	nc *nats.Conn
	js nats.JetStreamContext
}

// NewPublisher connects to url and prepares the catalog streams.
// An empty url, or any connection failure, yields the no-op publisher.
func NewPublisher(url string) Publisher {
	if url == "" {
		return noop{}
	}

	nc, err := nats.Connect(url, nats.Name("cogcatalog"))
	if err != nil {
		slog.Warn("NATS connect failed, using noop publisher", "error", err)
		return noop{}
	}

	js, err := nc.JetStream()
	if err != nil {
		slog.Warn("NATS JetStream context creation failed, using noop publisher", "error", err)
		nc.Close()
		return noop{}
	}

	if err := initStreams(js); err != nil {
		slog.Warn("NATS stream initialization failed, using noop publisher", "error", err)
		nc.Close()
		return noop{}
	}

	return &natsPub{nc: nc, js: js}
}

func initStreams(js nats.JetStreamContext) error {
	streams := []*nats.StreamConfig{
		{
			Name:      "COGCAT_COGS",
			Subjects:  []string{"cogcat.cogs.*"},
			Retention: nats.LimitsPolicy,
			MaxAge:    7 * 24 * time.Hour,
			Discard:   nats.DiscardOld,
			Storage:   nats.FileStorage,
		},
		{
			Name:      "COGCAT_PRODUCTS",
			Subjects:  []string{"cogcat.products.*"},
			Retention: nats.LimitsPolicy,
			MaxAge:    7 * 24 * time.Hour,
			Discard:   nats.DiscardOld,
			Storage:   nats.FileStorage,
		},
	}
	for _, sc := range streams {
		if _, err := js.StreamInfo(sc.Name); err == nil {
			continue
		}
		if _, err := js.AddStream(sc); err != nil {
			return fmt.Errorf("failed to create %s stream: %w", sc.Name, err)
		}
	}
	return nil
}

// Envelope wraps every published event.
type Envelope struct {
	Type          string      `json:"type"`
	Version       string      `json:"version"`
	OccurredAt    time.Time   `json:"occurredAt"`
	CorrelationID string      `json:"correlationId"`
	Payload       interface{} `json:"payload"`
}

// CogsPurged is the payload of a purge event.
type CogsPurged struct {
	Cutoff  int64 `json:"cutoff"`
	Deleted int   `json:"deleted"`
}

// ProductVisibility is the payload of a visibility change event.
type ProductVisibility struct {
	ProductIDs []string `json:"productIds"`
	IsVisible  bool     `json:"isVisible"`
}

func (p *natsPub) Close() error {
	if p.nc != nil {
		p.nc.Close()
	}
	return nil
}

func (p *natsPub) publish(ctx context.Context, subject string, payload interface{}, opts ...nats.PubOpt) error {
	b, err := json.Marshal(Envelope{
		Type:          subject,
		Version:       "1.0.0",
		OccurredAt:    time.Now().UTC(),
		CorrelationID: uuid.New().String(),
		Payload:       payload,
	})
	if err != nil {
		return err
	}
	_, err = p.js.Publish(subject, b, append(opts, nats.Context(ctx))...)
	return err
}

// PublishCogIngested publishes the stored cog. The cog id doubles as the JetStream
// message id so redelivered ingests are deduplicated by the server.
func (p *natsPub) PublishCogIngested(ctx context.Context, cog model.Cog) error {
	return p.publish(ctx, TypeCogIngested, cog, nats.MsgId(cog.ID))
}

func (p *natsPub) PublishCogsPurged(ctx context.Context, cutoff int64, deleted int) error {
	return p.publish(ctx, TypeCogsPurged, CogsPurged{Cutoff: cutoff, Deleted: deleted})
}

func (p *natsPub) PublishProductVisibility(ctx context.Context, productIDs []string, visible bool) error {
	return p.publish(ctx, TypeProductVisibility, ProductVisibility{ProductIDs: productIDs, IsVisible: visible})
}
