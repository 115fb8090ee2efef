// Package audit publishes ingest lifecycle events (document upserted,
// document removed) to an append-only stream so operators can reconstruct
// what happened to a tenant's corpus without replaying vector store state.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/cwrag/ragcore/internal/config"
)

// EventType names the audit event kinds emitted by the ingest pipeline.
type EventType string

const (
	EventDocumentUpserted EventType = "document_upserted"
	EventDocumentRemoved  EventType = "document_removed"
)

// Event is one audit record. Published best-effort: a publish failure never
// fails the ingest request it describes.
type Event struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	Tenant     string    `json:"tenant"`
	DocID      string    `json:"docId"`
	Version    int       `json:"version,omitempty"`
	ChunkCount int       `json:"chunkCount"`
	Timestamp  time.Time `json:"timestamp"`
}

// Publisher emits audit events. Implementations must not block the caller
// for longer than a short, bounded write timeout.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// New builds a Kafka-backed Publisher from cfg, or a no-op Publisher when
// Kafka is not configured (cfg.Enabled is false).
func New(cfg config.KafkaConfig) Publisher {
	if !cfg.Enabled {
		return noopPublisher{}
	}
	return &kafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        cfg.Topic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireOne,
			Async:        true,
		},
	}
}

type kafkaPublisher struct {
	writer *kafka.Writer
}

func (p *kafkaPublisher) Publish(ctx context.Context, ev Event) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.Tenant + ":" + ev.DocID),
		Value: data,
	})
}

func (p *kafkaPublisher) Close() error { return p.writer.Close() }

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, Event) error { return nil }
func (noopPublisher) Close() error                         { return nil }
