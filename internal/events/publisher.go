// Package events publishes sync-run summaries to Kafka for downstream
// consumers (dashboards, alerting). Publishing is optional: a nil writer
// disables it entirely.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/yourorg/market-data-collector/internal/model"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Publisher emits sync-run events. Safe to use with a nil kafka writer.
type Publisher struct {
	writer *kafka.Writer
	logger *zap.Logger
}

// NewPublisher creates a publisher over an optional kafka writer.
func NewPublisher(writer *kafka.Writer, logger *zap.Logger) *Publisher {
	return &Publisher{
		writer: writer,
		logger: logger,
	}
}

// NewWriter builds a kafka writer for the sync-events topic.
func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
	}
}

// PublishSyncRun emits one run summary. Failures are logged, not
// propagated: event delivery must never fail a completed sync.
func (p *Publisher) PublishSyncRun(ctx context.Context, event model.SyncRunEvent) {
	if p.writer == nil {
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("Failed to encode sync run event", zap.Error(err))
		return
	}

	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = p.writer.WriteMessages(writeCtx, kafka.Message{
		Key:   []byte(event.RunAt.UTC().Format(time.RFC3339)),
		Value: payload,
	})
	if err != nil {
		p.logger.Error("Failed to publish sync run event", zap.Error(err))
		return
	}

	p.logger.Debug("Published sync run event",
		zap.Int("instruments", event.Instruments),
		zap.Int("errors", len(event.Summary.Errors)))
}

// Close flushes and closes the underlying writer.
func (p *Publisher) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
