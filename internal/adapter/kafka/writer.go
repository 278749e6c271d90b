package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/incident-enrichment-service/internal/config"
	"github.com/couchcryptid/incident-enrichment-service/internal/domain"
)

// Writer produces incident cards to a Kafka topic.
// It implements pipeline.BatchLoader.
type Writer struct {
	writer *kafkago.Writer
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured sink topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaSinkTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Writer{writer: w, logger: logger}
}

// LoadBatch serializes and publishes multiple incident cards to the sink
// topic in a single WriteMessages call. Cards are keyed by incident id so
// updates to one incident stay on one partition.
func (w *Writer) LoadBatch(ctx context.Context, cards []domain.IncidentCard) error {
	if len(cards) == 0 {
		return nil
	}
	msgs := make([]kafkago.Message, len(cards))
	for i := range cards {
		msg, err := serializeToMessage(cards[i])
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	if err := w.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("write %d cards: %w", len(msgs), err)
	}
	w.logger.Debug("cards published", "count", len(msgs), "topic", w.writer.Topic)
	return nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals an IncidentCard into a Kafka message.
func serializeToMessage(card domain.IncidentCard) (kafkago.Message, error) {
	data, err := json.Marshal(card)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize incident card: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(card.IncidentID),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "hazard_type", Value: []byte(card.HazardType)},
			{Key: "severity", Value: []byte(card.Severity)},
			{Key: "built_at", Value: []byte(card.BuiltAt.Format(time.RFC3339))},
		},
	}, nil
}
