// Package kafka feeds candidate events published on a Kafka topic into the
// relay's push buffer.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"notification-relay/internal/errors"
	"notification-relay/internal/logging"
	"notification-relay/internal/models"
)

type Config struct {
	Broker  string // comma-separated list
	Topic   string
	GroupID string
}

// Sink receives decoded candidates; capture.Buffer satisfies it.
type Sink interface {
	Push(cands ...models.CandidateEvent)
}

type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

type Consumer struct {
	reader     messageReader
	sink       Sink
	logger     *logging.Logger
	retryDelay time.Duration
}

func NewConsumer(cfg Config, sink Sink, logger *logging.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     strings.Split(cfg.Broker, ","),
		Topic:       cfg.Topic,
		GroupID:     cfg.GroupID,
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafka.LastOffset,
	})
	return &Consumer{reader: r, sink: sink, logger: logger, retryDelay: time.Second}
}

// Run reads until ctx is cancelled. Undecodable messages are logged and skipped.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.Infof("Kafka consumer started")
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Infof("Kafka consumer stopped")
				return nil
			}
			c.logger.Errorf("Read message failed: %v", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.retryDelay):
			}
			continue
		}

		cand, err := decodeCandidate(msg)
		if err != nil {
			c.logger.Warnf("Skipping message at offset %d: %v", msg.Offset, err)
			continue
		}
		c.sink.Push(cand)
		c.logger.Debugf("Captured candidate from Kafka: %s/%s", cand.SourceApp, cand.Title)
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}

func decodeCandidate(msg kafka.Message) (models.CandidateEvent, error) {
	var cand models.CandidateEvent
	if err := json.Unmarshal(msg.Value, &cand); err != nil {
		return cand, errors.NewParse("decode kafka candidate", err)
	}
	if cand.SourceApp == "" && cand.Title == "" && cand.Body == "" {
		return cand, errors.NewParse("decode kafka candidate", fmt.Errorf("empty candidate"))
	}
	if cand.CapturedAt.IsZero() {
		cand.CapturedAt = msg.Time
	}
	return cand, nil
}
