package kafka

import (
	"context"
	"errors"
	"time"

	"github.com/aureeaubert/hull-closeio/internal/config"
	"github.com/segmentio/kafka-go"
)

type Message = kafka.Message

// Consumer reads platform notifications as a member of a consumer group.
// Offsets are committed explicitly once a batch has been synced.
type Consumer struct {
	r *kafka.Reader
}

// NewConsumer builds a group reader; missing sizes fall back to 1KB/10MB.
func NewConsumer(c config.KafkaConfig) (*Consumer, error) {
	if len(c.Brokers) == 0 || c.Topic == "" || c.GroupID == "" {
		return nil, errors.New("kafka: brokers, topic and group_id are required")
	}

	minBytes, maxBytes := c.MinBytes, c.MaxBytes
	if minBytes <= 0 {
		minBytes = 1 << 10
	}
	if maxBytes <= 0 {
		maxBytes = 10 << 20
	}
	commitEvery := time.Duration(c.CommitInterval) * time.Millisecond
	if commitEvery <= 0 {
		commitEvery = time.Second
	}

	return &Consumer{r: kafka.NewReader(kafka.ReaderConfig{
		Brokers:        c.Brokers,
		GroupID:        c.GroupID,
		Topic:          c.Topic,
		MinBytes:       minBytes,
		MaxBytes:       maxBytes,
		CommitInterval: commitEvery,
		MaxWait:        500 * time.Millisecond,
		StartOffset:    kafka.FirstOffset,
	})}, nil
}

// Fetch blocks for the next message without committing it.
func (c *Consumer) Fetch(ctx context.Context) (Message, error) {
	return c.r.FetchMessage(ctx)
}

// Commit acknowledges every message of a processed batch at once.
func (c *Consumer) Commit(ctx context.Context, msgs ...Message) error {
	if len(msgs) == 0 {
		return nil
	}
	return c.r.CommitMessages(ctx, msgs...)
}

// Lag is the reader's last known distance to the partition head.
func (c *Consumer) Lag() int64 { return c.r.Stats().Lag }

func (c *Consumer) Close() error { return c.r.Close() }
