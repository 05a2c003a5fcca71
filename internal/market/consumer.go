package market

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"
)

// Consumer wraps a Kafka consumer for the market tick topic. Records are
// decoded into TickMsg at this boundary; malformed records are counted,
// committed, and skipped so one bad producer cannot wedge a partition.
type Consumer struct {
	client         *kgo.Client
	logger         *zap.Logger
	topics         []string
	group          string
	running        int32
	pollCount      int64
	errorCount     int64
	malformedCount int64
}

// NewConsumer creates a new Kafka consumer.
func NewConsumer(brokers []string, group string, topics []string, logger *zap.Logger) (*Consumer, error) {
	opts := []kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.ConsumerGroup(group),
		kgo.ConsumeTopics(topics...),
		kgo.DisableAutoCommit(), // Manual commit after handler success
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}

	c := &Consumer{
		client: client,
		logger: logger,
		topics: topics,
		group:  group,
	}

	logger.Info("consumer initialized",
		zap.Strings("brokers", brokers),
		zap.String("group", group),
		zap.Strings("topics", topics),
	)

	// Start periodic logging
	go c.logStats()

	return c, nil
}

// Run starts consuming and calls handler for each decoded tick message.
func (c *Consumer) Run(ctx context.Context, handler func(context.Context, TickMsg) error) error {
	c.logger.Info("starting consumer",
		zap.String("group", c.group),
		zap.Strings("topics", c.topics),
	)

	atomic.StoreInt32(&c.running, 1)
	defer atomic.StoreInt32(&c.running, 0)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("consumer stopping", zap.String("group", c.group))
			return ctx.Err()
		default:
			fetches := c.client.PollFetches(ctx)
			if fetches.IsClientClosed() {
				return fmt.Errorf("kafka client closed")
			}

			iter := fetches.RecordIter()
			for !iter.Done() {
				record := iter.Next()

				rec := Record{
					Topic:     record.Topic,
					Key:       string(record.Key),
					Value:     record.Value,
					Partition: record.Partition,
					Offset:    record.Offset,
					Timestamp: record.Timestamp.UnixMilli(),
				}

				var tick TickMsg
				if err := json.Unmarshal(rec.Value, &tick); err != nil {
					atomic.AddInt64(&c.malformedCount, 1)
					c.logger.Warn("malformed tick record skipped",
						zap.String("topic", rec.Topic),
						zap.Int32("partition", rec.Partition),
						zap.Int64("offset", rec.Offset),
						zap.Error(err),
					)
					c.client.CommitRecords(ctx, record)
					continue
				}

				err := c.handleWithRetry(ctx, tick, rec, handler)
				if err != nil {
					c.logger.Error("handler failed after retries",
						zap.String("topic", rec.Topic),
						zap.String("key", rec.Key),
						zap.String("event_id", tick.EventID),
						zap.Error(err),
					)
					atomic.AddInt64(&c.errorCount, 1)
					// Continue processing other records
					continue
				}

				// Commit offset after successful handling
				c.client.CommitRecords(ctx, record)
				atomic.AddInt64(&c.pollCount, 1)
			}
		}
	}
}

// handleWithRetry calls handler with bounded retries.
func (c *Consumer) handleWithRetry(ctx context.Context, tick TickMsg, rec Record, handler func(context.Context, TickMsg) error) error {
	maxRetries := 3
	backoff := 100 * time.Millisecond

	for attempt := 0; attempt < maxRetries; attempt++ {
		err := handler(ctx, tick)
		if err == nil {
			return nil
		}

		if attempt < maxRetries-1 {
			c.logger.Warn("handler failed, retrying",
				zap.String("topic", rec.Topic),
				zap.String("key", rec.Key),
				zap.Int("attempt", attempt+1),
				zap.Error(err),
			)
			time.Sleep(backoff)
			backoff *= 2 // Exponential backoff
		}
	}

	return fmt.Errorf("handler failed after %d attempts", maxRetries)
}

// Close closes the consumer.
func (c *Consumer) Close() {
	if c.client != nil {
		c.client.Close()
	}
}

// IsRunning returns whether the consumer is running.
func (c *Consumer) IsRunning() bool {
	return atomic.LoadInt32(&c.running) == 1
}

// logStats logs consumer statistics periodically.
func (c *Consumer) logStats() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		polls := atomic.LoadInt64(&c.pollCount)
		errors := atomic.LoadInt64(&c.errorCount)
		malformed := atomic.LoadInt64(&c.malformedCount)
		c.logger.Info("consumer stats",
			zap.String("group", c.group),
			zap.Int64("processed", polls),
			zap.Int64("errors", errors),
			zap.Int64("malformed", malformed),
		)
	}
}
