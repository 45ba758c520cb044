package kafka

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/ariefcatur/storefront-orders/internal/tracing"
)

// Handler returns nil only when the message is done and its offset may be committed.
type Handler func(ctx context.Context, m kafka.Message) error

// ErrPermanent marks a message that retrying cannot fix (bad payload). The
// consumer logs it and commits past it.
var ErrPermanent = errors.New("permanent message failure")

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	r        messageReader
	log      *zap.Logger
	workers  int
	retries  uint64
	interval time.Duration
}

func NewConsumer(log *zap.Logger, brokers []string, group, topic string, workers int) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit
	})
	return newConsumer(log.With(zap.String("topic", topic), zap.String("group", group)), r, workers)
}

func newConsumer(log *zap.Logger, r messageReader, workers int) *Consumer {
	if workers <= 0 {
		workers = 1
	}
	return &Consumer{r: r, log: log, workers: workers, retries: 5, interval: 200 * time.Millisecond}
}

// Start dispatches messages to the worker pool until ctx is done. Messages of
// one partition key always land on the same worker so per-order ordering holds.
func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer c.r.Close()

	queues := make([]chan kafka.Message, c.workers)
	var wg sync.WaitGroup
	for i := range queues {
		queues[i] = make(chan kafka.Message, 64)
		wg.Add(1)
		go func(jobs <-chan kafka.Message) {
			defer wg.Done()
			for m := range jobs {
				c.process(ctx, h, m)
			}
		}(queues[i])
	}
	stop := func() {
		for _, q := range queues {
			close(q)
		}
		wg.Wait()
	}

	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			stop()
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		select {
		case queues[slot(m.Key, c.workers)] <- m:
		case <-ctx.Done():
			stop()
			return nil
		}
	}
}

func (c *Consumer) process(ctx context.Context, h Handler, m kafka.Message) {
	msgCtx := tracing.ExtractKafkaHeaders(ctx, m.Headers)

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(c.interval), c.retries), ctx)
	err := backoff.Retry(func() error {
		err := h(msgCtx, m)
		if errors.Is(err, ErrPermanent) {
			return backoff.Permanent(err)
		}
		return err
	}, bo)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		// Commits are cumulative per partition; the offset is passed either way.
		c.log.Error("message handling failed",
			zap.ByteString("key", m.Key), zap.Int("partition", m.Partition), zap.Int64("offset", m.Offset), zap.Error(err))
	}
	if err := c.r.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
		c.log.Warn("commit failed", zap.Int64("offset", m.Offset), zap.Error(err))
	}
}

func slot(key []byte, n int) int {
	h := fnv.New32a()
	_, _ = h.Write(key)
	return int(h.Sum32() % uint32(n))
}
