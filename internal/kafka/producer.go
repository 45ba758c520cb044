package kafka

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/ariefcatur/storefront-orders/internal/tracing"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer buffers messages for one topic and writes them from a single
// goroutine. Publish never blocks: when the buffer is full the message is
// dropped and logged.
type Producer struct {
	w        messageWriter
	log      *zap.Logger
	topic    string
	inbox    chan kafka.Message
	closeCh  chan struct{}
	once     sync.Once
	maxRetry time.Duration
}

func NewProducer(log *zap.Logger, brokers []string, topic string, buf int) *Producer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}
	return newProducer(log, w, topic, buf)
}

func newProducer(log *zap.Logger, w messageWriter, topic string, buf int) *Producer {
	if buf <= 0 {
		buf = 1024
	}
	return &Producer{
		w:        w,
		log:      log.With(zap.String("topic", topic)),
		topic:    topic,
		inbox:    make(chan kafka.Message, buf),
		closeCh:  make(chan struct{}),
		maxRetry: 30 * time.Second,
	}
}

func (p *Producer) Topic() string { return p.topic }

// Start runs the write loop until Close drains the inbox.
func (p *Producer) Start() {
	go func() {
		defer close(p.closeCh)
		for m := range p.inbox {
			p.write(m)
		}
		if err := p.w.Close(); err != nil {
			p.log.Warn("close writer", zap.Error(err))
		}
	}()
}

func (p *Producer) write(m kafka.Message) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxElapsedTime = p.maxRetry

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return p.w.WriteMessages(ctx, m)
	}, bo)
	if err != nil {
		p.log.Error("publish dropped", zap.ByteString("key", m.Key), zap.Int("attempts", attempt), zap.Error(err))
	}
}

func (p *Producer) Publish(ctx context.Context, key, value []byte, headers ...kafka.Header) {
	m := kafka.Message{
		Key:     key,
		Value:   value,
		Time:    time.Now(),
		Headers: tracing.InjectKafkaHeaders(ctx, headers),
	}
	select {
	case p.inbox <- m:
	default:
		p.log.Error("publish buffer full, dropping message", zap.ByteString("key", key))
	}
}

// Close stops accepting messages; the loop flushes what is buffered and exits.
func (p *Producer) Close() { p.once.Do(func() { close(p.inbox) }) }

func (p *Producer) WaitClosed() { <-p.closeCh }
