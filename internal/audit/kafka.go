package audit

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/crimecast/crimecast/internal/circuitbreaker"
	"github.com/crimecast/crimecast/internal/metrics"
	"github.com/crimecast/crimecast/internal/retry"
	"github.com/segmentio/kafka-go"
)

const (
	publishQueueSize = 1024
	writeTimeout     = 5 * time.Second
	breakerKey       = "audit_kafka"
)

// messageWriter is the subset of *kafka.Writer the publisher needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher forwards audit entries to a Kafka topic from a background
// worker. Publish never blocks the request path: when the queue is full or
// the publisher is closed the entry is dropped and counted.
type KafkaPublisher struct {
	writer  messageWriter
	breaker *circuitbreaker.Breaker
	policy  retry.Policy
	logger  *slog.Logger

	mu     sync.RWMutex
	closed bool
	queue  chan *Entry
	wg     sync.WaitGroup
}

// NewKafkaPublisher creates a publisher writing to topic on brokers.
// Messages are keyed by account id so one account's history stays ordered
// within a partition.
func NewKafkaPublisher(brokers []string, topic string, logger *slog.Logger) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}
	return newKafkaPublisher(w, logger)
}

func newKafkaPublisher(w messageWriter, logger *slog.Logger) *KafkaPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaPublisher{
		writer:  w,
		breaker: circuitbreaker.New(5, 30*time.Second),
		policy:  retry.DefaultPolicy(),
		logger:  logger,
		queue:   make(chan *Entry, publishQueueSize),
	}
}

var _ Publisher = (*KafkaPublisher)(nil)

// Start launches the delivery worker. Deliveries run under a context that
// keeps ctx's values but not its cancellation; the worker stops only after
// Close has drained the queue.
func (p *KafkaPublisher) Start(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for e := range p.queue {
			p.deliver(ctx, e)
		}
	}()
}

// Publish enqueues a copy of e for delivery.
func (p *KafkaPublisher) Publish(_ context.Context, e *Entry) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		metrics.AuditWritesTotal.WithLabelValues("kafka", "dropped").Inc()
		return
	}
	cp := *e
	select {
	case p.queue <- &cp:
	default:
		metrics.AuditWritesTotal.WithLabelValues("kafka", "dropped").Inc()
		p.logger.Warn("audit publish queue full, dropping entry", "action", e.Action)
	}
}

// Close stops accepting entries, drains the queue and closes the writer.
func (p *KafkaPublisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
	return p.writer.Close()
}

func (p *KafkaPublisher) deliver(ctx context.Context, e *Entry) {
	msg, err := encodeMessage(e)
	if err != nil {
		p.logger.Error("failed to encode audit entry", "error", err)
		return
	}

	err = p.breaker.Execute(breakerKey, func() error {
		return retry.Do(ctx, p.policy, func(ctx context.Context) error {
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			defer cancel()
			err := p.writer.WriteMessages(wctx, msg)
			var kerr kafka.Error
			if errors.As(err, &kerr) && !kerr.Temporary() {
				return retry.Permanent(err)
			}
			return err
		})
	})
	switch {
	case err == nil:
		metrics.AuditWritesTotal.WithLabelValues("kafka", "ok").Inc()
	case errors.Is(err, circuitbreaker.ErrOpen):
		metrics.AuditWritesTotal.WithLabelValues("kafka", "dropped").Inc()
	default:
		metrics.AuditWritesTotal.WithLabelValues("kafka", "error").Inc()
		p.logger.Error("failed to publish audit entry", "error", err, "action", e.Action)
	}
}

func encodeMessage(e *Entry) (kafka.Message, error) {
	value, err := json.Marshal(e)
	if err != nil {
		return kafka.Message{}, err
	}
	var key []byte
	if e.AccountID != nil {
		key = []byte(strconv.FormatInt(*e.AccountID, 10))
	}
	return kafka.Message{Key: key, Value: value, Time: e.Timestamp}, nil
}
