package audit

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/crimecast/crimecast/internal/circuitbreaker"
	"github.com/crimecast/crimecast/internal/retry"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	mu       sync.Mutex
	msgs     []kafka.Message
	failures int
	failErr  error
	calls    int
	closed   bool
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err := ctx.Err(); err != nil {
		return err
	}
	if f.failures > 0 {
		f.failures--
		if f.failErr != nil {
			return f.failErr
		}
		return errors.New("leader not available")
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeWriter) delivered() []kafka.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]kafka.Message(nil), f.msgs...)
}

func newTestPublisher(w *fakeWriter) *KafkaPublisher {
	p := newKafkaPublisher(w, nil)
	p.policy = retry.Policy{Attempts: 3, BaseDelay: time.Millisecond}
	return p
}

func TestKafkaPublisher_DeliversKeyedJSON(t *testing.T) {
	w := &fakeWriter{}
	p := newTestPublisher(w)
	p.Start(context.Background())

	ts := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	p.Publish(context.Background(), &Entry{ID: 11, AccountID: ptr(42), Action: ActionLogin, Context: "N/A", SourceAddress: "127.0.0.1", Timestamp: ts})
	p.Publish(context.Background(), &Entry{ID: 12, Action: ActionSignup, Timestamp: ts})
	require.NoError(t, p.Close())

	msgs := w.delivered()
	require.Len(t, msgs, 2)
	assert.Equal(t, "42", string(msgs[0].Key))
	assert.Nil(t, msgs[1].Key)
	assert.True(t, w.closed)

	var decoded Entry
	require.NoError(t, json.Unmarshal(msgs[0].Value, &decoded))
	assert.Equal(t, ActionLogin, decoded.Action)
	assert.Equal(t, int64(42), *decoded.AccountID)
	assert.True(t, ts.Equal(decoded.Timestamp))
}

func TestKafkaPublisher_CloseDrainsAfterCancel(t *testing.T) {
	w := &fakeWriter{}
	p := newTestPublisher(w)

	for i := 0; i < 20; i++ {
		p.Publish(context.Background(), &Entry{Action: ActionLogin})
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p.Start(ctx)

	// Requests still in flight during shutdown keep publishing.
	p.Publish(context.Background(), &Entry{Action: ActionLogout})
	require.NoError(t, p.Close())

	assert.Len(t, w.delivered(), 21)
	assert.True(t, w.closed)
}

func TestKafkaPublisher_RetriesTransientFailures(t *testing.T) {
	w := &fakeWriter{failures: 2}
	p := newTestPublisher(w)
	p.Start(context.Background())

	p.Publish(context.Background(), &Entry{AccountID: ptr(1), Action: ActionLogin})
	require.NoError(t, p.Close())

	assert.Len(t, w.delivered(), 1)
	assert.Equal(t, 3, w.calls)
}

func TestKafkaPublisher_DoesNotRetryPermanentErrors(t *testing.T) {
	w := &fakeWriter{failures: 5, failErr: kafka.MessageSizeTooLarge}
	p := newTestPublisher(w)
	p.Start(context.Background())

	p.Publish(context.Background(), &Entry{Action: ActionLogin})
	require.NoError(t, p.Close())

	assert.Empty(t, w.delivered())
	assert.Equal(t, 1, w.calls)
}

func TestKafkaPublisher_BreakerOpensAfterRepeatedFailures(t *testing.T) {
	w := &fakeWriter{failures: 1000}
	p := newTestPublisher(w)
	p.policy = retry.Policy{Attempts: 1}
	p.breaker = circuitbreaker.New(2, time.Hour)
	p.Start(context.Background())

	for i := 0; i < 5; i++ {
		p.Publish(context.Background(), &Entry{Action: ActionLogin})
	}
	require.NoError(t, p.Close())

	assert.Equal(t, 2, w.calls, "open circuit skips the writer")
	assert.Equal(t, circuitbreaker.StateOpen, p.breaker.State(breakerKey))
}

func TestKafkaPublisher_PublishAfterClose(t *testing.T) {
	w := &fakeWriter{}
	p := newTestPublisher(w)
	p.Start(context.Background())
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())

	assert.NotPanics(t, func() {
		p.Publish(context.Background(), &Entry{Action: ActionLogout})
	})
	assert.Empty(t, w.delivered())
}

func TestKafkaPublisher_PublishCopiesEntry(t *testing.T) {
	w := &fakeWriter{}
	p := newTestPublisher(w)

	e := &Entry{Action: ActionLogin}
	p.Publish(context.Background(), e)
	e.Action = ActionLogout

	p.Start(context.Background())
	require.NoError(t, p.Close())

	msgs := w.delivered()
	require.Len(t, msgs, 1)
	assert.Contains(t, string(msgs[0].Value), `"action":"login"`)
}
