package ordering

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mtogo/foodorders/internal/broker"
)

// flakyPublisher fails the first n publishes.
type flakyPublisher struct {
	mu    sync.Mutex
	fails int
	sent  []string
}

func (p *flakyPublisher) Publish(_ context.Context, msg broker.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fails > 0 {
		p.fails--
		return errors.New("channel closed")
	}
	p.sent = append(p.sent, msg.ID)
	return nil
}

func (p *flakyPublisher) Sent() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.sent...)
}

func seedOutbox(t *testing.T, s *SQLiteStore, ids ...string) {
	t.Helper()
	now := time.Now()
	for _, id := range ids {
		o := &Order{ID: "order-" + id, RestaurantID: "r", State: StateCreated, CreatedAt: now, UpdatedAt: now}
		require.NoError(t, s.Create(context.Background(), o, OutboxMessage{ID: id, RoutingKey: "order.placed", Payload: []byte(`{}`), CreatedAt: now}))
	}
}

func TestOutboxRelayStopsAtFirstFailure(t *testing.T) {
	s := newTestStore(t)
	seedOutbox(t, s, "m1", "m2", "m3")
	pub := &flakyPublisher{fails: 1}
	relay := NewOutboxRelay(s, pub, time.Hour, 10, time.Second, zerolog.Nop())
	ctx := context.Background()

	sent, err := relay.DispatchPending(ctx)
	require.Error(t, err)
	assert.Zero(t, sent)
	assert.Empty(t, pub.Sent())

	sent, err = relay.DispatchPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, sent)
	assert.Equal(t, []string{"m1", "m2", "m3"}, pub.Sent())

	pending, err := s.PendingOutbox(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestOutboxRelayBatchSize(t *testing.T) {
	s := newTestStore(t)
	seedOutbox(t, s, "m1", "m2", "m3")
	pub := &flakyPublisher{}
	relay := NewOutboxRelay(s, pub, time.Hour, 2, time.Second, zerolog.Nop())

	sent, err := relay.DispatchPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sent)
}

func TestOutboxRelayRunDrainsUntilCancelled(t *testing.T) {
	s := newTestStore(t)
	seedOutbox(t, s, "m1", "m2")
	pub := &flakyPublisher{fails: 2}
	relay := NewOutboxRelay(s, pub, 10*time.Millisecond, 10, time.Second, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()

	require.Eventually(t, func() bool { return len(pub.Sent()) == 2 }, 5*time.Second, 10*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("relay did not stop")
	}
}
