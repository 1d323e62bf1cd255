package ordering

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/mtogo/foodorders/internal/broker"
)

type OutboxStore interface {
	PendingOutbox(ctx context.Context, limit int) ([]OutboxMessage, error)
	MarkDispatched(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id, reason string) error
}

// OutboxRelay republishes outbox rows until the broker confirms them.
type OutboxRelay struct {
	store          OutboxStore
	pub            broker.Publisher
	interval       time.Duration
	batch          int
	publishTimeout time.Duration
	log            zerolog.Logger
}

func NewOutboxRelay(store OutboxStore, pub broker.Publisher, interval time.Duration, batch int, publishTimeout time.Duration, logger zerolog.Logger) *OutboxRelay {
	return &OutboxRelay{
		store:          store,
		pub:            pub,
		interval:       interval,
		batch:          batch,
		publishTimeout: publishTimeout,
		log:            logger.With().Str("component", "outbox").Logger(),
	}
}

// Run polls until ctx is cancelled.
func (r *OutboxRelay) Run(ctx context.Context) error {
	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		if _, err := r.DispatchPending(ctx); err != nil && ctx.Err() == nil {
			r.log.Warn().Err(err).Msg("outbox pass failed")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}

// DispatchPending runs one pass and returns how many messages were sent.
// A pass stops at the first publish failure so messages keep their order.
func (r *OutboxRelay) DispatchPending(ctx context.Context) (int, error) {
	pending, err := r.store.PendingOutbox(ctx, r.batch)
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, m := range pending {
		pctx, cancel := context.WithTimeout(ctx, r.publishTimeout)
		err := r.pub.Publish(pctx, broker.Message{ID: m.ID, RoutingKey: m.RoutingKey, Body: m.Payload})
		cancel()
		if err != nil {
			if markErr := r.store.MarkFailed(ctx, m.ID, err.Error()); markErr != nil {
				r.log.Warn().Err(markErr).Str("message_id", m.ID).Msg("record outbox failure")
			}
			return sent, err
		}
		if err := r.store.MarkDispatched(ctx, m.ID); err != nil {
			return sent, err
		}
		sent++
		r.log.Debug().
			Str("message_id", m.ID).
			Str("routing_key", m.RoutingKey).
			Int("attempts", m.Attempts+1).
			Msg("outbox message dispatched")
	}
	return sent, nil
}
