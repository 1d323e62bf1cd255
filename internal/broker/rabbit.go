package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
)

// Rabbit publishes to a durable topic exchange with publisher confirms and
// consumes from quorum queues whose delivery limit dead-letters into
// "<queue>.dlq" through the "<exchange>.dlx" exchange.
type Rabbit struct {
	conn     *amqp.Connection
	pubCh    *amqp.Channel
	exchange string
	mu       sync.Mutex
	log      zerolog.Logger

	Backoff func(attempt int) time.Duration
}

func NewRabbit(url, exchange string, logger zerolog.Logger) (*Rabbit, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial rabbit: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	if err := ch.ExchangeDeclare(deadLetterExchange(exchange), "direct", true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare dead-letter exchange: %w", err)
	}
	if err := ch.Confirm(false); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("enable publisher confirms: %w", err)
	}
	return &Rabbit{
		conn:     conn,
		pubCh:    ch,
		exchange: exchange,
		log:      logger.With().Str("component", "rabbit").Logger(),
		Backoff:  ExponentialBackoff(200*time.Millisecond, 10*time.Second),
	}, nil
}

func (r *Rabbit) Close() {
	if r.pubCh != nil {
		_ = r.pubCh.Close()
	}
	if r.conn != nil {
		_ = r.conn.Close()
	}
}

// Publish returns once the broker has confirmed the message or ctx expires.
func (r *Rabbit) Publish(ctx context.Context, msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conf, err := r.pubCh.PublishWithDeferredConfirmWithContext(ctx, r.exchange, msg.RoutingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    msg.ID,
		Timestamp:    time.Now().UTC(),
		Body:         msg.Body,
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", msg.RoutingKey, err)
	}
	acked, err := conf.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("confirm %s: %w", msg.RoutingKey, err)
	}
	if !acked {
		return fmt.Errorf("publish %s: nacked by broker", msg.RoutingKey)
	}
	return nil
}

// Consume processes deliveries one at a time on a dedicated channel. When
// ctx is cancelled the channel is closed so unacknowledged deliveries go
// back to the queue.
func (r *Rabbit) Consume(ctx context.Context, sub Subscription, h Handler) error {
	if err := sub.validate(); err != nil {
		return err
	}
	ch, err := r.conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := r.declare(ch, sub); err != nil {
		return err
	}
	prefetch := sub.Prefetch
	if prefetch <= 0 {
		prefetch = 10
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		return fmt.Errorf("qos: %w", err)
	}
	deliveries, err := ch.Consume(sub.Queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", sub.Queue, err)
	}

	lg := r.log.With().Str("queue", sub.Queue).Logger()
	lg.Info().Strs("routing_keys", sub.RoutingKeys).Msg("consumer started")
	for {
		select {
		case <-ctx.Done():
			lg.Info().Msg("consumer stopping")
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("consumer %s: deliveries channel closed", sub.Queue)
			}
			r.dispatch(ctx, lg, sub, h, d)
		}
	}
}

func (r *Rabbit) declare(ch *amqp.Channel, sub Subscription) error {
	dlx := deadLetterExchange(r.exchange)
	dlq := sub.Queue + ".dlq"
	if _, err := ch.QueueDeclare(dlq, true, false, false, false, amqp.Table{"x-queue-type": "quorum"}); err != nil {
		return fmt.Errorf("declare %s: %w", dlq, err)
	}
	if err := ch.QueueBind(dlq, sub.Queue, dlx, false, nil); err != nil {
		return fmt.Errorf("bind %s: %w", dlq, err)
	}

	args := amqp.Table{
		"x-queue-type":              "quorum",
		"x-dead-letter-exchange":    dlx,
		"x-dead-letter-routing-key": sub.Queue,
	}
	if sub.MaxDeliveries > 0 {
		// the limit counts redeliveries, not the first delivery
		args["x-delivery-limit"] = int64(sub.MaxDeliveries - 1)
	}
	q, err := ch.QueueDeclare(sub.Queue, true, false, false, false, args)
	if err != nil {
		return fmt.Errorf("declare %s: %w", sub.Queue, err)
	}
	for _, rk := range sub.RoutingKeys {
		if err := ch.QueueBind(q.Name, rk, r.exchange, false, nil); err != nil {
			return fmt.Errorf("bind %s to %s: %w", q.Name, rk, err)
		}
	}
	return nil
}

func (r *Rabbit) dispatch(ctx context.Context, lg zerolog.Logger, sub Subscription, h Handler, d amqp.Delivery) {
	msg := Message{
		ID:          d.MessageId,
		RoutingKey:  d.RoutingKey,
		Body:        d.Body,
		Attempt:     deliveryAttempt(d),
		MaxAttempts: sub.MaxDeliveries,
		Redelivered: d.Redelivered,
	}
	err := h(ctx, msg)
	if err == nil {
		if ackErr := d.Ack(false); ackErr != nil {
			lg.Error().Err(ackErr).Str("message_id", msg.ID).Msg("ack failed")
		}
		return
	}

	ev := lg.With().
		Str("routing_key", msg.RoutingKey).
		Str("message_id", msg.ID).
		Int("attempt", msg.Attempt).
		Logger()
	switch {
	case IsPermanent(err):
		ev.Error().Err(err).Msg("dead-lettering message")
		_ = d.Nack(false, false)
	case errors.Is(ctx.Err(), context.Canceled):
		// left unacked; closing the channel requeues it
		ev.Debug().Err(err).Msg("handler interrupted by shutdown")
	case msg.LastAttempt():
		ev.Error().Err(err).Msg("delivery limit reached, dead-lettering message")
		_ = d.Nack(false, false)
	default:
		ev.Warn().Err(err).Msg("handler failed, requeueing")
		if r.Backoff != nil {
			sleepCtx(ctx, r.Backoff(msg.Attempt))
		}
		_ = d.Nack(false, true)
	}
}

// deliveryAttempt reads the quorum queue delivery counter, falling back to
// the redelivered flag for classic queues.
func deliveryAttempt(d amqp.Delivery) int {
	switch v := d.Headers["x-delivery-count"].(type) {
	case int64:
		return int(v) + 1
	case int32:
		return int(v) + 1
	case int:
		return v + 1
	}
	if d.Redelivered {
		return 2
	}
	return 1
}

func deadLetterExchange(exchange string) string { return exchange + ".dlx" }
