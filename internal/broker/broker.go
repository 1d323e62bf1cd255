// Package broker is the event channel between services: an at-least-once,
// durable publish/subscribe transport keyed by routing key.
//
// Handlers must be idempotent. A nil error acknowledges the message, any
// other error returns it to the queue for redelivery after a backoff, and
// an error wrapped with Permanent sends it straight to the dead-letter
// queue. Once a message has been delivered MaxDeliveries times it is
// dead-lettered as well.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type Message struct {
	ID          string
	RoutingKey  string
	Body        []byte
	Attempt     int // 1 on first delivery
	MaxAttempts int // 0 means unlimited
	Redelivered bool
}

// LastAttempt reports whether a failure now would dead-letter the message.
func (m Message) LastAttempt() bool {
	return m.MaxAttempts > 0 && m.Attempt >= m.MaxAttempts
}

type Handler func(ctx context.Context, msg Message) error

type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

type Subscriber interface {
	// Consume blocks until ctx is cancelled or the transport fails.
	Consume(ctx context.Context, sub Subscription, h Handler) error
}

type Subscription struct {
	Queue         string
	RoutingKeys   []string
	MaxDeliveries int
	Prefetch      int
}

func (s Subscription) validate() error {
	if s.Queue == "" {
		return errors.New("subscription queue required")
	}
	if len(s.RoutingKeys) == 0 {
		return fmt.Errorf("subscription %s: routing keys required", s.Queue)
	}
	return nil
}

// PublishJSON encodes v and publishes it under routingKey with the given message id.
func PublishJSON(ctx context.Context, p Publisher, routingKey, id string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", routingKey, err)
	}
	return p.Publish(ctx, Message{ID: id, RoutingKey: routingKey, Body: body})
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// ExponentialBackoff doubles from base on every attempt up to max.
func ExponentialBackoff(base, max time.Duration) func(attempt int) time.Duration {
	return func(attempt int) time.Duration {
		d := base
		for i := 1; i < attempt && d < max; i++ {
			d *= 2
		}
		if d > max {
			d = max
		}
		return d
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
