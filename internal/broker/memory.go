package broker

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

// DeadLetter is a message the in-memory broker gave up on.
type DeadLetter struct {
	Queue   string
	Message Message
	Err     error
}

// Memory is an in-process broker with the same delivery contract as Rabbit.
// Queues only receive messages published after they were declared.
type Memory struct {
	mu          sync.Mutex
	queues      map[string]*memQueue
	published   []Message
	deadLetters []DeadLetter
	inflight    int
	publishErr  error

	Backoff func(attempt int) time.Duration
}

type memQueue struct {
	sub Subscription
	ch  chan Message
}

func NewMemory() *Memory {
	return &Memory{queues: make(map[string]*memQueue)}
}

// Declare creates the queue and its bindings. It is idempotent.
func (m *Memory) Declare(sub Subscription) error {
	if err := sub.validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.declareLocked(sub)
	return nil
}

func (m *Memory) declareLocked(sub Subscription) *memQueue {
	q, ok := m.queues[sub.Queue]
	if !ok {
		q = &memQueue{sub: sub, ch: make(chan Message, 1024)}
		m.queues[sub.Queue] = q
	}
	return q
}

// FailPublishes makes every following Publish return err; nil restores it.
func (m *Memory) FailPublishes(err error) {
	m.mu.Lock()
	m.publishErr = err
	m.mu.Unlock()
}

func (m *Memory) Publish(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	if m.publishErr != nil {
		err := m.publishErr
		m.mu.Unlock()
		return err
	}
	msg.Body = append([]byte(nil), msg.Body...)
	m.published = append(m.published, msg)
	var targets []*memQueue
	for _, q := range m.queues {
		for _, pattern := range q.sub.RoutingKeys {
			if topicMatch(pattern, msg.RoutingKey) {
				targets = append(targets, q)
				break
			}
		}
	}
	m.inflight += len(targets)
	m.mu.Unlock()

	for _, q := range targets {
		d := msg
		d.Attempt = 1
		d.MaxAttempts = q.sub.MaxDeliveries
		q.ch <- d
	}
	return nil
}

func (m *Memory) Consume(ctx context.Context, sub Subscription, h Handler) error {
	if err := sub.validate(); err != nil {
		return err
	}
	m.mu.Lock()
	q := m.declareLocked(sub)
	m.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-q.ch:
			m.dispatch(ctx, q, h, msg)
		}
	}
}

func (m *Memory) dispatch(ctx context.Context, q *memQueue, h Handler, msg Message) {
	err := h(ctx, msg)
	switch {
	case err == nil:
		m.settle(nil)
	case IsPermanent(err) || msg.LastAttempt():
		m.settle(&DeadLetter{Queue: q.sub.Queue, Message: msg, Err: err})
	default:
		if m.Backoff != nil {
			sleepCtx(ctx, m.Backoff(msg.Attempt))
		}
		msg.Attempt++
		msg.Redelivered = true
		go func() { q.ch <- msg }()
	}
}

func (m *Memory) settle(dl *DeadLetter) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inflight--
	if dl != nil {
		m.deadLetters = append(m.deadLetters, *dl)
	}
}

// WaitIdle blocks until every delivered message has been acked or dead-lettered.
func (m *Memory) WaitIdle(ctx context.Context) error {
	tick := time.NewTicker(5 * time.Millisecond)
	defer tick.Stop()
	for {
		m.mu.Lock()
		n := m.inflight
		m.mu.Unlock()
		if n == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return errors.Join(errors.New("broker not idle"), ctx.Err())
		case <-tick.C:
		}
	}
}

func (m *Memory) Published() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.published...)
}

func (m *Memory) DeadLetters() []DeadLetter {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]DeadLetter(nil), m.deadLetters...)
}

// topicMatch implements AMQP topic matching: "*" is one word, "#" is zero or more.
func topicMatch(pattern, key string) bool {
	return matchWords(strings.Split(pattern, "."), strings.Split(key, "."))
}

func matchWords(p, k []string) bool {
	if len(p) == 0 {
		return len(k) == 0
	}
	if p[0] == "#" {
		for i := 0; i <= len(k); i++ {
			if matchWords(p[1:], k[i:]) {
				return true
			}
		}
		return false
	}
	if len(k) == 0 {
		return false
	}
	if p[0] != "*" && p[0] != k[0] {
		return false
	}
	return matchWords(p[1:], k[1:])
}
