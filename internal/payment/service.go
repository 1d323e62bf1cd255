package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/mtogo/foodorders/internal/broker"
	"github.com/mtogo/foodorders/internal/contracts"
)

// outcome event ids are derived from (orderId, outcome) so a republished
// decision carries the same message id
var outcomeNamespace = uuid.MustParse("6f1c2a4e-5b3d-4c8e-9a71-2d4f8b0e3c95")

type Service struct {
	repo      Repository
	pub       broker.Publisher
	limit     decimal.Decimal
	published *lru.Cache[string, struct{}]
	log       zerolog.Logger
	now       func() time.Time
}

func NewService(repo Repository, pub broker.Publisher, limit decimal.Decimal, cacheSize int, logger zerolog.Logger) (*Service, error) {
	if cacheSize <= 0 {
		cacheSize = 4096
	}
	cache, err := lru.New[string, struct{}](cacheSize)
	if err != nil {
		return nil, err
	}
	return &Service{
		repo:      repo,
		pub:       pub,
		limit:     limit,
		published: cache,
		log:       logger.With().Str("component", "payment").Logger(),
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *Service) Subscription(queue string, maxDeliveries, prefetch int) broker.Subscription {
	return broker.Subscription{
		Queue:         queue,
		RoutingKeys:   []string{contracts.RKOrderPlaced},
		MaxDeliveries: maxDeliveries,
		Prefetch:      prefetch,
	}
}

// Handle decides an OrderPlaced event and publishes the outcome. A
// redelivered event reuses the recorded decision and publishes it again only
// if the first publish was not confirmed.
func (s *Service) Handle(ctx context.Context, msg broker.Message) error {
	if msg.RoutingKey != contracts.RKOrderPlaced {
		return broker.Permanent(fmt.Errorf("unexpected routing key %q", msg.RoutingKey))
	}
	var evt contracts.OrderPlaced
	if err := json.Unmarshal(msg.Body, &evt); err != nil {
		return broker.Permanent(fmt.Errorf("decode order.placed: %w", err))
	}
	if evt.OrderID == "" {
		return broker.Permanent(errors.New("order.placed without orderId"))
	}

	lg := s.log.With().Str("order_id", evt.OrderID).Int("attempt", msg.Attempt).Logger()
	if s.published.Contains(evt.OrderID) {
		lg.Debug().Msg("outcome already published, skipping duplicate")
		return nil
	}

	d := Decide(evt, s.limit)
	p, err := s.repo.RecordDecision(ctx, Payment{
		OrderID:   evt.OrderID,
		Amount:    evt.TotalPrice,
		Outcome:   d.Outcome,
		Reason:    d.Reason,
		EventID:   outcomeEventID(evt.OrderID, d.Outcome),
		DecidedAt: s.now(),
	})
	if err != nil {
		return fmt.Errorf("record decision for %s: %w", evt.OrderID, err)
	}
	if p.PublishedAt != nil {
		s.published.Add(p.OrderID, struct{}{})
		lg.Debug().Msg("outcome already published, skipping duplicate")
		return nil
	}

	if err := s.publish(ctx, p); err != nil {
		return err
	}
	if err := s.repo.MarkPublished(ctx, p.OrderID); err != nil {
		return fmt.Errorf("mark published %s: %w", p.OrderID, err)
	}
	s.published.Add(p.OrderID, struct{}{})

	if p.Outcome == OutcomeRejected {
		lg.Warn().Str("amount", p.Amount.StringFixed(2)).Str("reason", p.Reason).Msg("payment rejected")
	} else {
		lg.Info().Str("amount", p.Amount.StringFixed(2)).Msg("payment approved")
	}
	return nil
}

func (s *Service) publish(ctx context.Context, p *Payment) error {
	var (
		rk  string
		evt any
	)
	switch p.Outcome {
	case OutcomeRejected:
		rk = contracts.RKPaymentFailed
		evt = contracts.PaymentFailed{OrderID: p.OrderID, Reason: p.Reason, OccurredOn: p.DecidedAt}
	case OutcomeApproved:
		rk = contracts.RKPaymentApproved
		evt = contracts.PaymentApproved{OrderID: p.OrderID, OccurredOn: p.DecidedAt}
	default:
		return broker.Permanent(fmt.Errorf("order %s: unknown outcome %q in ledger", p.OrderID, p.Outcome))
	}
	if err := broker.PublishJSON(ctx, s.pub, rk, p.EventID, evt); err != nil {
		return fmt.Errorf("publish %s for %s: %w", rk, p.OrderID, err)
	}
	return nil
}

func outcomeEventID(orderID string, o Outcome) string {
	return uuid.NewSHA1(outcomeNamespace, []byte(orderID+"/"+string(o))).String()
}
