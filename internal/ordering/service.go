// Package ordering accepts food orders and applies payment outcomes to them.
package ordering

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mtogo/foodorders/internal/broker"
	"github.com/mtogo/foodorders/internal/contracts"
)

// MaxLineQuantity is the largest quantity accepted on a single order line.
const MaxLineQuantity = 1000

// Store is the order state store as seen by the acceptance path.
type Store interface {
	Create(ctx context.Context, o *Order, outbox ...OutboxMessage) error
	Get(ctx context.Context, orderID string) (*Order, error)
	MarkDispatched(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id, reason string) error
}

type Service struct {
	store          Store
	menu           MenuGateway
	prices         PriceLookup
	pub            broker.Publisher
	publishTimeout time.Duration
	log            zerolog.Logger
	now            func() time.Time
}

func NewService(store Store, menu MenuGateway, prices PriceLookup, pub broker.Publisher, publishTimeout time.Duration, logger zerolog.Logger) *Service {
	return &Service{
		store:          store,
		menu:           menu,
		prices:         prices,
		pub:            pub,
		publishTimeout: publishTimeout,
		log:            logger.With().Str("component", "acceptance").Logger(),
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// AcceptOrder validates, prices and records an order, then emits
// OrderPlaced. A non-nil error is always a *Rejection and means nothing was
// stored.
func (s *Service) AcceptOrder(ctx context.Context, req OrderRequest) (*Accepted, error) {
	restaurantID := strings.TrimSpace(req.RestaurantID)
	if restaurantID == "" {
		return nil, s.reject(clientRejection("restaurantId required"))
	}
	if len(req.Items) == 0 {
		return nil, s.reject(clientRejection("items required"))
	}
	for _, it := range req.Items {
		if it.Quantity <= 0 {
			return nil, s.reject(clientRejection("quantity must be > 0"))
		}
		if it.Quantity > MaxLineQuantity {
			return nil, s.reject(clientRejection("quantity too large"))
		}
	}

	exists, err := s.menu.RestaurantExists(ctx, restaurantID)
	if err != nil {
		msg := "legacy menu unavailable"
		if errors.Is(err, context.DeadlineExceeded) {
			msg = "legacy menu timeout"
		}
		s.log.Warn().Err(err).Str("restaurant_id", restaurantID).Msg("menu check failed")
		return nil, unavailable(msg, err)
	}
	if !exists {
		return nil, s.reject(clientRejection("unknown restaurant"))
	}

	lines := make([]PricedLineItem, 0, len(req.Items))
	for _, it := range req.Items {
		price, ok := s.prices.TryGetPrice(it.ItemID)
		if !ok {
			return nil, s.reject(clientRejection("unknown menu item price for %s", it.ItemID))
		}
		lines = append(lines, PricedLineItem{ItemID: it.ItemID, Quantity: it.Quantity, UnitPrice: price})
	}

	pricing, err := CalculateTotal(lines)
	if err != nil {
		s.log.Error().Err(err).Msg("pricing failed on validated order")
		return nil, unavailable("pricing failed", err)
	}

	now := s.now()
	order := &Order{
		ID:           uuid.NewString(),
		RestaurantID: restaurantID,
		Lines:        lines,
		Pricing:      pricing,
		State:        StateCreated,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	msg, err := newOrderPlacedMessage(order, now)
	if err != nil {
		return nil, unavailable("could not encode order event", err)
	}
	if err := s.store.Create(ctx, order, msg); err != nil {
		s.log.Error().Err(err).Str("order_id", order.ID).Msg("persist order failed")
		return nil, unavailable("order store unavailable", err)
	}

	s.publishNow(ctx, msg, order.ID)

	s.log.Info().
		Str("order_id", order.ID).
		Str("restaurant_id", restaurantID).
		Str("total", pricing.Total.StringFixed(2)).
		Msg("order accepted")
	return &Accepted{OrderID: order.ID, Total: pricing.Total, State: StateCreated}, nil
}

// GetOrder returns the recorded order, ErrOrderNotFound if there is none.
func (s *Service) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	return s.store.Get(ctx, orderID)
}

// publishNow tries the freshly written outbox row once. Failures are left
// for the outbox relay; the order is already accepted.
func (s *Service) publishNow(ctx context.Context, msg OutboxMessage, orderID string) {
	if s.pub == nil {
		return
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.publishTimeout)
	defer cancel()

	err := s.pub.Publish(pctx, broker.Message{ID: msg.ID, RoutingKey: msg.RoutingKey, Body: msg.Payload})
	if err != nil {
		s.log.Warn().Err(err).Str("order_id", orderID).Msg("publish order.placed deferred to outbox")
		if markErr := s.store.MarkFailed(pctx, msg.ID, err.Error()); markErr != nil {
			s.log.Warn().Err(markErr).Str("message_id", msg.ID).Msg("record outbox failure")
		}
		return
	}
	if err := s.store.MarkDispatched(pctx, msg.ID); err != nil {
		// the relay will publish it again; consumers are idempotent
		s.log.Warn().Err(err).Str("message_id", msg.ID).Msg("mark outbox dispatched")
	}
}

func (s *Service) reject(r *Rejection) *Rejection {
	s.log.Debug().Str("reason", r.Message).Msg("order rejected")
	return r
}

func newOrderPlacedMessage(o *Order, now time.Time) (OutboxMessage, error) {
	body, err := json.Marshal(contracts.OrderPlaced{
		OrderID:      o.ID,
		RestaurantID: o.RestaurantID,
		TotalPrice:   o.Pricing.Total,
		OccurredOn:   now,
	})
	if err != nil {
		return OutboxMessage{}, fmt.Errorf("encode order placed: %w", err)
	}
	return OutboxMessage{
		ID:         uuid.NewString(),
		RoutingKey: contracts.RKOrderPlaced,
		Payload:    body,
		CreatedAt:  now,
	}, nil
}
