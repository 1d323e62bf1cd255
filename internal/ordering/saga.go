package ordering

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/mtogo/foodorders/internal/broker"
	"github.com/mtogo/foodorders/internal/contracts"
)

type SagaStore interface {
	TransitionTo(ctx context.Context, orderID string, to State) (bool, error)
	RecordAnomaly(ctx context.Context, a SagaAnomaly) error
}

// SagaHandler applies payment outcomes to orders: PaymentFailed cancels
// (compensation) and PaymentApproved confirms. Duplicates are no-ops, and an
// outcome that contradicts a terminal state is recorded as an anomaly
// instead of being applied.
type SagaHandler struct {
	store SagaStore
	log   zerolog.Logger
}

func NewSagaHandler(store SagaStore, logger zerolog.Logger) *SagaHandler {
	return &SagaHandler{store: store, log: logger.With().Str("component", "saga").Logger()}
}

// Subscription binds the handler's queue to both payment outcomes.
func (h *SagaHandler) Subscription(queue string, maxDeliveries, prefetch int) broker.Subscription {
	return broker.Subscription{
		Queue:         queue,
		RoutingKeys:   []string{contracts.RKPaymentFailed, contracts.RKPaymentApproved},
		MaxDeliveries: maxDeliveries,
		Prefetch:      prefetch,
	}
}

func (h *SagaHandler) Handle(ctx context.Context, msg broker.Message) error {
	switch msg.RoutingKey {
	case contracts.RKPaymentFailed:
		var evt contracts.PaymentFailed
		if err := decodeEvent(msg.Body, &evt); err != nil {
			return err
		}
		if evt.OrderID == "" {
			return broker.Permanent(errors.New("payment.failed without orderId"))
		}
		return h.apply(ctx, msg, evt.OrderID, StateCancelled, evt.Reason)

	case contracts.RKPaymentApproved:
		var evt contracts.PaymentApproved
		if err := decodeEvent(msg.Body, &evt); err != nil {
			return err
		}
		if evt.OrderID == "" {
			return broker.Permanent(errors.New("payment.approved without orderId"))
		}
		return h.apply(ctx, msg, evt.OrderID, StateConfirmed, "")
	}
	return broker.Permanent(fmt.Errorf("unexpected routing key %q", msg.RoutingKey))
}

func (h *SagaHandler) apply(ctx context.Context, msg broker.Message, orderID string, to State, reason string) error {
	lg := h.log.With().
		Str("order_id", orderID).
		Str("routing_key", msg.RoutingKey).
		Int("attempt", msg.Attempt).
		Logger()

	applied, err := h.store.TransitionTo(ctx, orderID, to)
	var conflict *TransitionConflictError
	switch {
	case err == nil && applied:
		if to == StateCancelled {
			lg.Warn().Str("reason", reason).Msg("saga compensation: order cancelled")
		} else {
			lg.Info().Msg("payment approved: order confirmed")
		}
		return nil

	case err == nil:
		lg.Debug().Str("state", string(to)).Msg("duplicate outcome ignored")
		return nil

	case errors.As(err, &conflict):
		kind := AnomalyLateFailure
		if to == StateConfirmed {
			kind = AnomalyLateApproval
		}
		a := SagaAnomaly{OrderID: orderID, Kind: kind, RoutingKey: msg.RoutingKey, Detail: conflict.Error()}
		if err := h.store.RecordAnomaly(ctx, a); err != nil {
			return fmt.Errorf("record anomaly for %s: %w", orderID, err)
		}
		lg.Error().Str("kind", string(kind)).Str("state", string(conflict.From)).Msg("saga anomaly: outcome contradicts order state")
		return nil

	case errors.Is(err, ErrOrderNotFound):
		if msg.LastAttempt() {
			a := SagaAnomaly{
				OrderID:    orderID,
				Kind:       AnomalyUnknownOrder,
				RoutingKey: msg.RoutingKey,
				Detail:     fmt.Sprintf("order not found after %d deliveries", msg.Attempt),
			}
			if recErr := h.store.RecordAnomaly(ctx, a); recErr != nil {
				lg.Error().Err(recErr).Msg("record unknown-order anomaly")
			}
			lg.Error().Msg("saga anomaly: outcome for unknown order, giving up")
		} else {
			lg.Warn().Msg("order not visible yet, will retry")
		}
		return fmt.Errorf("%w: %s", ErrOrderNotVisible, orderID)
	}
	return fmt.Errorf("apply %s to order %s: %w", msg.RoutingKey, orderID, err)
}

func decodeEvent(body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return broker.Permanent(fmt.Errorf("decode event: %w", err))
	}
	return nil
}
