package payment

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mtogo/foodorders/internal/broker"
	"github.com/mtogo/foodorders/internal/contracts"
)

func newTestRepo(t *testing.T) Repository {
	t.Helper()
	repo, err := NewSQLiteRepo(filepath.Join(t.TempDir(), "payment.db"))
	require.NoError(t, err)
	require.NoError(t, repo.Init(context.Background()))
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func newTestService(t *testing.T, repo Repository, pub broker.Publisher) *Service {
	t.Helper()
	svc, err := NewService(repo, pub, DefaultCreditLimit, 16, zerolog.Nop())
	require.NoError(t, err)
	return svc
}

func placedMsg(t *testing.T, orderID, total string, attempt int) broker.Message {
	t.Helper()
	body, err := json.Marshal(contracts.OrderPlaced{
		OrderID:      orderID,
		RestaurantID: "r",
		TotalPrice:   decimal.RequireFromString(total),
		OccurredOn:   time.Now(),
	})
	require.NoError(t, err)
	return broker.Message{ID: "m-" + orderID, RoutingKey: contracts.RKOrderPlaced, Body: body, Attempt: attempt}
}

func TestHandlePublishesApproval(t *testing.T) {
	repo := newTestRepo(t)
	bus := broker.NewMemory()
	svc := newTestService(t, repo, bus)

	require.NoError(t, svc.Handle(context.Background(), placedMsg(t, "o-1", "208.10", 1)))

	published := bus.Published()
	require.Len(t, published, 1)
	assert.Equal(t, contracts.RKPaymentApproved, published[0].RoutingKey)
	var evt contracts.PaymentApproved
	require.NoError(t, json.Unmarshal(published[0].Body, &evt))
	assert.Equal(t, "o-1", evt.OrderID)

	p, err := repo.GetByOrderID(context.Background(), "o-1")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, OutcomeApproved, p.Outcome)
	assert.NotNil(t, p.PublishedAt)
	assert.True(t, decimal.RequireFromString("208.10").Equal(p.Amount))
}

func TestHandlePublishesFailure(t *testing.T) {
	bus := broker.NewMemory()
	svc := newTestService(t, newTestRepo(t), bus)

	require.NoError(t, svc.Handle(context.Background(), placedMsg(t, "o-2", "500.01", 1)))

	published := bus.Published()
	require.Len(t, published, 1)
	assert.Equal(t, contracts.RKPaymentFailed, published[0].RoutingKey)
	var evt contracts.PaymentFailed
	require.NoError(t, json.Unmarshal(published[0].Body, &evt))
	assert.Equal(t, "o-2", evt.OrderID)
	assert.Equal(t, contracts.InsufficientFundsReason, evt.Reason)
}

func TestHandleRedeliveryDoesNotDoublePublish(t *testing.T) {
	repo := newTestRepo(t)
	bus := broker.NewMemory()
	ctx := context.Background()

	svc := newTestService(t, repo, bus)
	require.NoError(t, svc.Handle(ctx, placedMsg(t, "o-3", "900.00", 1)))
	require.NoError(t, svc.Handle(ctx, placedMsg(t, "o-3", "900.00", 2)))

	// a restarted process has an empty cache but the ledger remembers
	restarted := newTestService(t, repo, bus)
	require.NoError(t, restarted.Handle(ctx, placedMsg(t, "o-3", "900.00", 3)))

	assert.Len(t, bus.Published(), 1)
}

func TestHandleRepublishesUnconfirmedDecision(t *testing.T) {
	repo := newTestRepo(t)
	bus := broker.NewMemory()
	svc := newTestService(t, repo, bus)
	ctx := context.Background()

	bus.FailPublishes(errors.New("connection closed"))
	err := svc.Handle(ctx, placedMsg(t, "o-4", "600.00", 1))
	require.Error(t, err)
	assert.False(t, broker.IsPermanent(err))

	p, err := repo.GetByOrderID(ctx, "o-4")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Nil(t, p.PublishedAt)

	// the retried event carries a different total, the recorded decision still wins
	bus.FailPublishes(nil)
	require.NoError(t, svc.Handle(ctx, placedMsg(t, "o-4", "10.00", 2)))

	published := bus.Published()
	require.Len(t, published, 1)
	assert.Equal(t, contracts.RKPaymentFailed, published[0].RoutingKey)
	assert.Equal(t, p.EventID, published[0].ID)
}

func TestHandleRejectsMalformedMessages(t *testing.T) {
	svc := newTestService(t, newTestRepo(t), broker.NewMemory())
	ctx := context.Background()

	err := svc.Handle(ctx, broker.Message{RoutingKey: contracts.RKOrderPlaced, Body: []byte(`nope`)})
	assert.True(t, broker.IsPermanent(err))

	err = svc.Handle(ctx, broker.Message{RoutingKey: contracts.RKOrderPlaced, Body: []byte(`{"totalPrice":"1"}`)})
	assert.True(t, broker.IsPermanent(err))

	err = svc.Handle(ctx, broker.Message{RoutingKey: contracts.RKPaymentFailed, Body: []byte(`{}`)})
	assert.True(t, broker.IsPermanent(err))
}

func TestOutcomeEventIDIsDeterministic(t *testing.T) {
	assert.Equal(t, outcomeEventID("o-1", OutcomeApproved), outcomeEventID("o-1", OutcomeApproved))
	assert.NotEqual(t, outcomeEventID("o-1", OutcomeApproved), outcomeEventID("o-1", OutcomeRejected))
	assert.NotEqual(t, outcomeEventID("o-1", OutcomeApproved), outcomeEventID("o-2", OutcomeApproved))
}
