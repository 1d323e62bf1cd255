package payment

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordDecisionKeepsFirst(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	first, err := repo.RecordDecision(ctx, Payment{
		OrderID: "o-1", Amount: decimal.RequireFromString("600.00"), Outcome: OutcomeRejected,
		Reason: "limit", EventID: "e-1", DecidedAt: time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeRejected, first.Outcome)
	assert.Nil(t, first.PublishedAt)

	second, err := repo.RecordDecision(ctx, Payment{
		OrderID: "o-1", Amount: decimal.RequireFromString("1.00"), Outcome: OutcomeApproved,
		EventID: "e-2", DecidedAt: time.Now(),
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeRejected, second.Outcome)
	assert.Equal(t, "e-1", second.EventID)
	assert.True(t, decimal.RequireFromString("600").Equal(second.Amount))

	require.NoError(t, repo.MarkPublished(ctx, "o-1"))
	got, err := repo.GetByOrderID(ctx, "o-1")
	require.NoError(t, err)
	require.NotNil(t, got.PublishedAt)

	missing, err := repo.GetByOrderID(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}
