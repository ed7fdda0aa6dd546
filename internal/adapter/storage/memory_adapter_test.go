package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/order-verification/internal/core/domain"
	"github.com/rl1809/order-verification/internal/port"
)

func TestMemoryAdapter_Contract(t *testing.T) {
	runStoreContract(t, NewMemoryAdapter())
}

func TestMemoryAdapter_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryAdapter()
	require.NoError(t, m.WithinTx(ctx, func(tx port.Tx) error {
		return tx.UpsertProduct(ctx, domain.Product{ID: "P", LiveStock: intPtr(5)})
	}))

	require.NoError(t, m.WithinTx(ctx, func(tx port.Tx) error {
		p, err := tx.GetProduct(ctx, "P")
		require.NoError(t, err)
		*p.LiveStock = 99
		return nil
	}))

	require.NoError(t, m.WithinTx(ctx, func(tx port.Tx) error {
		p, err := tx.GetProduct(ctx, "P")
		require.NoError(t, err)
		assert.Equal(t, 5, *p.LiveStock)
		return nil
	}))
}

func TestMemoryAdapter_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := NewMemoryAdapter().WithinTx(ctx, func(tx port.Tx) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestMemoryAdapter_HistoryBounds(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryAdapter()
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	clock := day
	m.now = func() time.Time { return clock }

	for i := 0; i < 3; i++ {
		clock = day.Add(time.Duration(i) * 24 * time.Hour)
		require.NoError(t, m.WithinTx(ctx, func(tx port.Tx) error {
			o := &domain.Order{Code: "H-" + string(rune('A'+i)), RequesterID: "r", ReviewerID: "rev"}
			if err := tx.CreateOrder(ctx, o); err != nil {
				return err
			}
			return tx.CreateVerification(ctx, &domain.Verification{OrderID: o.ID, ReviewerID: "rev", Status: domain.VerificationHold})
		}))
	}

	list := func(f port.VerificationFilter) []domain.Verification {
		var out []domain.Verification
		require.NoError(t, m.WithinTx(ctx, func(tx port.Tx) error {
			var err error
			out, err = tx.ListVerifications(ctx, f)
			return err
		}))
		return out
	}

	// From is inclusive, To exclusive.
	got := list(port.VerificationFilter{From: day.Add(24 * time.Hour), To: day.Add(48 * time.Hour)})
	require.Len(t, got, 1)
	assert.Equal(t, day.Add(24*time.Hour), got[0].CreatedAt)

	assert.Len(t, list(port.VerificationFilter{PageSize: 2}), 2)
	assert.Len(t, list(port.VerificationFilter{Page: 2, PageSize: 2}), 1)
	assert.Empty(t, list(port.VerificationFilter{Page: 3, PageSize: 2}))
	assert.Len(t, list(port.VerificationFilter{}), 3)
}
