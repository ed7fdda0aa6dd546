package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/order-verification/internal/core/domain"
	"github.com/rl1809/order-verification/internal/port"
)

func verifiedOrder(t *testing.T, f *fixture, lines ...VerificationLineInput) (*domain.Order, *domain.Verification) {
	t.Helper()
	items := make([]LineInput, 0, len(lines))
	for _, l := range lines {
		items = append(items, line(l.ProductID, 10, "2"))
	}
	o := f.order(t, "rev-1", items...)
	v, err := f.orders.Verify(context.Background(), o.ID, "rev-1", approve(lines...))
	require.NoError(t, err)
	return o, v
}

func TestPatchStatus_ReconcilesLedger(t *testing.T) {
	f := newFixture(t)
	f.product(t, "P", domain.IntPtr(100))
	ctx := context.Background()
	o, v := verifiedOrder(t, f, vline("P", "6", "2"))

	held, err := f.orders.PatchStatus(ctx, v.ID, "rev-1", domain.VerificationHold, "customer asked to wait")
	require.NoError(t, err)
	assert.Equal(t, "customer asked to wait", held.Notes)
	assert.Empty(t, f.reserved(t, o.ID))
	assert.Equal(t, 100, *f.virtual(t, "P"))

	approved, err := f.orders.PatchStatus(ctx, v.ID, "rev-1", domain.VerificationApproved, "ignored")
	require.NoError(t, err)
	assert.Empty(t, approved.Notes)
	assert.Equal(t, map[string]int{"P": 6}, f.reserved(t, o.ID))
	assert.Equal(t, 94, *f.virtual(t, "P"))

	got, err := f.orders.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusApproved, got.Status)
	assert.Contains(t, f.events.types(), domain.EventOrderStatusChanged)
}

func TestPatchStatus_Failures(t *testing.T) {
	f := newFixture(t)
	f.product(t, "P", domain.IntPtr(100))
	ctx := context.Background()
	_, v := verifiedOrder(t, f, vline("P", "6", "2"))

	_, err := f.orders.PatchStatus(ctx, v.ID, "rev-1", domain.VerificationDispatch, "")
	assert.ErrorIs(t, err, ErrInvalidStatus)
	_, err = f.orders.PatchStatus(ctx, v.ID, "rev-9", domain.VerificationHold, "")
	assert.ErrorIs(t, err, ErrNotAuthorized)
	_, err = f.orders.PatchStatus(ctx, v.ID+1, "rev-1", domain.VerificationHold, "")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.dispatch.Punch(ctx, PunchInput{OrderCode: mustCode(t, f, v.OrderID), ReviewerID: "rev-1"})
	require.NoError(t, err)
	_, err = f.orders.PatchStatus(ctx, v.ID, "rev-1", domain.VerificationHold, "")
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestVerificationItems_EditsAdjustTotalAndLedger(t *testing.T) {
	f := newFixture(t)
	f.product(t, "P", domain.IntPtr(100))
	f.product(t, "Q", domain.IntPtr(50))
	ctx := context.Background()
	o, v := verifiedOrder(t, f, vline("P", "6", "2"))
	assert.Equal(t, "12.00", v.TotalAmount.StringFixed(2))

	_, err := f.orders.AddVerificationItem(ctx, v.ID, "rev-1", vline("P", "1", "1"))
	assert.ErrorIs(t, err, ErrDuplicateProduct)
	_, err = f.orders.AddVerificationItem(ctx, v.ID, "rev-1", vline("ghost", "1", "1"))
	assert.ErrorIs(t, err, ErrProductNotFound)

	added, err := f.orders.AddVerificationItem(ctx, v.ID, "rev-1", vline("Q", "5", "3"))
	require.NoError(t, err)
	assert.Equal(t, 50, *added.StockAtVerify)
	assert.Equal(t, map[string]int{"P": 6, "Q": 5}, f.reserved(t, o.ID))
	assert.Equal(t, 45, *f.virtual(t, "Q"))

	updated, err := f.orders.UpdateVerificationItem(ctx, v.ID, added.ID, "rev-1", UpdateLineInput{Quantity: "2"})
	require.NoError(t, err)
	assert.Equal(t, 2, updated.Quantity)
	assert.Equal(t, "3.00", updated.Price.StringFixed(2))
	assert.Equal(t, map[string]int{"P": 6, "Q": 2}, f.reserved(t, o.ID))

	rejected := true
	_, err = f.orders.UpdateVerificationItem(ctx, v.ID, added.ID, "rev-1", UpdateLineInput{Rejected: &rejected})
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"P": 6}, f.reserved(t, o.ID))
	assert.Equal(t, 50, *f.virtual(t, "Q"))

	got, err := f.orders.GetVerification(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, "12.00", got.TotalAmount.StringFixed(2))

	require.NoError(t, f.orders.DeleteVerificationItem(ctx, v.ID, v.Items[0].ID, "rev-1"))
	assert.Empty(t, f.reserved(t, o.ID))
	assert.Equal(t, 100, *f.virtual(t, "P"))
	got, err = f.orders.GetVerification(ctx, v.ID)
	require.NoError(t, err)
	assert.True(t, got.TotalAmount.IsZero())
	assert.Len(t, got.Items, 1)

	assert.ErrorIs(t, f.orders.DeleteVerificationItem(ctx, v.ID, 999, "rev-1"), ErrNotFound)
}

func TestVerificationItems_HeldRecordKeepsLedgerEmpty(t *testing.T) {
	f := newFixture(t)
	f.product(t, "P", domain.IntPtr(100))
	f.product(t, "Q", domain.IntPtr(100))
	ctx := context.Background()
	o, v := verifiedOrder(t, f, vline("P", "6", "2"))
	_, err := f.orders.PatchStatus(ctx, v.ID, "rev-1", domain.VerificationHold, "")
	require.NoError(t, err)

	_, err = f.orders.AddVerificationItem(ctx, v.ID, "rev-1", vline("Q", "5", "1"))
	require.NoError(t, err)
	assert.Empty(t, f.reserved(t, o.ID))
	assert.Equal(t, 100, *f.virtual(t, "Q"))
}

func TestListVerifications_Filter(t *testing.T) {
	f := newFixture(t)
	f.product(t, "P", domain.IntPtr(100))
	ctx := context.Background()
	_, first := verifiedOrder(t, f, vline("P", "1", "1"))
	_, second := verifiedOrder(t, f, vline("P", "1", "1"))
	_, err := f.orders.PatchStatus(ctx, first.ID, "rev-1", domain.VerificationHold, "")
	require.NoError(t, err)

	all, err := f.orders.ListVerifications(ctx, port.VerificationFilter{ReviewerID: "rev-1"})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, second.ID, all[0].ID)

	held, err := f.orders.ListVerifications(ctx, port.VerificationFilter{Status: domain.VerificationHold})
	require.NoError(t, err)
	require.Len(t, held, 1)
	assert.Equal(t, first.ID, held[0].ID)

	_, err = f.orders.GetVerification(ctx, 404)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListVerifications_PagesAndDates(t *testing.T) {
	f := newFixture(t)
	f.product(t, "P", domain.IntPtr(1000))
	ctx := context.Background()
	for i := 0; i < 12; i++ {
		verifiedOrder(t, f, vline("P", "1", "1"))
	}

	page, err := f.orders.ListVerifications(ctx, port.VerificationFilter{})
	require.NoError(t, err)
	assert.Len(t, page, defaultPageSize)

	rest, err := f.orders.ListVerifications(ctx, port.VerificationFilter{Page: 2})
	require.NoError(t, err)
	assert.Len(t, rest, 2)

	small, err := f.orders.ListVerifications(ctx, port.VerificationFilter{Page: 3, PageSize: 5})
	require.NoError(t, err)
	assert.Len(t, small, 2)

	today, err := f.orders.ListVerifications(ctx, port.VerificationFilter{
		From:     time.Now().Add(-time.Hour),
		To:       time.Now().Add(time.Hour),
		PageSize: 50,
	})
	require.NoError(t, err)
	assert.Len(t, today, 12)

	tomorrow, err := f.orders.ListVerifications(ctx, port.VerificationFilter{From: time.Now().Add(24 * time.Hour)})
	require.NoError(t, err)
	assert.Empty(t, tomorrow)
}

func mustCode(t *testing.T, f *fixture, orderID int64) string {
	t.Helper()
	o, err := f.orders.GetOrder(context.Background(), orderID)
	require.NoError(t, err)
	return o.Code
}
