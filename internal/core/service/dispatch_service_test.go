package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/order-verification/internal/core/domain"
	"github.com/rl1809/order-verification/internal/port"
)

func dispatchRecords(t *testing.T, f *fixture, code string) []domain.DispatchRecord {
	t.Helper()
	var recs []domain.DispatchRecord
	require.NoError(t, f.store.WithinTx(context.Background(), func(tx port.Tx) error {
		var err error
		recs, err = tx.ListDispatchRecords(context.Background(), code)
		return err
	}))
	return recs
}

func TestIngest_DeduplicatesRowKeys(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rows := []DispatchRow{
		{RowKey: "r1", OrderCode: "ORD-X", ProductLabel: "P", Quantity: 2},
		{RowKey: "r1", OrderCode: "ORD-X", ProductLabel: "P", Quantity: 2},
		{RowKey: "", OrderCode: "ORD-X", Quantity: 1},
		{RowKey: "r2", OrderCode: "ORD-X", ProductLabel: "P", Quantity: 0},
	}

	res, err := f.dispatch.Ingest(ctx, rows)
	require.NoError(t, err)
	assert.Equal(t, IngestResult{Inserted: 1, Duplicates: 1, Invalid: 2}, res)

	res, err = f.dispatch.Ingest(ctx, rows[:1])
	require.NoError(t, err)
	assert.Equal(t, 1, res.Duplicates)
	assert.Len(t, dispatchRecords(t, f, "ORD-X"), 1)
}

func TestPunch_BulkOnce(t *testing.T) {
	f := newFixture(t)
	f.product(t, "P", domain.IntPtr(100))
	ctx := context.Background()
	o, _ := verifiedOrder(t, f, vline("P", "6", "2"))

	v, err := f.dispatch.Punch(ctx, PunchInput{OrderCode: o.Code, DispatchLocation: "WH-NORTH", ReviewerID: "rev-1"})
	require.NoError(t, err)
	assert.True(t, v.Punched)
	assert.Equal(t, "WH-NORTH", v.DispatchLocation)
	assert.Equal(t, domain.VerificationDispatch, v.Status)
	assert.Empty(t, f.reserved(t, o.ID))
	assert.Equal(t, 100, *f.virtual(t, "P"))

	got, err := f.orders.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusDispatch, got.Status)

	_, err = f.dispatch.Punch(ctx, PunchInput{OrderCode: o.Code, ReviewerID: "rev-1"})
	assert.ErrorIs(t, err, ErrAlreadyPunched)
}

func TestPunch_SingleRowBypassesGuard(t *testing.T) {
	f := newFixture(t)
	f.product(t, "P", domain.IntPtr(100))
	ctx := context.Background()
	o, _ := verifiedOrder(t, f, vline("P", "6", "2"))
	_, err := f.dispatch.Punch(ctx, PunchInput{OrderCode: o.Code, ReviewerID: "rev-1"})
	require.NoError(t, err)

	v, err := f.dispatch.Punch(ctx, PunchInput{OrderCode: o.Code, ReviewerID: "rev-1", SingleRow: true, ProductID: "P"})
	require.NoError(t, err)
	assert.True(t, v.Punched)

	_, err = f.dispatch.Punch(ctx, PunchInput{OrderCode: o.Code, ReviewerID: "rev-1", SingleRow: true, ProductID: "Z"})
	assert.ErrorIs(t, err, ErrProductNotFound)

	punched := 0
	for _, e := range f.events.types() {
		if e == domain.EventOrderPunched {
			punched++
		}
	}
	assert.Equal(t, 2, punched)
}

func TestPunch_Failures(t *testing.T) {
	f := newFixture(t)
	f.product(t, "P", domain.IntPtr(100))
	ctx := context.Background()
	unverified := f.order(t, "rev-1", line("P", 1, "1"))
	o, v := verifiedOrder(t, f, vline("P", "6", "2"))

	_, err := f.dispatch.Punch(ctx, PunchInput{OrderCode: "ORD-NOPE", ReviewerID: "rev-1"})
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.dispatch.Punch(ctx, PunchInput{OrderCode: unverified.Code, ReviewerID: "rev-1"})
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = f.dispatch.Punch(ctx, PunchInput{OrderCode: o.Code, ReviewerID: "rev-2"})
	assert.ErrorIs(t, err, ErrNotAuthorized)

	_, err = f.orders.PatchStatus(ctx, v.ID, "rev-1", domain.VerificationHold, "")
	require.NoError(t, err)
	_, err = f.dispatch.Punch(ctx, PunchInput{OrderCode: o.Code, ReviewerID: "rev-1"})
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestIngest_SettlesDeliveredOrders(t *testing.T) {
	f := newFixture(t)
	f.product(t, "P", domain.IntPtr(100))
	f.product(t, "Q", domain.IntPtr(100))
	ctx := context.Background()
	o, _ := verifiedOrder(t, f, vline("P", "6", "2"), vline("Q", "3", "2"))
	assert.Equal(t, map[string]int{"P": 6, "Q": 3}, f.reserved(t, o.ID))

	res, err := f.dispatch.Ingest(ctx, []DispatchRow{
		{RowKey: "a", OrderCode: o.Code, ProductLabel: "P", Quantity: 4},
		{RowKey: "b", OrderCode: o.Code, ProductLabel: "Product Q", Quantity: 3},
	})
	require.NoError(t, err)
	assert.Empty(t, res.Delivered)
	assert.Equal(t, map[string]int{"P": 6, "Q": 3}, f.reserved(t, o.ID))

	res, err = f.dispatch.Ingest(ctx, []DispatchRow{{RowKey: "c", OrderCode: o.Code, ProductLabel: "P", Quantity: 2}})
	require.NoError(t, err)
	assert.Equal(t, []string{o.Code}, res.Delivered)
	assert.Empty(t, f.reserved(t, o.ID))
	assert.Equal(t, 100, *f.virtual(t, "P"))

	got, err := f.orders.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusDelivered, got.Status)
	assert.Contains(t, f.events.types(), domain.EventOrderDelivered)
}

func TestStockSync_Apply(t *testing.T) {
	f := newFixture(t)
	f.product(t, "P", domain.IntPtr(100))
	f.product(t, "Q", domain.IntPtr(10))
	ctx := context.Background()
	f.order(t, "rev-1", line("P", 10, "1"))

	res, err := f.stock.Apply(ctx, []StockLevel{
		{ProductID: "P", LiveStock: "40"},
		{ProductID: "Q", LiveStock: "10"},
		{ProductID: "ghost", LiveStock: "5"},
		{ProductID: "Q", LiveStock: ""},
		{ProductID: "Q", LiveStock: "lots"},
	})
	require.NoError(t, err)
	assert.Equal(t, StockSyncResult{Updated: 1, Skipped: 4}, res)
	assert.Equal(t, 30, *f.virtual(t, "P"))
	assert.Equal(t, 10, *f.virtual(t, "Q"))
	assert.Equal(t, 30, *f.cache.stocks["P"])

	// Live stock below the reserved total floors at zero.
	_, err = f.stock.Apply(ctx, []StockLevel{{ProductID: "P", LiveStock: "4"}})
	require.NoError(t, err)
	assert.Equal(t, 0, *f.virtual(t, "P"))
}

func TestRecompute_Idempotent(t *testing.T) {
	f := newFixture(t)
	f.product(t, "P", domain.IntPtr(100))
	f.product(t, "U", nil)
	ctx := context.Background()
	f.order(t, "rev-1", line("P", 10, "1"))

	// Corrupt the stored value so the repair has something to fix.
	require.NoError(t, f.store.WithinTx(ctx, func(tx port.Tx) error {
		return tx.SetVirtualStock(ctx, "P", domain.IntPtr(1))
	}))

	res, err := f.stock.RecomputeAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, RecomputeResult{Total: 2, Updated: 1}, res)
	assert.Equal(t, 90, *f.virtual(t, "P"))

	res, err = f.stock.RecomputeAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, RecomputeResult{Total: 2, Updated: 0}, res)
	assert.Equal(t, 90, *f.virtual(t, "P"))
	assert.Nil(t, f.virtual(t, "U"))

	p, err := f.stock.Recompute(ctx, "P")
	require.NoError(t, err)
	assert.Equal(t, 90, *p.VirtualStock)
	_, err = f.stock.Recompute(ctx, "ghost")
	assert.ErrorIs(t, err, ErrProductNotFound)
}

func TestUpsertProduct_RecomputesAgainstLedger(t *testing.T) {
	f := newFixture(t)
	f.product(t, "P", domain.IntPtr(100))
	f.order(t, "rev-1", line("P", 10, "1"))

	p, err := f.stock.UpsertProduct(context.Background(), ProductInput{ID: "P", Name: "Renamed", LiveStock: domain.IntPtr(50)})
	require.NoError(t, err)
	assert.Equal(t, 40, *p.VirtualStock)

	p, err = f.stock.UpsertProduct(context.Background(), ProductInput{ID: "P", Name: "Renamed"})
	require.NoError(t, err)
	assert.Nil(t, p.VirtualStock)

	_, err = f.stock.UpsertProduct(context.Background(), ProductInput{ID: " "})
	assert.ErrorIs(t, err, ErrInvalidOrder)
}
