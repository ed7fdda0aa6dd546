package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/order-verification/internal/core/domain"
	"github.com/rl1809/order-verification/internal/port"
)

// runStoreContract exercises the behaviour every port.Store must share.
// Identifiers are random so the suite can run against a shared database.
func runStoreContract(t *testing.T, store port.Store) {
	ctx := context.Background()

	tx := func(t *testing.T, fn func(tx port.Tx) error) {
		t.Helper()
		require.NoError(t, store.WithinTx(ctx, fn))
	}

	newProduct := func(t *testing.T, live *int) string {
		id := "p-" + uuid.NewString()[:8]
		tx(t, func(tx port.Tx) error {
			return tx.UpsertProduct(ctx, domain.Product{ID: id, Name: "Widget", LiveStock: live})
		})
		return id
	}

	newOrder := func(t *testing.T, productID string, qty int) *domain.Order {
		o := &domain.Order{
			Code:        "T-" + uuid.NewString()[:12],
			RequesterID: "seller",
			ReviewerID:  "rev",
			Total:       decimal.NewFromInt(int64(qty)),
			Status:      domain.OrderStatusPending,
			Items: []domain.OrderItem{
				{ProductID: productID, Quantity: qty, Price: decimal.NewFromInt(1)},
			},
		}
		tx(t, func(tx port.Tx) error { return tx.CreateOrder(ctx, o) })
		return o
	}

	t.Run("rollback discards writes", func(t *testing.T) {
		pid := newProduct(t, intPtr(5))
		o := newOrder(t, pid, 2)

		boom := errors.New("boom")
		err := store.WithinTx(ctx, func(tx port.Tx) error {
			if err := tx.Reserve(ctx, o.ID, pid, 2); err != nil {
				return err
			}
			if err := tx.SetVirtualStock(ctx, pid, intPtr(3)); err != nil {
				return err
			}
			return boom
		})
		assert.ErrorIs(t, err, boom)

		tx(t, func(tx port.Tx) error {
			total, err := tx.TotalReserved(ctx, pid)
			require.NoError(t, err)
			assert.Zero(t, total)

			p, err := tx.GetProduct(ctx, pid)
			require.NoError(t, err)
			assert.Nil(t, p.VirtualStock)
			return nil
		})
	})

	t.Run("lock returns only existing products", func(t *testing.T) {
		pid := newProduct(t, nil)
		tx(t, func(tx port.Tx) error {
			locked, err := tx.LockProducts(ctx, []string{pid, "missing-" + pid})
			require.NoError(t, err)
			assert.Len(t, locked, 1)
			assert.Nil(t, locked[pid].LiveStock)
			return nil
		})
	})

	t.Run("order lock serializes writers", func(t *testing.T) {
		pid := newProduct(t, intPtr(5))
		o := newOrder(t, pid, 1)

		locked := make(chan struct{})
		done := make(chan error, 1)
		go func() {
			done <- store.WithinTx(ctx, func(tx port.Tx) error {
				got, err := tx.LockOrder(ctx, o.ID)
				if err != nil {
					return err
				}
				close(locked)
				time.Sleep(50 * time.Millisecond)
				return tx.UpdateOrderStatus(ctx, got.ID, domain.OrderStatusHold, "parked")
			})
		}()

		<-locked
		tx(t, func(tx port.Tx) error {
			got, err := tx.LockOrder(ctx, o.ID)
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, domain.OrderStatusHold, got.Status)
			assert.Equal(t, "parked", got.Note)
			require.Len(t, got.Items, 1)

			missing, err := tx.LockOrder(ctx, o.ID+1_000_000)
			require.NoError(t, err)
			assert.Nil(t, missing)
			return nil
		})
		require.NoError(t, <-done)
	})

	t.Run("virtual stock writes bump the version", func(t *testing.T) {
		pid := newProduct(t, intPtr(5))
		tx(t, func(tx port.Tx) error {
			require.NoError(t, tx.SetVirtualStock(ctx, pid, intPtr(5)))
			require.NoError(t, tx.SetVirtualStock(ctx, pid, intPtr(4)))
			return nil
		})
		tx(t, func(tx port.Tx) error {
			require.NoError(t, tx.UpsertProduct(ctx, domain.Product{ID: pid, Name: "Renamed", LiveStock: intPtr(7)}))
			return nil
		})
		tx(t, func(tx port.Tx) error {
			p, err := tx.GetProduct(ctx, pid)
			require.NoError(t, err)
			assert.Equal(t, int64(2), p.StockVersion)
			assert.Equal(t, 4, *p.VirtualStock)
			assert.Equal(t, "Renamed", p.Name)
			return nil
		})
	})

	t.Run("order code is unique", func(t *testing.T) {
		pid := newProduct(t, intPtr(1))
		o := newOrder(t, pid, 1)

		err := store.WithinTx(ctx, func(tx port.Tx) error {
			return tx.CreateOrder(ctx, &domain.Order{
				Code: o.Code, RequesterID: "x", ReviewerID: "rev",
				Status: domain.OrderStatusPending, Total: decimal.Zero,
			})
		})
		assert.ErrorIs(t, err, port.ErrDuplicateKey)

		tx(t, func(tx port.Tx) error {
			got, err := tx.GetOrderByCode(ctx, o.Code)
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, o.ID, got.ID)
			require.Len(t, got.Items, 1)
			assert.Equal(t, pid, got.Items[0].ProductID)
			return nil
		})
	})

	t.Run("one verification per order", func(t *testing.T) {
		pid := newProduct(t, intPtr(1))
		o := newOrder(t, pid, 1)
		v := &domain.Verification{
			OrderID: o.ID, ReviewerID: "rev", Status: domain.VerificationApproved,
			TotalAmount: decimal.NewFromInt(1),
			Items:       []domain.VerificationItem{{ProductID: pid, Quantity: 1, Price: decimal.NewFromInt(1)}},
		}
		tx(t, func(tx port.Tx) error { return tx.CreateVerification(ctx, v) })
		assert.NotZero(t, v.ID)

		err := store.WithinTx(ctx, func(tx port.Tx) error {
			return tx.CreateVerification(ctx, &domain.Verification{
				OrderID: o.ID, ReviewerID: "rev", Status: domain.VerificationRejected, TotalAmount: decimal.Zero,
			})
		})
		assert.ErrorIs(t, err, port.ErrDuplicateKey)

		tx(t, func(tx port.Tx) error {
			got, err := tx.GetVerificationByOrder(ctx, o.ID)
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, domain.VerificationApproved, got.Status)
			require.Len(t, got.Items, 1)
			assert.Equal(t, v.ID, got.Items[0].VerificationID)

			unverified, err := tx.ListUnverifiedOrders(ctx, "rev")
			require.NoError(t, err)
			for _, u := range unverified {
				assert.NotEqual(t, o.ID, u.ID)
			}
			return nil
		})
	})

	t.Run("verification items keep the scheme flag", func(t *testing.T) {
		pid := newProduct(t, intPtr(10))
		o := newOrder(t, pid, 3)
		v := &domain.Verification{
			OrderID: o.ID, ReviewerID: "rev", Status: domain.VerificationApproved, TotalAmount: decimal.NewFromInt(3),
			Items: []domain.VerificationItem{
				{ProductID: pid, Quantity: 3, Price: decimal.NewFromInt(1)},
				{ProductID: pid, Quantity: 1, Price: decimal.Zero, IsSchemeItem: true},
			},
		}
		tx(t, func(tx port.Tx) error { return tx.CreateVerification(ctx, v) })
		tx(t, func(tx port.Tx) error {
			got, err := tx.GetVerification(ctx, v.ID)
			require.NoError(t, err)
			require.Len(t, got.Items, 2)
			assert.False(t, got.Items[0].IsSchemeItem)
			assert.True(t, got.Items[1].IsSchemeItem)
			return nil
		})
	})

	t.Run("verification history filters by date and pages", func(t *testing.T) {
		pid := newProduct(t, intPtr(10))
		reviewer := "rev-" + uuid.NewString()[:8]
		for i := 0; i < 3; i++ {
			o := newOrder(t, pid, 1)
			tx(t, func(tx port.Tx) error {
				return tx.CreateVerification(ctx, &domain.Verification{
					OrderID: o.ID, ReviewerID: reviewer, Status: domain.VerificationHold, TotalAmount: decimal.Zero,
				})
			})
		}

		tx(t, func(tx port.Tx) error {
			first, err := tx.ListVerifications(ctx, port.VerificationFilter{ReviewerID: reviewer, Page: 1, PageSize: 2})
			require.NoError(t, err)
			assert.Len(t, first, 2)

			second, err := tx.ListVerifications(ctx, port.VerificationFilter{ReviewerID: reviewer, Page: 2, PageSize: 2})
			require.NoError(t, err)
			require.Len(t, second, 1)
			for _, v := range first {
				assert.NotEqual(t, v.ID, second[0].ID)
			}

			all, err := tx.ListVerifications(ctx, port.VerificationFilter{
				ReviewerID: reviewer,
				From:       time.Now().Add(-time.Hour),
				To:         time.Now().Add(time.Hour),
			})
			require.NoError(t, err)
			assert.Len(t, all, 3)

			later, err := tx.ListVerifications(ctx, port.VerificationFilter{ReviewerID: reviewer, From: time.Now().Add(time.Hour)})
			require.NoError(t, err)
			assert.Empty(t, later)

			earlier, err := tx.ListVerifications(ctx, port.VerificationFilter{ReviewerID: reviewer, To: time.Now().Add(-time.Hour)})
			require.NoError(t, err)
			assert.Empty(t, earlier)
			return nil
		})
	})

	t.Run("ledger upsert and release", func(t *testing.T) {
		pid := newProduct(t, intPtr(10))
		a := newOrder(t, pid, 3)
		b := newOrder(t, pid, 4)

		tx(t, func(tx port.Tx) error {
			require.NoError(t, tx.Reserve(ctx, a.ID, pid, 3))
			require.NoError(t, tx.Reserve(ctx, b.ID, pid, 4))
			require.NoError(t, tx.Reserve(ctx, a.ID, pid, 1))
			return nil
		})
		tx(t, func(tx port.Tx) error {
			total, err := tx.TotalReserved(ctx, pid)
			require.NoError(t, err)
			assert.Equal(t, 5, total)

			affected, err := tx.ReleaseAll(ctx, b.ID)
			require.NoError(t, err)
			assert.Equal(t, []string{pid}, affected)

			total, err = tx.TotalReserved(ctx, pid)
			require.NoError(t, err)
			assert.Equal(t, 1, total)
			return nil
		})
	})

	t.Run("delete order cascades", func(t *testing.T) {
		pid := newProduct(t, intPtr(10))
		o := newOrder(t, pid, 2)
		tx(t, func(tx port.Tx) error {
			require.NoError(t, tx.Reserve(ctx, o.ID, pid, 2))
			return tx.CreateVerification(ctx, &domain.Verification{
				OrderID: o.ID, ReviewerID: "rev", Status: domain.VerificationHold, TotalAmount: decimal.Zero,
			})
		})
		tx(t, func(tx port.Tx) error {
			if _, err := tx.ReleaseAll(ctx, o.ID); err != nil {
				return err
			}
			return tx.DeleteOrder(ctx, o.ID)
		})
		tx(t, func(tx port.Tx) error {
			got, err := tx.GetOrder(ctx, o.ID)
			require.NoError(t, err)
			assert.Nil(t, got)

			v, err := tx.GetVerificationByOrder(ctx, o.ID)
			require.NoError(t, err)
			assert.Nil(t, v)
			return nil
		})
	})

	t.Run("dispatch rows are deduplicated", func(t *testing.T) {
		code := "T-" + uuid.NewString()[:12]
		key := uuid.NewString()
		rec := domain.DispatchRecord{RowKey: key, OrderCode: code, ProductLabel: "Widget", Quantity: 2}

		tx(t, func(tx port.Tx) error {
			inserted, err := tx.InsertDispatchRecord(ctx, rec)
			require.NoError(t, err)
			assert.True(t, inserted)
			return nil
		})
		tx(t, func(tx port.Tx) error {
			inserted, err := tx.InsertDispatchRecord(ctx, rec)
			require.NoError(t, err)
			assert.False(t, inserted)

			rows, err := tx.ListDispatchRecords(ctx, code)
			require.NoError(t, err)
			require.Len(t, rows, 1)
			assert.Equal(t, 2, rows[0].Quantity)
			return nil
		})
	})
}
