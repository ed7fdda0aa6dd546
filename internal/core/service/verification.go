package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/rl1809/order-verification/internal/core/domain"
	"github.com/rl1809/order-verification/internal/port"
)

const defaultPageSize = 10

// UpdateLineInput edits one verification line. Empty fields keep the
// current value; Rejected, when set, overrides the rejection flag.
type UpdateLineInput struct {
	Quantity string
	Price    string
	Rejected *bool
}

// PatchStatus moves a verification between APPROVED, HOLD and REJECTED and
// mirrors the status onto the order. Notes survive only for HOLD and
// REJECTED.
func (s *OrderService) PatchStatus(ctx context.Context, verificationID int64, reviewerID string, status domain.VerificationStatus, notes string) (*domain.Verification, error) {
	if !status.Patchable() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	var v *domain.Verification
	_, err := s.exec.run(ctx, "patch_status", func(sc *scope) error {
		var (
			order *domain.Order
			err   error
		)
		if v, order, err = s.ownedVerification(ctx, sc.tx, verificationID, reviewerID); err != nil {
			return err
		}
		if !v.Status.Patchable() {
			return fmt.Errorf("%w: verification is %s", ErrInvalidStatus, v.Status)
		}

		v.Status = status
		v.Notes = ""
		if status == domain.VerificationHold || status == domain.VerificationRejected {
			v.Notes = notes
		}
		if err := s.reconcileVerification(ctx, sc, *v); err != nil {
			return err
		}
		if err := sc.tx.UpdateVerification(ctx, *v); err != nil {
			return err
		}
		order.Status = status.OrderStatus()
		if err := sc.tx.UpdateOrderStatus(ctx, order.ID, order.Status, order.Note); err != nil {
			return err
		}
		sc.emit(s.event(domain.EventOrderStatusChanged, *order, reviewerID, nil))
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Info().Int64("verificationId", verificationID).Str("status", string(status)).Msg("verification status patched")
	return v, nil
}

// AddVerificationItem appends one line to a verification and adds its
// amount to the verification total.
func (s *OrderService) AddVerificationItem(ctx context.Context, verificationID int64, reviewerID string, line VerificationLineInput) (*domain.VerificationItem, error) {
	var item domain.VerificationItem
	_, err := s.exec.run(ctx, "add_verification_item", func(sc *scope) error {
		v, _, err := s.ownedVerification(ctx, sc.tx, verificationID, reviewerID)
		if err != nil {
			return err
		}
		if err := sc.lock(ctx, append(verificationProducts(*v), line.ProductID)...); err != nil {
			return err
		}
		p := sc.product(line.ProductID)
		if p == nil {
			return fmt.Errorf("%w: %s", ErrProductNotFound, line.ProductID)
		}
		if v.HasPaidProduct(line.ProductID) {
			return fmt.Errorf("%w: %s", ErrDuplicateProduct, line.ProductID)
		}

		if item, err = s.coerceLine(line); err != nil {
			return err
		}
		item.VerificationID = v.ID
		item.StockAtVerify = observedStock(p)
		if err := sc.tx.AddVerificationItem(ctx, &item); err != nil {
			return err
		}

		v.Items = append(v.Items, item)
		v.TotalAmount = adjustTotal(v.TotalAmount, domain.VerificationItem{}, item)
		if err := sc.tx.UpdateVerification(ctx, *v); err != nil {
			return err
		}
		return s.reconcileVerification(ctx, sc, *v)
	})
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// UpdateVerificationItem edits one line, adjusting the total by the amount
// delta and the ledger when the verification holds stock.
func (s *OrderService) UpdateVerificationItem(ctx context.Context, verificationID, itemID int64, reviewerID string, in UpdateLineInput) (*domain.VerificationItem, error) {
	var updated domain.VerificationItem
	_, err := s.exec.run(ctx, "update_verification_item", func(sc *scope) error {
		v, _, err := s.ownedVerification(ctx, sc.tx, verificationID, reviewerID)
		if err != nil {
			return err
		}
		current, ok := v.FindItem(itemID)
		if !ok {
			return fmt.Errorf("%w: verification item %d", ErrNotFound, itemID)
		}
		if err := sc.lock(ctx, verificationProducts(*v)...); err != nil {
			return err
		}

		updated = current
		if in.Quantity != "" || in.Price != "" {
			line := VerificationLineInput{ProductID: current.ProductID, Quantity: in.Quantity, Price: in.Price}
			if line.Quantity == "" {
				line.Quantity = fmt.Sprint(current.Quantity)
			}
			if line.Price == "" {
				line.Price = current.Price.String()
			}
			coerced, err := s.coerceLine(line)
			if err != nil {
				return err
			}
			updated.Quantity, updated.Price, updated.IsRejected = coerced.Quantity, coerced.Price, coerced.IsRejected
		}
		if in.Rejected != nil {
			updated.IsRejected = *in.Rejected || updated.Quantity <= 0
		}
		if err := sc.tx.UpdateVerificationItem(ctx, updated); err != nil {
			return err
		}

		for i := range v.Items {
			if v.Items[i].ID == itemID {
				v.Items[i] = updated
			}
		}
		v.TotalAmount = adjustTotal(v.TotalAmount, current, updated)
		if err := sc.tx.UpdateVerification(ctx, *v); err != nil {
			return err
		}
		return s.reconcileVerification(ctx, sc, *v)
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// DeleteVerificationItem removes one line, subtracting its amount from the
// total and releasing its stock when the verification holds stock.
func (s *OrderService) DeleteVerificationItem(ctx context.Context, verificationID, itemID int64, reviewerID string) error {
	_, err := s.exec.run(ctx, "delete_verification_item", func(sc *scope) error {
		v, _, err := s.ownedVerification(ctx, sc.tx, verificationID, reviewerID)
		if err != nil {
			return err
		}
		current, ok := v.FindItem(itemID)
		if !ok {
			return fmt.Errorf("%w: verification item %d", ErrNotFound, itemID)
		}
		if err := sc.lock(ctx, verificationProducts(*v)...); err != nil {
			return err
		}
		if err := sc.tx.DeleteVerificationItem(ctx, itemID); err != nil {
			return err
		}

		items := v.Items[:0]
		for _, it := range v.Items {
			if it.ID != itemID {
				items = append(items, it)
			}
		}
		v.Items = items
		v.TotalAmount = adjustTotal(v.TotalAmount, current, domain.VerificationItem{})
		if err := sc.tx.UpdateVerification(ctx, *v); err != nil {
			return err
		}
		return s.reconcileVerification(ctx, sc, *v)
	})
	return err
}

func (s *OrderService) GetVerification(ctx context.Context, verificationID int64) (*domain.Verification, error) {
	var v *domain.Verification
	err := s.exec.read(ctx, func(tx port.Tx) error {
		var err error
		v, err = tx.GetVerification(ctx, verificationID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, fmt.Errorf("%w: verification %d", ErrNotFound, verificationID)
	}
	return v, nil
}

// ListVerifications returns one page of verification history, most recent
// first.
func (s *OrderService) ListVerifications(ctx context.Context, filter port.VerificationFilter) ([]domain.Verification, error) {
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 {
		filter.PageSize = defaultPageSize
	}
	var out []domain.Verification
	err := s.exec.read(ctx, func(tx port.Tx) error {
		var err error
		out, err = tx.ListVerifications(ctx, filter)
		return err
	})
	return out, err
}

// reconcileVerification brings the ledger in line with a verification: an
// approved one holds its approved lines, any other status holds nothing.
func (s *OrderService) reconcileVerification(ctx context.Context, sc *scope, v domain.Verification) error {
	var want map[string]int
	if v.Status.OrderStatus().Reservable() {
		want = v.ApprovedByProduct()
	}
	return sc.reconcile(ctx, v.OrderID, want)
}

// ownedVerification locks the verification's order and loads both, checking
// that the reviewer either verified it or is assigned to the order. The
// verification is read again once the order lock is held.
func (s *OrderService) ownedVerification(ctx context.Context, tx port.Tx, verificationID int64, reviewerID string) (*domain.Verification, *domain.Order, error) {
	v, err := tx.GetVerification(ctx, verificationID)
	if err != nil {
		return nil, nil, err
	}
	if v == nil {
		return nil, nil, fmt.Errorf("%w: verification %d", ErrNotFound, verificationID)
	}
	order, err := tx.LockOrder(ctx, v.OrderID)
	if err != nil {
		return nil, nil, err
	}
	if order == nil {
		return nil, nil, fmt.Errorf("%w: order %d", ErrNotFound, v.OrderID)
	}
	if v, err = tx.GetVerification(ctx, verificationID); err != nil {
		return nil, nil, err
	}
	if v == nil {
		return nil, nil, fmt.Errorf("%w: verification %d", ErrNotFound, verificationID)
	}
	if !reviewerMatches(reviewerID, v.ReviewerID, order.ReviewerID) {
		return nil, nil, fmt.Errorf("%w: order %s", ErrNotAuthorized, order.Code)
	}
	return v, order, nil
}

// reviewerMatches reports whether reviewerID is one of the owners. An empty
// reviewer never matches.
func reviewerMatches(reviewerID string, owners ...string) bool {
	if reviewerID == "" {
		return false
	}
	for _, owner := range owners {
		if owner == reviewerID {
			return true
		}
	}
	return false
}

func verificationProducts(v domain.Verification) []string {
	ids := make([]string, 0, len(v.Items))
	for _, it := range v.Items {
		ids = append(ids, it.ProductID)
	}
	return ids
}

// adjustTotal replaces before's contribution to total with after's. Rejected
// lines contribute nothing. The result never goes below zero.
func adjustTotal(total decimal.Decimal, before, after domain.VerificationItem) decimal.Decimal {
	if !before.IsRejected {
		total = total.Sub(before.LineAmount())
	}
	if !after.IsRejected {
		total = total.Add(after.LineAmount())
	}
	if total.IsNegative() {
		return decimal.Zero
	}
	return total.Round(2)
}
