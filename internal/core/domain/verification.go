package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type VerificationStatus string

const (
	VerificationApproved  VerificationStatus = "APPROVED"
	VerificationRejected  VerificationStatus = "REJECTED"
	VerificationHold      VerificationStatus = "HOLD"
	VerificationDispatch  VerificationStatus = "DISPATCH"
	VerificationDelivered VerificationStatus = "DELIVERED"
)

// OrderStatus is the status the parent order mirrors.
func (s VerificationStatus) OrderStatus() OrderStatus { return OrderStatus(s) }

// Patchable reports whether a reviewer may set this status directly.
// DISPATCH and DELIVERED belong to the dispatch path.
func (s VerificationStatus) Patchable() bool {
	return s == VerificationApproved || s == VerificationRejected || s == VerificationHold
}

// Verification is a reviewer's disposition over an order. At most one exists
// per order.
type Verification struct {
	ID               int64
	OrderID          int64
	ReviewerID       string
	Status           VerificationStatus
	Notes            string
	TotalAmount      decimal.Decimal
	Punched          bool
	DispatchLocation string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	Items            []VerificationItem
}

type VerificationItem struct {
	ID             int64
	VerificationID int64
	ProductID      string
	Quantity       int
	Price          decimal.Decimal
	IsRejected     bool
	IsSchemeItem   bool
	// StockAtVerify is the sellable stock observed at verification time.
	StockAtVerify *int
}

// ApprovedByProduct aggregates approved quantities per product.
func (v Verification) ApprovedByProduct() map[string]int {
	out := make(map[string]int)
	for _, it := range v.Items {
		if it.IsRejected {
			continue
		}
		out[it.ProductID] += it.Quantity
	}
	return out
}

// FindItem returns the line with the given id.
func (v Verification) FindItem(id int64) (VerificationItem, bool) {
	for _, it := range v.Items {
		if it.ID == id {
			return it, true
		}
	}
	return VerificationItem{}, false
}

// HasProduct reports whether any line references productID.
func (v Verification) HasProduct(productID string) bool {
	for _, it := range v.Items {
		if it.ProductID == productID {
			return true
		}
	}
	return false
}

// HasPaidProduct reports whether a non-scheme line references productID.
func (v Verification) HasPaidProduct(productID string) bool {
	for _, it := range v.Items {
		if it.ProductID == productID && !it.IsSchemeItem {
			return true
		}
	}
	return false
}

// LineAmount is price*quantity for one line.
func (it VerificationItem) LineAmount() decimal.Decimal {
	return it.Price.Mul(decimal.NewFromInt(int64(it.Quantity)))
}
