package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusHold      OrderStatus = "HOLD"
	OrderStatusRejected  OrderStatus = "REJECTED"
	OrderStatusApproved  OrderStatus = "APPROVED"
	OrderStatusDispatch  OrderStatus = "DISPATCH"
	OrderStatusDelivered OrderStatus = "DELIVERED"
)

// Reservable reports whether an order in this status holds stock in the
// reservation ledger.
func (s OrderStatus) Reservable() bool {
	return s == OrderStatusPending || s == OrderStatusApproved
}

type Order struct {
	ID          int64
	Code        string
	RequesterID string
	ReviewerID  string
	Total       decimal.Decimal
	Status      OrderStatus
	Note        string
	CreatedAt   time.Time
	Items       []OrderItem
}

type OrderItem struct {
	ID           int64
	OrderID      int64
	ProductID    string
	Quantity     int
	Price        decimal.Decimal
	IsSchemeItem bool
	// ReservedAtSubmit is the sellable stock observed when the order was placed.
	ReservedAtSubmit *int
}

// OrderTotal sums quantity*price over paid lines. Scheme lines are free.
func OrderTotal(items []OrderItem) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		if it.IsSchemeItem {
			continue
		}
		total = total.Add(it.Price.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	return total.Round(2)
}

// QuantitiesByProduct aggregates requested quantities per product, scheme
// lines included.
func (o Order) QuantitiesByProduct() map[string]int {
	out := make(map[string]int, len(o.Items))
	for _, it := range o.Items {
		out[it.ProductID] += it.Quantity
	}
	return out
}

// ProductIDs returns the distinct products referenced by the order.
func (o Order) ProductIDs() []string {
	seen := make(map[string]struct{}, len(o.Items))
	ids := make([]string, 0, len(o.Items))
	for _, it := range o.Items {
		if _, ok := seen[it.ProductID]; ok {
			continue
		}
		seen[it.ProductID] = struct{}{}
		ids = append(ids, it.ProductID)
	}
	return ids
}
