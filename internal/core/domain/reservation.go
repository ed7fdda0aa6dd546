package domain

import "time"

// ReservationEntry is stock held for one product on behalf of one order.
type ReservationEntry struct {
	OrderID   int64
	ProductID string
	Quantity  int
	UpdatedAt time.Time
}

// DispatchRecord is one confirmed shipment line from the external dispatch
// feed. RowKey is the feed's idempotency key.
type DispatchRecord struct {
	RowKey       string
	OrderCode    string
	ProductLabel string
	Quantity     int
	CreatedAt    time.Time
}
