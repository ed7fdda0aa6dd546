package domain

import "time"

// Product is the catalog entry this service tracks stock for. LiveStock is the
// authoritative count fed by the external stock sync; nil means untracked.
// StockVersion increases with every write of VirtualStock.
type Product struct {
	ID           string
	Name         string
	LiveStock    *int
	VirtualStock *int
	StockVersion int64
	UpdatedAt    time.Time
}

// SellableStock derives the virtual stock of a product from its live stock and
// the sum of its current reservations. Untracked products stay untracked.
func SellableStock(liveStock *int, reserved int) *int {
	if liveStock == nil {
		return nil
	}
	v := *liveStock - reserved
	if v < 0 {
		v = 0
	}
	return &v
}

// MatchesLabel reports whether a free-text product label from the dispatch
// feed refers to this product.
func (p Product) MatchesLabel(label string) bool {
	return label != "" && (label == p.ID || label == p.Name)
}

// IntPtr returns a pointer to v.
func IntPtr(v int) *int { return &v }

// EqualStock compares two nullable stock values.
func EqualStock(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
