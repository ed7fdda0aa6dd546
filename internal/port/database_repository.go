package port

import (
	"context"
	"errors"
	"time"

	"github.com/rl1809/order-verification/internal/core/domain"
)

// ErrDuplicateKey is returned by a Tx when a write violates a unique key.
var ErrDuplicateKey = errors.New("duplicate key")

// Store runs units of work atomically. fn's writes are committed only if it
// returns nil; otherwise nothing it did is observable.
type Store interface {
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
}

// VerificationFilter narrows ListVerifications. Zero fields match everything.
// From is inclusive and To exclusive on the creation time. Page counts from
// 1; a zero PageSize returns every match.
type VerificationFilter struct {
	ReviewerID string
	Status     domain.VerificationStatus
	From       time.Time
	To         time.Time
	Page       int
	PageSize   int
}

// Tx is the repository surface available inside one transaction. Getters
// return nil, nil when the row does not exist.
type Tx interface {
	ProductRepository
	OrderRepository
	VerificationRepository
	ReservationLedger
	DispatchRepository
}

type ProductRepository interface {
	GetProduct(ctx context.Context, id string) (*domain.Product, error)

	// LockProducts locks the product rows for the rest of the transaction
	// and returns the ones that exist. Rows are locked in id order.
	LockProducts(ctx context.Context, ids []string) (map[string]*domain.Product, error)

	UpsertProduct(ctx context.Context, p domain.Product) error
	SetLiveStock(ctx context.Context, id string, liveStock *int) error
	// SetVirtualStock stores the value and bumps the product's stock version.
	SetVirtualStock(ctx context.Context, id string, virtualStock *int) error
	ListProductIDs(ctx context.Context) ([]string, error)
}

type OrderRepository interface {
	// CreateOrder inserts the order and its items, filling in their ids.
	CreateOrder(ctx context.Context, order *domain.Order) error
	GetOrder(ctx context.Context, id int64) (*domain.Order, error)
	GetOrderByCode(ctx context.Context, code string) (*domain.Order, error)
	// LockOrder locks the order row for the rest of the transaction and
	// returns it. Mutations lock the order before any product row.
	LockOrder(ctx context.Context, id int64) (*domain.Order, error)
	UpdateOrderStatus(ctx context.Context, id int64, status domain.OrderStatus, note string) error
	// DeleteOrder removes the order together with its verification.
	DeleteOrder(ctx context.Context, id int64) error
	ListUnverifiedOrders(ctx context.Context, reviewerID string) ([]domain.Order, error)
}

type VerificationRepository interface {
	// CreateVerification inserts the record and its items. A second record
	// for the same order fails with ErrDuplicateKey.
	CreateVerification(ctx context.Context, v *domain.Verification) error
	GetVerification(ctx context.Context, id int64) (*domain.Verification, error)
	GetVerificationByOrder(ctx context.Context, orderID int64) (*domain.Verification, error)
	UpdateVerification(ctx context.Context, v domain.Verification) error
	ListVerifications(ctx context.Context, filter VerificationFilter) ([]domain.Verification, error)

	AddVerificationItem(ctx context.Context, item *domain.VerificationItem) error
	UpdateVerificationItem(ctx context.Context, item domain.VerificationItem) error
	DeleteVerificationItem(ctx context.Context, id int64) error
}

// ReservationLedger is pure bookkeeping of stock held per (order, product).
type ReservationLedger interface {
	// Reserve upserts the entry for (orderID, productID).
	Reserve(ctx context.Context, orderID int64, productID string, quantity int) error
	// Release deletes the entry if present.
	Release(ctx context.Context, orderID int64, productID string) error
	// ReleaseAll deletes every entry of the order and returns the distinct
	// products that were affected.
	ReleaseAll(ctx context.Context, orderID int64) ([]string, error)
	// TotalReserved sums reservations of a product, 0 when there are none.
	TotalReserved(ctx context.Context, productID string) (int, error)
	ListReservations(ctx context.Context, orderID int64) ([]domain.ReservationEntry, error)
}

type DispatchRepository interface {
	// InsertDispatchRecord appends the record, returning false when its row
	// key was already ingested.
	InsertDispatchRecord(ctx context.Context, rec domain.DispatchRecord) (bool, error)
	ListDispatchRecords(ctx context.Context, orderCode string) ([]domain.DispatchRecord, error)
}
