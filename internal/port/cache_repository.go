package port

import "context"

type CacheRepository interface {
	// SetStock mirrors a product's sellable stock; nil marks it untracked.
	// Writes carrying an older version than the cached one are dropped.
	SetStock(ctx context.Context, productID string, virtualStock *int, version int64) error

	// SetIdempotency sets a key for idempotency check, returns false if already exists
	SetIdempotency(ctx context.Context, key string) (bool, error)

	// ClearIdempotency removes a key after the guarded operation failed
	ClearIdempotency(ctx context.Context, key string) error
}
