package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rl1809/order-verification/internal/core/domain"
	"github.com/rl1809/order-verification/internal/metrics"
	"github.com/rl1809/order-verification/internal/port"
)

// scope is one lifecycle transaction. Every ledger write goes through it so
// the product rows involved are locked before they are touched, and every
// touched product is recomputed before the transaction commits.
type scope struct {
	tx      port.Tx
	locked  map[string]*domain.Product
	touched map[string]struct{}
	stocks  map[string]mirroredStock
	changed int
	events  []domain.Event
}

func newScope(tx port.Tx) *scope {
	return &scope{
		tx:      tx,
		locked:  make(map[string]*domain.Product),
		touched: make(map[string]struct{}),
		stocks:  make(map[string]mirroredStock),
	}
}

// mirroredStock is a settled virtual stock together with the product's
// stock version read under its row lock.
type mirroredStock struct {
	stock   *int
	version int64
}

// lock takes row locks on ids that are not locked yet. Callers lock the
// full product set of an operation up front so locks are acquired in one
// ordered batch.
func (s *scope) lock(ctx context.Context, ids ...string) error {
	var missing []string
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := s.locked[id]; ok {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	products, err := s.tx.LockProducts(ctx, missing)
	if err != nil {
		return err
	}
	for id, p := range products {
		s.locked[id] = p
	}
	return nil
}

// product returns a locked product, or nil if it does not exist.
func (s *scope) product(id string) *domain.Product {
	return s.locked[id]
}

// requireProducts locks ids and fails with ErrProductNotFound if any of them
// does not exist.
func (s *scope) requireProducts(ctx context.Context, ids ...string) error {
	if err := s.lock(ctx, ids...); err != nil {
		return err
	}
	for _, id := range ids {
		if s.locked[id] == nil {
			return fmt.Errorf("%w: %s", ErrProductNotFound, id)
		}
	}
	return nil
}

func (s *scope) reserve(ctx context.Context, orderID int64, productID string, quantity int) error {
	if err := s.lock(ctx, productID); err != nil {
		return err
	}
	if err := s.tx.Reserve(ctx, orderID, productID, quantity); err != nil {
		return err
	}
	s.touch(productID)
	return nil
}

func (s *scope) release(ctx context.Context, orderID int64, productID string) error {
	if err := s.lock(ctx, productID); err != nil {
		return err
	}
	if err := s.tx.Release(ctx, orderID, productID); err != nil {
		return err
	}
	s.touch(productID)
	return nil
}

func (s *scope) releaseAll(ctx context.Context, orderID int64) error {
	held, err := s.tx.ListReservations(ctx, orderID)
	if err != nil {
		return err
	}
	ids := make([]string, len(held))
	for i, r := range held {
		ids[i] = r.ProductID
	}
	if err := s.lock(ctx, ids...); err != nil {
		return err
	}
	affected, err := s.tx.ReleaseAll(ctx, orderID)
	if err != nil {
		return err
	}
	for _, id := range affected {
		s.touch(id)
	}
	return nil
}

// reconcile makes the order's ledger entries equal want. Products absent
// from want, or wanted with a non-positive quantity, are released.
func (s *scope) reconcile(ctx context.Context, orderID int64, want map[string]int) error {
	held, err := s.tx.ListReservations(ctx, orderID)
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(held)+len(want))
	for _, r := range held {
		ids = append(ids, r.ProductID)
	}
	for id := range want {
		ids = append(ids, id)
	}
	if err := s.lock(ctx, ids...); err != nil {
		return err
	}

	for _, r := range held {
		if want[r.ProductID] > 0 {
			continue
		}
		if err := s.release(ctx, orderID, r.ProductID); err != nil {
			return err
		}
	}
	wanted := make([]string, 0, len(want))
	for id, qty := range want {
		if qty > 0 {
			wanted = append(wanted, id)
		}
	}
	sort.Strings(wanted)
	for _, id := range wanted {
		if err := s.reserve(ctx, orderID, id, want[id]); err != nil {
			return err
		}
	}
	return nil
}

func (s *scope) touch(productID string) {
	s.touched[productID] = struct{}{}
}

func (s *scope) emit(e domain.Event) {
	s.events = append(s.events, e)
}

// settle recomputes every touched product under the locks held by the scope.
func (s *scope) settle(ctx context.Context) error {
	ids := make([]string, 0, len(s.touched))
	for id := range s.touched {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	if err := s.lock(ctx, ids...); err != nil {
		return err
	}
	for _, id := range ids {
		p := s.locked[id]
		if p == nil {
			continue
		}
		changed, err := recompute(ctx, s.tx, p)
		if err != nil {
			return fmt.Errorf("recompute %s: %w", id, err)
		}
		if changed {
			s.changed++
		}
		s.stocks[id] = mirroredStock{stock: p.VirtualStock, version: p.StockVersion}
	}
	return nil
}

// recompute is the virtual stock calculator. p must be locked by the
// caller's transaction. It reports whether the stored value changed.
func recompute(ctx context.Context, tx port.Tx, p *domain.Product) (bool, error) {
	reserved, err := tx.TotalReserved(ctx, p.ID)
	if err != nil {
		return false, err
	}
	next := domain.SellableStock(p.LiveStock, reserved)
	if domain.EqualStock(next, p.VirtualStock) {
		return false, nil
	}
	if err := tx.SetVirtualStock(ctx, p.ID, next); err != nil {
		return false, err
	}
	p.VirtualStock = next
	p.StockVersion++
	return true, nil
}

// executor runs scopes and performs their post-commit side effects. Nothing
// outside the store is called while a transaction is open.
type executor struct {
	store     port.Store
	cache     port.CacheRepository
	publisher port.EventPublisher
	metrics   *metrics.Registry
}

func newExecutor(store port.Store, cache port.CacheRepository, publisher port.EventPublisher, m *metrics.Registry) executor {
	if cache == nil {
		cache = noopCache{}
	}
	if publisher == nil {
		publisher = noopPublisher{}
	}
	return executor{store: store, cache: cache, publisher: publisher, metrics: m}
}

func (e executor) run(ctx context.Context, op string, fn func(s *scope) error) (*scope, error) {
	start := time.Now()
	var committed *scope
	err := e.store.WithinTx(ctx, func(tx port.Tx) error {
		s := newScope(tx)
		if err := fn(s); err != nil {
			return err
		}
		if err := s.settle(ctx); err != nil {
			return err
		}
		committed = s
		return nil
	})
	e.metrics.ObserveTx(op, start, err)
	if err != nil {
		return nil, err
	}
	e.afterCommit(context.WithoutCancel(ctx), committed)
	return committed, nil
}

// read runs fn in a transaction without ledger bookkeeping.
func (e executor) read(ctx context.Context, fn func(tx port.Tx) error) error {
	return e.store.WithinTx(ctx, fn)
}

func (e executor) afterCommit(ctx context.Context, s *scope) {
	e.metrics.AddRecomputed(len(s.stocks))

	for id, m := range s.stocks {
		if err := e.cache.SetStock(ctx, id, m.stock, m.version); err != nil {
			log.Error().Err(err).Str("productId", id).Msg("failed to mirror virtual stock")
		}
	}
	if len(s.events) == 0 {
		return
	}
	if err := e.publisher.Publish(ctx, s.events...); err != nil {
		log.Error().Err(err).Int("events", len(s.events)).Msg("failed to publish lifecycle events")
	}
}

type noopCache struct{}

func (noopCache) SetStock(context.Context, string, *int, int64) error  { return nil }
func (noopCache) SetIdempotency(context.Context, string) (bool, error) { return true, nil }
func (noopCache) ClearIdempotency(context.Context, string) error       { return nil }

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, ...domain.Event) error { return nil }
