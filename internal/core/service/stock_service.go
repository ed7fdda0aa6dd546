package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/rl1809/order-verification/internal/core/domain"
	"github.com/rl1809/order-verification/internal/metrics"
	"github.com/rl1809/order-verification/internal/port"
)

type ProductInput struct {
	ID        string
	Name      string
	LiveStock *int
}

// StockLevel is one row of the external stock feed. LiveStock is raw text;
// blank means the feed has no count for the product.
type StockLevel struct {
	ProductID string `json:"product_id"`
	LiveStock string `json:"live_stock"`
}

type StockSyncResult struct {
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
}

type RecomputeResult struct {
	Total   int `json:"total"`
	Updated int `json:"updated"`
}

// StockService owns live stock writes and virtual stock repair. Every write
// takes the product row lock used by the reservation ledger.
type StockService struct {
	exec executor
}

func NewStockService(store port.Store, cache port.CacheRepository, m *metrics.Registry) *StockService {
	return &StockService{exec: newExecutor(store, cache, nil, m)}
}

// UpsertProduct creates or replaces a catalog entry and recomputes its
// virtual stock against the current ledger.
func (s *StockService) UpsertProduct(ctx context.Context, in ProductInput) (*domain.Product, error) {
	in.ID = strings.TrimSpace(in.ID)
	if in.ID == "" {
		return nil, fmt.Errorf("%w: product id is required", ErrInvalidOrder)
	}

	sc, err := s.exec.run(ctx, "upsert_product", func(sc *scope) error {
		if err := sc.lock(ctx, in.ID); err != nil {
			return err
		}
		p := domain.Product{ID: in.ID, Name: in.Name, LiveStock: copyStock(in.LiveStock)}
		if cur := sc.product(in.ID); cur != nil {
			p.VirtualStock = cur.VirtualStock
			cur.Name, cur.LiveStock = p.Name, copyStock(p.LiveStock)
		}
		if err := sc.tx.UpsertProduct(ctx, p); err != nil {
			return err
		}
		sc.touch(in.ID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &domain.Product{
		ID:           in.ID,
		Name:         in.Name,
		LiveStock:    copyStock(in.LiveStock),
		VirtualStock: copyStock(sc.stocks[in.ID].stock),
	}, nil
}

// Apply writes a batch of live stock counts. Unknown products, blank or
// malformed counts and unchanged values are skipped. Each row commits on its
// own so a bad row never aborts the batch.
func (s *StockService) Apply(ctx context.Context, levels []StockLevel) (StockSyncResult, error) {
	var res StockSyncResult
	for _, level := range levels {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		updated, err := s.applyOne(ctx, level)
		switch {
		case err != nil:
			log.Warn().Err(err).Str("productId", level.ProductID).Str("liveStock", level.LiveStock).Msg("skipping stock row")
			res.Skipped++
			s.exec.metrics.StockSyncRow("failed")
		case !updated:
			res.Skipped++
			s.exec.metrics.StockSyncRow("skipped")
		default:
			res.Updated++
			s.exec.metrics.StockSyncRow("updated")
		}
	}
	log.Info().Int("updated", res.Updated).Int("skipped", res.Skipped).Msg("stock feed applied")
	return res, nil
}

func (s *StockService) applyOne(ctx context.Context, level StockLevel) (bool, error) {
	id := strings.TrimSpace(level.ProductID)
	if id == "" {
		return false, fmt.Errorf("%w: blank product id", ErrProductNotFound)
	}
	stock, present, ok := parseStock(level.LiveStock)
	if !ok {
		return false, fmt.Errorf("%w: live_stock=%q", ErrMalformedQuantityOrPrice, level.LiveStock)
	}
	if !present {
		return false, nil
	}

	var updated bool
	_, err := s.exec.run(ctx, "stock_sync", func(sc *scope) error {
		if err := sc.lock(ctx, id); err != nil {
			return err
		}
		p := sc.product(id)
		if p == nil {
			return fmt.Errorf("%w: %s", ErrProductNotFound, id)
		}
		if domain.EqualStock(p.LiveStock, &stock) {
			return nil
		}
		if err := sc.tx.SetLiveStock(ctx, id, &stock); err != nil {
			return err
		}
		p.LiveStock = domain.IntPtr(stock)
		sc.touch(id)
		updated = true
		return nil
	})
	return updated, err
}

// Recompute rederives one product's virtual stock under its row lock.
func (s *StockService) Recompute(ctx context.Context, productID string) (*domain.Product, error) {
	var out *domain.Product
	_, err := s.exec.run(ctx, "recompute", func(sc *scope) error {
		if err := sc.requireProducts(ctx, productID); err != nil {
			return err
		}
		sc.touch(productID)
		out = sc.product(productID)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RecomputeAll repairs every product, each in its own transaction. Failures
// are collected and the remaining products are still processed.
func (s *StockService) RecomputeAll(ctx context.Context) (RecomputeResult, error) {
	var ids []string
	err := s.exec.read(ctx, func(tx port.Tx) error {
		var err error
		ids, err = tx.ListProductIDs(ctx)
		return err
	})
	if err != nil {
		return RecomputeResult{}, err
	}

	res := RecomputeResult{Total: len(ids)}
	var errs []error
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		sc, err := s.exec.run(ctx, "recompute", func(sc *scope) error {
			if err := sc.lock(ctx, id); err != nil {
				return err
			}
			sc.touch(id)
			return nil
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("recompute %s: %w", id, err))
			continue
		}
		res.Updated += sc.changed
	}
	log.Info().Int("total", res.Total).Int("updated", res.Updated).Msg("virtual stock recomputed")
	return res, errors.Join(errs...)
}

func (s *StockService) GetStock(ctx context.Context, productID string) (*domain.Product, error) {
	var p *domain.Product
	err := s.exec.read(ctx, func(tx port.Tx) error {
		var err error
		p, err = tx.GetProduct(ctx, productID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("%w: %s", ErrProductNotFound, productID)
	}
	return p, nil
}
