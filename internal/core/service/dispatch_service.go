package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rl1809/order-verification/internal/core/domain"
	"github.com/rl1809/order-verification/internal/metrics"
	"github.com/rl1809/order-verification/internal/port"
)

// DispatchRow is one line of the external dispatch feed.
type DispatchRow struct {
	RowKey       string `json:"row_key"`
	OrderCode    string `json:"order_code"`
	ProductLabel string `json:"product_label"`
	Quantity     int    `json:"quantity"`
}

type IngestResult struct {
	Inserted   int      `json:"inserted"`
	Duplicates int      `json:"duplicates"`
	Invalid    int      `json:"invalid"`
	Failed     int      `json:"failed"`
	Delivered  []string `json:"delivered,omitempty"`
}

type PunchInput struct {
	OrderCode        string
	DispatchLocation string
	ReviewerID       string
	// SingleRow punches one corrected line without touching the record's
	// flags, and is allowed on an already punched record.
	SingleRow bool
	ProductID string
}

// DispatchService records shipment confirmations and punches verified
// orders to the dispatch feed.
type DispatchService struct {
	exec executor
	now  func() time.Time
}

func NewDispatchService(store port.Store, cache port.CacheRepository, publisher port.EventPublisher, m *metrics.Registry) *DispatchService {
	return &DispatchService{
		exec: newExecutor(store, cache, publisher, m),
		now:  time.Now,
	}
}

// Ingest appends the rows, skipping row keys already seen. Each row is its
// own transaction; a failing row is logged and skipped. Orders whose
// approved lines are fully dispatched afterwards are marked delivered.
func (s *DispatchService) Ingest(ctx context.Context, rows []DispatchRow) (IngestResult, error) {
	var res IngestResult
	codes := make(map[string]struct{})

	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		row.RowKey = strings.TrimSpace(row.RowKey)
		row.OrderCode = strings.TrimSpace(row.OrderCode)
		if row.RowKey == "" || row.OrderCode == "" || row.Quantity <= 0 {
			log.Warn().Str("rowKey", row.RowKey).Str("orderCode", row.OrderCode).Int("quantity", row.Quantity).
				Msg("skipping invalid dispatch row")
			res.Invalid++
			s.exec.metrics.DispatchRow("invalid")
			continue
		}

		var inserted bool
		_, err := s.exec.run(ctx, "ingest_dispatch", func(sc *scope) error {
			var err error
			inserted, err = sc.tx.InsertDispatchRecord(ctx, domain.DispatchRecord{
				RowKey:       row.RowKey,
				OrderCode:    row.OrderCode,
				ProductLabel: strings.TrimSpace(row.ProductLabel),
				Quantity:     row.Quantity,
				CreatedAt:    s.now(),
			})
			return err
		})
		switch {
		case err != nil:
			log.Error().Err(err).Str("rowKey", row.RowKey).Msg("failed to ingest dispatch row")
			res.Failed++
			s.exec.metrics.DispatchRow("failed")
		case !inserted:
			res.Duplicates++
			s.exec.metrics.DispatchRow("duplicate")
		default:
			res.Inserted++
			s.exec.metrics.DispatchRow("inserted")
			codes[row.OrderCode] = struct{}{}
		}
	}

	sorted := make([]string, 0, len(codes))
	for code := range codes {
		sorted = append(sorted, code)
	}
	sort.Strings(sorted)
	for _, code := range sorted {
		delivered, err := s.settleDelivery(ctx, code)
		if err != nil {
			log.Error().Err(err).Str("orderCode", code).Msg("failed to settle delivery")
			continue
		}
		if delivered {
			res.Delivered = append(res.Delivered, code)
		}
	}

	log.Info().Int("inserted", res.Inserted).Int("duplicates", res.Duplicates).Int("invalid", res.Invalid).
		Int("failed", res.Failed).Int("delivered", len(res.Delivered)).Msg("dispatch feed ingested")
	return res, nil
}

// settleDelivery moves an approved or dispatched order to DELIVERED once
// every approved line is covered by dispatch records.
func (s *DispatchService) settleDelivery(ctx context.Context, code string) (bool, error) {
	var delivered bool
	_, err := s.exec.run(ctx, "settle_delivery", func(sc *scope) error {
		order, err := s.lockOrderByCode(ctx, sc.tx, code)
		if err != nil || order == nil {
			return err
		}
		v, err := sc.tx.GetVerificationByOrder(ctx, order.ID)
		if err != nil || v == nil {
			return err
		}
		if v.Status != domain.VerificationApproved && v.Status != domain.VerificationDispatch {
			return nil
		}
		approved := v.ApprovedByProduct()
		if len(approved) == 0 {
			return nil
		}
		records, err := sc.tx.ListDispatchRecords(ctx, code)
		if err != nil {
			return err
		}
		if err := sc.lock(ctx, verificationProducts(*v)...); err != nil {
			return err
		}
		for pid, qty := range approved {
			if dispatchedQuantity(sc.product(pid), pid, records) < qty {
				return nil
			}
		}

		if err := sc.releaseAll(ctx, order.ID); err != nil {
			return err
		}
		v.Status = domain.VerificationDelivered
		if err := sc.tx.UpdateVerification(ctx, *v); err != nil {
			return err
		}
		order.Status = domain.OrderStatusDelivered
		if err := sc.tx.UpdateOrderStatus(ctx, order.ID, order.Status, order.Note); err != nil {
			return err
		}
		sc.emit(lifecycleEvent(domain.EventOrderDelivered, *order, "", nil, s.now()))
		delivered = true
		return nil
	})
	return delivered, err
}

// lockOrderByCode resolves the code and locks the order row. It returns nil
// when no order has the code.
func (s *DispatchService) lockOrderByCode(ctx context.Context, tx port.Tx, code string) (*domain.Order, error) {
	order, err := tx.GetOrderByCode(ctx, code)
	if err != nil || order == nil {
		return nil, err
	}
	return tx.LockOrder(ctx, order.ID)
}

func dispatchedQuantity(p *domain.Product, productID string, records []domain.DispatchRecord) int {
	total := 0
	for _, rec := range records {
		matches := rec.ProductLabel == productID
		if p != nil {
			matches = p.MatchesLabel(rec.ProductLabel)
		}
		if matches {
			total += rec.Quantity
		}
	}
	return total
}

// Punch marks the order's verification as pushed to the dispatch feed. A
// bulk punch may happen once; it moves the order to DISPATCH and releases
// its reservations. A single-row punch only announces one line.
func (s *DispatchService) Punch(ctx context.Context, in PunchInput) (*domain.Verification, error) {
	if in.OrderCode == "" {
		return nil, fmt.Errorf("%w: order code is required", ErrNotFound)
	}

	var v *domain.Verification
	_, err := s.exec.run(ctx, "punch", func(sc *scope) error {
		order, err := s.lockOrderByCode(ctx, sc.tx, in.OrderCode)
		if err != nil {
			return err
		}
		if order == nil {
			return fmt.Errorf("%w: order %s", ErrNotFound, in.OrderCode)
		}
		if v, err = sc.tx.GetVerificationByOrder(ctx, order.ID); err != nil {
			return err
		}
		if v == nil {
			return fmt.Errorf("%w: order %s has no verification", ErrNotFound, in.OrderCode)
		}
		if !reviewerMatches(in.ReviewerID, v.ReviewerID, order.ReviewerID) {
			return fmt.Errorf("%w: order %s", ErrNotAuthorized, order.Code)
		}

		if in.SingleRow {
			if !v.HasProduct(in.ProductID) {
				return fmt.Errorf("%w: %s is not on order %s", ErrProductNotFound, in.ProductID, order.Code)
			}
			sc.emit(lifecycleEvent(domain.EventOrderPunched, *order, in.ReviewerID, map[string]string{
				"mode":       "single_row",
				"product_id": in.ProductID,
				"location":   in.DispatchLocation,
			}, s.now()))
			return nil
		}

		if v.Punched {
			return fmt.Errorf("%w: %s", ErrAlreadyPunched, order.Code)
		}
		if v.Status != domain.VerificationApproved {
			return fmt.Errorf("%w: cannot punch a %s verification", ErrInvalidStatus, v.Status)
		}
		if err := sc.lock(ctx, verificationProducts(*v)...); err != nil {
			return err
		}
		if err := sc.releaseAll(ctx, order.ID); err != nil {
			return err
		}
		v.Punched = true
		if in.DispatchLocation != "" {
			v.DispatchLocation = in.DispatchLocation
		}
		v.Status = domain.VerificationDispatch
		if err := sc.tx.UpdateVerification(ctx, *v); err != nil {
			return err
		}
		order.Status = domain.OrderStatusDispatch
		if err := sc.tx.UpdateOrderStatus(ctx, order.ID, order.Status, order.Note); err != nil {
			return err
		}
		sc.emit(lifecycleEvent(domain.EventOrderPunched, *order, in.ReviewerID, map[string]string{
			"mode":     "bulk",
			"location": v.DispatchLocation,
		}, s.now()))
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Info().Str("orderCode", in.OrderCode).Bool("singleRow", in.SingleRow).Msg("order punched")
	return v, nil
}
