package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/rl1809/order-verification/internal/core/domain"
	"github.com/rl1809/order-verification/internal/metrics"
	"github.com/rl1809/order-verification/internal/port"
)

type LineInput struct {
	ProductID string
	Quantity  int
	Price     decimal.Decimal
}

type SchemeInput struct {
	ProductID string
	Quantity  int
}

type CreateOrderInput struct {
	// RequestID is an optional client idempotency key.
	RequestID   string
	RequesterID string
	ReviewerID  string
	Note        string
	Items       []LineInput
	SchemeItems []SchemeInput
}

// VerificationLineInput carries raw reviewer values; they are coerced rather
// than rejected.
type VerificationLineInput struct {
	ProductID string
	Quantity  string
	Price     string
}

type VerifyInput struct {
	Status           domain.VerificationStatus
	Notes            string
	TotalAmount      string
	DispatchLocation string
	Items            []VerificationLineInput
	// SchemeItems cover the order's free lines; their price is always 0.
	SchemeItems []VerificationLineInput
}

type OrderServiceOption func(*OrderService)

func WithMetrics(m *metrics.Registry) OrderServiceOption {
	return func(s *OrderService) { s.exec.metrics = m }
}

func WithCodePrefix(prefix string) OrderServiceOption {
	return func(s *OrderService) { s.codePrefix = prefix }
}

// WithStrictPayload makes malformed verification quantities and prices fail
// the request instead of being coerced to 0.
func WithStrictPayload(strict bool) OrderServiceOption {
	return func(s *OrderService) { s.strict = strict }
}

// OrderService drives order and verification state transitions together with
// the reservation ledger, one transaction per operation.
type OrderService struct {
	exec       executor
	codePrefix string
	strict     bool
	now        func() time.Time
}

func NewOrderService(store port.Store, cache port.CacheRepository, publisher port.EventPublisher, opts ...OrderServiceOption) *OrderService {
	s := &OrderService{
		exec:       newExecutor(store, cache, publisher, nil),
		codePrefix: defaultCodePrefix,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *OrderService) CreateOrder(ctx context.Context, in CreateOrderInput) (*domain.Order, error) {
	if err := validateCreate(in); err != nil {
		return nil, err
	}

	var idempotencyKey string
	if in.RequestID != "" {
		idempotencyKey = "order-request:" + in.RequestID
		ok, err := s.exec.cache.SetIdempotency(ctx, idempotencyKey)
		if err != nil {
			return nil, fmt.Errorf("idempotency check failed: %w", err)
		}
		if !ok {
			return nil, ErrDuplicateRequest
		}
	}

	var order domain.Order
	_, err := s.exec.run(ctx, "create_order", func(sc *scope) error {
		order = domain.Order{
			RequesterID: in.RequesterID,
			ReviewerID:  in.ReviewerID,
			Status:      domain.OrderStatusPending,
			Note:        in.Note,
			CreatedAt:   s.now(),
		}
		ids := make([]string, 0, len(in.Items)+len(in.SchemeItems))
		for _, it := range in.Items {
			ids = append(ids, it.ProductID)
		}
		for _, it := range in.SchemeItems {
			ids = append(ids, it.ProductID)
		}
		if err := sc.requireProducts(ctx, ids...); err != nil {
			return err
		}

		for _, it := range in.Items {
			order.Items = append(order.Items, domain.OrderItem{
				ProductID:        it.ProductID,
				Quantity:         it.Quantity,
				Price:            it.Price.Round(2),
				ReservedAtSubmit: copyStock(sc.product(it.ProductID).VirtualStock),
			})
		}
		for _, it := range in.SchemeItems {
			order.Items = append(order.Items, domain.OrderItem{
				ProductID:        it.ProductID,
				Quantity:         it.Quantity,
				Price:            decimal.Zero,
				IsSchemeItem:     true,
				ReservedAtSubmit: copyStock(sc.product(it.ProductID).VirtualStock),
			})
		}
		order.Total = domain.OrderTotal(order.Items)

		if err := s.insertWithCode(ctx, sc.tx, &order); err != nil {
			return err
		}
		for id, qty := range order.QuantitiesByProduct() {
			if err := sc.reserve(ctx, order.ID, id, qty); err != nil {
				return err
			}
		}
		sc.emit(s.event(domain.EventOrderCreated, order, in.RequesterID, nil))
		return nil
	})
	if err != nil {
		if idempotencyKey != "" {
			if clearErr := s.exec.cache.ClearIdempotency(ctx, idempotencyKey); clearErr != nil {
				log.Error().Err(clearErr).Str("requestId", in.RequestID).Msg("failed to clear idempotency key")
			}
		}
		return nil, err
	}

	log.Info().Str("orderCode", order.Code).Int64("orderId", order.ID).Msg("order created")
	return &order, nil
}

func validateCreate(in CreateOrderInput) error {
	if in.RequesterID == "" {
		return fmt.Errorf("%w: requester is required", ErrInvalidOrder)
	}
	if in.ReviewerID == "" {
		return fmt.Errorf("%w: reviewer is required", ErrInvalidOrder)
	}
	if len(in.Items) == 0 {
		return fmt.Errorf("%w: no items provided", ErrInvalidOrder)
	}
	for _, it := range in.Items {
		if it.ProductID == "" || it.Quantity <= 0 {
			return fmt.Errorf("%w: item needs a product and a positive quantity", ErrInvalidOrder)
		}
		if it.Price.IsNegative() {
			return fmt.Errorf("%w: negative price for %s", ErrInvalidOrder, it.ProductID)
		}
	}
	for _, it := range in.SchemeItems {
		if it.ProductID == "" || it.Quantity <= 0 {
			return fmt.Errorf("%w: scheme item needs a product and a positive quantity", ErrInvalidOrder)
		}
	}
	return nil
}

func (s *OrderService) insertWithCode(ctx context.Context, tx port.Tx, order *domain.Order) error {
	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		order.Code = newOrderCode(s.codePrefix)
		err := tx.CreateOrder(ctx, order)
		if err == nil {
			return nil
		}
		if !errors.Is(err, port.ErrDuplicateKey) {
			return err
		}
	}
	return errors.New("could not allocate a unique order code")
}

// Hold parks an unverified order and releases its reservations.
func (s *OrderService) Hold(ctx context.Context, orderID int64, reviewerID, notes string) (*domain.Order, error) {
	return s.dispose(ctx, "hold_order", orderID, reviewerID, domain.OrderStatusHold, notes)
}

// Reject terminally rejects an unverified order and releases its
// reservations.
func (s *OrderService) Reject(ctx context.Context, orderID int64, reviewerID, notes string) (*domain.Order, error) {
	return s.dispose(ctx, "reject_order", orderID, reviewerID, domain.OrderStatusRejected, notes)
}

func (s *OrderService) dispose(ctx context.Context, op string, orderID int64, reviewerID string, status domain.OrderStatus, notes string) (*domain.Order, error) {
	var order *domain.Order
	_, err := s.exec.run(ctx, op, func(sc *scope) error {
		var err error
		if order, err = s.assignedOrder(ctx, sc.tx, orderID, reviewerID); err != nil {
			return err
		}
		v, err := sc.tx.GetVerificationByOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if v != nil {
			return fmt.Errorf("%w: order %s is verified, patch its verification instead", ErrInvalidStatus, order.Code)
		}
		if order.Status == domain.OrderStatusRejected {
			return fmt.Errorf("%w: order %s is rejected", ErrInvalidStatus, order.Code)
		}

		if err := sc.releaseAll(ctx, orderID); err != nil {
			return err
		}
		order.Status = status
		if notes != "" {
			order.Note = notes
		}
		if err := sc.tx.UpdateOrderStatus(ctx, orderID, order.Status, order.Note); err != nil {
			return err
		}

		eventType := domain.EventOrderHeld
		if status == domain.OrderStatusRejected {
			eventType = domain.EventOrderRejected
		}
		sc.emit(s.event(eventType, *order, reviewerID, nil))
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Info().Str("orderCode", order.Code).Str("status", string(status)).Msg("order disposed")
	return order, nil
}

// Verify records the reviewer's disposition over an order and reconciles
// the ledger to it: approved lines hold exactly the approved quantity,
// everything else is released. The whole call is one transaction.
func (s *OrderService) Verify(ctx context.Context, orderID int64, reviewerID string, in VerifyInput) (*domain.Verification, error) {
	switch in.Status {
	case domain.VerificationApproved, domain.VerificationRejected, domain.VerificationHold:
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, in.Status)
	}

	var v domain.Verification
	_, err := s.exec.run(ctx, "verify_order", func(sc *scope) error {
		order, err := s.assignedOrder(ctx, sc.tx, orderID, reviewerID)
		if err != nil {
			return err
		}
		existing, err := sc.tx.GetVerificationByOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if existing != nil {
			return fmt.Errorf("%w: %s", ErrDuplicateVerification, order.Code)
		}
		if order.Status == domain.OrderStatusRejected {
			return fmt.Errorf("%w: order %s is rejected", ErrInvalidStatus, order.Code)
		}

		ids := order.ProductIDs()
		for _, line := range in.Items {
			ids = append(ids, line.ProductID)
		}
		for _, line := range in.SchemeItems {
			ids = append(ids, line.ProductID)
		}
		if err := sc.lock(ctx, ids...); err != nil {
			return err
		}

		v = domain.Verification{
			OrderID:          order.ID,
			ReviewerID:       reviewerID,
			Status:           in.Status,
			Notes:            in.Notes,
			DispatchLocation: in.DispatchLocation,
		}
		if in.Status == domain.VerificationRejected {
			v.Items = s.rejectAll(sc, *order)
		} else if v.Items, err = s.verifiedLines(sc, *order, in.Items, in.SchemeItems); err != nil {
			return err
		}
		if v.TotalAmount, err = s.verificationTotal(in.TotalAmount, v.Items); err != nil {
			return err
		}

		if err := sc.tx.CreateVerification(ctx, &v); err != nil {
			if errors.Is(err, port.ErrDuplicateKey) {
				return fmt.Errorf("%w: %s", ErrDuplicateVerification, order.Code)
			}
			return err
		}

		want := map[string]int(nil)
		if in.Status == domain.VerificationApproved {
			want = v.ApprovedByProduct()
		}
		if err := sc.reconcile(ctx, order.ID, want); err != nil {
			return err
		}
		if err := sc.tx.UpdateOrderStatus(ctx, order.ID, in.Status.OrderStatus(), order.Note); err != nil {
			return err
		}
		order.Status = in.Status.OrderStatus()
		sc.emit(s.event(domain.EventOrderVerified, *order, reviewerID, nil))
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Info().Int64("orderId", orderID).Str("status", string(v.Status)).Int("lines", len(v.Items)).Msg("order verified")
	return &v, nil
}

func (s *OrderService) rejectAll(sc *scope, order domain.Order) []domain.VerificationItem {
	items := make([]domain.VerificationItem, 0, len(order.Items))
	for _, it := range order.Items {
		items = append(items, domain.VerificationItem{
			ProductID:     it.ProductID,
			Quantity:      it.Quantity,
			Price:         it.Price,
			IsRejected:    true,
			IsSchemeItem:  it.IsSchemeItem,
			StockAtVerify: observedStock(sc.product(it.ProductID)),
		})
	}
	return items
}

// verifiedLines turns the payload into approved lines and records every
// original line missing from the payload as rejected. Paid order lines are
// matched against lines, scheme order lines against schemes.
func (s *OrderService) verifiedLines(sc *scope, order domain.Order, lines, schemes []VerificationLineInput) ([]domain.VerificationItem, error) {
	items := make([]domain.VerificationItem, 0, len(lines)+len(schemes)+len(order.Items))
	paid := make(map[string]struct{}, len(lines))
	free := make(map[string]struct{}, len(schemes))
	add := func(line VerificationLineInput, scheme bool) error {
		p := sc.product(line.ProductID)
		if p == nil {
			return fmt.Errorf("%w: %s", ErrProductNotFound, line.ProductID)
		}
		if scheme {
			line.Price = "0"
		}
		item, err := s.coerceLine(line)
		if err != nil {
			return err
		}
		item.IsSchemeItem = scheme
		item.StockAtVerify = observedStock(p)
		items = append(items, item)
		return nil
	}
	for _, line := range lines {
		if err := add(line, false); err != nil {
			return nil, err
		}
		paid[line.ProductID] = struct{}{}
	}
	for _, line := range schemes {
		if err := add(line, true); err != nil {
			return nil, err
		}
		free[line.ProductID] = struct{}{}
	}

	for _, it := range order.Items {
		covered := paid
		if it.IsSchemeItem {
			covered = free
		}
		if _, ok := covered[it.ProductID]; ok {
			continue
		}
		items = append(items, domain.VerificationItem{
			ProductID:     it.ProductID,
			Quantity:      it.Quantity,
			Price:         it.Price,
			IsRejected:    true,
			IsSchemeItem:  it.IsSchemeItem,
			StockAtVerify: observedStock(sc.product(it.ProductID)),
		})
	}
	return items, nil
}

// coerceLine applies the payload coercion rules. A line whose quantity ends
// up non-positive is kept as rejected so it never reserves stock.
func (s *OrderService) coerceLine(line VerificationLineInput) (domain.VerificationItem, error) {
	qty, qtyOK := coerceQuantity(line.Quantity)
	price, priceOK := coercePrice(line.Price)
	if !qtyOK || !priceOK {
		if s.strict {
			return domain.VerificationItem{}, fmt.Errorf("%w: product %s quantity=%q price=%q",
				ErrMalformedQuantityOrPrice, line.ProductID, line.Quantity, line.Price)
		}
		log.Warn().Str("productId", line.ProductID).Str("quantity", line.Quantity).Str("price", line.Price).
			Msg("coerced malformed verification line")
	}
	return domain.VerificationItem{
		ProductID:  line.ProductID,
		Quantity:   qty,
		Price:      price,
		IsRejected: qty <= 0,
	}, nil
}

func (s *OrderService) verificationTotal(raw string, items []domain.VerificationItem) (decimal.Decimal, error) {
	if total, ok := coercePrice(raw); ok {
		return total, nil
	}
	if raw != "" && s.strict {
		return decimal.Zero, fmt.Errorf("%w: total_amount=%q", ErrMalformedQuantityOrPrice, raw)
	}
	total := decimal.Zero
	for _, it := range items {
		if !it.IsRejected {
			total = total.Add(it.LineAmount())
		}
	}
	return total.Round(2), nil
}

// DeleteOrder releases the order's reservations and removes it together with
// its verification.
func (s *OrderService) DeleteOrder(ctx context.Context, orderID int64) error {
	var order *domain.Order
	_, err := s.exec.run(ctx, "delete_order", func(sc *scope) error {
		var err error
		if order, err = sc.tx.LockOrder(ctx, orderID); err != nil {
			return err
		}
		if order == nil {
			return fmt.Errorf("%w: order %d", ErrNotFound, orderID)
		}
		if err := sc.releaseAll(ctx, orderID); err != nil {
			return err
		}
		if err := sc.tx.DeleteOrder(ctx, orderID); err != nil {
			return err
		}
		sc.emit(s.event(domain.EventOrderDeleted, *order, "", nil))
		return nil
	})
	if err != nil {
		return err
	}
	log.Info().Str("orderCode", order.Code).Msg("order deleted")
	return nil
}

func (s *OrderService) GetOrder(ctx context.Context, orderID int64) (*domain.Order, error) {
	var order *domain.Order
	err := s.exec.read(ctx, func(tx port.Tx) error {
		var err error
		order, err = tx.GetOrder(ctx, orderID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, fmt.Errorf("%w: order %d", ErrNotFound, orderID)
	}
	return order, nil
}

func (s *OrderService) GetOrderByCode(ctx context.Context, code string) (*domain.Order, error) {
	var order *domain.Order
	err := s.exec.read(ctx, func(tx port.Tx) error {
		var err error
		order, err = tx.GetOrderByCode(ctx, code)
		return err
	})
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, fmt.Errorf("%w: order %s", ErrNotFound, code)
	}
	return order, nil
}

// ListUnverified returns the reviewer's orders still waiting for a
// verification, newest first.
func (s *OrderService) ListUnverified(ctx context.Context, reviewerID string) ([]domain.Order, error) {
	var orders []domain.Order
	err := s.exec.read(ctx, func(tx port.Tx) error {
		var err error
		orders, err = tx.ListUnverifiedOrders(ctx, reviewerID)
		return err
	})
	return orders, err
}

func (s *OrderService) Reservations(ctx context.Context, orderID int64) ([]domain.ReservationEntry, error) {
	var entries []domain.ReservationEntry
	err := s.exec.read(ctx, func(tx port.Tx) error {
		var err error
		entries, err = tx.ListReservations(ctx, orderID)
		return err
	})
	return entries, err
}

// assignedOrder locks the order and checks the reviewer is assigned to it.
func (s *OrderService) assignedOrder(ctx context.Context, tx port.Tx, orderID int64, reviewerID string) (*domain.Order, error) {
	order, err := tx.LockOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, fmt.Errorf("%w: order %d", ErrNotFound, orderID)
	}
	if reviewerID == "" || order.ReviewerID != reviewerID {
		return nil, fmt.Errorf("%w: order %s", ErrNotAuthorized, order.Code)
	}
	return order, nil
}

func (s *OrderService) event(t domain.EventType, order domain.Order, actor string, attrs map[string]string) domain.Event {
	return lifecycleEvent(t, order, actor, attrs, s.now())
}

func lifecycleEvent(t domain.EventType, order domain.Order, actor string, attrs map[string]string, at time.Time) domain.Event {
	if attrs == nil {
		attrs = map[string]string{}
	}
	attrs["total"] = order.Total.StringFixed(2)
	attrs["items"] = strconv.Itoa(len(order.Items))
	return domain.Event{
		ID:         uuid.NewString(),
		Type:       t,
		OrderID:    order.ID,
		OrderCode:  order.Code,
		Status:     string(order.Status),
		ActorID:    actor,
		Attributes: attrs,
		OccurredAt: at,
	}
}

func copyStock(v *int) *int {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func observedStock(p *domain.Product) *int {
	if p == nil {
		return nil
	}
	return copyStock(p.VirtualStock)
}
