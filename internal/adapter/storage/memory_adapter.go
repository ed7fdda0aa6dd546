package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rl1809/order-verification/internal/core/domain"
	"github.com/rl1809/order-verification/internal/port"
)

type reservationKey struct {
	orderID   int64
	productID string
}

type memoryState struct {
	products      map[string]domain.Product
	orders        map[int64]domain.Order
	verifications map[int64]domain.Verification
	reservations  map[reservationKey]domain.ReservationEntry
	dispatch      map[string]domain.DispatchRecord
	dispatchOrder []string

	nextOrderID        int64
	nextOrderItemID    int64
	nextVerificationID int64
	nextVerifyItemID   int64
}

func newMemoryState() *memoryState {
	return &memoryState{
		products:      make(map[string]domain.Product),
		orders:        make(map[int64]domain.Order),
		verifications: make(map[int64]domain.Verification),
		reservations:  make(map[reservationKey]domain.ReservationEntry),
		dispatch:      make(map[string]domain.DispatchRecord),
	}
}

func (s *memoryState) clone() *memoryState {
	c := &memoryState{
		products:           make(map[string]domain.Product, len(s.products)),
		orders:             make(map[int64]domain.Order, len(s.orders)),
		verifications:      make(map[int64]domain.Verification, len(s.verifications)),
		reservations:       make(map[reservationKey]domain.ReservationEntry, len(s.reservations)),
		dispatch:           make(map[string]domain.DispatchRecord, len(s.dispatch)),
		dispatchOrder:      append([]string(nil), s.dispatchOrder...),
		nextOrderID:        s.nextOrderID,
		nextOrderItemID:    s.nextOrderItemID,
		nextVerificationID: s.nextVerificationID,
		nextVerifyItemID:   s.nextVerifyItemID,
	}
	for k, p := range s.products {
		c.products[k] = copyProduct(p)
	}
	for k, o := range s.orders {
		c.orders[k] = copyOrder(o)
	}
	for k, v := range s.verifications {
		c.verifications[k] = copyVerification(v)
	}
	for k, r := range s.reservations {
		c.reservations[k] = r
	}
	for k, d := range s.dispatch {
		c.dispatch[k] = d
	}
	return c
}

// MemoryAdapter is a port.Store keeping everything in process memory.
// Transactions are serialized and run against a private copy of the state,
// which replaces the shared state only on commit.
type MemoryAdapter struct {
	mu    sync.Mutex
	state *memoryState
	now   func() time.Time
}

func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{state: newMemoryState(), now: time.Now}
}

func (m *MemoryAdapter) WithinTx(ctx context.Context, fn func(tx port.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memoryTx{state: m.state.clone(), now: m.now}
	if err := fn(tx); err != nil {
		return err
	}
	m.state = tx.state
	return nil
}

type memoryTx struct {
	state *memoryState
	now   func() time.Time
}

func (t *memoryTx) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	p, ok := t.state.products[id]
	if !ok {
		return nil, nil
	}
	cp := copyProduct(p)
	return &cp, nil
}

func (t *memoryTx) LockProducts(ctx context.Context, ids []string) (map[string]*domain.Product, error) {
	out := make(map[string]*domain.Product, len(ids))
	for _, id := range ids {
		p, ok := t.state.products[id]
		if !ok {
			continue
		}
		cp := copyProduct(p)
		out[id] = &cp
	}
	return out, nil
}

func (t *memoryTx) UpsertProduct(ctx context.Context, p domain.Product) error {
	cur, ok := t.state.products[p.ID]
	if ok {
		if p.VirtualStock == nil {
			p.VirtualStock = cur.VirtualStock
		}
		p.StockVersion = cur.StockVersion
	}
	p.UpdatedAt = t.now()
	t.state.products[p.ID] = copyProduct(p)
	return nil
}

func (t *memoryTx) SetLiveStock(ctx context.Context, id string, liveStock *int) error {
	p, ok := t.state.products[id]
	if !ok {
		return nil
	}
	p.LiveStock = copyInt(liveStock)
	p.UpdatedAt = t.now()
	t.state.products[id] = p
	return nil
}

func (t *memoryTx) SetVirtualStock(ctx context.Context, id string, virtualStock *int) error {
	p, ok := t.state.products[id]
	if !ok {
		return nil
	}
	p.VirtualStock = copyInt(virtualStock)
	p.StockVersion++
	p.UpdatedAt = t.now()
	t.state.products[id] = p
	return nil
}

func (t *memoryTx) ListProductIDs(ctx context.Context) ([]string, error) {
	ids := make([]string, 0, len(t.state.products))
	for id := range t.state.products {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (t *memoryTx) CreateOrder(ctx context.Context, order *domain.Order) error {
	for _, o := range t.state.orders {
		if o.Code == order.Code {
			return port.ErrDuplicateKey
		}
	}
	t.state.nextOrderID++
	order.ID = t.state.nextOrderID
	if order.CreatedAt.IsZero() {
		order.CreatedAt = t.now()
	}
	for i := range order.Items {
		t.state.nextOrderItemID++
		order.Items[i].ID = t.state.nextOrderItemID
		order.Items[i].OrderID = order.ID
	}
	t.state.orders[order.ID] = copyOrder(*order)
	return nil
}

func (t *memoryTx) GetOrder(ctx context.Context, id int64) (*domain.Order, error) {
	o, ok := t.state.orders[id]
	if !ok {
		return nil, nil
	}
	cp := copyOrder(o)
	return &cp, nil
}

func (t *memoryTx) GetOrderByCode(ctx context.Context, code string) (*domain.Order, error) {
	for _, o := range t.state.orders {
		if o.Code == code {
			cp := copyOrder(o)
			return &cp, nil
		}
	}
	return nil, nil
}

// LockOrder is a plain read; transactions are already serialized.
func (t *memoryTx) LockOrder(ctx context.Context, id int64) (*domain.Order, error) {
	return t.GetOrder(ctx, id)
}

func (t *memoryTx) UpdateOrderStatus(ctx context.Context, id int64, status domain.OrderStatus, note string) error {
	o, ok := t.state.orders[id]
	if !ok {
		return nil
	}
	o.Status = status
	o.Note = note
	t.state.orders[id] = o
	return nil
}

func (t *memoryTx) DeleteOrder(ctx context.Context, id int64) error {
	delete(t.state.orders, id)
	for vid, v := range t.state.verifications {
		if v.OrderID == id {
			delete(t.state.verifications, vid)
		}
	}
	for k := range t.state.reservations {
		if k.orderID == id {
			delete(t.state.reservations, k)
		}
	}
	return nil
}

func (t *memoryTx) ListUnverifiedOrders(ctx context.Context, reviewerID string) ([]domain.Order, error) {
	verified := make(map[int64]bool, len(t.state.verifications))
	for _, v := range t.state.verifications {
		verified[v.OrderID] = true
	}
	var out []domain.Order
	for _, o := range t.state.orders {
		if o.ReviewerID == reviewerID && !verified[o.ID] {
			out = append(out, copyOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (t *memoryTx) CreateVerification(ctx context.Context, v *domain.Verification) error {
	for _, existing := range t.state.verifications {
		if existing.OrderID == v.OrderID {
			return port.ErrDuplicateKey
		}
	}
	t.state.nextVerificationID++
	v.ID = t.state.nextVerificationID
	now := t.now()
	v.CreatedAt, v.UpdatedAt = now, now
	for i := range v.Items {
		t.state.nextVerifyItemID++
		v.Items[i].ID = t.state.nextVerifyItemID
		v.Items[i].VerificationID = v.ID
	}
	t.state.verifications[v.ID] = copyVerification(*v)
	return nil
}

func (t *memoryTx) GetVerification(ctx context.Context, id int64) (*domain.Verification, error) {
	v, ok := t.state.verifications[id]
	if !ok {
		return nil, nil
	}
	cp := copyVerification(v)
	return &cp, nil
}

func (t *memoryTx) GetVerificationByOrder(ctx context.Context, orderID int64) (*domain.Verification, error) {
	for _, v := range t.state.verifications {
		if v.OrderID == orderID {
			cp := copyVerification(v)
			return &cp, nil
		}
	}
	return nil, nil
}

func (t *memoryTx) UpdateVerification(ctx context.Context, v domain.Verification) error {
	cur, ok := t.state.verifications[v.ID]
	if !ok {
		return nil
	}
	cur.Status = v.Status
	cur.Notes = v.Notes
	cur.TotalAmount = v.TotalAmount
	cur.Punched = v.Punched
	cur.DispatchLocation = v.DispatchLocation
	cur.UpdatedAt = t.now()
	t.state.verifications[v.ID] = cur
	return nil
}

func (t *memoryTx) ListVerifications(ctx context.Context, filter port.VerificationFilter) ([]domain.Verification, error) {
	var out []domain.Verification
	for _, v := range t.state.verifications {
		if filter.ReviewerID != "" && v.ReviewerID != filter.ReviewerID {
			continue
		}
		if filter.Status != "" && v.Status != filter.Status {
			continue
		}
		if !filter.From.IsZero() && v.CreatedAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && !v.CreatedAt.Before(filter.To) {
			continue
		}
		out = append(out, copyVerification(v))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return paginate(out, filter.Page, filter.PageSize), nil
}

func paginate(vs []domain.Verification, page, size int) []domain.Verification {
	if size <= 0 {
		return vs
	}
	if page < 1 {
		page = 1
	}
	start := (page - 1) * size
	if start >= len(vs) {
		return nil
	}
	end := start + size
	if end > len(vs) {
		end = len(vs)
	}
	return vs[start:end]
}

func (t *memoryTx) AddVerificationItem(ctx context.Context, item *domain.VerificationItem) error {
	v, ok := t.state.verifications[item.VerificationID]
	if !ok {
		return nil
	}
	t.state.nextVerifyItemID++
	item.ID = t.state.nextVerifyItemID
	v.Items = append(v.Items, *item)
	t.state.verifications[v.ID] = v
	return nil
}

func (t *memoryTx) UpdateVerificationItem(ctx context.Context, item domain.VerificationItem) error {
	v, ok := t.state.verifications[item.VerificationID]
	if !ok {
		return nil
	}
	for i := range v.Items {
		if v.Items[i].ID == item.ID {
			v.Items[i] = item
		}
	}
	t.state.verifications[v.ID] = v
	return nil
}

func (t *memoryTx) DeleteVerificationItem(ctx context.Context, id int64) error {
	for vid, v := range t.state.verifications {
		items := v.Items[:0]
		for _, it := range v.Items {
			if it.ID != id {
				items = append(items, it)
			}
		}
		v.Items = items
		t.state.verifications[vid] = v
	}
	return nil
}

func (t *memoryTx) Reserve(ctx context.Context, orderID int64, productID string, quantity int) error {
	t.state.reservations[reservationKey{orderID, productID}] = domain.ReservationEntry{
		OrderID:   orderID,
		ProductID: productID,
		Quantity:  quantity,
		UpdatedAt: t.now(),
	}
	return nil
}

func (t *memoryTx) Release(ctx context.Context, orderID int64, productID string) error {
	delete(t.state.reservations, reservationKey{orderID, productID})
	return nil
}

func (t *memoryTx) ReleaseAll(ctx context.Context, orderID int64) ([]string, error) {
	var affected []string
	for k := range t.state.reservations {
		if k.orderID == orderID {
			affected = append(affected, k.productID)
			delete(t.state.reservations, k)
		}
	}
	sort.Strings(affected)
	return affected, nil
}

func (t *memoryTx) TotalReserved(ctx context.Context, productID string) (int, error) {
	total := 0
	for k, r := range t.state.reservations {
		if k.productID == productID {
			total += r.Quantity
		}
	}
	return total, nil
}

func (t *memoryTx) ListReservations(ctx context.Context, orderID int64) ([]domain.ReservationEntry, error) {
	var out []domain.ReservationEntry
	for k, r := range t.state.reservations {
		if k.orderID == orderID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}

func (t *memoryTx) InsertDispatchRecord(ctx context.Context, rec domain.DispatchRecord) (bool, error) {
	if _, ok := t.state.dispatch[rec.RowKey]; ok {
		return false, nil
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = t.now()
	}
	t.state.dispatch[rec.RowKey] = rec
	t.state.dispatchOrder = append(t.state.dispatchOrder, rec.RowKey)
	return true, nil
}

func (t *memoryTx) ListDispatchRecords(ctx context.Context, orderCode string) ([]domain.DispatchRecord, error) {
	var out []domain.DispatchRecord
	for _, key := range t.state.dispatchOrder {
		if rec := t.state.dispatch[key]; rec.OrderCode == orderCode {
			out = append(out, rec)
		}
	}
	return out, nil
}

func copyInt(v *int) *int {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

func copyProduct(p domain.Product) domain.Product {
	p.LiveStock = copyInt(p.LiveStock)
	p.VirtualStock = copyInt(p.VirtualStock)
	return p
}

func copyOrder(o domain.Order) domain.Order {
	items := make([]domain.OrderItem, len(o.Items))
	for i, it := range o.Items {
		it.ReservedAtSubmit = copyInt(it.ReservedAtSubmit)
		items[i] = it
	}
	o.Items = items
	return o
}

func copyVerification(v domain.Verification) domain.Verification {
	items := make([]domain.VerificationItem, len(v.Items))
	for i, it := range v.Items {
		it.StockAtVerify = copyInt(it.StockAtVerify)
		items[i] = it
	}
	v.Items = items
	return v
}
