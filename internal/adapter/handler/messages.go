package handler

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/rl1809/order-verification/internal/core/domain"
	"github.com/rl1809/order-verification/internal/core/service"
)

// RawValue accepts a JSON string, number or null and keeps its text so the
// service can apply its own coercion rules.
type RawValue string

func (v *RawValue) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*v = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*v = RawValue(s)
		return nil
	}
	*v = RawValue(strings.TrimSpace(string(b)))
	return nil
}

type OrderLine struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
}

type SchemeLine struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type CreateOrderRequest struct {
	RequestID   string       `json:"request_id,omitempty"`
	RequesterID string       `json:"requester_id"`
	ReviewerID  string       `json:"reviewer_id"`
	Note        string       `json:"note,omitempty"`
	Items       []OrderLine  `json:"items"`
	SchemeItems []SchemeLine `json:"scheme_items,omitempty"`
}

func (r CreateOrderRequest) input() service.CreateOrderInput {
	in := service.CreateOrderInput{
		RequestID:   r.RequestID,
		RequesterID: r.RequesterID,
		ReviewerID:  r.ReviewerID,
		Note:        r.Note,
	}
	for _, it := range r.Items {
		in.Items = append(in.Items, service.LineInput{ProductID: it.ProductID, Quantity: it.Quantity, Price: it.Price})
	}
	for _, it := range r.SchemeItems {
		in.SchemeItems = append(in.SchemeItems, service.SchemeInput{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	return in
}

type VerifyLine struct {
	ProductID string   `json:"product_id"`
	Quantity  RawValue `json:"quantity"`
	Price     RawValue `json:"price"`
}

func (l VerifyLine) input() service.VerificationLineInput {
	return service.VerificationLineInput{ProductID: l.ProductID, Quantity: string(l.Quantity), Price: string(l.Price)}
}

type VerifyRequest struct {
	OrderID          int64        `json:"order_id,omitempty"`
	ReviewerID       string       `json:"reviewer_id,omitempty"`
	Status           string       `json:"status"`
	Notes            string       `json:"notes,omitempty"`
	TotalAmount      RawValue     `json:"total_amount"`
	DispatchLocation string       `json:"dispatch_location,omitempty"`
	Items            []VerifyLine `json:"items"`
	// SchemeItems cover free lines; any price sent is ignored.
	SchemeItems []VerifyLine `json:"scheme_items,omitempty"`
}

func (r VerifyRequest) input() service.VerifyInput {
	in := service.VerifyInput{
		Status:           domain.VerificationStatus(strings.ToUpper(r.Status)),
		Notes:            r.Notes,
		TotalAmount:      string(r.TotalAmount),
		DispatchLocation: r.DispatchLocation,
	}
	for _, l := range r.Items {
		in.Items = append(in.Items, l.input())
	}
	for _, l := range r.SchemeItems {
		in.SchemeItems = append(in.SchemeItems, l.input())
	}
	return in
}

type NotesRequest struct {
	Notes string `json:"notes,omitempty"`
}

type PatchStatusRequest struct {
	VerificationID int64  `json:"verification_id,omitempty"`
	ReviewerID     string `json:"reviewer_id,omitempty"`
	Status         string `json:"status"`
	Notes          string `json:"notes,omitempty"`
}

type UpdateLineRequest struct {
	Quantity RawValue `json:"quantity"`
	Price    RawValue `json:"price"`
	Rejected *bool    `json:"is_rejected,omitempty"`
}

type PunchRequest struct {
	OrderCode        string `json:"order_code"`
	DispatchLocation string `json:"dispatch_location,omitempty"`
	ReviewerID       string `json:"reviewer_id,omitempty"`
	SingleRow        bool   `json:"single_row,omitempty"`
	ProductID        string `json:"product_id,omitempty"`
}

func (r PunchRequest) input() service.PunchInput {
	return service.PunchInput{
		OrderCode:        r.OrderCode,
		DispatchLocation: r.DispatchLocation,
		ReviewerID:       r.ReviewerID,
		SingleRow:        r.SingleRow,
		ProductID:        r.ProductID,
	}
}

type DispatchFeedRequest struct {
	Rows []service.DispatchRow `json:"rows"`
}

type StockLine struct {
	ProductID string   `json:"product_id"`
	LiveStock RawValue `json:"live_stock"`
}

type StockFeedRequest struct {
	Levels []StockLine `json:"levels"`
}

func (r StockFeedRequest) levels() []service.StockLevel {
	out := make([]service.StockLevel, 0, len(r.Levels))
	for _, l := range r.Levels {
		out = append(out, service.StockLevel{ProductID: l.ProductID, LiveStock: string(l.LiveStock)})
	}
	return out
}

type ProductRequest struct {
	Name      string `json:"name"`
	LiveStock *int   `json:"live_stock"`
}

type GetStockRequest struct {
	ProductID string `json:"product_id"`
}

// Result is the envelope every reply carries. Kind is set only on failure.
type Result struct {
	Success bool   `json:"success"`
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message"`
}

type OrderItemView struct {
	ID               int64           `json:"id"`
	ProductID        string          `json:"product_id"`
	Quantity         int             `json:"quantity"`
	Price            decimal.Decimal `json:"price"`
	IsSchemeItem     bool            `json:"is_scheme_item,omitempty"`
	ReservedAtSubmit *int            `json:"reserved_at_submit"`
}

type OrderView struct {
	ID          int64           `json:"id"`
	Code        string          `json:"code"`
	RequesterID string          `json:"requester_id"`
	ReviewerID  string          `json:"reviewer_id"`
	Status      string          `json:"status"`
	Total       decimal.Decimal `json:"total"`
	Note        string          `json:"note,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	Items       []OrderItemView `json:"items"`
}

func newOrderView(o *domain.Order) *OrderView {
	if o == nil {
		return nil
	}
	v := &OrderView{
		ID:          o.ID,
		Code:        o.Code,
		RequesterID: o.RequesterID,
		ReviewerID:  o.ReviewerID,
		Status:      string(o.Status),
		Total:       o.Total,
		Note:        o.Note,
		CreatedAt:   o.CreatedAt,
		Items:       make([]OrderItemView, 0, len(o.Items)),
	}
	for _, it := range o.Items {
		v.Items = append(v.Items, OrderItemView{
			ID:               it.ID,
			ProductID:        it.ProductID,
			Quantity:         it.Quantity,
			Price:            it.Price,
			IsSchemeItem:     it.IsSchemeItem,
			ReservedAtSubmit: it.ReservedAtSubmit,
		})
	}
	return v
}

type VerificationItemView struct {
	ID            int64           `json:"id"`
	ProductID     string          `json:"product_id"`
	Quantity      int             `json:"quantity"`
	Price         decimal.Decimal `json:"price"`
	IsRejected    bool            `json:"is_rejected"`
	IsSchemeItem  bool            `json:"is_scheme_item,omitempty"`
	StockAtVerify *int            `json:"stock_at_verify"`
}

func newVerificationItemView(it domain.VerificationItem) VerificationItemView {
	return VerificationItemView{
		ID:            it.ID,
		ProductID:     it.ProductID,
		Quantity:      it.Quantity,
		Price:         it.Price,
		IsRejected:    it.IsRejected,
		IsSchemeItem:  it.IsSchemeItem,
		StockAtVerify: it.StockAtVerify,
	}
}

type VerificationView struct {
	ID               int64                  `json:"id"`
	OrderID          int64                  `json:"order_id"`
	ReviewerID       string                 `json:"reviewer_id"`
	Status           string                 `json:"status"`
	Notes            string                 `json:"notes,omitempty"`
	TotalAmount      decimal.Decimal        `json:"total_amount"`
	Punched          bool                   `json:"punched"`
	DispatchLocation string                 `json:"dispatch_location,omitempty"`
	CreatedAt        time.Time              `json:"created_at"`
	UpdatedAt        time.Time              `json:"updated_at"`
	Items            []VerificationItemView `json:"items"`
}

func newVerificationView(v *domain.Verification) *VerificationView {
	if v == nil {
		return nil
	}
	out := &VerificationView{
		ID:               v.ID,
		OrderID:          v.OrderID,
		ReviewerID:       v.ReviewerID,
		Status:           string(v.Status),
		Notes:            v.Notes,
		TotalAmount:      v.TotalAmount,
		Punched:          v.Punched,
		DispatchLocation: v.DispatchLocation,
		CreatedAt:        v.CreatedAt,
		UpdatedAt:        v.UpdatedAt,
		Items:            make([]VerificationItemView, 0, len(v.Items)),
	}
	for _, it := range v.Items {
		out.Items = append(out.Items, newVerificationItemView(it))
	}
	return out
}

type ProductView struct {
	ID           string `json:"id"`
	Name         string `json:"name,omitempty"`
	LiveStock    *int   `json:"live_stock"`
	VirtualStock *int   `json:"virtual_stock"`
}

func newProductView(p *domain.Product) *ProductView {
	if p == nil {
		return nil
	}
	return &ProductView{ID: p.ID, Name: p.Name, LiveStock: p.LiveStock, VirtualStock: p.VirtualStock}
}

type OrderReply struct {
	Result
	Order *OrderView `json:"order,omitempty"`
}

type OrderListReply struct {
	Result
	Orders []*OrderView `json:"orders"`
}

type VerificationReply struct {
	Result
	Verification *VerificationView `json:"verification,omitempty"`
}

type VerificationListReply struct {
	Result
	Verifications []*VerificationView `json:"verifications"`
}

type VerificationItemReply struct {
	Result
	Item *VerificationItemView `json:"item,omitempty"`
}

type IngestReply struct {
	Result
	Ingest *service.IngestResult `json:"ingest,omitempty"`
}

type StockSyncReply struct {
	Result
	Sync *service.StockSyncResult `json:"sync,omitempty"`
}

type RecomputeReply struct {
	Result
	Recompute *service.RecomputeResult `json:"recompute,omitempty"`
}

type StockReply struct {
	Result
	Product *ProductView `json:"product,omitempty"`
}

func ok(message string) Result {
	return Result{Success: true, Message: message}
}

// failure renders err without leaking internal detail.
func failure(err error) Result {
	kind := service.KindOf(err)
	msg := err.Error()
	if kind == service.KindInternal {
		msg = "internal error"
	}
	return Result{Success: false, Kind: string(kind), Message: msg}
}
