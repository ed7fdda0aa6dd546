package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rl1809/order-verification/internal/core/domain"
	"github.com/rl1809/order-verification/internal/core/service"
	"github.com/rl1809/order-verification/internal/port"
)

const reviewerHeader = "X-Reviewer-ID"

// FeedSubmitter accepts inbound feed batches for background processing.
type FeedSubmitter interface {
	SubmitDispatch(rows []service.DispatchRow) error
	SubmitStock(levels []service.StockLevel) error
}

type HTTPHandler struct {
	orders   *service.OrderService
	dispatch *service.DispatchService
	stock    *service.StockService
	feeds    FeedSubmitter
}

// NewHTTPHandler wires the REST surface. With a nil feeds the feed
// endpoints are processed inline.
func NewHTTPHandler(orders *service.OrderService, dispatch *service.DispatchService, stock *service.StockService, feeds FeedSubmitter) *HTTPHandler {
	return &HTTPHandler{orders: orders, dispatch: dispatch, stock: stock, feeds: feeds}
}

func (h *HTTPHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.HealthCheck)

	mux.HandleFunc("POST /api/orders", h.CreateOrder)
	mux.HandleFunc("GET /api/orders/{id}", h.GetOrder)
	mux.HandleFunc("GET /api/orders/code/{code}", h.GetOrderByCode)
	mux.HandleFunc("DELETE /api/orders/{id}", h.DeleteOrder)
	mux.HandleFunc("POST /api/orders/{id}/hold", h.HoldOrder)
	mux.HandleFunc("POST /api/orders/{id}/reject", h.RejectOrder)
	mux.HandleFunc("POST /api/orders/{id}/verify", h.VerifyOrder)
	mux.HandleFunc("GET /api/reviewers/{id}/unverified", h.ListUnverified)

	mux.HandleFunc("GET /api/verifications", h.ListVerifications)
	mux.HandleFunc("GET /api/verifications/{id}", h.GetVerification)
	mux.HandleFunc("PATCH /api/verifications/{id}/status", h.PatchStatus)
	mux.HandleFunc("POST /api/verifications/{id}/items", h.AddVerificationItem)
	mux.HandleFunc("PUT /api/verifications/{id}/items/{item}", h.UpdateVerificationItem)
	mux.HandleFunc("DELETE /api/verifications/{id}/items/{item}", h.DeleteVerificationItem)

	mux.HandleFunc("POST /api/dispatch/punch", h.Punch)
	mux.HandleFunc("POST /api/feeds/dispatch", h.DispatchFeed)
	mux.HandleFunc("POST /api/feeds/stock", h.StockFeed)

	mux.HandleFunc("PUT /api/products/{id}", h.UpsertProduct)
	mux.HandleFunc("GET /api/products/{id}/stock", h.GetStock)
	mux.HandleFunc("POST /api/admin/recompute", h.Recompute)
}

func (h *HTTPHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if !decode(w, r, &req) {
		return
	}
	order, err := h.orders.CreateOrder(r.Context(), req.input())
	if err != nil {
		writeError(w, err, &OrderReply{})
		return
	}
	writeJSON(w, http.StatusCreated, OrderReply{Result: ok("order created"), Order: newOrderView(order)})
}

func (h *HTTPHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, good := pathID(w, r, "id")
	if !good {
		return
	}
	order, err := h.orders.GetOrder(r.Context(), id)
	if err != nil {
		writeError(w, err, &OrderReply{})
		return
	}
	writeJSON(w, http.StatusOK, OrderReply{Result: ok("order found"), Order: newOrderView(order)})
}

func (h *HTTPHandler) GetOrderByCode(w http.ResponseWriter, r *http.Request) {
	order, err := h.orders.GetOrderByCode(r.Context(), r.PathValue("code"))
	if err != nil {
		writeError(w, err, &OrderReply{})
		return
	}
	writeJSON(w, http.StatusOK, OrderReply{Result: ok("order found"), Order: newOrderView(order)})
}

func (h *HTTPHandler) DeleteOrder(w http.ResponseWriter, r *http.Request) {
	id, good := pathID(w, r, "id")
	if !good {
		return
	}
	if err := h.orders.DeleteOrder(r.Context(), id); err != nil {
		writeError(w, err, &Result{})
		return
	}
	writeJSON(w, http.StatusOK, ok("order deleted"))
}

func (h *HTTPHandler) HoldOrder(w http.ResponseWriter, r *http.Request) {
	h.dispose(w, r, h.orders.Hold, "order held")
}

func (h *HTTPHandler) RejectOrder(w http.ResponseWriter, r *http.Request) {
	h.dispose(w, r, h.orders.Reject, "order rejected")
}

type disposeFunc func(ctx context.Context, orderID int64, reviewerID, notes string) (*domain.Order, error)

func (h *HTTPHandler) dispose(w http.ResponseWriter, r *http.Request, fn disposeFunc, message string) {
	id, good := pathID(w, r, "id")
	if !good {
		return
	}
	var req NotesRequest
	if r.ContentLength != 0 && !decode(w, r, &req) {
		return
	}
	order, err := fn(r.Context(), id, reviewer(r), req.Notes)
	if err != nil {
		writeError(w, err, &OrderReply{})
		return
	}
	writeJSON(w, http.StatusOK, OrderReply{Result: ok(message), Order: newOrderView(order)})
}

func (h *HTTPHandler) VerifyOrder(w http.ResponseWriter, r *http.Request) {
	id, good := pathID(w, r, "id")
	if !good {
		return
	}
	var req VerifyRequest
	if !decode(w, r, &req) {
		return
	}
	v, err := h.orders.Verify(r.Context(), id, reviewer(r), req.input())
	if err != nil {
		writeError(w, err, &VerificationReply{})
		return
	}
	writeJSON(w, http.StatusCreated, VerificationReply{Result: ok("order verified"), Verification: newVerificationView(v)})
}

func (h *HTTPHandler) ListUnverified(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.ListUnverified(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err, &OrderListReply{})
		return
	}
	reply := OrderListReply{Result: ok(strconv.Itoa(len(orders)) + " unverified orders"), Orders: make([]*OrderView, 0, len(orders))}
	for i := range orders {
		reply.Orders = append(reply.Orders, newOrderView(&orders[i]))
	}
	writeJSON(w, http.StatusOK, reply)
}

// ListVerifications serves verification history. start and end take a
// date or an RFC 3339 timestamp; a date-only end includes that whole day.
func (h *HTTPHandler) ListVerifications(w http.ResponseWriter, r *http.Request) {
	filter, err := historyFilter(r.URL.Query())
	if err != nil {
		writeJSON(w, http.StatusBadRequest, VerificationListReply{Result: Result{
			Success: false, Kind: string(service.KindInvalidOrder), Message: err.Error(),
		}})
		return
	}
	list, err := h.orders.ListVerifications(r.Context(), filter)
	if err != nil {
		writeError(w, err, &VerificationListReply{})
		return
	}
	reply := VerificationListReply{Result: ok(strconv.Itoa(len(list)) + " verifications"), Verifications: make([]*VerificationView, 0, len(list))}
	for i := range list {
		reply.Verifications = append(reply.Verifications, newVerificationView(&list[i]))
	}
	writeJSON(w, http.StatusOK, reply)
}

func (h *HTTPHandler) GetVerification(w http.ResponseWriter, r *http.Request) {
	id, good := pathID(w, r, "id")
	if !good {
		return
	}
	v, err := h.orders.GetVerification(r.Context(), id)
	if err != nil {
		writeError(w, err, &VerificationReply{})
		return
	}
	writeJSON(w, http.StatusOK, VerificationReply{Result: ok("verification found"), Verification: newVerificationView(v)})
}

func (h *HTTPHandler) PatchStatus(w http.ResponseWriter, r *http.Request) {
	id, good := pathID(w, r, "id")
	if !good {
		return
	}
	var req PatchStatusRequest
	if !decode(w, r, &req) {
		return
	}
	status := domain.VerificationStatus(strings.ToUpper(req.Status))
	v, err := h.orders.PatchStatus(r.Context(), id, reviewer(r), status, req.Notes)
	if err != nil {
		writeError(w, err, &VerificationReply{})
		return
	}
	writeJSON(w, http.StatusOK, VerificationReply{Result: ok("status updated"), Verification: newVerificationView(v)})
}

func (h *HTTPHandler) AddVerificationItem(w http.ResponseWriter, r *http.Request) {
	id, good := pathID(w, r, "id")
	if !good {
		return
	}
	var req VerifyLine
	if !decode(w, r, &req) {
		return
	}
	item, err := h.orders.AddVerificationItem(r.Context(), id, reviewer(r), req.input())
	if err != nil {
		writeError(w, err, &VerificationItemReply{})
		return
	}
	view := newVerificationItemView(*item)
	writeJSON(w, http.StatusCreated, VerificationItemReply{Result: ok("item added"), Item: &view})
}

func (h *HTTPHandler) UpdateVerificationItem(w http.ResponseWriter, r *http.Request) {
	id, good := pathID(w, r, "id")
	if !good {
		return
	}
	itemID, good := pathID(w, r, "item")
	if !good {
		return
	}
	var req UpdateLineRequest
	if !decode(w, r, &req) {
		return
	}
	item, err := h.orders.UpdateVerificationItem(r.Context(), id, itemID, reviewer(r), service.UpdateLineInput{
		Quantity: string(req.Quantity),
		Price:    string(req.Price),
		Rejected: req.Rejected,
	})
	if err != nil {
		writeError(w, err, &VerificationItemReply{})
		return
	}
	view := newVerificationItemView(*item)
	writeJSON(w, http.StatusOK, VerificationItemReply{Result: ok("item updated"), Item: &view})
}

func (h *HTTPHandler) DeleteVerificationItem(w http.ResponseWriter, r *http.Request) {
	id, good := pathID(w, r, "id")
	if !good {
		return
	}
	itemID, good := pathID(w, r, "item")
	if !good {
		return
	}
	if err := h.orders.DeleteVerificationItem(r.Context(), id, itemID, reviewer(r)); err != nil {
		writeError(w, err, &Result{})
		return
	}
	writeJSON(w, http.StatusOK, ok("item deleted"))
}

func (h *HTTPHandler) Punch(w http.ResponseWriter, r *http.Request) {
	var req PunchRequest
	if !decode(w, r, &req) {
		return
	}
	if req.ReviewerID == "" {
		req.ReviewerID = reviewer(r)
	}
	v, err := h.dispatch.Punch(r.Context(), req.input())
	if err != nil {
		writeError(w, err, &VerificationReply{})
		return
	}
	writeJSON(w, http.StatusOK, VerificationReply{Result: ok("order punched"), Verification: newVerificationView(v)})
}

func (h *HTTPHandler) DispatchFeed(w http.ResponseWriter, r *http.Request) {
	var req DispatchFeedRequest
	if !decode(w, r, &req) {
		return
	}
	if h.feeds != nil {
		if err := h.feeds.SubmitDispatch(req.Rows); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, Result{Success: false, Kind: string(service.KindInternal), Message: err.Error()})
			return
		}
		writeJSON(w, http.StatusAccepted, ok(strconv.Itoa(len(req.Rows))+" dispatch rows queued"))
		return
	}
	res, err := h.dispatch.Ingest(r.Context(), req.Rows)
	if err != nil {
		writeError(w, err, &IngestReply{})
		return
	}
	writeJSON(w, http.StatusOK, IngestReply{Result: ok("dispatch rows ingested"), Ingest: &res})
}

func (h *HTTPHandler) StockFeed(w http.ResponseWriter, r *http.Request) {
	var req StockFeedRequest
	if !decode(w, r, &req) {
		return
	}
	if h.feeds != nil {
		if err := h.feeds.SubmitStock(req.levels()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, Result{Success: false, Kind: string(service.KindInternal), Message: err.Error()})
			return
		}
		writeJSON(w, http.StatusAccepted, ok(strconv.Itoa(len(req.Levels))+" stock levels queued"))
		return
	}
	res, err := h.stock.Apply(r.Context(), req.levels())
	if err != nil {
		writeError(w, err, &StockSyncReply{})
		return
	}
	writeJSON(w, http.StatusOK, StockSyncReply{Result: ok("stock levels applied"), Sync: &res})
}

func (h *HTTPHandler) UpsertProduct(w http.ResponseWriter, r *http.Request) {
	var req ProductRequest
	if !decode(w, r, &req) {
		return
	}
	p, err := h.stock.UpsertProduct(r.Context(), service.ProductInput{ID: r.PathValue("id"), Name: req.Name, LiveStock: req.LiveStock})
	if err != nil {
		writeError(w, err, &StockReply{})
		return
	}
	writeJSON(w, http.StatusOK, StockReply{Result: ok("product saved"), Product: newProductView(p)})
}

func (h *HTTPHandler) GetStock(w http.ResponseWriter, r *http.Request) {
	p, err := h.stock.GetStock(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err, &StockReply{})
		return
	}
	writeJSON(w, http.StatusOK, StockReply{Result: ok("stock found"), Product: newProductView(p)})
}

func (h *HTTPHandler) Recompute(w http.ResponseWriter, r *http.Request) {
	res, err := h.stock.RecomputeAll(r.Context())
	if err != nil {
		log.Error().Err(err).Msg("recompute finished with errors")
		writeJSON(w, http.StatusInternalServerError, RecomputeReply{Result: failure(err), Recompute: &res})
		return
	}
	writeJSON(w, http.StatusOK, RecomputeReply{Result: ok("virtual stock recomputed"), Recompute: &res})
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func historyFilter(q url.Values) (port.VerificationFilter, error) {
	filter := port.VerificationFilter{
		ReviewerID: q.Get("reviewer"),
		Status:     domain.VerificationStatus(strings.ToUpper(q.Get("status"))),
	}
	var err error
	if raw := q.Get("start"); raw != "" {
		if filter.From, _, err = parseDay(raw); err != nil {
			return filter, fmt.Errorf("invalid start %q", raw)
		}
	}
	if raw := q.Get("end"); raw != "" {
		var dateOnly bool
		if filter.To, dateOnly, err = parseDay(raw); err != nil {
			return filter, fmt.Errorf("invalid end %q", raw)
		}
		if dateOnly {
			filter.To = filter.To.AddDate(0, 0, 1)
		}
	}
	if raw := q.Get("page"); raw != "" {
		if filter.Page, err = strconv.Atoi(raw); err != nil || filter.Page < 1 {
			return filter, fmt.Errorf("invalid page %q", raw)
		}
	}
	if raw := q.Get("page_size"); raw != "" {
		if filter.PageSize, err = strconv.Atoi(raw); err != nil || filter.PageSize < 1 {
			return filter, fmt.Errorf("invalid page_size %q", raw)
		}
	}
	return filter, nil
}

func parseDay(raw string) (t time.Time, dateOnly bool, err error) {
	if t, err = time.ParseInLocation(time.DateOnly, raw, time.Local); err == nil {
		return t, true, nil
	}
	t, err = time.Parse(time.RFC3339, raw)
	return t, false, err
}

func reviewer(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(reviewerHeader))
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, Result{Success: false, Kind: string(service.KindInvalidOrder), Message: "invalid " + name})
		return 0, false
	}
	return id, true
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, Result{Success: false, Kind: string(service.KindInvalidOrder), Message: "invalid request body"})
		return false
	}
	return true
}

// failureSetter lets writeError fill the embedded Result of any reply.
type failureSetter interface {
	setResult(Result)
}

func (r *Result) setResult(res Result) { *r = res }

func writeError(w http.ResponseWriter, err error, reply failureSetter) {
	res := failure(err)
	status := statusFor(service.Kind(res.Kind))
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Msg("request failed")
	}
	reply.setResult(res)
	writeJSON(w, status, reply)
}

func statusFor(kind service.Kind) int {
	switch kind {
	case service.KindNotFound, service.KindProductNotFound:
		return http.StatusNotFound
	case service.KindNotAuthorized:
		return http.StatusForbidden
	case service.KindDuplicateVerification, service.KindDuplicateProduct, service.KindAlreadyPunched, service.KindDuplicateRequest:
		return http.StatusConflict
	case service.KindInvalidStatus:
		return http.StatusUnprocessableEntity
	case service.KindMalformedQuantityOrPrice, service.KindInvalidOrder:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Warn().Err(err).Msg("failed to write response")
	}
}
