package handler

import (
	"context"
	"encoding/json"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"

	"github.com/rl1809/order-verification/internal/core/domain"
	"github.com/rl1809/order-verification/internal/core/service"
)

const serviceName = "distribution.v1.OrderVerification"

// jsonCodec carries the request and reply structs as JSON over gRPC.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return "json" }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// Codec returns the codec servers and clients of this service must use.
func Codec() encoding.Codec { return jsonCodec{} }

// OrderVerificationServer is the gRPC surface of the verification core.
type OrderVerificationServer interface {
	CreateOrder(ctx context.Context, req *CreateOrderRequest) (*OrderReply, error)
	VerifyOrder(ctx context.Context, req *VerifyRequest) (*VerificationReply, error)
	PatchStatus(ctx context.Context, req *PatchStatusRequest) (*VerificationReply, error)
	IngestDispatch(ctx context.Context, req *DispatchFeedRequest) (*IngestReply, error)
	Punch(ctx context.Context, req *PunchRequest) (*VerificationReply, error)
	GetStock(ctx context.Context, req *GetStockRequest) (*StockReply, error)
}

type GRPCHandler struct {
	orders   *service.OrderService
	dispatch *service.DispatchService
	stock    *service.StockService
}

func NewGRPCHandler(orders *service.OrderService, dispatch *service.DispatchService, stock *service.StockService) *GRPCHandler {
	return &GRPCHandler{orders: orders, dispatch: dispatch, stock: stock}
}

// RegisterOrderVerificationServer attaches srv to s.
func RegisterOrderVerificationServer(s grpc.ServiceRegistrar, srv OrderVerificationServer) {
	s.RegisterService(&orderVerificationDesc, srv)
}

func (h *GRPCHandler) CreateOrder(ctx context.Context, req *CreateOrderRequest) (*OrderReply, error) {
	order, err := h.orders.CreateOrder(ctx, req.input())
	if err != nil {
		return &OrderReply{Result: failure(err)}, nil
	}
	return &OrderReply{Result: ok("order created"), Order: newOrderView(order)}, nil
}

func (h *GRPCHandler) VerifyOrder(ctx context.Context, req *VerifyRequest) (*VerificationReply, error) {
	v, err := h.orders.Verify(ctx, req.OrderID, req.ReviewerID, req.input())
	if err != nil {
		return &VerificationReply{Result: failure(err)}, nil
	}
	return &VerificationReply{Result: ok("order verified"), Verification: newVerificationView(v)}, nil
}

func (h *GRPCHandler) PatchStatus(ctx context.Context, req *PatchStatusRequest) (*VerificationReply, error) {
	status := domain.VerificationStatus(strings.ToUpper(req.Status))
	v, err := h.orders.PatchStatus(ctx, req.VerificationID, req.ReviewerID, status, req.Notes)
	if err != nil {
		return &VerificationReply{Result: failure(err)}, nil
	}
	return &VerificationReply{Result: ok("status updated"), Verification: newVerificationView(v)}, nil
}

func (h *GRPCHandler) IngestDispatch(ctx context.Context, req *DispatchFeedRequest) (*IngestReply, error) {
	res, err := h.dispatch.Ingest(ctx, req.Rows)
	if err != nil {
		return &IngestReply{Result: failure(err)}, nil
	}
	return &IngestReply{Result: ok("dispatch rows ingested"), Ingest: &res}, nil
}

func (h *GRPCHandler) Punch(ctx context.Context, req *PunchRequest) (*VerificationReply, error) {
	v, err := h.dispatch.Punch(ctx, req.input())
	if err != nil {
		return &VerificationReply{Result: failure(err)}, nil
	}
	return &VerificationReply{Result: ok("order punched"), Verification: newVerificationView(v)}, nil
}

func (h *GRPCHandler) GetStock(ctx context.Context, req *GetStockRequest) (*StockReply, error) {
	p, err := h.stock.GetStock(ctx, req.ProductID)
	if err != nil {
		return &StockReply{Result: failure(err)}, nil
	}
	return &StockReply{Result: ok("stock found"), Product: newProductView(p)}, nil
}

var orderVerificationDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*OrderVerificationServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CreateOrder", Handler: unary("CreateOrder", OrderVerificationServer.CreateOrder)},
		{MethodName: "VerifyOrder", Handler: unary("VerifyOrder", OrderVerificationServer.VerifyOrder)},
		{MethodName: "PatchStatus", Handler: unary("PatchStatus", OrderVerificationServer.PatchStatus)},
		{MethodName: "IngestDispatch", Handler: unary("IngestDispatch", OrderVerificationServer.IngestDispatch)},
		{MethodName: "Punch", Handler: unary("Punch", OrderVerificationServer.Punch)},
		{MethodName: "GetStock", Handler: unary("GetStock", OrderVerificationServer.GetStock)},
	},
	Streams: []grpc.StreamDesc{},
}

func unary[Req, Resp any](method string, call func(OrderVerificationServer, context.Context, *Req) (*Resp, error)) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	fullMethod := "/" + serviceName + "/" + method
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(OrderVerificationServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(srv.(OrderVerificationServer), ctx, req.(*Req))
		})
	}
}

// OrderVerificationClient calls the service over a connection dialed with
// Codec.
type OrderVerificationClient struct {
	cc grpc.ClientConnInterface
}

func NewOrderVerificationClient(cc grpc.ClientConnInterface) *OrderVerificationClient {
	return &OrderVerificationClient{cc: cc}
}

func (c *OrderVerificationClient) call(ctx context.Context, method string, in, out any, opts ...grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.ForceCodec(Codec())}, opts...)
	return c.cc.Invoke(ctx, "/"+serviceName+"/"+method, in, out, opts...)
}

func (c *OrderVerificationClient) CreateOrder(ctx context.Context, in *CreateOrderRequest, opts ...grpc.CallOption) (*OrderReply, error) {
	out := new(OrderReply)
	return out, c.call(ctx, "CreateOrder", in, out, opts...)
}

func (c *OrderVerificationClient) VerifyOrder(ctx context.Context, in *VerifyRequest, opts ...grpc.CallOption) (*VerificationReply, error) {
	out := new(VerificationReply)
	return out, c.call(ctx, "VerifyOrder", in, out, opts...)
}

func (c *OrderVerificationClient) PatchStatus(ctx context.Context, in *PatchStatusRequest, opts ...grpc.CallOption) (*VerificationReply, error) {
	out := new(VerificationReply)
	return out, c.call(ctx, "PatchStatus", in, out, opts...)
}

func (c *OrderVerificationClient) IngestDispatch(ctx context.Context, in *DispatchFeedRequest, opts ...grpc.CallOption) (*IngestReply, error) {
	out := new(IngestReply)
	return out, c.call(ctx, "IngestDispatch", in, out, opts...)
}

func (c *OrderVerificationClient) Punch(ctx context.Context, in *PunchRequest, opts ...grpc.CallOption) (*VerificationReply, error) {
	out := new(VerificationReply)
	return out, c.call(ctx, "Punch", in, out, opts...)
}

func (c *OrderVerificationClient) GetStock(ctx context.Context, in *GetStockRequest, opts ...grpc.CallOption) (*StockReply, error) {
	out := new(StockReply)
	return out, c.call(ctx, "GetStock", in, out, opts...)
}
