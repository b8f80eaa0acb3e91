package handler

import (
	"context"

	"google.golang.org/grpc"

	"github.com/rl1809/mall-checkout/internal/core/domain"
)

const checkoutServiceName = "mall.checkout.v1.CheckoutService"

type CheckoutRequest struct {
	ShippingAddress string               `json:"shippingAddress"`
	Items           []domain.Reservation `json:"items,omitempty"`
	// FromCart checks out the caller's cart and ignores Items.
	FromCart       bool   `json:"fromCart,omitempty"`
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
}

type OrderRequest struct {
	OrderID string `json:"orderId"`
}

type ListOrdersRequest struct {
	// All lists every order and is only honoured for admins.
	All    bool               `json:"all,omitempty"`
	Status domain.OrderStatus `json:"status,omitempty"`
	Page   int                `json:"page"`
	Size   int                `json:"size"`
}

type AdvanceOrderRequest struct {
	OrderID string             `json:"orderId"`
	Status  domain.OrderStatus `json:"status"`
}

type OrderPage = domain.Page[domain.Order]

// CheckoutServer is the server API of mall.checkout.v1.CheckoutService.
type CheckoutServer interface {
	Checkout(context.Context, *CheckoutRequest) (*domain.Order, error)
	CancelOrder(context.Context, *OrderRequest) (*domain.Order, error)
	GetOrder(context.Context, *OrderRequest) (*domain.Order, error)
	ListOrders(context.Context, *ListOrdersRequest) (*OrderPage, error)
	AdvanceOrder(context.Context, *AdvanceOrderRequest) (*domain.Order, error)
}

func fullMethod(name string) string {
	return "/" + checkoutServiceName + "/" + name
}

func unary[Req, Resp any](name string, call func(CheckoutServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(CheckoutServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(CheckoutServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var CheckoutServiceDesc = grpc.ServiceDesc{
	ServiceName: checkoutServiceName,
	HandlerType: (*CheckoutServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Checkout", CheckoutServer.Checkout),
		unary("CancelOrder", CheckoutServer.CancelOrder),
		unary("GetOrder", CheckoutServer.GetOrder),
		unary("ListOrders", CheckoutServer.ListOrders),
		unary("AdvanceOrder", CheckoutServer.AdvanceOrder),
	},
	Streams: []grpc.StreamDesc{},
}

func RegisterCheckoutServer(s grpc.ServiceRegistrar, srv CheckoutServer) {
	s.RegisterService(&CheckoutServiceDesc, srv)
}
