package handler

import (
	"context"
	"strconv"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/rl1809/mall-checkout/internal/core/domain"
)

// CheckoutClient calls mall.checkout.v1.CheckoutService with the JSON codec.
type CheckoutClient struct {
	conn  grpc.ClientConnInterface
	token string
}

func NewCheckoutClient(conn grpc.ClientConnInterface, token string) *CheckoutClient {
	return &CheckoutClient{conn: conn, token: token}
}

// WithToken returns a client that authenticates as a different session.
func (c *CheckoutClient) WithToken(token string) *CheckoutClient {
	return &CheckoutClient{conn: c.conn, token: token}
}

func (c *CheckoutClient) Checkout(ctx context.Context, req *CheckoutRequest) (*domain.Order, error) {
	return invoke[domain.Order](ctx, c, "Checkout", req)
}

func (c *CheckoutClient) CancelOrder(ctx context.Context, req *OrderRequest) (*domain.Order, error) {
	return invoke[domain.Order](ctx, c, "CancelOrder", req)
}

func (c *CheckoutClient) GetOrder(ctx context.Context, req *OrderRequest) (*domain.Order, error) {
	return invoke[domain.Order](ctx, c, "GetOrder", req)
}

func (c *CheckoutClient) ListOrders(ctx context.Context, req *ListOrdersRequest) (*OrderPage, error) {
	return invoke[OrderPage](ctx, c, "ListOrders", req)
}

func (c *CheckoutClient) AdvanceOrder(ctx context.Context, req *AdvanceOrderRequest) (*domain.Order, error) {
	return invoke[domain.Order](ctx, c, "AdvanceOrder", req)
}

func invoke[Resp any](ctx context.Context, c *CheckoutClient, method string, req interface{}) (*Resp, error) {
	if c.token != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+c.token)
	}
	out := new(Resp)
	if err := c.conn.Invoke(ctx, fullMethod(method), req, out, grpc.CallContentSubtype(JSONCodecName)); err != nil {
		return nil, FromStatus(err)
	}
	return out, nil
}

// FromStatus turns a status carrying an ErrorInfo from this service back into
// a *domain.Error. Other errors are returned unchanged.
func FromStatus(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	for _, d := range st.Details() {
		info, ok := d.(*errdetails.ErrorInfo)
		if !ok || info.GetDomain() != ErrorDomain {
			continue
		}
		de := &domain.Error{
			Code:    domain.ErrorCode(info.GetReason()),
			Message: st.Message(),
		}
		for k, v := range info.GetMetadata() {
			if k == "kind" {
				de.Kind = domain.ErrorKind(v)
				continue
			}
			if de.Details == nil {
				de.Details = make(map[string]any)
			}
			de.Details[k] = detailValue(k, v)
		}
		return de
	}
	return err
}

func detailValue(key, v string) any {
	switch key {
	case "productId", "lineId":
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	case "available", "quantity", "limit":
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	case "from", "to":
		return domain.OrderStatus(v)
	}
	return v
}
