package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/recovery"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/rl1809/mall-checkout/internal/core/domain"
	"github.com/rl1809/mall-checkout/internal/core/service"
	"github.com/rl1809/mall-checkout/internal/port"
	"github.com/rl1809/mall-checkout/internal/telemetry"
)

// ErrorDomain tags the ErrorInfo detail attached to failed calls.
const ErrorDomain = "checkout.mall"

type GRPCHandler struct {
	checkout *service.CheckoutService
	orders   *service.OrderService
}

func NewGRPCHandler(checkout *service.CheckoutService, orders *service.OrderService) *GRPCHandler {
	return &GRPCHandler{checkout: checkout, orders: orders}
}

func (h *GRPCHandler) Checkout(ctx context.Context, req *CheckoutRequest) (*domain.Order, error) {
	p, err := principal(ctx)
	if err != nil {
		return nil, err
	}

	var order domain.Order
	if req.FromCart {
		order, err = h.checkout.CheckoutCart(ctx, p.UserID, req.ShippingAddress, req.IdempotencyKey)
	} else {
		order, err = h.checkout.Checkout(ctx, p.UserID, req.ShippingAddress, req.Items, req.IdempotencyKey)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// CancelOrder cancels the caller's order. Admins may cancel any order.
func (h *GRPCHandler) CancelOrder(ctx context.Context, req *OrderRequest) (*domain.Order, error) {
	p, err := principal(ctx)
	if err != nil {
		return nil, err
	}

	var order domain.Order
	if p.IsAdmin() {
		order, err = h.orders.Advance(ctx, req.OrderID, domain.OrderStatusCancelled)
	} else {
		order, err = h.orders.Cancel(ctx, p.UserID, req.OrderID)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (h *GRPCHandler) GetOrder(ctx context.Context, req *OrderRequest) (*domain.Order, error) {
	p, err := principal(ctx)
	if err != nil {
		return nil, err
	}
	order, err := h.orders.Get(ctx, p, req.OrderID)
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (h *GRPCHandler) ListOrders(ctx context.Context, req *ListOrdersRequest) (*OrderPage, error) {
	p, err := principal(ctx)
	if err != nil {
		return nil, err
	}

	page := domain.PageRequest{Page: req.Page, Size: req.Size}
	var result OrderPage
	if req.All {
		if !p.IsAdmin() {
			return nil, domain.ErrForbidden
		}
		result, err = h.orders.ListAll(ctx, req.Status, page)
	} else {
		result, err = h.orders.ListMine(ctx, p.UserID, page)
	}
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// AdvanceOrder is the fulfillment trigger and requires an admin principal.
func (h *GRPCHandler) AdvanceOrder(ctx context.Context, req *AdvanceOrderRequest) (*domain.Order, error) {
	p, err := principal(ctx)
	if err != nil {
		return nil, err
	}
	if !p.IsAdmin() {
		return nil, domain.ErrForbidden
	}
	order, err := h.orders.Advance(ctx, req.OrderID, req.Status)
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// NewGRPCServer builds a server exposing the checkout service and the standard
// health service. A panicking call fails with codes.Internal instead of
// taking the process down.
func NewGRPCServer(h CheckoutServer, sessions port.SessionResolver, log *zap.Logger) *grpc.Server {
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(
		UnaryInterceptor(sessions, log),
		recovery.UnaryServerInterceptor(recovery.WithRecoveryHandlerContext(recoverPanic(log))),
	))
	RegisterCheckoutServer(srv, h)

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(checkoutServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)
	return srv
}

func recoverPanic(log *zap.Logger) recovery.RecoveryHandlerFuncContext {
	return func(ctx context.Context, p any) error {
		log.Error("grpc handler panicked",
			zap.Any("panic", p),
			zap.String("trace_id", telemetry.TraceID(ctx)),
			zap.Stack("stack"))
		return status.Error(codes.Internal, "internal error")
	}
}

func principal(ctx context.Context) (port.Principal, error) {
	p, ok := PrincipalFrom(ctx)
	if !ok {
		return port.Principal{}, domain.ErrUnauthorized
	}
	return p, nil
}

// UnaryInterceptor resolves the bearer token of checkout service calls and
// converts returned errors into gRPC statuses. Health checks are not
// authenticated.
func UnaryInterceptor(sessions port.SessionResolver, log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		ctx, span := telemetry.AddSpan(ctx, info.FullMethod, attribute.String("rpc.system", "grpc"))
		defer span.End()
		start := time.Now()

		resp, err := func() (interface{}, error) {
			if !strings.HasPrefix(info.FullMethod, "/"+checkoutServiceName+"/") {
				return handler(ctx, req)
			}
			md, _ := metadata.FromIncomingContext(ctx)
			var token string
			if vals := md.Get("authorization"); len(vals) > 0 {
				token = bearerToken(vals[0])
			}
			if token == "" {
				return nil, domain.ErrUnauthorized
			}
			p, err := sessions.Resolve(ctx, token)
			if err != nil {
				return nil, err
			}
			return handler(WithPrincipal(ctx, p), req)
		}()

		st := toStatus(err)
		telemetry.RecordError(span, err)
		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.String("code", st.Code().String()),
			zap.Duration("duration", time.Since(start)),
			zap.String("trace_id", telemetry.TraceID(ctx)),
		}
		if st.Code() == codes.Internal || st.Code() == codes.Unknown {
			log.Error("grpc request failed", append(fields, zap.Error(err))...)
		} else {
			log.Info("grpc request", fields...)
		}
		if err != nil {
			return nil, st.Err()
		}
		return resp, nil
	}
}

var grpcCodeByCode = map[domain.ErrorCode]codes.Code{
	domain.CodeInvalidRequest:         codes.InvalidArgument,
	domain.CodeEmptyCart:              codes.InvalidArgument,
	domain.CodeInvalidAddress:         codes.InvalidArgument,
	domain.CodeInvalidQuantity:        codes.InvalidArgument,
	domain.CodeProductNotFound:        codes.NotFound,
	domain.CodeInsufficientStock:      codes.FailedPrecondition,
	domain.CodeLineNotFound:           codes.NotFound,
	domain.CodeOrderNotFound:          codes.NotFound,
	domain.CodeNotOwner:               codes.PermissionDenied,
	domain.CodeInvalidStateTransition: codes.FailedPrecondition,
	domain.CodeDuplicateRequest:       codes.Aborted,
	domain.CodeUnauthorized:           codes.Unauthenticated,
	domain.CodeForbidden:              codes.PermissionDenied,
}

// toStatus maps err onto a gRPC status. Domain errors carry their code and
// details in an ErrorInfo so clients can rebuild them with FromStatus.
func toStatus(err error) *status.Status {
	if err == nil {
		return status.New(codes.OK, "")
	}
	if st, ok := status.FromError(err); ok {
		return st
	}

	var de *domain.Error
	if !errors.As(err, &de) {
		return status.New(codes.Internal, "internal error")
	}
	code, ok := grpcCodeByCode[de.Code]
	if !ok {
		code = codes.Unknown
	}

	st := status.New(code, de.Message)
	meta := map[string]string{"kind": string(de.Kind)}
	for k, v := range de.Details {
		meta[k] = fmt.Sprint(v)
	}
	if withInfo, err := st.WithDetails(&errdetails.ErrorInfo{
		Reason:   string(de.Code),
		Domain:   ErrorDomain,
		Metadata: meta,
	}); err == nil {
		st = withInfo
	}
	return st
}
