package service

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/rl1809/mall-checkout/internal/core/domain"
	"github.com/rl1809/mall-checkout/internal/port"
	"github.com/rl1809/mall-checkout/internal/telemetry"
)

// OrderService owns the order lifecycle after checkout.
type OrderService struct {
	orders port.OrderRepository
	stock  port.StockLedger
	log    *zap.Logger
}

func NewOrderService(orders port.OrderRepository, stock port.StockLedger, log *zap.Logger) *OrderService {
	return &OrderService{orders: orders, stock: stock, log: log}
}

// Get returns an order visible to the principal: its owner, or any admin.
func (s *OrderService) Get(ctx context.Context, p port.Principal, id string) (domain.Order, error) {
	o, err := s.orders.GetOrder(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}
	if o.OwnerID != p.UserID && !p.IsAdmin() {
		return domain.Order{}, domain.ErrNotOwner
	}
	return o, nil
}

func (s *OrderService) ListMine(ctx context.Context, ownerID string, page domain.PageRequest) (domain.Page[domain.Order], error) {
	return s.orders.ListByOwner(ctx, ownerID, page.Normalize())
}

// ListAll pages through every order. An empty status matches all.
func (s *OrderService) ListAll(ctx context.Context, status domain.OrderStatus, page domain.PageRequest) (domain.Page[domain.Order], error) {
	if status != "" && !status.Valid() {
		return domain.Page[domain.Order]{}, domain.InvalidRequest("unknown order status %q", status)
	}
	return s.orders.ListOrders(ctx, status, page.Normalize())
}

// Cancel cancels the owner's order and returns its stock to the ledger.
func (s *OrderService) Cancel(ctx context.Context, ownerID, id string) (order domain.Order, err error) {
	ctx, span := telemetry.AddSpan(ctx, "OrderService.Cancel", attribute.String("order.id", id))
	defer span.End()
	defer func() { telemetry.RecordError(span, err) }()

	o, err := s.orders.GetOrder(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}
	if o.OwnerID != ownerID {
		return domain.Order{}, domain.ErrNotOwner
	}
	return s.move(ctx, o, domain.OrderStatusCancelled)
}

// Advance moves an order along its lifecycle on behalf of fulfillment or an
// admin. Cancelling through Advance also returns the stock.
func (s *OrderService) Advance(ctx context.Context, id string, to domain.OrderStatus) (order domain.Order, err error) {
	ctx, span := telemetry.AddSpan(ctx, "OrderService.Advance",
		attribute.String("order.id", id), attribute.String("order.status", string(to)))
	defer span.End()
	defer func() { telemetry.RecordError(span, err) }()

	if !to.Valid() {
		return domain.Order{}, domain.InvalidRequest("unknown order status %q", to)
	}
	o, err := s.orders.GetOrder(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}
	return s.move(ctx, o, to)
}

func (s *OrderService) move(ctx context.Context, o domain.Order, to domain.OrderStatus) (domain.Order, error) {
	if !domain.CanTransition(o.Status, to) {
		return domain.Order{}, domain.InvalidStateTransition(o.Status, to)
	}

	if to != domain.OrderStatusCancelled {
		updated, err := s.orders.Transition(ctx, o.ID, o.Status, to, nil)
		if err != nil {
			return domain.Order{}, err
		}
		s.log.Info("order status changed", zap.String("order_id", o.ID),
			zap.String("from", string(o.Status)), zap.String("to", string(to)))
		return updated, nil
	}

	released := false
	updated, err := s.orders.Transition(ctx, o.ID, o.Status, to, func(ctx context.Context, locked domain.Order) error {
		if err := s.stock.Release(ctx, locked.Reservations()); err != nil {
			return fmt.Errorf("release stock: %w", err)
		}
		released = true
		return nil
	})
	if err != nil {
		if released {
			s.reReserve(ctx, o, err)
		}
		return domain.Order{}, err
	}

	s.log.Info("order cancelled", zap.String("order_id", o.ID), zap.String("owner_id", o.OwnerID),
		zap.String("from", string(o.Status)))
	return updated, nil
}

// reReserve takes back stock released for a cancellation whose status write
// then failed, so the order keeps what it holds.
func (s *OrderService) reReserve(ctx context.Context, o domain.Order, cause error) {
	if err := s.stock.Reserve(context.WithoutCancel(ctx), o.Reservations()); err != nil {
		s.log.Error("CRITICAL: order not cancelled but its stock was released",
			zap.String("order_id", o.ID),
			zap.NamedError("cause", cause),
			zap.Error(err))
	}
}
