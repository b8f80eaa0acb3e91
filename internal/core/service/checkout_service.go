package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/rl1809/mall-checkout/internal/core/domain"
	"github.com/rl1809/mall-checkout/internal/port"
	"github.com/rl1809/mall-checkout/internal/telemetry"
)

// CheckoutService turns requested lines into a priced, stock-committed order.
// Stock for the whole request is reserved as one group before anything is
// priced or written; any later failure releases the group again.
type CheckoutService struct {
	stock       port.StockLedger
	pricing     port.PricingResolver
	orders      port.OrderRepository
	carts       port.CartRepository
	idempotency port.IdempotencyStore
	log         *zap.Logger
	now         func() time.Time
	newID       func() string
}

// NewCheckoutService wires the coordinator. idempotency may be nil, in which
// case idempotency keys are ignored.
func NewCheckoutService(
	stock port.StockLedger,
	pricing port.PricingResolver,
	orders port.OrderRepository,
	carts port.CartRepository,
	idempotency port.IdempotencyStore,
	log *zap.Logger,
) *CheckoutService {
	return &CheckoutService{
		stock:       stock,
		pricing:     pricing,
		orders:      orders,
		carts:       carts,
		idempotency: idempotency,
		log:         log,
		now:         func() time.Time { return time.Now().UTC() },
		newID:       uuid.NewString,
	}
}

// Checkout places an order for lines. With a non-empty idempotencyKey a retry
// returns the order created by the first attempt, and a retry that overlaps
// an attempt still in flight fails with domain.ErrDuplicateRequest.
func (s *CheckoutService) Checkout(ctx context.Context, ownerID, shippingAddress string, lines []domain.Reservation, idempotencyKey string) (order domain.Order, err error) {
	ctx, span := telemetry.AddSpan(ctx, "CheckoutService.Checkout",
		attribute.String("owner.id", ownerID), attribute.Int("lines", len(lines)))
	defer span.End()
	defer func() { telemetry.RecordError(span, err) }()

	if err := validateCheckout(shippingAddress, lines); err != nil {
		return domain.Order{}, err
	}

	if idempotencyKey == "" || s.idempotency == nil {
		return s.place(ctx, ownerID, strings.TrimSpace(shippingAddress), lines)
	}

	key := ownerID + ":" + idempotencyKey
	previous, acquired, err := s.idempotency.Acquire(ctx, key)
	if err != nil {
		return domain.Order{}, fmt.Errorf("idempotency check failed: %w", err)
	}
	if !acquired {
		if previous == "" {
			return domain.Order{}, domain.ErrDuplicateRequest
		}
		s.log.Info("replaying checkout", zap.String("owner_id", ownerID), zap.String("order_id", previous))
		return s.orders.GetOrder(ctx, previous)
	}

	order, err = s.place(ctx, ownerID, strings.TrimSpace(shippingAddress), lines)
	if err != nil {
		if aerr := s.idempotency.Abandon(context.WithoutCancel(ctx), key); aerr != nil {
			s.log.Error("failed to abandon idempotency key", zap.String("key", key), zap.Error(aerr))
		}
		return domain.Order{}, err
	}
	if cerr := s.idempotency.Complete(context.WithoutCancel(ctx), key, order.ID); cerr != nil {
		s.log.Error("failed to record idempotency result",
			zap.String("key", key), zap.String("order_id", order.ID), zap.Error(cerr))
	}
	return order, nil
}

// CheckoutCart checks out every line currently in the owner's cart.
func (s *CheckoutService) CheckoutCart(ctx context.Context, ownerID, shippingAddress, idempotencyKey string) (domain.Order, error) {
	cart, err := s.carts.ListLines(ctx, ownerID)
	if err != nil {
		return domain.Order{}, err
	}
	lines := make([]domain.Reservation, 0, len(cart))
	for _, l := range cart {
		lines = append(lines, domain.Reservation{ProductID: l.ProductID, Quantity: l.Quantity})
	}
	return s.Checkout(ctx, ownerID, shippingAddress, lines, idempotencyKey)
}

func (s *CheckoutService) place(ctx context.Context, ownerID, shippingAddress string, lines []domain.Reservation) (domain.Order, error) {
	items := domain.MergeReservations(lines)

	if err := s.stock.Reserve(ctx, items); err != nil {
		return domain.Order{}, err
	}

	orderLines := make([]domain.OrderLine, 0, len(items))
	for _, it := range items {
		q, err := s.pricing.Quote(ctx, it.ProductID)
		if err != nil {
			s.release(ctx, ownerID, items, err)
			return domain.Order{}, err
		}
		orderLines = append(orderLines, domain.OrderLine{
			ProductID:   it.ProductID,
			ProductName: q.Name,
			UnitPrice:   q.UnitPrice,
			Quantity:    it.Quantity,
		})
	}

	now := s.now()
	order := domain.Order{
		ID:              s.newID(),
		OwnerID:         ownerID,
		Lines:           orderLines,
		Total:           domain.OrderTotal(orderLines),
		ShippingAddress: shippingAddress,
		Status:          domain.OrderStatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.orders.CreateOrder(ctx, order); err != nil {
		s.release(ctx, ownerID, items, err)
		return domain.Order{}, fmt.Errorf("persist order: %w", err)
	}

	// The order exists from here on; a cart that fails to drain is only stale.
	if err := s.carts.RemoveProducts(ctx, ownerID, domain.ProductIDs(items)); err != nil {
		s.log.Error("failed to drain cart after checkout",
			zap.String("owner_id", ownerID), zap.String("order_id", order.ID), zap.Error(err))
	}

	s.log.Info("order placed",
		zap.String("order_id", order.ID),
		zap.String("owner_id", ownerID),
		zap.Int("lines", len(orderLines)),
		zap.String("total", order.Total.StringFixed(2)))
	return order, nil
}

// release returns a reservation after a failed checkout.
func (s *CheckoutService) release(ctx context.Context, ownerID string, items []domain.Reservation, cause error) {
	if err := s.stock.Release(context.WithoutCancel(ctx), items); err != nil {
		s.log.Error("CRITICAL: failed to release reserved stock",
			zap.String("owner_id", ownerID),
			zap.Any("items", items),
			zap.NamedError("cause", cause),
			zap.Error(err))
		return
	}
	s.log.Warn("checkout rolled back", zap.String("owner_id", ownerID), zap.NamedError("cause", cause))
}

func validateCheckout(shippingAddress string, lines []domain.Reservation) error {
	if len(lines) == 0 {
		return domain.ErrEmptyCart
	}
	if strings.TrimSpace(shippingAddress) == "" {
		return domain.ErrInvalidAddress
	}
	return domain.ValidateReservations(lines)
}
