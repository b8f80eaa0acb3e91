package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rl1809/mall-checkout/internal/core/domain"
	"github.com/rl1809/mall-checkout/internal/port"
)

type orderCell struct {
	mu sync.Mutex
	o  domain.Order
}

func (c *orderCell) snapshot() domain.Order {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.o.Clone()
}

// MemoryOrderStore is an append-only port.OrderRepository. Each order has its
// own lock so status transitions act as a compare-and-swap.
type MemoryOrderStore struct {
	mu     sync.RWMutex
	orders map[string]*orderCell
	now    func() time.Time
}

func NewMemoryOrderStore() *MemoryOrderStore {
	return &MemoryOrderStore{orders: make(map[string]*orderCell), now: time.Now}
}

func (s *MemoryOrderStore) CreateOrder(ctx context.Context, order domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.orders[order.ID]; exists {
		return fmt.Errorf("order %s already exists", order.ID)
	}
	s.orders[order.ID] = &orderCell{o: order.Clone()}
	return nil
}

func (s *MemoryOrderStore) GetOrder(ctx context.Context, id string) (domain.Order, error) {
	s.mu.RLock()
	cell, ok := s.orders[id]
	s.mu.RUnlock()
	if !ok {
		return domain.Order{}, domain.OrderNotFound(id)
	}
	return cell.snapshot(), nil
}

func (s *MemoryOrderStore) ListByOwner(ctx context.Context, ownerID string, page domain.PageRequest) (domain.Page[domain.Order], error) {
	return domain.Paginate(s.newestFirst(func(o domain.Order) bool { return o.OwnerID == ownerID }), page), nil
}

func (s *MemoryOrderStore) ListOrders(ctx context.Context, status domain.OrderStatus, page domain.PageRequest) (domain.Page[domain.Order], error) {
	return domain.Paginate(s.newestFirst(func(o domain.Order) bool { return status == "" || o.Status == status }), page), nil
}

func (s *MemoryOrderStore) Transition(ctx context.Context, id string, from, to domain.OrderStatus, apply port.TransitionFunc) (domain.Order, error) {
	s.mu.RLock()
	cell, ok := s.orders[id]
	s.mu.RUnlock()
	if !ok {
		return domain.Order{}, domain.OrderNotFound(id)
	}

	cell.mu.Lock()
	defer cell.mu.Unlock()

	if cell.o.Status != from {
		return domain.Order{}, domain.InvalidStateTransition(cell.o.Status, to)
	}
	if apply != nil {
		if err := apply(ctx, cell.o.Clone()); err != nil {
			return domain.Order{}, err
		}
	}
	cell.o.Status = to
	cell.o.UpdatedAt = s.now()
	return cell.o.Clone(), nil
}

func (s *MemoryOrderStore) newestFirst(keep func(domain.Order) bool) []domain.Order {
	s.mu.RLock()
	cells := make([]*orderCell, 0, len(s.orders))
	for _, c := range s.orders {
		cells = append(cells, c)
	}
	s.mu.RUnlock()

	var out []domain.Order
	for _, c := range cells {
		if o := c.snapshot(); keep(o) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}
