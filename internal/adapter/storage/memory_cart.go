package storage

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rl1809/mall-checkout/internal/core/domain"
)

type memoryCart struct {
	mu    sync.Mutex
	lines []domain.CartLine
}

func (c *memoryCart) find(lineID int64) int {
	for i, l := range c.lines {
		if l.ID == lineID {
			return i
		}
	}
	return -1
}

// MemoryCartStore implements port.CartRepository with one lock per owner.
type MemoryCartStore struct {
	mu     sync.Mutex
	carts  map[string]*memoryCart
	nextID atomic.Int64
	now    func() time.Time
}

func NewMemoryCartStore() *MemoryCartStore {
	return &MemoryCartStore{carts: make(map[string]*memoryCart), now: time.Now}
}

// cart returns the owner's cart, creating it on first write.
func (s *MemoryCartStore) cart(ownerID string) *memoryCart {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.carts[ownerID]
	if !ok {
		c = &memoryCart{}
		s.carts[ownerID] = c
	}
	return c
}

// existing returns the owner's cart without creating one.
func (s *MemoryCartStore) existing(ownerID string) (*memoryCart, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.carts[ownerID]
	return c, ok
}

func (s *MemoryCartStore) AddOrMerge(ctx context.Context, ownerID string, productID int64, quantity int) (domain.CartLine, error) {
	if quantity > domain.MaxLineQuantity {
		return domain.CartLine{}, domain.QuantityTooLarge(productID)
	}
	c := s.cart(ownerID)
	c.mu.Lock()
	defer c.mu.Unlock()

	now := s.now()
	for i := range c.lines {
		if c.lines[i].ProductID == productID {
			if quantity > domain.MaxLineQuantity-c.lines[i].Quantity {
				return domain.CartLine{}, domain.QuantityTooLarge(productID)
			}
			c.lines[i].Quantity += quantity
			c.lines[i].UpdatedAt = now
			return c.lines[i], nil
		}
	}

	line := domain.CartLine{
		ID:        s.nextID.Add(1),
		OwnerID:   ownerID,
		ProductID: productID,
		Quantity:  quantity,
		CreatedAt: now,
		UpdatedAt: now,
	}
	c.lines = append(c.lines, line)
	return line, nil
}

func (s *MemoryCartStore) SetQuantity(ctx context.Context, ownerID string, lineID int64, quantity int) (domain.CartLine, error) {
	c, ok := s.existing(ownerID)
	if !ok {
		return domain.CartLine{}, domain.LineNotFound(lineID)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	i := c.find(lineID)
	if i < 0 {
		return domain.CartLine{}, domain.LineNotFound(lineID)
	}
	c.lines[i].Quantity = quantity
	c.lines[i].UpdatedAt = s.now()
	return c.lines[i], nil
}

func (s *MemoryCartStore) RemoveLine(ctx context.Context, ownerID string, lineID int64) error {
	c, ok := s.existing(ownerID)
	if !ok {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if i := c.find(lineID); i >= 0 {
		c.lines = append(c.lines[:i], c.lines[i+1:]...)
	}
	return nil
}

func (s *MemoryCartStore) RemoveProducts(ctx context.Context, ownerID string, productIDs []int64) error {
	drop := make(map[int64]struct{}, len(productIDs))
	for _, id := range productIDs {
		drop[id] = struct{}{}
	}

	c, ok := s.existing(ownerID)
	if !ok {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	kept := c.lines[:0]
	for _, l := range c.lines {
		if _, ok := drop[l.ProductID]; !ok {
			kept = append(kept, l)
		}
	}
	c.lines = kept
	return nil
}

func (s *MemoryCartStore) Clear(ctx context.Context, ownerID string) error {
	c, ok := s.existing(ownerID)
	if !ok {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = nil
	return nil
}

func (s *MemoryCartStore) ListLines(ctx context.Context, ownerID string) ([]domain.CartLine, error) {
	c, ok := s.existing(ownerID)
	if !ok {
		return []domain.CartLine{}, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]domain.CartLine, len(c.lines))
	copy(out, c.lines)
	return out, nil
}
