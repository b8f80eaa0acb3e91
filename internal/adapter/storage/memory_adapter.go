package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rl1809/mall-checkout/internal/core/domain"
)

type productCell struct {
	mu sync.Mutex
	p  domain.Product
}

func (c *productCell) snapshot() domain.Product {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.p
}

// MemoryCatalog keeps products and their stock in process. It implements both
// port.ProductRepository and port.StockLedger; stock cells are locked one
// product at a time, in ascending id order when a group is reserved.
type MemoryCatalog struct {
	mu       sync.RWMutex
	products map[int64]*productCell
	nextID   int64
	now      func() time.Time
}

func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{products: make(map[int64]*productCell), now: time.Now}
}

func (c *MemoryCatalog) cell(id int64) (*productCell, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cell, ok := c.products[id]
	return cell, ok
}

func (c *MemoryCatalog) GetProduct(ctx context.Context, id int64) (domain.Product, error) {
	cell, ok := c.cell(id)
	if !ok {
		return domain.Product{}, domain.ProductNotFound(id)
	}
	return cell.snapshot(), nil
}

func (c *MemoryCatalog) GetProducts(ctx context.Context, ids []int64) (map[int64]domain.Product, error) {
	out := make(map[int64]domain.Product, len(ids))
	for _, id := range ids {
		if cell, ok := c.cell(id); ok {
			out[id] = cell.snapshot()
		}
	}
	return out, nil
}

func (c *MemoryCatalog) ListProducts(ctx context.Context, filter domain.ProductFilter, page domain.PageRequest) (domain.Page[domain.Product], error) {
	var matched []domain.Product
	for _, p := range c.all() {
		if filter.Category != "" && !strings.EqualFold(p.Category, filter.Category) {
			continue
		}
		if filter.Keyword != "" && !strings.Contains(strings.ToLower(p.Name), strings.ToLower(filter.Keyword)) {
			continue
		}
		if filter.InStock && p.Stock <= 0 {
			continue
		}
		matched = append(matched, p)
	}
	return domain.Paginate(matched, page), nil
}

func (c *MemoryCatalog) Categories(ctx context.Context) ([]string, error) {
	seen := make(map[string]struct{})
	var out []string
	for _, p := range c.all() {
		if _, ok := seen[p.Category]; ok || p.Category == "" {
			continue
		}
		seen[p.Category] = struct{}{}
		out = append(out, p.Category)
	}
	sort.Strings(out)
	return out, nil
}

func (c *MemoryCatalog) SaveProduct(ctx context.Context, p domain.Product) (domain.Product, error) {
	now := c.now()
	if p.ID == 0 {
		if p.Stock < 0 {
			return domain.Product{}, domain.InvalidRequest("stock must not be negative")
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		c.nextID++
		p.ID = c.nextID
		p.CreatedAt, p.UpdatedAt = now, now
		c.products[p.ID] = &productCell{p: p}
		return p, nil
	}

	cell, ok := c.cell(p.ID)
	if !ok {
		return domain.Product{}, domain.ProductNotFound(p.ID)
	}
	cell.mu.Lock()
	defer cell.mu.Unlock()
	cell.p.Name = p.Name
	cell.p.Category = p.Category
	cell.p.Price = p.Price
	cell.p.ImageURL = p.ImageURL
	cell.p.UpdatedAt = now
	return cell.p, nil
}

func (c *MemoryCatalog) all() []domain.Product {
	c.mu.RLock()
	cells := make([]*productCell, 0, len(c.products))
	for _, cell := range c.products {
		cells = append(cells, cell)
	}
	c.mu.RUnlock()

	out := make([]domain.Product, 0, len(cells))
	for _, cell := range cells {
		out = append(out, cell.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// lockGroup locks the cells of the given reservations in ascending product id
// order. Missing products get a nil cell. The returned func unlocks them all.
func (c *MemoryCatalog) lockGroup(items []domain.Reservation) ([]*productCell, func()) {
	cells := make([]*productCell, len(items))
	for i, it := range items {
		if cell, ok := c.cell(it.ProductID); ok {
			cells[i] = cell
			cell.mu.Lock()
		}
	}
	return cells, func() {
		for i := len(cells) - 1; i >= 0; i-- {
			if cells[i] != nil {
				cells[i].mu.Unlock()
			}
		}
	}
}

func (c *MemoryCatalog) Reserve(ctx context.Context, items []domain.Reservation) error {
	merged, err := mergeValid(items)
	if err != nil {
		return err
	}

	cells, unlock := c.lockGroup(merged)
	defer unlock()

	for i, it := range merged {
		if cells[i] == nil {
			return domain.ProductNotFound(it.ProductID)
		}
		if cells[i].p.Stock < it.Quantity {
			return domain.InsufficientStock(it.ProductID, cells[i].p.Stock)
		}
	}

	now := c.now()
	for i, it := range merged {
		cells[i].p.Stock -= it.Quantity
		cells[i].p.UpdatedAt = now
	}
	return nil
}

func (c *MemoryCatalog) Release(ctx context.Context, items []domain.Reservation) error {
	merged, err := mergeValid(items)
	if err != nil {
		return err
	}

	cells, unlock := c.lockGroup(merged)
	defer unlock()

	for i, it := range merged {
		if cells[i] == nil {
			return domain.ProductNotFound(it.ProductID)
		}
	}

	now := c.now()
	for i, it := range merged {
		cells[i].p.Stock += it.Quantity
		cells[i].p.UpdatedAt = now
	}
	return nil
}

func (c *MemoryCatalog) CurrentStock(ctx context.Context, productID int64) (int, error) {
	cell, ok := c.cell(productID)
	if !ok {
		return 0, domain.ProductNotFound(productID)
	}
	return cell.snapshot().Stock, nil
}

func (c *MemoryCatalog) Adjust(ctx context.Context, productID int64, delta int) (int, error) {
	cell, ok := c.cell(productID)
	if !ok {
		return 0, domain.ProductNotFound(productID)
	}
	cell.mu.Lock()
	defer cell.mu.Unlock()
	if cell.p.Stock+delta < 0 {
		return cell.p.Stock, domain.InsufficientStock(productID, cell.p.Stock)
	}
	cell.p.Stock += delta
	cell.p.UpdatedAt = c.now()
	return cell.p.Stock, nil
}

func mergeValid(items []domain.Reservation) ([]domain.Reservation, error) {
	if err := domain.ValidateReservations(items); err != nil {
		return nil, err
	}
	return domain.MergeReservations(items), nil
}
