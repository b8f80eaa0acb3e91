package storage

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/rl1809/mall-checkout/internal/core/domain"
)

func TestMemoryCartStore_MergeSetRemove(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryCartStore()

	first, err := s.AddOrMerge(ctx, "alice", 1, 2)
	require.NoError(t, err)
	merged, err := s.AddOrMerge(ctx, "alice", 1, 3)
	require.NoError(t, err)
	assert.Equal(t, first.ID, merged.ID)
	assert.Equal(t, 5, merged.Quantity)

	other, err := s.AddOrMerge(ctx, "alice", 2, 1)
	require.NoError(t, err)

	lines, _ := s.ListLines(ctx, "alice")
	require.Len(t, lines, 2)
	assert.Equal(t, []int64{first.ID, other.ID}, []int64{lines[0].ID, lines[1].ID})

	_, err = s.SetQuantity(ctx, "bob", first.ID, 1)
	assert.True(t, errors.Is(err, domain.ErrLineNotFound), "bob must not see alice's line")

	updated, err := s.SetQuantity(ctx, "alice", first.ID, 9)
	require.NoError(t, err)
	assert.Equal(t, 9, updated.Quantity)

	require.NoError(t, s.RemoveLine(ctx, "alice", other.ID))
	require.NoError(t, s.RemoveLine(ctx, "alice", other.ID))
	require.NoError(t, s.RemoveProducts(ctx, "alice", []int64{1}))
	lines, _ = s.ListLines(ctx, "alice")
	assert.Empty(t, lines)

	require.NoError(t, s.Clear(ctx, "nobody"))
}

func TestMemoryCartStore_MergeStopsAtLineLimit(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryCartStore()

	_, err := s.AddOrMerge(ctx, "alice", 1, domain.MaxLineQuantity)
	require.NoError(t, err)

	_, err = s.AddOrMerge(ctx, "alice", 1, 1)
	assert.True(t, errors.Is(err, domain.ErrInvalidQuantity))
	_, err = s.AddOrMerge(ctx, "alice", 2, domain.MaxLineQuantity+1)
	assert.True(t, errors.Is(err, domain.ErrInvalidQuantity))

	lines, _ := s.ListLines(ctx, "alice")
	require.Len(t, lines, 1)
	assert.Equal(t, domain.MaxLineQuantity, lines[0].Quantity)
}

func TestMemoryCartStore_ReadsDoNotCreateCarts(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryCartStore()

	for i := 0; i < 100; i++ {
		owner := "visitor-" + strconv.Itoa(i)
		lines, err := s.ListLines(ctx, owner)
		require.NoError(t, err)
		assert.NotNil(t, lines)
		assert.Empty(t, lines)
		require.NoError(t, s.RemoveLine(ctx, owner, 1))
		require.NoError(t, s.RemoveProducts(ctx, owner, []int64{1}))
		require.NoError(t, s.Clear(ctx, owner))
		_, err = s.SetQuantity(ctx, owner, 1, 2)
		assert.True(t, errors.Is(err, domain.ErrLineNotFound))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	assert.Empty(t, s.carts)
}

func TestMemoryCartStore_ConcurrentAddsMerge(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx := context.Background()
	s := NewMemoryCartStore()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.AddOrMerge(ctx, "alice", 7, 1)
		}()
	}
	wg.Wait()

	lines, _ := s.ListLines(ctx, "alice")
	require.Len(t, lines, 1)
	assert.Equal(t, 50, lines[0].Quantity)
}

func newTestOrder(id, owner string, created time.Time) domain.Order {
	return domain.Order{
		ID:              id,
		OwnerID:         owner,
		Lines:           []domain.OrderLine{{ProductID: 1, ProductName: "p", Quantity: 1}},
		ShippingAddress: "1 Test Rd",
		Status:          domain.OrderStatusPending,
		CreatedAt:       created,
		UpdatedAt:       created,
	}
}

func TestMemoryOrderStore_ListNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryOrderStore()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.CreateOrder(ctx, newTestOrder("a", "alice", base)))
	require.NoError(t, s.CreateOrder(ctx, newTestOrder("b", "alice", base.Add(time.Minute))))
	require.NoError(t, s.CreateOrder(ctx, newTestOrder("c", "bob", base.Add(2*time.Minute))))
	require.NoError(t, s.CreateOrder(ctx, newTestOrder("d", "alice", base.Add(3*time.Minute))))
	assert.Error(t, s.CreateOrder(ctx, newTestOrder("d", "alice", base)))

	page, err := s.ListByOwner(ctx, "alice", domain.PageRequest{Page: 0, Size: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, page.TotalItems)
	assert.Equal(t, "d", page.Items[0].ID)
	assert.Equal(t, "b", page.Items[1].ID)

	page, _ = s.ListByOwner(ctx, "alice", domain.PageRequest{Page: 1, Size: 2})
	require.Len(t, page.Items, 1)
	assert.Equal(t, "a", page.Items[0].ID)

	page, _ = s.ListOrders(ctx, "", domain.PageRequest{})
	assert.Equal(t, 4, page.TotalItems)
}

func TestMemoryOrderStore_TransitionIsCompareAndSwap(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx := context.Background()
	s := NewMemoryOrderStore()
	require.NoError(t, s.CreateOrder(ctx, newTestOrder("o-1", "alice", time.Now())))

	var applied atomic.Int32
	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Transition(ctx, "o-1", domain.OrderStatusPending, domain.OrderStatusCancelled,
				func(ctx context.Context, o domain.Order) error {
					applied.Add(1)
					return nil
				})
			if err == nil {
				wins.Add(1)
			} else if !errors.Is(err, domain.ErrInvalidStateTransition) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(1), applied.Load())

	o, _ := s.GetOrder(ctx, "o-1")
	assert.Equal(t, domain.OrderStatusCancelled, o.Status)
}

func TestMemoryOrderStore_TransitionAbortsOnApplyError(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryOrderStore()
	require.NoError(t, s.CreateOrder(ctx, newTestOrder("o-1", "alice", time.Now())))

	boom := errors.New("boom")
	_, err := s.Transition(ctx, "o-1", domain.OrderStatusPending, domain.OrderStatusCancelled,
		func(ctx context.Context, o domain.Order) error { return boom })
	assert.ErrorIs(t, err, boom)

	o, _ := s.GetOrder(ctx, "o-1")
	assert.Equal(t, domain.OrderStatusPending, o.Status)

	_, err = s.Transition(ctx, "missing", domain.OrderStatusPending, domain.OrderStatusConfirmed, nil)
	assert.True(t, errors.Is(err, domain.ErrOrderNotFound))
}

func TestMemoryIdempotencyStore(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryIdempotencyStore()

	_, ok, err := m.Acquire(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)

	result, ok, _ := m.Acquire(ctx, "k")
	assert.False(t, ok)
	assert.Empty(t, result)

	require.NoError(t, m.Complete(ctx, "k", "order-1"))
	result, ok, _ = m.Acquire(ctx, "k")
	assert.False(t, ok)
	assert.Equal(t, "order-1", result)

	require.NoError(t, m.Abandon(ctx, "k"))
	_, ok, _ = m.Acquire(ctx, "k")
	assert.True(t, ok)
}
