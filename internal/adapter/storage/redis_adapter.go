package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/mall-checkout/internal/core/domain"
	"github.com/rl1809/mall-checkout/internal/port"
)

const (
	stockKeyPrefix       = "stock:"
	idempotencyKeyPrefix = "idempotency:"
	sessionKeyPrefix     = "session:"
	idempotencyKeyTTL    = 24 * time.Hour
)

// Every key is checked before any is decremented, so a group reservation is
// all-or-nothing. Reply: {status, failing key index (1-based), available}.
var reserveStockScript = redis.NewScript(`
for i = 1, #KEYS do
	local current = redis.call('GET', KEYS[i])
	if not current then
		return {-1, i, 0}
	end
	current = tonumber(current)
	if current < tonumber(ARGV[i]) then
		return {0, i, current}
	end
end

for i = 1, #KEYS do
	redis.call('DECRBY', KEYS[i], ARGV[i])
end

return {1, 0, 0}
`)

var releaseStockScript = redis.NewScript(`
for i = 1, #KEYS do
	if redis.call('EXISTS', KEYS[i]) == 0 then
		return {-1, i}
	end
end

for i = 1, #KEYS do
	redis.call('INCRBY', KEYS[i], ARGV[i])
end

return {1, 0}
`)

var adjustStockScript = redis.NewScript(`
local current = redis.call('GET', KEYS[1])
if not current then
	return {-1, 0}
end

current = tonumber(current)
local delta = tonumber(ARGV[1])
if current + delta < 0 then
	return {0, current}
end

return {1, redis.call('INCRBY', KEYS[1], delta)}
`)

// RedisAdapter serves the stock ledger, idempotency keys and bearer sessions
// out of Redis. Multi-key scripts assume a single Redis node.
type RedisAdapter struct {
	client *redis.Client
}

func NewRedisAdapter(client *redis.Client) *RedisAdapter {
	return &RedisAdapter{client: client}
}

func stockKey(productID int64) string {
	return stockKeyPrefix + strconv.FormatInt(productID, 10)
}

func stockArgs(items []domain.Reservation) ([]string, []interface{}) {
	keys := make([]string, len(items))
	args := make([]interface{}, len(items))
	for i, it := range items {
		keys[i] = stockKey(it.ProductID)
		args[i] = it.Quantity
	}
	return keys, args
}

func (r *RedisAdapter) Reserve(ctx context.Context, items []domain.Reservation) error {
	merged, err := mergeValid(items)
	if err != nil {
		return err
	}
	if len(merged) == 0 {
		return nil
	}

	keys, args := stockArgs(merged)
	reply, err := reserveStockScript.Run(ctx, r.client, keys, args...).Int64Slice()
	if err != nil {
		return fmt.Errorf("reserve stock: %w", err)
	}

	switch reply[0] {
	case 1:
		return nil
	case -1:
		return domain.ProductNotFound(merged[reply[1]-1].ProductID)
	default:
		return domain.InsufficientStock(merged[reply[1]-1].ProductID, int(reply[2]))
	}
}

func (r *RedisAdapter) Release(ctx context.Context, items []domain.Reservation) error {
	merged, err := mergeValid(items)
	if err != nil {
		return err
	}
	if len(merged) == 0 {
		return nil
	}

	keys, args := stockArgs(merged)
	reply, err := releaseStockScript.Run(ctx, r.client, keys, args...).Int64Slice()
	if err != nil {
		return fmt.Errorf("release stock: %w", err)
	}
	if reply[0] == -1 {
		return domain.ProductNotFound(merged[reply[1]-1].ProductID)
	}
	return nil
}

func (r *RedisAdapter) CurrentStock(ctx context.Context, productID int64) (int, error) {
	n, err := r.client.Get(ctx, stockKey(productID)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, domain.ProductNotFound(productID)
	}
	if err != nil {
		return 0, fmt.Errorf("get stock: %w", err)
	}
	return n, nil
}

func (r *RedisAdapter) Adjust(ctx context.Context, productID int64, delta int) (int, error) {
	reply, err := adjustStockScript.Run(ctx, r.client, []string{stockKey(productID)}, delta).Int64Slice()
	if err != nil {
		return 0, fmt.Errorf("adjust stock: %w", err)
	}
	switch reply[0] {
	case 1:
		return int(reply[1]), nil
	case -1:
		return 0, domain.ProductNotFound(productID)
	default:
		return int(reply[1]), domain.InsufficientStock(productID, int(reply[1]))
	}
}

// SetStock seeds the ledger for a product, overwriting whatever was there.
func (r *RedisAdapter) SetStock(ctx context.Context, productID int64, quantity int) error {
	return r.client.Set(ctx, stockKey(productID), quantity, 0).Err()
}

// InitStock seeds the ledger only when the product has no stock key yet, so
// a restart does not undo reservations taken since the catalog was loaded.
func (r *RedisAdapter) InitStock(ctx context.Context, productID int64, quantity int) (bool, error) {
	return r.client.SetNX(ctx, stockKey(productID), quantity, 0).Result()
}

func (r *RedisAdapter) Acquire(ctx context.Context, key string) (string, bool, error) {
	key = idempotencyKeyPrefix + key
	ok, err := r.client.SetNX(ctx, key, "", idempotencyKeyTTL).Result()
	if err != nil {
		return "", false, fmt.Errorf("acquire idempotency key: %w", err)
	}
	if ok {
		return "", true, nil
	}

	result, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		// expired between SETNX and GET; treat as still in flight
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read idempotency key: %w", err)
	}
	return result, false, nil
}

func (r *RedisAdapter) Complete(ctx context.Context, key, result string) error {
	return r.client.Set(ctx, idempotencyKeyPrefix+key, result, idempotencyKeyTTL).Err()
}

func (r *RedisAdapter) Abandon(ctx context.Context, key string) error {
	return r.client.Del(ctx, idempotencyKeyPrefix+key).Err()
}

// Resolve looks up session:<token>. The value is either a JSON principal or a
// bare user id, which is treated as a customer.
func (r *RedisAdapter) Resolve(ctx context.Context, token string) (port.Principal, error) {
	if token == "" {
		return port.Principal{}, domain.ErrUnauthorized
	}
	raw, err := r.client.Get(ctx, sessionKeyPrefix+token).Result()
	if errors.Is(err, redis.Nil) || raw == "" {
		return port.Principal{}, domain.ErrUnauthorized
	}
	if err != nil {
		return port.Principal{}, fmt.Errorf("resolve session: %w", err)
	}

	var p port.Principal
	if err := json.Unmarshal([]byte(raw), &p); err != nil || p.UserID == "" {
		return port.Principal{UserID: raw, Role: port.RoleCustomer}, nil
	}
	if p.Role == "" {
		p.Role = port.RoleCustomer
	}
	return p, nil
}
