package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/cafe-order/internal/core/domain"
	"github.com/rl1809/cafe-order/internal/port"
)

const (
	beansKeyPrefix    = "beans:"
	cartKeyPrefix     = "cart:"
	idempotencyKeyTTL = 24 * time.Hour
)

var redeemBeansScript = redis.NewScript(`
local key = KEYS[1]
local beans = tonumber(ARGV[1])

local current = redis.call('GET', key)
if not current then
	return 0
end

current = tonumber(current)
if current >= beans then
	redis.call('DECRBY', key, beans)
	return 1
end

return 0
`)

type RedisAdapter struct {
	client *redis.Client
}

func NewRedisAdapter(client *redis.Client) *RedisAdapter {
	return &RedisAdapter{client: client}
}

func (r *RedisAdapter) RedeemBeans(ctx context.Context, userID string, beans int) (bool, error) {
	key := beansKeyPrefix + userID

	result, err := redeemBeansScript.Run(ctx, r.client, []string{key}, beans).Int()
	if err != nil {
		return false, err
	}

	return result == 1, nil
}

func (r *RedisAdapter) CreditBeans(ctx context.Context, userID string, beans int) error {
	key := beansKeyPrefix + userID
	return r.client.IncrBy(ctx, key, int64(beans)).Err()
}

func (r *RedisAdapter) BeanBalance(ctx context.Context, userID string) (int, error) {
	n, err := r.client.Get(ctx, beansKeyPrefix+userID).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, err
}

func (r *RedisAdapter) SetBeans(ctx context.Context, userID string, beans int) error {
	return r.client.Set(ctx, beansKeyPrefix+userID, beans, 0).Err()
}

func (r *RedisAdapter) ClaimIdempotency(ctx context.Context, key, orderID string) (string, bool, error) {
	ok, err := r.client.SetNX(ctx, key, orderID, idempotencyKeyTTL).Result()
	if err != nil {
		return "", false, err
	}
	if ok {
		return orderID, true, nil
	}

	bound, err := r.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		// expired between the two calls
		return r.ClaimIdempotency(ctx, key, orderID)
	}
	if err != nil {
		return "", false, err
	}
	return bound, false, nil
}

func (r *RedisAdapter) ReleaseIdempotency(ctx context.Context, key string) error {
	return r.client.Del(ctx, key).Err()
}

func (r *RedisAdapter) SaveCart(ctx context.Context, sessionID string, items []domain.LineItem, ttl time.Duration) error {
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("encode cart: %w", err)
	}
	return r.client.Set(ctx, cartKeyPrefix+sessionID, data, ttl).Err()
}

func (r *RedisAdapter) LoadCart(ctx context.Context, sessionID string) ([]domain.LineItem, error) {
	data, err := r.client.Get(ctx, cartKeyPrefix+sessionID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, port.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var items []domain.LineItem
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("decode cart: %w", err)
	}
	return items, nil
}

func (r *RedisAdapter) DeleteCart(ctx context.Context, sessionID string) error {
	return r.client.Del(ctx, cartKeyPrefix+sessionID).Err()
}
