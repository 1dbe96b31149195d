package redisclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"storefront/internal/cart"
	"storefront/internal/models"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

var (
	// ErrCacheMiss is returned when a cached value is absent.
	ErrCacheMiss = errors.New("cache miss")
	// ErrIdempotencyPending means another request holds the key and has not finished.
	ErrIdempotencyPending = errors.New("idempotent request still in progress")
)

const (
	orderListKey    = "orders:list"
	orderListGenKey = "orders:list:gen"
	cartTTL         = 30 * 24 * time.Hour
	idemTTL         = 24 * time.Hour
	pendingMarker   = "__pending__"
)

// releaseLockSrc deletes the lock only if the caller still owns it
const releaseLockSrc = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

// setListSrc writes the listing only if no invalidation happened since
// the caller read the generation in ARGV[1].
const setListSrc = `
local gen = redis.call("GET", KEYS[1]) or "0"
if gen ~= ARGV[1] then
	return 0
end
redis.call("SET", KEYS[2], ARGV[2], "PX", ARGV[3])
return 1`

// completeIdemSrc stores a result unless one was already recorded
const completeIdemSrc = `
local cur = redis.call("GET", KEYS[1])
if cur and cur ~= ARGV[1] then
	return 0
end
redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
return 1`

// releaseIdemSrc drops a reservation that never produced a result
const releaseIdemSrc = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`

type Client struct {
	rdb          *redis.Client
	releaseLock  *redis.Script
	setList      *redis.Script
	completeIdem *redis.Script
	releaseIdem  *redis.Script
}

// NewClient creates a new Redis client and verifies the connection
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewFromRedis(rdb), nil
}

// NewFromRedis wraps an existing go-redis client
func NewFromRedis(rdb *redis.Client) *Client {
	return &Client{
		rdb:          rdb,
		releaseLock:  redis.NewScript(releaseLockSrc),
		setList:      redis.NewScript(setListSrc),
		completeIdem: redis.NewScript(completeIdemSrc),
		releaseIdem:  redis.NewScript(releaseIdemSrc),
	}
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Ping checks the connection
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// GetOrderList returns the cached admin order listing
func (c *Client) GetOrderList(ctx context.Context) ([]models.Order, error) {
	data, err := c.rdb.Get(ctx, orderListKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var orders []models.Order
	if err := json.Unmarshal(data, &orders); err != nil {
		return nil, fmt.Errorf("unmarshal order list failed: %w", err)
	}
	return orders, nil
}

// OrderListGeneration returns the invalidation counter for the listing.
// Read it before loading orders and pass it to SetOrderList.
func (c *Client) OrderListGeneration(ctx context.Context) (int64, error) {
	gen, err := c.rdb.Get(ctx, orderListGenKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get failed: %w", err)
	}
	return gen, nil
}

// SetOrderList caches the admin order listing loaded at generation gen.
// It reports false, without writing, when the listing was invalidated since.
func (c *Client) SetOrderList(ctx context.Context, gen int64, orders []models.Order, ttl time.Duration) (bool, error) {
	data, err := json.Marshal(orders)
	if err != nil {
		return false, fmt.Errorf("marshal order list failed: %w", err)
	}
	n, err := c.setList.Run(ctx, c.rdb,
		[]string{orderListGenKey, orderListKey},
		gen, data, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("redis set failed: %w", err)
	}
	return n == 1, nil
}

// InvalidateOrderList drops the cached listing and bumps its generation
func (c *Client) InvalidateOrderList(ctx context.Context) error {
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, orderListGenKey)
		pipe.Del(ctx, orderListKey)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis invalidate failed: %w", err)
	}
	return nil
}

// SaveCart stores a shopper's cart lines under their session
func (c *Client) SaveCart(ctx context.Context, sessionID string, lines []cart.Line) error {
	data, err := json.Marshal(lines)
	if err != nil {
		return fmt.Errorf("marshal cart failed: %w", err)
	}
	if err := c.rdb.Set(ctx, cartKey(sessionID), data, cartTTL).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// LoadCart returns the stored lines; an unknown session yields an empty cart
func (c *Client) LoadCart(ctx context.Context, sessionID string) ([]cart.Line, error) {
	data, err := c.rdb.Get(ctx, cartKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var lines []cart.Line
	if err := json.Unmarshal(data, &lines); err != nil {
		return nil, fmt.Errorf("unmarshal cart failed: %w", err)
	}
	return lines, nil
}

// DeleteCart removes a stored cart
func (c *Client) DeleteCart(ctx context.Context, sessionID string) error {
	if err := c.rdb.Del(ctx, cartKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

// ReserveIdempotencyKey claims key for one request. ok is false when another
// request already holds it or has recorded a result. The reservation expires
// after ttl so a crashed request does not block the key forever.
func (c *Client) ReserveIdempotencyKey(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := c.rdb.SetNX(ctx, idemKey(key), pendingMarker, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("reserve idempotency key failed: %w", err)
	}
	return ok, nil
}

// ReleaseIdempotencyKey frees a reservation whose request failed.
// A recorded result is left in place.
func (c *Client) ReleaseIdempotencyKey(ctx context.Context, key string) error {
	if err := c.releaseIdem.Run(ctx, c.rdb, []string{idemKey(key)}, pendingMarker).Err(); err != nil {
		return fmt.Errorf("release idempotency key failed: %w", err)
	}
	return nil
}

// GetIdempotentResult loads the response recorded for an idempotency key.
// ErrIdempotencyPending is returned while the owning request is still running.
func (c *Client) GetIdempotentResult(ctx context.Context, key string, dest interface{}) error {
	data, err := c.rdb.Get(ctx, idemKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrCacheMiss
	}
	if err != nil {
		return fmt.Errorf("redis get failed: %w", err)
	}
	if string(data) == pendingMarker {
		return ErrIdempotencyPending
	}
	return json.Unmarshal(data, dest)
}

// SetIdempotentResult records the response for an idempotency key,
// replacing a reservation. The first result wins; later calls are ignored.
func (c *Client) SetIdempotentResult(ctx context.Context, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal idempotent result failed: %w", err)
	}
	err = c.completeIdem.Run(ctx, c.rdb, []string{idemKey(key)},
		pendingMarker, data, idemTTL.Milliseconds()).Err()
	if err != nil {
		return fmt.Errorf("record idempotent result failed: %w", err)
	}
	return nil
}

// Lock is a held distributed lock
type Lock struct {
	key   string
	token string
}

// AcquireLock acquires a distributed lock. ok is false when another holder has it.
func (c *Client) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (*Lock, bool, error) {
	lock := &Lock{key: fmt.Sprintf("lock:%s", lockKey), token: uuid.New().String()}
	ok, err := c.rdb.SetNX(ctx, lock.key, lock.token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lock failed: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	return lock, true, nil
}

// ReleaseLock releases a lock if it is still owned by the caller
func (c *Client) ReleaseLock(ctx context.Context, lock *Lock) error {
	if lock == nil {
		return nil
	}
	if err := c.releaseLock.Run(ctx, c.rdb, []string{lock.key}, lock.token).Err(); err != nil {
		return fmt.Errorf("release lock failed: %w", err)
	}
	return nil
}

func cartKey(sessionID string) string {
	return fmt.Sprintf("cart:%s", sessionID)
}

func idemKey(key string) string {
	return fmt.Sprintf("idempotency:%s", key)
}
