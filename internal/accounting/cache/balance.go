// Package cache memoises ledger balances in Redis. Keys embed a global ledger
// version that every posting commit bumps, so stale values are never read back.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

const (
	versionKey = "ledger:gl:version"
	// BumpChannel receives the new version after every ledger change.
	BumpChannel = "gl.bump"
)

// BalanceCache stores as-of balances keyed by ledger version.
type BalanceCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewBalanceCache constructs BalanceCache. A nil client disables caching.
func NewBalanceCache(client *redis.Client, ttl time.Duration) *BalanceCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &BalanceCache{client: client, ttl: ttl}
}

// Version returns the current ledger version, initialising it when missing.
func (c *BalanceCache) Version(ctx context.Context) (int64, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	ver, err := c.client.Get(ctx, versionKey).Int64()
	if errors.Is(err, redis.Nil) {
		if err := c.client.SetNX(ctx, versionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return c.client.Get(ctx, versionKey).Int64()
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}

func balanceKey(version int64, code string, asOf time.Time) string {
	return strings.Join([]string{"ledger", "balance", strconv.FormatInt(version, 10), code, asOf.Format("2006-01-02")}, ":")
}

// Balance returns the cached balance of code as of asOf under the current version.
// On a miss the version is returned so the caller can store under it.
func (c *BalanceCache) Balance(ctx context.Context, code string, asOf time.Time) (decimal.Decimal, bool, int64, error) {
	if c == nil || c.client == nil {
		return decimal.Zero, false, 0, errors.New("cache: redis client not configured")
	}
	ver, err := c.Version(ctx)
	if err != nil {
		return decimal.Zero, false, 0, err
	}
	raw, err := c.client.Get(ctx, balanceKey(ver, code, asOf)).Result()
	if errors.Is(err, redis.Nil) {
		return decimal.Zero, false, ver, nil
	}
	if err != nil {
		return decimal.Zero, false, 0, err
	}
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, false, 0, fmt.Errorf("cache: corrupt balance %q: %w", raw, err)
	}
	return value, true, ver, nil
}

// StoreBalance caches value under version. A value computed before a bump lands
// under the old version and is never read.
func (c *BalanceCache) StoreBalance(ctx context.Context, version int64, code string, asOf time.Time, value decimal.Decimal) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Set(ctx, balanceKey(version, code, asOf), value.StringFixed(2), c.ttl).Err()
}

// Bump advances the ledger version and publishes it on BumpChannel.
func (c *BalanceCache) Bump(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	ver, err := c.client.Incr(ctx, versionKey).Result()
	if err != nil {
		return err
	}
	return c.client.Publish(ctx, BumpChannel, strconv.FormatInt(ver, 10)).Err()
}

// ListenForBumps calls fn with every version published on BumpChannel until ctx ends.
func (c *BalanceCache) ListenForBumps(ctx context.Context, fn func(version int64)) error {
	if c == nil || c.client == nil {
		return nil
	}
	pubsub := c.client.Subscribe(ctx, BumpChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return err
	}
	go func() {
		defer func() { _ = pubsub.Close() }()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				if ver, err := strconv.ParseInt(msg.Payload, 10, 64); err == nil {
					fn(ver)
				}
			}
		}
	}()
	return nil
}
