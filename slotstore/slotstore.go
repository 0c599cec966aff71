package slotstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kontorhq/kontor-backend/config"
)

// ErrStoreUnavailable is returned when the underlying store cannot be
// reached. Callers are expected to check for it with errors.Is and map it to
// an infrastructure failure rather than a business one.
var ErrStoreUnavailable = errors.New("slot store unavailable")

// Store is the small set of key-value primitives the concurrency layer is
// built on. All operations are atomic with respect to each other, including
// the compare-and-set variants, so callers can rely on them across processes
// sharing the same backing store.
type Store interface {
	// SetIfAbsent writes value under key with the given ttl only when the
	// key does not exist. Returns true when the write happened.
	SetIfAbsent(ctx context.Context, key string, value string, ttl time.Duration) (bool, error)

	// ReleaseIfValue deletes key only while it still holds value. Returns
	// true when the delete happened, false when the key was absent or held
	// a different value.
	ReleaseIfValue(ctx context.Context, key string, value string) (bool, error)

	// RefreshIfValue extends the ttl of key only while it still holds
	// value. Returns true when the ttl was extended.
	RefreshIfValue(ctx context.Context, key string, value string, ttl time.Duration) (bool, error)

	// AdjustCounterWithFloor adds delta to the integer counter at key,
	// clamping the result at zero, and refreshes the key ttl when ttl > 0.
	// Returns the counter value after the adjustment.
	AdjustCounterWithFloor(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error)

	// GetCounter returns the counter value at key, or zero when the key
	// does not exist.
	GetCounter(ctx context.Context, key string) (int64, error)

	// RefreshTTL extends the ttl of key unconditionally. Returns false
	// when the key does not exist.
	RefreshTTL(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// AddToSet adds member to the set at key.
	AddToSet(ctx context.Context, key string, member string) error

	// RemoveFromSet removes member from the set at key.
	RemoveFromSet(ctx context.Context, key string, member string) error

	// ScanSet returns one page of members from the set at key starting at
	// cursor. A returned cursor of zero means the scan is complete. Members
	// may be repeated across pages, per redis SSCAN semantics.
	ScanSet(ctx context.Context, key string, cursor uint64, count int64) ([]string, uint64, error)

	// CountSet returns the cardinality of the set at key.
	CountSet(ctx context.Context, key string) (int64, error)
}

// NewFromConfig builds the store selected by slots.store. The redis client is
// pinged once so a misconfigured address shows up in the logs at startup, but
// a failed ping does not abort startup since redis may simply not be up yet.
func NewFromConfig(cfg *config.Config) (Store, error) {
	switch cfg.Slots.Store {
	case "memory":
		slog.Info("using in-memory slot store, slots will not survive restarts")
		return NewMemoryStore(), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			slog.Warn("could not ping redis slot store", "addr", cfg.Redis.Addr, "error", err)
		}
		return NewRedisStore(client), nil
	default:
		return nil, fmt.Errorf("unknown slot store type: %v", cfg.Slots.Store)
	}
}
