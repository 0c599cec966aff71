package concurrency

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kontorhq/kontor-backend/slotstore"
)

// ActiveUsersKey is the set of user ids that currently hold at least one
// upload slot. The maintenance sweeper walks it to drop users whose counters
// have expired.
const ActiveUsersKey = "upload_slots:active_users"

// ErrNoActiveSlot is returned by Heartbeat when the user has no live slot
// counter left, usually because it expired after a crashed client stopped
// heartbeating.
var ErrNoActiveSlot = errors.New("no active upload slot for user")

// UserSlotsKey returns the per-user slot counter key.
func UserSlotsKey(userID string) string {
	return fmt.Sprintf("upload_slots:%v", userID)
}

type Options struct {
	// MaxConcurrentUploads is the configured per-user ceiling the HTTP
	// layer passes to TryAcquireSlot.
	MaxConcurrentUploads int64
	// SlotTTL bounds how long a slot survives without a heartbeat.
	SlotTTL time.Duration
}

// Service implements per-user bounded upload slots on top of a slot store,
// plus the small generic key primitives the file lock service is built on.
type Service struct {
	store slotstore.Store
	opts  Options
}

func NewService(store slotstore.Store, opts Options) *Service {
	if opts.MaxConcurrentUploads <= 0 {
		opts.MaxConcurrentUploads = 5
	}
	if opts.SlotTTL <= 0 {
		opts.SlotTTL = 10 * time.Minute
	}
	return &Service{store: store, opts: opts}
}

// MaxConcurrent is the configured per-user ceiling.
func (s *Service) MaxConcurrent() int64 {
	return s.opts.MaxConcurrentUploads
}

// SlotTTL is the configured slot lifetime between heartbeats.
func (s *Service) SlotTTL() time.Duration {
	return s.opts.SlotTTL
}

// SlotAcquisition is the outcome of one TryAcquireSlot call. Current is the
// user's counter after the call, including the compensation when the call
// was denied.
type SlotAcquisition struct {
	Acquired bool  `json:"acquired"`
	Current  int64 `json:"current"`
}

// TryAcquireSlot reserves one upload slot for the user against the given
// ceiling. It increments the counter first and backs the increment out again
// when the result lands above the ceiling, so two racing callers can never
// both be admitted past it. A ceiling of zero or less denies without touching
// the store.
func (s *Service) TryAcquireSlot(ctx context.Context, userID string, maxConcurrent int64, ttl time.Duration) (SlotAcquisition, error) {
	if maxConcurrent <= 0 {
		slotsDenied.Inc()
		return SlotAcquisition{}, nil
	}
	key := UserSlotsKey(userID)

	count, err := s.store.AdjustCounterWithFloor(ctx, key, 1, ttl)
	if err != nil {
		return SlotAcquisition{}, fmt.Errorf("failed to acquire slot for user %v: %w", userID, err)
	}

	if count > maxConcurrent {
		after, err := s.store.AdjustCounterWithFloor(ctx, key, -1, ttl)
		if err != nil {
			// the counter stays inflated until its ttl runs out, not fatal
			slog.Error("failed to roll back slot over ceiling", "userId", userID, "error", err)
			after = count
		}
		slotsDenied.Inc()
		return SlotAcquisition{Acquired: false, Current: after}, nil
	}

	if err := s.store.AddToSet(ctx, ActiveUsersKey, userID); err != nil {
		slog.Warn("failed to track user in active set", "userId", userID, "error", err)
	}

	slotsAcquired.Inc()
	return SlotAcquisition{Acquired: true, Current: count}, nil
}

// ReleaseSlot gives one slot back and returns the remaining count. Releasing
// below zero is clamped, a stray double release cannot poison the counter.
// When the last slot is released the user is removed from the active set.
func (s *Service) ReleaseSlot(ctx context.Context, userID string) (int64, error) {
	key := UserSlotsKey(userID)

	count, err := s.store.AdjustCounterWithFloor(ctx, key, -1, s.opts.SlotTTL)
	if err != nil {
		return 0, fmt.Errorf("failed to release slot for user %v: %w", userID, err)
	}

	if count == 0 {
		if err := s.store.RemoveFromSet(ctx, ActiveUsersKey, userID); err != nil {
			slog.Warn("failed to remove user from active set", "userId", userID, "error", err)
		}
	}

	slotsReleased.Inc()
	return count, nil
}

// Heartbeat extends the ttl of the user's slot counter while an upload is
// still making progress.
func (s *Service) Heartbeat(ctx context.Context, userID string, ttl time.Duration) error {
	ok, err := s.store.RefreshTTL(ctx, UserSlotsKey(userID), ttl)
	if err != nil {
		return fmt.Errorf("failed to refresh slots for user %v: %w", userID, err)
	}
	if !ok {
		return ErrNoActiveSlot
	}
	slotHeartbeats.Inc()
	return nil
}

// CurrentCount returns how many slots the user holds right now.
func (s *Service) CurrentCount(ctx context.Context, userID string) (int64, error) {
	return s.store.GetCounter(ctx, UserSlotsKey(userID))
}

// UserSlots is one row of the live slot statistics.
type UserSlots struct {
	UserID string `json:"userId"`
	Slots  int64  `json:"slots"`
}

// SlotStats is a point-in-time snapshot across all active users. Building it
// costs one scan of the active set plus one counter read per active user, it
// never enumerates the whole keyspace.
type SlotStats struct {
	ActiveUsers           int         `json:"activeUsers"`
	TotalSlots            int64       `json:"totalSlots"`
	AverageUploadsPerUser float64     `json:"averageUploadsPerUser"`
	PerUser               []UserSlots `json:"perUser"`
}

func (s *Service) Stats(ctx context.Context) (*SlotStats, error) {
	stats := &SlotStats{PerUser: []UserSlots{}}
	seen := map[string]bool{}

	var cursor uint64
	for {
		members, next, err := s.store.ScanSet(ctx, ActiveUsersKey, cursor, 100)
		if err != nil {
			return nil, fmt.Errorf("failed to scan active users: %w", err)
		}
		for _, userID := range members {
			if seen[userID] {
				continue
			}
			seen[userID] = true

			count, err := s.store.GetCounter(ctx, UserSlotsKey(userID))
			if err != nil {
				return nil, fmt.Errorf("failed to read slots for user %v: %w", userID, err)
			}
			if count == 0 {
				continue
			}
			stats.ActiveUsers++
			stats.TotalSlots += count
			stats.PerUser = append(stats.PerUser, UserSlots{UserID: userID, Slots: count})
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}

	if stats.ActiveUsers > 0 {
		stats.AverageUploadsPerUser = float64(stats.TotalSlots) / float64(stats.ActiveUsers)
	}

	activeUsersGauge.Set(float64(stats.ActiveUsers))
	return stats, nil
}

// The operations below are generic single-key primitives. The file lock
// service layers named mutexes on top of them instead of talking to the slot
// store directly.

// SetSlot writes value under key only when the key is free.
func (s *Service) SetSlot(ctx context.Context, key string, value string, ttl time.Duration) (bool, error) {
	return s.store.SetIfAbsent(ctx, key, value, ttl)
}

// ReleaseSlotWithValue deletes key only while it still holds value.
func (s *Service) ReleaseSlotWithValue(ctx context.Context, key string, value string) (bool, error) {
	return s.store.ReleaseIfValue(ctx, key, value)
}

// RefreshSlotWithValue extends key's ttl only while it still holds value.
func (s *Service) RefreshSlotWithValue(ctx context.Context, key string, value string, ttl time.Duration) (bool, error) {
	return s.store.RefreshIfValue(ctx, key, value, ttl)
}

// AdjustCounterWithTTL moves the counter at key by delta, clamped at zero.
func (s *Service) AdjustCounterWithTTL(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	return s.store.AdjustCounterWithFloor(ctx, key, delta, ttl)
}

// SafeDecrementCounter takes one off the counter at key without ever driving
// it negative.
func (s *Service) SafeDecrementCounter(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	return s.store.AdjustCounterWithFloor(ctx, key, -1, ttl)
}

// DeleteKey drops key outright.
func (s *Service) DeleteKey(ctx context.Context, key string) error {
	return s.store.Delete(ctx, key)
}
