package concurrency

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/kontorhq/kontor-backend/slotstore"
)

func newTestService() (*Service, slotstore.Store) {
	store := slotstore.NewMemoryStore()
	svc := NewService(store, Options{
		MaxConcurrentUploads: 5,
		SlotTTL:              time.Minute,
	})
	return svc, store
}

func TestAcquireSequenceAtCeiling(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()

	acq, err := svc.TryAcquireSlot(ctx, "u1", 2, time.Minute)
	require.NoError(t, err)
	assert.True(t, acq.Acquired)
	assert.Equal(t, int64(1), acq.Current)

	acq, err = svc.TryAcquireSlot(ctx, "u1", 2, time.Minute)
	require.NoError(t, err)
	assert.True(t, acq.Acquired)
	assert.Equal(t, int64(2), acq.Current)

	acq, err = svc.TryAcquireSlot(ctx, "u1", 2, time.Minute)
	require.NoError(t, err)
	assert.False(t, acq.Acquired, "third acquire is over the ceiling")
	assert.Equal(t, int64(2), acq.Current, "denied acquire must not leave the counter inflated")

	count, err := svc.CurrentCount(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestAcquireWithZeroCeilingAlwaysDenied(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()

	for _, max := range []int64{0, -1} {
		acq, err := svc.TryAcquireSlot(ctx, "user-1", max, time.Minute)
		require.NoError(t, err)
		assert.False(t, acq.Acquired)
	}

	count, err := svc.CurrentCount(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), count, "a zero ceiling must not touch the counter")
}

func TestTryAcquireSlotConcurrent(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()

	var admitted atomic.Int64
	var denied atomic.Int64
	g := new(errgroup.Group)
	for i := 0; i < 30; i++ {
		g.Go(func() error {
			acq, err := svc.TryAcquireSlot(ctx, "user-1", 5, time.Minute)
			if err != nil {
				return err
			}
			if acq.Acquired {
				admitted.Add(1)
			} else {
				denied.Add(1)
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int64(5), admitted.Load(), "exactly the ceiling must be admitted")
	assert.Equal(t, int64(25), denied.Load())

	count, err := svc.CurrentCount(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), count, "counter must match the number of admitted acquisitions")
}

func TestReleaseSlot(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService()

	for i := 0; i < 2; i++ {
		acq, err := svc.TryAcquireSlot(ctx, "user-1", 5, time.Minute)
		require.NoError(t, err)
		require.True(t, acq.Acquired)
	}

	remaining, err := svc.ReleaseSlot(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), remaining)

	active, err := store.CountSet(ctx, ActiveUsersKey)
	require.NoError(t, err)
	assert.Equal(t, int64(1), active, "user keeps its active set membership while slots remain")

	remaining, err = svc.ReleaseSlot(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), remaining)

	active, err = store.CountSet(ctx, ActiveUsersKey)
	require.NoError(t, err)
	assert.Equal(t, int64(0), active, "releasing the last slot drops the user from the active set")

	// a stray double release must not drive the counter negative
	remaining, err = svc.ReleaseSlot(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), remaining)
}

func TestHeartbeat(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()
	ttl := 60 * time.Millisecond

	err := svc.Heartbeat(ctx, "user-1", ttl)
	assert.ErrorIs(t, err, ErrNoActiveSlot)

	acq, err := svc.TryAcquireSlot(ctx, "user-1", 5, ttl)
	require.NoError(t, err)
	require.True(t, acq.Acquired)

	time.Sleep(40 * time.Millisecond)
	require.NoError(t, svc.Heartbeat(ctx, "user-1", ttl))

	time.Sleep(40 * time.Millisecond)
	count, err := svc.CurrentCount(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count, "heartbeat must keep the slot alive past the original ttl")

	time.Sleep(80 * time.Millisecond)
	count, err = svc.CurrentCount(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), count, "without heartbeats the slot expires")
}

func TestSlotExpiryFreesCapacity(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()
	ttl := 30 * time.Millisecond

	acq, err := svc.TryAcquireSlot(ctx, "user-1", 1, ttl)
	require.NoError(t, err)
	require.True(t, acq.Acquired)

	acq, err = svc.TryAcquireSlot(ctx, "user-1", 1, ttl)
	require.NoError(t, err)
	require.False(t, acq.Acquired)

	time.Sleep(60 * time.Millisecond)

	acq, err = svc.TryAcquireSlot(ctx, "user-1", 1, ttl)
	require.NoError(t, err)
	assert.True(t, acq.Acquired, "an expired counter frees the capacity again")
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	svc, store := newTestService()

	for i := 0; i < 3; i++ {
		userID := fmt.Sprintf("user-%d", i)
		for j := 0; j <= i; j++ {
			acq, err := svc.TryAcquireSlot(ctx, userID, 10, time.Minute)
			require.NoError(t, err)
			require.True(t, acq.Acquired)
		}
	}

	// a user whose counter already expired but who is still in the set
	require.NoError(t, store.AddToSet(ctx, ActiveUsersKey, "stale-user"))

	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.ActiveUsers)
	assert.Equal(t, int64(6), stats.TotalSlots)
	assert.InDelta(t, 2.0, stats.AverageUploadsPerUser, 0.001)
	assert.Len(t, stats.PerUser, 3)

	slots := map[string]int64{}
	for _, row := range stats.PerUser {
		slots[row.UserID] = row.Slots
	}
	assert.Equal(t, int64(1), slots["user-0"])
	assert.Equal(t, int64(2), slots["user-1"])
	assert.Equal(t, int64(3), slots["user-2"])
	assert.NotContains(t, slots, "stale-user")
}

func TestGenericSlotPrimitives(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService()

	ok, err := svc.SetSlot(ctx, "filelock:f1", "token-a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.SetSlot(ctx, "filelock:f1", "token-b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = svc.RefreshSlotWithValue(ctx, "filelock:f1", "token-a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.ReleaseSlotWithValue(ctx, "filelock:f1", "token-b")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = svc.ReleaseSlotWithValue(ctx, "filelock:f1", "token-a")
	require.NoError(t, err)
	assert.True(t, ok)

	value, err := svc.AdjustCounterWithTTL(ctx, "counter:x", 3, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(3), value)

	value, err = svc.SafeDecrementCounter(ctx, "counter:x", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(2), value)

	require.NoError(t, svc.DeleteKey(ctx, "counter:x"))
	value, err = svc.AdjustCounterWithTTL(ctx, "counter:x", 0, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(0), value)
}
