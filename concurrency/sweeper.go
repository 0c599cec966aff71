package concurrency

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kontorhq/kontor-backend/slotstore"
)

// SweepOptions bounds a single maintenance sweep so it stays low-impact on a
// busy store. Zero values mean unbounded.
type SweepOptions struct {
	// MaxOps caps the number of store operations spent in one sweep.
	MaxOps int
	// MaxRuntime caps the wall time of one sweep.
	MaxRuntime time.Duration
	// PageSize overrides the SSCAN page size.
	PageSize int64
}

// SweepResult reports what one sweep did and why it stopped. StopReason is
// one of complete, budget_ops, budget_runtime or cancelled.
type SweepResult struct {
	Scanned    int
	Removed    int
	Ops        int
	StopReason string
}

type sweepBudget struct {
	start      time.Time
	maxOps     int
	maxRuntime time.Duration
	ops        int
	stopReason string
}

func newSweepBudget(opts SweepOptions) *sweepBudget {
	return &sweepBudget{
		start:      time.Now(),
		maxOps:     opts.MaxOps,
		maxRuntime: opts.MaxRuntime,
	}
}

func (b *sweepBudget) allowed() bool {
	if b.maxOps > 0 && b.ops >= b.maxOps {
		b.setStopReason("budget_ops")
		return false
	}
	if b.maxRuntime > 0 && time.Since(b.start) >= b.maxRuntime {
		b.setStopReason("budget_runtime")
		return false
	}
	return true
}

func (b *sweepBudget) consume() bool {
	b.ops++
	return b.allowed()
}

func (b *sweepBudget) stopResult() string {
	if b.stopReason == "" {
		return "complete"
	}
	return b.stopReason
}

func (b *sweepBudget) setStopReason(reason string) {
	if reason == "" || b.stopReason != "" {
		return
	}
	b.stopReason = reason
}

// Sweeper prunes users from the active set once their slot counters have
// expired. Slot counters go away on their own via ttl, the set is the only
// piece that needs explicit maintenance.
type Sweeper struct {
	store    slotstore.Store
	pageSize int64
}

func NewSweeper(store slotstore.Store, pageSize int64) *Sweeper {
	if pageSize <= 0 {
		pageSize = 100
	}
	return &Sweeper{store: store, pageSize: pageSize}
}

// Sweep walks the active users set one SSCAN page at a time and removes every
// user whose slot counter reads zero. Set members may repeat under concurrent
// churn, removal is idempotent so repeats are harmless.
func (s *Sweeper) Sweep(ctx context.Context, opts SweepOptions) (result SweepResult, err error) {
	budget := newSweepBudget(opts)

	defer func() {
		result.Ops = budget.ops
		result.StopReason = budget.stopResult()
		sweepDuration.Observe(time.Since(budget.start).Seconds())
		sweepRuns.WithLabelValues(result.StopReason).Inc()
		if result.StopReason == "complete" {
			activeUsersGauge.Set(float64(result.Scanned - result.Removed))
		}
	}()

	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = s.pageSize
	}

	var cursor uint64
	for {
		if err := ctx.Err(); err != nil {
			budget.setStopReason("cancelled")
			return result, err
		}

		members, next, err := s.store.ScanSet(ctx, ActiveUsersKey, cursor, pageSize)
		if err != nil {
			budget.setStopReason("error")
			return result, fmt.Errorf("failed to scan active users: %w", err)
		}
		if !budget.consume() {
			return result, nil
		}

		for _, userID := range members {
			result.Scanned++

			count, err := s.store.GetCounter(ctx, UserSlotsKey(userID))
			if err != nil {
				budget.setStopReason("error")
				return result, fmt.Errorf("failed to read slots for user %v: %w", userID, err)
			}
			if !budget.consume() {
				return result, nil
			}

			if count > 0 {
				continue
			}

			if err := s.store.RemoveFromSet(ctx, ActiveUsersKey, userID); err != nil {
				budget.setStopReason("error")
				return result, fmt.Errorf("failed to remove stale user %v: %w", userID, err)
			}

			// a slot acquired between the counter read and the removal must
			// not lose its active-set entry
			count, err = s.store.GetCounter(ctx, UserSlotsKey(userID))
			if err != nil {
				budget.setStopReason("error")
				return result, fmt.Errorf("failed to re-check slots for user %v: %w", userID, err)
			}
			if count > 0 {
				if err := s.store.AddToSet(ctx, ActiveUsersKey, userID); err != nil {
					budget.setStopReason("error")
					return result, fmt.Errorf("failed to restore active user %v: %w", userID, err)
				}
				continue
			}
			result.Removed++
			sweepRemoved.Inc()
			slog.Debug("pruned stale user from active set", "userId", userID)
			if !budget.consume() {
				return result, nil
			}
		}

		cursor = next
		if cursor == 0 {
			return result, nil
		}
	}
}
