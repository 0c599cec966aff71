package filelock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/kontorhq/kontor-backend/concurrency"
)

// ErrLockBusy is returned when the lock could not be acquired before the
// acquire timeout ran out. It maps to a retryable conflict, not a failure of
// the locking infrastructure.
var ErrLockBusy = errors.New("file lock busy")

var (
	locksAcquired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kontor_file_locks_acquired_total",
		Help: "File locks successfully acquired",
	})

	locksBusy = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kontor_file_locks_busy_total",
		Help: "Acquisitions given up because the lock stayed busy",
	})

	locksLost = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kontor_file_locks_lost_total",
		Help: "Releases that found the lock expired or taken over",
	})

	lockWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "kontor_file_lock_wait_seconds",
		Help:    "Time spent waiting for a file lock, successful or not",
		Buckets: prometheus.DefBuckets,
	})
)

// LockKey returns the store key guarding one file.
func LockKey(fileID string) string {
	return fmt.Sprintf("filelock:%v", fileID)
}

type Options struct {
	// LockTTL bounds how long a crashed holder can block others.
	LockTTL time.Duration
	// AcquireTimeout bounds how long Acquire keeps retrying. Zero means a
	// single attempt.
	AcquireTimeout time.Duration
	// RetryDelay is the pause between attempts.
	RetryDelay time.Duration
}

// Service hands out named mutexes on top of the concurrency service's
// compare-and-set slot primitives. Every lock is owned by a random token, a
// holder can only release or refresh what it still owns.
type Service struct {
	slots *concurrency.Service
	opts  Options
}

func NewService(slots *concurrency.Service, opts Options) *Service {
	if opts.LockTTL <= 0 {
		opts.LockTTL = 5 * time.Minute
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 250 * time.Millisecond
	}
	return &Service{slots: slots, opts: opts}
}

// Lock is a held file lock. Release and Refresh act only while the store
// still carries this lock's token.
type Lock struct {
	svc      *Service
	fileID   string
	key      string
	token    string
	ttl      time.Duration
	released atomic.Bool
}

// Acquire takes the lock for fileID with the service defaults, retrying
// every RetryDelay until AcquireTimeout is spent. Returns ErrLockBusy when
// someone else kept the lock the whole time.
func (s *Service) Acquire(ctx context.Context, fileID string) (*Lock, error) {
	return s.AcquireWithOptions(ctx, fileID, s.opts)
}

// AcquireWithOptions is Acquire with per-call overrides. Zero fields fall
// back to the service defaults.
func (s *Service) AcquireWithOptions(ctx context.Context, fileID string, opts Options) (*Lock, error) {
	opts = s.withDefaults(opts)
	key := LockKey(fileID)
	token := uuid.NewString()
	start := time.Now()
	deadline := start.Add(opts.AcquireTimeout)

	for {
		ok, err := s.slots.SetSlot(ctx, key, token, opts.LockTTL)
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lock for file %v: %w", fileID, err)
		}
		if ok {
			locksAcquired.Inc()
			lockWaitSeconds.Observe(time.Since(start).Seconds())
			return &Lock{svc: s, fileID: fileID, key: key, token: token, ttl: opts.LockTTL}, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			locksBusy.Inc()
			lockWaitSeconds.Observe(time.Since(start).Seconds())
			return nil, fmt.Errorf("file %v: %w", fileID, ErrLockBusy)
		}

		// never sleep past the deadline
		delay := opts.RetryDelay
		if delay > remaining {
			delay = remaining
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
}

func (s *Service) withDefaults(opts Options) Options {
	if opts.LockTTL <= 0 {
		opts.LockTTL = s.opts.LockTTL
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = s.opts.RetryDelay
	}
	return opts
}

// Release gives the lock back. When the lock already expired and was taken
// over by someone else the release is refused by the store and only logged,
// the new holder keeps its lock untouched.
func (l *Lock) Release(ctx context.Context) error {
	if !l.released.CompareAndSwap(false, true) {
		return nil
	}

	ok, err := l.svc.slots.ReleaseSlotWithValue(ctx, l.key, l.token)
	if err != nil {
		return fmt.Errorf("failed to release lock for file %v: %w", l.fileID, err)
	}
	if !ok {
		locksLost.Inc()
		slog.Warn("file lock expired or was taken over before release", "fileId", l.fileID)
	}
	return nil
}

// Refresh extends the lock ttl while a long operation is still running.
// Returns false when the lock is no longer held by this token.
func (l *Lock) Refresh(ctx context.Context) (bool, error) {
	if l.released.Load() {
		return false, nil
	}
	ok, err := l.svc.slots.RefreshSlotWithValue(ctx, l.key, l.token, l.ttl)
	if err != nil {
		return false, fmt.Errorf("failed to refresh lock for file %v: %w", l.fileID, err)
	}
	return ok, nil
}

// WithFileLock runs fn while holding the lock for fileID and releases it on
// the way out, also when fn returns an error or panics. The release uses a
// detached context so a caller cancellation cannot leave the lock dangling
// until its ttl.
func (s *Service) WithFileLock(ctx context.Context, fileID string, fn func(ctx context.Context) error) error {
	return s.WithFileLockOptions(ctx, fileID, s.opts, fn)
}

// WithFileLockOptions is WithFileLock with per-call ttl and wait overrides,
// for callers whose critical sections do not fit the configured defaults.
func (s *Service) WithFileLockOptions(ctx context.Context, fileID string, opts Options, fn func(ctx context.Context) error) error {
	lock, err := s.AcquireWithOptions(ctx, fileID, opts)
	if err != nil {
		return err
	}
	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			slog.Error("failed to release file lock", "fileId", fileID, "error", err)
		}
	}()

	return fn(ctx)
}
