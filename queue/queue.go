package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kontorhq/kontor-backend/config"
)

// ErrDispatchFailed is returned when a job could not be handed to the queue.
// Callers treat it as a dispatch failure distinct from infrastructure errors
// on the slot store, the two backends can fail independently.
var ErrDispatchFailed = errors.New("job dispatch failed")

// Job is one unit of background work for the processing workers. Name selects
// the worker, Payload carries its arguments. Lower Priority values are
// dequeued first, equal priorities keep enqueue order.
type Job struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Payload    map[string]any `json:"payload"`
	Priority   int            `json:"priority"`
	EnqueuedAt time.Time      `json:"enqueuedAt"`
}

// EnqueueResult reports the outcome of an Enqueue call. AlreadyQueued is true
// when a job with the same id was enqueued before, re-enqueueing the same id
// is a safe no-op.
type EnqueueResult struct {
	JobID         string
	AlreadyQueued bool
}

// Dispatcher hands jobs to the background processing queue.
type Dispatcher interface {
	// Enqueue adds the job unless a job with the same id already exists.
	Enqueue(ctx context.Context, job Job) (EnqueueResult, error)

	// Remove takes a not-yet-consumed job back out of the queue. Returns
	// false when there was nothing to remove.
	Remove(ctx context.Context, jobID string) (bool, error)

	// Complete applies the completion retention policy to the job record.
	Complete(ctx context.Context, jobID string) error

	// Fail applies the failure retention policy to the job record.
	Fail(ctx context.Context, jobID string) error

	// Pending returns the number of jobs waiting to be consumed.
	Pending(ctx context.Context) (int64, error)
}

// Options control key layout and job retention.
type Options struct {
	// KeyPrefix namespaces all queue keys, e.g. "bulkjobs".
	KeyPrefix string
	// RemoveOnComplete drops the job record as soon as it completes.
	RemoveOnComplete bool
	// RemoveOnFail drops the job record when it fails. Off by default so
	// failures stay inspectable.
	RemoveOnFail bool
	// CompletedJobTTL bounds how long completed job records are retained
	// when RemoveOnComplete is off.
	CompletedJobTTL time.Duration
}

func (o Options) withDefaults() Options {
	if o.KeyPrefix == "" {
		o.KeyPrefix = "bulkjobs"
	}
	if o.CompletedJobTTL <= 0 {
		o.CompletedJobTTL = 24 * time.Hour
	}
	return o
}

// NewFromConfig builds the dispatcher selected by queue.dispatcher.
func NewFromConfig(cfg *config.Config) (Dispatcher, error) {
	opts := Options{
		KeyPrefix:        cfg.Queue.KeyPrefix,
		RemoveOnComplete: cfg.Queue.RemoveOnComplete,
		RemoveOnFail:     cfg.Queue.RemoveOnFail,
		CompletedJobTTL:  cfg.Queue.CompletedJobTTL,
	}

	switch cfg.Queue.Dispatcher {
	case "memory":
		slog.Info("using in-memory job queue, jobs will not survive restarts")
		return NewMemoryDispatcher(opts), nil
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
			slog.Warn("could not ping redis job queue", "addr", cfg.Redis.Addr, "error", err)
		}
		return NewRedisDispatcher(client, opts), nil
	default:
		return nil, fmt.Errorf("unknown queue dispatcher type: %v", cfg.Queue.Dispatcher)
	}
}
