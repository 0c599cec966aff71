package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// The enqueue script guards the job record with an existence check and only
// then scores it into the waiting set, all in one atomic step. The score
// packs (priority, sequence) into one number so the waiting set pops lower
// priorities first and keeps enqueue order within a priority.
var enqueueScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
	return 0
end
redis.call("SET", KEYS[1], ARGV[1])
local seq = redis.call("INCR", KEYS[3])
local score = tonumber(ARGV[2]) * 4294967296 + seq
redis.call("ZADD", KEYS[2], score, ARGV[3])
return 1`)

// removeScript drops a job only while it is still waiting, a record that a
// worker already picked up is left alone.
var removeScript = redis.NewScript(`
local removed = redis.call("ZREM", KEYS[2], ARGV[1])
if removed == 1 then
	redis.call("DEL", KEYS[1])
end
return removed`)

// RedisDispatcher implements Dispatcher on a single redis instance.
type RedisDispatcher struct {
	client redis.UniversalClient
	opts   Options
}

func NewRedisDispatcher(client redis.UniversalClient, opts Options) *RedisDispatcher {
	return &RedisDispatcher{client: client, opts: opts.withDefaults()}
}

func (d *RedisDispatcher) jobKey(jobID string) string {
	return fmt.Sprintf("%s:job:%s", d.opts.KeyPrefix, jobID)
}

func (d *RedisDispatcher) waitingKey() string {
	return d.opts.KeyPrefix + ":waiting"
}

func (d *RedisDispatcher) seqKey() string {
	return d.opts.KeyPrefix + ":seq"
}

func (d *RedisDispatcher) Enqueue(ctx context.Context, job Job) (EnqueueResult, error) {
	if job.ID == "" {
		return EnqueueResult{}, fmt.Errorf("%w: job id is empty", ErrDispatchFailed)
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return EnqueueResult{}, fmt.Errorf("%w: could not encode job %v: %v", ErrDispatchFailed, job.ID, err)
	}

	keys := []string{d.jobKey(job.ID), d.waitingKey(), d.seqKey()}
	added, err := enqueueScript.Run(ctx, d.client, keys, payload, job.Priority, job.ID).Int64()
	if err != nil {
		return EnqueueResult{}, fmt.Errorf("%w: could not enqueue job %v: %v", ErrDispatchFailed, job.ID, err)
	}

	if added == 0 {
		jobsDuplicate.Inc()
		return EnqueueResult{JobID: job.ID, AlreadyQueued: true}, nil
	}
	jobsEnqueued.WithLabelValues(job.Name).Inc()
	return EnqueueResult{JobID: job.ID}, nil
}

func (d *RedisDispatcher) Remove(ctx context.Context, jobID string) (bool, error) {
	removed, err := removeScript.Run(ctx, d.client, []string{d.jobKey(jobID), d.waitingKey()}, jobID).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: could not remove job %v: %v", ErrDispatchFailed, jobID, err)
	}
	return removed == 1, nil
}

func (d *RedisDispatcher) Complete(ctx context.Context, jobID string) error {
	jobsCompleted.Inc()
	if d.opts.RemoveOnComplete {
		if err := d.client.Del(ctx, d.jobKey(jobID)).Err(); err != nil {
			return fmt.Errorf("%w: could not drop completed job %v: %v", ErrDispatchFailed, jobID, err)
		}
		return nil
	}
	// keep the record around for inspection, bounded by the retention ttl
	if err := d.client.PExpire(ctx, d.jobKey(jobID), d.opts.CompletedJobTTL).Err(); err != nil {
		return fmt.Errorf("%w: could not expire completed job %v: %v", ErrDispatchFailed, jobID, err)
	}
	return nil
}

func (d *RedisDispatcher) Fail(ctx context.Context, jobID string) error {
	jobsFailed.Inc()
	if d.opts.RemoveOnFail {
		if err := d.client.Del(ctx, d.jobKey(jobID)).Err(); err != nil {
			return fmt.Errorf("%w: could not drop failed job %v: %v", ErrDispatchFailed, jobID, err)
		}
	}
	// failed records are retained without a ttl so they stay inspectable
	return nil
}

func (d *RedisDispatcher) Pending(ctx context.Context) (int64, error) {
	pending, err := d.client.ZCard(ctx, d.waitingKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: could not count waiting jobs: %v", ErrDispatchFailed, err)
	}
	return pending, nil
}
