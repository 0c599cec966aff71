package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// RevokedTokenSource supplies the active revoked jti list, models.Database
// implements it.
type RevokedTokenSource interface {
	GetActiveRevokedJTIs() ([]string, error)
}

type revokedSnapshot struct {
	jtis        map[string]struct{}
	refreshedAt time.Time
}

// RevokedTokenCache keeps the revoked token ids in memory so request auth
// never waits on the database. Refresh swaps the whole snapshot atomically,
// readers only ever see a complete set.
type RevokedTokenCache struct {
	source   RevokedTokenSource
	snapshot atomic.Pointer[revokedSnapshot]
}

func NewRevokedTokenCache(source RevokedTokenSource) *RevokedTokenCache {
	cache := &RevokedTokenCache{source: source}
	cache.snapshot.Store(&revokedSnapshot{jtis: map[string]struct{}{}})
	return cache
}

func (c *RevokedTokenCache) Refresh() error {
	jtis, err := c.source.GetActiveRevokedJTIs()
	if err != nil {
		return fmt.Errorf("failed to refresh revoked token cache: %w", err)
	}

	snapshot := &revokedSnapshot{
		jtis:        make(map[string]struct{}, len(jtis)),
		refreshedAt: time.Now(),
	}
	for _, jti := range jtis {
		snapshot.jtis[jti] = struct{}{}
	}
	c.snapshot.Store(snapshot)

	slog.Debug("revoked token cache refreshed", "count", len(jtis))
	return nil
}

func (c *RevokedTokenCache) IsRevoked(jti string) bool {
	if jti == "" {
		return false
	}
	snapshot := c.snapshot.Load()
	_, revoked := snapshot.jtis[jti]
	return revoked
}

// Stats returns the snapshot size and the time it was loaded. A zero time
// means Refresh has never succeeded.
func (c *RevokedTokenCache) Stats() (int, time.Time) {
	snapshot := c.snapshot.Load()
	return len(snapshot.jtis), snapshot.refreshedAt
}

// RunPeriodicRefresh refreshes the cache on a fixed interval until the
// context is cancelled. Failures keep the previous snapshot.
func (c *RevokedTokenCache) RunPeriodicRefresh(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Refresh(); err != nil {
				slog.Error("periodic revoked token refresh failed", "error", err)
			}
		}
	}
}
