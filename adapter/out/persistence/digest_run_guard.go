package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"digest_server/core/domain"
	"digest_server/pkg/cache"
)

// RunGuardAdapter implements out.RunGuard on Redis. The day guard is a SETNX
// lock keyed by identity and local day, shared by every worker process so a
// user receives at most one digest per day no matter how many workers tick.
type RunGuardAdapter struct {
	cache *cache.RedisCache
}

// NewRunGuardAdapter creates a new RunGuardAdapter.
func NewRunGuardAdapter(redisCache *cache.RedisCache) *RunGuardAdapter {
	return &RunGuardAdapter{cache: redisCache}
}

func dayKey(identity uuid.UUID, localDay string) string {
	return fmt.Sprintf("digest:day:%s:%s", identity.String(), localDay)
}

func lastRunKey(identity uuid.UUID) string {
	return fmt.Sprintf("digest:lastrun:%s", identity.String())
}

// AcquireDay claims the user's daily slot. Returns false when another process
// already holds it.
func (a *RunGuardAdapter) AcquireDay(ctx context.Context, identity uuid.UUID, localDay string, ttl time.Duration) (bool, error) {
	return a.cache.SetNX(ctx, dayKey(identity, localDay), time.Now().UTC().Format(time.RFC3339), ttl)
}

// ReleaseDay frees a claimed slot. Called when the claim did not end in a
// delivered digest; a successful run keeps the key until it expires.
func (a *RunGuardAdapter) ReleaseDay(ctx context.Context, identity uuid.UUID, localDay string) error {
	return a.cache.Delete(ctx, dayKey(identity, localDay))
}

// CacheRun stores the latest successful run for fast stats reads.
func (a *RunGuardAdapter) CacheRun(ctx context.Context, run *domain.DigestRun, ttl time.Duration) error {
	return a.cache.SetJSON(ctx, lastRunKey(run.Identity), run, ttl)
}

// CachedRun returns the cached latest run, or nil on a miss.
func (a *RunGuardAdapter) CachedRun(ctx context.Context, identity uuid.UUID) (*domain.DigestRun, error) {
	var run domain.DigestRun
	found, err := a.cache.GetJSON(ctx, lastRunKey(identity), &run)
	if err != nil || !found {
		return nil, err
	}
	return &run, nil
}
