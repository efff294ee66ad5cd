package dispatch

import (
	"context"
	"time"

	"voicecampaign-platform/pkg/logger"
	"voicecampaign-platform/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// RedisSlotGuard implements SlotGuard on the shared Redis dial-slot counter.
// The TTL keeps a crashed process from leaking slots forever.
type RedisSlotGuard struct {
	rdb *redis.Client
	cap int
	ttl time.Duration
}

func NewRedisSlotGuard(rdb *redis.Client, capacity int, ttl time.Duration) *RedisSlotGuard {
	return &RedisSlotGuard{rdb: rdb, cap: capacity, ttl: ttl}
}

func (g *RedisSlotGuard) Acquire(ctx context.Context, workspaceID string) (bool, error) {
	return utils.AcquireDialSlot(ctx, g.rdb, utils.DialSlotKey(workspaceID), g.cap, g.ttl)
}

func (g *RedisSlotGuard) Release(ctx context.Context, workspaceID string) {
	if err := utils.ReleaseDialSlot(ctx, g.rdb, utils.DialSlotKey(workspaceID)); err != nil {
		logger.From(ctx).Warn("dial slot release failed", "workspace_id", workspaceID, "err", err)
	}
}
