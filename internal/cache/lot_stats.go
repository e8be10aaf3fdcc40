package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/nando3d2000/parking-project-backend/internal/domain"
)

const lotStatsKeyPrefix = "parking:lot-stats:"

// LotStatsCache keeps computed lot statistics in Redis for a short TTL.
// Every failure is treated as a miss; the database stays authoritative.
type LotStatsCache struct {
	rdb *redis.Client
	ttl time.Duration
	log zerolog.Logger
}

func NewLotStatsCache(rdb *redis.Client, ttl time.Duration, log zerolog.Logger) *LotStatsCache {
	return &LotStatsCache{rdb: rdb, ttl: ttl, log: log}
}

// NewRedisClient connects and pings the configured server.
func NewRedisClient(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return rdb, nil
}

func lotStatsKey(lotID int) string {
	return fmt.Sprintf("%s%d", lotStatsKeyPrefix, lotID)
}

func (c *LotStatsCache) GetLotStats(ctx context.Context, lotID int) (*domain.LotStats, bool) {
	val, err := c.rdb.Get(ctx, lotStatsKey(lotID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.log.Warn().Err(err).Int("lotId", lotID).Msg("lot stats cache read failed")
		}
		return nil, false
	}
	var stats domain.LotStats
	if err := json.Unmarshal(val, &stats); err != nil {
		return nil, false
	}
	return &stats, true
}

func (c *LotStatsCache) SetLotStats(ctx context.Context, stats domain.LotStats) {
	if c.ttl <= 0 {
		return
	}
	data, err := json.Marshal(stats)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, lotStatsKey(stats.LotID), data, c.ttl).Err(); err != nil {
		c.log.Warn().Err(err).Int("lotId", stats.LotID).Msg("lot stats cache write failed")
	}
}

func (c *LotStatsCache) InvalidateLotStats(ctx context.Context, lotIDs ...int) {
	if len(lotIDs) == 0 {
		return
	}
	keys := make([]string, 0, len(lotIDs))
	for _, id := range lotIDs {
		keys = append(keys, lotStatsKey(id))
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		c.log.Warn().Err(err).Ints("lotIds", lotIDs).Msg("lot stats cache invalidation failed")
	}
}
