package guardian

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/hystdevtv/pear/internal/casestore"
)

const volumeWindow = time.Hour

// VolumeStats counts inbound deposits over the last minute and hour.
type VolumeStats struct {
	LastMinute int
	LastHour   int
	PerSender  map[string]int
}

// VolumeCounter records inbound deposits and reports recent volume.
type VolumeCounter interface {
	Record(ctx context.Context, sender string, at time.Time) error
	Stats(ctx context.Context, now time.Time) (VolumeStats, error)
}

type deposit struct {
	sender string
	at     time.Time
}

// MemoryCounter keeps the last hour of deposits in process memory.
type MemoryCounter struct {
	mu       sync.Mutex
	deposits []deposit
}

// NewMemoryCounter returns an empty process-local counter.
func NewMemoryCounter() *MemoryCounter {
	return &MemoryCounter{}
}

func (c *MemoryCounter) Record(_ context.Context, sender string, at time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prune(at)
	c.deposits = append(c.deposits, deposit{sender: casestore.NormalizeAddress(sender), at: at})
	return nil
}

func (c *MemoryCounter) Stats(_ context.Context, now time.Time) (VolumeStats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prune(now)

	stats := VolumeStats{PerSender: map[string]int{}}
	for _, d := range c.deposits {
		if d.at.After(now) {
			continue
		}
		stats.LastHour++
		if now.Sub(d.at) <= time.Minute {
			stats.LastMinute++
		}
		if d.sender != "" {
			stats.PerSender[d.sender]++
		}
	}
	return stats, nil
}

func (c *MemoryCounter) prune(now time.Time) {
	cutoff := now.Add(-volumeWindow)
	kept := c.deposits[:0]
	for _, d := range c.deposits {
		if !d.at.Before(cutoff) {
			kept = append(kept, d)
		}
	}
	c.deposits = kept
}

const redisVolumeKey = "pear:guardian:volume"

// RedisCounter shares deposit counts between processes through a sorted set
// scored by deposit time in milliseconds. Members are "<id>|<sender>".
type RedisCounter struct {
	rdb redis.Cmdable
	key string
}

// NewRedisCounter accepts any go-redis client.
func NewRedisCounter(rdb redis.Cmdable) *RedisCounter {
	return &RedisCounter{rdb: rdb, key: redisVolumeKey}
}

func (c *RedisCounter) Record(ctx context.Context, sender string, at time.Time) error {
	member := uuid.NewString() + "|" + casestore.NormalizeAddress(sender)
	cutoff := strconv.FormatInt(at.Add(-volumeWindow).UnixMilli(), 10)

	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, c.key, redis.Z{Score: float64(at.UnixMilli()), Member: member})
		pipe.ZRemRangeByScore(ctx, c.key, "-inf", "("+cutoff)
		pipe.Expire(ctx, c.key, 2*volumeWindow)
		return nil
	})
	if err != nil {
		return fmt.Errorf("volume ZADD: %w", err)
	}
	return nil
}

func (c *RedisCounter) Stats(ctx context.Context, now time.Time) (VolumeStats, error) {
	entries, err := c.rdb.ZRangeByScoreWithScores(ctx, c.key, &redis.ZRangeBy{
		Min: strconv.FormatInt(now.Add(-volumeWindow).UnixMilli(), 10),
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return VolumeStats{}, fmt.Errorf("volume ZRANGEBYSCORE: %w", err)
	}

	minuteAgo := float64(now.Add(-time.Minute).UnixMilli())
	stats := VolumeStats{PerSender: map[string]int{}}
	for _, z := range entries {
		stats.LastHour++
		if z.Score >= minuteAgo {
			stats.LastMinute++
		}
		member, _ := z.Member.(string)
		if _, sender, ok := strings.Cut(member, "|"); ok && sender != "" {
			stats.PerSender[sender]++
		}
	}
	return stats, nil
}
