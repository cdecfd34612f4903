package guardian

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hystdevtv/pear/internal/blob"
)

// LockdownStore persists the emergency flag. Get returns nil when no
// lockdown is recorded.
type LockdownStore interface {
	Get(ctx context.Context) (*Lockdown, error)
	Set(ctx context.Context, l Lockdown) error
	Clear(ctx context.Context) error
}

// DefaultLockdownKey is the blob key of the lockdown document.
const DefaultLockdownKey = "guardian/lockdown.json"

// BlobLockdownStore keeps the flag as a JSON document in the blob namespace.
type BlobLockdownStore struct {
	blobs blob.Store
	key   string
}

// NewBlobLockdownStore stores the flag under key, or DefaultLockdownKey when empty.
func NewBlobLockdownStore(blobs blob.Store, key string) *BlobLockdownStore {
	if key == "" {
		key = DefaultLockdownKey
	}
	return &BlobLockdownStore{blobs: blobs, key: key}
}

func (s *BlobLockdownStore) Get(ctx context.Context) (*Lockdown, error) {
	data, err := s.blobs.Get(ctx, s.key)
	if err != nil {
		if errors.Is(err, blob.ErrObjectNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("read lockdown: %w", err)
	}
	return decodeLockdown(data)
}

func (s *BlobLockdownStore) Set(ctx context.Context, l Lockdown) error {
	data, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return fmt.Errorf("encode lockdown: %w", err)
	}
	if err := s.blobs.Put(ctx, s.key, "application/json", data); err != nil {
		return fmt.Errorf("write lockdown: %w", err)
	}
	return nil
}

func (s *BlobLockdownStore) Clear(ctx context.Context) error {
	if err := s.blobs.Delete(ctx, s.key); err != nil {
		return fmt.Errorf("clear lockdown: %w", err)
	}
	return nil
}

const redisLockdownKey = "pear:guardian:lockdown"

// RedisLockdownStore keeps the flag under one key. The key carries a TTL a
// little past the unlock time so a crashed process cannot leave it behind.
type RedisLockdownStore struct {
	rdb redis.Cmdable
	key string
	now func() time.Time
}

// NewRedisLockdownStore accepts any go-redis client, cluster or ring.
func NewRedisLockdownStore(rdb redis.Cmdable) *RedisLockdownStore {
	return &RedisLockdownStore{rdb: rdb, key: redisLockdownKey, now: time.Now}
}

func (s *RedisLockdownStore) Get(ctx context.Context) (*Lockdown, error) {
	data, err := s.rdb.Get(ctx, s.key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("lockdown GET: %w", err)
	}
	return decodeLockdown(data)
}

func (s *RedisLockdownStore) Set(ctx context.Context, l Lockdown) error {
	data, err := json.Marshal(l)
	if err != nil {
		return fmt.Errorf("encode lockdown: %w", err)
	}
	if err := s.rdb.Set(ctx, s.key, data, lockdownTTL(l.UnlockAt, s.now())).Err(); err != nil {
		return fmt.Errorf("lockdown SET: %w", err)
	}
	return nil
}

func (s *RedisLockdownStore) Clear(ctx context.Context) error {
	if err := s.rdb.Del(ctx, s.key).Err(); err != nil {
		return fmt.Errorf("lockdown DEL: %w", err)
	}
	return nil
}

// lockdownTTL keeps the key one minute past unlockAt, and never less than a
// minute.
func lockdownTTL(unlockAt, now time.Time) time.Duration {
	ttl := unlockAt.Sub(now) + time.Minute
	if ttl < time.Minute {
		ttl = time.Minute
	}
	return ttl
}

func decodeLockdown(data []byte) (*Lockdown, error) {
	var l Lockdown
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("decode lockdown: %w", err)
	}
	return &l, nil
}
