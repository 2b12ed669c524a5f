package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/redis/go-redis/v9"
)

// DefaultRedisKeyPrefix is prepended to session IDs to form Redis keys.
const DefaultRedisKeyPrefix = "govbr:session:"

// RedisBackend stores CBOR-encoded session records in Redis with a TTL
// matching each record's expiry.
type RedisBackend struct {
	client *redis.Client
	prefix string
}

// NewRedisBackend creates a RedisBackend. An empty prefix selects
// DefaultRedisKeyPrefix.
func NewRedisBackend(client *redis.Client, prefix string) (*RedisBackend, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if prefix == "" {
		prefix = DefaultRedisKeyPrefix
	}
	return &RedisBackend{client: client, prefix: prefix}, nil
}

func (b *RedisBackend) key(id string) string {
	return b.prefix + id
}

func (b *RedisBackend) Load(ctx context.Context, id string) (*Record, error) {
	val, err := b.client.Get(ctx, b.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("session: redis get: %w", err)
	}
	var rec Record
	if err := cbor.Unmarshal(val, &rec); err != nil {
		// An undecodable record is unusable; drop it and start over.
		b.client.Del(ctx, b.key(id))
		return nil, nil
	}
	if rec.ID != id || rec.Expired(time.Now()) {
		return nil, nil
	}
	return &rec, nil
}

func (b *RedisBackend) Save(ctx context.Context, rec *Record) error {
	ttl := time.Until(rec.Expires)
	if ttl <= 0 {
		return b.Delete(ctx, rec.ID)
	}
	data, err := cbor.Marshal(rec)
	if err != nil {
		return fmt.Errorf("session: marshal: %w", err)
	}
	if err := b.client.Set(ctx, b.key(rec.ID), data, ttl).Err(); err != nil {
		return fmt.Errorf("session: redis set: %w", err)
	}
	return nil
}

func (b *RedisBackend) Delete(ctx context.Context, id string) error {
	if err := b.client.Del(ctx, b.key(id)).Err(); err != nil {
		return fmt.Errorf("session: redis del: %w", err)
	}
	return nil
}

var _ Backend = (*RedisBackend)(nil)
