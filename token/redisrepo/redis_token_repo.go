// Package redisrepo stores session tokens in Redis so several processes can share one
// session. Keys are namespaced with a prefix and expire through Redis TTLs. Pairs are
// read with MGET and written in a MULTI/EXEC transaction.
package redisrepo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jrsteele09/classics-portal/token"
	"github.com/redis/go-redis/v9"
)

const DefaultKeyPrefix = "classics:session:"

var _ token.BatchRepo = (*RedisTokenRepo)(nil)

type storedItem struct {
	Value     string     `json:"value"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

type RedisTokenRepo struct {
	client    redis.UniversalClient
	keyPrefix string
	nowFunc   func() time.Time
}

type Option func(*RedisTokenRepo)

func WithKeyPrefix(prefix string) Option {
	return func(r *RedisTokenRepo) {
		if prefix != "" {
			r.keyPrefix = prefix
		}
	}
}

// WithNowFunc sets the clock used to stamp expiries (primarily for testing)
func WithNowFunc(now func() time.Time) Option {
	return func(r *RedisTokenRepo) {
		r.nowFunc = now
	}
}

func New(client redis.UniversalClient, options ...Option) (*RedisTokenRepo, error) {
	if client == nil {
		return nil, errors.New("[RedisTokenRepo New] redis client is required")
	}
	r := &RedisTokenRepo{
		client:    client,
		keyPrefix: DefaultKeyPrefix,
		nowFunc:   time.Now,
	}
	for _, opt := range options {
		opt(r)
	}
	return r, nil
}

func (r *RedisTokenRepo) Get(ctx context.Context, key string) (*token.Item, error) {
	data, err := r.client.Get(ctx, r.keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("[RedisTokenRepo Get] %s: %w", key, err)
	}
	return r.decode(ctx, key, data)
}

// GetMany reads keys with a single MGET.
func (r *RedisTokenRepo) GetMany(ctx context.Context, keys []string) ([]*token.Item, error) {
	prefixed := make([]string, len(keys))
	for i, key := range keys {
		prefixed[i] = r.keyPrefix + key
	}
	values, err := r.client.MGet(ctx, prefixed...).Result()
	if err != nil {
		return nil, fmt.Errorf("[RedisTokenRepo GetMany] %w", err)
	}

	items := make([]*token.Item, len(keys))
	for i, value := range values {
		data, ok := value.(string)
		if !ok {
			continue
		}
		if items[i], err = r.decode(ctx, keys[i], []byte(data)); err != nil {
			return nil, err
		}
	}
	return items, nil
}

func (r *RedisTokenRepo) decode(ctx context.Context, key string, data []byte) (*token.Item, error) {
	var stored storedItem
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("[RedisTokenRepo Get] decode %s: %w", key, err)
	}

	item := &token.Item{Value: stored.Value, ExpiresAt: stored.ExpiresAt}
	if item.IsExpired(r.nowFunc()) {
		if err := r.client.Del(ctx, r.keyPrefix+key).Err(); err != nil {
			return nil, fmt.Errorf("[RedisTokenRepo Get] expire %s: %w", key, err)
		}
		return nil, nil
	}
	return item, nil
}

func (r *RedisTokenRepo) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	data, err := r.encode(value, ttl)
	if err != nil {
		return fmt.Errorf("[RedisTokenRepo Set] encode %s: %w", key, err)
	}
	if err := r.client.Set(ctx, r.keyPrefix+key, data, ttl).Err(); err != nil {
		return fmt.Errorf("[RedisTokenRepo Set] %s: %w", key, err)
	}
	return nil
}

// Apply runs every write in one MULTI/EXEC transaction.
func (r *RedisTokenRepo) Apply(ctx context.Context, writes []token.Write) error {
	payloads := make([][]byte, len(writes))
	for i, w := range writes {
		if w.Value == "" {
			continue
		}
		data, err := r.encode(w.Value, w.TTL)
		if err != nil {
			return fmt.Errorf("[RedisTokenRepo Apply] encode %s: %w", w.Key, err)
		}
		payloads[i] = data
	}

	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, w := range writes {
			if w.Value == "" {
				pipe.Del(ctx, r.keyPrefix+w.Key)
				continue
			}
			pipe.Set(ctx, r.keyPrefix+w.Key, payloads[i], w.TTL)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("[RedisTokenRepo Apply] %w", err)
	}
	return nil
}

func (r *RedisTokenRepo) encode(value string, ttl time.Duration) ([]byte, error) {
	stored := storedItem{Value: value}
	if ttl > 0 {
		expiresAt := r.nowFunc().Add(ttl).UTC()
		stored.ExpiresAt = &expiresAt
	}
	return json.Marshal(stored)
}

func (r *RedisTokenRepo) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.keyPrefix+key).Err(); err != nil {
		return fmt.Errorf("[RedisTokenRepo Delete] %s: %w", key, err)
	}
	return nil
}
