package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
)

// RedisTier implements the persistent cache tier on Redis, for deployments
// where several pipeline processes share one cache. Redis evicts on TTL
// itself, so DeleteExpired is a no-op here.
type RedisTier struct {
	client *redis.Client
}

// NewRedisTier connects to Redis and verifies the connection.
func NewRedisTier(ctx context.Context, addr, password string, dbNum int) (*RedisTier, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       dbNum,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, eris.Wrapf(err, "cache: redis ping %s", addr)
	}
	return &RedisTier{client: client}, nil
}

func redisKey(namespace, key string) string { return "kgdb:cache:" + namespace + ":" + key }

func (t *RedisTier) Get(ctx context.Context, namespace, key string) ([]byte, time.Time, bool, error) {
	pipe := t.client.Pipeline()
	getCmd := pipe.Get(ctx, redisKey(namespace, key))
	ttlCmd := pipe.TTL(ctx, redisKey(namespace, key))
	if _, err := pipe.Exec(ctx); err != nil {
		if err == redis.Nil {
			return nil, time.Time{}, false, nil
		}
		return nil, time.Time{}, false, eris.Wrap(err, "cache: redis get")
	}

	val, err := getCmd.Bytes()
	if err != nil {
		return nil, time.Time{}, false, eris.Wrap(err, "cache: redis get bytes")
	}

	var expiresAt time.Time
	if ttl := ttlCmd.Val(); ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}
	return val, expiresAt, true, nil
}

func (t *RedisTier) Set(ctx context.Context, namespace, key string, value []byte, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		// Already expired; make sure no stale value lingers.
		return eris.Wrap(t.client.Del(ctx, redisKey(namespace, key)).Err(), "cache: redis del expired")
	}
	return eris.Wrap(t.client.Set(ctx, redisKey(namespace, key), value, ttl).Err(), "cache: redis set")
}

func (t *RedisTier) Clear(ctx context.Context, namespace string) error {
	return t.deleteByPattern(ctx, "kgdb:cache:"+namespace+":*")
}

func (t *RedisTier) ClearAll(ctx context.Context) error {
	return t.deleteByPattern(ctx, "kgdb:cache:*")
}

func (t *RedisTier) deleteByPattern(ctx context.Context, pattern string) error {
	iter := t.client.Scan(ctx, 0, pattern, 500).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
		if len(keys) >= 500 {
			if err := t.client.Del(ctx, keys...).Err(); err != nil {
				return eris.Wrap(err, "cache: redis del batch")
			}
			keys = keys[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return eris.Wrap(err, "cache: redis scan")
	}
	if len(keys) > 0 {
		if err := t.client.Del(ctx, keys...).Err(); err != nil {
			return eris.Wrap(err, "cache: redis del batch")
		}
	}
	return nil
}

func (t *RedisTier) DeleteExpired(_ context.Context) (int, error) {
	return 0, nil
}

func (t *RedisTier) Close() error {
	return t.client.Close()
}
