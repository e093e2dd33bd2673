package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
)

const (
	sessionKeyPrefix = "sess:"
)

// RedisBackend はセッションを Redis に保存します。期限切れの削除は Redis の TTL に任せます。
type RedisBackend struct {
	rdb redis.UniversalClient
}

// NewRedisBackend は RedisBackend を作成します。
func NewRedisBackend(rdb redis.UniversalClient) *RedisBackend {
	return &RedisBackend{rdb: rdb}
}

// NewRedisClient は接続URLから Redis クライアントを作成します。
func NewRedisClient(redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, oops.Code("SESSION_REDIS_URL_INVALID").Wrap(err)
	}
	return redis.NewClient(opt), nil
}

// Load はセッションを取得します。
func (b *RedisBackend) Load(ctx context.Context, id string) (*Record, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	data, err := b.rdb.Get(ctx, sessionKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, oops.Code("SESSION_LOAD_FAILED").With("backend", "redis").Wrap(err)
	}
	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, oops.Code("SESSION_DECODE_FAILED").With("backend", "redis").Wrap(err)
	}
	return &record, nil
}

// Save はセッションを ttl 付きで保存します（存在しない場合は作成）。
func (b *RedisBackend) Save(ctx context.Context, record *Record, ttl time.Duration) error {
	if record == nil {
		return fmt.Errorf("record is nil")
	}
	if ttl <= 0 {
		return fmt.Errorf("ttl must be positive")
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return oops.Code("SESSION_ENCODE_FAILED").Wrap(err)
	}
	if err := b.rdb.Set(ctx, sessionKey(record.ID), payload, ttl).Err(); err != nil {
		return oops.Code("SESSION_SAVE_FAILED").With("backend", "redis").Wrap(err)
	}
	return nil
}

// Delete はセッションを削除します。存在しない場合もエラーにしません。
func (b *RedisBackend) Delete(ctx context.Context, id string) error {
	if err := b.rdb.Del(ctx, sessionKey(id)).Err(); err != nil {
		return oops.Code("SESSION_DELETE_FAILED").With("backend", "redis").Wrap(err)
	}
	return nil
}

// Ping は Redis への接続を確認します。
func (b *RedisBackend) Ping(ctx context.Context) error {
	return b.rdb.Ping(ctx).Err()
}

func sessionKey(id string) string {
	return sessionKeyPrefix + id
}
