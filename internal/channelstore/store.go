package channelstore

import (
	"context"
	"encoding/hex"
	"errors"
	"math/big"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/subquery/indexer-query-gateway/internal/gwerrors"
	"go.uber.org/zap"
)

// KV is the minimal backing-store contract ChannelStore needs: atomic
// set-with-ttl, get, delete, and the counter primitives AuthMiddleware's
// rate limiter reuses from the same client. No multi-key transactions
// are required.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error) // nil, nil on miss
	SetEx(ctx context.Context, key string, value []byte, ttl time.Duration) error
	TTL(ctx context.Context, key string) (time.Duration, error)
	Del(ctx context.Context, key string) error
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error
}

// RedisKV adapts *redis.Client to the KV interface.
type RedisKV struct {
	Client *redis.Client
}

func NewRedisKV(client *redis.Client) *RedisKV { return &RedisKV{Client: client} }

func (r *RedisKV) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := r.Client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return b, err
}

func (r *RedisKV) SetEx(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.Client.Set(ctx, key, value, ttl).Err()
}

func (r *RedisKV) TTL(ctx context.Context, key string) (time.Duration, error) {
	return r.Client.TTL(ctx, key).Result()
}

func (r *RedisKV) Del(ctx context.Context, key string) error {
	return r.Client.Del(ctx, key).Err()
}

func (r *RedisKV) Incr(ctx context.Context, key string) (int64, error) {
	return r.Client.Incr(ctx, key).Result()
}

func (r *RedisKV) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return r.Client.Expire(ctx, key, ttl).Err()
}

// Store is component A: ChannelStore.
type Store struct {
	kv KV
}

func New(kv KV) *Store { return &Store{kv: kv} }

// KeyName derives the Redis key for a channel id: hex(LE(channel_id))-channel.
func KeyName(channelID *big.Int) string {
	var beBytes [32]byte
	putU256LE(beBytes[:], channelID)
	return hex.EncodeToString(beBytes[:]) + "-channel"
}

// Get fetches and decodes a channel's cached state. A cache miss is
// Expired(1054): an absent channel is indistinguishable from one that
// has already expired and been evicted.
func (s *Store) Get(ctx context.Context, channelID *big.Int) (*ChannelState, string, error) {
	key := KeyName(channelID)
	raw, err := s.kv.Get(ctx, key)
	if err != nil {
		return nil, key, gwerrors.New(gwerrors.ErrServiceException, err)
	}
	if len(raw) == 0 {
		return nil, key, gwerrors.New(gwerrors.ErrExpiredChannel, nil)
	}
	state, err := Decode(raw)
	if err != nil {
		return nil, key, err
	}
	return state, key, nil
}

// Put persists state under key, preserving ttl. If ttl <= 0 it is
// looked up from the existing key (mirrors the "missing KEEPTTL, use
// two operations" pattern), defaulting to 86400s if unknown.
func (s *Store) Put(ctx context.Context, key string, state *ChannelState, ttl time.Duration) error {
	if ttl <= 0 {
		if existing, err := s.kv.TTL(ctx, key); err == nil && existing > 0 {
			ttl = existing
		} else {
			ttl = 86400 * time.Second
		}
	}
	if err := s.kv.SetEx(ctx, key, state.Encode(), ttl); err != nil {
		zap.L().Error("channelstore: put failed", zap.String("key", key), zap.Error(err))
		return gwerrors.New(gwerrors.ErrServiceException, err)
	}
	return nil
}

// Delete removes a channel's cached state, used on is_final or expiry.
func (s *Store) Delete(ctx context.Context, key string) error {
	return s.kv.Del(ctx, key)
}
