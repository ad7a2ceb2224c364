package cache

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// NewRedisClient creates and pings a Redis client with optional password auth.
func NewRedisClient(ctx context.Context, addr, password string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, eris.Wrapf(err, "connecting to redis at %s", addr)
	}
	return rdb, nil
}

// RedisStore shares vectors between processes.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisStore wraps a connected client. A zero ttl keeps entries forever.
func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl}
}

// Get retrieves a vector. Redis failures are logged and reported as misses.
func (r *RedisStore) Get(ctx context.Context, key string) ([]float64, bool) {
	data, err := r.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		zap.L().Debug("redis cache get failed", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	vec, err := decodeVector(data)
	if err != nil {
		return nil, false
	}
	return vec, true
}

// Set stores a vector.
func (r *RedisStore) Set(ctx context.Context, key string, vec []float64) error {
	if err := r.rdb.Set(ctx, key, encodeVector(vec), r.ttl).Err(); err != nil {
		return eris.Wrap(err, "redis cache set")
	}
	return nil
}

func encodeVector(vec []float64) []byte {
	buf := make([]byte, 8*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint64(buf[8*i:], math.Float64bits(v))
	}
	return buf
}

func decodeVector(data []byte) ([]float64, error) {
	if len(data)%8 != 0 {
		return nil, eris.Errorf("cached vector has %d bytes", len(data))
	}
	vec := make([]float64, len(data)/8)
	for i := range vec {
		vec[i] = math.Float64frombits(binary.LittleEndian.Uint64(data[8*i:]))
	}
	return vec, nil
}
