package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/redis/go-redis/v9"
)

// Tier is a shared second-level store for encoded responses.
type Tier interface {
	Get(ctx context.Context, sessionID, key string) ([]byte, bool, error)
	Set(ctx context.Context, sessionID, key string, data []byte, ttl time.Duration) error
	DeleteSession(ctx context.Context, sessionID string) (int, error)
}

// RedisOptions configures the Redis tier.
type RedisOptions struct {
	Addr     string `yaml:"addr" koanf:"addr"`
	Password string `yaml:"password" koanf:"password"`
	DB       int    `yaml:"db" koanf:"db"`
	Prefix   string `yaml:"prefix" koanf:"prefix"`
}

// DefaultRedisPrefix namespaces response keys.
const DefaultRedisPrefix = "ragbudget:resp:"

// RedisTier stores responses in Redis under prefix+session+":"+key.
type RedisTier struct {
	client *redis.Client
	prefix string
}

// NewRedisTier connects to Redis and verifies the connection.
func NewRedisTier(ctx context.Context, opts RedisOptions) (*RedisTier, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		MaxRetries:   3,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("cache: connecting to redis at %s: %w", opts.Addr, err)
	}
	return newRedisTier(client, opts.Prefix), nil
}

func newRedisTier(client *redis.Client, prefix string) *RedisTier {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisTier{client: client, prefix: prefix}
}

func (r *RedisTier) key(sessionID, key string) string {
	return r.prefix + sessionID + ":" + key
}

// Get returns the stored bytes. A missing key is not an error.
func (r *RedisTier) Get(ctx context.Context, sessionID, key string) ([]byte, bool, error) {
	data, err := r.client.Get(ctx, r.key(sessionID, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache: redis get: %w", err)
	}
	return data, true, nil
}

// Set stores data with a TTL.
func (r *RedisTier) Set(ctx context.Context, sessionID, key string, data []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, r.key(sessionID, key), data, ttl).Err(); err != nil {
		return fmt.Errorf("cache: redis set: %w", err)
	}
	return nil
}

// DeleteSession removes all of a session's keys using SCAN.
func (r *RedisTier) DeleteSession(ctx context.Context, sessionID string) (int, error) {
	n := 0
	iter := r.client.Scan(ctx, 0, r.prefix+sessionID+":*", 100).Iterator()
	for iter.Next(ctx) {
		if err := r.client.Del(ctx, iter.Val()).Err(); err != nil {
			return n, fmt.Errorf("cache: redis del: %w", err)
		}
		n++
	}
	if err := iter.Err(); err != nil {
		return n, fmt.Errorf("cache: redis scan: %w", err)
	}
	return n, nil
}

// Close releases the Redis connection pool.
func (r *RedisTier) Close() error {
	return r.client.Close()
}

var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	zstdDecoder, _ = zstd.NewReader(nil)
)

// EncodeResponse serializes r as zstd-compressed CBOR.
func EncodeResponse(r Response) ([]byte, error) {
	raw, err := cbor.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("cache: cbor encode: %w", err)
	}
	return zstdEncoder.EncodeAll(raw, nil), nil
}

// DecodeResponse reverses EncodeResponse.
func DecodeResponse(data []byte) (Response, error) {
	raw, err := zstdDecoder.DecodeAll(data, nil)
	if err != nil {
		return Response{}, fmt.Errorf("cache: zstd decode: %w", err)
	}
	var r Response
	if err := cbor.Unmarshal(raw, &r); err != nil {
		return Response{}, fmt.Errorf("cache: cbor decode: %w", err)
	}
	return r, nil
}
