package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	redis "gopkg.in/redis.v5"
)

// redisConn is the minimal Redis surface required by RedisKV. *redisClient
// adapts a *redis.Client to it; tests substitute a fake.
type redisConn interface {
	Get(key string) ([]byte, error)
	SetAllEx(entries []Entry, ttl time.Duration) error
	Ping() error
	Close() error
}

// RedisKV stores conversation records as plain Redis strings with an expiry.
type RedisKV struct {
	conn redisConn
}

// NewRedisKV connects to the Redis instance described by url
// (e.g. redis://localhost:6379/0).
func NewRedisKV(url string) (*RedisKV, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("repository: redis url must not be empty")
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("repository: parse redis url: %w", err)
	}
	return &RedisKV{conn: &redisClient{client: redis.NewClient(opts)}}, nil
}

func newRedisKV(conn redisConn) (*RedisKV, error) {
	if conn == nil {
		return nil, errors.New("repository: redis connection must not be nil")
	}
	return &RedisKV{conn: conn}, nil
}

func (r *RedisKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	raw, err := r.conn.Get(key)
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("repository: redis get %q: %w", key, err)
	}
	return raw, true, nil
}

func (r *RedisKV) SetWithExpiry(ctx context.Context, ttl time.Duration, entries ...Entry) error {
	if ttl <= 0 {
		return errors.New("repository: redis set: ttl must be positive")
	}
	if len(entries) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := r.conn.SetAllEx(entries, ttl); err != nil {
		return fmt.Errorf("repository: redis set: %w", err)
	}
	return nil
}

// Ping checks that the server is reachable.
func (r *RedisKV) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := r.conn.Ping(); err != nil {
		return fmt.Errorf("repository: redis ping: %w", err)
	}
	return nil
}

func (r *RedisKV) Close() error {
	return r.conn.Close()
}

type redisClient struct {
	client *redis.Client
}

func (c *redisClient) Get(key string) ([]byte, error) {
	return c.client.Get(key).Bytes()
}

// SetAllEx issues one SET ... EX per entry inside MULTI/EXEC.
func (c *redisClient) SetAllEx(entries []Entry, ttl time.Duration) error {
	_, err := c.client.TxPipelined(func(pipe *redis.Pipeline) error {
		for _, e := range entries {
			pipe.Set(e.Key, e.Value, ttl)
		}
		return nil
	})
	return err
}

func (c *redisClient) Ping() error {
	return c.client.Ping().Err()
}

func (c *redisClient) Close() error {
	return c.client.Close()
}
