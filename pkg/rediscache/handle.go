// pkg/rediscache/handle.go

package rediscache

import (
	"context"
	"errors"
	"fmt"
	"time"

	cerr "github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
)

// ErrMiss is returned by Get for a key that does not exist.
var ErrMiss = errors.New("cache miss")

// Handle is the cache handle probed by the health checker.
type Handle struct {
	client redis.UniversalClient
}

// Options configures Open.
type Options struct {
	URL      string
	Password string
}

// Open parses a redis:// URL and verifies the server answers PING.
func Open(ctx context.Context, opts Options) (*Handle, error) {
	h, err := Dial(opts)
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := h.Ping(pingCtx); err != nil {
		_ = h.Close()
		return nil, err
	}
	return h, nil
}

// Dial builds a client without contacting the server.
func Dial(opts Options) (*Handle, error) {
	if opts.URL == "" {
		return nil, cerr.WithHint(cerr.New("redis URL is empty"), "set redis.url or HORAE_REDIS_URL")
	}
	parsed, err := redis.ParseURL(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if opts.Password != "" {
		parsed.Password = opts.Password
	}
	return New(redis.NewClient(parsed)), nil
}

// New wraps an existing client.
func New(client redis.UniversalClient) *Handle {
	return &Handle{client: client}
}

// Ping issues PING.
func (h *Handle) Ping(ctx context.Context) error {
	if err := h.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Set stores value under key for ttl.
func (h *Handle) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return h.client.Set(ctx, key, value, ttl).Err()
}

// Get returns the value under key, or ErrMiss.
func (h *Handle) Get(ctx context.Context, key string) (string, error) {
	v, err := h.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrMiss
	}
	return v, err
}

// Del removes key.
func (h *Handle) Del(ctx context.Context, key string) error {
	return h.client.Del(ctx, key).Err()
}

// Client exposes the underlying client for callers that share it.
func (h *Handle) Client() redis.UniversalClient { return h.client }

// Close releases the client.
func (h *Handle) Close() error { return h.client.Close() }
