package rediscache

import (
	"context"
	"testing"
	"time"

	cerr "github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenValidation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		opts    Options
		wantErr string
	}{
		{name: "empty url", opts: Options{}, wantErr: "redis URL is empty"},
		{name: "bad scheme", opts: Options{URL: "http://localhost:6379"}, wantErr: "parse redis url"},
		{name: "unreachable", opts: Options{URL: "redis://127.0.0.1:1/0"}, wantErr: "redis ping"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_, err := Open(ctx, tt.opts)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	_, err := Open(context.Background(), Options{})
	assert.Contains(t, cerr.FlattenHints(err), "redis.url")
}

func TestHandleWrapsClient(t *testing.T) {
	t.Parallel()
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	h := New(client)
	t.Cleanup(func() { _ = h.Close() })

	assert.Same(t, client, h.Client())
	assert.Error(t, h.Ping(context.Background()))
}

func TestDialAppliesPassword(t *testing.T) {
	t.Parallel()
	h, err := Dial(Options{URL: "redis://:fromurl@127.0.0.1:1/2", Password: "override"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })

	opts := h.Client().(*redis.Client).Options()
	assert.Equal(t, "override", opts.Password)
	assert.Equal(t, 2, opts.DB)
}
