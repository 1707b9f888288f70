// Package ratelimit holds the denial-audit suppression window and the
// distributed lock used by the background sweeps.
package ratelimit

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/stackforge/tenantry/internal/cache"
)

// DenialWindow suppresses repeated denial-audit events. First reports true
// once per key per rolling window; repeated polling of a gated route does
// not flood the audit log.
type DenialWindow interface {
	First(ctx context.Context, key string, window time.Duration) bool
}

type localDenialWindow struct {
	seen cache.Cache[string, struct{}]
}

// NewLocalDenialWindow returns a process-local suppression window.
func NewLocalDenialWindow() DenialWindow {
	return &localDenialWindow{seen: cache.NewTTLCache[string, struct{}]()}
}

func (w *localDenialWindow) First(_ context.Context, key string, window time.Duration) bool {
	if key == "" || window <= 0 {
		return false
	}
	if _, ok := w.seen.Get(key); ok {
		return false
	}
	w.seen.Set(key, struct{}{}, window)
	return true
}

type redisDenialWindow struct {
	client   *redis.Client
	fallback DenialWindow
}

// NewRedisDenialWindow returns a suppression window shared across
// instances. Redis errors fall back to the local window so audit writes
// stay best-effort.
func NewRedisDenialWindow(client *redis.Client) DenialWindow {
	if client == nil {
		return NewLocalDenialWindow()
	}
	return &redisDenialWindow{client: client, fallback: NewLocalDenialWindow()}
}

func (w *redisDenialWindow) First(ctx context.Context, key string, window time.Duration) bool {
	if key == "" || window <= 0 {
		return false
	}
	ok, err := w.client.SetNX(ctx, "tenantry:denial:"+key, 1, window).Result()
	if err != nil {
		return w.fallback.First(ctx, key, window)
	}
	return ok
}
