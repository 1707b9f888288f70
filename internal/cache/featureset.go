package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// FeatureSetStore caches the effective enabled-feature set per tenant.
// The local store is correct for a single instance; the redis store keeps
// invalidation visible across horizontally scaled instances.
type FeatureSetStore interface {
	Get(ctx context.Context, tenantID string) (map[string]bool, bool, error)
	Set(ctx context.Context, tenantID string, features map[string]bool, ttl time.Duration) error
	Invalidate(ctx context.Context, tenantID string) error
}

type localFeatureSetStore struct {
	cache Cache[string, map[string]bool]
}

// NewLocalFeatureSetStore returns a process-local feature set cache.
func NewLocalFeatureSetStore() FeatureSetStore {
	return &localFeatureSetStore{cache: NewTTLCache[string, map[string]bool]()}
}

func (s *localFeatureSetStore) Get(_ context.Context, tenantID string) (map[string]bool, bool, error) {
	features, ok := s.cache.Get(tenantID)
	return features, ok, nil
}

func (s *localFeatureSetStore) Set(_ context.Context, tenantID string, features map[string]bool, ttl time.Duration) error {
	s.cache.Set(tenantID, features, ttl)
	return nil
}

func (s *localFeatureSetStore) Invalidate(_ context.Context, tenantID string) error {
	s.cache.Delete(tenantID)
	return nil
}

type redisFeatureSetStore struct {
	client *redis.Client
}

// NewRedisFeatureSetStore returns a shared feature set cache.
func NewRedisFeatureSetStore(client *redis.Client) (FeatureSetStore, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	return &redisFeatureSetStore{client: client}, nil
}

func featureSetKey(tenantID string) string {
	return "tenantry:features:" + tenantID
}

func (s *redisFeatureSetStore) Get(ctx context.Context, tenantID string) (map[string]bool, bool, error) {
	raw, err := s.client.Get(ctx, featureSetKey(tenantID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}

	var features map[string]bool
	if err := json.Unmarshal(raw, &features); err != nil {
		// A corrupt entry behaves like a miss; the resolver recomputes.
		return nil, false, nil
	}
	return features, true, nil
}

func (s *redisFeatureSetStore) Set(ctx context.Context, tenantID string, features map[string]bool, ttl time.Duration) error {
	raw, err := json.Marshal(features)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, featureSetKey(tenantID), raw, ttl).Err()
}

func (s *redisFeatureSetStore) Invalidate(ctx context.Context, tenantID string) error {
	return s.client.Del(ctx, featureSetKey(tenantID)).Err()
}
