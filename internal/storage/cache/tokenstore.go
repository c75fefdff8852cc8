// Package cache adds a read-aside Redis cache in front of a TokenStore.
// Broadcasts snapshot the registry on every event, so caching the snapshot
// keeps a remote backend like Firestore off the hot path.
package cache

import (
	"context"
	"time"

	"github.com/tinywideclouds/go-loot-relay/pkg/dispatch"
)

// CacheClient defines the subset of Redis commands we need.
type CacheClient interface {
	// Get returns the value or a specific error if not found.
	Get(ctx context.Context, key string, dest interface{}) error
	// Set stores the value with a TTL.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	// Del removes the key.
	Del(ctx context.Context, key string) error
}

// snapshotKey holds the cached registry snapshot.
const snapshotKey = "lootrelay:tokens:snapshot"

// CachedTokenStore is a decorator that adds read-aside caching to any
// TokenStore.
type CachedTokenStore struct {
	realStore dispatch.TokenStore
	cache     CacheClient
	ttl       time.Duration
}

// NewCachedTokenStore creates the decorator.
func NewCachedTokenStore(realStore dispatch.TokenStore, cache CacheClient, ttl time.Duration) *CachedTokenStore {
	return &CachedTokenStore{
		realStore: realStore,
		cache:     cache,
		ttl:       ttl,
	}
}

// Snapshot serves from cache when possible and falls back to the real
// store. Cache population is fire-and-forget: caching is an optimization,
// not a transaction, so a down Redis just means serving from the backend.
func (s *CachedTokenStore) Snapshot(ctx context.Context) ([]string, error) {
	var cached []string
	if err := s.cache.Get(ctx, snapshotKey, &cached); err == nil {
		return cached, nil
	}

	fresh, err := s.realStore.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	_ = s.cache.Set(ctx, snapshotKey, fresh, s.ttl)
	return fresh, nil
}

// Register writes to the source of truth, then invalidates the cached
// snapshot so the next broadcast sees the new device.
func (s *CachedTokenStore) Register(ctx context.Context, token string) (dispatch.RegisterResult, error) {
	res, err := s.realStore.Register(ctx, token)
	if err != nil {
		return res, err
	}
	return res, s.invalidate(ctx)
}

// Remove must clear the cache even though the backend write succeeded, so
// an unregistered device stops receiving notifications immediately.
func (s *CachedTokenStore) Remove(ctx context.Context, token string) error {
	if err := s.realStore.Remove(ctx, token); err != nil {
		return err
	}
	return s.invalidate(ctx)
}

// Reload reloads the backend and drops the cached snapshot.
func (s *CachedTokenStore) Reload(ctx context.Context) error {
	if err := s.realStore.Reload(ctx); err != nil {
		return err
	}
	return s.invalidate(ctx)
}

func (s *CachedTokenStore) invalidate(ctx context.Context) error {
	return s.cache.Del(ctx, snapshotKey)
}
