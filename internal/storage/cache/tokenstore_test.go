package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-loot-relay/internal/storage/cache"
	"github.com/tinywideclouds/go-loot-relay/pkg/dispatch"
)

// --- Mocks ---
type MockCache struct {
	mock.Mock
}

func (m *MockCache) Get(ctx context.Context, key string, dest interface{}) error {
	args := m.Called(ctx, key, dest)
	return args.Error(0)
}
func (m *MockCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return m.Called(ctx, key, value, ttl).Error(0)
}
func (m *MockCache) Del(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

type MockRealStore struct {
	mock.Mock
}

func (m *MockRealStore) Register(ctx context.Context, token string) (dispatch.RegisterResult, error) {
	args := m.Called(ctx, token)
	return args.Get(0).(dispatch.RegisterResult), args.Error(1)
}
func (m *MockRealStore) Snapshot(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}
func (m *MockRealStore) Remove(ctx context.Context, token string) error {
	return m.Called(ctx, token).Error(0)
}
func (m *MockRealStore) Reload(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

const cacheKey = "lootrelay:tokens:snapshot"

func TestCachedStore_Invalidation(t *testing.T) {
	ctx := context.Background()
	mockCache := new(MockCache)
	mockBackend := new(MockRealStore)

	store := cache.NewCachedTokenStore(mockBackend, mockCache, 1*time.Hour)

	t.Run("Remove invalidates cache immediately", func(t *testing.T) {
		token := "stale:device-token"

		mockBackend.On("Remove", ctx, token).Return(nil)
		mockCache.On("Del", ctx, cacheKey).Return(nil)

		err := store.Remove(ctx, token)

		require.NoError(t, err)
		mockBackend.AssertExpectations(t)
		mockCache.AssertExpectations(t)
	})

	t.Run("Register invalidates cache", func(t *testing.T) {
		token := "fresh:device-token"

		mockBackend.On("Register", ctx, token).Return(dispatch.RegisterResult{Total: 1}, nil)
		mockCache.On("Del", ctx, cacheKey).Return(nil)

		res, err := store.Register(ctx, token)

		require.NoError(t, err)
		assert.Equal(t, 1, res.Total)
		mockBackend.AssertExpectations(t)
	})
}

func TestCachedStore_ReadAside(t *testing.T) {
	ctx := context.Background()

	t.Run("Miss falls through to backend and refills", func(t *testing.T) {
		mockCache := new(MockCache)
		mockBackend := new(MockRealStore)
		store := cache.NewCachedTokenStore(mockBackend, mockCache, 1*time.Hour)

		fresh := []string{"a:token-1", "b:token-2"}
		mockCache.On("Get", ctx, cacheKey, mock.Anything).Return(assert.AnError) // Error implies miss
		mockBackend.On("Snapshot", ctx).Return(fresh, nil)
		mockCache.On("Set", ctx, cacheKey, fresh, mock.Anything).Return(nil)

		tokens, err := store.Snapshot(ctx)

		require.NoError(t, err)
		assert.Equal(t, fresh, tokens)
		mockBackend.AssertExpectations(t)
	})

	t.Run("Refill failure is absorbed", func(t *testing.T) {
		mockCache := new(MockCache)
		mockBackend := new(MockRealStore)
		store := cache.NewCachedTokenStore(mockBackend, mockCache, 1*time.Hour)

		mockCache.On("Get", ctx, cacheKey, mock.Anything).Return(assert.AnError)
		mockBackend.On("Snapshot", ctx).Return([]string{"a:token-1"}, nil)
		mockCache.On("Set", ctx, cacheKey, mock.Anything, mock.Anything).Return(assert.AnError)

		tokens, err := store.Snapshot(ctx)

		require.NoError(t, err)
		assert.Len(t, tokens, 1)
	})
}
