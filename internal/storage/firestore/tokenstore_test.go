//go:build integration

package firestore_test

import (
	"context"
	"testing"
	"time"

	gfs "cloud.google.com/go/firestore"
	"github.com/illmade-knight/go-test/emulators"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fsStore "github.com/tinywideclouds/go-loot-relay/internal/storage/firestore"
	"github.com/tinywideclouds/go-loot-relay/pkg/dispatch"
)

func TestFirestoreStore_Integration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)

	projectID := "test-project-tokens"

	fsConn := emulators.SetupFirestoreEmulator(t, ctx, emulators.GetDefaultFirestoreConfig(projectID))
	fsClient, err := gfs.NewClient(ctx, projectID, fsConn.ClientOptions...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = fsClient.Close() })

	store := fsStore.NewStore(fsClient, "devices")

	t.Run("Register, snapshot, remove lifecycle", func(t *testing.T) {
		res, err := store.Register(ctx, "device-1:APA91-token")
		require.NoError(t, err)
		assert.False(t, res.AlreadyPresent)
		assert.Equal(t, 1, res.Total)

		// Idempotent upsert
		res, err = store.Register(ctx, "device-1:APA91-token")
		require.NoError(t, err)
		assert.True(t, res.AlreadyPresent)
		assert.Equal(t, 1, res.Total)

		res, err = store.Register(ctx, "device-2:APA91-token")
		require.NoError(t, err)
		assert.Equal(t, 2, res.Total)

		tokens, err := store.Snapshot(ctx)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"device-1:APA91-token", "device-2:APA91-token"}, tokens)

		require.NoError(t, store.Remove(ctx, "device-1:APA91-token"))
		tokens, err = store.Snapshot(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"device-2:APA91-token"}, tokens)
	})

	t.Run("Rejects malformed tokens", func(t *testing.T) {
		_, err := store.Register(ctx, "no-separator")
		assert.ErrorIs(t, err, dispatch.ErrInvalidToken)
	})
}
