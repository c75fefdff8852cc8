package config_test

import (
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-loot-relay/lootrelay/config"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestUpdateConfigWithEnvOverrides(t *testing.T) {
	logger := newTestLogger()

	baseConfig := func() *config.Config {
		return &config.Config{
			ProjectID:  "base-project",
			ListenAddr: ":8080",
			Tokens: config.TokensConfig{
				Backend:  config.BackendFile,
				FilePath: "base_tokens.json",
			},
			FCM: config.FCMConfig{
				ChannelID:  "base_channel",
				MaxRetries: 3,
			},
		}
	}

	t.Run("Success - All overrides applied", func(t *testing.T) {
		cfg := baseConfig()

		t.Setenv("PROJECT_ID", "env-project")
		t.Setenv("PORT", "9090")
		t.Setenv("TOKEN_FILE", "/var/lib/relay/tokens.json")
		t.Setenv("FCM_CHANNEL_ID", "env_channel")
		t.Setenv("FCM_MAX_RETRIES", "5")
		t.Setenv("BROADCAST_WORKERS", "16")
		t.Setenv("REDIS_ADDR", "redis:6379")

		finalCfg, err := config.UpdateConfigWithEnvOverrides(cfg, logger)
		require.NoError(t, err)

		assert.Equal(t, "env-project", finalCfg.ProjectID)
		assert.Equal(t, ":9090", finalCfg.ListenAddr)
		assert.Equal(t, "/var/lib/relay/tokens.json", finalCfg.Tokens.FilePath)
		assert.Equal(t, "env_channel", finalCfg.FCM.ChannelID)
		assert.Equal(t, 5, finalCfg.FCM.MaxRetries)
		assert.Equal(t, 16, finalCfg.FCM.BroadcastWorkers)
		assert.True(t, finalCfg.Redis.Enabled)
		assert.Equal(t, "redis:6379", finalCfg.Redis.Addr)
	})

	t.Run("Service account assembled from environment", func(t *testing.T) {
		cfg := baseConfig()

		t.Setenv("FIREBASE_PROJECT_ID", "firebase-project")
		t.Setenv("FIREBASE_CLIENT_EMAIL", "relay@firebase-project.iam.gserviceaccount.com")
		t.Setenv("FIREBASE_PRIVATE_KEY", `-----BEGIN KEY-----\nabc\n-----END KEY-----`)

		finalCfg, err := config.UpdateConfigWithEnvOverrides(cfg, logger)
		require.NoError(t, err)

		assert.Equal(t, "firebase-project", finalCfg.ServiceAccount.ProjectID)
		assert.Equal(t, "relay@firebase-project.iam.gserviceaccount.com", finalCfg.ServiceAccount.ClientEmail)
		// Literal \n sequences become real newlines for PEM parsing.
		assert.Equal(t, "-----BEGIN KEY-----\nabc\n-----END KEY-----", finalCfg.ServiceAccount.PrivateKey)
	})

	t.Run("Success - Defaults applied", func(t *testing.T) {
		cfg := &config.Config{ProjectID: "base-project"}

		finalCfg, err := config.UpdateConfigWithEnvOverrides(cfg, logger)
		require.NoError(t, err)

		assert.Equal(t, ":8080", finalCfg.ListenAddr)
		assert.Equal(t, config.BackendFile, finalCfg.Tokens.Backend)
		assert.Equal(t, "device_tokens.json", finalCfg.Tokens.FilePath)
		assert.Equal(t, "osrs_notifications", finalCfg.FCM.ChannelID)
		assert.Equal(t, 1, finalCfg.NumPipelineWorkers)
	})

	t.Run("Validation Failure - Missing ProjectID", func(t *testing.T) {
		cfg := &config.Config{}
		_, err := config.UpdateConfigWithEnvOverrides(cfg, logger)
		assert.Error(t, err)
	})

	t.Run("Validation Failure - Unknown token backend", func(t *testing.T) {
		cfg := baseConfig()
		cfg.Tokens.Backend = "etcd"
		_, err := config.UpdateConfigWithEnvOverrides(cfg, logger)
		assert.Error(t, err)
	})
}
