// Package config holds the relay's single authoritative configuration:
// YAML defaults layered with environment overrides, plus the Firebase
// service-account material assembled from the environment.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-loot-relay/internal/platform/fcm"
)

// Token backends.
const (
	BackendFile      = "file"
	BackendFirestore = "firestore"
)

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

type TokensConfig struct {
	Backend             string
	FilePath            string
	FirestoreCollection string
}

type FCMConfig struct {
	Endpoint         string
	ChannelID        string
	MaxRetries       int
	TimeoutSeconds   int
	BroadcastWorkers int
}

// Config defines the *single*, authoritative configuration.
type Config struct {
	ProjectID              string
	ListenAddr             string
	SubscriptionID         string
	SubscriptionDLQTopicID string
	NumPipelineWorkers     int

	CorsConfig middleware.CorsConfig
	Redis      RedisConfig
	Tokens     TokensConfig
	FCM        FCMConfig

	ServiceAccount fcm.ServiceAccount

	TopicID              string
	PubsubConsumerConfig *messagepipeline.GooglePubsubConsumerConfig
}

// UpdateConfigWithEnvOverrides applies environment variables and final validation.
func UpdateConfigWithEnvOverrides(cfg *Config, logger *slog.Logger) (*Config, error) {
	logger.Debug("Applying environment variable overrides...")

	if val := os.Getenv("PROJECT_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "PROJECT_ID", "source", "env")
		cfg.ProjectID = val
	}
	if val := os.Getenv("PORT"); val != "" {
		logger.Debug("Overriding config value", "key", "PORT", "source", "env")
		cfg.ListenAddr = ":" + val
	}
	if val := os.Getenv("SUBSCRIPTION_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "SUBSCRIPTION_ID", "source", "env")
		cfg.SubscriptionID = val
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(val)
	}
	if val := os.Getenv("SUBSCRIPTION_DLQ_TOPIC_ID"); val != "" {
		cfg.SubscriptionDLQTopicID = val
	}
	if val := os.Getenv("NUM_PIPELINE_WORKERS"); val != "" {
		if workers, err := strconv.Atoi(val); err == nil && workers > 0 {
			cfg.NumPipelineWorkers = workers
		}
	}

	// Token registry overrides
	if val := os.Getenv("TOKEN_BACKEND"); val != "" {
		logger.Debug("Overriding config value", "key", "TOKEN_BACKEND", "source", "env")
		cfg.Tokens.Backend = val
	}
	if val := os.Getenv("TOKEN_FILE"); val != "" {
		cfg.Tokens.FilePath = val
	}
	if val := os.Getenv("TOKEN_FIRESTORE_COLLECTION"); val != "" {
		cfg.Tokens.FirestoreCollection = val
	}

	// Redis overrides
	if val := os.Getenv("REDIS_ADDR"); val != "" {
		cfg.Redis.Addr = val
		cfg.Redis.Enabled = true
	}
	if val := os.Getenv("REDIS_PASSWORD"); val != "" {
		cfg.Redis.Password = val
	}
	if val := os.Getenv("REDIS_DB"); val != "" {
		if db, err := strconv.Atoi(val); err == nil {
			cfg.Redis.DB = db
		}
	}
	if val := os.Getenv("REDIS_ENABLED"); val != "" {
		enabled, _ := strconv.ParseBool(val)
		cfg.Redis.Enabled = enabled
	}

	// FCM overrides
	if val := os.Getenv("FCM_ENDPOINT"); val != "" {
		logger.Debug("Overriding config value", "key", "FCM_ENDPOINT", "source", "env")
		cfg.FCM.Endpoint = val
	}
	if val := os.Getenv("FCM_CHANNEL_ID"); val != "" {
		cfg.FCM.ChannelID = val
	}
	if val := os.Getenv("FCM_MAX_RETRIES"); val != "" {
		if retries, err := strconv.Atoi(val); err == nil && retries >= 0 {
			cfg.FCM.MaxRetries = retries
		}
	}
	if val := os.Getenv("BROADCAST_WORKERS"); val != "" {
		if workers, err := strconv.Atoi(val); err == nil && workers > 0 {
			cfg.FCM.BroadcastWorkers = workers
		}
	}

	// Service account material, assembled the way the .env lays it out.
	// The private key arrives with literal \n sequences that must become
	// real newlines before PEM parsing.
	cfg.ServiceAccount = fcm.ServiceAccount{
		ProjectID:   cfg.ProjectID,
		PrivateKey:  strings.ReplaceAll(os.Getenv("FIREBASE_PRIVATE_KEY"), `\n`, "\n"),
		ClientEmail: os.Getenv("FIREBASE_CLIENT_EMAIL"),
		TokenURI:    os.Getenv("FIREBASE_TOKEN_URI"),
	}
	if val := os.Getenv("FIREBASE_PROJECT_ID"); val != "" {
		cfg.ServiceAccount.ProjectID = val
	}

	// CORS overrides
	if corsOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); corsOrigins != "" {
		rawOrigins := strings.Split(corsOrigins, ",")
		var cleanOrigins []string
		for _, o := range rawOrigins {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				cleanOrigins = append(cleanOrigins, trimmed)
			}
		}
		cfg.CorsConfig.AllowedOrigins = cleanOrigins
	}

	// Final validation and defaults
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("project_id is required (set via YAML or PROJECT_ID env var)")
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.NumPipelineWorkers <= 0 {
		cfg.NumPipelineWorkers = 1
	}
	switch cfg.Tokens.Backend {
	case "":
		cfg.Tokens.Backend = BackendFile
	case BackendFile, BackendFirestore:
	default:
		return nil, fmt.Errorf("unknown token backend %q", cfg.Tokens.Backend)
	}
	if cfg.Tokens.FilePath == "" {
		cfg.Tokens.FilePath = "device_tokens.json"
	}
	if cfg.FCM.ChannelID == "" {
		cfg.FCM.ChannelID = "osrs_notifications"
	}

	if cfg.PubsubConsumerConfig == nil && cfg.SubscriptionID != "" {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	}

	logger.Debug("Configuration finalized and validated successfully")
	return cfg, nil
}
