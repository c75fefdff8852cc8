package main

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"

	"github.com/joho/godotenv"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"

	"github.com/tinywideclouds/go-loot-relay/internal/fanout"
	"github.com/tinywideclouds/go-loot-relay/internal/platform/fcm"
	"github.com/tinywideclouds/go-loot-relay/internal/storage/cache"
	fileStore "github.com/tinywideclouds/go-loot-relay/internal/storage/file"
	fsStore "github.com/tinywideclouds/go-loot-relay/internal/storage/firestore"
	"github.com/tinywideclouds/go-loot-relay/pkg/dispatch"

	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-loot-relay/lootrelay"
	"github.com/tinywideclouds/go-loot-relay/lootrelay/config"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gopkg.in/yaml.v3"
)

//go:embed local.yaml
var configFile []byte

func main() {
	// Credentials and overrides may live in a local .env during development.
	_ = godotenv.Load()

	var logLevel slog.Level
	switch os.Getenv("LOG_LEVEL") {
	case "debug", "DEBUG":
		logLevel = slog.LevelDebug
	case "info", "INFO":
		logLevel = slog.LevelInfo
	case "warn", "WARN":
		logLevel = slog.LevelWarn
	case "error", "ERROR":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})).With("service", "go-loot-relay")
	slog.SetDefault(logger)

	ctx := context.Background()

	// --- Config Loading ---
	var yamlCfg config.YamlConfig
	if err := yaml.Unmarshal(configFile, &yamlCfg); err != nil {
		logger.Error("Failed to unmarshal embedded yaml config", "err", err)
		os.Exit(1)
	}
	baseCfg, _ := config.NewConfigFromYaml(&yamlCfg, logger)
	cfg, err := config.UpdateConfigWithEnvOverrides(baseCfg, logger)
	if err != nil {
		logger.Error("Config failed", "err", err)
		os.Exit(1)
	}

	// --- Token Store ---
	var tokenStore dispatch.TokenStore
	switch cfg.Tokens.Backend {
	case config.BackendFirestore:
		fsClient, err := firestore.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			logger.Error("Firestore client failed", "err", err)
			os.Exit(1)
		}
		defer fsClient.Close()
		tokenStore = fsStore.NewStore(fsClient, cfg.Tokens.FirestoreCollection)
		logger.Info("TokenStore initialized", "type", "firestore")

		if cfg.Redis.Enabled {
			logger.Info("Initializing Redis cache layer...", "addr", cfg.Redis.Addr)
			redisClient, err := cache.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
			if err != nil {
				logger.Error("Failed to connect to Redis", "err", err)
				os.Exit(1)
			}
			defer redisClient.Close()
			tokenStore = cache.NewCachedTokenStore(tokenStore, redisClient, 24*time.Hour)
			logger.Info("TokenStore upgraded", "type", "redis_cached_firestore")
		}
	default:
		tokenStore = fileStore.NewStore(cfg.Tokens.FilePath, logger)
		logger.Info("TokenStore initialized", "type", "file", "path", cfg.Tokens.FilePath)
	}

	// --- Auth ---
	// Diagnostic routes are guarded when an identity service is available;
	// single-host deployments without one run them open behind the firewall.
	var authMiddleware func(http.Handler) http.Handler
	if identityURL := os.Getenv("IDENTITY_SERVICE_URL"); identityURL != "" {
		jwksURL, err := middleware.DiscoverAndValidateJWTConfig(identityURL, middleware.RSA256, logger)
		if err != nil {
			logger.Error("Identity service discovery failed", "err", err)
			os.Exit(1)
		}
		authMiddleware, err = middleware.NewJWKSAuthMiddleware(jwksURL, logger)
		if err != nil {
			logger.Error("Auth middleware setup failed", "err", err)
			os.Exit(1)
		}
	}

	// --- Delivery ---
	creds, err := fcm.NewCredentials(cfg.ServiceAccount, logger)
	if err != nil {
		logger.Error("Failed to load FCM service account", "err", err)
		os.Exit(1)
	}
	sender := fcm.NewSender(fcm.SenderConfig{
		Endpoint:   cfg.FCM.Endpoint,
		ProjectID:  creds.ProjectID(),
		MaxRetries: cfg.FCM.MaxRetries,
		Timeout:    time.Duration(cfg.FCM.TimeoutSeconds) * time.Second,
	}, creds, logger)
	broadcaster := fanout.NewBroadcaster(tokenStore, sender, cfg.FCM.BroadcastWorkers, logger)

	// --- Optional Pub/Sub ingestion ---
	var consumer messagepipeline.MessageConsumer
	if cfg.SubscriptionID != "" {
		psClient, err := pubsub.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			logger.Error("PubSub client failed", "err", err)
			os.Exit(1)
		}
		defer psClient.Close()

		consumer, err = newIngestionConsumer(ctx, cfg, psClient, logger)
		if err != nil {
			logger.Error("PubSub consumer failed", "err", err)
			os.Exit(1)
		}
	}

	service, err := lootrelay.New(cfg, tokenStore, broadcaster, consumer, authMiddleware, logger)
	if err != nil {
		logger.Error("Service creation failed", "err", err)
		os.Exit(1)
	}

	logger.Info("Starting service...")
	if err := service.Start(ctx); err != nil {
		logger.Error("Service shutdown with error", "err", err)
		os.Exit(1)
	}
}

func newIngestionConsumer(ctx context.Context, cfg *config.Config, psClient *pubsub.Client, logger *slog.Logger) (messagepipeline.MessageConsumer, error) {
	sub := convertPubsub(cfg.ProjectID, cfg.PubsubConsumerConfig.SubscriptionID, "subscriptions")
	topicID := convertPubsub(cfg.ProjectID, cfg.TopicID, "topics")
	dlt := convertPubsub(cfg.ProjectID, cfg.SubscriptionDLQTopicID, "topics")

	subConfig := &pubsubpb.Subscription{
		Name:               sub,
		Topic:              topicID,
		AckDeadlineSeconds: 10,
		DeadLetterPolicy: &pubsubpb.DeadLetterPolicy{
			DeadLetterTopic:     dlt,
			MaxDeliveryAttempts: 5,
		},
		EnableMessageOrdering: false,
	}
	logger.Debug("Ensuring subscription exists", "sub", subConfig.Name, "topic", subConfig.Topic)
	_, err := psClient.SubscriptionAdminClient.CreateSubscription(ctx, subConfig)
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			logger.Debug("Subscription already exists, skipping creation", "sub", subConfig.Name)
		} else {
			logger.Error("Failed to create subscription", "sub", subConfig.Name, "err", err)
			return nil, fmt.Errorf("could not create sub: %s", sub)
		}
	}

	return messagepipeline.NewGooglePubsubConsumer(
		messagepipeline.NewGooglePubsubConsumerDefaults(subConfig.Name), psClient, logger,
	)
}

type PS string

func convertPubsub(project, id string, ps PS) string {
	return fmt.Sprintf("projects/%s/%s/%s", project, ps, id)
}
