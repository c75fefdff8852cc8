package config

import (
	"log/slog"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
)

type YamlCorsConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	Role           string   `yaml:"role"`
}

type YamlRedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Enabled  bool   `yaml:"enabled"`
}

type YamlTokensConfig struct {
	Backend             string `yaml:"backend"`
	FilePath            string `yaml:"file_path"`
	FirestoreCollection string `yaml:"firestore_collection"`
}

type YamlFCMConfig struct {
	Endpoint         string `yaml:"endpoint"`
	ChannelID        string `yaml:"channel_id"`
	MaxRetries       int    `yaml:"max_retries"`
	TimeoutSeconds   int    `yaml:"timeout_seconds"`
	BroadcastWorkers int    `yaml:"broadcast_workers"`
}

// YamlConfig is the structure that mirrors the raw config.yaml file.
type YamlConfig struct {
	ProjectID              string           `yaml:"project_id"`
	ListenAddr             string           `yaml:"listen_addr"`
	TopicID                string           `yaml:"topic_id"`
	SubscriptionID         string           `yaml:"subscription_id"`
	SubscriptionDLQTopicID string           `yaml:"subscription_dlq_topic_id"`
	NumPipelineWorkers     int              `yaml:"num_pipeline_workers"`
	CorsConfig             YamlCorsConfig   `yaml:"cors"`
	RedisConfig            YamlRedisConfig  `yaml:"redis"`
	TokensConfig           YamlTokensConfig `yaml:"tokens"`
	FCMConfig              YamlFCMConfig    `yaml:"fcm"`
}

// NewConfigFromYaml converts the YamlConfig into a clean, base Config struct.
func NewConfigFromYaml(baseCfg *YamlConfig, logger *slog.Logger) (*Config, error) {
	logger.Debug("Mapping YAML config to base config struct")

	cfg := &Config{
		ProjectID:      baseCfg.ProjectID,
		ListenAddr:     baseCfg.ListenAddr,
		TopicID:        baseCfg.TopicID,
		SubscriptionID: baseCfg.SubscriptionID,
		CorsConfig: middleware.CorsConfig{
			AllowedOrigins: baseCfg.CorsConfig.AllowedOrigins,
			Role:           middleware.CorsRole(baseCfg.CorsConfig.Role),
		},
		Redis: RedisConfig{
			Addr:     baseCfg.RedisConfig.Addr,
			Password: baseCfg.RedisConfig.Password,
			DB:       baseCfg.RedisConfig.DB,
			Enabled:  baseCfg.RedisConfig.Enabled,
		},
		Tokens: TokensConfig{
			Backend:             baseCfg.TokensConfig.Backend,
			FilePath:            baseCfg.TokensConfig.FilePath,
			FirestoreCollection: baseCfg.TokensConfig.FirestoreCollection,
		},
		FCM: FCMConfig{
			Endpoint:         baseCfg.FCMConfig.Endpoint,
			ChannelID:        baseCfg.FCMConfig.ChannelID,
			MaxRetries:       baseCfg.FCMConfig.MaxRetries,
			TimeoutSeconds:   baseCfg.FCMConfig.TimeoutSeconds,
			BroadcastWorkers: baseCfg.FCMConfig.BroadcastWorkers,
		},
		SubscriptionDLQTopicID: baseCfg.SubscriptionDLQTopicID,
		NumPipelineWorkers:     baseCfg.NumPipelineWorkers,
	}

	if cfg.SubscriptionID != "" {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	}

	logger.Debug("YAML config mapping complete",
		"project_id", cfg.ProjectID,
		"listen_addr", cfg.ListenAddr,
		"token_backend", cfg.Tokens.Backend,
	)

	return cfg, nil
}
