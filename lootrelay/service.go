// Package lootrelay assembles the webhook-to-push relay service: HTTP
// surface, token registry, FCM fan-out and the optional Pub/Sub ingestion
// pipeline.
package lootrelay

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/microservice"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-loot-relay/internal/api"
	"github.com/tinywideclouds/go-loot-relay/internal/fanout"
	"github.com/tinywideclouds/go-loot-relay/internal/pipeline"
	"github.com/tinywideclouds/go-loot-relay/lootrelay/config"
	"github.com/tinywideclouds/go-loot-relay/pkg/dispatch"
	"github.com/tinywideclouds/go-loot-relay/pkg/loot"
)

type Wrapper struct {
	*microservice.BaseServer
	pipelineService *messagepipeline.StreamingService[loot.Event]
	logger          *slog.Logger
}

// New assembles the service. The consumer is optional: when nil, events
// only arrive via the webhook and no pipeline is started. A nil
// authMiddleware leaves the diagnostic routes unguarded, for deployments
// without an identity service.
func New(
	cfg *config.Config,
	tokenStore dispatch.TokenStore,
	broadcaster *fanout.Broadcaster,
	consumer messagepipeline.MessageConsumer,
	authMiddleware func(http.Handler) http.Handler,
	logger *slog.Logger,
) (*Wrapper, error) {

	baseServer := microservice.NewBaseServer(logger, cfg.ListenAddr)

	var streamingService *messagepipeline.StreamingService[loot.Event]
	if consumer != nil {
		var err error
		streamingService, err = messagepipeline.NewStreamingService[loot.Event](
			messagepipeline.StreamingServiceConfig{NumWorkers: cfg.NumPipelineWorkers},
			consumer,
			pipeline.LootEventTransformer,
			pipeline.NewProcessor(broadcaster, cfg.FCM.ChannelID, logger),
			slog.New(slog.DiscardHandler),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create streaming service: %w", err)
		}
	}

	tokenAPI := api.NewTokenAPI(tokenStore, logger)
	webhookAPI := api.NewWebhookAPI(broadcaster, cfg.FCM.ChannelID, logger)

	mux := baseServer.Mux()
	corsMiddleware := middleware.NewCorsMiddleware(cfg.CorsConfig, logger)
	if authMiddleware == nil {
		logger.Warn("No auth middleware configured; diagnostic routes are open.")
		authMiddleware = func(next http.Handler) http.Handler { return next }
	}

	mux.Handle("OPTIONS /register", corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))
	mux.Handle("OPTIONS /tokens", corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})))

	mux.Handle("POST /register", corsMiddleware(http.HandlerFunc(tokenAPI.RegisterHandler)))
	mux.Handle("POST /webhook", http.HandlerFunc(webhookAPI.WebhookHandler))

	// Diagnostics expose unredacted tokens and destructive operations;
	// they sit behind the auth middleware.
	mux.Handle("GET /tokens", corsMiddleware(authMiddleware(http.HandlerFunc(tokenAPI.TokensHandler))))
	mux.Handle("DELETE /tokens", corsMiddleware(authMiddleware(http.HandlerFunc(tokenAPI.UnregisterHandler))))
	mux.Handle("POST /force_reload", authMiddleware(http.HandlerFunc(tokenAPI.ForceReloadHandler)))

	return &Wrapper{
		BaseServer:      baseServer,
		pipelineService: streamingService,
		logger:          logger,
	}, nil
}

func (w *Wrapper) Start(ctx context.Context) error {
	if w.pipelineService != nil {
		w.logger.Info("Core processing pipeline starting...")
		if err := w.pipelineService.Start(ctx); err != nil {
			return fmt.Errorf("failed to start processing service: %w", err)
		}
	}
	w.SetReady(true)
	w.logger.Info("Service is now ready.")
	return w.BaseServer.Start()
}

func (w *Wrapper) Shutdown(ctx context.Context) error {
	w.logger.Info("Shutting down service components...")
	var finalErr error
	if w.pipelineService != nil {
		if err := w.pipelineService.Stop(ctx); err != nil {
			w.logger.Error("Processing pipeline shutdown failed.", "err", err)
			finalErr = err
		}
	}
	if err := w.BaseServer.Shutdown(ctx); err != nil {
		w.logger.Error("HTTP server shutdown failed.", "err", err)
		finalErr = err
	}
	w.logger.Info("Service shutdown complete.")
	return finalErr
}
