package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"

	"github.com/tinywideclouds/go-loot-relay/internal/fanout"
	"github.com/tinywideclouds/go-loot-relay/pkg/loot"
)

// NewProcessor creates the pipeline stage that turns a consumed loot event
// into a broadcast. Events with no valuable item are dropped silently;
// delivery failures live in the report and never nack the message.
func NewProcessor(
	broadcaster *fanout.Broadcaster,
	channelID string,
	logger *slog.Logger,
) messagepipeline.StreamProcessor[loot.Event] {

	return func(ctx context.Context, original messagepipeline.Message, event *loot.Event) error {
		procLogger := logger.With("pubsub_msg_id", original.ID)

		top := loot.TopItem(event.Items)
		if top == nil {
			procLogger.Info("Loot event carried no items; dropping.")
			return nil
		}

		msg := loot.NewDropMessage(*top, event.Source, time.Now(), channelID)
		report := broadcaster.Broadcast(ctx, *top, msg)

		procLogger.Info("Loot event dispatched",
			"broadcast_id", report.BroadcastID,
			"item", report.Item,
			"succeeded", report.Succeeded,
			"failed", report.Failed,
		)
		return nil
	}
}
