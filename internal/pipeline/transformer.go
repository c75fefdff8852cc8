// Package pipeline adapts the broadcaster to a Pub/Sub event source, for
// deployments where drop events are published to a topic instead of (or as
// well as) arriving on the webhook.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"

	"github.com/tinywideclouds/go-loot-relay/pkg/loot"
)

// LootEventTransformer unmarshals a raw message payload into a loot.Event.
// Malformed payloads are skipped with an error so the streaming service
// can route them to the dead-letter topic instead of retrying forever.
func LootEventTransformer(
	_ context.Context,
	msg *messagepipeline.Message,
) (*loot.Event, bool, error) {
	var event loot.Event
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		return nil, true, fmt.Errorf("failed to unmarshal loot event from message %s: %w", msg.ID, err)
	}
	return &event, false, nil
}
