// Package fanout sends one message independently to every registered
// device and aggregates the per-device outcomes into a delivery report.
package fanout

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tinywideclouds/go-loot-relay/pkg/dispatch"
	"github.com/tinywideclouds/go-loot-relay/pkg/loot"
)

// defaultWorkers bounds concurrent sends. Retry backoff makes a single
// slow device expensive, so devices are processed in parallel; a small
// pool keeps the provider happy at our request volumes.
const defaultWorkers = 8

// Broadcaster fans a single event out to all tokens in the store.
type Broadcaster struct {
	store   dispatch.TokenStore
	sender  dispatch.Sender
	workers int
	logger  *slog.Logger
}

func NewBroadcaster(store dispatch.TokenStore, sender dispatch.Sender, workers int, logger *slog.Logger) *Broadcaster {
	if workers <= 0 {
		workers = defaultWorkers
	}
	return &Broadcaster{
		store:   store,
		sender:  sender,
		workers: workers,
		logger:  logger.With("component", "Broadcaster"),
	}
}

// Broadcast snapshots the token set, delivers the message to each token
// through the retrying sender, and assembles the report. Delivery failures
// are recorded per device and never surfaced as an error: a provider-wide
// outage manifests as an all-failed report, not a failed request.
//
// Registrations made while a broadcast is in flight are not visible to it;
// the report covers exactly the snapshot taken here.
func (b *Broadcaster) Broadcast(ctx context.Context, item loot.Item, msg loot.Message) *loot.DeliveryReport {
	report := &loot.DeliveryReport{
		BroadcastID: uuid.NewString(),
		Item:        item.Name,
		Quantity:    item.Quantity,
		Value:       item.TotalValue(),
		Time:        time.Now().Format("15:04:05"),
	}

	tokens, err := b.store.Snapshot(ctx)
	if err != nil {
		// A registry read failure means nobody can be addressed. Report it
		// as zero deliveries rather than aborting the webhook.
		b.logger.Error("Token snapshot failed, skipping broadcast", "err", err)
		report.Notifications = []loot.DeliveryResult{}
		return report
	}

	report.Notifications = make([]loot.DeliveryResult, 0, len(tokens))
	if len(tokens) == 0 {
		b.logger.Info("No registered devices; nothing to broadcast", "broadcast_id", report.BroadcastID)
		return report
	}

	workers := b.workers
	if workers > len(tokens) {
		workers = len(tokens)
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	work := make(chan string)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for token := range work {
				result := b.deliver(ctx, token, msg)
				mu.Lock()
				report.Notifications = append(report.Notifications, result)
				if result.Status == loot.StatusSuccess {
					report.Succeeded++
				} else {
					report.Failed++
				}
				mu.Unlock()
			}
		}()
	}

	for _, token := range tokens {
		work <- token
	}
	close(work)
	wg.Wait()

	b.logger.Info("Broadcast complete",
		"broadcast_id", report.BroadcastID,
		"item", report.Item,
		"value", report.Value,
		"devices", len(tokens),
		"succeeded", report.Succeeded,
		"failed", report.Failed,
	)
	return report
}

func (b *Broadcaster) deliver(ctx context.Context, token string, msg loot.Message) loot.DeliveryResult {
	attempts, err := b.sender.SendWithRetry(ctx, token, msg)
	result := loot.DeliveryResult{
		Token:    dispatch.Redact(token),
		Attempts: attempts,
	}
	switch {
	case err == nil:
		result.Status = loot.StatusSuccess
	case ctx.Err() != nil:
		result.Status = loot.StatusError
		result.Error = err.Error()
	default:
		result.Status = loot.StatusFailed
		result.Error = err.Error()
	}
	return result
}
