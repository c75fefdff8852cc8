package fanout_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-loot-relay/internal/fanout"
	"github.com/tinywideclouds/go-loot-relay/pkg/dispatch"
	"github.com/tinywideclouds/go-loot-relay/pkg/loot"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- Mocks ---

type stubStore struct {
	tokens []string
	err    error
}

func (s *stubStore) Register(context.Context, string) (dispatch.RegisterResult, error) {
	return dispatch.RegisterResult{}, nil
}
func (s *stubStore) Snapshot(context.Context) ([]string, error) { return s.tokens, s.err }
func (s *stubStore) Remove(context.Context, string) error       { return nil }
func (s *stubStore) Reload(context.Context) error               { return nil }

// recordingSender fails sends for tokens matching failSubstr.
type recordingSender struct {
	mu         sync.Mutex
	sent       []string
	failSubstr string
}

func (s *recordingSender) Send(context.Context, string, loot.Message) error { return nil }

func (s *recordingSender) SendWithRetry(_ context.Context, token string, _ loot.Message) (int, error) {
	s.mu.Lock()
	s.sent = append(s.sent, token)
	s.mu.Unlock()
	if s.failSubstr != "" && strings.Contains(token, s.failSubstr) {
		return 4, errors.New("delivery exhausted")
	}
	return 1, nil
}

var testItem = loot.Item{Name: "Bones", Quantity: 3, PriceEach: 50}
var testMsg = loot.Message{Title: "OSRS Drop!", Body: "3x Bones (150 gp)", ChannelID: "c"}

func TestBroadcast(t *testing.T) {
	ctx := context.Background()

	t.Run("Delivers to every token in the snapshot", func(t *testing.T) {
		tokens := make([]string, 40)
		for i := range tokens {
			tokens[i] = fmt.Sprintf("device-%02d:APA91", i)
		}
		sender := &recordingSender{}
		b := fanout.NewBroadcaster(&stubStore{tokens: tokens}, sender, 8, newTestLogger())

		report := b.Broadcast(ctx, testItem, testMsg)

		assert.Len(t, report.Notifications, len(tokens))
		assert.Equal(t, len(tokens), report.Succeeded)
		assert.Zero(t, report.Failed)
		assert.ElementsMatch(t, tokens, sender.sent)
		assert.NotEmpty(t, report.BroadcastID)
		assert.Equal(t, "Bones", report.Item)
		assert.Equal(t, int64(150), report.Value)
	})

	t.Run("One device's failure affects no other device", func(t *testing.T) {
		tokens := []string{"good-1:APA91", "bad-device:APA91", "good-2:APA91"}
		sender := &recordingSender{failSubstr: "bad-device"}
		b := fanout.NewBroadcaster(&stubStore{tokens: tokens}, sender, 2, newTestLogger())

		report := b.Broadcast(ctx, testItem, testMsg)

		assert.Equal(t, 2, report.Succeeded)
		assert.Equal(t, 1, report.Failed)
		require.Len(t, report.Notifications, 3)

		for _, result := range report.Notifications {
			if strings.HasPrefix(result.Token, "bad-device") {
				assert.Equal(t, loot.StatusFailed, result.Status)
				assert.Equal(t, 4, result.Attempts)
				assert.NotEmpty(t, result.Error)
			} else {
				assert.Equal(t, loot.StatusSuccess, result.Status)
			}
		}
	})

	t.Run("Tokens are redacted in the report", func(t *testing.T) {
		sender := &recordingSender{}
		b := fanout.NewBroadcaster(&stubStore{tokens: []string{"abcdefghijklmnop:APA91"}}, sender, 1, newTestLogger())

		report := b.Broadcast(ctx, testItem, testMsg)

		require.Len(t, report.Notifications, 1)
		assert.Equal(t, "abcdefghij...", report.Notifications[0].Token)
	})

	t.Run("Empty registry produces an empty report", func(t *testing.T) {
		sender := &recordingSender{}
		b := fanout.NewBroadcaster(&stubStore{}, sender, 8, newTestLogger())

		report := b.Broadcast(ctx, testItem, testMsg)

		assert.Empty(t, report.Notifications)
		assert.Zero(t, report.Succeeded)
		assert.Empty(t, sender.sent)
	})

	t.Run("Snapshot failure yields a report, not an error", func(t *testing.T) {
		sender := &recordingSender{}
		b := fanout.NewBroadcaster(&stubStore{err: errors.New("backend down")}, sender, 8, newTestLogger())

		report := b.Broadcast(ctx, testItem, testMsg)

		require.NotNil(t, report)
		assert.Empty(t, report.Notifications)
	})
}
