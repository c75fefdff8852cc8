package fcm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/tinywideclouds/go-loot-relay/pkg/dispatch"
	"github.com/tinywideclouds/go-loot-relay/pkg/loot"
)

// defaultEndpoint is the FCM HTTP v1 API host.
const defaultEndpoint = "https://fcm.googleapis.com"

// SenderConfig tunes delivery behavior.
type SenderConfig struct {
	Endpoint  string
	ProjectID string
	// MaxRetries is the number of attempts after the first. Zero means a
	// single attempt; negative selects the default of 3.
	MaxRetries int
	Timeout    time.Duration
	// BackoffUnit scales the exponential delay; production uses one second
	// (2s, 4s, 8s, ...), tests shrink it.
	BackoffUnit time.Duration
}

// Sender delivers notifications to single devices over the FCM v1 REST
// API. Every attempt fetches a bearer from the token source, so credential
// refresh failures count as failed attempts rather than a separate error
// class.
type Sender struct {
	cfg    SenderConfig
	creds  TokenSource
	client *http.Client
	logger *slog.Logger
}

func NewSender(cfg SenderConfig, creds TokenSource, logger *slog.Logger) *Sender {
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultEndpoint
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.BackoffUnit <= 0 {
		cfg.BackoffUnit = time.Second
	}
	return &Sender{
		cfg:    cfg,
		creds:  creds,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.With("component", "FCMSender"),
	}
}

// v1 message envelope. The android block requests high-priority delivery
// on a fixed notification channel with default sound and public lockscreen
// visibility.
type sendRequest struct {
	Message message `json:"message"`
}

type message struct {
	Token        string         `json:"token"`
	Notification *notification  `json:"notification"`
	Android      *androidConfig `json:"android"`
}

type notification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

type androidConfig struct {
	Priority     string               `json:"priority"`
	Notification *androidNotification `json:"notification"`
}

type androidNotification struct {
	ChannelID  string `json:"channel_id"`
	Sound      string `json:"sound"`
	Visibility string `json:"visibility"`
}

// Send performs a single delivery attempt. Any transport error or non-2xx
// response is a failure.
func (s *Sender) Send(ctx context.Context, token string, msg loot.Message) error {
	bearer, err := s.creds.Token(ctx)
	if err != nil {
		return err
	}

	envelope := sendRequest{
		Message: message{
			Token:        token,
			Notification: &notification{Title: msg.Title, Body: msg.Body},
			Android: &androidConfig{
				Priority: "high",
				Notification: &androidNotification{
					ChannelID:  msg.ChannelID,
					Sound:      "default",
					Visibility: "public",
				},
			},
		},
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("marshal send request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1/projects/%s/messages:send", s.cfg.Endpoint, s.cfg.ProjectID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("fcm transport failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		if resp.StatusCode == http.StatusNotFound {
			// UNREGISTERED: the app was likely uninstalled. The token stays
			// registered; pruning is an operator action.
			s.logger.Warn("FCM reports token unregistered", "token", dispatch.Redact(token))
		}
		return fmt.Errorf("fcm returned status %d: %s", resp.StatusCode, detail)
	}
	return nil
}

// SendWithRetry retries failed sends up to MaxRetries additional times
// with exponential backoff (2^attempt units: 2s, 4s, 8s, ...). The delay
// is a cancellable timer, not a blocking sleep, so a shutdown aborts the
// backoff immediately.
func (s *Sender) SendWithRetry(ctx context.Context, token string, msg loot.Message) (int, error) {
	var lastErr error
	maxAttempts := s.cfg.MaxRetries + 1

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = s.Send(ctx, token, msg)
		if lastErr == nil {
			return attempt, nil
		}

		if attempt == maxAttempts {
			break
		}

		delay := s.cfg.BackoffUnit * time.Duration(1<<attempt)
		s.logger.Debug("Send failed, backing off",
			"token", dispatch.Redact(token), "attempt", attempt, "delay", delay, "err", lastErr)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempt, ctx.Err()
		case <-timer.C:
		}
	}

	return maxAttempts, lastErr
}
