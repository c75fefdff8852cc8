// Package dispatch contains the public contracts between the relay's
// storage, delivery and fan-out components.
package dispatch

import (
	"context"
	"errors"
	"strings"

	"github.com/tinywideclouds/go-loot-relay/pkg/loot"
)

// ErrInvalidToken rejects registration input that cannot be a real device
// token: empty strings and strings without the ':' separator every FCM
// registration token carries.
var ErrInvalidToken = errors.New("invalid device token format")

// TokenSeparator is the character a well-formed registration token must
// contain. FCM tokens have the shape "<instance-id>:APA91...".
const TokenSeparator = ":"

// redactPrefixLen is how many leading characters of a token survive
// redaction in logs and delivery reports.
const redactPrefixLen = 10

// RegisterResult reports the outcome of a token registration.
type RegisterResult struct {
	// AlreadyPresent is true when the token was registered before this
	// call. Registration is idempotent, so this is informational only.
	AlreadyPresent bool
	// Total is the registry size after the call.
	Total int
}

// TokenStore defines the contract for the device token registry.
// Implementations must never hold duplicate or empty tokens.
type TokenStore interface {
	// Register adds a token to the registry. Registering an existing token
	// is a no-op that still succeeds. Returns ErrInvalidToken for input
	// rejected by ValidateToken.
	Register(ctx context.Context, token string) (RegisterResult, error)

	// Snapshot returns a point-in-time copy of all tokens, safe to iterate
	// while the live registry mutates.
	Snapshot(ctx context.Context) ([]string, error)

	// Remove deletes a token. Removing an absent token is not an error.
	Remove(ctx context.Context, token string) error

	// Reload discards in-memory state and re-reads the backing store. It is
	// a manual recovery path after external edits; backends that read
	// through on every Snapshot may treat it as a no-op.
	Reload(ctx context.Context) error
}

// Sender delivers one notification to one device token.
type Sender interface {
	// Send performs a single delivery attempt.
	Send(ctx context.Context, token string, msg loot.Message) error

	// SendWithRetry retries failed attempts with exponential backoff and
	// reports how many attempts were made, including the first.
	SendWithRetry(ctx context.Context, token string, msg loot.Message) (attempts int, err error)
}

// ValidateToken checks that a registration token is plausibly well-formed.
func ValidateToken(token string) error {
	if token == "" || !strings.Contains(token, TokenSeparator) {
		return ErrInvalidToken
	}
	return nil
}

// Redact shortens a token to a fixed-length prefix for logs and reports.
func Redact(token string) string {
	if len(token) <= redactPrefixLen {
		return token
	}
	return token[:redactPrefixLen] + "..."
}
