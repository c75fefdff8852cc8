// Package fcm talks to the Firebase Cloud Messaging HTTP v1 API directly:
// service-account credential exchange, per-token sends and retry policy
// are all owned here rather than delegated to the Firebase SDK, so the
// relay controls exactly when a bearer is refreshed and how failures are
// retried.
package fcm

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// messagingScope authorizes calls to the FCM send endpoint.
const messagingScope = "https://www.googleapis.com/auth/firebase.messaging"

// expirySkew refreshes the bearer this long before it actually expires, so
// an in-flight send never carries a token that dies mid-request.
const expirySkew = 60 * time.Second

// ServiceAccount is the long-lived credential material for the push
// project, typically assembled from FIREBASE_* environment variables.
type ServiceAccount struct {
	ProjectID   string `json:"project_id"`
	PrivateKey  string `json:"private_key"`
	ClientEmail string `json:"client_email"`
	TokenURI    string `json:"token_uri"`
}

// CredentialError means a bearer token could not be obtained. It is not
// retried here; the send layer counts it as a failed attempt.
type CredentialError struct {
	Err error
}

func (e *CredentialError) Error() string {
	return fmt.Sprintf("credential exchange failed: %v", e.Err)
}

func (e *CredentialError) Unwrap() error {
	return e.Err
}

// TokenSource yields a bearer token for the messaging API. The concrete
// implementation is Credentials; the interface exists for test doubles.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Credentials exchanges service-account material for short-lived bearer
// tokens via the OAuth2 JWT-bearer grant and caches the result until near
// expiry. The cache is single-flight: concurrent callers during a refresh
// wait on the in-flight exchange instead of triggering duplicates.
type Credentials struct {
	account    ServiceAccount
	signingKey *rsa.PrivateKey
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time

	mu     sync.Mutex
	bearer string
	expiry time.Time
}

// NewCredentials validates the service-account material and parses the
// signing key once up front, so a malformed key fails at startup rather
// than on the first send.
func NewCredentials(account ServiceAccount, logger *slog.Logger) (*Credentials, error) {
	if account.ClientEmail == "" || account.PrivateKey == "" || account.ProjectID == "" {
		return nil, fmt.Errorf("service account material incomplete")
	}
	if account.TokenURI == "" {
		account.TokenURI = "https://oauth2.googleapis.com/token"
	}

	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(account.PrivateKey))
	if err != nil {
		return nil, fmt.Errorf("parse service account private key: %w", err)
	}

	return &Credentials{
		account:    account,
		signingKey: key,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger.With("component", "Credentials"),
		now:        time.Now,
	}, nil
}

// ProjectID exposes the project the credentials belong to, which the
// sender needs for the endpoint path.
func (c *Credentials) ProjectID() string {
	return c.account.ProjectID
}

// Token returns a cached bearer when it is still comfortably unexpired,
// otherwise performs a synchronous exchange. Exchange failures are wrapped
// in *CredentialError and never retried internally.
func (c *Credentials) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.bearer != "" && c.now().Before(c.expiry.Add(-expirySkew)) {
		return c.bearer, nil
	}

	bearer, expiry, err := c.exchange(ctx)
	if err != nil {
		return "", &CredentialError{Err: err}
	}

	c.bearer = bearer
	c.expiry = expiry
	c.logger.Debug("Bearer token refreshed", "expires", expiry)
	return bearer, nil
}

// exchange signs a JWT assertion with the service-account key and trades
// it for an access token at the identity provider.
func (c *Credentials) exchange(ctx context.Context) (string, time.Time, error) {
	issued := c.now()
	claims := jwt.MapClaims{
		"iss":   c.account.ClientEmail,
		"scope": messagingScope,
		"aud":   c.account.TokenURI,
		"iat":   issued.Unix(),
		"exp":   issued.Add(time.Hour).Unix(),
	}

	assertion, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(c.signingKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign assertion: %w", err)
	}

	form := url.Values{
		"grant_type": {"urn:ietf:params:oauth:grant-type:jwt-bearer"},
		"assertion":  {assertion},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.account.TokenURI, strings.NewReader(form.Encode()))
	if err != nil {
		return "", time.Time{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", time.Time{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", time.Time{}, fmt.Errorf("identity provider returned status %d", resp.StatusCode)
	}

	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", time.Time{}, fmt.Errorf("decode token response: %w", err)
	}
	if body.AccessToken == "" {
		return "", time.Time{}, fmt.Errorf("identity provider returned empty access token")
	}

	return body.AccessToken, issued.Add(time.Duration(body.ExpiresIn) * time.Second), nil
}
