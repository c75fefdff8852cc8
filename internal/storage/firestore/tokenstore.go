// Package firestore implements the device token registry on Google Cloud
// Firestore, for deployments where the relay does not own local disk.
package firestore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"

	"github.com/tinywideclouds/go-loot-relay/pkg/dispatch"
)

// Store implements dispatch.TokenStore using Firestore.
type Store struct {
	client     *firestore.Client
	collection string
}

// deviceRecord is the internal DB representation of one registered device.
type deviceRecord struct {
	Token     string    `firestore:"token"`
	UpdatedAt time.Time `firestore:"updated_at"`
}

// NewStore creates a Firestore-backed registry rooted at the given
// collection ("devices" when empty).
func NewStore(client *firestore.Client, collection string) *Store {
	if collection == "" {
		collection = "devices"
	}
	return &Store{client: client, collection: collection}
}

// Register upserts the token under a hash-derived document ID, which
// prevents duplicates and hot-spotting on sequential IDs.
func (s *Store) Register(ctx context.Context, token string) (dispatch.RegisterResult, error) {
	if err := dispatch.ValidateToken(token); err != nil {
		return dispatch.RegisterResult{}, err
	}

	ref := s.devices().Doc(hashToken(token))

	_, err := ref.Get(ctx)
	alreadyPresent := err == nil

	record := deviceRecord{Token: token, UpdatedAt: time.Now()}
	if _, err := ref.Set(ctx, record); err != nil {
		return dispatch.RegisterResult{}, fmt.Errorf("firestore set failed: %w", err)
	}

	total, err := s.count(ctx)
	if err != nil {
		return dispatch.RegisterResult{}, err
	}
	return dispatch.RegisterResult{AlreadyPresent: alreadyPresent, Total: total}, nil
}

// Snapshot reads the full registry.
func (s *Store) Snapshot(ctx context.Context) ([]string, error) {
	iter := s.devices().Documents(ctx)
	defer iter.Stop()

	tokens := make([]string, 0)
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("firestore iteration failed: %w", err)
		}

		var record deviceRecord
		if err := doc.DataTo(&record); err != nil {
			// Skip rows written by other tooling; they cannot be addressed.
			continue
		}
		if record.Token != "" {
			tokens = append(tokens, record.Token)
		}
	}
	return tokens, nil
}

// Remove deletes the token's document. Deleting an absent document is not
// an error in Firestore, which matches the contract.
func (s *Store) Remove(ctx context.Context, token string) error {
	if _, err := s.devices().Doc(hashToken(token)).Delete(ctx); err != nil {
		return fmt.Errorf("firestore delete failed: %w", err)
	}
	return nil
}

// Reload is a no-op: every Snapshot reads through to Firestore.
func (s *Store) Reload(context.Context) error {
	return nil
}

func (s *Store) count(ctx context.Context) (int, error) {
	iter := s.devices().Documents(ctx)
	defer iter.Stop()

	n := 0
	for {
		_, err := iter.Next()
		if err == iterator.Done {
			return n, nil
		}
		if err != nil {
			return 0, fmt.Errorf("firestore iteration failed: %w", err)
		}
		n++
	}
}

func (s *Store) devices() *firestore.CollectionRef {
	return s.client.Collection(s.collection)
}

func hashToken(t string) string {
	sum := sha256.Sum256([]byte(t))
	return hex.EncodeToString(sum[:])
}
