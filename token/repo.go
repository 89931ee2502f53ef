package token

import (
	"context"
	"time"
)

// Item is a stored token value with its expiry metadata.
type Item struct {
	Value     string
	ExpiresAt *time.Time // nil = no expiration
}

// IsExpired checks if the item has expired at the given time
func (i *Item) IsExpired(now time.Time) bool {
	return i.ExpiresAt != nil && !now.Before(*i.ExpiresAt)
}

// Repo is the key-value persistence port underneath Store. It plays the role a
// browser's cookie jar plays for the web client: per-key values with an optional TTL.
type Repo interface {
	// Get returns nil when the key doesn't exist or has expired.
	Get(ctx context.Context, key string) (*Item, error)
	// Set stores value under key. A ttl of zero means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// Write is one key change applied by BatchRepo.Apply. An empty Value deletes the key.
type Write struct {
	Key   string
	Value string
	TTL   time.Duration
}

// BatchRepo is implemented by repos that can read and write several keys atomically.
// Store uses it for Pair, SetPair and ClearAll so processes sharing the repo never see
// half of a pair.
type BatchRepo interface {
	Repo
	// GetMany returns one item per key, nil where the key is missing or expired.
	GetMany(ctx context.Context, keys []string) ([]*Item, error)
	Apply(ctx context.Context, writes []Write) error
}
