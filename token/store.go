package token

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Store owns the persisted token bytes. It performs no validation: values and
// expiries are forwarded to the Repo as given.
//
// Writes are visible to every reader of the same Store as soon as the call returns.
// Pair and SetPair hold the store lock across both keys so no reader observes a new
// access token next to a stale refresh token.
type Store struct {
	repo    Repo
	mu      sync.RWMutex
	nowFunc func() time.Time
}

type StoreOption func(*Store)

// WithStoreNowFunc sets the clock used to turn expiries into TTLs (primarily for testing)
func WithStoreNowFunc(now func() time.Time) StoreOption {
	return func(s *Store) {
		s.nowFunc = now
	}
}

func NewStore(repo Repo, options ...StoreOption) *Store {
	s := &Store{
		repo:    repo,
		nowFunc: time.Now,
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// Get returns the token of the given kind, or "" when absent.
func (s *Store) Get(ctx context.Context, kind Kind) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, err := s.get(ctx, kind)
	if err != nil || item == nil {
		return "", err
	}
	return item.Value, nil
}

// Set stores a token. A zero expiry stores it without TTL; an expiry in the past or an
// empty value clears it.
func (s *Store) Set(ctx context.Context, kind Kind, value string, expiry time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.set(ctx, kind, value, expiry)
}

func (s *Store) Clear(ctx context.Context, kind Kind) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.repo.Delete(ctx, kind.String()); err != nil {
		return fmt.Errorf("[Store Clear] %s: %w", kind, err)
	}
	return nil
}

// ClearAll removes both tokens, access first so that a concurrent reader of a shared
// backend never finds an access token without its refresh token.
func (s *Store) ClearAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if batch, ok := s.repo.(BatchRepo); ok {
		writes := []Write{{Key: Access.String()}, {Key: Refresh.String()}}
		if err := batch.Apply(ctx, writes); err != nil {
			return fmt.Errorf("[Store ClearAll] %w", err)
		}
		return nil
	}

	for _, kind := range []Kind{Access, Refresh} {
		if err := s.repo.Delete(ctx, kind.String()); err != nil {
			return fmt.Errorf("[Store ClearAll] %s: %w", kind, err)
		}
	}
	return nil
}

// Pair reads both tokens as one consistent snapshot.
func (s *Store) Pair(ctx context.Context) (Pair, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var access, refresh *Item
	if batch, ok := s.repo.(BatchRepo); ok {
		items, err := batch.GetMany(ctx, []string{Access.String(), Refresh.String()})
		if err != nil {
			return Pair{}, fmt.Errorf("[Store Pair] %w", err)
		}
		if len(items) != 2 {
			return Pair{}, fmt.Errorf("[Store Pair] expected 2 items, got %d", len(items))
		}
		access, refresh = s.live(items[0]), s.live(items[1])
	} else {
		var err error
		if access, err = s.get(ctx, Access); err != nil {
			return Pair{}, err
		}
		if refresh, err = s.get(ctx, Refresh); err != nil {
			return Pair{}, err
		}
	}

	var p Pair
	if access != nil {
		p.Access = access.Value
		p.AccessExpiry = expiryOf(access)
	}
	if refresh != nil {
		p.Refresh = refresh.Value
		p.RefreshExpiry = expiryOf(refresh)
	}
	return p, nil
}

// SetPair replaces both tokens. The refresh token is written first.
func (s *Store) SetPair(ctx context.Context, p Pair) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if batch, ok := s.repo.(BatchRepo); ok {
		writes := []Write{
			s.write(Refresh, p.Refresh, p.RefreshExpiry),
			s.write(Access, p.Access, p.AccessExpiry),
		}
		if err := batch.Apply(ctx, writes); err != nil {
			return fmt.Errorf("[Store SetPair] %w", err)
		}
		return nil
	}

	if err := s.set(ctx, Refresh, p.Refresh, p.RefreshExpiry); err != nil {
		return err
	}
	return s.set(ctx, Access, p.Access, p.AccessExpiry)
}

func (s *Store) get(ctx context.Context, kind Kind) (*Item, error) {
	item, err := s.repo.Get(ctx, kind.String())
	if err != nil {
		return nil, fmt.Errorf("[Store Get] %s: %w", kind, err)
	}
	return s.live(item), nil
}

func (s *Store) live(item *Item) *Item {
	if item == nil || item.IsExpired(s.nowFunc()) {
		return nil
	}
	return item
}

// write turns a value and expiry into a repo write. Empty values and expiries in the
// past become deletes.
func (s *Store) write(kind Kind, value string, expiry time.Time) Write {
	w := Write{Key: kind.String()}
	if value == "" {
		return w
	}
	if !expiry.IsZero() {
		w.TTL = expiry.Sub(s.nowFunc())
		if w.TTL <= 0 {
			return Write{Key: kind.String()}
		}
	}
	w.Value = value
	return w
}

func (s *Store) set(ctx context.Context, kind Kind, value string, expiry time.Time) error {
	w := s.write(kind, value, expiry)
	if w.Value == "" {
		if err := s.repo.Delete(ctx, w.Key); err != nil {
			return fmt.Errorf("[Store Set] clear %s: %w", kind, err)
		}
		return nil
	}

	if err := s.repo.Set(ctx, w.Key, w.Value, w.TTL); err != nil {
		return fmt.Errorf("[Store Set] %s: %w", kind, err)
	}
	return nil
}

func expiryOf(item *Item) time.Time {
	if item.ExpiresAt == nil {
		return time.Time{}
	}
	return *item.ExpiresAt
}
