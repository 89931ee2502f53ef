package tokenfakerepo

import (
	"context"
	"sync"
	"time"

	"github.com/jrsteele09/classics-portal/token"
)

var _ token.Repo = (*FakeTokenRepo)(nil)

// FakeTokenRepo is an in-memory token.Repo. It counts writes so tests can assert on
// how often the store was touched.
type FakeTokenRepo struct {
	items   map[string]token.Item
	lock    sync.RWMutex
	nowFunc func() time.Time
	sets    int
	deletes int
}

func NewFakeTokenRepo() *FakeTokenRepo {
	return &FakeTokenRepo{
		items:   make(map[string]token.Item),
		nowFunc: time.Now,
	}
}

// WithNowFunc replaces the clock used to expire entries.
func (tr *FakeTokenRepo) WithNowFunc(now func() time.Time) *FakeTokenRepo {
	tr.lock.Lock()
	defer tr.lock.Unlock()
	tr.nowFunc = now
	return tr
}

func (tr *FakeTokenRepo) Get(_ context.Context, key string) (*token.Item, error) {
	tr.lock.RLock()
	item, ok := tr.items[key]
	now := tr.nowFunc()
	tr.lock.RUnlock()

	if !ok {
		return nil, nil
	}
	if item.IsExpired(now) {
		tr.lock.Lock()
		delete(tr.items, key)
		tr.lock.Unlock()
		return nil, nil
	}
	return &item, nil
}

func (tr *FakeTokenRepo) Set(_ context.Context, key, value string, ttl time.Duration) error {
	tr.lock.Lock()
	defer tr.lock.Unlock()

	item := token.Item{Value: value}
	if ttl > 0 {
		expiresAt := tr.nowFunc().Add(ttl)
		item.ExpiresAt = &expiresAt
	}
	tr.items[key] = item
	tr.sets++
	return nil
}

func (tr *FakeTokenRepo) Delete(_ context.Context, key string) error {
	tr.lock.Lock()
	defer tr.lock.Unlock()

	delete(tr.items, key)
	tr.deletes++
	return nil
}

// Sets returns the number of Set calls made so far.
func (tr *FakeTokenRepo) Sets() int {
	tr.lock.RLock()
	defer tr.lock.RUnlock()
	return tr.sets
}

// Len returns the number of stored keys, expired ones included.
func (tr *FakeTokenRepo) Len() int {
	tr.lock.RLock()
	defer tr.lock.RUnlock()
	return len(tr.items)
}
