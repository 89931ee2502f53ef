// Package filerepo persists session tokens in a JSON file so a session survives
// process restarts, the way cookies survive a browser restart.
package filerepo

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jrsteele09/classics-portal/token"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/nacl/secretbox"
)

const nonceSize = 24

var _ token.Repo = (*FileTokenRepo)(nil)

type storedItem struct {
	Value     string     `json:"value"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// FileTokenRepo is a token.Repo backed by a single JSON file. Every write rewrites
// the file through a temp file and rename.
type FileTokenRepo struct {
	path    string
	lock    sync.Mutex
	nowFunc func() time.Time
	key     *[32]byte // nil = plaintext
}

type Option func(*FileTokenRepo)

// WithNowFunc sets the clock used to expire entries (primarily for testing)
func WithNowFunc(now func() time.Time) Option {
	return func(r *FileTokenRepo) {
		r.nowFunc = now
	}
}

// WithPassphrase seals the file with NaCl secretbox under a key derived from
// passphrase. A file sealed under another passphrase reads as empty.
func WithPassphrase(passphrase string) Option {
	return func(r *FileTokenRepo) {
		if passphrase == "" {
			return
		}
		key := blake2b.Sum256([]byte(passphrase))
		r.key = &key
	}
}

// New creates the parent directory of path if needed. The file itself is created on
// first write.
func New(path string, options ...Option) (*FileTokenRepo, error) {
	if path == "" {
		return nil, errors.New("[FileTokenRepo New] path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("[FileTokenRepo New] create directory: %w", err)
	}

	r := &FileTokenRepo{path: path, nowFunc: time.Now}
	for _, opt := range options {
		opt(r)
	}
	return r, nil
}

func (r *FileTokenRepo) Get(_ context.Context, key string) (*token.Item, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	items, err := r.load()
	if err != nil {
		return nil, err
	}
	stored, ok := items[key]
	if !ok {
		return nil, nil
	}

	item := &token.Item{Value: stored.Value, ExpiresAt: stored.ExpiresAt}
	if item.IsExpired(r.nowFunc()) {
		delete(items, key)
		return nil, r.save(items)
	}
	return item, nil
}

func (r *FileTokenRepo) Set(_ context.Context, key, value string, ttl time.Duration) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	items, err := r.load()
	if err != nil {
		return err
	}

	stored := storedItem{Value: value}
	if ttl > 0 {
		expiresAt := r.nowFunc().Add(ttl).UTC()
		stored.ExpiresAt = &expiresAt
	}
	items[key] = stored
	return r.save(items)
}

func (r *FileTokenRepo) Delete(_ context.Context, key string) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	items, err := r.load()
	if err != nil {
		return err
	}
	if _, ok := items[key]; !ok {
		return nil
	}
	delete(items, key)
	return r.save(items)
}

// load returns an empty map for a missing file. A file that does not parse is treated
// as empty so a damaged jar logs the user out instead of wedging every call.
func (r *FileTokenRepo) load() (map[string]storedItem, error) {
	items := make(map[string]storedItem)

	data, err := os.ReadFile(r.path)
	if errors.Is(err, os.ErrNotExist) {
		return items, nil
	}
	if err != nil {
		return nil, fmt.Errorf("[FileTokenRepo load] %w", err)
	}
	if r.key != nil {
		var ok bool
		if data, ok = r.open(data); !ok {
			return items, nil
		}
	}
	if err := json.Unmarshal(data, &items); err != nil {
		return make(map[string]storedItem), nil
	}
	return items, nil
}

func (r *FileTokenRepo) save(items map[string]storedItem) error {
	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return fmt.Errorf("[FileTokenRepo save] marshal: %w", err)
	}
	if r.key != nil {
		if data, err = r.seal(data); err != nil {
			return err
		}
	}

	tempFile := r.path + ".tmp"
	if err := os.WriteFile(tempFile, data, 0o600); err != nil {
		return fmt.Errorf("[FileTokenRepo save] write temp file: %w", err)
	}
	if err := os.Rename(tempFile, r.path); err != nil {
		_ = os.Remove(tempFile)
		return fmt.Errorf("[FileTokenRepo save] rename temp file: %w", err)
	}
	return nil
}

func (r *FileTokenRepo) seal(plain []byte) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("[FileTokenRepo seal] nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], plain, &nonce, r.key), nil
}

func (r *FileTokenRepo) open(sealed []byte) ([]byte, bool) {
	if len(sealed) < nonceSize+secretbox.Overhead {
		return nil, false
	}
	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])
	return secretbox.Open(nil, sealed[nonceSize:], &nonce, r.key)
}
