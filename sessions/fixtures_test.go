package sessions_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/classics-portal/backend"
	"github.com/jrsteele09/classics-portal/sessions"
	"github.com/jrsteele09/classics-portal/token"
	tokenfakerepo "github.com/jrsteele09/classics-portal/token/repofake"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func mintToken(t *testing.T, claims jwtlib.MapClaims) string {
	t.Helper()
	raw, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString([]byte("test-key"))
	require.NoError(t, err)
	return raw
}

func freshAccess(t *testing.T, tag string) string {
	return mintToken(t, jwtlib.MapClaims{"exp": time.Now().Add(time.Hour).Unix(), "jti": tag})
}

func staleAccess(t *testing.T) string {
	return mintToken(t, jwtlib.MapClaims{"exp": time.Now().Add(-time.Hour).Unix()})
}

func refreshFor(t *testing.T, username string) string {
	return mintToken(t, jwtlib.MapClaims{
		"username":   username,
		"permission": 1,
		"exp":        time.Now().Add(30 * 24 * time.Hour).Unix(),
	})
}

// fakeBackend implements sessions.RefreshBackend and sessions.LoginBackend.
type fakeBackend struct {
	refreshCalls atomic.Int32
	loginCalls   atomic.Int32

	// entered is closed when the first refresh call starts; release, when set, holds
	// refresh calls until it is closed.
	entered     chan struct{}
	enteredOnce sync.Once
	release     chan struct{}

	lock       sync.Mutex
	creds      *backend.TokenCredentials
	err        error
	loginCreds *backend.TokenCredentials
	loginErr   error
	gotRefresh []string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{entered: make(chan struct{})}
}

func (f *fakeBackend) Refresh(ctx context.Context, refreshToken string) (*backend.TokenCredentials, error) {
	f.refreshCalls.Add(1)
	f.enteredOnce.Do(func() { close(f.entered) })
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.lock.Lock()
	defer f.lock.Unlock()
	f.gotRefresh = append(f.gotRefresh, refreshToken)
	return f.creds, f.err
}

func (f *fakeBackend) Login(_ context.Context, _ backend.Credentials) (*backend.TokenCredentials, error) {
	f.loginCalls.Add(1)
	f.lock.Lock()
	defer f.lock.Unlock()
	return f.loginCreds, f.loginErr
}

type fixture struct {
	store     *token.Store
	repo      *tokenfakerepo.FakeTokenRepo
	validator *token.Validator
	backend   *fakeBackend
	refresher *sessions.Refresher
	events    []sessions.Event
	eventLock sync.Mutex
}

func newFixture(t *testing.T, be *fakeBackend) *fixture {
	t.Helper()
	f := &fixture{
		repo:      tokenfakerepo.NewFakeTokenRepo(),
		validator: token.NewValidator(nil),
		backend:   be,
	}
	f.store = token.NewStore(f.repo)
	f.refresher = sessions.NewRefresher(f.store, f.validator, be,
		sessions.WithTimeout(5*time.Second),
		sessions.WithRefresherLogger(zerolog.Nop()),
	)
	unsubscribe := f.refresher.Events().Subscribe(func(ev sessions.Event) {
		f.eventLock.Lock()
		f.events = append(f.events, ev)
		f.eventLock.Unlock()
	})
	t.Cleanup(unsubscribe)
	return f
}

func (f *fixture) seed(t *testing.T, access, refresh string) {
	t.Helper()
	require.NoError(t, f.store.SetPair(context.Background(), token.Pair{Access: access, Refresh: refresh}))
}

func (f *fixture) pair(t *testing.T) token.Pair {
	t.Helper()
	p, err := f.store.Pair(context.Background())
	require.NoError(t, err)
	return p
}

func (f *fixture) eventKinds() []sessions.EventKind {
	f.eventLock.Lock()
	defer f.eventLock.Unlock()
	kinds := make([]sessions.EventKind, 0, len(f.events))
	for _, ev := range f.events {
		kinds = append(kinds, ev.Kind)
	}
	return kinds
}

func (f *fixture) lastEvent(t *testing.T) sessions.Event {
	t.Helper()
	f.eventLock.Lock()
	defer f.eventLock.Unlock()
	require.NotEmpty(t, f.events)
	return f.events[len(f.events)-1]
}
