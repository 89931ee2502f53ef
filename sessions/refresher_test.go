package sessions_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/classics-portal/backend"
	"github.com/jrsteele09/classics-portal/internal/errors"
	"github.com/jrsteele09/classics-portal/sessions"
	"github.com/jrsteele09/classics-portal/token"
	tokenfakerepo "github.com/jrsteele09/classics-portal/token/repofake"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestRefresher_NoRefreshTokenIsInvalid(t *testing.T) {
	f := newFixture(t, newFakeBackend())

	state, err := f.refresher.EnsureFresh(context.Background())
	require.NoError(t, err)
	require.Equal(t, sessions.StateInvalid, state)
	require.Zero(t, f.backend.refreshCalls.Load())
}

func TestRefresher_FreshAccessSkipsBackend(t *testing.T) {
	f := newFixture(t, newFakeBackend())
	f.seed(t, freshAccess(t, "a1"), refreshFor(t, "sensei"))

	state, err := f.refresher.EnsureFresh(context.Background())
	require.NoError(t, err)
	require.Equal(t, sessions.StateReady, state)
	require.Zero(t, f.backend.refreshCalls.Load())
}

func TestRefresher_RefreshesStaleAccess(t *testing.T) {
	be := newFakeBackend()
	f := newFixture(t, be)
	refresh := refreshFor(t, "sensei")
	newAccess := freshAccess(t, "a2")
	be.creds = &backend.TokenCredentials{AccessToken: newAccess}
	f.seed(t, staleAccess(t), refresh)

	state, err := f.refresher.EnsureFresh(context.Background())
	require.NoError(t, err)
	require.Equal(t, sessions.StateReady, state)
	require.Equal(t, []string{refresh}, be.gotRefresh)

	p := f.pair(t)
	require.Equal(t, newAccess, p.Access)
	require.Equal(t, refresh, p.Refresh, "refresh token kept when not rotated")
	require.False(t, p.AccessExpiry.IsZero())
	require.Equal(t, []sessions.EventKind{sessions.EventRefreshed}, f.eventKinds())
}

func TestRefresher_ConcurrentCallersShareOneRefresh(t *testing.T) {
	be := newFakeBackend()
	be.release = make(chan struct{})
	be.creds = &backend.TokenCredentials{AccessToken: freshAccess(t, "a2")}
	f := newFixture(t, be)
	f.seed(t, "", refreshFor(t, "sensei"))

	const callers = 25
	var wg sync.WaitGroup
	states := make([]sessions.SessionState, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			states[i], errs[i] = f.refresher.EnsureFresh(context.Background())
		}(i)
	}

	<-be.entered
	require.Equal(t, sessions.StateRefreshing, f.refresher.State())
	time.Sleep(20 * time.Millisecond)
	close(be.release)
	wg.Wait()

	require.Equal(t, int32(1), be.refreshCalls.Load())
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, sessions.StateReady, states[i])
	}
}

func TestRefresher_RotationIsNeverTorn(t *testing.T) {
	be := newFakeBackend()
	oldRefresh := refreshFor(t, "old")
	newAccess := freshAccess(t, "a2")
	newRefresh := refreshFor(t, "new")
	be.creds = &backend.TokenCredentials{AccessToken: newAccess, RefreshToken: newRefresh}
	be.release = make(chan struct{})
	f := newFixture(t, be)
	f.seed(t, staleAccess(t), oldRefresh)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := f.refresher.EnsureFresh(context.Background())
		require.NoError(t, err)
	}()

	<-be.entered
	close(be.release)

	// Readers racing the write must never see the new access token next to the
	// old refresh token.
	for {
		p := f.pair(t)
		if p.Access == newAccess {
			require.Equal(t, newRefresh, p.Refresh)
		}
		select {
		case <-done:
			p = f.pair(t)
			require.Equal(t, newAccess, p.Access)
			require.Equal(t, newRefresh, p.Refresh)
			return
		default:
		}
	}
}

func TestRefresher_FailureClearsSession(t *testing.T) {
	for _, kind := range []errors.RefreshKind{errors.RefreshNetwork, errors.RefreshRejected, errors.RefreshMalformed} {
		t.Run(kind.String(), func(t *testing.T) {
			be := newFakeBackend()
			be.err = &errors.RefreshError{Kind: kind}
			f := newFixture(t, be)
			f.seed(t, staleAccess(t), refreshFor(t, "sensei"))

			state, err := f.refresher.EnsureFresh(context.Background())
			require.Equal(t, sessions.StateInvalid, state)
			require.ErrorIs(t, err, errors.ErrRefreshFailed)

			var refreshErr *errors.RefreshError
			require.ErrorAs(t, err, &refreshErr)
			require.Equal(t, kind, refreshErr.Kind)

			require.Empty(t, f.pair(t).Access)
			require.Empty(t, f.pair(t).Refresh)

			ev := f.lastEvent(t)
			require.Equal(t, sessions.EventSessionInvalidated, ev.Kind)
			require.ErrorIs(t, ev.Reason, errors.ErrRefreshFailed)
		})
	}
}

func TestRefresher_UnclassifiedBackendErrorIsNetwork(t *testing.T) {
	be := newFakeBackend()
	be.err = errors.New("dial tcp: connection refused")
	f := newFixture(t, be)
	f.seed(t, "", refreshFor(t, "sensei"))

	_, err := f.refresher.EnsureFresh(context.Background())
	var refreshErr *errors.RefreshError
	require.ErrorAs(t, err, &refreshErr)
	require.Equal(t, errors.RefreshNetwork, refreshErr.Kind)
}

func TestRefresher_CallerCancelDoesNotAbortRefresh(t *testing.T) {
	be := newFakeBackend()
	be.release = make(chan struct{})
	newAccess := freshAccess(t, "a2")
	be.creds = &backend.TokenCredentials{AccessToken: newAccess}
	f := newFixture(t, be)
	f.seed(t, "", refreshFor(t, "sensei"))

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() {
		_, err := f.refresher.EnsureFresh(ctx)
		result <- err
	}()

	<-be.entered
	cancel()
	require.ErrorIs(t, <-result, context.Canceled)

	close(be.release)
	require.Eventually(t, func() bool {
		return f.pair(t).Access == newAccess
	}, time.Second, 5*time.Millisecond)
}

func TestRefresher_InvalidateDuringRefreshDiscardsResult(t *testing.T) {
	be := newFakeBackend()
	be.release = make(chan struct{})
	be.creds = &backend.TokenCredentials{AccessToken: freshAccess(t, "a2")}
	f := newFixture(t, be)
	f.seed(t, "", refreshFor(t, "sensei"))

	result := make(chan sessions.SessionState, 1)
	go func() {
		state, _ := f.refresher.EnsureFresh(context.Background())
		result <- state
	}()

	<-be.entered
	require.NoError(t, f.refresher.Invalidate(context.Background(), errors.ErrLoggedOut))
	close(be.release)

	require.Equal(t, sessions.StateInvalid, <-result)
	require.Empty(t, f.pair(t).Access)
	require.Empty(t, f.pair(t).Refresh)
}

func TestRefresher_InvalidIsLeftByNewTokens(t *testing.T) {
	f := newFixture(t, newFakeBackend())

	state, err := f.refresher.EnsureFresh(context.Background())
	require.NoError(t, err)
	require.Equal(t, sessions.StateInvalid, state)

	f.seed(t, freshAccess(t, "a1"), refreshFor(t, "sensei"))
	state, err = f.refresher.EnsureFresh(context.Background())
	require.NoError(t, err)
	require.Equal(t, sessions.StateReady, state)
}

// singleUseBackend accepts each refresh token once, like a rotating auth server. Both
// callers are held until the second arrives; the one that loses is held again until
// gate is closed.
type singleUseBackend struct {
	calls atomic.Int32
	both  chan struct{}
	gate  chan struct{}
	next  *backend.TokenCredentials

	lock sync.Mutex
	used map[string]bool
}

func (b *singleUseBackend) Refresh(_ context.Context, refreshToken string) (*backend.TokenCredentials, error) {
	if b.calls.Add(1) == 2 {
		close(b.both)
	}
	<-b.both

	b.lock.Lock()
	first := !b.used[refreshToken]
	b.used[refreshToken] = true
	b.lock.Unlock()

	if first {
		return b.next, nil
	}
	<-b.gate
	return nil, &errors.RefreshError{Kind: errors.RefreshRejected, Err: errors.New("refresh token already used")}
}

func TestRefresher_SharedStoreLoserKeepsRotatedSession(t *testing.T) {
	ctx := context.Background()
	sessionExp := time.Now().Add(24 * time.Hour).Unix()
	oldRefresh := mintToken(t, jwtlib.MapClaims{"username": "sensei", "exp": sessionExp, "jti": "r0"})
	newRefresh := mintToken(t, jwtlib.MapClaims{"username": "sensei", "exp": sessionExp, "jti": "r1"})
	newAccess := freshAccess(t, "a1")

	be := &singleUseBackend{
		both: make(chan struct{}),
		gate: make(chan struct{}),
		next: &backend.TokenCredentials{AccessToken: newAccess, RefreshToken: newRefresh},
		used: map[string]bool{},
	}

	// Two processes: one repo, separate stores and refreshers.
	repo := tokenfakerepo.NewFakeTokenRepo()
	validator := token.NewValidator(nil)
	newProcess := func() (*token.Store, *sessions.Refresher) {
		store := token.NewStore(repo)
		return store, sessions.NewRefresher(store, validator, be, sessions.WithRefresherLogger(zerolog.Nop()))
	}
	storeA, refresherA := newProcess()
	_, refresherB := newProcess()
	require.NoError(t, storeA.SetPair(ctx, token.Pair{Access: staleAccess(t), Refresh: oldRefresh}))

	type result struct {
		state sessions.SessionState
		err   error
	}
	results := make(chan result, 2)
	for _, r := range []*sessions.Refresher{refresherA, refresherB} {
		go func(r *sessions.Refresher) {
			state, err := r.EnsureFresh(ctx)
			results <- result{state, err}
		}(r)
	}

	winner := <-results
	require.NoError(t, winner.err)
	require.Equal(t, sessions.StateReady, winner.state)

	close(be.gate)
	loser := <-results
	require.NoError(t, loser.err)
	require.Equal(t, sessions.StateReady, loser.state)
	require.Equal(t, int32(2), be.calls.Load())

	p, err := storeA.Pair(ctx)
	require.NoError(t, err)
	require.Equal(t, newAccess, p.Access)
	require.Equal(t, newRefresh, p.Refresh)
}

// clearHookRepo runs onClear the first time a key is deleted.
type clearHookRepo struct {
	*tokenfakerepo.FakeTokenRepo
	once    sync.Once
	onClear func()
}

func (h *clearHookRepo) Delete(ctx context.Context, key string) error {
	if h.onClear != nil {
		h.once.Do(h.onClear)
	}
	return h.FakeTokenRepo.Delete(ctx, key)
}

func TestRefresher_LoginDuringFailedRefreshSurvives(t *testing.T) {
	ctx := context.Background()
	be := newFakeBackend()
	be.err = &errors.RefreshError{Kind: errors.RefreshRejected}

	repo := &clearHookRepo{FakeTokenRepo: tokenfakerepo.NewFakeTokenRepo()}
	store := token.NewStore(repo)
	refresher := sessions.NewRefresher(store, token.NewValidator(nil), be, sessions.WithRefresherLogger(zerolog.Nop()))
	require.NoError(t, store.SetPair(ctx, token.Pair{Access: staleAccess(t), Refresh: refreshFor(t, "sensei")}))

	login := token.Pair{Access: freshAccess(t, "login"), Refresh: refreshFor(t, "other")}
	adopted := make(chan error, 1)
	repo.onClear = func() {
		// A login landing while the failed session is being cleared.
		go func() { adopted <- refresher.Adopt(ctx, login) }()
		time.Sleep(20 * time.Millisecond)
	}

	_, err := refresher.EnsureFresh(ctx)
	require.ErrorIs(t, err, errors.ErrRefreshFailed)
	require.NoError(t, <-adopted)

	p, err := store.Pair(ctx)
	require.NoError(t, err)
	require.Equal(t, login.Access, p.Access)
	require.Equal(t, login.Refresh, p.Refresh)
	require.Equal(t, sessions.StateReady, refresher.State())
}
