// Package sessions keeps a reader's session alive: it refreshes the access token when
// it is about to expire, decorates outgoing requests with it, and tracks who is
// logged in.
package sessions

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jrsteele09/classics-portal/backend"
	"github.com/jrsteele09/classics-portal/internal/errors"
	"github.com/jrsteele09/classics-portal/internal/metrics"
	"github.com/jrsteele09/classics-portal/token"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

type SessionState int

const (
	StateNoSession SessionState = iota
	StateRefreshing
	StateReady
	// StateInvalid holds until tokens reappear in the store, normally through a login.
	StateInvalid
)

func (s SessionState) String() string {
	switch s {
	case StateNoSession:
		return "no_session"
	case StateRefreshing:
		return "refreshing"
	case StateReady:
		return "ready"
	case StateInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// RefreshBackend trades a refresh token for a new access token and, optionally, a
// rotated refresh token. backend.Client and oidcrefresh.Backend implement it.
type RefreshBackend interface {
	Refresh(ctx context.Context, refreshToken string) (*backend.TokenCredentials, error)
}

const flightKey = "refresh"

// Refresher runs at most one backend refresh at a time per session. Callers arriving
// while a refresh is in flight wait for its outcome.
type Refresher struct {
	store     *token.Store
	validator *token.Validator
	backend   RefreshBackend
	events    *Events
	timeout   time.Duration
	logger    zerolog.Logger

	group singleflight.Group

	// lock guards state and generation. generation changes whenever the session is
	// replaced or torn down so an in-flight refresh knows to discard its result.
	lock       sync.Mutex
	state      SessionState
	generation uint64
}

type RefresherOption func(*Refresher)

func WithEvents(events *Events) RefresherOption {
	return func(r *Refresher) {
		r.events = events
	}
}

// WithTimeout bounds each backend refresh. A timeout counts as a network failure.
func WithTimeout(timeout time.Duration) RefresherOption {
	return func(r *Refresher) {
		r.timeout = timeout
	}
}

func WithRefresherLogger(logger zerolog.Logger) RefresherOption {
	return func(r *Refresher) {
		r.logger = logger
	}
}

func NewRefresher(store *token.Store, validator *token.Validator, refreshBackend RefreshBackend, options ...RefresherOption) *Refresher {
	r := &Refresher{
		store:     store,
		validator: validator,
		backend:   refreshBackend,
		events:    NewEvents(),
		timeout:   backend.DefaultTimeout,
		logger:    log.Logger,
	}
	for _, opt := range options {
		opt(r)
	}
	return r
}

func (r *Refresher) Events() *Events {
	return r.events
}

func (r *Refresher) State() SessionState {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.state
}

// EnsureFresh makes sure the stored access token can be used, refreshing it when it is
// absent or about to expire. It returns StateInvalid with a nil error when there is no
// refresh token, and StateInvalid with a *errors.RefreshError when a refresh failed.
//
// If ctx ends while waiting for a refresh, EnsureFresh returns ctx.Err(); the refresh
// itself carries on and its result is still stored.
func (r *Refresher) EnsureFresh(ctx context.Context) (SessionState, error) {
	if state, fresh, err := r.check(ctx); err != nil || fresh {
		return state, err
	}

	ch := r.group.DoChan(flightKey, func() (any, error) {
		return r.runFlight(ctx)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return r.State(), res.Err
		}
		return res.Val.(SessionState), nil
	case <-ctx.Done():
		return r.State(), ctx.Err()
	}
}

// check decides from the store alone. fresh reports whether no refresh is needed.
func (r *Refresher) check(ctx context.Context) (state SessionState, fresh bool, err error) {
	_, state, fresh, err = r.checkPair(ctx)
	return state, fresh, err
}

func (r *Refresher) checkPair(ctx context.Context) (token.Pair, SessionState, bool, error) {
	pair, err := r.store.Pair(ctx)
	if err != nil {
		return token.Pair{}, r.State(), true, fmt.Errorf("[Refresher EnsureFresh] read tokens: %w", err)
	}
	if !pair.HasRefresh() {
		r.setState(StateInvalid)
		return pair, StateInvalid, true, nil
	}
	if pair.Access != "" && !r.validator.NeedsRefresh(pair.Access) {
		r.setState(StateReady)
		return pair, StateReady, true, nil
	}
	return pair, StateRefreshing, false, nil
}

// runFlight is the body of the single refresh flight. It runs detached from the
// caller that started it.
func (r *Refresher) runFlight(parent context.Context) (SessionState, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), r.timeout)
	defer cancel()

	// Another flight may have finished between check and DoChan.
	pair, state, fresh, err := r.checkPair(ctx)
	if err != nil || fresh {
		return state, err
	}

	r.lock.Lock()
	r.state = StateRefreshing
	generation := r.generation
	r.lock.Unlock()

	creds, err := r.backend.Refresh(ctx, pair.Refresh)
	if err != nil {
		return r.fail(ctx, generation, pair.Refresh, asRefreshError(err))
	}

	next := token.Pair{
		Access:        creds.AccessToken,
		AccessExpiry:  r.validator.ExpiryOf(creds.AccessToken),
		Refresh:       pair.Refresh,
		RefreshExpiry: pair.RefreshExpiry,
	}
	if creds.RefreshToken != "" {
		next.Refresh = creds.RefreshToken
		next.RefreshExpiry = r.validator.ExpiryOf(creds.RefreshToken)
	}

	r.lock.Lock()
	if r.generation != generation {
		r.lock.Unlock()
		r.logger.Debug().Msg("[Refresher refresh] session replaced during refresh, discarding result")
		return r.State(), nil
	}
	err = r.store.SetPair(ctx, next)
	if err == nil {
		r.state = StateReady
	}
	r.lock.Unlock()
	if err != nil {
		r.setState(StateNoSession)
		return StateNoSession, fmt.Errorf("[Refresher refresh] store tokens: %w", err)
	}

	metrics.RecordRefresh(metrics.RefreshSuccess)
	r.logger.Debug().Bool("rotated", creds.RefreshToken != "").Msg("session refreshed")
	r.events.Publish(Event{Kind: EventRefreshed})
	return StateReady, nil
}

// fail clears the session after a failed refresh. The session is kept when it was
// replaced in this process, or when the stored refresh token no longer matches the one
// sent: another process sharing the store rotated it first.
func (r *Refresher) fail(ctx context.Context, generation uint64, sent string, refreshErr *errors.RefreshError) (SessionState, error) {
	metrics.RecordRefresh(refreshErr.Kind.String())
	r.logger.Warn().Err(refreshErr).Str("kind", refreshErr.Kind.String()).Msg("session refresh failed")

	r.lock.Lock()
	if r.generation != generation {
		r.lock.Unlock()
		return StateInvalid, refreshErr
	}

	stored, err := r.store.Get(ctx, token.Refresh)
	if err == nil && stored != "" && stored != sent {
		r.lock.Unlock()
		r.logger.Info().Msg("[Refresher refresh] refresh token rotated by another writer, keeping session")
		state, _, err := r.check(ctx)
		return state, err
	}

	r.generation++
	r.state = StateInvalid
	if err := r.store.ClearAll(ctx); err != nil {
		r.logger.Error().Err(err).Msg("[Refresher refresh] failed to clear tokens")
	}
	r.lock.Unlock()

	r.events.Publish(Event{Kind: EventSessionInvalidated, Reason: refreshErr})
	return StateInvalid, refreshErr
}

// Invalidate tears the session down: both tokens are cleared and
// EventSessionInvalidated is published with reason. Any refresh in flight will
// discard its result.
func (r *Refresher) Invalidate(ctx context.Context, reason error) error {
	r.lock.Lock()
	r.generation++
	r.state = StateInvalid
	err := r.store.ClearAll(context.WithoutCancel(ctx))
	r.lock.Unlock()

	if err != nil {
		err = fmt.Errorf("[Refresher Invalidate] %w", err)
	}
	r.events.Publish(Event{Kind: EventSessionInvalidated, Reason: reason})
	return err
}

// Adopt replaces the session with a freshly issued pair, as after a login.
func (r *Refresher) Adopt(ctx context.Context, pair token.Pair) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	r.generation++
	if err := r.store.SetPair(ctx, pair); err != nil {
		r.state = StateNoSession
		return fmt.Errorf("[Refresher Adopt] %w", err)
	}
	r.state = StateReady
	return nil
}

func (r *Refresher) setState(state SessionState) {
	r.lock.Lock()
	r.state = state
	r.lock.Unlock()
}

func asRefreshError(err error) *errors.RefreshError {
	var refreshErr *errors.RefreshError
	if errors.As(err, &refreshErr) {
		return refreshErr
	}
	if errors.Is(err, errors.ErrMalformedResponse) {
		return &errors.RefreshError{Kind: errors.RefreshMalformed, Err: err}
	}
	return &errors.RefreshError{Kind: errors.RefreshNetwork, Err: err}
}
