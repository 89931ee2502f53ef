package sessions

import (
	"context"
	"fmt"
	"sync"

	"github.com/jrsteele09/classics-portal/backend"
	"github.com/jrsteele09/classics-portal/internal/errors"
	"github.com/jrsteele09/classics-portal/token"
	"github.com/jrsteele09/classics-portal/token/jwt"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Status is what the interface shows about the session. It is derived from the
// refresh token and never stored.
type Status struct {
	IsLoggedIn bool
	Username   string
	Permission int
}

type LoginBackend interface {
	Login(ctx context.Context, creds backend.Credentials) (*backend.TokenCredentials, error)
}

// State owns the session Status. It follows the refresher's events, so a session torn
// down anywhere (a rejected request, a failed refresh) shows as logged out here.
type State struct {
	store     *token.Store
	refresher *Refresher
	validator *token.Validator
	login     LoginBackend
	logger    zerolog.Logger

	lock   sync.RWMutex
	status Status

	background  sync.WaitGroup
	unsubscribe func()
}

type StateOption func(*State)

func WithStateLogger(logger zerolog.Logger) StateOption {
	return func(s *State) {
		s.logger = logger
	}
}

func NewState(store *token.Store, refresher *Refresher, validator *token.Validator, login LoginBackend, options ...StateOption) *State {
	s := &State{
		store:     store,
		refresher: refresher,
		validator: validator,
		login:     login,
		logger:    log.Logger,
	}
	for _, opt := range options {
		opt(s)
	}
	s.unsubscribe = refresher.Events().Subscribe(s.onEvent)
	return s
}

func (s *State) Status() Status {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.status
}

// Subscribe registers fn for session events. See Events.
func (s *State) Subscribe(fn func(Event)) (unsubscribe func()) {
	return s.refresher.Events().Subscribe(fn)
}

// Initialize restores the session from the store. A session whose access token has no
// refresh token, or whose refresh token cannot be decoded, is cleared. When the access
// token is missing or stale a refresh is started in the background; Wait joins it.
func (s *State) Initialize(ctx context.Context) error {
	pair, err := s.store.Pair(ctx)
	if err != nil {
		return fmt.Errorf("[State Initialize] %w", err)
	}

	if pair.Corrupted() {
		s.logger.Warn().Msg("access token without refresh token, clearing session")
		return s.teardown(ctx, errors.ErrCorruptedSession)
	}
	if !pair.HasRefresh() {
		s.setStatus(Status{})
		return nil
	}

	identity, err := jwt.ExtractIdentity(pair.Refresh)
	if err != nil {
		s.logger.Warn().Err(err).Msg("undecodable refresh token, clearing session")
		return s.teardown(ctx, errors.ErrCorruptedSession)
	}
	s.setIdentity(identity)

	if pair.Access == "" || s.validator.NeedsRefresh(pair.Access) {
		s.refreshInBackground(ctx)
	}
	return nil
}

// Login exchanges credentials for a token pair and replaces the current session. On
// failure the current session is left as it was.
func (s *State) Login(ctx context.Context, username, password string) error {
	creds, err := s.login.Login(ctx, backend.Credentials{Username: username, Password: password})
	if err != nil {
		if errors.Is(err, errors.ErrLoginFailed) {
			return err
		}
		return fmt.Errorf("%w: %w", errors.ErrLoginFailed, err)
	}

	identity, err := jwt.ExtractIdentity(creds.RefreshToken)
	if err != nil {
		return fmt.Errorf("%w: %w", errors.ErrLoginFailed, err)
	}

	pair := token.Pair{
		Access:        creds.AccessToken,
		AccessExpiry:  s.validator.ExpiryOf(creds.AccessToken),
		Refresh:       creds.RefreshToken,
		RefreshExpiry: s.validator.ExpiryOf(creds.RefreshToken),
	}
	if err := s.refresher.Adopt(ctx, pair); err != nil {
		return err
	}

	s.setIdentity(identity)
	s.logger.Info().Str("username", identity.Username).Msg("logged in")
	s.refresher.Events().Publish(Event{Kind: EventLoggedIn})
	return nil
}

// Logout clears the tokens and resets Status before returning.
func (s *State) Logout(ctx context.Context) error {
	err := s.refresher.Invalidate(ctx, errors.ErrLoggedOut)
	s.setStatus(Status{})
	return err
}

// Wait blocks until background refreshes started by Initialize have finished.
func (s *State) Wait() {
	s.background.Wait()
}

// Close stops following session events.
func (s *State) Close() {
	s.unsubscribe()
}

func (s *State) teardown(ctx context.Context, reason error) error {
	err := s.refresher.Invalidate(ctx, reason)
	s.setStatus(Status{})
	return err
}

func (s *State) refreshInBackground(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		if _, err := s.refresher.EnsureFresh(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("background session refresh failed")
		}
	}()
}

func (s *State) onEvent(ev Event) {
	switch ev.Kind {
	case EventSessionInvalidated:
		s.setStatus(Status{})
	case EventRefreshed:
		// The refresh token may have rotated.
		refresh, err := s.store.Get(context.Background(), token.Refresh)
		if err != nil || refresh == "" {
			return
		}
		if identity, err := jwt.ExtractIdentity(refresh); err == nil {
			s.setIdentity(identity)
		}
	}
}

func (s *State) setIdentity(identity jwt.Identity) {
	s.setStatus(Status{IsLoggedIn: true, Username: identity.Username, Permission: identity.Permission})
}

func (s *State) setStatus(status Status) {
	s.lock.Lock()
	s.status = status
	s.lock.Unlock()
}
