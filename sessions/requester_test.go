package sessions_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jrsteele09/classics-portal/backend"
	"github.com/jrsteele09/classics-portal/internal/errors"
	"github.com/jrsteele09/classics-portal/sessions"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type contentServer struct {
	srv        *httptest.Server
	status     int
	body       string
	lastBearer string
}

func newContentServer(t *testing.T) *contentServer {
	t.Helper()
	cs := &contentServer{status: http.StatusOK, body: `[]`}
	cs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cs.lastBearer = r.Header.Get("Authorization")
		w.WriteHeader(cs.status)
		_, _ = w.Write([]byte(cs.body))
	}))
	t.Cleanup(cs.srv.Close)
	return cs
}

func newTestRequester(f *fixture) *sessions.Requester {
	return sessions.NewRequester(f.refresher, f.store, sessions.WithRequesterLogger(zerolog.Nop()))
}

func TestRequester_AttachesBearer(t *testing.T) {
	f := newFixture(t, newFakeBackend())
	access := freshAccess(t, "a1")
	f.seed(t, access, refreshFor(t, "sensei"))
	cs := newContentServer(t)

	var out []map[string]any
	require.NoError(t, newTestRequester(f).GetJSON(context.Background(), cs.srv.URL, &out))
	require.Equal(t, "Bearer "+access, cs.lastBearer)
}

func TestRequester_RefreshesBeforeSending(t *testing.T) {
	be := newFakeBackend()
	newAccess := freshAccess(t, "a2")
	be.creds = &backend.TokenCredentials{AccessToken: newAccess}
	f := newFixture(t, be)
	f.seed(t, staleAccess(t), refreshFor(t, "sensei"))
	cs := newContentServer(t)

	var out []map[string]any
	require.NoError(t, newTestRequester(f).GetJSON(context.Background(), cs.srv.URL, &out))
	require.Equal(t, "Bearer "+newAccess, cs.lastBearer)
	require.Equal(t, int32(1), be.refreshCalls.Load())
}

func TestRequester_NoSessionSendsUnauthenticated(t *testing.T) {
	f := newFixture(t, newFakeBackend())
	cs := newContentServer(t)

	var out []map[string]any
	require.NoError(t, newTestRequester(f).GetJSON(context.Background(), cs.srv.URL, &out))
	require.Empty(t, cs.lastBearer)
}

func TestRequester_RefreshFailureStillSendsRequest(t *testing.T) {
	be := newFakeBackend()
	be.err = &errors.RefreshError{Kind: errors.RefreshRejected}
	f := newFixture(t, be)
	f.seed(t, staleAccess(t), refreshFor(t, "sensei"))
	cs := newContentServer(t)

	var out []map[string]any
	require.NoError(t, newTestRequester(f).GetJSON(context.Background(), cs.srv.URL, &out))
	require.Empty(t, cs.lastBearer)
}

func TestRequester_UnauthenticatedRejectionKeepsQuiet(t *testing.T) {
	f := newFixture(t, newFakeBackend())
	cs := newContentServer(t)
	cs.status = http.StatusUnauthorized

	var out []map[string]any
	err := newTestRequester(f).GetJSON(context.Background(), cs.srv.URL, &out)
	require.NotErrorIs(t, err, errors.ErrSessionExpired)

	var httpErr *errors.HTTPError
	require.ErrorAs(t, err, &httpErr)
	require.Equal(t, http.StatusUnauthorized, httpErr.StatusCode)
	require.Empty(t, cs.lastBearer)
	require.Empty(t, f.eventKinds())
}

func TestRequester_AuthRejectionTearsDownSession(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			be := newFakeBackend()
			f := newFixture(t, be)
			f.seed(t, freshAccess(t, "a1"), refreshFor(t, "sensei"))
			state := sessions.NewState(f.store, f.refresher, f.validator, be, sessions.WithStateLogger(zerolog.Nop()))
			t.Cleanup(state.Close)
			require.NoError(t, state.Initialize(context.Background()))
			require.True(t, state.Status().IsLoggedIn)

			cs := newContentServer(t)
			cs.status = status
			cs.body = "token expired"

			var out []map[string]any
			err := newTestRequester(f).GetJSON(context.Background(), cs.srv.URL, &out)
			require.ErrorIs(t, err, errors.ErrSessionExpired)

			var httpErr *errors.HTTPError
			require.ErrorAs(t, err, &httpErr)
			require.Equal(t, status, httpErr.StatusCode)

			p := f.pair(t)
			require.Empty(t, p.Access)
			require.Empty(t, p.Refresh)
			require.False(t, state.Status().IsLoggedIn)

			ev := f.lastEvent(t)
			require.Equal(t, sessions.EventSessionInvalidated, ev.Kind)
			require.ErrorIs(t, ev.Reason, errors.ErrSessionExpired)
		})
	}
}

func TestRequester_OtherStatusIsSurfaced(t *testing.T) {
	f := newFixture(t, newFakeBackend())
	refresh := refreshFor(t, "sensei")
	f.seed(t, freshAccess(t, "a1"), refresh)
	cs := newContentServer(t)
	cs.status = http.StatusInternalServerError
	cs.body = "database down"

	req, err := http.NewRequest(http.MethodGet, cs.srv.URL, nil)
	require.NoError(t, err)
	_, err = newTestRequester(f).Do(context.Background(), req)

	var httpErr *errors.HTTPError
	require.ErrorAs(t, err, &httpErr)
	require.Equal(t, http.StatusInternalServerError, httpErr.StatusCode)
	require.Equal(t, "database down", string(httpErr.Body))
	require.NotErrorIs(t, err, errors.ErrSessionExpired)
	require.Equal(t, refresh, f.pair(t).Refresh, "session untouched")
}

func TestRequester_NetworkFailureIsDistinct(t *testing.T) {
	f := newFixture(t, newFakeBackend())
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	_, err = newTestRequester(f).Do(context.Background(), req)

	var netErr *errors.NetworkError
	require.ErrorAs(t, err, &netErr)
	require.ErrorIs(t, err, errors.ErrNetwork)

	var httpErr *errors.HTTPError
	require.False(t, errors.As(err, &httpErr))
}

func TestRequester_SuccessBodyIsReturned(t *testing.T) {
	f := newFixture(t, newFakeBackend())
	cs := newContentServer(t)
	cs.body = "hello"

	req, err := http.NewRequest(http.MethodGet, cs.srv.URL, nil)
	require.NoError(t, err)
	resp, err := newTestRequester(f).Do(context.Background(), req)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, "hello", string(body))
}
