package sessions

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/jrsteele09/classics-portal/internal/errors"
	"github.com/jrsteele09/classics-portal/token"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

const maxErrorBody = 4 << 10

// Requester sends requests on behalf of the current session, attaching the access
// token when there is one.
type Requester struct {
	refresher  *Refresher
	store      *token.Store
	httpClient *http.Client
	logger     zerolog.Logger
}

type RequesterOption func(*Requester)

func WithHTTPClient(httpClient *http.Client) RequesterOption {
	return func(rq *Requester) {
		rq.httpClient = httpClient
	}
}

func WithRequesterLogger(logger zerolog.Logger) RequesterOption {
	return func(rq *Requester) {
		rq.logger = logger
	}
}

func NewRequester(refresher *Refresher, store *token.Store, options ...RequesterOption) *Requester {
	rq := &Requester{
		refresher:  refresher,
		store:      store,
		httpClient: &http.Client{},
		logger:     log.Logger,
	}
	for _, opt := range options {
		opt(rq)
	}
	return rq
}

// Do refreshes the session if needed, then sends req with the bearer token when one is
// stored. A failed refresh does not stop the request; it goes out unauthenticated.
//
// 2xx responses are returned for the caller to close. A 401 or 403 to an
// authenticated request tears the session down and returns an *errors.HTTPError
// matching errors.ErrSessionExpired. Other
// statuses return an *errors.HTTPError with the start of the body, and transport
// failures an *errors.NetworkError.
func (rq *Requester) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if _, err := rq.refresher.EnsureFresh(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		rq.logger.Warn().Err(err).Msg("[Requester Do] refresh failed, sending request without a fresh token")
	}

	access, err := rq.store.Get(ctx, token.Access)
	if err != nil {
		rq.logger.Warn().Err(err).Msg("[Requester Do] failed to read access token")
		access = ""
	}

	req = req.Clone(ctx)
	if access != "" {
		(&oauth2.Token{AccessToken: access}).SetAuthHeader(req)
	}

	resp, err := rq.httpClient.Do(req)
	if err != nil {
		return nil, &errors.NetworkError{Op: req.Method, URL: req.URL.String(), Err: err}
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	resp.Body.Close()
	httpErr := &errors.HTTPError{StatusCode: resp.StatusCode, Status: resp.Status, Body: body}

	// Without a bearer there is no session for the server to have rejected.
	if access != "" && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
		httpErr.Err = errors.ErrSessionExpired
		if err := rq.refresher.Invalidate(ctx, errors.ErrSessionExpired); err != nil {
			rq.logger.Error().Err(err).Msg("[Requester Do] failed to clear session")
		}
	}
	return nil, httpErr
}

// GetJSON sends a GET through Do and decodes a JSON body into out.
func (rq *Requester) GetJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("[Requester GetJSON] %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := rq.Do(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("[Requester GetJSON] %w: %v", errors.ErrMalformedResponse, err)
	}
	return nil
}
