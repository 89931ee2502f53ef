// Package backend is the HTTP client for the classics API: login, refresh, validate
// and line submission.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jrsteele09/classics-portal/internal/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

const (
	PathLogin    = "user/login"
	PathRefresh  = "user/refresh"
	PathValidate = "user/validate"
	PathRead     = "read/json"
	PathAppend   = "line/append"

	DefaultTimeout = 10 * time.Second

	maxErrorBody = 4 << 10
)

type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	logger     zerolog.Logger
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithTimeout bounds every call made through the default http.Client.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.httpClient = &http.Client{Timeout: timeout}
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// NewClient creates a client for the API rooted at baseURL. Endpoint paths are
// resolved relative to it, so the base should end in a slash; one is added if missing.
func NewClient(baseURL string, options ...Option) (*Client, error) {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, errors.Wrapf(err, "[Client NewClient] invalid base url %q", baseURL)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("[Client NewClient] base url %q must be absolute", baseURL)
	}

	c := &Client{
		baseURL:    u,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		logger:     log.Logger,
	}
	for _, opt := range options {
		opt(c)
	}
	return c, nil
}

// Endpoint returns the absolute URL of an API path.
func (c *Client) Endpoint(path string) string {
	return c.baseURL.ResolveReference(&url.URL{Path: path}).String()
}

// Login exchanges a username and password for a token pair.
func (c *Client) Login(ctx context.Context, creds Credentials) (*TokenCredentials, error) {
	resp, err := c.postJSON(ctx, PathLogin, "", creds)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, newHTTPError(resp, errors.ErrLoginFailed)
	}

	var tokens TokenCredentials
	if err := json.NewDecoder(resp.Body).Decode(&tokens); err != nil {
		return nil, fmt.Errorf("[Client Login] %w: %v", errors.ErrMalformedResponse, err)
	}
	if tokens.AccessToken == "" || tokens.RefreshToken == "" {
		return nil, fmt.Errorf("[Client Login] %w: missing token", errors.ErrMalformedResponse)
	}
	return &tokens, nil
}

// Refresh trades a refresh token for a new access token. Failures are returned as
// *errors.RefreshError classified by cause.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*TokenCredentials, error) {
	resp, err := c.postJSON(ctx, PathRefresh, refreshToken, struct{}{})
	if err != nil {
		return nil, &errors.RefreshError{Kind: errors.RefreshNetwork, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &errors.RefreshError{Kind: errors.RefreshRejected, Err: newHTTPError(resp, nil)}
	}

	var tokens TokenCredentials
	if err := json.NewDecoder(resp.Body).Decode(&tokens); err != nil {
		return nil, &errors.RefreshError{Kind: errors.RefreshMalformed, Err: fmt.Errorf("%w: %v", errors.ErrMalformedResponse, err)}
	}
	if tokens.AccessToken == "" {
		return nil, &errors.RefreshError{Kind: errors.RefreshMalformed, Err: fmt.Errorf("%w: missing accessToken", errors.ErrMalformedResponse)}
	}
	return &tokens, nil
}

// Validate asks the backend whether raw is still accepted. A non-200 answer is
// reported as invalid together with the HTTP error.
func (c *Client) Validate(ctx context.Context, raw string) (bool, error) {
	resp, err := c.postJSON(ctx, PathValidate, "", validateRequest{Token: raw})
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, newHTTPError(resp, errors.ErrRemoteValidation)
	}

	var result validateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return false, fmt.Errorf("[Client Validate] %w: %v", errors.ErrMalformedResponse, err)
	}
	return result.Valid, nil
}

// AppendLine submits a line on behalf of the holder of credential. Any HTTP status is
// returned as a result; only transport failures are errors.
func (c *Client) AppendLine(ctx context.Context, credential string, line LineSubmission) (*UpstreamResult, error) {
	resp, err := c.postJSON(ctx, PathAppend, credential, line)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))

	return &UpstreamResult{StatusCode: resp.StatusCode, StatusText: StatusText(resp)}, nil
}

// postJSON sends body as JSON. A non-empty bearer is attached as the Authorization
// header. Transport failures come back as *errors.NetworkError.
func (c *Client) postJSON(ctx context.Context, path, bearer string, body any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("[Client postJSON] marshal %s: %w", path, err)
	}

	endpoint := c.Endpoint(path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("[Client postJSON] %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		(&oauth2.Token{AccessToken: bearer}).SetAuthHeader(req)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug().Err(err).Str("url", endpoint).Msg("backend request failed")
		return nil, &errors.NetworkError{Op: http.MethodPost, URL: endpoint, Err: err}
	}
	return resp, nil
}

func newHTTPError(resp *http.Response, cause error) *errors.HTTPError {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &errors.HTTPError{StatusCode: resp.StatusCode, Status: resp.Status, Body: body, Err: cause}
}

// StatusText returns the reason phrase of a response: "Created" for "201 Created".
func StatusText(resp *http.Response) string {
	return strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)))
}
