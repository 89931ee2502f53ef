// Package turnstile verifies Cloudflare Turnstile challenge responses.
package turnstile

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jrsteele09/classics-portal/internal/errors"
)

const DefaultVerifyURL = "https://challenges.cloudflare.com/turnstile/v0/siteverify"

// Result is the siteverify response.
type Result struct {
	Success     bool     `json:"success"`
	ErrorCodes  []string `json:"error-codes,omitempty"`
	ChallengeTS string   `json:"challenge_ts,omitempty"`
	Hostname    string   `json:"hostname,omitempty"`
	Action      string   `json:"action,omitempty"`
}

type Verifier struct {
	secret     string
	verifyURL  string
	httpClient *http.Client
}

type Option func(*Verifier)

func WithVerifyURL(verifyURL string) Option {
	return func(v *Verifier) {
		if verifyURL != "" {
			v.verifyURL = verifyURL
		}
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(v *Verifier) {
		v.httpClient = httpClient
	}
}

func NewVerifier(secret string, options ...Option) *Verifier {
	v := &Verifier{
		secret:     secret,
		verifyURL:  DefaultVerifyURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range options {
		opt(v)
	}
	return v
}

// Verify posts the challenge response to siteverify. A failed challenge is reported in
// the Result, not as an error; errors mean the verdict could not be obtained.
func (v *Verifier) Verify(ctx context.Context, response, remoteIP string) (*Result, error) {
	form := url.Values{
		"secret":   {v.secret},
		"response": {response},
	}
	if remoteIP != "" {
		form.Set("remoteip", remoteIP)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.verifyURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("[Verifier Verify] %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, &errors.NetworkError{Op: http.MethodPost, URL: v.verifyURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &errors.UpstreamError{StatusCode: resp.StatusCode, StatusText: http.StatusText(resp.StatusCode)}
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("[Verifier Verify] %w: %v", errors.ErrMalformedResponse, err)
	}
	return &result, nil
}
