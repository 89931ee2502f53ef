// Package oidcrefresh refreshes sessions against an OpenID Connect provider using the
// OAuth2 refresh_token grant instead of the classics API's user/refresh endpoint.
package oidcrefresh

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/jrsteele09/classics-portal/backend"
	"github.com/jrsteele09/classics-portal/internal/errors"
	"golang.org/x/oauth2"
)

type Config struct {
	Issuer       string
	ClientID     string
	ClientSecret string
	// HTTPClient is used for discovery and token calls. Defaults to http.DefaultClient.
	HTTPClient *http.Client
}

// Backend discovers the provider on first use and caches the resulting oauth2.Config.
type Backend struct {
	config Config

	lock         sync.Mutex
	oauth2Config *oauth2.Config
}

func New(config Config) (*Backend, error) {
	if config.Issuer == "" || config.ClientID == "" {
		return nil, fmt.Errorf("[oidcrefresh New] issuer and client id are required")
	}
	if config.HTTPClient == nil {
		config.HTTPClient = http.DefaultClient
	}
	return &Backend{config: config}, nil
}

// Refresh runs the refresh_token grant. The provider's refresh token is returned only
// when it rotated.
func (b *Backend) Refresh(ctx context.Context, refreshToken string) (*backend.TokenCredentials, error) {
	ctx = oidc.ClientContext(ctx, b.config.HTTPClient)

	cfg, err := b.oauth2ConfigFor(ctx)
	if err != nil {
		return nil, &errors.RefreshError{Kind: errors.RefreshNetwork, Err: err}
	}

	tok, err := cfg.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, &errors.RefreshError{Kind: classify(err), Err: err}
	}
	if tok.AccessToken == "" {
		return nil, &errors.RefreshError{Kind: errors.RefreshMalformed, Err: errors.ErrMalformedResponse}
	}

	creds := &backend.TokenCredentials{AccessToken: tok.AccessToken}
	if tok.RefreshToken != "" && tok.RefreshToken != refreshToken {
		creds.RefreshToken = tok.RefreshToken
	}
	return creds, nil
}

func (b *Backend) oauth2ConfigFor(ctx context.Context) (*oauth2.Config, error) {
	b.lock.Lock()
	defer b.lock.Unlock()

	if b.oauth2Config != nil {
		return b.oauth2Config, nil
	}

	provider, err := oidc.NewProvider(ctx, b.config.Issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to create OIDC provider: %w", err)
	}
	b.oauth2Config = &oauth2.Config{
		ClientID:     b.config.ClientID,
		ClientSecret: b.config.ClientSecret,
		Endpoint:     provider.Endpoint(),
		Scopes:       []string{oidc.ScopeOpenID, "profile", oidc.ScopeOfflineAccess},
	}
	return b.oauth2Config, nil
}

// classify maps a token endpoint answer to a refresh failure kind. A RetrieveError
// means the provider answered and refused.
func classify(err error) errors.RefreshKind {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		if retrieveErr.Response != nil && retrieveErr.Response.StatusCode < 500 {
			return errors.RefreshRejected
		}
		return errors.RefreshNetwork
	}
	return errors.RefreshNetwork
}
