package jwt

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/jrsteele09/classics-portal/internal/errors"
)

// Claims are the claims the portal reads from classics API tokens. Only the refresh
// token is expected to carry the identity claims; both carry exp.
type Claims struct {
	Username   string     `json:"username,omitempty"`
	Name       string     `json:"name,omitempty"`
	Permission Permission `json:"permission,omitempty"`
	jwtlib.RegisteredClaims
}

// Permission is the integer permission level. Some issuers encode it as a string.
type Permission int

func (p *Permission) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*p = 0
		return nil
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("permission claim %s: %w", data, err)
	}
	*p = Permission(n)
	return nil
}

var _ json.Unmarshaler = (*Permission)(nil)

// Identity is the user identity derived from a refresh token. It is never stored.
type Identity struct {
	Username   string
	Permission int
}

// ParseUnverified decodes the payload of a three-segment JWT without checking its
// signature. The portal never holds the signing key; the backend is the authority.
func ParseUnverified(raw string) (*Claims, error) {
	if strings.Count(raw, ".") != 2 {
		return nil, errors.Wrapf(errors.ErrMalformedToken, "expected three segments")
	}

	claims := &Claims{}
	if _, _, err := jwtlib.NewParser().ParseUnverified(raw, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrMalformedToken, err)
	}
	return claims, nil
}

// Expiry returns the exp claim, or the zero time when the claim is missing.
func (c *Claims) Expiry() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

// Identity returns the username (falling back to name) and permission. ok is false
// when neither username nor name is present.
func (c *Claims) Identity() (Identity, bool) {
	username := c.Username
	if username == "" {
		username = c.Name
	}
	if username == "" {
		return Identity{}, false
	}
	return Identity{Username: username, Permission: int(c.Permission)}, true
}

// ExtractIdentity decodes raw and returns its identity.
func ExtractIdentity(raw string) (Identity, error) {
	claims, err := ParseUnverified(raw)
	if err != nil {
		return Identity{}, err
	}
	id, ok := claims.Identity()
	if !ok {
		return Identity{}, errors.Wrapf(errors.ErrMalformedToken, "token has no username claim")
	}
	return id, nil
}
