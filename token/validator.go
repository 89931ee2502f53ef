package token

import (
	"context"
	"time"

	"github.com/jrsteele09/classics-portal/token/jwt"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultMargin is the clock-skew allowance applied before an access token's exp.
const DefaultMargin = 60 * time.Second

// RemoteValidator asks the backend whether a token is still accepted.
type RemoteValidator interface {
	Validate(ctx context.Context, raw string) (bool, error)
}

// Validator makes local freshness decisions about tokens and, when a RemoteValidator
// is configured, asks the backend. It never verifies signatures.
type Validator struct {
	remote  RemoteValidator
	margin  time.Duration
	nowFunc func() time.Time
	logger  zerolog.Logger
}

type ValidatorOption func(*Validator)

func WithMargin(margin time.Duration) ValidatorOption {
	return func(v *Validator) {
		v.margin = margin
	}
}

// WithNowFunc sets the clock used for expiry decisions (primarily for testing)
func WithNowFunc(now func() time.Time) ValidatorOption {
	return func(v *Validator) {
		v.nowFunc = now
	}
}

func WithLogger(logger zerolog.Logger) ValidatorOption {
	return func(v *Validator) {
		v.logger = logger
	}
}

// NewValidator creates a Validator. remote may be nil, in which case IsValidRemote
// always reports false.
func NewValidator(remote RemoteValidator, options ...ValidatorOption) *Validator {
	v := &Validator{
		remote:  remote,
		margin:  DefaultMargin,
		nowFunc: time.Now,
		logger:  log.Logger,
	}
	for _, opt := range options {
		opt(v)
	}
	return v
}

// IsWellFormed reports whether raw decodes as a three-segment JWT.
func (v *Validator) IsWellFormed(raw string) bool {
	_, err := jwt.ParseUnverified(raw)
	return err == nil
}

// NeedsRefresh reports whether raw should be replaced before use: it is malformed,
// carries no exp, or expires within the margin.
func (v *Validator) NeedsRefresh(raw string) bool {
	claims, err := jwt.ParseUnverified(raw)
	if err != nil {
		return true
	}
	exp := claims.Expiry()
	if exp.IsZero() {
		return true
	}
	return !exp.After(v.nowFunc().Add(v.margin))
}

// IsValidRemote asks the backend about raw. Any failure counts as invalid.
func (v *Validator) IsValidRemote(ctx context.Context, raw string) bool {
	if v.remote == nil {
		return false
	}
	valid, err := v.remote.Validate(ctx, raw)
	if err != nil {
		v.logger.Debug().Err(err).Msg("[Validator IsValidRemote] remote validation failed")
		return false
	}
	return valid
}

// Validate runs the local checks first and only contacts the backend for tokens that
// are well formed and not about to expire.
func (v *Validator) Validate(ctx context.Context, raw string) bool {
	if v.NeedsRefresh(raw) {
		return false
	}
	return v.IsValidRemote(ctx, raw)
}

// ExpiryOf returns the exp claim of raw, or the zero time when it has none or cannot
// be decoded.
func (v *Validator) ExpiryOf(raw string) time.Time {
	claims, err := jwt.ParseUnverified(raw)
	if err != nil {
		return time.Time{}
	}
	return claims.Expiry()
}
