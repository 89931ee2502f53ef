package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Common error types for the session client and the submission proxy
var (
	// Token errors
	ErrMalformedToken   = errors.New("malformed token")
	ErrRemoteValidation = errors.New("remote token validation failed")

	// Session errors
	ErrRefreshFailed    = errors.New("session refresh failed")
	ErrSessionExpired   = errors.New("session expired")
	ErrLoggedOut        = errors.New("logged out")
	ErrCorruptedSession = errors.New("corrupted session")
	ErrLoginFailed      = errors.New("login failed")

	// Transport errors
	ErrNetwork  = errors.New("network error")
	ErrUpstream = errors.New("upstream error")

	// Proxy errors
	ErrMissingFields   = errors.New("missing required fields")
	ErrChallengeFailed = errors.New("challenge verification failed")

	// General errors
	ErrMalformedResponse = errors.New("malformed response")
)

// RefreshKind classifies why a refresh attempt failed.
type RefreshKind int

const (
	RefreshNetwork RefreshKind = iota
	RefreshRejected
	RefreshMalformed
)

func (k RefreshKind) String() string {
	switch k {
	case RefreshNetwork:
		return "network"
	case RefreshRejected:
		return "rejected"
	case RefreshMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// RefreshError is returned when the backend refresh call fails. It matches
// ErrRefreshFailed and whatever the underlying cause matches.
type RefreshError struct {
	Kind RefreshKind
	Err  error
}

func (e *RefreshError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s (%s)", ErrRefreshFailed, e.Kind)
	}
	return fmt.Sprintf("%s (%s): %v", ErrRefreshFailed, e.Kind, e.Err)
}

func (e *RefreshError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrRefreshFailed}
	}
	return []error{ErrRefreshFailed, e.Err}
}

// NetworkError wraps a transport-level failure (DNS, connection refused, timeout).
type NetworkError struct {
	Op  string
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
}

func (e *NetworkError) Unwrap() []error {
	return []error{ErrNetwork, e.Err}
}

// HTTPError carries a non-2xx response that was not otherwise handled.
// Body holds at most the first bytes of the response.
type HTTPError struct {
	StatusCode int
	Status     string
	Body       []byte
	// Err is ErrSessionExpired for 401/403 on authenticated calls.
	Err error
}

func (e *HTTPError) Error() string {
	msg := fmt.Sprintf("unexpected status %d", e.StatusCode)
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if body := strings.TrimSpace(string(e.Body)); body != "" {
		msg = fmt.Sprintf("%s: %s", msg, body)
	}
	return msg
}

func (e *HTTPError) Unwrap() error {
	return e.Err
}

// UpstreamError is a non-success status returned by an upstream the proxy forwards to.
type UpstreamError struct {
	StatusCode int
	StatusText string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream responded %d %s", e.StatusCode, e.StatusText)
}

func (e *UpstreamError) Unwrap() error {
	return ErrUpstream
}

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// New is errors.New, re-exported so callers need a single errors import.
func New(text string) error {
	return errors.New(text)
}
