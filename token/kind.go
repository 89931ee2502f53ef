package token

import "time"

// Kind names one of the two persisted tokens. The value doubles as the storage key.
type Kind string

const (
	Access  Kind = "access_token"
	Refresh Kind = "refresh_token"
)

func (k Kind) String() string {
	return string(k)
}

// Pair is the access/refresh token pair held for one session.
// An empty string means the token is absent; a zero expiry means none was recorded.
type Pair struct {
	Access        string
	Refresh       string
	AccessExpiry  time.Time
	RefreshExpiry time.Time
}

// HasRefresh reports whether a session can be refreshed.
func (p Pair) HasRefresh() bool {
	return p.Refresh != ""
}

// Corrupted reports the one state that should never exist: an access token without
// the refresh token it was minted from.
func (p Pair) Corrupted() bool {
	return p.Access != "" && p.Refresh == ""
}
