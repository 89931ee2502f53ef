package backend

// Credentials is the body of POST user/login.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// TokenCredentials is returned by login and refresh.
// RefreshToken is empty when a refresh did not rotate the token.
type TokenCredentials struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
}

type validateRequest struct {
	Token string `json:"token"`
}

type validateResponse struct {
	Valid bool `json:"valid"`
}

// LineSubmission is the body of POST line/append.
type LineSubmission struct {
	Line      string `json:"line"`
	Contrib   string `json:"contrib"`
	Time      string `json:"time"`
	Unsure    bool   `json:"unsure"`
	Sensitive bool   `json:"sensitive"`
	Hidden    bool   `json:"hidden"`
}

// UpstreamResult is the status line of a line/append response.
type UpstreamResult struct {
	StatusCode int
	StatusText string
}

// Created reports whether the line was accepted.
func (r UpstreamResult) Created() bool {
	return r.StatusCode == 201
}
