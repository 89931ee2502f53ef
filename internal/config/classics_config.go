package config

type ClassicsConfig interface {
	GetAPIURL() string
	GetClassicsJWT() string
	GetOIDCIssuer() string
	GetOIDCClientID() string
	GetOIDCClientSecret() string
}

type Classics struct{}

var _ ClassicsConfig = Classics{}

// GetAPIURL returns the base URL of the classics content API. Paths such as
// "user/login" and "read/json" are joined onto it.
func (Classics) GetAPIURL() string {
	return GetEnv("CLASSICS_API_URL", "https://classics-api.shittim.art/")
}

// GetClassicsJWT is the server-held credential used by the submission proxy.
// It is never handed to browsers.
func (Classics) GetClassicsJWT() string {
	return GetEnv("CLASSICS_JWT", "")
}

// GetOIDCIssuer selects the OIDC refresh backend when set.
func (Classics) GetOIDCIssuer() string {
	return GetEnv("OIDC_ISSUER", "")
}

func (Classics) GetOIDCClientID() string {
	return GetEnv("OIDC_CLIENT_ID", "")
}

func (Classics) GetOIDCClientSecret() string {
	return GetEnv("OIDC_CLIENT_SECRET", "")
}
