package config

import (
	"os"
	"path/filepath"
	"time"
)

type SessionConfig interface {
	GetRefreshMargin() time.Duration
	GetBackendTimeout() time.Duration
	GetTokenStore() string
	GetTokenFile() string
	GetTokenFileKey() string
	GetRedisAddr() string
	GetRedisPrefix() string
}

const (
	TokenStoreMemory = "memory"
	TokenStoreFile   = "file"
	TokenStoreRedis  = "redis"
)

type Session struct{}

var _ SessionConfig = Session{}

// GetRefreshMargin is the clock-skew window: access tokens expiring within it are
// treated as already expired.
func (Session) GetRefreshMargin() time.Duration {
	return GetEnvDuration("REFRESH_MARGIN", 60*time.Second)
}

func (Session) GetBackendTimeout() time.Duration {
	return GetEnvDuration("BACKEND_TIMEOUT", 10*time.Second)
}

func (Session) GetTokenStore() string {
	return GetEnv("TOKEN_STORE", TokenStoreFile)
}

func (Session) GetTokenFile() string {
	if f := os.Getenv("TOKEN_FILE"); f != "" {
		return f
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".classics-tokens.json"
	}
	return filepath.Join(home, ".classics", "tokens.json")
}

// GetTokenFileKey is an optional passphrase. When set the token file is encrypted.
func (Session) GetTokenFileKey() string {
	return os.Getenv("TOKEN_FILE_KEY")
}

func (Session) GetRedisAddr() string {
	return GetEnv("REDIS_ADDR", "localhost:6379")
}

func (Session) GetRedisPrefix() string {
	return GetEnv("REDIS_PREFIX", "classics:session:")
}
