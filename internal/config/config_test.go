package config_test

import (
	"testing"
	"time"

	"github.com/jrsteele09/classics-portal/internal/config"
	"github.com/stretchr/testify/require"
)

func TestEnvVars_Port(t *testing.T) {
	t.Run("default", func(t *testing.T) {
		t.Setenv("PORT", "")
		require.Equal(t, ":8080", config.EnvVars{}.GetPort())
	})

	t.Run("bare number gets colon", func(t *testing.T) {
		t.Setenv("PORT", "9000")
		require.Equal(t, ":9000", config.EnvVars{}.GetPort())
	})

	t.Run("already prefixed", func(t *testing.T) {
		t.Setenv("PORT", ":9001")
		require.Equal(t, ":9001", config.EnvVars{}.GetPort())
	})
}

func TestSession_Durations(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		t.Setenv("REFRESH_MARGIN", "")
		t.Setenv("BACKEND_TIMEOUT", "")
		s := config.Session{}
		require.Equal(t, 60*time.Second, s.GetRefreshMargin())
		require.Equal(t, 10*time.Second, s.GetBackendTimeout())
	})

	t.Run("override", func(t *testing.T) {
		t.Setenv("REFRESH_MARGIN", "2m")
		require.Equal(t, 2*time.Minute, config.Session{}.GetRefreshMargin())
	})

	t.Run("garbage falls back", func(t *testing.T) {
		t.Setenv("BACKEND_TIMEOUT", "soon")
		require.Equal(t, 10*time.Second, config.Session{}.GetBackendTimeout())
	})
}

func TestCors_AllowedOrigins(t *testing.T) {
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example ,")
	origins := config.Cors{}.GetAllowedOrigins()
	require.True(t, origins.IsAllowedOrigin("https://a.example"))
	require.True(t, origins.IsAllowedOrigin("https://b.example"))
	require.False(t, origins.IsAllowedOrigin("https://c.example"))
	require.Equal(t, "https://a.example, https://b.example", origins.String())
}

func TestSecurity_RateDefaults(t *testing.T) {
	t.Setenv("SUBMIT_RATE_PER_SECOND", "")
	t.Setenv("SUBMIT_RATE_BURST", "x")
	s := config.Security{}
	require.InDelta(t, 0.2, s.GetSubmitRatePerSecond(), 1e-9)
	require.Equal(t, 3, s.GetSubmitRateBurst())
}

func TestSession_TokenStorage(t *testing.T) {
	t.Setenv("TOKEN_STORE", "")
	t.Setenv("TOKEN_FILE", "/tmp/classics/tokens.json")
	t.Setenv("TOKEN_FILE_KEY", "")
	s := config.Session{}
	require.Equal(t, config.TokenStoreFile, s.GetTokenStore())
	require.Equal(t, "/tmp/classics/tokens.json", s.GetTokenFile())
	require.Empty(t, s.GetTokenFileKey())

	t.Setenv("TOKEN_STORE", config.TokenStoreRedis)
	t.Setenv("REDIS_PREFIX", "")
	require.Equal(t, config.TokenStoreRedis, s.GetTokenStore())
	require.Equal(t, "classics:session:", s.GetRedisPrefix())
}

func TestSecurity_TrustedProxies(t *testing.T) {
	t.Setenv("TRUSTED_PROXIES", "10.0.0.0/8, 192.168.1.7 ,not-an-ip,")
	proxies := config.Security{}.GetTrustedProxies()
	require.Len(t, proxies, 2)
	require.True(t, proxies.Contains("10.20.30.40"))
	require.True(t, proxies.Contains("192.168.1.7"))
	require.True(t, proxies.Contains("::ffff:10.1.1.1"))
	require.False(t, proxies.Contains("192.168.1.8"))
	require.False(t, proxies.Contains("garbage"))

	t.Setenv("TRUSTED_PROXIES", "")
	require.Empty(t, config.Security{}.GetTrustedProxies())
}
