package config

type Config interface {
	EnvConfig
	ClassicsConfig
	SessionConfig
	TurnstileConfig
	CorsConfig
	SecurityConfig
}

type EnvConfig interface {
	GetPort() string
	GetAppName() string
	GetEnv() string
	GetLogLevel() string
}

type CorsConfig interface {
	GetAllowedOrigins() AllowedOrigins
	GetAllowedMethods() string
	GetAllowedHeaders() string
}

type mainConfig struct {
	EnvVars
	Classics
	Session
	Turnstile
	Cors
	Security
}

func New() Config {
	return mainConfig{}
}
