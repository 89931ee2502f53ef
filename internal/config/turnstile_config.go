package config

type TurnstileConfig interface {
	GetTurnstileSecretKey() string
	GetTurnstileVerifyURL() string
}

type Turnstile struct{}

var _ TurnstileConfig = Turnstile{}

func (Turnstile) GetTurnstileSecretKey() string {
	return GetEnv("TURNSTILE_SECRET_KEY", "")
}

func (Turnstile) GetTurnstileVerifyURL() string {
	return GetEnv("TURNSTILE_VERIFY_URL", "https://challenges.cloudflare.com/turnstile/v0/siteverify")
}
