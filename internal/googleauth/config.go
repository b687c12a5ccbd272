package googleauth

import "time"

// Default lifecycle tunables.
const (
	// DefaultTokenBuffer is the freshness safety margin: a token within this
	// distance of its expiry is treated as already expired.
	DefaultTokenBuffer = 60 * time.Second
	// DefaultDiscoveryTimeout bounds the wait for the identity discovery
	// document to become ready.
	DefaultDiscoveryTimeout = 8 * time.Second
	// DefaultGrantLifetime is assumed when the provider omits expires_in.
	DefaultGrantLifetime = 3600 * time.Second
)

// DefaultCalendarScopes cover calendar event creation and identity claims.
var DefaultCalendarScopes = []string{
	"https://www.googleapis.com/auth/calendar.events",
	"openid",
	"email",
}

// Config binds the token lifecycle to one Google OAuth application.
type Config struct {
	ClientID         string
	ClientSecret     string
	Scopes           []string
	RedirectAddr     string
	TokenBuffer      time.Duration
	DiscoveryTimeout time.Duration
}

// withDefaults fills zero-valued tunables.
func (configuration Config) withDefaults() Config {
	if len(configuration.Scopes) == 0 {
		configuration.Scopes = DefaultCalendarScopes
	}
	if configuration.RedirectAddr == "" {
		configuration.RedirectAddr = "127.0.0.1:7344"
	}
	if configuration.TokenBuffer <= 0 {
		configuration.TokenBuffer = DefaultTokenBuffer
	}
	if configuration.DiscoveryTimeout <= 0 {
		configuration.DiscoveryTimeout = DefaultDiscoveryTimeout
	}
	return configuration
}
