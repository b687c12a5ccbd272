package panel

import (
	"net/http"
	"time"
)

// Config configures the panel surface: pairing, session cookies, and CORS.
type Config struct {
	PairingCode       string
	SessionSigningKey []byte
	SessionIssuer     string
	SessionCookieName string
	SessionTTL        time.Duration
	CookieDomain      string
	SameSiteMode      http.SameSite
	AllowInsecureHTTP bool
	GoogleClientID    string
}
