package googleauth

import "errors"

var (
	// ErrMissingClientID indicates no Google OAuth client ID is configured.
	ErrMissingClientID = errors.New("googleauth.config.missing_client_id")
	// ErrDiscoveryLoad indicates the identity discovery document could not be fetched.
	ErrDiscoveryLoad = errors.New("googleauth.discovery.load_failed")
	// ErrDiscoveryTimeout indicates the discovery document did not become ready in time.
	ErrDiscoveryTimeout = errors.New("googleauth.discovery.timeout")
	// ErrDiscoveryUnavailable indicates the discovery document loaded without a usable token endpoint.
	ErrDiscoveryUnavailable = errors.New("googleauth.discovery.unavailable")
	// ErrNoSilentSession indicates no stored consent exists for a silent token request.
	ErrNoSilentSession = errors.New("googleauth.token.no_silent_session")
	// ErrEmptyAccessToken indicates the identity provider answered without an access token.
	ErrEmptyAccessToken = errors.New("googleauth.token.empty_access_token")
	// ErrConsentAborted indicates the interactive consent flow ended before a code was delivered.
	ErrConsentAborted = errors.New("googleauth.token.consent_aborted")
)
