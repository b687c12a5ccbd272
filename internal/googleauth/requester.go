package googleauth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"google.golang.org/api/idtoken"
)

// TokenGrant is a normalized token response from the identity provider.
type TokenGrant struct {
	AccessToken  string
	ExpiresIn    time.Duration
	RefreshToken string
	AccountEmail string
}

// TokenRequester performs one token request against the provider. Silent
// requests succeed only while a stored consent is still valid; interactive
// requests open a visible consent flow.
type TokenRequester interface {
	RequestToken(ctx context.Context, interactive bool) (TokenGrant, error)
	RevokeToken(ctx context.Context, accessToken string) error
}

// oauthRequester bridges golang.org/x/oauth2 to the TokenRequester contract.
type oauthRequester struct {
	oauthConfig        *oauth2.Config
	revocationEndpoint string
	store              *TokenStore
	redirectAddr       string
	logger             *zap.Logger
	httpClient         *http.Client

	// openConsent surfaces the consent URL to the user. Overridable in tests.
	openConsent func(consentURL string)
	// validateIDToken resolves the verified account email. Overridable in tests.
	validateIDToken func(ctx context.Context, rawIDToken string, clientID string) (string, error)
}

func newOAuthRequester(configuration Config, document *DiscoveryDocument, store *TokenStore, logger *zap.Logger) *oauthRequester {
	requester := &oauthRequester{
		oauthConfig: &oauth2.Config{
			ClientID:     configuration.ClientID,
			ClientSecret: configuration.ClientSecret,
			RedirectURL:  fmt.Sprintf("http://%s/oauth2/callback", configuration.RedirectAddr),
			Scopes:       configuration.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  document.AuthorizationEndpoint,
				TokenURL: document.TokenEndpoint,
			},
		},
		revocationEndpoint: document.RevocationEndpoint,
		store:              store,
		redirectAddr:       configuration.RedirectAddr,
		logger:             logger,
		httpClient:         &http.Client{Timeout: 10 * time.Second},
	}
	requester.openConsent = func(consentURL string) {
		logger.Info("open the consent URL in a browser",
			zap.String("code", "googleauth.consent.url"),
			zap.String("url", consentURL))
	}
	requester.validateIDToken = func(ctx context.Context, rawIDToken string, clientID string) (string, error) {
		payload, validateErr := idtoken.Validate(ctx, rawIDToken, clientID)
		if validateErr != nil {
			return "", validateErr
		}
		email, _ := payload.Claims["email"].(string)
		verified, _ := payload.Claims["email_verified"].(bool)
		if !verified {
			return "", nil
		}
		return email, nil
	}
	return requester
}

// RequestToken performs a silent refresh or an interactive consent exchange.
func (requester *oauthRequester) RequestToken(ctx context.Context, interactive bool) (TokenGrant, error) {
	if interactive {
		return requester.requestInteractive(ctx)
	}
	return requester.requestSilent(ctx)
}

func (requester *oauthRequester) requestSilent(ctx context.Context) (TokenGrant, error) {
	refreshToken := requester.store.RefreshToken()
	if refreshToken == "" {
		return TokenGrant{}, ErrNoSilentSession
	}
	source := requester.oauthConfig.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, refreshErr := source.Token()
	if refreshErr != nil {
		return TokenGrant{}, fmt.Errorf("googleauth.token.silent_refresh: %w", refreshErr)
	}
	return requester.grantFromToken(ctx, token), nil
}

func (requester *oauthRequester) requestInteractive(ctx context.Context) (TokenGrant, error) {
	stateValue, stateErr := randomState()
	if stateErr != nil {
		return TokenGrant{}, fmt.Errorf("googleauth.token.state: %w", stateErr)
	}

	listener, listenErr := net.Listen("tcp", requester.redirectAddr)
	if listenErr != nil {
		return TokenGrant{}, fmt.Errorf("googleauth.token.redirect_listen: %w", listenErr)
	}

	codeChannel := make(chan string, 1)
	errorChannel := make(chan error, 1)
	callbackServer := &http.Server{
		ReadHeaderTimeout: 10 * time.Second,
		Handler: http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
			if request.URL.Path != "/oauth2/callback" {
				http.NotFound(writer, request)
				return
			}
			query := request.URL.Query()
			if query.Get("state") != stateValue {
				http.Error(writer, "state mismatch", http.StatusBadRequest)
				errorChannel <- fmt.Errorf("%w: state mismatch", ErrConsentAborted)
				return
			}
			if deniedReason := query.Get("error"); deniedReason != "" {
				http.Error(writer, "consent denied", http.StatusForbidden)
				errorChannel <- fmt.Errorf("%w: %s", ErrConsentAborted, deniedReason)
				return
			}
			code := query.Get("code")
			if code == "" {
				http.Error(writer, "missing code", http.StatusBadRequest)
				errorChannel <- fmt.Errorf("%w: missing code", ErrConsentAborted)
				return
			}
			_, _ = writer.Write([]byte("Connected. You can close this tab."))
			codeChannel <- code
		}),
	}
	go func() { _ = callbackServer.Serve(listener) }()
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = callbackServer.Shutdown(closeCtx)
	}()

	consentURL := requester.oauthConfig.AuthCodeURL(stateValue,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"))
	requester.openConsent(consentURL)

	var authorizationCode string
	select {
	case authorizationCode = <-codeChannel:
	case callbackErr := <-errorChannel:
		return TokenGrant{}, callbackErr
	case <-ctx.Done():
		return TokenGrant{}, fmt.Errorf("%w: %v", ErrConsentAborted, ctx.Err())
	}

	token, exchangeErr := requester.oauthConfig.Exchange(ctx, authorizationCode)
	if exchangeErr != nil {
		return TokenGrant{}, fmt.Errorf("googleauth.token.exchange: %w", exchangeErr)
	}
	return requester.grantFromToken(ctx, token), nil
}

func (requester *oauthRequester) grantFromToken(ctx context.Context, token *oauth2.Token) TokenGrant {
	grant := TokenGrant{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
	}
	if !token.Expiry.IsZero() {
		grant.ExpiresIn = time.Until(token.Expiry)
	}
	if rawIDToken, ok := token.Extra("id_token").(string); ok && rawIDToken != "" {
		email, validateErr := requester.validateIDToken(ctx, rawIDToken, requester.oauthConfig.ClientID)
		if validateErr != nil {
			requester.logger.Warn("id token validation failed",
				zap.String("code", "googleauth.token.id_token_invalid"),
				zap.Error(validateErr))
		} else {
			grant.AccountEmail = email
		}
	}
	return grant
}

// RevokeToken asks the provider to drop the grant server-side. Best effort:
// local state is the authority for connectedness.
func (requester *oauthRequester) RevokeToken(ctx context.Context, accessToken string) error {
	if requester.revocationEndpoint == "" || accessToken == "" {
		return nil
	}
	form := url.Values{"token": {accessToken}}
	request, buildErr := http.NewRequestWithContext(ctx, http.MethodPost, requester.revocationEndpoint, strings.NewReader(form.Encode()))
	if buildErr != nil {
		return buildErr
	}
	request.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	response, requestErr := requester.httpClient.Do(request)
	if requestErr != nil {
		return requestErr
	}
	defer func() { _ = response.Body.Close() }()
	if response.StatusCode < 200 || response.StatusCode > 299 {
		return fmt.Errorf("googleauth.token.revoke_status: %d", response.StatusCode)
	}
	return nil
}

func randomState() (string, error) {
	buffer := make([]byte, 24)
	if _, err := rand.Read(buffer); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buffer), nil
}
