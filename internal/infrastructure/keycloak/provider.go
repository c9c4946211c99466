// Package keycloak supplies bearer tokens for a signed-in user from a
// Keycloak realm using the OpenID Connect token endpoint.
package keycloak

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

// ErrNoSession is returned when a token is requested without a signed-in user.
var ErrNoSession = errors.New("keycloak: no session")

// Provider holds the token pair of one user session.
// It satisfies realtime.TokenProvider and api.TokenSource.
type Provider struct {
	oauth      *oauth2.Config
	httpClient *http.Client
	clock      clock.Clock

	mu      sync.RWMutex
	access  string
	refresh string
	expiry  time.Time

	group singleflight.Group
}

// New creates a Provider for realm on the Keycloak server at baseURL
// (e.g. "http://keycloak:8080"). clientSecret may be empty for public clients.
func New(baseURL, realm, clientID, clientSecret string, clk clock.Clock) *Provider {
	if clk == nil {
		clk = clock.New()
	}
	tokenURL := fmt.Sprintf("%s/realms/%s/protocol/openid-connect/token", strings.TrimRight(baseURL, "/"), realm)
	return &Provider{
		oauth: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     oauth2.Endpoint{TokenURL: tokenURL, AuthStyle: oauth2.AuthStyleInParams},
			Scopes:       []string{"openid"},
		},
		httpClient: &http.Client{Timeout: 10 * time.Second},
		clock:      clk,
	}
}

// SignIn starts a session from an existing token pair.
func (p *Provider) SignIn(accessToken, refreshToken string) {
	p.store(&oauth2.Token{AccessToken: accessToken, RefreshToken: refreshToken})
}

// SignInWithPassword starts a session with the resource owner password grant.
func (p *Provider) SignInWithPassword(ctx context.Context, username, password string) error {
	tok, err := p.oauth.PasswordCredentialsToken(p.withClient(ctx), username, password)
	if err != nil {
		return fmt.Errorf("keycloak sign in: %w", err)
	}
	p.store(tok)
	log.Info().Str("user", username).Msg("signed in")
	return nil
}

// SignOut forgets the session. Reconnection stops once the stream notices.
func (p *Provider) SignOut() {
	p.mu.Lock()
	p.access, p.refresh, p.expiry = "", "", time.Time{}
	p.mu.Unlock()
}

// Authenticated reports whether a session exists.
func (p *Provider) Authenticated() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.access != "" || p.refresh != ""
}

// Token returns the access token when it stays valid for at least
// minValidity, refreshing it first otherwise.
func (p *Provider) Token(ctx context.Context, minValidity time.Duration) (string, error) {
	p.mu.RLock()
	access, expiry := p.access, p.expiry
	p.mu.RUnlock()

	if access != "" && (expiry.IsZero() || p.clock.Until(expiry) > minValidity) {
		return access, nil
	}
	return p.Refresh(ctx)
}

// Refresh exchanges the refresh token for a new pair. Concurrent callers
// share one request. A refresh token the server rejects ends the session.
func (p *Provider) Refresh(ctx context.Context) (string, error) {
	v, err, _ := p.group.Do("refresh", func() (any, error) {
		p.mu.RLock()
		refresh := p.refresh
		p.mu.RUnlock()
		if refresh == "" {
			return "", ErrNoSession
		}

		tok, err := p.oauth.TokenSource(p.withClient(ctx), &oauth2.Token{RefreshToken: refresh}).Token()
		if err != nil {
			var re *oauth2.RetrieveError
			if errors.As(err, &re) && re.Response != nil &&
				(re.Response.StatusCode == http.StatusBadRequest || re.Response.StatusCode == http.StatusUnauthorized) {
				log.Warn().Str("error_code", re.ErrorCode).Msg("refresh token rejected, ending session")
				p.SignOut()
			}
			return "", fmt.Errorf("keycloak refresh token: %w", err)
		}

		p.store(tok)
		log.Debug().Msg("access token refreshed")
		return tok.AccessToken, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (p *Provider) store(tok *oauth2.Token) {
	expiry := tokenExpiry(tok.AccessToken)
	if expiry.IsZero() {
		expiry = tok.Expiry
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.access = tok.AccessToken
	if tok.RefreshToken != "" {
		p.refresh = tok.RefreshToken
	}
	p.expiry = expiry
}

func (p *Provider) withClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
}

// tokenExpiry reads the exp claim without verifying the signature; the
// server that issued the token is the one that checks it.
func tokenExpiry(access string) time.Time {
	if access == "" {
		return time.Time{}
	}
	tok, _, err := jwt.NewParser().ParseUnverified(access, jwt.MapClaims{})
	if err != nil {
		return time.Time{}
	}
	exp, err := tok.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
