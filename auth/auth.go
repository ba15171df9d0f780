// Package auth exchanges Spotify client credentials for a bearer token.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/mager/clave/clave"
	"github.com/mager/clave/config"
)

// ErrAuth is returned when no token could be obtained. It is fatal to a run.
var ErrAuth = errors.New("auth: token exchange failed")

// TokenProvider performs the client-credentials exchange. It does not cache
// or refresh: callers fetch one token per run.
type TokenProvider struct {
	creds      clave.Credentials
	tokenURL   string
	httpClient *http.Client
}

func NewTokenProvider(creds clave.Credentials, tokenURL string, httpClient *http.Client) *TokenProvider {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &TokenProvider{
		creds:      creds,
		tokenURL:   tokenURL,
		httpClient: httpClient,
	}
}

// Token returns a bearer token. The credentials go in a Basic-auth header
// only, so a rejection costs exactly one request.
func (p *TokenProvider) Token(ctx context.Context) (string, error) {
	if err := p.creds.Validate(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrAuth, err)
	}

	cfg := clientcredentials.Config{
		ClientID:     p.creds.ClientID,
		ClientSecret: p.creds.ClientSecret,
		TokenURL:     p.tokenURL,
		AuthStyle:    oauth2.AuthStyleInHeader,
	}

	tok, err := cfg.Token(context.WithValue(ctx, oauth2.HTTPClient, p.httpClient))
	if err != nil {
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) && rerr.Response != nil {
			return "", fmt.Errorf("%w: status %d: %v", ErrAuth, rerr.Response.StatusCode, err)
		}
		return "", fmt.Errorf("%w: %v", ErrAuth, err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("%w: empty access token", ErrAuth)
	}
	return tok.AccessToken, nil
}

func ProvideTokenProvider(cfg config.Config, httpClient *http.Client, log *zap.SugaredLogger) *TokenProvider {
	log.Infow("setting up spotify token provider", "token_url", cfg.SpotifyTokenURL)
	return NewTokenProvider(cfg.Credentials(), cfg.SpotifyTokenURL, httpClient)
}

var Options = ProvideTokenProvider
