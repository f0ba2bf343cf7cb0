package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/oauth2"

	httpconn "github.com/nucleus/sync-agent/internal/connector/http"
	"github.com/nucleus/sync-agent/internal/core"
)

// ErrNoToken is returned by a TokenStore that holds nothing yet.
var ErrNoToken = errors.New("no stored oauth2 token")

// TokenStore persists the OAuth2 token between runs. The storage medium is
// up to the implementation.
type TokenStore interface {
	Load(ctx context.Context) (*oauth2.Token, error)
	Save(ctx context.Context, tok *oauth2.Token) error
	Delete(ctx context.Context) error
}

// OAuth2Credentials identify an OAuth2 client and where its token lives.
type OAuth2Credentials struct {
	ClientID     string
	ClientSecret string
	Store        TokenStore
}

// OAuth2Endpoints are the authorization server URLs.
type OAuth2Endpoints struct {
	AuthURL     string
	TokenURL    string
	RedirectURL string
	Scopes      []string
}

// OAuth2Provider authorises with a bearer access token, refreshing it first
// when it has expired.
type OAuth2Provider struct {
	creds  OAuth2Credentials
	config *oauth2.Config
	x      exchange
}

// NewOAuth2Provider creates a refresh-token provider.
func NewOAuth2Provider(creds OAuth2Credentials, endpoints OAuth2Endpoints, client *httpconn.Client, settings core.Settings, reporter core.Reporter, logger *slog.Logger) *OAuth2Provider {
	return &OAuth2Provider{
		creds:  creds,
		config: OAuth2Config(creds.ClientID, creds.ClientSecret, endpoints),
		x:      newExchange(client, settings, reporter, logger),
	}
}

// OAuth2Config builds the oauth2 client configuration.
func OAuth2Config(clientID, clientSecret string, endpoints OAuth2Endpoints) *oauth2.Config {
	scopes := endpoints.Scopes
	if len(scopes) == 0 {
		scopes = []string{"offline_access"}
	}
	return &oauth2.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		RedirectURL:  endpoints.RedirectURL,
		Scopes:       scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   endpoints.AuthURL,
			TokenURL:  endpoints.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// Authorise refreshes the stored token if needed, persists any new token,
// and posts to the auth endpoint with it.
func (p *OAuth2Provider) Authorise(ctx context.Context) (*core.Session, error) {
	if p.creds.Store == nil {
		return nil, p.x.fail(ctx, 0, errors.New("oauth2 token store is not configured"))
	}

	stored, err := p.creds.Store.Load(ctx)
	if err == nil && stored == nil {
		err = ErrNoToken
	}
	if err != nil {
		return nil, p.x.fail(ctx, 0, fmt.Errorf("load oauth2 token: %w", err))
	}

	fresh, err := p.config.TokenSource(p.oauthContext(ctx), stored).Token()
	if err != nil {
		status := 0
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			if re.Response != nil {
				status = re.Response.StatusCode
			}
			if re.ErrorCode == "invalid_grant" {
				// Revoked or expired refresh token.
				if derr := p.creds.Store.Delete(ctx); derr != nil {
					p.x.logger.Warn("failed to delete revoked oauth2 token", "error", derr)
				}
			}
		}
		return nil, p.x.fail(ctx, status, fmt.Errorf("oauth2 refresh: %w", err))
	}

	if fresh.AccessToken != stored.AccessToken || fresh.RefreshToken != stored.RefreshToken {
		if err := p.creds.Store.Save(ctx, fresh); err != nil {
			p.x.logger.Warn("failed to persist refreshed oauth2 token", "error", err)
		} else {
			p.x.logger.Info("oauth2 token refreshed", "expires_at", fresh.Expiry)
		}
	}

	return p.x.post(ctx, httpconn.BearerToken{Token: fresh.AccessToken}, p.creds.ClientID)
}

// AuthCodeURL returns the URL an operator visits to grant the agent access.
func (p *OAuth2Provider) AuthCodeURL(state string) string {
	return p.config.AuthCodeURL(state)
}

// Exchange trades an authorization code for a token and stores it.
func (p *OAuth2Provider) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	tok, err := p.config.Exchange(p.oauthContext(ctx), code)
	if err != nil {
		return nil, fmt.Errorf("exchange authorization code: %w", err)
	}
	if tok.RefreshToken == "" {
		return nil, errors.New("no refresh token granted; request the offline_access scope")
	}
	if p.creds.Store != nil {
		if err := p.creds.Store.Save(ctx, tok); err != nil {
			return nil, fmt.Errorf("save token: %w", err)
		}
	}
	return tok, nil
}

func (p *OAuth2Provider) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, p.x.client.HTTPClient())
}
