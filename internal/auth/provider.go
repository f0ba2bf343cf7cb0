// Package auth obtains an authorised session from the coordination service.
//
// Two strategies share one response contract:
//
//	StaticProvider  - HTTP Basic with deployment id/secret
//	OAuth2Provider  - bearer access token kept fresh with a refresh token
//
// Both report a single Auth Service error event before returning an
// AuthError; callers treat that error as fatal for the run.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"

	httpconn "github.com/nucleus/sync-agent/internal/connector/http"
	"github.com/nucleus/sync-agent/internal/core"
)

// Provider authorises one pipeline run.
type Provider interface {
	Authorise(ctx context.Context) (*core.Session, error)
}

// authResponse is the body returned by the auth endpoint.
type authResponse struct {
	Short   string `json:"short"`
	Content struct {
		Tenant     string `json:"tenant"`
		Endpoint   string `json:"endpoint"`
		Token      string `json:"token"`
		Deployment string `json:"deployment"`
	} `json:"content"`
}

var errIncompleteResponse = errors.New("missing expected data in auth response")

// exchange holds what both strategies need to call the auth endpoint.
type exchange struct {
	client   *httpconn.Client
	settings core.Settings
	reporter core.Reporter
	logger   *slog.Logger
}

func newExchange(client *httpconn.Client, settings core.Settings, reporter core.Reporter, logger *slog.Logger) exchange {
	if logger == nil {
		logger = slog.Default()
	}
	if reporter == nil {
		reporter = core.ReporterFunc(func(context.Context, *core.Session, core.StatusEvent) {})
	}
	return exchange{client: client, settings: settings, reporter: reporter, logger: logger}
}

// post calls the auth endpoint with the given credentials and decodes the session.
func (x exchange) post(ctx context.Context, creds httpconn.AuthConfig, deploymentID string) (*core.Session, error) {
	resp, err := x.client.Post(ctx, x.settings.AuthEndpoint, nil, creds)
	if err != nil {
		return nil, x.fail(ctx, httpconn.StatusOf(resp), err)
	}
	if resp.StatusCode != 200 {
		return nil, x.fail(ctx, resp.StatusCode, fmt.Errorf("non-200 response code: %d", resp.StatusCode))
	}

	var body authResponse
	if err := resp.JSON(&body); err != nil {
		return nil, x.fail(ctx, 0, fmt.Errorf("decode auth response: %w", err))
	}
	if body.Short != "" && body.Short != "ok" {
		return nil, x.fail(ctx, 0, fmt.Errorf("auth response short=%q", body.Short))
	}
	c := body.Content
	if c.Tenant == "" || c.Endpoint == "" || c.Token == "" {
		return nil, x.fail(ctx, 0, errIncompleteResponse)
	}

	session := &core.Session{
		TenantID:     c.Tenant,
		Endpoint:     c.Endpoint,
		DeploymentID: c.Deployment,
		Token:        c.Token,
	}
	if session.DeploymentID == "" {
		session.DeploymentID = deploymentID
	}

	log := x.logger.With("tenant", session.TenantID, "endpoint", session.Endpoint)
	if exp, ok := TokenExpiry(session.Token); ok {
		log = log.With("token_expires_at", exp.Format(time.RFC3339))
	}
	log.Info("authorised with coordination service")
	return session, nil
}

// fail reports the auth failure and returns the run-fatal error.
func (x exchange) fail(ctx context.Context, status int, cause error) error {
	x.reporter.Report(ctx, nil, core.StatusEvent{
		Type:    core.EventError,
		Source:  x.settings.Sources.AuthService,
		EventID: x.settings.Events.AuthBase + status,
		Message: "Sync Agent was unable to retrieve an authorization token.",
	})
	x.logger.Error("authorisation failed", "status_code", status, "error", cause)
	return core.NewAuthError(status, cause)
}

// TokenExpiry reads the exp claim of a JWT bearer token without verifying
// it. Opaque tokens report false.
func TokenExpiry(token string) (time.Time, bool) {
	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return time.Time{}, false
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
