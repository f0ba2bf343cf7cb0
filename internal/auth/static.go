package auth

import (
	"context"
	"log/slog"

	httpconn "github.com/nucleus/sync-agent/internal/connector/http"
	"github.com/nucleus/sync-agent/internal/core"
)

// StaticCredentials identify a deployment with a fixed id/secret pair.
type StaticCredentials struct {
	DeploymentID     string
	DeploymentSecret string
}

// StaticProvider authorises with HTTP Basic credentials.
type StaticProvider struct {
	creds StaticCredentials
	x     exchange
}

// NewStaticProvider creates a Basic-auth provider.
func NewStaticProvider(creds StaticCredentials, client *httpconn.Client, settings core.Settings, reporter core.Reporter, logger *slog.Logger) *StaticProvider {
	return &StaticProvider{creds: creds, x: newExchange(client, settings, reporter, logger)}
}

// Authorise posts the deployment credentials to the auth endpoint.
func (p *StaticProvider) Authorise(ctx context.Context) (*core.Session, error) {
	basic := httpconn.BasicAuth{Username: p.creds.DeploymentID, Password: p.creds.DeploymentSecret}
	return p.x.post(ctx, basic, p.creds.DeploymentID)
}
