package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nucleus/sync-agent/internal/auth"
	"github.com/nucleus/sync-agent/internal/config"
	httpconn "github.com/nucleus/sync-agent/internal/connector/http"
	"github.com/nucleus/sync-agent/internal/connector/minio"
	"github.com/nucleus/sync-agent/internal/core"
	"github.com/nucleus/sync-agent/internal/extract"
	"github.com/nucleus/sync-agent/internal/jobs"
	"github.com/nucleus/sync-agent/internal/pipeline"
	"github.com/nucleus/sync-agent/internal/status"
	"github.com/nucleus/sync-agent/internal/tokenstore"
	"github.com/nucleus/sync-agent/internal/upload"
)

// closers releases resources opened while wiring, in reverse order.
type closers []func() error

func (c closers) Close() error {
	var errs []error
	for i := len(c) - 1; i >= 0; i-- {
		errs = append(errs, c[i]())
	}
	return errors.Join(errs...)
}

func newHTTPClient(c *config.Config) *httpconn.Client {
	cc := httpconn.DefaultClientConfig()
	cc.UserAgent = c.Settings().UserAgent()
	if c.HTTPTimeout > 0 {
		cc.Timeout = c.HTTPTimeout
	}
	if c.RateLimit > 0 {
		cc.RateLimit = c.RateLimit
	}
	return httpconn.NewClient(cc)
}

// newBlobClient carries payload PUTs. It has no total timeout; only the
// wait for response headers is bounded.
func newBlobClient(c *config.Config) *httpconn.Client {
	cc := httpconn.DefaultClientConfig()
	cc.UserAgent = c.Settings().UserAgent()
	cc.Timeout = -1
	cc.ResponseHeaderTimeout = c.HTTPTimeout
	if c.RateLimit > 0 {
		cc.RateLimit = c.RateLimit
	}
	return httpconn.NewClient(cc)
}

func newReporter(c *config.Config, client *httpconn.Client, log *slog.Logger) *status.Reporter {
	opts := []status.Option{status.WithAttempts(c.ReportAttempts), status.WithLogger(log)}
	if c.ReportBackoff > 0 {
		opts = append(opts, status.WithBackoff(c.ReportBackoff))
	}
	return status.NewReporter(client, opts...)
}

func newTokenStore(ctx context.Context, c *config.Config) (auth.TokenStore, func() error, error) {
	switch c.TokenStore.Kind {
	case config.TokenStorePostgres:
		st, err := tokenstore.NewPostgresStore(ctx, tokenstore.PostgresConfig{
			DSN:         c.TokenStore.DSN,
			ClientID:    c.OAuth2.ClientID,
			DialTimeout: 30 * time.Second,
		})
		if err != nil {
			return nil, nil, err
		}
		return st, st.Close, nil
	case config.TokenStoreFile:
		return tokenstore.NewFileStore(c.TokenStore.Path), func() error { return nil }, nil
	}
	return nil, nil, fmt.Errorf("unknown token store %q", c.TokenStore.Kind)
}

func newOAuth2Provider(ctx context.Context, c *config.Config, client *httpconn.Client, reporter core.Reporter, log *slog.Logger) (*auth.OAuth2Provider, func() error, error) {
	store, closeStore, err := newTokenStore(ctx, c)
	if err != nil {
		return nil, nil, err
	}
	p := auth.NewOAuth2Provider(
		auth.OAuth2Credentials{ClientID: c.OAuth2.ClientID, ClientSecret: c.OAuth2.ClientSecret, Store: store},
		auth.OAuth2Endpoints{
			AuthURL:     c.OAuth2.AuthorizeURL,
			TokenURL:    c.OAuth2.TokenURL,
			RedirectURL: c.OAuth2.RedirectURL,
			Scopes:      c.OAuth2.Scopes,
		},
		client, c.Settings(), reporter, log,
	)
	return p, closeStore, nil
}

func newAuthProvider(ctx context.Context, c *config.Config, client *httpconn.Client, reporter core.Reporter, log *slog.Logger) (pipeline.Authoriser, func() error, error) {
	switch c.AuthMode {
	case config.AuthModeOAuth2:
		return newOAuth2Provider(ctx, c, client, reporter, log)
	case config.AuthModeBasic:
		p := auth.NewStaticProvider(
			auth.StaticCredentials{DeploymentID: c.DeploymentID, DeploymentSecret: c.DeploymentSecret},
			client, c.Settings(), reporter, log,
		)
		return p, func() error { return nil }, nil
	}
	return nil, nil, fmt.Errorf("unknown auth mode %q", c.AuthMode)
}

// newArchiver returns nil when no archive backend is configured.
func newArchiver(c *config.Config, log *slog.Logger) (pipeline.Archiver, error) {
	ac := minio.Config(c.Archive)
	if !ac.Enabled() {
		return nil, nil
	}
	store, err := minio.NewObjectStore(&ac)
	if err != nil {
		return nil, fmt.Errorf("archive store: %w", err)
	}
	return minio.NewArchiver(store, ac.Bucket, ac.Prefix, log), nil
}

// buildPipeline wires every stage of a run from configuration. The returned
// close func must be called once the run is done.
func buildPipeline(ctx context.Context, c *config.Config, log *slog.Logger) (*pipeline.Pipeline, func() error, error) {
	settings := c.Settings()
	client := newHTTPClient(c)
	reporter := newReporter(c, client, log)

	var cleanup closers
	authoriser, closeAuth, err := newAuthProvider(ctx, c, client, reporter, log)
	if err != nil {
		return nil, nil, err
	}
	cleanup = append(cleanup, closeAuth)

	archiver, err := newArchiver(c, log)
	if err != nil {
		cleanup.Close()
		return nil, nil, err
	}

	uploadOpts := []upload.Option{
		upload.WithAttempts(c.UploadAttempts),
		upload.WithBlobClient(newBlobClient(c)),
		upload.WithLogger(log),
	}
	if c.UploadBackoff > 0 {
		uploadOpts = append(uploadOpts, upload.WithBackoff(c.UploadBackoff))
	}

	extractor := extract.New(
		extract.WithTimeout(c.SQLTimeout),
		extract.WithSpoolDir(c.SpoolDir),
		extract.WithLogger(log),
	)

	deps := pipeline.Deps{
		Auth:      authoriser,
		Source:    jobs.NewSource(client, settings, reporter, log),
		Extractor: extractor,
		Uploader:  upload.New(client, uploadOpts...),
		Reporter:  reporter,
		Archiver:  archiver,
	}
	return pipeline.New(settings, deps, log), cleanup.Close, nil
}
