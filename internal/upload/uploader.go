// Package upload obtains a one-time storage URL for a job and PUTs the
// job's CSV payload to it.
package upload

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	httpconn "github.com/nucleus/sync-agent/internal/connector/http"
	"github.com/nucleus/sync-agent/internal/core"
	"github.com/nucleus/sync-agent/internal/staging"
)

const DefaultAttempts = 5

// Target is where a payload goes.
type Target struct {
	SASURL  string
	Headers map[string]string
}

type descriptor struct {
	SASURL  string `json:"sas_url"`
	Headers []struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	} `json:"headers"`
}

// Uploader talks to the upload descriptor endpoint and blob storage.
type Uploader struct {
	client   *httpconn.Client
	blob     *httpconn.Client
	attempts int
	backoff  time.Duration
	logger   *slog.Logger
}

// Option configures an Uploader.
type Option func(*Uploader)

// WithAttempts overrides the PUT attempt budget.
func WithAttempts(n int) Option {
	return func(u *Uploader) {
		if n > 0 {
			u.attempts = n
		}
	}
}

// WithBackoff sets a linear delay between PUT attempts.
func WithBackoff(d time.Duration) Option {
	return func(u *Uploader) { u.backoff = d }
}

// WithBlobClient sends PUTs through c instead of the coordination client,
// so payload transfers are not bound by the API request timeout.
func WithBlobClient(c *httpconn.Client) Option {
	return func(u *Uploader) {
		if c != nil {
			u.blob = c
		}
	}
}

// WithLogger sets the uploader's logger.
func WithLogger(l *slog.Logger) Option {
	return func(u *Uploader) {
		if l != nil {
			u.logger = l
		}
	}
}

// New creates an Uploader on the shared client.
func New(client *httpconn.Client, opts ...Option) *Uploader {
	u := &Uploader{client: client, blob: client, attempts: DefaultAttempts, logger: slog.Default()}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// RequestTarget fetches the upload descriptor for a job. A non-200 reply is
// an E_UPLOAD error carrying the status. A 200 without a sas_url returns
// core.ErrNoUploadURL.
func (u *Uploader) RequestTarget(ctx context.Context, session *core.Session, jobID string) (*Target, error) {
	resp, err := u.client.Get(ctx, session.URL("upload", jobID), nil, httpconn.BearerToken{Token: session.Token})
	if err != nil {
		return nil, core.NewUploadError(httpconn.StatusOf(resp), err)
	}
	if resp.StatusCode != 200 {
		return nil, core.NewUploadError(resp.StatusCode, fmt.Errorf("non-200 response code: %d", resp.StatusCode))
	}

	var d descriptor
	if err := resp.JSON(&d); err != nil {
		return nil, core.NewUploadError(0, fmt.Errorf("decode upload descriptor: %w", err))
	}
	if d.SASURL == "" {
		return nil, core.ErrNoUploadURL
	}

	t := &Target{SASURL: d.SASURL, Headers: make(map[string]string, len(d.Headers))}
	for _, h := range d.Headers {
		if h.Key != "" {
			t.Headers[h.Key] = h.Value
		}
	}
	return t, nil
}

// Put sends payload to target, replaying the same bytes on each attempt.
// Any 2xx is success. After the attempt budget is spent it returns E_UPLOAD
// with the last status seen.
func (u *Uploader) Put(ctx context.Context, target *Target, payload *staging.Payload) error {
	log := u.logger.With("bytes", payload.Size, "rows", payload.Rows)

	body, err := payload.Open()
	if err != nil {
		return core.NewUploadError(0, err)
	}
	defer body.Close()

	failures := 0
	lastStatus := 0
	var lastErr error
	for failures < u.attempts {
		if failures > 0 && u.backoff > 0 {
			select {
			case <-ctx.Done():
				return core.NewUploadError(lastStatus, ctx.Err())
			case <-time.After(time.Duration(failures) * u.backoff):
			}
		}

		resp, err := u.putOnce(ctx, target, body, payload.Size)
		status := httpconn.StatusOf(resp)
		if err == nil && resp.IsSuccess() {
			log.Info("payload uploaded", "attempt", failures+1, "status_code", status)
			return nil
		}

		failures++
		lastStatus = status
		lastErr = err
		if lastErr == nil {
			lastErr = fmt.Errorf("unexpected response code: %d", status)
		}
		log.Warn("upload attempt failed", "attempt", failures, "status_code", status, "error", lastErr)
		if ctx.Err() != nil {
			break
		}
	}

	return core.NewUploadError(lastStatus, fmt.Errorf("upload failed after %d attempts: %w", failures, lastErr))
}

func (u *Uploader) putOnce(ctx context.Context, target *Target, body io.ReadSeeker, size int64) (*httpconn.Response, error) {
	req := &httpconn.Request{
		Method:  http.MethodPut,
		Path:    target.SASURL,
		Headers: target.Headers,
		Auth:    httpconn.NoAuth{},
	}
	if size == 0 {
		req.Body = http.NoBody
	} else {
		if _, err := body.Seek(0, io.SeekStart); err != nil {
			return nil, err
		}
		req.Body = io.LimitReader(body, size)
		req.ContentLength = size
	}

	return u.blob.Do(ctx, req)
}
