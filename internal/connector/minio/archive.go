// Package minio keeps an archive copy of every uploaded CSV payload in an
// S3-compatible bucket (MinIO, S3) or a local directory.
package minio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/nucleus/sync-agent/internal/core"
	"github.com/nucleus/sync-agent/internal/staging"
)

// Config selects and configures the archive backend. EndpointURL selects
// the S3 client; otherwise LocalDir selects the on-disk store.
type Config struct {
	EndpointURL     string
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	UseSSL          bool
	Bucket          string
	Prefix          string
	LocalDir        string
}

// Enabled reports whether any backend is configured.
func (c *Config) Enabled() bool {
	return c != nil && (c.EndpointURL != "" || c.LocalDir != "")
}

// NewObjectStore builds the backend cfg selects.
func NewObjectStore(cfg *Config) (ObjectStore, error) {
	switch {
	case cfg == nil:
		return nil, errors.New("archive config is required")
	case cfg.EndpointURL != "":
		c, err := NewS3Client(cfg)
		if err != nil {
			return nil, err
		}
		return c, nil
	case cfg.LocalDir != "":
		return NewLocalStore(cfg.LocalDir), nil
	}
	return nil, errors.New("archive needs an endpoint URL or a local directory")
}

const archiveAttempts = 3

// Archiver writes payloads to {prefix}/{tenant}/{deployment}/{yyyy/mm/dd}/{job}.csv.
type Archiver struct {
	store  ObjectStore
	bucket string
	prefix string
	now    func() time.Time
	logger *slog.Logger
}

// NewArchiver creates an Archiver over store.
func NewArchiver(store ObjectStore, bucket, prefix string, logger *slog.Logger) *Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	if bucket == "" {
		bucket = "sync-agent"
	}
	return &Archiver{store: store, bucket: bucket, prefix: prefix, now: time.Now, logger: logger}
}

// Key returns the object key for a job's payload.
func (a *Archiver) Key(session *core.Session, job core.JobDescriptor) string {
	day := a.now().UTC().Format("2006/01/02")
	return joinKey(a.prefix, session.TenantID, session.DeploymentID, day, job.InstanceID+".csv")
}

// Archive copies payload into the bucket. A retryable store failure is
// retried up to archiveAttempts times.
func (a *Archiver) Archive(ctx context.Context, session *core.Session, job core.JobDescriptor, payload *staging.Payload) error {
	if err := a.store.EnsureBucket(ctx, a.bucket); err != nil {
		return err
	}
	r, err := payload.Open()
	if err != nil {
		return wrapError(CodeArchiveWriteFailed, false, err)
	}
	defer r.Close()

	key := a.Key(session, job)
	for attempt := 1; ; attempt++ {
		if _, err = r.Seek(0, io.SeekStart); err != nil {
			return wrapError(CodeArchiveWriteFailed, false, err)
		}
		err = a.store.PutObject(ctx, a.bucket, key, r, payload.Size, "text/csv")
		if err == nil {
			break
		}
		var me *Error
		if attempt >= archiveAttempts || ctx.Err() != nil || !errors.As(err, &me) || !me.RetryableStatus() {
			return fmt.Errorf("archive %s: %w", key, err)
		}
		a.logger.Warn("archive attempt failed, retrying", "key", key, "attempt", attempt, "code", me.CodeValue())
	}
	a.logger.Info("payload archived", "bucket", a.bucket, "key", key, "bytes", payload.Size)
	return nil
}
