// Package core holds the types shared by every stage of the sync pipeline:
// the authorised session, job descriptors, status events, and the settings
// value object that replaces process-wide constants.
package core

import (
	"context"
	"strings"
)

// =============================================================================
// SESSION
// =============================================================================

// Session is the result of authorising against the coordination service.
// It is created once per run and only read afterwards.
type Session struct {
	TenantID     string
	Endpoint     string // host (or base URL) of the sync API
	DeploymentID string
	Token        string
}

// BaseURL returns the sync API base URL. A bare host is addressed over https.
func (s *Session) BaseURL() string {
	ep := strings.TrimSuffix(s.Endpoint, "/")
	if strings.HasPrefix(ep, "http://") || strings.HasPrefix(ep, "https://") {
		return ep
	}
	return "https://" + ep
}

// URL joins the tenant/deployment scoped path for an API resource, e.g.
// URL("poll") => {base}/poll/{tenant}/{deployment}.
func (s *Session) URL(resource string, extra ...string) string {
	parts := []string{s.BaseURL(), resource, s.TenantID, s.DeploymentID}
	for _, e := range extra {
		if e != "" {
			parts = append(parts, e)
		}
	}
	return strings.Join(parts, "/")
}

// =============================================================================
// JOBS
// =============================================================================

// SourceType identifies the database vendor a job extracts from.
type SourceType string

const (
	SourceMSSQL SourceType = "MSSQL"
	SourceMySQL SourceType = "MYSQL"
	SourcePgSQL SourceType = "PGSQL"
)

// Connection holds the site-local database coordinates of a job.
type Connection struct {
	Host     string
	Port     int
	Database string
	Username string
	Password string
}

// JobDescriptor is one unit of extraction work returned by a poll.
type JobDescriptor struct {
	DefinitionID string
	InstanceID   string
	SourceType   SourceType
	SourceName   string
	Connection   Connection
	SQLTemplate  string
	SQLOverride  string
}

// EffectiveQuery returns the override when present, otherwise the template.
func (j *JobDescriptor) EffectiveQuery() string {
	if strings.TrimSpace(j.SQLOverride) != "" {
		return j.SQLOverride
	}
	return j.SQLTemplate
}

// DisplaySource returns the source name used in operator-facing messages.
func (j *JobDescriptor) DisplaySource() string {
	if j.SourceName != "" {
		return j.SourceName
	}
	return string(j.SourceType)
}

// =============================================================================
// STATUS EVENTS
// =============================================================================

// EventType classifies a status event.
type EventType string

const (
	EventInfo    EventType = "Info"
	EventWarning EventType = "Warning"
	EventError   EventType = "Error"
)

// JobStatus is the lifecycle status carried by an event.
type JobStatus string

const (
	StatusNone             JobStatus = ""
	StatusExtracting       JobStatus = "extracting"
	StatusUploading        JobStatus = "uploading"
	StatusPendingIngestion JobStatus = "pending_ingestion"
	StatusFailed           JobStatus = "failed"
)

// StatusEvent is a single job lifecycle update sent to the coordination service.
type StatusEvent struct {
	Type          EventType      `json:"type"`
	Message       string         `json:"message"`
	EventID       int            `json:"event_id"`
	Source        string         `json:"source"`
	JobStatus     JobStatus      `json:"status,omitempty"`
	JobInstanceID string         `json:"-"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// Reporter delivers status events. Implementations are best effort and never
// fail the caller. A nil session means no API address is known yet.
type Reporter interface {
	Report(ctx context.Context, session *Session, event StatusEvent)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(ctx context.Context, session *Session, event StatusEvent)

// Report calls f.
func (f ReporterFunc) Report(ctx context.Context, session *Session, event StatusEvent) {
	f(ctx, session, event)
}
