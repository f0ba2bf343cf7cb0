// Package jobs polls the coordination service for pending sync jobs and
// decodes them into typed descriptors.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"

	httpconn "github.com/nucleus/sync-agent/internal/connector/http"
	"github.com/nucleus/sync-agent/internal/core"
)

// pollResponse is the body of GET {endpoint}/poll/{tenant}/{deployment}.
type pollResponse struct {
	SyncJobs []json.RawMessage `json:"sync_jobs"`
}

// Source retrieves the job queue for a deployment.
type Source struct {
	client   *httpconn.Client
	settings core.Settings
	reporter core.Reporter
	logger   *slog.Logger
}

// NewSource creates a job source on the shared client.
func NewSource(client *httpconn.Client, settings core.Settings, reporter core.Reporter, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{client: client, settings: settings, reporter: reporter, logger: logger}
}

// Poll fetches the pending jobs in queue order. An empty queue is not an
// error. Entries that cannot be decoded or carry no instance id are skipped
// with a warning since no status can be addressed to them.
func (s *Source) Poll(ctx context.Context, session *core.Session) ([]core.JobDescriptor, error) {
	query := url.Values{"v": []string{s.settings.AgentVersion}}
	resp, err := s.client.Get(ctx, session.URL("poll"), query, httpconn.BearerToken{Token: session.Token})
	if err != nil {
		return nil, s.fail(ctx, session, httpconn.StatusOf(resp), err)
	}
	if resp.StatusCode != 200 {
		return nil, s.fail(ctx, session, resp.StatusCode, fmt.Errorf("non-200 response code: %d", resp.StatusCode))
	}

	var body pollResponse
	if err := resp.JSON(&body); err != nil {
		return nil, s.fail(ctx, session, 0, fmt.Errorf("decode poll response: %w", err))
	}

	jobs := make([]core.JobDescriptor, 0, len(body.SyncJobs))
	for i, raw := range body.SyncJobs {
		job, err := Decode(raw)
		if err != nil {
			s.logger.Warn("skipping undecodable sync job", "index", i, "error", err)
			continue
		}
		if job.InstanceID == "" {
			s.logger.Warn("skipping sync job without instance id", "index", i, "definition", job.DefinitionID)
			continue
		}
		jobs = append(jobs, job)
	}

	s.logger.Info("polled sync jobs", "count", len(jobs))
	return jobs, nil
}

func (s *Source) fail(ctx context.Context, session *core.Session, status int, cause error) error {
	s.reporter.Report(ctx, session, core.StatusEvent{
		Type:    core.EventError,
		Source:  s.settings.Sources.JobDispatchQueue,
		EventID: s.settings.Events.DispatchBase + status,
		Message: "Sync Agent was unable to retrieve sync jobs from the IDaP.",
	})
	s.logger.Error("failed to retrieve sync jobs", "status_code", status, "error", cause)
	return core.NewPollError(status, cause)
}
