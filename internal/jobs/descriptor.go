package jobs

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/nucleus/sync-agent/internal/core"
)

// wireJob mirrors one entry of the poll response's sync_jobs array.
type wireJob struct {
	DefinitionID string `json:"job_definition_uuid"`
	InstanceID   string `json:"job_instance_uuid"`
	SyncTemplate struct {
		SQL        string `json:"sql"`
		SyncSource struct {
			Name string `json:"name"`
			Type string `json:"type"`
		} `json:"syncSource"`
	} `json:"syncTemplate"`
	Config *struct {
		Host     string   `json:"host"`
		Port     flexPort `json:"port"`
		Database string   `json:"database"`
		Username string   `json:"username"`
		Password string   `json:"password"`
	} `json:"config"`
	TemplateOverride overrideSQL `json:"template_override"`
}

// flexPort accepts a port as a JSON number, a numeric string, or empty.
type flexPort int

func (p *flexPort) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(bytes.TrimSpace(data)), `"`)
	if s == "" || s == "null" {
		*p = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("invalid port %q", s)
	}
	*p = flexPort(n)
	return nil
}

// overrideSQL accepts template_override either as {"sql": "..."} or as a bare string.
type overrideSQL string

func (o *overrideSQL) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*o = overrideSQL(s)
		return nil
	}
	var obj struct {
		SQL string `json:"sql"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*o = overrideSQL(obj.SQL)
	return nil
}

// Decode builds a typed descriptor from one raw sync_jobs entry.
func Decode(raw json.RawMessage) (core.JobDescriptor, error) {
	var w wireJob
	if err := json.Unmarshal(raw, &w); err != nil {
		return core.JobDescriptor{}, fmt.Errorf("decode sync job: %w", err)
	}

	job := core.JobDescriptor{
		DefinitionID: w.DefinitionID,
		InstanceID:   w.InstanceID,
		SourceType:   core.SourceType(strings.ToUpper(strings.TrimSpace(w.SyncTemplate.SyncSource.Type))),
		SourceName:   w.SyncTemplate.SyncSource.Name,
		SQLTemplate:  w.SyncTemplate.SQL,
		SQLOverride:  string(w.TemplateOverride),
	}
	if w.Config != nil {
		job.Connection = core.Connection{
			Host:     w.Config.Host,
			Port:     int(w.Config.Port),
			Database: w.Config.Database,
			Username: w.Config.Username,
			Password: w.Config.Password,
		}
	}
	return job, nil
}

// Validate rejects descriptors that cannot be extracted. It runs before any
// connection attempt; the source type itself is checked by the extractor.
func Validate(job core.JobDescriptor) error {
	if strings.TrimSpace(job.InstanceID) == "" {
		return core.NewInvalidJobError(core.ErrMissingInstanceID)
	}
	if strings.TrimSpace(job.EffectiveQuery()) == "" {
		return core.NewInvalidJobError(core.ErrMissingQuery)
	}
	if strings.TrimSpace(job.Connection.Host) == "" || strings.TrimSpace(job.Connection.Database) == "" {
		return core.NewInvalidJobError(core.ErrMissingConnection)
	}
	return nil
}
