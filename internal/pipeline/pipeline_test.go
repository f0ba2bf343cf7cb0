package pipeline

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/nucleus/sync-agent/internal/auth"
	httpconn "github.com/nucleus/sync-agent/internal/connector/http"
	"github.com/nucleus/sync-agent/internal/core"
	"github.com/nucleus/sync-agent/internal/extract"
	"github.com/nucleus/sync-agent/internal/jobs"
	"github.com/nucleus/sync-agent/internal/staging"
	"github.com/nucleus/sync-agent/internal/status"
	"github.com/nucleus/sync-agent/internal/upload"
)

type patch struct {
	Path  string
	Event map[string]any
}

// coordinator fakes the sync API and blob storage.
type coordinator struct {
	t          *testing.T
	srv        *httptest.Server
	authStatus int
	pollBody   string
	uploadBody func(base string) string

	mu      sync.Mutex
	polls   int
	patches []patch
	blobs   map[string]string
}

func newCoordinator(t *testing.T) *coordinator {
	c := &coordinator{
		t:          t,
		authStatus: http.StatusOK,
		pollBody:   `{"sync_jobs":[]}`,
		uploadBody: func(base string) string { return `{"sas_url":"` + base + `/blob/J1?sig=x"}` },
		blobs:      map[string]string{},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(c.authStatus)
		w.Write([]byte(`{"short":"ok","content":{"tenant":"t1","endpoint":"` + c.srv.URL + `","token":"tok","deployment":"d1"}}`))
	})
	mux.HandleFunc("GET /poll/t1/d1", func(w http.ResponseWriter, r *http.Request) {
		c.mu.Lock()
		c.polls++
		c.mu.Unlock()
		w.Write([]byte(c.pollBody))
	})
	mux.HandleFunc("PATCH /job/", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		c.mu.Lock()
		c.patches = append(c.patches, patch{Path: r.URL.Path, Event: body})
		c.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /upload/t1/d1/{job}", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(c.uploadBody(c.srv.URL)))
	})
	mux.HandleFunc("PUT /blob/{job}", func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		c.mu.Lock()
		c.blobs[r.PathValue("job")] = string(data)
		c.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	})
	c.srv = httptest.NewServer(mux)
	t.Cleanup(c.srv.Close)
	return c
}

func (c *coordinator) eventIDs() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]int, len(c.patches))
	for i, p := range c.patches {
		ids[i] = int(p.Event["event_id"].(float64))
	}
	return ids
}

type recordingArchiver struct {
	archived []string
}

func (a *recordingArchiver) Archive(_ context.Context, _ *core.Session, job core.JobDescriptor, p *staging.Payload) error {
	data, err := p.Bytes()
	if err != nil {
		return err
	}
	a.archived = append(a.archived, job.InstanceID+":"+string(data))
	return nil
}

func (c *coordinator) pipeline(t *testing.T, archiver Archiver) *Pipeline {
	settings := core.DefaultSettings()
	settings.AuthEndpoint = c.srv.URL + "/auth"

	client := httpconn.NewClient(&httpconn.ClientConfig{RateLimit: 1000, RateBurst: 100, UserAgent: settings.UserAgent()})
	reporter := status.NewReporter(client)
	open := func(string, string) (*sql.DB, error) { return sql.Open("sqlite", ":memory:") }

	deps := Deps{
		Auth:      auth.NewStaticProvider(auth.StaticCredentials{DeploymentID: "d1", DeploymentSecret: "s"}, client, settings, reporter, nil),
		Source:    jobs.NewSource(client, settings, reporter, nil),
		Extractor: extract.New(extract.WithOpenFunc(open), extract.WithSpoolDir(t.TempDir())),
		Uploader:  upload.New(client),
		Reporter:  reporter,
	}
	if archiver != nil {
		deps.Archiver = archiver
	}
	return New(settings, deps, nil)
}

const mssqlJob = `{"job_instance_uuid":"J1","syncTemplate":{"sql":"SELECT 1 AS x","syncSource":{"name":"Synergetic","type":"MSSQL"}},"config":{"host":"db","database":"sis"}}`

func TestRun_SingleJobEndToEnd(t *testing.T) {
	c := newCoordinator(t)
	c.pollBody = `{"sync_jobs":[` + mssqlJob + `]}`
	arch := &recordingArchiver{}

	sum, err := c.pipeline(t, arch).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Jobs != 1 || sum.ByState[StateUploaded] != 1 {
		t.Errorf("summary = %+v", sum)
	}
	if sum.RunID == "" {
		t.Error("missing run id")
	}

	if got := c.blobs["J1"]; got != "x\r\n1\r\n" {
		t.Errorf("uploaded body = %q", got)
	}

	want := []int{2000, 3000, 3002, 2002, 2003}
	got := c.eventIDs()
	if len(got) != len(want) {
		t.Fatalf("event ids = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event ids = %v, want %v", got, want)
		}
	}

	last := c.patches[len(c.patches)-1]
	if last.Path != "/job/t1/d1/J1" || last.Event["status"] != "pending_ingestion" {
		t.Errorf("final event = %+v", last)
	}
	if len(arch.archived) != 1 || arch.archived[0] != "J1:x\r\n1\r\n" {
		t.Errorf("archived = %q", arch.archived)
	}
}

func TestRun_NoJobs(t *testing.T) {
	c := newCoordinator(t)

	sum, err := c.pipeline(t, nil).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Jobs != 0 {
		t.Errorf("jobs = %d", sum.Jobs)
	}
	if len(c.patches) != 0 {
		t.Errorf("unexpected status events: %v", c.eventIDs())
	}
}

func TestRun_AuthFailureStopsRun(t *testing.T) {
	c := newCoordinator(t)
	c.authStatus = http.StatusUnauthorized
	c.pollBody = `{"sync_jobs":[` + mssqlJob + `]}`

	_, err := c.pipeline(t, nil).Run(context.Background())
	if !core.HasCode(err, core.CodeAuth) || core.HTTPStatusOf(err) != 401 {
		t.Fatalf("expected auth error with 401, got %v", err)
	}
	if c.polls != 0 {
		t.Errorf("polled %d times after auth failure", c.polls)
	}
	if len(c.patches) != 0 {
		t.Errorf("status events sent without a session: %v", c.eventIDs())
	}
}

func TestRun_FailedJobDoesNotStopOthers(t *testing.T) {
	c := newCoordinator(t)
	bad := `{"job_instance_uuid":"J0","syncTemplate":{"sql":"SELECT 1","syncSource":{"type":"ORACLE"}},"config":{"host":"db","database":"sis"}}`
	broken := `{"job_instance_uuid":"J2","syncTemplate":{"sql":"SELECT * FROM missing","syncSource":{"type":"PGSQL"}},"config":{"host":"db","database":"sis"}}`
	c.pollBody = `{"sync_jobs":[` + bad + `,` + broken + `,` + mssqlJob + `]}`

	sum, err := c.pipeline(t, nil).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Jobs != 3 || sum.ByState[StateExtractFailed] != 2 || sum.ByState[StateUploaded] != 1 {
		t.Errorf("summary = %+v", sum.ByState)
	}

	want := "2000,3602,2000,3000,3602,2000,3000,3002,2002,2003"
	var got []string
	for _, id := range c.eventIDs() {
		got = append(got, strconv.Itoa(id))
	}
	if strings.Join(got, ",") != want {
		t.Errorf("event ids = %s, want %s", strings.Join(got, ","), want)
	}
	if c.patches[1].Path != "/job/t1/d1/J0" || c.patches[1].Event["status"] != "failed" {
		t.Errorf("rejection event = %+v", c.patches[1])
	}
}

func TestRun_MissingUploadURLIsSoft(t *testing.T) {
	c := newCoordinator(t)
	c.pollBody = `{"sync_jobs":[` + mssqlJob + `]}`
	c.uploadBody = func(string) string { return `{"headers":[]}` }

	sum, err := c.pipeline(t, nil).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.ByState[StateUploadAbandoned] != 1 {
		t.Errorf("summary = %+v", sum.ByState)
	}
	last := c.patches[len(c.patches)-1]
	if last.Event["event_id"] != float64(2000) || last.Event["type"] != "Error" {
		t.Errorf("last event = %+v", last.Event)
	}
	if _, ok := last.Event["status"]; ok {
		t.Errorf("soft failure changed job status: %+v", last.Event)
	}
	if len(c.blobs) != 0 {
		t.Errorf("uploaded without a target: %v", c.blobs)
	}
}
