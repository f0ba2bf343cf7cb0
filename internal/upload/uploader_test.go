package upload

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	httpconn "github.com/nucleus/sync-agent/internal/connector/http"
	"github.com/nucleus/sync-agent/internal/core"
	"github.com/nucleus/sync-agent/internal/staging"
)

func newClient() *httpconn.Client {
	return httpconn.NewClient(&httpconn.ClientConfig{RateLimit: 1000, RateBurst: 100})
}

func spoolPayload(t *testing.T, rows ...string) *staging.Payload {
	t.Helper()
	s, err := staging.NewSpool(t.TempDir())
	if err != nil {
		t.Fatalf("NewSpool: %v", err)
	}
	for _, r := range rows {
		if err := s.WriteRow([]string{"x"}, []any{r}); err != nil {
			t.Fatalf("WriteRow: %v", err)
		}
	}
	p, err := s.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	t.Cleanup(func() { p.Remove() })
	return p
}

func TestRequestTarget(t *testing.T) {
	var gotPath, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{"sas_url":"https://blob.example/c?sig=1","headers":[{"key":"x-ms-blob-type","value":"BlockBlob"}]}`))
	}))
	defer srv.Close()

	session := &core.Session{TenantID: "t1", DeploymentID: "d1", Endpoint: srv.URL, Token: "tok"}
	target, err := New(newClient()).RequestTarget(context.Background(), session, "job-9")
	if err != nil {
		t.Fatalf("RequestTarget: %v", err)
	}
	if gotPath != "/upload/t1/d1/job-9" {
		t.Errorf("path = %s", gotPath)
	}
	if gotAuth != "Bearer tok" {
		t.Errorf("auth = %q", gotAuth)
	}
	if target.SASURL != "https://blob.example/c?sig=1" {
		t.Errorf("sas url = %s", target.SASURL)
	}
	if target.Headers["x-ms-blob-type"] != "BlockBlob" {
		t.Errorf("headers = %v", target.Headers)
	}
}

func TestRequestTarget_Failures(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		check   func(error) bool
		wantErr string
	}{
		{"not found", 404, `{}`, func(err error) bool {
			return core.HasCode(err, core.CodeUpload) && core.HTTPStatusOf(err) == 404
		}, "E_UPLOAD 404"},
		{"missing sas url", 200, `{"headers":[]}`, func(err error) bool {
			return errors.Is(err, core.ErrNoUploadURL)
		}, "ErrNoUploadURL"},
		{"undecodable body", 200, `<html>`, func(err error) bool {
			return core.HasCode(err, core.CodeUpload) && core.HTTPStatusOf(err) == 0
		}, "E_UPLOAD without status"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			session := &core.Session{TenantID: "t", DeploymentID: "d", Endpoint: srv.URL}
			_, err := New(newClient()).RequestTarget(context.Background(), session, "j")
			if !tt.check(err) {
				t.Fatalf("expected %s, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestPut_RetriesWithIdenticalBody(t *testing.T) {
	var mu sync.Mutex
	var bodies []string
	var lengths []int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(data))
		lengths = append(lengths, r.ContentLength)
		n := len(bodies)
		mu.Unlock()
		if r.Method != http.MethodPut || r.Header.Get("x-ms-blob-type") != "BlockBlob" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if n == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	p := spoolPayload(t, "1", "2")
	target := &Target{SASURL: srv.URL + "/blob?sig=abc", Headers: map[string]string{"x-ms-blob-type": "BlockBlob"}}
	if err := New(newClient()).Put(context.Background(), target, p); err != nil {
		t.Fatalf("Put: %v", err)
	}

	if len(bodies) != 2 {
		t.Fatalf("attempts = %d, want 2", len(bodies))
	}
	want := "x\r\n1\r\n2\r\n"
	for i, b := range bodies {
		if b != want {
			t.Errorf("attempt %d body = %q, want %q", i+1, b, want)
		}
		if lengths[i] != int64(len(want)) {
			t.Errorf("attempt %d content-length = %d", i+1, lengths[i])
		}
	}
}

func TestPut_ExhaustsAttempts(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	err := New(newClient()).Put(context.Background(), &Target{SASURL: srv.URL}, spoolPayload(t, "1"))
	if !core.HasCode(err, core.CodeUpload) {
		t.Fatalf("expected %s, got %v", core.CodeUpload, err)
	}
	if core.HTTPStatusOf(err) != http.StatusServiceUnavailable {
		t.Errorf("status = %d", core.HTTPStatusOf(err))
	}
	if calls != DefaultAttempts {
		t.Errorf("calls = %d, want %d", calls, DefaultAttempts)
	}
}

func TestPut_EmptyPayload(t *testing.T) {
	var gotLen int64 = -1
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotLen = r.ContentLength
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	if err := New(newClient()).Put(context.Background(), &Target{SASURL: srv.URL}, spoolPayload(t)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if gotLen != 0 {
		t.Errorf("content-length = %d, want 0", gotLen)
	}
}

func TestRequestTarget_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	endpoint := srv.URL
	srv.Close()

	session := &core.Session{TenantID: "t", DeploymentID: "d", Endpoint: endpoint}
	_, err := New(newClient()).RequestTarget(context.Background(), session, "j")
	if !core.HasCode(err, core.CodeUpload) {
		t.Fatalf("expected %s, got %v", core.CodeUpload, err)
	}
	if status := core.HTTPStatusOf(err); status != 0 {
		t.Errorf("status = %d, want 0", status)
	}
}

func TestPut_BlobClientOutlastsAPITimeout(t *testing.T) {
	var calls atomic.Int32
	blob := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		io.Copy(io.Discard, r.Body)
		time.Sleep(300 * time.Millisecond)
		w.WriteHeader(http.StatusCreated)
	}))
	defer blob.Close()

	api := httpconn.NewClient(&httpconn.ClientConfig{Timeout: 100 * time.Millisecond, RateLimit: 1000, RateBurst: 100})
	transfer := httpconn.NewClient(&httpconn.ClientConfig{Timeout: -1, RateLimit: 1000, RateBurst: 100})

	u := New(api, WithBlobClient(transfer))
	if err := u.Put(context.Background(), &Target{SASURL: blob.URL}, spoolPayload(t, "a", "b")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestPut_APITimeoutAppliesWithoutBlobClient(t *testing.T) {
	blob := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		w.WriteHeader(http.StatusCreated)
	}))
	defer blob.Close()

	api := httpconn.NewClient(&httpconn.ClientConfig{Timeout: 100 * time.Millisecond, RateLimit: 1000, RateBurst: 100})
	err := New(api, WithAttempts(1)).Put(context.Background(), &Target{SASURL: blob.URL}, spoolPayload(t, "a"))
	if !core.HasCode(err, core.CodeUpload) {
		t.Fatalf("expected %s, got %v", core.CodeUpload, err)
	}
}
