package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/nucleus/sync-agent/internal/config"
	"github.com/nucleus/sync-agent/internal/connector/minio"
	"github.com/nucleus/sync-agent/internal/core"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func coordinator(t *testing.T, authStatus int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var polls atomic.Int32
	mux := http.NewServeMux()
	var srv *httptest.Server
	mux.HandleFunc("POST /auth", func(w http.ResponseWriter, r *http.Request) {
		if user, pass, ok := r.BasicAuth(); !ok || user != "dep-1" || pass != "secret" {
			http.Error(w, "bad credentials", http.StatusUnauthorized)
			return
		}
		if authStatus != http.StatusOK {
			w.WriteHeader(authStatus)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"short": "ok",
			"content": map[string]string{
				"tenant": "t1", "endpoint": srv.URL, "token": "tok", "deployment": "d1",
			},
		})
	})
	mux.HandleFunc("GET /poll/t1/d1", func(w http.ResponseWriter, r *http.Request) {
		polls.Add(1)
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Write([]byte(`{"sync_jobs":[]}`))
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &polls
}

func basicEnv(t *testing.T, srv *httptest.Server) {
	t.Helper()
	t.Setenv("SYNC_CONFIG_FILE", "")
	t.Setenv("SYNC_AUTH_MODE", "basic")
	t.Setenv("SYNC_AUTH_ENDPOINT", srv.URL+"/auth")
	t.Setenv("SYNC_DEPLOYMENT_ID", "dep-1")
	t.Setenv("SYNC_DEPLOYMENT_SECRET", "secret")
	t.Setenv("SYNC_SPOOL_DIR", t.TempDir())
	t.Setenv("SYNC_LOG_LEVEL", "error")
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if out != "Intellischool Sync Agent "+core.AgentVersion+"\n" {
		t.Errorf("output = %q", out)
	}
}

func TestRunCommand_EmptyQueue(t *testing.T) {
	srv, polls := coordinator(t, http.StatusOK)
	basicEnv(t, srv)

	out, err := execute(t, "run")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if polls.Load() != 1 {
		t.Errorf("polls = %d", polls.Load())
	}
	if !strings.Contains(out, "No jobs processed.") {
		t.Errorf("output = %q", out)
	}
}

func TestRunCommand_AuthFailureIsFatal(t *testing.T) {
	srv, polls := coordinator(t, http.StatusServiceUnavailable)
	basicEnv(t, srv)

	out, err := execute(t, "run")
	if err == nil {
		t.Fatal("expected run to fail")
	}
	if polls.Load() != 0 {
		t.Errorf("poll attempted after failed auth")
	}
	if !strings.Contains(out, "help@intellischool.co") || !strings.Contains(out, "https://help.intellischool.co") {
		t.Errorf("support contact missing from output %q", out)
	}
}

func TestRunCommand_InvalidConfig(t *testing.T) {
	srv, _ := coordinator(t, http.StatusOK)
	basicEnv(t, srv)
	t.Setenv("SYNC_DEPLOYMENT_SECRET", "")
	t.Setenv("SYNC_DEPLOYMENT_ID", "")

	_, err := execute(t, "run")
	if err == nil || !strings.Contains(err.Error(), "invalid configuration") {
		t.Fatalf("err = %v", err)
	}
}

func TestOAuthURLCommand(t *testing.T) {
	t.Setenv("SYNC_CONFIG_FILE", "")
	t.Setenv("SYNC_AUTH_MODE", "oauth2")
	t.Setenv("SYNC_OAUTH_CLIENT_ID", "agent-client")
	t.Setenv("SYNC_OAUTH_REDIRECT_URL", "https://localhost/callback")
	t.Setenv("SYNC_TOKEN_STORE", "file")
	t.Setenv("SYNC_TOKEN_FILE", t.TempDir()+"/token.json")
	t.Setenv("SYNC_LOG_LEVEL", "error")

	out, err := execute(t, "oauth", "url", "--state", "xyz")
	if err != nil {
		t.Fatalf("oauth url: %v", err)
	}
	for _, want := range []string{"client_id=agent-client", "state=xyz", "offline_access", "/connect/authorize"} {
		if !strings.Contains(out, want) {
			t.Errorf("url %q missing %q", out, want)
		}
	}
}

func TestNewArchiver(t *testing.T) {
	c := config.Default()
	a, err := newArchiver(c, nil)
	if err != nil || a != nil {
		t.Fatalf("disabled archive = %v, %v", a, err)
	}

	c.Archive.LocalDir = t.TempDir()
	a, err = newArchiver(c, nil)
	if err != nil {
		t.Fatalf("newArchiver: %v", err)
	}
	if _, ok := a.(*minio.Archiver); !ok {
		t.Errorf("archiver = %T", a)
	}
}

func TestNewAuthProvider_UnknownMode(t *testing.T) {
	c := config.Default()
	c.AuthMode = "ldap"
	if _, _, err := newAuthProvider(context.Background(), c, newHTTPClient(c), nil, nil); err == nil {
		t.Fatal("expected error")
	}
}

func TestBlobClientHasNoTotalTimeout(t *testing.T) {
	c := config.Default()
	if got := newHTTPClient(c).HTTPClient().Timeout; got != c.HTTPTimeout {
		t.Errorf("api client timeout = %v, want %v", got, c.HTTPTimeout)
	}
	if got := newBlobClient(c).HTTPClient().Timeout; got != 0 {
		t.Errorf("blob client timeout = %v, want none", got)
	}
}
