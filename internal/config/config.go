// Package config provides configuration loading for the sync agent.
//
// Values come from built-in defaults, then an optional YAML file, then
// environment variables; later sources win.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nucleus/sync-agent/internal/core"
)

const (
	AuthModeBasic  = "basic"
	AuthModeOAuth2 = "oauth2"

	TokenStoreFile     = "file"
	TokenStorePostgres = "postgres"
)

// Config holds agent configuration.
type Config struct {
	AuthEndpoint string `yaml:"auth_endpoint"`
	AgentName    string `yaml:"agent_name"`
	AgentVersion string `yaml:"agent_version"`

	Services ServiceNames `yaml:"services"`
	Events   EventIDs     `yaml:"events"`

	AuthMode         string       `yaml:"auth_mode"`
	DeploymentID     string       `yaml:"deployment_id"`
	DeploymentSecret string       `yaml:"deployment_secret"`
	OAuth2           OAuth2Config `yaml:"oauth2"`
	TokenStore       TokenStore   `yaml:"token_store"`

	SQLTimeout     time.Duration `yaml:"sql_timeout"`
	HTTPTimeout    time.Duration `yaml:"http_timeout"`
	RateLimit      float64       `yaml:"rate_limit"`
	ReportAttempts int           `yaml:"report_attempts"`
	ReportBackoff  time.Duration `yaml:"report_backoff"`
	UploadAttempts int           `yaml:"upload_attempts"`
	UploadBackoff  time.Duration `yaml:"upload_backoff"`
	SpoolDir       string        `yaml:"spool_dir"`

	Archive Archive `yaml:"archive"`

	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`

	SupportEmail   string `yaml:"support_email"`
	SupportWebsite string `yaml:"support_website"`
}

// ServiceNames are the event sources shown to operators.
type ServiceNames struct {
	AuthService      string `yaml:"auth_service"`
	JobDispatchQueue string `yaml:"job_dispatch_queue"`
	JobManager       string `yaml:"job_manager"`
	SQLSyncService   string `yaml:"sql_sync_service"`
}

// EventIDs are the event codes; *Base values have the HTTP status added.
type EventIDs struct {
	AuthBase      int `yaml:"auth_base"`
	DispatchBase  int `yaml:"dispatch_base"`
	Retrieved     int `yaml:"retrieved"`
	UploadBase    int `yaml:"upload_base"`
	UploadStarted int `yaml:"upload_started"`
	Uploaded      int `yaml:"uploaded"`
	UploadFailed  int `yaml:"upload_failed"`
	Connecting    int `yaml:"connecting"`
	Extracted     int `yaml:"extracted"`
	ExtractFailed int `yaml:"extract_failed"`
}

// OAuth2Config configures the refresh-token flow.
type OAuth2Config struct {
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	AuthorizeURL string   `yaml:"authorize_url"`
	TokenURL     string   `yaml:"token_url"`
	RedirectURL  string   `yaml:"redirect_url"`
	Scopes       []string `yaml:"scopes"`
}

// TokenStore selects where the OAuth2 token is kept.
type TokenStore struct {
	Kind string `yaml:"kind"`
	Path string `yaml:"path"`
	DSN  string `yaml:"dsn"`
}

// Archive configures the optional payload archive.
type Archive struct {
	EndpointURL     string `yaml:"endpoint_url"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Region          string `yaml:"region"`
	UseSSL          bool   `yaml:"use_ssl"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	LocalDir        string `yaml:"local_dir"`
}

// Default returns the production defaults.
func Default() *Config {
	s := core.DefaultSettings()
	return &Config{
		AuthEndpoint: s.AuthEndpoint,
		AgentName:    s.AgentName,
		AgentVersion: s.AgentVersion,
		Services: ServiceNames{
			AuthService:      s.Sources.AuthService,
			JobDispatchQueue: s.Sources.JobDispatchQueue,
			JobManager:       s.Sources.JobManager,
			SQLSyncService:   s.Sources.SQLSyncService,
		},
		Events:   EventIDs(s.Events),
		AuthMode: AuthModeBasic,
		OAuth2: OAuth2Config{
			AuthorizeURL: "https://core.intellischool.net/connect/authorize",
			TokenURL:     "https://core.intellischool.net/connect/token",
			Scopes:       []string{"offline_access"},
		},
		TokenStore:     TokenStore{Kind: TokenStoreFile, Path: "sync-agent-token.json"},
		SQLTimeout:     7200 * time.Second,
		HTTPTimeout:    60 * time.Second,
		RateLimit:      10,
		ReportAttempts: 5,
		UploadAttempts: 5,
		LogLevel:       "info",
		SupportEmail:   "help@intellischool.co",
		SupportWebsite: "https://help.intellischool.co",
	}
}

// Load reads path (if non-empty) over the defaults, then applies the environment.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv("SYNC_CONFIG_FILE")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.AuthEndpoint = getEnv("SYNC_AUTH_ENDPOINT", c.AuthEndpoint)
	c.AgentName = getEnv("SYNC_AGENT_NAME", c.AgentName)
	c.AgentVersion = getEnv("SYNC_AGENT_VERSION", c.AgentVersion)

	c.AuthMode = strings.ToLower(getEnv("SYNC_AUTH_MODE", c.AuthMode))
	c.DeploymentID = getEnv("SYNC_DEPLOYMENT_ID", c.DeploymentID)
	c.DeploymentSecret = getEnv("SYNC_DEPLOYMENT_SECRET", c.DeploymentSecret)

	c.OAuth2.ClientID = getEnv("SYNC_OAUTH_CLIENT_ID", c.OAuth2.ClientID)
	c.OAuth2.ClientSecret = getEnv("SYNC_OAUTH_CLIENT_SECRET", c.OAuth2.ClientSecret)
	c.OAuth2.AuthorizeURL = getEnv("SYNC_OAUTH_AUTHORIZE_URL", c.OAuth2.AuthorizeURL)
	c.OAuth2.TokenURL = getEnv("SYNC_OAUTH_TOKEN_URL", c.OAuth2.TokenURL)
	c.OAuth2.RedirectURL = getEnv("SYNC_OAUTH_REDIRECT_URL", c.OAuth2.RedirectURL)

	c.TokenStore.Kind = strings.ToLower(getEnv("SYNC_TOKEN_STORE", c.TokenStore.Kind))
	c.TokenStore.Path = getEnv("SYNC_TOKEN_FILE", c.TokenStore.Path)
	c.TokenStore.DSN = getEnv("SYNC_TOKEN_DSN", c.TokenStore.DSN)

	c.SQLTimeout = getEnvSeconds("SYNC_SQL_TIMEOUT_SECS", c.SQLTimeout)
	c.HTTPTimeout = getEnvSeconds("SYNC_HTTP_TIMEOUT_SECS", c.HTTPTimeout)
	c.RateLimit = getEnvFloat("SYNC_RATE_LIMIT", c.RateLimit)
	c.ReportAttempts = getEnvInt("SYNC_REPORT_ATTEMPTS", c.ReportAttempts)
	c.ReportBackoff = getEnvDuration("SYNC_REPORT_BACKOFF", c.ReportBackoff)
	c.UploadAttempts = getEnvInt("SYNC_UPLOAD_ATTEMPTS", c.UploadAttempts)
	c.UploadBackoff = getEnvDuration("SYNC_UPLOAD_BACKOFF", c.UploadBackoff)
	c.SpoolDir = getEnv("SYNC_SPOOL_DIR", c.SpoolDir)

	c.Archive.EndpointURL = getEnv("SYNC_ARCHIVE_ENDPOINT", c.Archive.EndpointURL)
	c.Archive.AccessKeyID = getEnv("SYNC_ARCHIVE_ACCESS_KEY", c.Archive.AccessKeyID)
	c.Archive.SecretAccessKey = getEnv("SYNC_ARCHIVE_SECRET_KEY", c.Archive.SecretAccessKey)
	c.Archive.Region = getEnv("SYNC_ARCHIVE_REGION", c.Archive.Region)
	c.Archive.Bucket = getEnv("SYNC_ARCHIVE_BUCKET", c.Archive.Bucket)
	c.Archive.Prefix = getEnv("SYNC_ARCHIVE_PREFIX", c.Archive.Prefix)
	c.Archive.LocalDir = getEnv("SYNC_ARCHIVE_DIR", c.Archive.LocalDir)

	c.LogLevel = getEnv("SYNC_LOG_LEVEL", c.LogLevel)
	c.LogFile = getEnv("SYNC_LOG_FILE", c.LogFile)
}

// Validate reports every missing or inconsistent value.
func (c *Config) Validate() error {
	var errs []error
	if c.AuthEndpoint == "" {
		errs = append(errs, errors.New("auth endpoint is required"))
	}
	switch c.AuthMode {
	case AuthModeBasic:
		if c.DeploymentID == "" || c.DeploymentSecret == "" {
			errs = append(errs, errors.New("basic auth requires SYNC_DEPLOYMENT_ID and SYNC_DEPLOYMENT_SECRET"))
		}
	case AuthModeOAuth2:
		if err := c.ValidateOAuth2(); err != nil {
			errs = append(errs, err)
		}
	default:
		errs = append(errs, fmt.Errorf("unknown auth mode %q (want %s or %s)", c.AuthMode, AuthModeBasic, AuthModeOAuth2))
	}
	if c.SQLTimeout <= 0 {
		errs = append(errs, errors.New("sql timeout must be positive"))
	}
	if c.ReportAttempts <= 0 || c.UploadAttempts <= 0 {
		errs = append(errs, errors.New("attempt budgets must be positive"))
	}
	if c.ReportBackoff < 0 || c.UploadBackoff < 0 {
		errs = append(errs, errors.New("backoff must not be negative"))
	}
	if c.Archive.EndpointURL != "" && (c.Archive.AccessKeyID == "" || c.Archive.SecretAccessKey == "") {
		errs = append(errs, errors.New("archive endpoint requires access and secret keys"))
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ValidateOAuth2 checks what the oauth2 flow and its token store need.
func (c *Config) ValidateOAuth2() error {
	var errs []error
	if c.OAuth2.ClientID == "" {
		errs = append(errs, errors.New("oauth2 auth requires SYNC_OAUTH_CLIENT_ID"))
	}
	if c.OAuth2.TokenURL == "" {
		errs = append(errs, errors.New("oauth2 auth requires a token URL"))
	}
	errs = append(errs, c.validateTokenStore()...)
	return errors.Join(errs...)
}

func (c *Config) validateTokenStore() []error {
	switch c.TokenStore.Kind {
	case TokenStoreFile:
		if c.TokenStore.Path == "" {
			return []error{errors.New("file token store requires a path")}
		}
	case TokenStorePostgres:
		if c.TokenStore.DSN == "" {
			return []error{errors.New("postgres token store requires SYNC_TOKEN_DSN")}
		}
	default:
		return []error{fmt.Errorf("unknown token store %q", c.TokenStore.Kind)}
	}
	return nil
}

// Settings builds the runtime constants passed to every component.
func (c *Config) Settings() core.Settings {
	return core.Settings{
		AuthEndpoint: c.AuthEndpoint,
		AgentName:    c.AgentName,
		AgentVersion: c.AgentVersion,
		Sources: core.Sources{
			AuthService:      c.Services.AuthService,
			JobDispatchQueue: c.Services.JobDispatchQueue,
			JobManager:       c.Services.JobManager,
			SQLSyncService:   c.Services.SQLSyncService,
		},
		Events: core.EventIDs(c.Events),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvSeconds(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return time.Duration(i) * time.Second
		}
	}
	return defaultVal
}

// getEnvDuration accepts Go duration syntax ("500ms", "2s").
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
