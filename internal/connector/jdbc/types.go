package jdbc

import (
	"fmt"
	"time"

	"github.com/nucleus/sync-agent/internal/core"
)

// Config holds a resolved database connection.
type Config struct {
	Source     core.SourceType
	Driver     string
	Host       string
	Port       int
	Database   string
	User       string
	Password   string
	Timeout    time.Duration
	ConnString string
}

// vendor describes how to reach one database family.
type vendor struct {
	driver      string
	defaultPort int
	dsn         func(cfg *Config) string
}

// vendors is keyed by the job descriptor's source type.
var vendors = map[core.SourceType]vendor{
	core.SourceMSSQL: {driver: "sqlserver", defaultPort: 1433, dsn: mssqlDSN},
	core.SourceMySQL: {driver: "mysql", defaultPort: 3306, dsn: mysqlDSN},
	core.SourcePgSQL: {driver: "postgres", defaultPort: 5432, dsn: postgresDSN},
}

// ParseConfig resolves the driver and connection string for a job's source.
// timeout bounds both the login and query phases. Unsupported sources
// return an E_UNSUPPORTED_SOURCE error without touching the network.
func ParseConfig(source core.SourceType, conn core.Connection, timeout time.Duration) (*Config, error) {
	v, ok := vendors[source]
	if !ok {
		return nil, core.NewUnsupportedSourceError(source)
	}
	if conn.Host == "" || conn.Database == "" {
		return nil, core.NewInvalidJobError(fmt.Errorf("%w: host and database are required", core.ErrMissingConnection))
	}

	cfg := &Config{
		Source:   source,
		Driver:   v.driver,
		Host:     conn.Host,
		Port:     conn.Port,
		Database: conn.Database,
		User:     conn.Username,
		Password: conn.Password,
		Timeout:  timeout,
	}
	if cfg.Port <= 0 {
		cfg.Port = v.defaultPort
	}
	cfg.ConnString = v.dsn(cfg)
	return cfg, nil
}

// timeoutSeconds rounds up so a sub-second timeout never becomes "no timeout".
func (c *Config) timeoutSeconds() int {
	if c.Timeout <= 0 {
		return 0
	}
	secs := int(c.Timeout / time.Second)
	if c.Timeout%time.Second != 0 {
		secs++
	}
	return secs
}
