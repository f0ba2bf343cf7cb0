package jdbc

import (
	"net"
	"net/url"
	"strconv"

	_ "github.com/microsoft/go-mssqldb" // SQL Server driver
)

// mssqlDSN builds a sqlserver:// URL. The login timeout equals the query timeout.
func mssqlDSN(cfg *Config) string {
	q := url.Values{}
	q.Set("database", cfg.Database)
	if secs := cfg.timeoutSeconds(); secs > 0 {
		q.Set("connection timeout", strconv.Itoa(secs))
		q.Set("dial timeout", strconv.Itoa(secs))
	}
	u := &url.URL{
		Scheme:   "sqlserver",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		RawQuery: q.Encode(),
	}
	return u.String()
}
