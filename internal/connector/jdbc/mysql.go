package jdbc

import (
	"net"
	"strconv"

	"github.com/go-sql-driver/mysql"
)

func mysqlDSN(cfg *Config) string {
	mc := mysql.NewConfig()
	mc.User = cfg.User
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	mc.DBName = cfg.Database
	mc.Timeout = cfg.Timeout
	mc.ReadTimeout = cfg.Timeout
	return mc.FormatDSN()
}
