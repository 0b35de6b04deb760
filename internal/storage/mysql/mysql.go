// Package mysql registers the "mysql" storage backend
// (go-sql-driver/mysql).
package mysql

import (
	"context"
	"net"
	"strconv"

	"github.com/go-sql-driver/mysql"

	"httpetl/internal/storage"
	"httpetl/internal/storage/sqldb"
)

// newRepository is a test hook.
var newRepository = func(ctx context.Context, dsn string, cfg storage.Config) (storage.Repository, error) {
	return sqldb.Open(ctx, "mysql", dsn, Dialect{}, cfg.Logger)
}

// DSN renders a driver DSN from cfg unless cfg.DSN is set.
func DSN(cfg storage.Config) string {
	if cfg.DSN != "" {
		return cfg.DSN
	}
	port := cfg.Port
	if port == 0 {
		port = 3306
	}
	mc := mysql.NewConfig()
	mc.User = cfg.User
	mc.Passwd = cfg.Password
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(port))
	mc.DBName = cfg.Database
	if len(cfg.Params) > 0 {
		mc.Params = make(map[string]string, len(cfg.Params))
		for k, v := range cfg.Params {
			mc.Params[k] = v
		}
	}
	return mc.FormatDSN()
}

func init() {
	storage.Register("mysql", func(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
		return newRepository(ctx, DSN(cfg), cfg)
	})
}
