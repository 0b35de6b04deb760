// Package mssql registers the "mssql" storage backend (microsoft/go-mssqldb).
package mssql

import (
	"context"
	"net"
	"net/url"
	"strconv"

	_ "github.com/microsoft/go-mssqldb"

	"httpetl/internal/storage"
	"httpetl/internal/storage/sqldb"
)

// newRepository is a test hook.
var newRepository = func(ctx context.Context, dsn string, cfg storage.Config) (storage.Repository, error) {
	return sqldb.Open(ctx, "sqlserver", dsn, Dialect{}, cfg.Logger)
}

// DSN renders a sqlserver:// URL from cfg unless cfg.DSN is set.
func DSN(cfg storage.Config) string {
	if cfg.DSN != "" {
		return cfg.DSN
	}
	port := cfg.Port
	if port == 0 {
		port = 1433
	}
	q := url.Values{}
	if cfg.Database != "" {
		q.Set("database", cfg.Database)
	}
	for k, v := range cfg.Params {
		q.Set(k, v)
	}
	u := url.URL{
		Scheme:   "sqlserver",
		Host:     net.JoinHostPort(cfg.Host, strconv.Itoa(port)),
		RawQuery: q.Encode(),
	}
	if cfg.User != "" {
		u.User = url.UserPassword(cfg.User, cfg.Password)
	}
	return u.String()
}

func init() {
	storage.Register("mssql", func(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
		return newRepository(ctx, DSN(cfg), cfg)
	})
}
