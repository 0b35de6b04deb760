package postgres

import (
	"context"
	"net"
	"net/url"
	"strconv"

	"httpetl/internal/storage"
)

// newRepository is a test hook.
var newRepository = func(ctx context.Context, dsn string, cfg storage.Config) (storage.Repository, error) {
	return NewRepository(ctx, dsn, cfg.Logger)
}

// DSN renders a postgres:// URL from cfg unless cfg.DSN is set. Params are
// appended as query parameters in key order.
func DSN(cfg storage.Config) string {
	if cfg.DSN != "" {
		return cfg.DSN
	}
	port := cfg.Port
	if port == 0 {
		port = 5432
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(cfg.Host, strconv.Itoa(port)),
		Path:   "/" + cfg.Database,
	}
	if cfg.User != "" {
		u.User = url.UserPassword(cfg.User, cfg.Password)
	}
	if len(cfg.Params) > 0 {
		q := url.Values{}
		for k, v := range cfg.Params {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func init() {
	storage.Register("postgres", func(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
		return newRepository(ctx, DSN(cfg), cfg)
	})
}
