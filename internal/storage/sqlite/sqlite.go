// Package sqlite registers the "sqlite" storage backend (modernc.org/sqlite,
// no cgo). Writes are serialized on one connection, which also keeps
// ":memory:" databases consistent across statements.
package sqlite

import (
	"context"
	"errors"
	"strings"

	_ "modernc.org/sqlite"

	"httpetl/internal/storage"
	"httpetl/internal/storage/sqldb"
)

// newRepository is a test hook.
var newRepository = Open

// Open opens the database file at cfg.Path (or cfg.DSN).
func Open(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	dsn := cfg.DSN
	if strings.TrimSpace(dsn) == "" {
		dsn = cfg.Path
	}
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("sqlite: path must not be empty")
	}

	r, err := sqldb.Open(ctx, "sqlite", dsn, Dialect{}, cfg.Logger)
	if err != nil {
		return nil, err
	}
	r.DB().SetMaxOpenConns(1)
	return r, nil
}

func init() {
	storage.Register("sqlite", func(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
		return newRepository(ctx, cfg)
	})
}
