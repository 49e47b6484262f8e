//go:build !cgo

package versionstore

import (
	"context"
	"database/sql"
	"errors"

	sqlite "modernc.org/sqlite"
)

const driverLibsql = "libsql"

func init() {
	sql.Register(driverLibsql, &sqlite.Driver{})
}

// Open opens (and creates if needed) a local recipe database with the pure-Go
// SQLite driver. Remote libsql URLs require a cgo-enabled build.
func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	loc, err := resolve(cfg)
	if err != nil {
		return nil, err
	}
	if loc.remote {
		return nil, errors.New("libsql URL requires cgo-enabled build")
	}
	return openDB(ctx, driverLibsql, loc)
}
