//go:build cgo

package versionstore

import (
	"context"
	"database/sql"

	_ "github.com/tursodatabase/go-libsql"
)

const driverLibsql = "libsql"

// Open opens (and creates if needed) a recipe database through libsql, which
// serves both local files and remote libsql:// databases.
func Open(ctx context.Context, cfg Config) (*sql.DB, error) {
	loc, err := resolve(cfg)
	if err != nil {
		return nil, err
	}
	return openDB(ctx, driverLibsql, loc)
}
