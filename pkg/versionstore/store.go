// Package versionstore persists recipes and their append-only version history
// in a SQLite-compatible database (modernc SQLite for local files, libsql for
// remote databases in cgo builds).
package versionstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const memoryDSN = ":memory:"

type Config struct {
	// Path is a local database file, ":memory:", or a file: DSN.
	Path string

	// URL is a libsql/Turso URL, e.g. libsql://recipes.turso.io.
	URL string

	// AuthToken is added to URL as authToken unless the URL already has one.
	AuthToken string
}

// location is a resolved database target.
type location struct {
	dsn    string
	remote bool
	memory bool
}

func (l location) local() bool { return !l.remote && !l.memory }

// resolve turns a Config into a driver DSN, creating the parent directory of
// local database files.
func resolve(cfg Config) (location, error) {
	if raw := strings.TrimSpace(cfg.URL); raw != "" {
		dsn, err := withAuthToken(raw, cfg.AuthToken)
		if err != nil {
			return location{}, err
		}
		return location{dsn: dsn, remote: true}, nil
	}

	path := strings.TrimSpace(cfg.Path)
	switch {
	case path == "":
		return location{}, errors.New("version store path or url is required")
	case path == memoryDSN:
		return location{dsn: memoryDSN, memory: true}, nil
	case strings.HasPrefix(path, "libsql:"):
		return location{dsn: path, remote: true}, nil
	case strings.HasPrefix(path, "file:"):
		u, err := url.Parse(path)
		if err != nil {
			return location{}, fmt.Errorf("invalid store path: %w", err)
		}
		file := u.Path
		if file == "" {
			file = u.Opaque
		}
		if err := mkdirParent(strings.TrimPrefix(file, "//")); err != nil {
			return location{}, err
		}
		return location{dsn: path}, nil
	default:
		if err := mkdirParent(path); err != nil {
			return location{}, err
		}
		return location{dsn: "file:" + filepath.Clean(path)}, nil
	}
}

func withAuthToken(raw, token string) (string, error) {
	if strings.TrimSpace(token) == "" {
		return raw, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid store url: %w", err)
	}
	q := u.Query()
	if q.Get("authToken") != "" {
		return raw, nil
	}
	q.Set("authToken", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func mkdirParent(path string) error {
	dir := filepath.Dir(filepath.Clean(path))
	if path == "" || dir == "." || dir == string(filepath.Separator) {
		return nil
	}
	// #nosec G301 -- data directories use 0755 for multi-user access compatibility
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create store directory: %w", err)
	}
	return nil
}

// openDB opens loc with driver and applies per-target connection settings.
func openDB(ctx context.Context, driver string, loc location) (*sql.DB, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	db, err := sql.Open(driver, loc.dsn)
	if err != nil {
		return nil, fmt.Errorf("open version store: %w", err)
	}

	// Version swaps are serialized on one connection. Every :memory:
	// connection is its own database, so it needs the same pinning.
	if !loc.remote {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}
	if loc.memory {
		db.SetConnMaxLifetime(0)
	}

	if loc.local() {
		if err := applyPragmas(ctx, db); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping version store: %w", err)
	}
	return db, nil
}

func applyPragmas(ctx context.Context, db *sql.DB) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pragmas := []struct{ stmt, label string }{
		{"PRAGMA journal_mode=WAL", "enable WAL mode"},
		{"PRAGMA busy_timeout=5000", "set busy timeout"},
	}
	for _, p := range pragmas {
		var ignored any
		if err := db.QueryRowContext(ctx, p.stmt).Scan(&ignored); err != nil {
			return fmt.Errorf("%s: %w", p.label, err)
		}
	}
	return nil
}
