// Package status implements the persistent status store.  Each
// repository identity gets its own SQLite database that records
// package metadata, the current build status of each package base, an
// append-only event log, and build log records.
package status

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hashicorp/go-hclog"
	_ "modernc.org/sqlite" // Pure-Go SQLite driver.

	"github.com/the-maldridge/nrepo/pkg/types"
)

// Path returns the database location for a repository identity below
// the given root.
func Path(root string, repo types.RepositoryID) string {
	return filepath.Join(root, repo.Name+"-"+repo.Architecture+".db")
}

// Open opens (or creates) the store at path for the given identity
// and applies any pending migrations.
func Open(ctx context.Context, l hclog.Logger, path string, repo types.RepositoryID) (*Store, error) {
	if repo.Empty() {
		return nil, types.ErrInvalidOption{Option: "repository", Value: repo.String()}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, types.NewErrStore("create directory", err)
	}

	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, types.NewErrStore("open database", err)
	}
	// SQLite has one writer; a single connection keeps writes
	// linearized without SQLITE_BUSY between pooled writers.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, types.NewErrStore("enable WAL mode", err)
	}

	rdb, err := sql.Open("sqlite", dsn)
	if err != nil {
		db.Close()
		return nil, types.NewErrStore("open read pool", err)
	}
	rdb.SetMaxOpenConns(4)

	s := &Store{
		l:    l.Named("status").With("repository", repo.String()),
		db:   db,
		rdb:  rdb,
		repo: repo,
		path: path,
	}
	if err := s.migrate(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// Repository returns the identity this store is scoped to.
func (s *Store) Repository() types.RepositoryID {
	return s.repo
}

// Close releases both connection pools.
func (s *Store) Close() error {
	rerr := s.rdb.Close()
	if err := s.db.Close(); err != nil {
		return err
	}
	return rerr
}

// Version returns the current schema version.
func (s *Store) Version(ctx context.Context) (int, error) {
	var v int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v); err != nil {
		return 0, types.NewErrStore("read schema version", err)
	}
	return v, nil
}

func (s *Store) migrate(ctx context.Context) error {
	current, err := s.Version(ctx)
	if err != nil {
		return err
	}
	if current > len(migrations) {
		return types.NewErrStore("migrate", fmt.Errorf("schema version %d is newer than supported %d", current, len(migrations)))
	}

	for v := current; v < len(migrations); v++ {
		m := migrations[v]
		s.l.Info("Applying migration", "version", v+1, "name", m.name)
		err := s.tx(ctx, "migrate "+m.name, func(tx *sql.Tx) error {
			for _, stmt := range m.stmts {
				if _, err := tx.ExecContext(ctx, stmt); err != nil {
					return err
				}
			}
			_, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", v+1))
			return err
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// tx runs fn inside a write transaction and wraps any failure.
func (s *Store) tx(ctx context.Context, op string, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return types.NewErrStore(op, err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	if err := fn(tx); err != nil {
		return types.NewErrStore(op, err)
	}
	if err := tx.Commit(); err != nil {
		return types.NewErrStore(op, err)
	}
	return nil
}
