// Package sqlite persists the reconciler state in a single SQLite
// database: one row per document, same JSON payloads as the file
// backend.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/sonroyaalmerol/schedsync/internal/core/manifest"
	"github.com/sonroyaalmerol/schedsync/internal/core/reconcile"
	"github.com/sonroyaalmerol/schedsync/internal/state"
	"github.com/sonroyaalmerol/schedsync/internal/syncerr"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

type Store struct {
	db     *sql.DB
	logger zerolog.Logger
	docs   state.Documents
}

func New(dsn string, logger zerolog.Logger) (*Store, error) {
	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, syncerr.IO("create database directory", err)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, syncerr.IO("open database", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, syncerr.IO("ping database", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, syncerr.IO("enable WAL mode", err)
	}

	if err := runMigrations(db, logger); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db, logger: logger}
	s.docs = state.Documents{
		Load: func(ctx context.Context, name string) ([]byte, error) {
			var body []byte
			err := db.QueryRowContext(ctx,
				"SELECT body FROM documents WHERE name = ?", name).Scan(&body)
			if err == sql.ErrNoRows {
				return nil, nil
			}
			if err != nil {
				return nil, syncerr.IO("read document "+name, err)
			}
			return body, nil
		},
		Save: func(ctx context.Context, name string, body []byte) error {
			_, err := db.ExecContext(ctx, `
				INSERT INTO documents (name, body, updated_at) VALUES (?, ?, strftime('%s','now'))
				ON CONFLICT(name) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`,
				name, body)
			if err != nil {
				return syncerr.IO("write document "+name, err)
			}
			return nil
		},
		Remove: func(ctx context.Context, name string) error {
			if _, err := db.ExecContext(ctx, "DELETE FROM documents WHERE name = ?", name); err != nil {
				return syncerr.IO("delete document "+name, err)
			}
			return nil
		},
	}
	return s, nil
}

func runMigrations(db *sql.DB, logger zerolog.Logger) error {
	sourceDriver, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create source driver: %w", err)
	}

	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	defer m.Close()

	version, dirty, err := m.Version()
	if err != nil && err != migrate.ErrNilVersion {
		return fmt.Errorf("failed to get current migration version: %w", err)
	}
	if dirty {
		logger.Warn().Uint("version", version).Msg("Database is in dirty state, forcing version")
		if err := m.Force(int(version)); err != nil {
			return fmt.Errorf("failed to force migration version: %w", err)
		}
	}

	err = m.Up()
	if err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	if err == migrate.ErrNoChange {
		logger.Debug().Msg("No new migrations to apply")
	}
	return nil
}

func (s *Store) Close() {
	_ = s.db.Close()
}

func (s *Store) LoadManifest(ctx context.Context) (*manifest.Manifest, error) {
	return s.docs.LoadManifestDoc(ctx, state.DocManifest)
}

func (s *Store) SaveManifest(ctx context.Context, m *manifest.Manifest) error {
	return s.docs.SaveManifestDoc(ctx, state.DocManifest, m)
}

func (s *Store) LoadDraft(ctx context.Context) (*manifest.Manifest, error) {
	return s.docs.LoadDraftDoc(ctx)
}

func (s *Store) SaveDraft(ctx context.Context, m *manifest.Manifest) error {
	return s.docs.SaveDraftDoc(ctx, m)
}

func (s *Store) ClearDraft(ctx context.Context) error {
	return s.docs.Remove(ctx, state.DocDraft)
}

func (s *Store) LoadTimestamps(ctx context.Context) (*state.Timestamps, error) {
	return s.docs.LoadTimestampsDoc(ctx)
}

func (s *Store) SaveTimestamps(ctx context.Context, t *state.Timestamps) error {
	return s.docs.SaveTimestampsDoc(ctx, t)
}

func (s *Store) LoadTombstones(ctx context.Context) (reconcile.Tombstones, error) {
	return s.docs.LoadTombstonesDoc(ctx)
}

func (s *Store) SaveTombstones(ctx context.Context, t reconcile.Tombstones) error {
	return s.docs.SaveTombstonesDoc(ctx, t)
}
