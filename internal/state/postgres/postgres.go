// Package postgres persists the reconciler state in PostgreSQL: one
// row per document, same JSON payloads as the file backend.
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/sonroyaalmerol/schedsync/internal/core/manifest"
	"github.com/sonroyaalmerol/schedsync/internal/core/reconcile"
	"github.com/sonroyaalmerol/schedsync/internal/state"
	"github.com/sonroyaalmerol/schedsync/internal/syncerr"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

type Store struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
	docs   state.Documents
}

func New(dsn string, logger zerolog.Logger) (*Store, error) {
	if err := runMigrations(dsn, logger); err != nil {
		return nil, err
	}

	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		return nil, syncerr.IO("open database", err)
	}

	s := &Store{pool: pool, logger: logger}
	s.docs = state.Documents{
		Load: func(ctx context.Context, name string) ([]byte, error) {
			var body []byte
			err := pool.QueryRow(ctx,
				"SELECT body FROM documents WHERE name = $1", name).Scan(&body)
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, nil
			}
			if err != nil {
				return nil, syncerr.IO("read document "+name, err)
			}
			return body, nil
		},
		Save: func(ctx context.Context, name string, body []byte) error {
			_, err := pool.Exec(ctx, `
				INSERT INTO documents (name, body, updated_at)
				VALUES ($1, $2, extract(epoch from now())::bigint)
				ON CONFLICT (name) DO UPDATE SET body = EXCLUDED.body, updated_at = EXCLUDED.updated_at`,
				name, body)
			if err != nil {
				return syncerr.IO("write document "+name, err)
			}
			return nil
		},
		Remove: func(ctx context.Context, name string) error {
			if _, err := pool.Exec(ctx, "DELETE FROM documents WHERE name = $1", name); err != nil {
				return syncerr.IO("delete document "+name, err)
			}
			return nil
		},
	}
	return s, nil
}

func runMigrations(dsn string, logger zerolog.Logger) error {
	sourceDriver, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create source driver: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", sourceDriver, dsn)
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
	s.pool.Close()
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
