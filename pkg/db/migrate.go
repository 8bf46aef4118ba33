package db

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"strategy_runtime/pkg/logger"

	"github.com/jackc/pgx/v5"
)

const migrationsTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
	name       TEXT PRIMARY KEY,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// Migrate applies every *.sql file of files not yet recorded in
// schema_migrations, in name order, each in its own transaction.
func (m *PgTxManager) Migrate(ctx context.Context, files fs.FS) error {
	if _, err := m.poolMaster.Exec(ctx, migrationsTable); err != nil {
		return fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	names, err := fs.Glob(files, "*.sql")
	if err != nil {
		return err
	}
	sort.Strings(names)

	for _, name := range names {
		body, err := fs.ReadFile(files, name)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", name, err)
		}
		applied := false
		err = m.RunMaster(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
			tag, err := tx.Exec(ctxTx, `INSERT INTO schema_migrations (name) VALUES ($1) ON CONFLICT DO NOTHING`, name)
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				return nil
			}
			if _, err := tx.Exec(ctxTx, strings.TrimSpace(string(body))); err != nil {
				return err
			}
			applied = true
			return nil
		})
		if err != nil {
			return fmt.Errorf("migration %s: %w", name, err)
		}
		if applied {
			logger.Info("migration %s applied", name)
		}
	}
	return nil
}
