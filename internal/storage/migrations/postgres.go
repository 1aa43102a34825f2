package migrations

import (
	"context"
	"fmt"

	"layering-detector/internal/storage/postgres"
)

// RunPostgresMigrations applies all embedded SQL files in lexical order, each
// in its own transaction. Migrations are expected to be idempotent.
// Returns the names of the applied files.
func RunPostgresMigrations(ctx context.Context, pool *postgres.Pool) ([]string, error) {
	files, err := loadSQLFiles(PostgresFS, "postgres")
	if err != nil {
		return nil, err
	}

	applied := make([]string, 0, len(files))
	for _, file := range files {
		if err := applyPostgres(ctx, pool, file); err != nil {
			return applied, err
		}
		applied = append(applied, file.Name)
	}
	return applied, nil
}

func applyPostgres(ctx context.Context, pool *postgres.Pool, file sqlFile) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin migration %s: %w", file.Name, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, file.SQL); err != nil {
		return fmt.Errorf("apply migration %s: %w", file.Name, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit migration %s: %w", file.Name, err)
	}
	return nil
}
