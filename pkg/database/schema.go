package database

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"

	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed sql/schema/*.sql
var schemaFiles embed.FS

// SchemaManager applies the embedded schema files in name order
type SchemaManager struct {
	pool *pgxpool.Pool
}

func NewSchemaManager(pool *pgxpool.Pool) *SchemaManager {
	return &SchemaManager{pool: pool}
}

// SchemaFiles lists the embedded schema files in execution order
func SchemaFiles() ([]string, error) {
	names, err := fs.Glob(schemaFiles, "sql/schema/*.sql")
	if err != nil {
		return nil, fmt.Errorf("listing schema files: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

func (sm *SchemaManager) InitializeSchema(ctx context.Context) error {
	names, err := SchemaFiles()
	if err != nil {
		return err
	}

	tx, err := sm.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, name := range names {
		content, err := schemaFiles.ReadFile(name)
		if err != nil {
			return fmt.Errorf("reading schema file %s: %w", name, err)
		}

		if _, err := tx.Exec(ctx, string(content)); err != nil {
			return fmt.Errorf("executing schema file %s: %w", name, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing schema transaction: %w", err)
	}

	return nil
}
