package migrations

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed sqlite/*.sql
var sqliteFS embed.FS

//go:embed postgres/*.sql
var postgresFS embed.FS

// Every migration is written with IF NOT EXISTS, so running the full set
// again is a no-op.

// RunSQLiteMigrations executes all SQLite migrations in order.
func RunSQLiteMigrations(ctx context.Context, db *sql.DB) error {
	return run(sqliteFS, "sqlite", func(name, stmt string) error {
		_, err := db.ExecContext(ctx, stmt)
		return err
	})
}

// RunPostgresMigrations executes all PostgreSQL migrations in order.
func RunPostgresMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	return run(postgresFS, "postgres", func(name, stmt string) error {
		_, err := pool.Exec(ctx, stmt)
		return err
	})
}

// Files lists the migration files for a dialect in execution order.
func Files(dialect string) ([]string, error) {
	switch dialect {
	case "sqlite":
		return upFiles(sqliteFS, "sqlite")
	case "postgres":
		return upFiles(postgresFS, "postgres")
	default:
		return nil, fmt.Errorf("unknown migration dialect: %s", dialect)
	}
}

func run(fsys fs.ReadFileFS, dir string, exec func(name, stmt string) error) error {
	files, err := upFiles(fsys, dir)
	if err != nil {
		return err
	}

	for _, file := range files {
		migration, err := fsys.ReadFile(dir + "/" + file)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", file, err)
		}
		if err := exec(file, string(migration)); err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", file, err)
		}
	}

	return nil
}

func upFiles(fsys fs.ReadFileFS, dir string) ([]string, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".up.sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}
