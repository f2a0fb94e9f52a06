// Package migrations applies the embedded SQL schema in version order.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/burenotti/healthlog/internal/adapter/storage"
	"github.com/leporo/sqlf"
)

//go:embed sql/*.sql
var files embed.FS

var ErrInvalidMigration = errors.New("invalid migration")

const createVersionTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
	version    INTEGER PRIMARY KEY,
	name       TEXT        NOT NULL,
	applied_at TIMESTAMPTZ NOT NULL
)`

type Migration struct {
	Version int
	Name    string
	SQL     string
}

// Up applies every embedded migration that is not yet recorded in schema_migrations.
func Up(ctx context.Context, db storage.DBContext, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	sub, err := fs.Sub(files, "sql")
	if err != nil {
		return err
	}
	all, err := Load(sub)
	if err != nil {
		return err
	}

	if _, err := db.ExecContext(ctx, createVersionTable); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	applied, err := appliedVersions(ctx, db)
	if err != nil {
		return err
	}

	for _, m := range Pending(all, applied) {
		if err := apply(ctx, db, m); err != nil {
			return err
		}
		logger.Info("migration applied", "version", m.Version, "name", m.Name)
	}
	return nil
}

// Load reads NNNN_name.sql files from fsys sorted by version.
func Load(fsys fs.FS) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, err
	}

	var result []Migration
	seen := make(map[int]string)
	for _, e := range entries {
		if e.IsDir() || path.Ext(e.Name()) != ".sql" {
			continue
		}

		base := strings.TrimSuffix(e.Name(), ".sql")
		prefix, name, ok := strings.Cut(base, "_")
		if !ok {
			return nil, fmt.Errorf("%w: %s has no version prefix", ErrInvalidMigration, e.Name())
		}
		version, err := strconv.Atoi(prefix)
		if err != nil || version <= 0 {
			return nil, fmt.Errorf("%w: %s has a bad version", ErrInvalidMigration, e.Name())
		}
		if other, dup := seen[version]; dup {
			return nil, fmt.Errorf("%w: %s and %s share version %d", ErrInvalidMigration, other, e.Name(), version)
		}
		seen[version] = e.Name()

		body, err := fs.ReadFile(fsys, e.Name())
		if err != nil {
			return nil, err
		}
		result = append(result, Migration{Version: version, Name: name, SQL: string(body)})
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Version < result[j].Version
	})
	return result, nil
}

// Pending filters out migrations whose version has been applied.
func Pending(all []Migration, applied map[int]bool) []Migration {
	var result []Migration
	for _, m := range all {
		if !applied[m.Version] {
			result = append(result, m)
		}
	}
	return result
}

func appliedVersions(ctx context.Context, db storage.DBContext) (map[int]bool, error) {
	var version int
	applied := make(map[int]bool)

	q := sqlf.From("schema_migrations").
		Select("version").To(&version)
	err := q.QueryAndClose(ctx, db, func(rows *sql.Rows) {
		applied[version] = true
	})
	if err != nil {
		return nil, fmt.Errorf("migrate: read versions: %w", err)
	}
	return applied, nil
}

func apply(ctx context.Context, db storage.DBContext, m Migration) (err error) {
	tx, err := db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, m.SQL); err != nil {
		return fmt.Errorf("migrate %d_%s: %w", m.Version, m.Name, err)
	}

	_, err = sqlf.InsertInto("schema_migrations").
		Set("version", m.Version).
		Set("name", m.Name).
		Set("applied_at", time.Now().UTC()).
		ExecAndClose(ctx, tx)
	if err != nil {
		return fmt.Errorf("migrate %d_%s: record version: %w", m.Version, m.Name, err)
	}

	return tx.Commit()
}
