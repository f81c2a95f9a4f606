package sqlite

import (
	"context"
	stdsql "database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// files manages SQLite databases as files.
type files struct{}

// Create creates the database file of connStr and runs stmts in one transaction.
// It fails if the file exists.
func (files) Create(ctx context.Context, driverName, connStr string, stmts []string) (rerr error) {
	path := Path(connStr)
	if path == ":memory:" {
		return errors.New("sqlite: cannot create an in-memory database")
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("sqlite: database %s already exists", path)
	}
	db, err := stdsql.Open(driverName, connStr)
	if err != nil {
		return err
	}
	defer func() { rerr = errors.Join(rerr, db.Close()) }()
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for _, stmt := range stmts {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return errors.Join(fmt.Errorf("sqlite: %s: %w", stmt, err), tx.Rollback())
		}
	}
	return tx.Commit()
}

// Exists reports whether the database file exists. In-memory databases always exist.
func (files) Exists(_ context.Context, connStr string) (bool, error) {
	path := Path(connStr)
	if path == ":memory:" {
		return true, nil
	}
	switch _, err := os.Stat(path); {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}

// Delete removes the database file together with its journal files.
func (files) Delete(_ context.Context, connStr string) error {
	path := Path(connStr)
	if path == ":memory:" {
		return errors.New("sqlite: cannot delete an in-memory database")
	}
	if err := os.Remove(path); err != nil {
		return err
	}
	for _, suffix := range []string{"-journal", "-wal", "-shm"} {
		if err := os.Remove(path + suffix); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}
