package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// ErrClosed is returned by operations on a closed Database.
var ErrClosed = errors.New("db: database is closed")

// Database owns the SQLite connection behind the session repository.
//
// This organism composes:
//   - embedded schema migrations (molecule)
//   - a WAL connection (molecule)
//   - the session repository (molecule)
type Database struct {
	path   string
	logger *zap.Logger

	mu sync.RWMutex
	db *sql.DB
}

// Open migrates the database at path to the latest schema and connects.
func Open(path string, logger *zap.Logger) (*Database, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if path == "" {
		return nil, ErrEmptyPath
	}
	if err := MigrateUp(path); err != nil {
		return nil, err
	}
	conn, err := NewSQLiteConnection(DefaultConnectionConfig(path))
	if err != nil {
		return nil, err
	}
	logger.Info("session database ready", zap.String("path", path))
	return &Database{path: path, logger: logger, db: conn}, nil
}

// Path returns the database file path.
func (d *Database) Path() string {
	return d.path
}

// Sessions returns a repository that implements session persistence.
func (d *Database) Sessions() *SessionRepository {
	return &SessionRepository{db: d}
}

// Ping verifies the connection is alive.
func (d *Database) Ping(ctx context.Context) error {
	conn, err := d.conn()
	if err != nil {
		return err
	}
	return conn.PingContext(ctx)
}

// Close closes the connection. Calling Close twice is harmless.
func (d *Database) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.db == nil {
		return nil
	}
	err := d.db.Close()
	d.db = nil
	if err != nil {
		return fmt.Errorf("db: close: %w", err)
	}
	d.logger.Debug("session database closed")
	return nil
}

func (d *Database) conn() (*sql.DB, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.db == nil {
		return nil, ErrClosed
	}
	return d.db, nil
}
