package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

type Store struct {
	conn *sql.DB
}

// Pragmas ride on the DSN so the driver applies them to every
// connection the pool opens, not just the first one.
const connOptions = "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"

func Open(path string) (*Store, error) {
	conn, err := sql.Open("sqlite", "file:"+path+connOptions)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{conn: conn}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}

	return s, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS repositories (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		owner TEXT NOT NULL,
		name TEXT NOT NULL,
		default_branch TEXT NOT NULL DEFAULT 'main',
		status TEXT NOT NULL DEFAULT 'active',
		last_sync_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(owner, name)
	);

	CREATE INDEX IF NOT EXISTS idx_repositories_status ON repositories(status);

	CREATE TABLE IF NOT EXISTS scripts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		repository_id INTEGER NOT NULL,
		path TEXT NOT NULL,
		branch TEXT NOT NULL,
		sha TEXT NOT NULL,
		metadata TEXT,
		security TEXT,
		modified_at TIMESTAMP NOT NULL,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(repository_id, path, branch),
		FOREIGN KEY (repository_id) REFERENCES repositories(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_scripts_repository ON scripts(repository_id);
	CREATE INDEX IF NOT EXISTS idx_scripts_sha ON scripts(sha);

	CREATE TABLE IF NOT EXISTS sync_runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		repository_id INTEGER NOT NULL,
		trigger_type TEXT NOT NULL,
		status TEXT NOT NULL,
		processed INTEGER NOT NULL DEFAULT 0,
		added INTEGER NOT NULL DEFAULT 0,
		updated INTEGER NOT NULL DEFAULT 0,
		removed INTEGER NOT NULL DEFAULT 0,
		error TEXT,
		started_at TIMESTAMP NOT NULL,
		completed_at TIMESTAMP,
		FOREIGN KEY (repository_id) REFERENCES repositories(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_sync_runs_repository ON sync_runs(repository_id);
	CREATE INDEX IF NOT EXISTS idx_sync_runs_started ON sync_runs(started_at);

	CREATE TABLE IF NOT EXISTS executions (
		id TEXT PRIMARY KEY,
		script_id INTEGER,
		script_name TEXT,
		status TEXT NOT NULL,
		parameters TEXT,
		stdout TEXT,
		stderr TEXT,
		exit_code INTEGER,
		hostname TEXT NOT NULL,
		runtime_version TEXT,
		started_at TIMESTAMP NOT NULL,
		completed_at TIMESTAMP,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		peak_memory_bytes INTEGER NOT NULL DEFAULT 0,
		command_count INTEGER NOT NULL DEFAULT 0,
		error TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_executions_status ON executions(status);
	CREATE INDEX IF NOT EXISTS idx_executions_started ON executions(started_at);
	`

	_, err := s.conn.Exec(schema)
	return err
}

// WithTx runs fn inside a single transaction. Every mutation fn performs
// through the passed Tx commits or rolls back as one unit.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(&Tx{tx: sqlTx}); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}

	return sqlTx.Commit()
}

// Tx exposes the store's mutation helpers bound to one transaction.
type Tx struct {
	tx *sql.Tx
}

func (s *Store) Ping() error {
	return s.conn.Ping()
}

func (s *Store) Close() error {
	return s.conn.Close()
}
