package db

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const (
	defaultDBName = "taskpulse.db"
	workspaceDir  = ".taskpulse"
)

func init() {
	// modernc registers itself as "sqlite", which sqlx does not know about.
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

type Config struct {
	Workspace string
	Driver    string
	DSN       string
}

func dbPath(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, workspaceDir, defaultDBName)
}

// EnsureWorkspace creates workspace directory if missing.
func EnsureWorkspace(workspace string) (string, error) {
	path := filepath.Join(workspace, workspaceDir)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}

// Open connects to the configured store. SQLite is the default and lives in
// the workspace unless an explicit DSN is given.
func Open(cfg Config) (*sqlx.DB, error) {
	switch cfg.Driver {
	case "", "sqlite":
		dsn := cfg.DSN
		if dsn == "" {
			if _, err := EnsureWorkspace(cfg.Workspace); err != nil {
				return nil, err
			}
			dsn = fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_txlock=immediate", dbPath(cfg.Workspace))
		}
		conn, err := sqlx.Open("sqlite", dsn)
		if err != nil {
			return nil, err
		}
		return conn, nil
	case "postgres":
		conn, err := sqlx.Open("postgres", cfg.DSN)
		if err != nil {
			return nil, err
		}
		if err := conn.Ping(); err != nil {
			conn.Close()
			return nil, err
		}
		return conn, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// Path returns the db path for the workspace.
func Path(workspace string) string {
	return dbPath(workspace)
}
