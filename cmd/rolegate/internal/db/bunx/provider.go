package bunx

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/pgdriver"
	_ "modernc.org/sqlite" // SQLite driver
)

// Backend is the SQL engine a DSN selects.
type Backend string

const (
	BackendPostgres Backend = "postgres"
	BackendSQLite   Backend = "sqlite"
)

// DefaultMaxConns is the Postgres pool size when none is configured.
const DefaultMaxConns = 25

// DefaultPingTimeout bounds the connectivity check in Open and Ping.
const DefaultPingTimeout = 5 * time.Second

// sqlitePragmas run on every SQLite connection before it is handed out.
var sqlitePragmas = []string{
	"PRAGMA foreign_keys = ON",
	"PRAGMA journal_mode = WAL",
	"PRAGMA busy_timeout = 5000",
}

// BackendFor picks the backend from a DSN. Anything that is not a Postgres
// URL (including the pgdriver unix:// socket form) is treated as a SQLite path.
func BackendFor(dsn string) Backend {
	for _, prefix := range []string{"postgres://", "postgresql://", "unix://"} {
		if strings.HasPrefix(dsn, prefix) {
			return BackendPostgres
		}
	}
	return BackendSQLite
}

// Options configures Open.
type Options struct {
	DSN string
	// MaxConns caps the Postgres pool. <= 0 uses DefaultMaxConns. SQLite is
	// always a single connection: an in-memory database only exists on the
	// connection that created it.
	MaxConns    int
	PingTimeout time.Duration
}

// NewDB opens the database behind dsn with a background context.
func NewDB(dsn string, maxConns int) (*bun.DB, error) {
	return Open(context.Background(), Options{DSN: dsn, MaxConns: maxConns})
}

// Open connects to the configured backend and verifies the connection.
func Open(ctx context.Context, opts Options) (*bun.DB, error) {
	if opts.MaxConns <= 0 {
		opts.MaxConns = DefaultMaxConns
	}
	if opts.PingTimeout <= 0 {
		opts.PingTimeout = DefaultPingTimeout
	}

	var (
		db  *bun.DB
		err error
	)
	switch BackendFor(opts.DSN) {
	case BackendPostgres:
		db = openPostgres(opts)
	default:
		db, err = openSQLite(ctx, opts)
		if err != nil {
			return nil, err
		}
	}

	if err := Ping(ctx, db, opts.PingTimeout); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func openPostgres(opts Options) *bun.DB {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(opts.DSN)))
	sqldb.SetMaxOpenConns(opts.MaxConns)
	sqldb.SetMaxIdleConns(opts.MaxConns)
	return bun.NewDB(sqldb, pgdialect.New())
}

func openSQLite(ctx context.Context, opts Options) (*bun.DB, error) {
	sqldb, err := sql.Open("sqlite", opts.DSN)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	for _, pragma := range sqlitePragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = sqldb.Close()
			return nil, fmt.Errorf("sqlite %q: %w", pragma, err)
		}
	}
	return db, nil
}

// Ping checks connectivity within timeout.
func Ping(ctx context.Context, db *bun.DB, timeout time.Duration) error {
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	return nil
}

// Close closes db; a nil db is a no-op.
func Close(db *bun.DB) error {
	if db == nil {
		return nil
	}
	return db.Close()
}
