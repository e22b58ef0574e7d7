package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/m-mizutani/goerr/v2"
	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/johncui/mnemo/pkg/model"
	"github.com/johncui/mnemo/pkg/utils/logging"
)

// Config controls SQLite initialization.
type Config struct {
	Path           string
	ExtensionsPath string
	EnableVSS      bool
	VectorDim      int
	Logger         *slog.Logger
}

// Database wraps the sql.DB handle with feature flags.
type Database struct {
	db        *sql.DB
	enableVSS bool
	vectorDim int
	logger    *slog.Logger
}

var (
	driversMu sync.Mutex
	drivers   = map[string]string{}
)

// driverFor registers (once per extension path) a sqlite3 driver that loads
// the extension on every new connection.
func driverFor(extPath string) string {
	if extPath == "" {
		return "sqlite3"
	}
	driversMu.Lock()
	defer driversMu.Unlock()
	if name, ok := drivers[extPath]; ok {
		return name
	}
	name := "sqlite3_ext_" + strconv.Itoa(len(drivers))
	sql.Register(name, &sqlite3.SQLiteDriver{Extensions: []string{extPath}})
	drivers[extPath] = name
	return name
}

// New opens the database, loads extensions if requested, and ensures schema.
// Missing prerequisites are reported as config errors.
func New(ctx context.Context, cfg Config) (*Database, error) {
	if cfg.Path == "" {
		return nil, goerr.New("database path is required", goerr.T(model.TagConfig))
	}
	if cfg.VectorDim <= 0 {
		cfg.VectorDim = 1536
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}

	extPath := ""
	if cfg.EnableVSS {
		extPath = cfg.ExtensionsPath
		if extPath == "" {
			extPath = os.Getenv("GO_SQLITE3_EXTENSIONS")
		}
		if extPath == "" {
			return nil, goerr.New("sqlite-vss extension path not provided", goerr.T(model.TagConfig))
		}
		cfg.Logger.Info("loading sqlite extension", "path", extPath)
	}

	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", cfg.Path)
	db, err := sql.Open(driverFor(extPath), dsn)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open sqlite", goerr.V("path", cfg.Path), goerr.T(model.TagConfig))
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, goerr.Wrap(err, "failed to connect sqlite", goerr.V("path", cfg.Path), goerr.T(model.TagConfig))
	}

	d := &Database{db: db, enableVSS: cfg.EnableVSS, vectorDim: cfg.VectorDim, logger: cfg.Logger}
	if err := d.ensureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if err := d.ensureVectorDim(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return d, nil
}

func (d *Database) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS schema_meta (
            key TEXT PRIMARY KEY,
            value TEXT NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS chat_history (
            seq INTEGER PRIMARY KEY AUTOINCREMENT,
            id TEXT NOT NULL UNIQUE,
            user_input TEXT NOT NULL,
            agent_response TEXT NOT NULL,
            created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
        );`,
		`CREATE TABLE IF NOT EXISTS chat_embeddings (
            seq INTEGER PRIMARY KEY AUTOINCREMENT,
            id TEXT NOT NULL UNIQUE,
            text TEXT NOT NULL,
            embedding BLOB NOT NULL,
            source TEXT NOT NULL,
            turn_id TEXT,
            created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
        );`,
		`CREATE INDEX IF NOT EXISTS idx_chat_embeddings_turn ON chat_embeddings(turn_id);`,
	}

	if d.enableVSS {
		stmts = append(stmts,
			fmt.Sprintf(`CREATE VIRTUAL TABLE IF NOT EXISTS vss_memories USING vss0(embedding(%d));`, d.vectorDim),
			`CREATE TABLE IF NOT EXISTS vss_payload (
                rowid INTEGER PRIMARY KEY,
                memory_id TEXT NOT NULL UNIQUE
            );`,
		)
	}

	for _, stmt := range stmts {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return goerr.Wrap(err, "failed to ensure schema", goerr.V("stmt", stmt), goerr.T(model.TagConfig))
		}
	}
	return nil
}

// ensureVectorDim pins the embedding dimension on first start and refuses to
// open a database created with a different one.
func (d *Database) ensureVectorDim(ctx context.Context) error {
	var stored string
	err := d.db.QueryRowContext(ctx, `SELECT value FROM schema_meta WHERE key = 'vector_dim'`).Scan(&stored)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err := d.db.ExecContext(ctx, `INSERT INTO schema_meta(key, value) VALUES ('vector_dim', ?)`, strconv.Itoa(d.vectorDim))
		if err != nil {
			return goerr.Wrap(err, "failed to record vector dimension", goerr.T(model.TagConfig))
		}
		return nil
	case err != nil:
		return goerr.Wrap(err, "failed to read vector dimension", goerr.T(model.TagConfig))
	}

	if stored != strconv.Itoa(d.vectorDim) {
		return goerr.Wrap(model.ErrDimensionMismatch, "database was created with another vector dimension",
			goerr.V("stored", stored), goerr.V("configured", d.vectorDim), goerr.T(model.TagConfig))
	}
	return nil
}

// WithTx runs fn inside a transaction and commits when fn succeeds.
func (d *Database) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return goerr.Wrap(err, "failed to begin transaction", goerr.T(model.TagStore))
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return goerr.Wrap(err, "failed to commit transaction", goerr.T(model.TagStore))
	}
	return nil
}

// DB returns the underlying database handle.
func (d *Database) DB() *sql.DB {
	return d.db
}

// Close releases the database.
func (d *Database) Close() error {
	return d.db.Close()
}

// HasVSS indicates whether the sqlite-vss tables exist.
func (d *Database) HasVSS() bool {
	return d.enableVSS
}

// VectorDim returns configured embedding dimension.
func (d *Database) VectorDim() int {
	return d.vectorDim
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}
