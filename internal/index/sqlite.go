package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/janekbaraniewski/usagerecon/internal/core"
)

const defaultBatchSize = 5000

// SQLiteStore spills the index to a SQLite file so that exports with many
// users do not need every observation resident at once. Writes are batched
// into transactions; reads happen only after Seal.
type SQLiteStore struct {
	db        *sql.DB
	path      string
	temporary bool
	batchSize int

	tx      *sql.Tx
	obsStmt *sql.Stmt
	dayStmt *sql.Stmt
	totStmt *sql.Stmt
	pending int
}

// OpenSQLiteStore opens an index database at path. An empty path creates a
// temporary file that is removed by Close. An existing index at path is
// replaced.
func OpenSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	temporary := path == ""
	if temporary {
		f, err := os.CreateTemp("", "usagerecon-index-*.db")
		if err != nil {
			return nil, fmt.Errorf("index: creating temp DB: %w", err)
		}
		path = f.Name()
		f.Close()
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("index: creating DB dir: %w", err)
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("index: removing stale DB: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("index: opening DB: %w", err)
	}
	s := &SQLiteStore{db: db, path: path, temporary: temporary, batchSize: defaultBatchSize}
	if err := configureSQLiteConnection(db); err != nil {
		s.Close()
		return nil, fmt.Errorf("index: %w", err)
	}
	if err := s.init(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// Path returns the database file backing the store.
func (s *SQLiteStore) Path() string { return s.path }

func configureSQLiteConnection(db *sql.DB) error {
	// Pragmas are per connection.
	db.SetMaxOpenConns(1)
	// The index is rebuilt every run, so durability is not needed.
	if _, err := db.Exec(`PRAGMA journal_mode = OFF;`); err != nil {
		return fmt.Errorf("set journal_mode OFF: %w", err)
	}
	if _, err := db.Exec(`PRAGMA synchronous = OFF;`); err != nil {
		return fmt.Errorf("set synchronous OFF: %w", err)
	}
	if _, err := db.Exec(`PRAGMA temp_store = MEMORY;`); err != nil {
		return fmt.Errorf("set temp_store MEMORY: %w", err)
	}
	return nil
}

func (s *SQLiteStore) init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE observations (
			login TEXT NOT NULL,
			at INTEGER NOT NULL,
			raw TEXT NOT NULL,
			family TEXT NOT NULL,
			ide_version TEXT NOT NULL,
			plugin TEXT NOT NULL,
			plugin_version TEXT NOT NULL
		);`,
		`CREATE TABLE active_days (
			login TEXT NOT NULL,
			day INTEGER NOT NULL,
			PRIMARY KEY (login, day)
		) WITHOUT ROWID;`,
		`CREATE TABLE user_totals (
			login TEXT PRIMARY KEY,
			interactions INTEGER NOT NULL
		);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("index: init schema: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) begin(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	prepare := func(query string) *sql.Stmt {
		if err != nil {
			return nil
		}
		var stmt *sql.Stmt
		stmt, err = tx.PrepareContext(ctx, query)
		return stmt
	}
	s.obsStmt = prepare(`INSERT INTO observations (login, at, raw, family, ide_version, plugin, plugin_version) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	s.dayStmt = prepare(`INSERT OR IGNORE INTO active_days (login, day) VALUES (?, ?)`)
	s.totStmt = prepare(`INSERT INTO user_totals (login, interactions) VALUES (?, ?)
		ON CONFLICT(login) DO UPDATE SET interactions = interactions + excluded.interactions`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("index: prepare: %w", err)
	}
	s.tx = tx
	s.pending = 0
	return nil
}

func (s *SQLiteStore) commit() error {
	if s.tx == nil {
		return nil
	}
	tx := s.tx
	s.tx = nil
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("index: commit: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Add(ctx context.Context, e Entry) error {
	if s.tx == nil {
		if err := s.begin(ctx); err != nil {
			return err
		}
	}
	for _, o := range e.Observations {
		if _, err := s.obsStmt.ExecContext(ctx,
			e.Login,
			o.At.UnixNano(),
			o.Surface.Raw,
			o.Surface.Family,
			o.Surface.IDEVersion,
			o.Surface.Plugin,
			o.Surface.PluginVersion,
		); err != nil {
			return fmt.Errorf("index: insert observation: %w", err)
		}
	}
	if !e.Day.IsZero() {
		if _, err := s.dayStmt.ExecContext(ctx, e.Login, e.Day.Unix()); err != nil {
			return fmt.Errorf("index: insert active day: %w", err)
		}
	}
	if _, err := s.totStmt.ExecContext(ctx, e.Login, e.Interactions); err != nil {
		return fmt.Errorf("index: upsert totals: %w", err)
	}

	s.pending++
	if s.pending >= s.batchSize {
		return s.commit()
	}
	return nil
}

func (s *SQLiteStore) Seal(ctx context.Context) error {
	if err := s.commit(); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_observations_login_at ON observations(login, at);`); err != nil {
		return fmt.Errorf("index: create lookup index: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Activity(ctx context.Context, login string) (*core.UserActivity, bool, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT at, raw, family, ide_version, plugin, plugin_version
		FROM observations
		WHERE login = ?
		ORDER BY at, raw, family, ide_version, plugin, plugin_version
	`, login)
	if err != nil {
		return nil, false, fmt.Errorf("index: query observations: %w", err)
	}
	defer rows.Close()

	act := &core.UserActivity{Login: login}
	for rows.Next() {
		var (
			at int64
			o  core.Observation
		)
		if err := rows.Scan(&at, &o.Surface.Raw, &o.Surface.Family, &o.Surface.IDEVersion, &o.Surface.Plugin, &o.Surface.PluginVersion); err != nil {
			return nil, false, fmt.Errorf("index: scan observation: %w", err)
		}
		o.At = time.Unix(0, at).UTC()
		act.Observations = append(act.Observations, o)
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("index: read observations: %w", err)
	}
	if len(act.Observations) == 0 {
		return nil, false, nil
	}

	dayRows, err := s.db.QueryContext(ctx, `SELECT day FROM active_days WHERE login = ? ORDER BY day`, login)
	if err != nil {
		return nil, false, fmt.Errorf("index: query active days: %w", err)
	}
	defer dayRows.Close()
	for dayRows.Next() {
		var day int64
		if err := dayRows.Scan(&day); err != nil {
			return nil, false, fmt.Errorf("index: scan active day: %w", err)
		}
		act.ActiveDays = append(act.ActiveDays, time.Unix(day, 0).UTC())
	}
	if err := dayRows.Err(); err != nil {
		return nil, false, fmt.Errorf("index: read active days: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `SELECT interactions FROM user_totals WHERE login = ?`, login).Scan(&act.Interactions)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("index: query totals: %w", err)
	}
	return act, true, nil
}

func (s *SQLiteStore) Logins(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT login FROM observations ORDER BY login`)
	if err != nil {
		return nil, fmt.Errorf("index: query logins: %w", err)
	}
	defer rows.Close()
	var logins []string
	for rows.Next() {
		var login string
		if err := rows.Scan(&login); err != nil {
			return nil, fmt.Errorf("index: scan login: %w", err)
		}
		logins = append(logins, login)
	}
	return logins, rows.Err()
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	if s.tx != nil {
		s.tx.Rollback()
		s.tx = nil
	}
	err := s.db.Close()
	if s.temporary {
		os.Remove(s.path)
	}
	return err
}
