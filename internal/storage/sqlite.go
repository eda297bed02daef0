package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// SQLite keeps states, users and messages in one database file.
type SQLite struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens (or creates) the database at path and applies the schema.
func OpenSQLite(path string) (*SQLite, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("ensure db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// one writer; also keeps ":memory:" a single database
	db.SetMaxOpenConns(1)

	s := &SQLite{db: db, path: path}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return s, nil
}

func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) Path() string { return s.path }

func (s *SQLite) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS states (
		chat_id INTEGER NOT NULL,
		description TEXT NOT NULL,
		info TEXT NOT NULL,
		PRIMARY KEY (chat_id, description)
	);

	CREATE TABLE IF NOT EXISTS users (
		telegram_id INTEGER PRIMARY KEY,
		username TEXT NOT NULL DEFAULT '',
		is_bot_admin INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		sent_by INTEGER NOT NULL REFERENCES users(telegram_id),
		chat_id INTEGER NOT NULL,
		text TEXT NOT NULL,
		sent_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_sent_at ON messages(sent_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLite) Session(ctx context.Context, fn func(Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin session: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		if cerr := tx.Commit(); cerr != nil {
			err = fmt.Errorf("commit session: %w", cerr)
		}
	}()
	return fn(&sqliteTx{tx: tx})
}

type sqliteTx struct {
	tx *sql.Tx
}

func (t *sqliteTx) Lookup(ctx context.Context, key Key) (Row, bool, error) {
	var row Row
	err := t.tx.QueryRowContext(ctx,
		`SELECT chat_id, description, info FROM states WHERE chat_id = ? AND description = ?`,
		key.ChatID, key.Namespace,
	).Scan(&row.ChatID, &row.Description, &row.Info)
	if errors.Is(err, sql.ErrNoRows) {
		return Row{}, false, nil
	}
	if err != nil {
		return Row{}, false, fmt.Errorf("lookup state: %w", err)
	}
	return row, true, nil
}

func (t *sqliteTx) Insert(ctx context.Context, row Row) error {
	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO states (chat_id, description, info) VALUES (?, ?, ?) ON CONFLICT DO NOTHING`,
		row.ChatID, row.Description, row.Info,
	)
	if err != nil {
		return fmt.Errorf("insert state: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("insert state %s/%d: %w", row.Description, row.ChatID, ErrExists)
	}
	return nil
}

func (t *sqliteTx) Update(ctx context.Context, row Row) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE states SET info = ? WHERE chat_id = ? AND description = ?`,
		row.Info, row.ChatID, row.Description,
	)
	if err != nil {
		return fmt.Errorf("update state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update state: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("update state %s/%d: %w", row.Description, row.ChatID, ErrNotFound)
	}
	return nil
}

func (t *sqliteTx) Scan(ctx context.Context, fn func(Row) error) error {
	rows, err := t.tx.QueryContext(ctx, `SELECT chat_id, description, info FROM states ORDER BY description, chat_id`)
	if err != nil {
		return fmt.Errorf("scan states: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var row Row
		if err := rows.Scan(&row.ChatID, &row.Description, &row.Info); err != nil {
			return fmt.Errorf("scan state row: %w", err)
		}
		if err := fn(row); err != nil {
			return err
		}
	}
	return rows.Err()
}
