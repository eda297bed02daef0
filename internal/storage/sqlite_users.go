package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// LogMessage records msg, registering its sender on first sight.
// ID and SentAt are filled in when empty.
func (s *SQLite) LogMessage(ctx context.Context, msg Message) (Message, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Message{}, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO users (telegram_id, username) VALUES (?, ?)
		ON CONFLICT(telegram_id) DO UPDATE SET username = excluded.username
	`, msg.UserID, msg.Username); err != nil {
		return Message{}, fmt.Errorf("upsert sender: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (id, sent_by, chat_id, text, sent_at) VALUES (?, ?, ?, ?, ?)`,
		msg.ID, msg.UserID, msg.ChatID, msg.Text, msg.SentAt.UnixNano(),
	); err != nil {
		return Message{}, fmt.Errorf("insert message: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Message{}, fmt.Errorf("commit: %w", err)
	}
	return msg, nil
}

// MessagesBetween returns messages with from <= SentAt < to, oldest first.
func (s *SQLite) MessagesBetween(ctx context.Context, from, to time.Time) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.sent_by, u.username, m.chat_id, m.text, m.sent_at
		FROM messages m JOIN users u ON u.telegram_id = m.sent_by
		WHERE m.sent_at >= ? AND m.sent_at < ?
		ORDER BY m.sent_at
	`, from.UnixNano(), to.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		var sentAt int64
		if err := rows.Scan(&m.ID, &m.UserID, &m.Username, &m.ChatID, &m.Text, &sentAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.SentAt = time.Unix(0, sentAt)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLite) UpsertUser(ctx context.Context, u User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (telegram_id, username, is_bot_admin) VALUES (?, ?, ?)
		ON CONFLICT(telegram_id) DO UPDATE SET username = excluded.username, is_bot_admin = excluded.is_bot_admin
	`, u.ID, u.Username, u.IsAdmin)
	if err != nil {
		return fmt.Errorf("upsert user: %w", err)
	}
	return nil
}

// ListUsers returns every known user ordered by username.
func (s *SQLite) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT telegram_id, username, is_bot_admin FROM users ORDER BY username, telegram_id`)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	var out []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Username, &u.IsAdmin); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// IsAdmin is false for unknown users.
func (s *SQLite) IsAdmin(ctx context.Context, userID int64) (bool, error) {
	var admin bool
	err := s.db.QueryRowContext(ctx, `SELECT is_bot_admin FROM users WHERE telegram_id = ?`, userID).Scan(&admin)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query admin: %w", err)
	}
	return admin, nil
}

// SetAdmin flips the admin flag, creating the user if needed.
func (s *SQLite) SetAdmin(ctx context.Context, userID int64, admin bool) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (telegram_id, is_bot_admin) VALUES (?, ?)
		ON CONFLICT(telegram_id) DO UPDATE SET is_bot_admin = excluded.is_bot_admin
	`, userID, admin)
	if err != nil {
		return fmt.Errorf("set admin: %w", err)
	}
	return nil
}
