// Package storage holds the durable side of the bot: per-chat state rows,
// users and the message log.
//
// State rows are opaque to this package. The Info column carries text
// produced by the state codec and is never parsed here.
package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by Tx.Update when no row has the key.
	ErrNotFound = errors.New("state row not found")
	// ErrExists is returned by Tx.Insert when a row already has the key.
	ErrExists = errors.New("state row already exists")
)

// Key identifies one state row.
type Key struct {
	Namespace string
	ChatID    int64
}

// Row is one persisted state record.
type Row struct {
	ChatID      int64  `json:"chat_id"`
	Description string `json:"description"`
	Info        string `json:"info"`
}

func (r Row) Key() Key { return Key{Namespace: r.Description, ChatID: r.ChatID} }

// Tx is the set of operations available inside a session.
// A lookup miss is reported by ok == false, never by an error.
type Tx interface {
	Lookup(ctx context.Context, key Key) (row Row, ok bool, err error)
	Insert(ctx context.Context, row Row) error
	Update(ctx context.Context, row Row) error
	Scan(ctx context.Context, fn func(Row) error) error
}

// Backend runs fn inside a session. Changes are committed when fn returns
// nil and discarded when it returns an error or panics.
type Backend interface {
	Session(ctx context.Context, fn func(Tx) error) error
	Close() error
}

// User is a chat participant seen by the bot.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	IsAdmin  bool   `json:"is_admin"`
}

// Message is one logged incoming message.
type Message struct {
	ID       string    `json:"id"`
	UserID   int64     `json:"user_id"`
	Username string    `json:"username"`
	ChatID   int64     `json:"chat_id"`
	Text     string    `json:"text"`
	SentAt   time.Time `json:"sent_at"`
}
