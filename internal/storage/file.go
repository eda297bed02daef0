package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// File keeps state rows as a JSON array in a single file. A session holds
// the file lock for its whole duration and rewrites the file on commit.
type File struct {
	path string
	mu   sync.Mutex
}

func NewFile(path string) (*File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure dir: %w", err)
	}
	// Touch file if not exists
	f, err := os.OpenFile(path, os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("touch file: %w", err)
	}
	_ = f.Close()
	return &File{path: path}, nil
}

func (r *File) Close() error { return nil }

func (r *File) Session(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	rows, err := r.loadUnlocked()
	if err != nil {
		return err
	}
	tx := newFileTx(rows)
	if err := fn(tx); err != nil {
		return err
	}
	if !tx.dirty {
		return nil
	}
	return r.saveUnlocked(tx.rows)
}

func (r *File) loadUnlocked() ([]Row, error) {
	f, err := os.Open(r.path)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	defer func(f *os.File) {
		_ = f.Close()
	}(f)
	var rows []Row
	dec := json.NewDecoder(f)
	if err := dec.Decode(&rows); err != nil {
		if err == io.EOF {
			return []Row{}, nil
		}
		return nil, fmt.Errorf("decode %s: %w", r.path, err)
	}
	return rows, nil
}

// saveUnlocked writes through a temp file so a crash never leaves a
// truncated state file behind.
func (r *File) saveUnlocked(rows []Row) error {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Description != rows[j].Description {
			return rows[i].Description < rows[j].Description
		}
		return rows[i].ChatID < rows[j].ChatID
	})

	tmp, err := os.CreateTemp(filepath.Dir(r.path), filepath.Base(r.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rows); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("encode: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), r.path); err != nil {
		return fmt.Errorf("replace %s: %w", r.path, err)
	}
	return nil
}

type fileTx struct {
	rows  []Row
	index map[Key]int
	dirty bool
}

func newFileTx(rows []Row) *fileTx {
	tx := &fileTx{rows: rows, index: make(map[Key]int, len(rows))}
	for i, row := range rows {
		tx.index[row.Key()] = i
	}
	return tx
}

func (t *fileTx) Lookup(_ context.Context, key Key) (Row, bool, error) {
	i, ok := t.index[key]
	if !ok {
		return Row{}, false, nil
	}
	return t.rows[i], true, nil
}

func (t *fileTx) Insert(_ context.Context, row Row) error {
	if _, ok := t.index[row.Key()]; ok {
		return fmt.Errorf("insert state %s/%d: %w", row.Description, row.ChatID, ErrExists)
	}
	t.index[row.Key()] = len(t.rows)
	t.rows = append(t.rows, row)
	t.dirty = true
	return nil
}

func (t *fileTx) Update(_ context.Context, row Row) error {
	i, ok := t.index[row.Key()]
	if !ok {
		return fmt.Errorf("update state %s/%d: %w", row.Description, row.ChatID, ErrNotFound)
	}
	t.rows[i] = row
	t.dirty = true
	return nil
}

func (t *fileTx) Scan(ctx context.Context, fn func(Row) error) error {
	for _, row := range t.rows {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(row); err != nil {
			return err
		}
	}
	return nil
}
