package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]Backend {
	t.Helper()
	dir := t.TempDir()

	db, err := OpenSQLite(filepath.Join(dir, "bot.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	file, err := NewFile(filepath.Join(dir, "data", "states.json"))
	require.NoError(t, err)

	return map[string]Backend{"sqlite": db, "file": file}
}

func TestBackend_InsertLookupUpdate(t *testing.T) {
	ctx := context.Background()
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			key := Key{Namespace: "flow", ChatID: 42}

			err := b.Session(ctx, func(tx Tx) error {
				_, ok, err := tx.Lookup(ctx, key)
				require.NoError(t, err)
				assert.False(t, ok)
				return tx.Insert(ctx, Row{ChatID: 42, Description: "flow", Info: `{"a":1}`})
			})
			require.NoError(t, err)

			err = b.Session(ctx, func(tx Tx) error {
				row, ok, err := tx.Lookup(ctx, key)
				require.NoError(t, err)
				require.True(t, ok)
				assert.Equal(t, `{"a":1}`, row.Info)
				row.Info = `{"a":2}`
				return tx.Update(ctx, row)
			})
			require.NoError(t, err)

			var got []Row
			err = b.Session(ctx, func(tx Tx) error {
				return tx.Scan(ctx, func(r Row) error {
					got = append(got, r)
					return nil
				})
			})
			require.NoError(t, err)
			assert.Equal(t, []Row{{ChatID: 42, Description: "flow", Info: `{"a":2}`}}, got)
		})
	}
}

func TestBackend_ConstraintErrors(t *testing.T) {
	ctx := context.Background()
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			err := b.Session(ctx, func(tx Tx) error {
				return tx.Update(ctx, Row{ChatID: 1, Description: "missing", Info: "{}"})
			})
			assert.ErrorIs(t, err, ErrNotFound)

			row := Row{ChatID: 1, Description: "dup", Info: "{}"}
			require.NoError(t, b.Session(ctx, func(tx Tx) error { return tx.Insert(ctx, row) }))
			err = b.Session(ctx, func(tx Tx) error { return tx.Insert(ctx, row) })
			assert.ErrorIs(t, err, ErrExists)
		})
	}
}

func TestBackend_SessionRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			err := b.Session(ctx, func(tx Tx) error {
				require.NoError(t, tx.Insert(ctx, Row{ChatID: 7, Description: "flow", Info: "{}"}))
				return boom
			})
			require.ErrorIs(t, err, boom)

			err = b.Session(ctx, func(tx Tx) error {
				_, ok, err := tx.Lookup(ctx, Key{Namespace: "flow", ChatID: 7})
				require.NoError(t, err)
				assert.False(t, ok, "row from failed session must not be visible")
				return nil
			})
			require.NoError(t, err)
		})
	}
}

func TestBackend_SessionRollsBackOnPanic(t *testing.T) {
	ctx := context.Background()
	for name, b := range backends(t) {
		t.Run(name, func(t *testing.T) {
			assert.Panics(t, func() {
				_ = b.Session(ctx, func(tx Tx) error {
					_ = tx.Insert(ctx, Row{ChatID: 8, Description: "flow", Info: "{}"})
					panic("mid-session")
				})
			})

			err := b.Session(ctx, func(tx Tx) error {
				_, ok, err := tx.Lookup(ctx, Key{Namespace: "flow", ChatID: 8})
				require.NoError(t, err)
				assert.False(t, ok)
				return nil
			})
			require.NoError(t, err)
		})
	}
}

func TestFile_PersistsAcrossInstances(t *testing.T) {
	ctx := context.Background()
	p := filepath.Join(t.TempDir(), "states.json")

	first, err := NewFile(p)
	require.NoError(t, err)
	require.NoError(t, first.Session(ctx, func(tx Tx) error {
		return tx.Insert(ctx, Row{ChatID: 2, Description: "b", Info: "{}"})
	}))
	require.NoError(t, first.Session(ctx, func(tx Tx) error {
		return tx.Insert(ctx, Row{ChatID: 1, Description: "a", Info: `{"x":1}`})
	}))

	second, err := NewFile(p)
	require.NoError(t, err)
	var keys []Key
	require.NoError(t, second.Session(ctx, func(tx Tx) error {
		return tx.Scan(ctx, func(r Row) error {
			keys = append(keys, r.Key())
			return nil
		})
	}))
	assert.Equal(t, []Key{{Namespace: "a", ChatID: 1}, {Namespace: "b", ChatID: 2}}, keys)
}
