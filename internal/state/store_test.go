package state

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"

	"eventbot/internal/codec"
	"eventbot/internal/storage"
)

// memBackend is an in-memory storage.Backend that can fail writes per key.
type memBackend struct {
	rows    map[storage.Key]storage.Row
	failKey map[storage.Key]bool
	writes  int
}

func newMemBackend() *memBackend {
	return &memBackend{rows: map[storage.Key]storage.Row{}, failKey: map[storage.Key]bool{}}
}

func (m *memBackend) Close() error { return nil }

func (m *memBackend) Session(ctx context.Context, fn func(storage.Tx) error) error {
	staged := &memTx{m: m, rows: map[storage.Key]storage.Row{}}
	for k, v := range m.rows {
		staged.rows[k] = v
	}
	if err := fn(staged); err != nil {
		return err
	}
	m.rows = staged.rows
	return nil
}

type memTx struct {
	m    *memBackend
	rows map[storage.Key]storage.Row
}

func (t *memTx) Lookup(_ context.Context, key storage.Key) (storage.Row, bool, error) {
	row, ok := t.rows[key]
	return row, ok, nil
}

func (t *memTx) Insert(_ context.Context, row storage.Row) error {
	if t.m.failKey[row.Key()] {
		return errors.New("disk full")
	}
	t.m.writes++
	t.rows[row.Key()] = row
	return nil
}

func (t *memTx) Update(_ context.Context, row storage.Row) error {
	if t.m.failKey[row.Key()] {
		return errors.New("disk full")
	}
	t.m.writes++
	t.rows[row.Key()] = row
	return nil
}

func (t *memTx) Scan(_ context.Context, fn func(storage.Row) error) error {
	keys := make([]storage.Key, 0, len(t.rows))
	for k := range t.rows {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Namespace != keys[j].Namespace {
			return keys[i].Namespace < keys[j].Namespace
		}
		return keys[i].ChatID < keys[j].ChatID
	})
	for _, k := range keys {
		if err := fn(t.rows[k]); err != nil {
			return err
		}
	}
	return nil
}

func stores(t *testing.T) map[string]*Store {
	t.Helper()
	dir := t.TempDir()
	db, err := storage.OpenSQLite(filepath.Join(dir, "bot.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	file, err := storage.NewFile(filepath.Join(dir, "states.json"))
	require.NoError(t, err)

	return map[string]*Store{
		"sqlite": NewStore(db, nil),
		"file":   NewStore(file, nil),
		"memory": NewStore(newMemBackend(), nil),
	}
}

func requireRecord(t *testing.T, want, got map[string]any) {
	t.Helper()
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("record mismatch (-want +got):\n%s", diff)
	}
}

func TestStore_MissThenCreate(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			got, err := s.Get(ctx, "flow", 1)
			require.NoError(t, err)
			requireRecord(t, map[string]any{}, got)

			require.NoError(t, s.Set(ctx, "flow", 1, map[string]any{"x": int64(1)}))
			got, err = s.Get(ctx, "flow", 1)
			require.NoError(t, err)
			requireRecord(t, map[string]any{"x": int64(1)}, got)
		})
	}
}

func TestStore_SetMergesInsteadOfReplacing(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Set(ctx, "flow", 1, map[string]any{"a": int64(1), "b": int64(2)}))
			require.NoError(t, s.Set(ctx, "flow", 1, map[string]any{"b": int64(3), "c": int64(4)}))

			got, err := s.Get(ctx, "flow", 1)
			require.NoError(t, err)
			requireRecord(t, map[string]any{"a": int64(1), "b": int64(3), "c": int64(4)}, got)

			other, err := s.Get(ctx, "other", 1)
			require.NoError(t, err)
			assert.Empty(t, other, "namespaces are independent")
		})
	}
}

func TestStore_SetStripsScratch(t *testing.T) {
	ctx := context.Background()
	backend := newMemBackend()
	s := NewStore(backend, nil)

	require.NoError(t, s.Set(ctx, "flow", 1, map[string]any{"a": "x", ScratchKey: map[string]any{"secret": true}}))
	row := backend.rows[storage.Key{Namespace: "flow", ChatID: 1}]
	assert.NotContains(t, row.Info, ScratchKey)
	assert.NotContains(t, row.Info, "secret")
}

func TestStore_UnsupportedValueNeverWritten(t *testing.T) {
	ctx := context.Background()
	backend := newMemBackend()
	s := NewStore(backend, nil)

	err := s.Set(ctx, "flow", 1, map[string]any{"fn": func() {}})
	var uerr *codec.UnsupportedTypeError
	require.ErrorAs(t, err, &uerr)
	assert.Zero(t, backend.writes)
	assert.Empty(t, backend.rows)
}

func TestStore_RejectedValueDoesNotStickToRecord(t *testing.T) {
	ctx := context.Background()
	backend := newMemBackend()
	s := NewStore(backend, nil)
	states, err := s.LoadAll(ctx)
	require.NoError(t, err)
	rec, err := states.Get(ctx, "flow", 1)
	require.NoError(t, err)

	var uerr *codec.UnsupportedTypeError
	require.ErrorAs(t, rec.Set(ctx, "bad", make(chan int)), &uerr)
	assert.Empty(t, rec.Fields())
	assert.Zero(t, backend.writes)

	require.NoError(t, rec.Set(ctx, "ok", int64(1)))
	got, err := s.Get(ctx, "flow", 1)
	require.NoError(t, err)
	requireRecord(t, map[string]any{"ok": int64(1)}, got)
}

func TestStore_UnreadableTimestampNeverWritten(t *testing.T) {
	ctx := context.Background()
	backend := newMemBackend()
	s := NewStore(backend, nil)

	for _, ts := range []time.Time{
		time.Date(10000, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(1890, 1, 1, 0, 0, 0, 0, time.FixedZone("LMT", -(2*3600+22*60+55))),
	} {
		err := s.Set(ctx, "flow", 1, map[string]any{"ts": ts})
		var uerr *codec.UnsupportedTypeError
		require.ErrorAs(t, err, &uerr)
	}
	assert.Zero(t, backend.writes)

	_, err := s.LoadAll(ctx)
	require.NoError(t, err)
}

func TestStore_CorruptRowFailsRead(t *testing.T) {
	ctx := context.Background()
	backend := newMemBackend()
	backend.rows[storage.Key{Namespace: "flow", ChatID: 1}] = storage.Row{ChatID: 1, Description: "flow", Info: "{not json"}
	s := NewStore(backend, nil)

	_, err := s.Get(ctx, "flow", 1)
	var perr *codec.ParseError
	require.ErrorAs(t, err, &perr)

	_, err = s.LoadAll(ctx)
	require.ErrorAs(t, err, &perr)

	err = s.Set(ctx, "flow", 1, map[string]any{"a": int64(1)})
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "{not json", backend.rows[storage.Key{Namespace: "flow", ChatID: 1}].Info, "failed merge must not touch the row")
}

func TestStore_LoadAllWriteThroughKeepsTimestamps(t *testing.T) {
	ctx := context.Background()
	ts := time.Date(2017, 3, 25, 19, 0, 0, 250000000, time.FixedZone("", -3*60*60))
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Set(ctx, "flow", 42, map[string]any{"step": int64(1), "ts": ts}))

			states, err := s.LoadAll(ctx)
			require.NoError(t, err)
			rec, ok := states.Lookup("flow", 42)
			require.True(t, ok, "stored record must be loaded eagerly")

			require.NoError(t, rec.Set(ctx, "step", int64(2)))

			got, err := s.Get(ctx, "flow", 42)
			require.NoError(t, err)
			requireRecord(t, map[string]any{"step": int64(2), "ts": ts}, got)
			assert.IsType(t, time.Time{}, got["ts"])
		})
	}
}

func TestStore_ScratchIsolation(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Set(ctx, "flow", 7, map[string]any{"a": int64(1)}))
			states, err := s.LoadAll(ctx)
			require.NoError(t, err)
			rec, err := states.Get(ctx, "flow", 7)
			require.NoError(t, err)

			for i := 0; i < 3; i++ {
				require.NoError(t, rec.MutateScratch(ctx, func(scratch map[string]any) {
					scratch["counter"] = i
					scratch["nested"] = map[string]any{"i": i}
				}))
			}

			got, err := s.Get(ctx, "flow", 7)
			require.NoError(t, err)
			requireRecord(t, map[string]any{"a": int64(1)}, got)

			reloaded, err := s.LoadAll(ctx)
			require.NoError(t, err)
			again, err := reloaded.Get(ctx, "flow", 7)
			require.NoError(t, err)
			assert.Empty(t, again.Scratch())
		})
	}
}

func TestStore_LazyDefaultRecord(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			states, err := s.LoadAll(ctx)
			require.NoError(t, err)
			assert.Zero(t, states.Len())

			rec, err := states.Get(ctx, "welcome", 99)
			require.NoError(t, err)
			assert.Empty(t, rec.Fields())
			assert.NotNil(t, rec.Scratch())
			assert.Empty(t, rec.Scratch())

			same, err := states.Get(ctx, "welcome", 99)
			require.NoError(t, err)
			assert.Same(t, rec, same)

			require.NoError(t, rec.Set(ctx, "greeted", true))
			got, err := s.Get(ctx, "welcome", 99)
			require.NoError(t, err)
			requireRecord(t, map[string]any{"greeted": true}, got)
			assert.Equal(t, []string{"welcome"}, states.Namespaces())
		})
	}
}

func TestStore_DeleteReachesStorage(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Set(ctx, "flow", 3, map[string]any{"a": int64(1), "b": int64(2)}))
			states, err := s.LoadAll(ctx)
			require.NoError(t, err)
			rec, err := states.Get(ctx, "flow", 3)
			require.NoError(t, err)

			require.NoError(t, rec.Delete(ctx, "a"))
			got, err := s.Get(ctx, "flow", 3)
			require.NoError(t, err)
			requireRecord(t, map[string]any{"b": int64(2)}, got)

			require.NoError(t, rec.Replace(ctx, map[string]any{"c": "new"}))
			got, err = s.Get(ctx, "flow", 3)
			require.NoError(t, err)
			requireRecord(t, map[string]any{"c": "new"}, got)
		})
	}
}

func TestStore_UpdateAllIsPerKey(t *testing.T) {
	ctx := context.Background()
	backend := newMemBackend()
	backend.failKey[storage.Key{Namespace: "flow", ChatID: 2}] = true
	backend.failKey[storage.Key{Namespace: "other", ChatID: 5}] = true
	s := NewStore(backend, nil)

	err := s.UpdateAll(ctx, Snapshot{
		"flow":  {1: {"a": int64(1)}, 2: {"a": int64(2)}, 3: {"a": int64(3)}},
		"other": {5: {"b": true}},
	})
	require.Error(t, err)
	assert.Len(t, multierr.Errors(err), 2)

	for _, chat := range []int64{1, 3} {
		got, err := s.Get(ctx, "flow", chat)
		require.NoError(t, err)
		requireRecord(t, map[string]any{"a": chat}, got)
	}
	got, err := s.Get(ctx, "flow", 2)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestStore_SnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Set(ctx, "flow", 1, map[string]any{"a": int64(1)}))
			states, err := s.LoadAll(ctx)
			require.NoError(t, err)
			rec, err := states.Get(ctx, "flow", 2)
			require.NoError(t, err)
			require.NoError(t, rec.MutateScratch(ctx, func(m map[string]any) { m["tmp"] = 1 }))

			snap := states.Snapshot()
			assert.Equal(t, Snapshot{"flow": {1: {"a": int64(1)}, 2: {}}}, snap)
			require.NoError(t, s.UpdateAll(ctx, snap))

			var seen []string
			require.NoError(t, s.ForEach(ctx, func(ns string, chat int64, rec map[string]any) error {
				seen = append(seen, ns)
				assert.NotContains(t, rec, ScratchKey)
				return nil
			}))
			assert.Equal(t, []string{"flow", "flow"}, seen)
		})
	}
}

func TestStates_FlushWritesLiveFields(t *testing.T) {
	ctx := context.Background()
	backend := newMemBackend()
	s := NewStore(backend, nil)
	require.NoError(t, s.Set(ctx, "flow", 1, map[string]any{"a": int64(1), "b": int64(2)}))
	require.NoError(t, s.Set(ctx, "flow", 2, map[string]any{"a": int64(1)}))

	states, err := s.LoadAll(ctx)
	require.NoError(t, err)
	stale := states.Snapshot()

	rec, err := states.Get(ctx, "flow", 1)
	require.NoError(t, err)
	require.NoError(t, rec.Delete(ctx, "a"))

	// a stale snapshot merged back brings the deleted field back
	require.NoError(t, s.UpdateAll(ctx, stale))
	got, err := s.Get(ctx, "flow", 1)
	require.NoError(t, err)
	assert.Contains(t, got, "a")

	require.NoError(t, rec.Delete(ctx, "a"))
	backend.failKey[storage.Key{Namespace: "flow", ChatID: 2}] = true
	err = states.Flush(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "flush flow/2")

	got, err = s.Get(ctx, "flow", 1)
	require.NoError(t, err)
	requireRecord(t, map[string]any{"b": int64(2)}, got)
}
