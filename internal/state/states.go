package state

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/multierr"

	"eventbot/internal/lazymap"
	"eventbot/internal/storage"
)

// States indexes write-through records by namespace and chat.
type States struct {
	m *lazymap.Nested[string, int64, *Record]
}

func newStates(s *Store) *States {
	return &States{
		m: lazymap.NewNested(func(ctx context.Context, namespace string, chatID int64) (*Record, error) {
			data, err := s.Get(ctx, namespace, chatID)
			if err != nil {
				return nil, err
			}
			return s.bind(storage.Key{Namespace: namespace, ChatID: chatID}, data), nil
		}),
	}
}

// Get returns the record for the chat, loading or creating it on first use.
func (s *States) Get(ctx context.Context, namespace string, chatID int64) (*Record, error) {
	return s.m.Get(ctx, namespace, chatID)
}

// Lookup returns an already materialized record.
func (s *States) Lookup(namespace string, chatID int64) (*Record, bool) {
	return s.m.Lookup(namespace, chatID)
}

func (s *States) Namespaces() []string {
	ns := s.m.Namespaces()
	sort.Strings(ns)
	return ns
}

func (s *States) Len() int { return s.m.Len() }

// Snapshot copies the persisted fields of every materialized record.
// Writing a snapshot back with Store.UpdateAll merges, so a field deleted
// after the snapshot was taken is stored again; use Flush for periodic saves.
func (s *States) Snapshot() Snapshot {
	out := Snapshot{}
	s.m.Range(func(ns string, chatID int64, r *Record) bool {
		if out[ns] == nil {
			out[ns] = map[int64]map[string]any{}
		}
		out[ns][chatID] = r.Fields()
		return true
	})
	return out
}

// Flush writes every materialized record through from its live fields. Each
// record is written under its own lock, so concurrent deletes are not undone.
func (s *States) Flush(ctx context.Context) error {
	var (
		keys []storage.Key
		recs []*Record
	)
	s.m.Range(func(ns string, chatID int64, r *Record) bool {
		keys = append(keys, storage.Key{Namespace: ns, ChatID: chatID})
		recs = append(recs, r)
		return true
	})

	var errs error
	for i, r := range recs {
		if err := ctx.Err(); err != nil {
			return multierr.Append(errs, err)
		}
		if err := r.Changed(ctx); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("flush %s/%d: %w", keys[i].Namespace, keys[i].ChatID, err))
		}
	}
	return errs
}
