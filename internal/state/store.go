// Package state persists per-chat conversational state.
//
// A state record is identified by a namespace (the kind of state, usually a
// conversation flow) and a chat id. Writes are merge-upserts: new fields
// overwrite same-named ones, other stored fields are kept.
package state

import (
	"context"
	"fmt"
	"maps"
	"sort"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"eventbot/internal/codec"
	"eventbot/internal/storage"
)

// Snapshot maps namespace -> chat -> persisted fields.
type Snapshot map[string]map[int64]map[string]any

type Store struct {
	backend storage.Backend
	codec   *codec.Codec
	log     *zap.SugaredLogger
}

func NewStore(backend storage.Backend, log *zap.SugaredLogger) *Store {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Store{backend: backend, codec: codec.Default(), log: log}
}

// Get returns the stored record, or an empty one if the chat has none.
func (s *Store) Get(ctx context.Context, namespace string, chatID int64) (map[string]any, error) {
	var out map[string]any
	err := s.backend.Session(ctx, func(tx storage.Tx) error {
		row, ok, err := tx.Lookup(ctx, storage.Key{Namespace: namespace, ChatID: chatID})
		if err != nil {
			return err
		}
		if !ok {
			out = map[string]any{}
			return nil
		}
		out, err = s.codec.DecodeRecord(row.Info)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get state %s/%d: %w", namespace, chatID, err)
	}
	return out, nil
}

// Set merges record into the stored one, creating it if absent.
// The ScratchKey field is never stored.
func (s *Store) Set(ctx context.Context, namespace string, chatID int64, record map[string]any) error {
	return s.apply(ctx, storage.Key{Namespace: namespace, ChatID: chatID}, record, nil)
}

func (s *Store) apply(ctx context.Context, key storage.Key, record map[string]any, removed []string) error {
	fields := maps.Clone(record)
	if fields == nil {
		fields = map[string]any{}
	}
	delete(fields, ScratchKey)

	// encode up front so a bad value never reaches storage
	encoded, err := s.codec.EncodeRecord(fields)
	if err != nil {
		return fmt.Errorf("set state %s/%d: %w", key.Namespace, key.ChatID, err)
	}

	err = s.backend.Session(ctx, func(tx storage.Tx) error {
		row, ok, err := tx.Lookup(ctx, key)
		if err != nil {
			return err
		}
		if !ok {
			return tx.Insert(ctx, storage.Row{ChatID: key.ChatID, Description: key.Namespace, Info: encoded})
		}

		stored, err := s.codec.DecodeRecord(row.Info)
		if err != nil {
			return err
		}
		for _, f := range removed {
			delete(stored, f)
		}
		maps.Copy(stored, fields)
		if row.Info, err = s.codec.EncodeRecord(stored); err != nil {
			return err
		}
		return tx.Update(ctx, row)
	})
	if err != nil {
		return fmt.Errorf("set state %s/%d: %w", key.Namespace, key.ChatID, err)
	}
	return nil
}

// LoadAll reads every stored record into a States index. Records for keys
// that were never stored are built on first access from Get.
func (s *Store) LoadAll(ctx context.Context) (*States, error) {
	states := newStates(s)
	loaded := 0
	err := s.backend.Session(ctx, func(tx storage.Tx) error {
		return tx.Scan(ctx, func(row storage.Row) error {
			data, err := s.codec.DecodeRecord(row.Info)
			if err != nil {
				return fmt.Errorf("decode %s/%d: %w", row.Description, row.ChatID, err)
			}
			states.m.Set(row.Description, row.ChatID, s.bind(row.Key(), data))
			loaded++
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("load states: %w", err)
	}
	s.log.Infof("Loaded %d chat states", loaded)
	return states, nil
}

// UpdateAll stores every record of snapshot. Keys are applied one by one;
// a failing key does not stop the others and all failures are returned.
func (s *Store) UpdateAll(ctx context.Context, snapshot Snapshot) error {
	var errs error
	namespaces := make([]string, 0, len(snapshot))
	for ns := range snapshot {
		namespaces = append(namespaces, ns)
	}
	sort.Strings(namespaces)

	for _, ns := range namespaces {
		chats := make([]int64, 0, len(snapshot[ns]))
		for chatID := range snapshot[ns] {
			chats = append(chats, chatID)
		}
		sort.Slice(chats, func(i, j int) bool { return chats[i] < chats[j] })

		for _, chatID := range chats {
			if err := s.Set(ctx, ns, chatID, snapshot[ns][chatID]); err != nil {
				s.log.Warnf("failed to store state %s/%d: %v", ns, chatID, err)
				errs = multierr.Append(errs, err)
			}
		}
	}
	return errs
}

// ForEach decodes every stored record in namespace, chat order.
func (s *Store) ForEach(ctx context.Context, fn func(namespace string, chatID int64, record map[string]any) error) error {
	return s.backend.Session(ctx, func(tx storage.Tx) error {
		return tx.Scan(ctx, func(row storage.Row) error {
			data, err := s.codec.DecodeRecord(row.Info)
			if err != nil {
				return fmt.Errorf("decode %s/%d: %w", row.Description, row.ChatID, err)
			}
			return fn(row.Description, row.ChatID, data)
		})
	})
}

func (s *Store) bind(key storage.Key, data map[string]any) *Record {
	return NewRecord(data, func(ctx context.Context, fields map[string]any, removed []string) error {
		return s.apply(ctx, key, fields, removed)
	})
}
