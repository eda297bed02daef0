package state

import (
	"context"
	"errors"
	"maps"
	"sync"
)

// ScratchKey is the reserved field name for memory-only data. Store.Set
// strips it from plain maps; Record keeps scratch data in a separate map.
const ScratchKey = "__memory__"

// ErrReservedField is returned when a caller tries to persist ScratchKey.
var ErrReservedField = errors.New("field " + ScratchKey + " is reserved for scratch data")

// DumpFunc persists a record. fields never contains scratch data; removed
// lists fields the mutation deleted so the store can drop them too.
type DumpFunc func(ctx context.Context, fields map[string]any, removed []string) error

// Record is the in-memory view of one chat state. Every mutating method
// writes the persisted fields through the dump function before returning;
// when that write fails the persisted fields are left as they were.
type Record struct {
	mu        sync.Mutex
	persisted map[string]any
	scratch   map[string]any
	dump      DumpFunc
}

// NewRecord wraps data. A ScratchKey entry holding a map seeds the scratch
// area; scratch always starts as a usable, possibly empty, map.
func NewRecord(data map[string]any, dump DumpFunc) *Record {
	r := &Record{
		persisted: make(map[string]any, len(data)),
		scratch:   map[string]any{},
		dump:      dump,
	}
	for k, v := range data {
		if k == ScratchKey {
			if m, ok := v.(map[string]any); ok {
				r.scratch = m
			}
			continue
		}
		r.persisted[k] = v
	}
	return r
}

func (r *Record) Get(field string) (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.persisted[field]
	return v, ok
}

// Fields returns a shallow copy of the persisted fields.
func (r *Record) Fields() map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return maps.Clone(r.persisted)
}

// Scratch returns a shallow copy of the memory-only fields.
func (r *Record) Scratch() map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return maps.Clone(r.scratch)
}

func (r *Record) ScratchValue(key string) (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.scratch[key]
	return v, ok
}

func (r *Record) Set(ctx context.Context, field string, value any) error {
	if field == ScratchKey {
		return ErrReservedField
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	before := maps.Clone(r.persisted)
	r.persisted[field] = value
	return r.commit(ctx, before, nil)
}

func (r *Record) Delete(ctx context.Context, field string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	before := maps.Clone(r.persisted)
	delete(r.persisted, field)
	return r.commit(ctx, before, []string{field})
}

// Update sets several fields with a single write.
func (r *Record) Update(ctx context.Context, fields map[string]any) error {
	if _, ok := fields[ScratchKey]; ok {
		return ErrReservedField
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	before := maps.Clone(r.persisted)
	maps.Copy(r.persisted, fields)
	return r.commit(ctx, before, nil)
}

// Replace swaps the persisted fields for fields; fields missing from the new
// set are removed from storage as well.
func (r *Record) Replace(ctx context.Context, fields map[string]any) error {
	if _, ok := fields[ScratchKey]; ok {
		return ErrReservedField
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	before := r.persisted
	removed := missingKeys(before, fields)
	r.persisted = maps.Clone(fields)
	if r.persisted == nil {
		r.persisted = map[string]any{}
	}
	return r.commit(ctx, before, removed)
}

// Mutate hands the live persisted map to fn, then writes it through. Use it
// for nested updates. A ScratchKey written by fn is dropped. On a failed
// write top-level fields are restored; values fn changed in place are not.
func (r *Record) Mutate(ctx context.Context, fn func(fields map[string]any)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	before := maps.Clone(r.persisted)
	fn(r.persisted)
	delete(r.persisted, ScratchKey)
	return r.commit(ctx, before, missingKeys(before, r.persisted))
}

// MutateScratch hands the live scratch map to fn. The persisted fields are
// written through afterwards like any other mutation; scratch data is not.
func (r *Record) MutateScratch(ctx context.Context, fn func(scratch map[string]any)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r.scratch)
	return r.flush(ctx, nil)
}

// Changed writes the record through without modifying it, for callers that
// changed a nested value obtained from Get.
func (r *Record) Changed(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.flush(ctx, nil)
}

// commit writes the record through and puts before back if the write fails,
// so a rejected value does not stay in memory.
func (r *Record) commit(ctx context.Context, before map[string]any, removed []string) error {
	if err := r.flush(ctx, removed); err != nil {
		r.persisted = before
		return err
	}
	return nil
}

func (r *Record) flush(ctx context.Context, removed []string) error {
	if r.dump == nil {
		return nil
	}
	return r.dump(ctx, maps.Clone(r.persisted), removed)
}

func missingKeys(before, after map[string]any) []string {
	var out []string
	for k := range before {
		if _, ok := after[k]; !ok {
			out = append(out, k)
		}
	}
	return out
}
