package store

import (
	"context"
	"sync"
)

// Record is an element of a Collection.
type Record interface {
	RecordID() string
}

// Collection is a typed view over the record list stored under one Kind.
// There are no partial-record updates: callers always replace whole records.
type Collection[T Record] struct {
	store *Store
	kind  Kind
	lock  *sync.Mutex
}

// NewCollection returns the collection for kind.
func NewCollection[T Record](s *Store, kind Kind) *Collection[T] {
	return &Collection[T]{store: s, kind: kind, lock: s.kindLock(kind)}
}

// Kind returns the namespace key of the collection.
func (c *Collection[T]) Kind() Kind { return c.kind }

// GetAll returns every stored record. Missing or unreadable data yields an
// empty list.
func (c *Collection[T]) GetAll(ctx context.Context) []T {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.getAll(ctx)
}

// ReplaceAll overwrites the stored list with recs.
func (c *Collection[T]) ReplaceAll(ctx context.Context, recs []T) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.replaceAll(ctx, recs)
}

// Find returns the record with the given id.
func (c *Collection[T]) Find(ctx context.Context, id string) (T, bool) {
	for _, r := range c.GetAll(ctx) {
		if r.RecordID() == id {
			return r, true
		}
	}
	var zero T
	return zero, false
}

// Upsert replaces the record sharing rec's id, or appends rec.
func (c *Collection[T]) Upsert(ctx context.Context, rec T) error {
	return c.Update(ctx, func(recs []T) []T {
		for i := range recs {
			if recs[i].RecordID() == rec.RecordID() {
				recs[i] = rec
				return recs
			}
		}
		return append(recs, rec)
	})
}

// Remove deletes the records with the given ids. Unknown ids are ignored.
func (c *Collection[T]) Remove(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}
	return c.Update(ctx, func(recs []T) []T {
		kept := recs[:0]
		for _, r := range recs {
			if _, ok := drop[r.RecordID()]; !ok {
				kept = append(kept, r)
			}
		}
		return kept
	})
}

// Update runs fn over the current list and writes back its result in a
// single write.
func (c *Collection[T]) Update(ctx context.Context, fn func([]T) []T) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.replaceAll(ctx, fn(c.getAll(ctx)))
}

func (c *Collection[T]) getAll(ctx context.Context) []T {
	var recs []T
	if !c.store.LoadValue(ctx, c.kind, &recs) || recs == nil {
		return []T{}
	}
	return recs
}

func (c *Collection[T]) replaceAll(ctx context.Context, recs []T) error {
	if recs == nil {
		recs = []T{}
	}
	return c.store.SaveValue(ctx, c.kind, recs)
}
