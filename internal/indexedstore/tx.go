package indexedstore

import "context"

// Tx is the view of the index handed to a Mutate callback. It is only valid
// during the callback.
type Tx[E, T any] struct {
	store *Store[E, T]
	index []E
	dirty bool
}

// Index returns the current entries. Callers must not modify the slice.
func (tx *Tx[E, T]) Index() []E { return tx.index }

// Find returns the first entry matching pred.
func (tx *Tx[E, T]) Find(pred func(E) bool) (E, bool) {
	for _, e := range tx.index {
		if pred(e) {
			return e, true
		}
	}
	var zero E
	return zero, false
}

// Get returns the entry with id.
func (tx *Tx[E, T]) Get(id string) (E, bool) {
	return tx.Find(func(e E) bool { return tx.store.cfg.EntryID(e) == id })
}

// Upsert replaces the entry with the same ID in place, or appends it.
func (tx *Tx[E, T]) Upsert(entry E) {
	id := tx.store.cfg.EntryID(entry)
	next := make([]E, len(tx.index), len(tx.index)+1)
	copy(next, tx.index)
	for i, e := range next {
		if tx.store.cfg.EntryID(e) == id {
			next[i] = entry
			tx.index = next
			tx.dirty = true
			return
		}
	}
	tx.index = append(next, entry)
	tx.dirty = true
}

// Remove drops the entry with id and reports whether it existed.
func (tx *Tx[E, T]) Remove(id string) bool {
	next := make([]E, 0, len(tx.index))
	removed := false
	for _, e := range tx.index {
		if tx.store.cfg.EntryID(e) == id {
			removed = true
			continue
		}
		next = append(next, e)
	}
	if removed {
		tx.index = next
		tx.dirty = true
	}
	return removed
}

// Replace swaps in a whole new index.
func (tx *Tx[E, T]) Replace(index []E) {
	tx.index = append([]E(nil), index...)
	tx.dirty = true
}

// SaveItem writes an item record immediately, before the index is saved.
func (tx *Tx[E, T]) SaveItem(ctx context.Context, id string, item T) error {
	return tx.store.SaveItem(ctx, id, item)
}

// DeleteItem removes an item record immediately.
func (tx *Tx[E, T]) DeleteItem(ctx context.Context, id string) error {
	return tx.store.DeleteItem(ctx, id)
}

// GetItem reads an item record.
func (tx *Tx[E, T]) GetItem(ctx context.Context, id string) (T, error) {
	return tx.store.GetItem(ctx, id)
}
