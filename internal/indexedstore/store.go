// Package indexedstore keeps an ordered metadata index and per-item content
// records in one key-value store.
//
// The index is a single JSON blob; items live under their own keys. The two
// are written separately, so a crash between writes can leave an index entry
// without content (a ghost) or content without an entry (an orphan). Reads
// skip ghosts; the next write with the same ID overwrites an orphan.
//
// Index mutations are funnelled through one goroutine per Store so that
// concurrent writers in this process cannot lose each other's updates.
// Separate processes sharing the same KV can still race.
package indexedstore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/knowledged/internal/kvstore"
)

var (
	// ErrNotFound indicates a missing item.
	ErrNotFound = errors.New("item not found")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("indexed store closed")
)

const defaultFetchConcurrency = 8

// Config binds a Store to its keys.
type Config[E any] struct {
	// IndexKey is the key of the index blob, e.g. "kb:index".
	IndexKey string

	// ItemKey maps an item ID to its content key, e.g. "kb:doc:{id}".
	ItemKey func(id string) string

	// EntryID derives the item ID from an index entry.
	EntryID func(E) string

	// FetchConcurrency bounds GetAllItems fan-out. Default: 8
	FetchConcurrency int
}

// Store is an index of E entries with T item records.
type Store[E, T any] struct {
	kv     kvstore.Store
	cfg    Config[E]
	logger *zap.Logger

	requests  chan mutation[E, T]
	stopCh    chan struct{}
	doneCh    chan struct{}
	closeOnce sync.Once
}

type mutation[E, T any] struct {
	ctx   context.Context
	fn    func(ctx context.Context, tx *Tx[E, T]) error
	reply chan error
}

// New creates a Store and starts its writer goroutine. Call Close to stop it.
func New[E, T any](kv kvstore.Store, cfg Config[E], logger *zap.Logger) (*Store[E, T], error) {
	if kv == nil {
		return nil, errors.New("indexedstore: kv store is required")
	}
	if cfg.IndexKey == "" || cfg.ItemKey == nil || cfg.EntryID == nil {
		return nil, errors.New("indexedstore: IndexKey, ItemKey and EntryID are required")
	}
	if cfg.FetchConcurrency <= 0 {
		cfg.FetchConcurrency = defaultFetchConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Store[E, T]{
		kv:       kv,
		cfg:      cfg,
		logger:   logger.With(zap.String("index", cfg.IndexKey)),
		requests: make(chan mutation[E, T]),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	go s.run()
	return s, nil
}

// run applies mutations one at a time.
func (s *Store[E, T]) run() {
	defer close(s.doneCh)
	for {
		select {
		case <-s.stopCh:
			return
		case m := <-s.requests:
			m.reply <- s.apply(m.ctx, m.fn)
		}
	}
}

func (s *Store[E, T]) apply(ctx context.Context, fn func(context.Context, *Tx[E, T]) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("mutation panicked", zap.Any("panic", r))
			err = fmt.Errorf("indexedstore: mutation panicked: %v", r)
		}
	}()

	if err := ctx.Err(); err != nil {
		return err
	}
	index, err := s.GetIndex(ctx)
	if err != nil {
		return err
	}

	tx := &Tx[E, T]{store: s, index: index}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if !tx.dirty {
		return nil
	}
	return s.writeIndex(ctx, tx.index)
}

// Mutate runs fn on the writer goroutine with the current index. Changes
// made through tx are saved when fn returns nil; returning an error discards
// index changes (item writes already made through tx stay).
func (s *Store[E, T]) Mutate(ctx context.Context, fn func(ctx context.Context, tx *Tx[E, T]) error) error {
	reply := make(chan error, 1)
	select {
	case s.requests <- mutation[E, T]{ctx: ctx, fn: fn, reply: reply}:
	case <-s.stopCh:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	// The writer always replies once it has accepted a request.
	return <-reply
}

// Close stops the writer goroutine. Pending Mutate calls fail with
// ErrClosed. It does not close the underlying KV store.
func (s *Store[E, T]) Close() error {
	s.closeOnce.Do(func() {
		close(s.stopCh)
		<-s.doneCh
	})
	return nil
}

// GetIndex loads the index. A missing index is empty.
func (s *Store[E, T]) GetIndex(ctx context.Context) ([]E, error) {
	var index []E
	err := kvstore.GetJSON(ctx, s.kv, s.cfg.IndexKey, &index)
	if errors.Is(err, kvstore.ErrNotFound) {
		return []E{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading index %s: %w", s.cfg.IndexKey, err)
	}
	if index == nil {
		index = []E{}
	}
	return index, nil
}

// SaveIndex replaces the whole index.
func (s *Store[E, T]) SaveIndex(ctx context.Context, index []E) error {
	return s.Mutate(ctx, func(_ context.Context, tx *Tx[E, T]) error {
		tx.Replace(index)
		return nil
	})
}

func (s *Store[E, T]) writeIndex(ctx context.Context, index []E) error {
	if err := kvstore.PutJSON(ctx, s.kv, s.cfg.IndexKey, index); err != nil {
		return fmt.Errorf("saving index %s: %w", s.cfg.IndexKey, err)
	}
	return nil
}

// GetItem loads one item, or ErrNotFound.
func (s *Store[E, T]) GetItem(ctx context.Context, id string) (T, error) {
	var item T
	err := kvstore.GetJSON(ctx, s.kv, s.cfg.ItemKey(id), &item)
	if errors.Is(err, kvstore.ErrNotFound) {
		return item, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return item, fmt.Errorf("loading item %s: %w", id, err)
	}
	return item, nil
}

// SaveItem writes one item record. It does not touch the index.
func (s *Store[E, T]) SaveItem(ctx context.Context, id string, item T) error {
	if err := kvstore.PutJSON(ctx, s.kv, s.cfg.ItemKey(id), item); err != nil {
		return fmt.Errorf("saving item %s: %w", id, err)
	}
	return nil
}

// DeleteItem removes one item record. Missing items are not an error.
func (s *Store[E, T]) DeleteItem(ctx context.Context, id string) error {
	err := s.kv.Delete(ctx, s.cfg.ItemKey(id))
	if err != nil && !errors.Is(err, kvstore.ErrNotFound) {
		return fmt.Errorf("deleting item %s: %w", id, err)
	}
	return nil
}

// FindInIndex returns the first entry matching pred.
func (s *Store[E, T]) FindInIndex(ctx context.Context, pred func(E) bool) (E, bool, error) {
	var zero E
	index, err := s.GetIndex(ctx)
	if err != nil {
		return zero, false, err
	}
	for _, e := range index {
		if pred(e) {
			return e, true, nil
		}
	}
	return zero, false, nil
}

// ExistsInIndex reports whether any entry matches pred.
func (s *Store[E, T]) ExistsInIndex(ctx context.Context, pred func(E) bool) (bool, error) {
	_, ok, err := s.FindInIndex(ctx, pred)
	return ok, err
}

// UpsertIndexEntry replaces the entry with the same ID, or appends it.
func (s *Store[E, T]) UpsertIndexEntry(ctx context.Context, entry E) error {
	return s.Mutate(ctx, func(_ context.Context, tx *Tx[E, T]) error {
		tx.Upsert(entry)
		return nil
	})
}

// RemoveFromIndex drops the entry with id and reports whether it existed.
func (s *Store[E, T]) RemoveFromIndex(ctx context.Context, id string) (bool, error) {
	var removed bool
	err := s.Mutate(ctx, func(_ context.Context, tx *Tx[E, T]) error {
		removed = tx.Remove(id)
		return nil
	})
	return removed, err
}

// GetCount returns the number of index entries.
func (s *Store[E, T]) GetCount(ctx context.Context) (int, error) {
	index, err := s.GetIndex(ctx)
	if err != nil {
		return 0, err
	}
	return len(index), nil
}

// GetAllItems fetches every indexed item in index order, dropping entries
// whose content is missing.
func (s *Store[E, T]) GetAllItems(ctx context.Context) ([]T, error) {
	index, err := s.GetIndex(ctx)
	if err != nil {
		return nil, err
	}

	items := make([]T, len(index))
	found := make([]bool, len(index))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.FetchConcurrency)
	for i, e := range index {
		id := s.cfg.EntryID(e)
		g.Go(func() error {
			item, err := s.GetItem(gctx, id)
			if errors.Is(err, ErrNotFound) {
				s.logger.Debug("skipping index entry without content", zap.String("id", id))
				return nil
			}
			if err != nil {
				return err
			}
			items[i] = item
			found[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]T, 0, len(items))
	for i, item := range items {
		if found[i] {
			out = append(out, item)
		}
	}
	return out, nil
}
