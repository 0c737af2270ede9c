// Package initiatives keeps a registry of team initiatives on the same
// index-plus-item layout as the knowledge base. Initiatives are searched
// lexically and never embedded.
package initiatives

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/knowledged/internal/guard"
	"github.com/fyrsmithlabs/knowledged/internal/indexedstore"
	"github.com/fyrsmithlabs/knowledged/internal/kvstore"
	"github.com/fyrsmithlabs/knowledged/internal/logging"
	"github.com/fyrsmithlabs/knowledged/internal/sanitize"
)

// DefaultMaxDescriptionChars bounds a description in runes.
const DefaultMaxDescriptionChars = 10_000

// Config holds registry limits. Zero values take defaults.
type Config struct {
	MaxNameLength       int
	MaxDescriptionChars int
	FetchConcurrency    int
}

// Registry stores and searches initiatives.
type Registry struct {
	store  *indexedstore.Store[Entry, Initiative]
	limits guard.Limits
	logger *logging.Logger
	now    func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// NewRegistry opens the registry over kv.
func NewRegistry(kv kvstore.Store, cfg Config, logger *logging.Logger, opts ...Option) (*Registry, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	if cfg.MaxDescriptionChars <= 0 {
		cfg.MaxDescriptionChars = DefaultMaxDescriptionChars
	}

	store, err := indexedstore.New[Entry, Initiative](kv, indexedstore.Config[Entry]{
		IndexKey:         IndexKey,
		ItemKey:          ItemKey,
		EntryID:          func(e Entry) string { return e.ID },
		FetchConcurrency: cfg.FetchConcurrency,
	}, logger.Underlying())
	if err != nil {
		return nil, err
	}

	r := &Registry{
		store: store,
		limits: guard.Limits{
			MaxTitleLength: cfg.MaxNameLength,
			MaxItemChars:   cfg.MaxDescriptionChars,
			MaxTotalChars:  math.MaxInt,
		},
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Close stops the index writer.
func (r *Registry) Close() error {
	return r.store.Close()
}

func nameMatches(name string) func(Entry) bool {
	name = strings.TrimSpace(name)
	return func(e Entry) bool { return strings.EqualFold(e.Name, name) }
}

func guardEntries(index []Entry) []guard.Entry {
	out := make([]guard.Entry, len(index))
	for i, e := range index {
		out[i] = guard.Entry{ID: e.ID, Title: e.Name}
	}
	return out
}

// Add stores a new initiative. Status defaults to proposed.
func (r *Registry) Add(ctx context.Context, d Draft, actor string) (Initiative, error) {
	ctx = logging.WithActor(ctx, actor)
	status := StatusProposed
	if strings.TrimSpace(d.Status) != "" {
		var err error
		if status, err = ParseStatus(d.Status); err != nil {
			return Initiative{}, err
		}
	}

	name := strings.TrimSpace(d.Name)
	var out Initiative
	err := r.store.Mutate(ctx, func(ctx context.Context, tx *indexedstore.Tx[Entry, Initiative]) error {
		in := guard.Input{Title: name, Content: d.Description}
		if err := guard.Validate(in, guardEntries(tx.Index()), r.limits); err != nil {
			return err
		}
		now := r.now().UTC()
		out = Initiative{
			ID:              sanitize.TitleKey(name),
			Name:            name,
			Description:     d.Description,
			Owner:           strings.TrimSpace(d.Owner),
			Status:          StatusInfo{Value: status, UpdatedAt: now, UpdatedBy: actor},
			ExpectedMetrics: cleanMetrics(d.ExpectedMetrics),
			PRDLink:         strings.TrimSpace(d.PRDLink),
			CreatedAt:       now,
		}
		if err := tx.SaveItem(ctx, out.ID, out); err != nil {
			return err
		}
		tx.Upsert(out.entry())
		return nil
	})
	if err != nil {
		return Initiative{}, err
	}

	r.logger.Info(ctx, "initiative added", zap.String("id", out.ID), zap.String("status", string(status)))
	return out, nil
}

// SetStatus changes an initiative's status.
func (r *Registry) SetStatus(ctx context.Context, name, status, actor string) (Initiative, error) {
	ctx = logging.WithActor(ctx, actor)
	st, err := ParseStatus(status)
	if err != nil {
		return Initiative{}, err
	}

	var out Initiative
	err = r.store.Mutate(ctx, func(ctx context.Context, tx *indexedstore.Tx[Entry, Initiative]) error {
		e, ok := tx.Find(nameMatches(name))
		if !ok {
			return fmt.Errorf("%w: %q", ErrNotFound, strings.TrimSpace(name))
		}
		item, err := tx.GetItem(ctx, e.ID)
		if errors.Is(err, indexedstore.ErrNotFound) {
			return fmt.Errorf("%w: %q", ErrNotFound, e.Name)
		}
		if err != nil {
			return err
		}
		item.Status = StatusInfo{Value: st, UpdatedAt: r.now().UTC(), UpdatedBy: actor}
		if err := tx.SaveItem(ctx, item.ID, item); err != nil {
			return err
		}
		tx.Upsert(item.entry())
		out = item
		return nil
	})
	if err != nil {
		return Initiative{}, err
	}

	r.logger.Info(ctx, "initiative status changed", zap.String("id", out.ID), zap.String("status", string(st)))
	return out, nil
}

// Remove deletes an initiative.
func (r *Registry) Remove(ctx context.Context, name string) (Entry, error) {
	var out Entry
	err := r.store.Mutate(ctx, func(ctx context.Context, tx *indexedstore.Tx[Entry, Initiative]) error {
		e, ok := tx.Find(nameMatches(name))
		if !ok {
			return fmt.Errorf("%w: %q", ErrNotFound, strings.TrimSpace(name))
		}
		out = e
		tx.Remove(e.ID)
		return tx.DeleteItem(ctx, e.ID)
	})
	if err != nil {
		return Entry{}, err
	}
	r.logger.Info(ctx, "initiative removed", zap.String("id", out.ID))
	return out, nil
}

// Get returns the full initiative.
func (r *Registry) Get(ctx context.Context, name string) (Initiative, error) {
	e, ok, err := r.store.FindInIndex(ctx, nameMatches(name))
	if err != nil {
		return Initiative{}, err
	}
	if !ok {
		return Initiative{}, fmt.Errorf("%w: %q", ErrNotFound, strings.TrimSpace(name))
	}
	item, err := r.store.GetItem(ctx, e.ID)
	if errors.Is(err, indexedstore.ErrNotFound) {
		return Initiative{}, fmt.Errorf("%w: %q", ErrNotFound, e.Name)
	}
	return item, err
}

// List returns index entries, optionally filtered by status.
func (r *Registry) List(ctx context.Context, status string) ([]Entry, error) {
	index, err := r.store.GetIndex(ctx)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(status) == "" {
		return index, nil
	}
	st, err := ParseStatus(status)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(index))
	for _, e := range index {
		if e.Status == st {
			out = append(out, e)
		}
	}
	return out, nil
}

// AddInitiative is Add rendered as a user-facing Result.
func (r *Registry) AddInitiative(ctx context.Context, d Draft, actor string) Result {
	i, err := r.Add(ctx, d, actor)
	if err != nil {
		return r.failure(ctx, "add", d.Name, err)
	}
	return Result{Success: true, Message: fmt.Sprintf("Added initiative %q (%s).", i.Name, i.Status.Value)}
}

// SetStatusResult is SetStatus rendered as a user-facing Result.
func (r *Registry) SetStatusResult(ctx context.Context, name, status, actor string) Result {
	i, err := r.SetStatus(ctx, name, status, actor)
	if err != nil {
		return r.failure(ctx, "update", name, err)
	}
	return Result{Success: true, Message: fmt.Sprintf("Initiative %q is now %s.", i.Name, i.Status.Value)}
}

// RemoveInitiative is Remove rendered as a user-facing Result.
func (r *Registry) RemoveInitiative(ctx context.Context, name string) Result {
	e, err := r.Remove(ctx, name)
	if err != nil {
		return r.failure(ctx, "remove", name, err)
	}
	return Result{Success: true, Message: fmt.Sprintf("Removed initiative %q.", e.Name)}
}

func (r *Registry) failure(ctx context.Context, op, name string, err error) Result {
	var ge *guard.Error
	switch {
	case errors.As(err, &ge):
		return Result{Message: guard.Message(err, "initiative")}
	case errors.Is(err, ErrNotFound):
		return Result{Message: fmt.Sprintf("No initiative named %q found.", strings.TrimSpace(name))}
	case errors.Is(err, ErrInvalidStatus):
		return Result{Message: "Status must be one of proposed, active, paused, completed, cancelled."}
	}
	r.logger.Error(ctx, "initiative "+op+" failed", zap.String("name", name), zap.Error(err))
	return Result{Message: fmt.Sprintf("Could not %s the initiative. Please try again.", op)}
}

func cleanMetrics(in []string) []string {
	out := make([]string, 0, len(in))
	for _, m := range in {
		if m = strings.TrimSpace(m); m != "" {
			out = append(out, m)
		}
	}
	return out
}
