package knowledge

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/knowledged/internal/guard"
)

// AddItem is Add rendered as a user-facing Result.
func (s *Service) AddItem(ctx context.Context, title, content, actor string) Result {
	res, err := s.Add(ctx, title, content, actor)
	if err != nil {
		return s.failure(ctx, "add", title, err)
	}
	msg := fmt.Sprintf("Added %q (%s chars", res.Meta.Title, humanize.Comma(int64(res.Meta.CharCount)))
	return Result{Success: true, Message: msg + indexedSuffix(res)}
}

// UpdateItem is Update rendered as a user-facing Result.
func (s *Service) UpdateItem(ctx context.Context, title, content, actor string) Result {
	res, err := s.Update(ctx, title, content, actor)
	if err != nil {
		return s.failure(ctx, "update", title, err)
	}
	msg := fmt.Sprintf("Updated %q (%s chars, %s", res.Meta.Title,
		humanize.Comma(int64(res.Meta.CharCount)), signed(res.Delta))
	return Result{Success: true, Message: msg + indexedSuffix(res)}
}

// RemoveItem is Remove rendered as a user-facing Result.
func (s *Service) RemoveItem(ctx context.Context, title string) Result {
	meta, err := s.Remove(ctx, title)
	if err != nil {
		return s.failure(ctx, "remove", title, err)
	}
	return Result{Success: true, Message: fmt.Sprintf("Removed %q.", meta.Title)}
}

// RenameItem is Rename rendered as a user-facing Result.
func (s *Service) RenameItem(ctx context.Context, oldTitle, newTitle, actor string) Result {
	res, err := s.Rename(ctx, oldTitle, newTitle, actor)
	if err != nil {
		return s.failure(ctx, "rename", oldTitle, err)
	}
	msg := fmt.Sprintf("Renamed %q to %q", strings.TrimSpace(oldTitle), res.Meta.Title)
	if res.IndexErr != nil {
		return Result{Success: true, Message: msg + ", but it could not be re-indexed for search. Run a backfill to retry."}
	}
	return Result{Success: true, Message: msg + "."}
}

func (s *Service) failure(ctx context.Context, op, title string, err error) Result {
	var ge *guard.Error
	switch {
	case errors.As(err, &ge):
		return Result{Message: guard.Message(err, "document")}
	case errors.Is(err, ErrNotFound):
		return Result{Message: fmt.Sprintf("No document titled %q found.", strings.TrimSpace(title))}
	}
	s.logger.Error(ctx, "document "+op+" failed", zap.String("title", title), zap.Error(err))
	return Result{Message: fmt.Sprintf("Could not %s the document. Please try again.", op)}
}

// indexedSuffix closes the "(N chars" clause opened by the caller.
func indexedSuffix(res WriteResult) string {
	if res.IndexErr != nil {
		return "), but it could not be indexed for search yet. Run a backfill to retry."
	}
	chunks := "chunks"
	if res.Chunks == 1 {
		chunks = "chunk"
	}
	return fmt.Sprintf(", %d %s).", res.Chunks, chunks)
}

func signed(n int) string {
	if n >= 0 {
		return "+" + humanize.Comma(int64(n))
	}
	return humanize.Comma(int64(n))
}
