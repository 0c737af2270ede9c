// Package guard validates a write against title rules and capacity limits
// before anything is persisted.
package guard

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/dustin/go-humanize"

	"github.com/fyrsmithlabs/knowledged/internal/sanitize"
)

// Kinds of validation failure. Every *Error unwraps to one of these.
var (
	ErrEmptyTitle       = errors.New("title is empty")
	ErrTitleTooLong     = errors.New("title too long")
	ErrDocumentTooLarge = errors.New("document too large")
	ErrStoreFull        = errors.New("store full")
	ErrDuplicateTitle   = errors.New("duplicate title")
)

const (
	DefaultMaxTitleLength = 100
	DefaultMaxItemChars   = 50_000
	DefaultMaxTotalChars  = 200_000
)

// Limits bounds titles, single items and the store aggregate. Sizes are in
// runes; zero means the default.
type Limits struct {
	MaxTitleLength int
	MaxItemChars   int
	MaxTotalChars  int
}

func (l Limits) withDefaults() Limits {
	if l.MaxTitleLength <= 0 {
		l.MaxTitleLength = DefaultMaxTitleLength
	}
	if l.MaxItemChars <= 0 {
		l.MaxItemChars = DefaultMaxItemChars
	}
	if l.MaxTotalChars <= 0 {
		l.MaxTotalChars = DefaultMaxTotalChars
	}
	return l
}

// Entry is what the guard needs to know about an existing item.
type Entry struct {
	ID    string
	Title string
	Chars int
}

// Input is the write being checked. UpdatingID names the stored item being
// replaced; it is excluded from the uniqueness check and its size is
// subtracted from the aggregate.
type Input struct {
	Title      string
	Content    string
	UpdatingID string
}

// Error is a validation failure.
type Error struct {
	Kind   error
	Title  string
	Limit  int
	Actual int
}

func (e *Error) Error() string {
	if e.Limit > 0 {
		return fmt.Sprintf("%v: %d exceeds limit %d", e.Kind, e.Actual, e.Limit)
	}
	if e.Title != "" {
		return fmt.Sprintf("%v: %q", e.Kind, e.Title)
	}
	return e.Kind.Error()
}

func (e *Error) Unwrap() error { return e.Kind }

// Validate checks in, in order: non-empty title, title length, item size,
// aggregate size, then case-insensitive title uniqueness. It returns the
// first failure as an *Error.
func Validate(in Input, existing []Entry, limits Limits) error {
	limits = limits.withDefaults()

	title := strings.TrimSpace(in.Title)
	if title == "" {
		return &Error{Kind: ErrEmptyTitle}
	}
	if n := utf8.RuneCountInString(title); n > limits.MaxTitleLength {
		return &Error{Kind: ErrTitleTooLong, Title: title, Limit: limits.MaxTitleLength, Actual: n}
	}

	size := utf8.RuneCountInString(in.Content)
	if size > limits.MaxItemChars {
		return &Error{Kind: ErrDocumentTooLarge, Title: title, Limit: limits.MaxItemChars, Actual: size}
	}

	total := size
	for _, e := range existing {
		if in.UpdatingID != "" && e.ID == in.UpdatingID {
			continue
		}
		total += e.Chars
	}
	if total > limits.MaxTotalChars {
		return &Error{Kind: ErrStoreFull, Title: title, Limit: limits.MaxTotalChars, Actual: total}
	}

	key := sanitize.TitleKey(title)
	for _, e := range existing {
		if in.UpdatingID != "" && e.ID == in.UpdatingID {
			continue
		}
		// Titles mapping to the same key would share storage.
		if strings.EqualFold(strings.TrimSpace(e.Title), title) || e.ID == key {
			return &Error{Kind: ErrDuplicateTitle, Title: e.Title}
		}
	}
	return nil
}

// Usage sums the recorded sizes.
func Usage(existing []Entry) int {
	total := 0
	for _, e := range existing {
		total += e.Chars
	}
	return total
}

// Message renders err for a user. noun names the item kind ("document",
// "initiative"). Errors that are not *Error get a generic message.
func Message(err error, noun string) string {
	var ge *Error
	if !errors.As(err, &ge) {
		return fmt.Sprintf("Could not save the %s. Please try again.", noun)
	}

	switch ge.Kind {
	case ErrEmptyTitle:
		return "A title is required."
	case ErrTitleTooLong:
		return fmt.Sprintf("Title is too long (%s characters, max %s).",
			humanize.Comma(int64(ge.Actual)), humanize.Comma(int64(ge.Limit)))
	case ErrDocumentTooLarge:
		return fmt.Sprintf("The %s is too large (%s characters, max %s).",
			noun, humanize.Comma(int64(ge.Actual)), humanize.Comma(int64(ge.Limit)))
	case ErrStoreFull:
		return fmt.Sprintf("The knowledge base is full: this would bring the total to %s characters (limit %s). Remove something first.",
			humanize.Comma(int64(ge.Actual)), humanize.Comma(int64(ge.Limit)))
	case ErrDuplicateTitle:
		return fmt.Sprintf("%s %s titled %q already exists.", article(noun), noun, ge.Title)
	default:
		return ge.Error()
	}
}

func article(noun string) string {
	if noun != "" && strings.ContainsRune("aeiou", rune(noun[0])) {
		return "An"
	}
	return "A"
}
