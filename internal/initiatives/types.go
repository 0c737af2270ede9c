package initiatives

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	// IndexKey holds the initiative index.
	IndexKey = "initiatives:index"

	itemKeyPrefix = "initiatives:item:"
)

var (
	// ErrNotFound indicates no initiative with the given name.
	ErrNotFound = errors.New("initiative not found")

	// ErrInvalidStatus indicates a status outside the known values.
	ErrInvalidStatus = errors.New("invalid initiative status")
)

// ItemKey is the storage key of an initiative id.
func ItemKey(id string) string { return itemKeyPrefix + id }

// Status is an initiative's lifecycle state.
type Status string

const (
	StatusProposed  Status = "proposed"
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

var statuses = []Status{StatusProposed, StatusActive, StatusPaused, StatusCompleted, StatusCancelled}

// ParseStatus accepts a status name in any case.
func ParseStatus(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range statuses {
		if st == known {
			return st, nil
		}
	}
	return "", fmt.Errorf("%w: %q (want one of proposed, active, paused, completed, cancelled)", ErrInvalidStatus, s)
}

// StatusInfo records the current status and who set it.
type StatusInfo struct {
	Value     Status    `json:"value"`
	UpdatedAt time.Time `json:"updatedAt"`
	UpdatedBy string    `json:"updatedBy"`
}

// Initiative is the full stored record.
type Initiative struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	Description     string     `json:"description"`
	Owner           string     `json:"owner"`
	Status          StatusInfo `json:"status"`
	ExpectedMetrics []string   `json:"expectedMetrics"`
	PRDLink         string     `json:"prdLink,omitempty"`
	CreatedAt       time.Time  `json:"createdAt"`
}

// Entry is the index record of an initiative. It carries no description;
// description matches require loading the item.
type Entry struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Owner     string    `json:"owner"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// Draft is the caller-supplied part of a new initiative.
type Draft struct {
	Name            string   `json:"name"`
	Description     string   `json:"description"`
	Owner           string   `json:"owner"`
	ExpectedMetrics []string `json:"expectedMetrics"`
	PRDLink         string   `json:"prdLink,omitempty"`
	Status          string   `json:"status,omitempty"`
}

// SearchResult is one lexical search hit.
type SearchResult struct {
	Name    string `json:"name"`
	Owner   string `json:"owner"`
	Status  Status `json:"status"`
	Snippet string `json:"snippet"`
	Score   int    `json:"score"`
}

// Result is the user-facing outcome of a mutation.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (i Initiative) entry() Entry {
	return Entry{ID: i.ID, Name: i.Name, Owner: i.Owner, Status: i.Status.Value, CreatedAt: i.CreatedAt}
}
