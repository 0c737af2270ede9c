package http

import (
	"github.com/fyrsmithlabs/knowledged/internal/backfill"
	"github.com/fyrsmithlabs/knowledged/internal/knowledge"
	"github.com/fyrsmithlabs/knowledged/internal/retrieval"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}

// AddDocumentRequest is the request body for POST /api/v1/documents.
type AddDocumentRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// UpdateDocumentRequest is the request body for PUT /api/v1/documents/:title.
type UpdateDocumentRequest struct {
	Content string `json:"content"`
}

// RenameDocumentRequest is the request body for
// POST /api/v1/documents/:title/rename.
type RenameDocumentRequest struct {
	NewTitle string `json:"new_title"`
}

// ListDocumentsResponse is the response body for GET /api/v1/documents.
type ListDocumentsResponse struct {
	knowledge.Page
	Text string `json:"text"`
}

// SearchResponse is the response body for GET /api/v1/search.
type SearchResponse struct {
	retrieval.Results
	Context string `json:"context"`
}

// SetStatusRequest is the request body for
// PUT /api/v1/initiatives/:name/status.
type SetStatusRequest struct {
	Status string `json:"status"`
}

// BackfillResponse is the response body for POST /api/v1/backfill.
type BackfillResponse struct {
	backfill.Result
	Ran bool `json:"ran"`
}
