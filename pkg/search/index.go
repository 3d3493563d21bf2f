package search

import "context"

// Entry is the logical projection of a document into the search index:
// id equals the document id, content is extracted text plus AI summary,
// metadata carries project and document ids for filtering. Upsert by id is
// idempotent, so re-indexing overwrites the previous projection.
type Entry struct {
	ID       string            `json:"id"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata"`
}

// Hit is one search result.
type Hit struct {
	ID       string            `json:"id"`
	Content  string            `json:"content"`
	Metadata map[string]string `json:"metadata"`
	Score    float64           `json:"score"`
}

// Index is the external full-text/semantic search capability. The index is
// a derived, rebuildable artifact, never a source of truth: callers degrade
// gracefully when it is unavailable.
type Index interface {
	Available() bool
	Upsert(ctx context.Context, entry Entry) error
	Delete(ctx context.Context, id string) error
	Search(ctx context.Context, query string, filter map[string]string, topK int) ([]Hit, error)
}
