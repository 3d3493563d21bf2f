package analysis

import (
	"context"
	"fmt"
	"log/slog"

	"auditdesk/pkg/search"
	"auditdesk/pkg/store"
)

// ReindexWorker replays failed index writes from the reindex queue. A
// successful replay clears the document's degraded flag.
type ReindexWorker struct {
	store  store.Store
	index  search.Index
	logger *slog.Logger
}

func NewReindexWorker(s store.Store, index search.Index, logger *slog.Logger) *ReindexWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReindexWorker{store: s, index: index, logger: logger}
}

// Reindex rebuilds the index entry for one document from its stored result.
// A document deleted since the job was queued is treated as done.
func (w *ReindexWorker) Reindex(ctx context.Context, documentID string) error {
	doc, ok, err := w.store.GetDocument(documentID)
	if err != nil {
		return fmt.Errorf("load document: %w", err)
	}
	if !ok {
		w.logger.InfoContext(ctx, "reindex: document gone, dropping job",
			"documentId", documentID)
		return nil
	}
	result, ok, err := w.store.GetLatestAnalysis(documentID)
	if err != nil {
		return fmt.Errorf("load analysis: %w", err)
	}
	if !ok {
		w.logger.InfoContext(ctx, "reindex: no analysis result, dropping job",
			"documentId", documentID)
		return nil
	}
	if w.index == nil || !w.index.Available() {
		return fmt.Errorf("search index unavailable")
	}
	if err := w.index.Upsert(ctx, IndexEntry(doc, result)); err != nil {
		return fmt.Errorf("index upsert: %w", err)
	}
	if err := w.store.SetIndexDegraded(documentID, false); err != nil {
		return fmt.Errorf("clear degraded flag: %w", err)
	}
	return nil
}
