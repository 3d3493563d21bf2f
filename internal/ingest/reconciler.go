package ingest

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"auditdesk/pkg/domain"
	"auditdesk/pkg/storage"
	"auditdesk/pkg/store"
)

// DefaultReconcileInterval is how often storage and metadata are compared.
const DefaultReconcileInterval = 10 * time.Minute

// DefaultReconcileGrace is how old an unaccounted object must be before it
// is treated as garbage. An upload writes its blob before its metadata row,
// and chunked uploads stage under tmp/ for the whole transfer, so anything
// younger than this may belong to a request still in flight.
const DefaultReconcileGrace = time.Hour

// Reconciler periodically compares object storage against document metadata.
// Blobs with no metadata row are deleted; rows whose blob is gone are moved
// to the error status so they stop looking downloadable.
type Reconciler struct {
	store    store.Store
	blobs    storage.ObjectStore
	logger   *slog.Logger
	interval time.Duration
	grace    time.Duration
}

func NewReconciler(s store.Store, blobs storage.ObjectStore, logger *slog.Logger, interval, grace time.Duration) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = DefaultReconcileInterval
	}
	if grace <= 0 {
		grace = DefaultReconcileGrace
	}
	return &Reconciler{store: s, blobs: blobs, logger: logger, interval: interval, grace: grace}
}

// Run loops until the context is canceled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.ReconcileOnce(ctx)
		}
	}
}

// ReconcileOnce does a single pass.
func (r *Reconciler) ReconcileOnce(ctx context.Context) {
	docs, err := r.store.ListDocuments()
	if err != nil {
		r.logger.WarnContext(ctx, "reconcile: list documents failed", "error", err)
		return
	}
	known := make(map[string]domain.Document, len(docs))
	for _, d := range docs {
		known[d.StorageKey] = d
	}

	objects, err := r.blobs.List(ctx, "docs/")
	if err != nil {
		r.logger.WarnContext(ctx, "reconcile: list blobs failed", "error", err)
		return
	}
	cutoff := time.Now().Add(-r.grace)
	present := make(map[string]bool, len(objects))
	for _, obj := range objects {
		present[obj.Key] = true
		if _, ok := known[obj.Key]; ok {
			continue
		}
		// An upload writes its blob before the row lands, so a rowless
		// blob inside the grace window may still get its row.
		if obj.LastModified.After(cutoff) {
			continue
		}
		if err := r.blobs.Delete(ctx, obj.Key); err != nil {
			r.logger.WarnContext(ctx, "reconcile: orphan blob removal failed", "key", obj.Key, "error", err)
			continue
		}
		r.logger.InfoContext(ctx, "reconcile: removed orphan blob", "key", obj.Key)
	}

	// Temp chunks from crashed uploads are orphans too, but a chunked
	// transfer stages here until reassembly finishes, so only chunks
	// past the grace window are garbage.
	tmpObjects, err := r.blobs.List(ctx, "tmp/")
	if err == nil {
		for _, obj := range tmpObjects {
			if obj.LastModified.After(cutoff) {
				continue
			}
			if err := r.blobs.Delete(ctx, obj.Key); err != nil {
				r.logger.WarnContext(ctx, "reconcile: temp chunk removal failed", "key", obj.Key, "error", err)
			}
		}
	}

	for key, doc := range known {
		if present[key] || strings.TrimSpace(key) == "" {
			continue
		}
		if doc.Status == domain.StatusError {
			continue
		}
		if err := r.store.MarkError(doc.ID, domain.StageReconcile, "storage object missing"); err != nil {
			r.logger.WarnContext(ctx, "reconcile: mark missing blob failed", "documentId", doc.ID, "error", err)
			continue
		}
		r.logger.WarnContext(ctx, "reconcile: document blob missing", "documentId", doc.ID, "key", key)
	}
}
