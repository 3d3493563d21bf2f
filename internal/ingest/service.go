// Package ingest owns the document upload path: validation, blob transfer,
// metadata registration, deletion, and download links. Blob writes happen
// before the metadata row so a failure can never leave a row pointing at a
// missing object.
package ingest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"time"

	"auditdesk/internal/audit"
	"auditdesk/internal/authz"
	"auditdesk/internal/util"
	"auditdesk/pkg/domain"
	"auditdesk/pkg/search"
	"auditdesk/pkg/storage"
	"auditdesk/pkg/store"
)

const (
	// DefaultMaxUploadBytes caps a single document at 50 MiB.
	DefaultMaxUploadBytes = 50 << 20
	// DefaultDirectPutThreshold is the size above which uploads switch from a
	// single put to the chunked transfer path.
	DefaultDirectPutThreshold = 5 << 20
	// DefaultChunkSize is the chunk size for the chunked transfer path.
	DefaultChunkSize = 1 << 20

	downloadLinkExpiry = 15 * time.Minute
)

// allowedMimeTypes is the upload allow-list. Anything else is rejected
// before any byte reaches storage.
var allowedMimeTypes = map[string]bool{
	"application/pdf":    true,
	"application/msword": true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
	"application/vnd.ms-excel": true,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": true,
	"text/csv": true,
}

// Limits tunes transfer sizing, mainly so tests can shrink the thresholds.
type Limits struct {
	MaxUploadBytes     int64
	DirectPutThreshold int64
	ChunkSize          int64
}

func (l Limits) withDefaults() Limits {
	if l.MaxUploadBytes <= 0 {
		l.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if l.DirectPutThreshold <= 0 {
		l.DirectPutThreshold = DefaultDirectPutThreshold
	}
	if l.ChunkSize <= 0 {
		l.ChunkSize = DefaultChunkSize
	}
	return l
}

// Service implements document ingestion.
type Service struct {
	store  store.Store
	blobs  storage.ObjectStore
	index  search.Index
	auth   *authz.Authorizer
	trail  audit.Trail
	logger *slog.Logger
	limits Limits
}

func NewService(s store.Store, blobs storage.ObjectStore, index search.Index, auth *authz.Authorizer, trail audit.Trail, logger *slog.Logger, limits Limits) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if trail == nil {
		trail = audit.NewLogTrail(logger)
	}
	return &Service{
		store:  s,
		blobs:  blobs,
		index:  index,
		auth:   auth,
		trail:  trail,
		logger: logger,
		limits: limits.withDefaults(),
	}
}

// Upload validates and stores one document and registers its metadata with
// status "uploaded". On any failure after the blob write the blob is removed
// again, so storage and metadata stay consistent.
func (s *Service) Upload(ctx context.Context, user domain.User, projectID, filename, mimeType string, size int64, r io.Reader) (domain.Document, error) {
	if _, err := s.auth.RequireProject(user, projectID); err != nil {
		return domain.Document{}, err
	}
	mimeType = normalizeMime(mimeType)
	if err := validateUpload(filename, mimeType, size, s.limits.MaxUploadBytes); err != nil {
		return domain.Document{}, err
	}

	docID := util.NewID()
	safeName := SanitizeFilename(filename)
	key := fmt.Sprintf("docs/%s/%s/%s", projectID, docID, safeName)

	if size <= s.limits.DirectPutThreshold {
		if err := s.blobs.Put(ctx, key, io.LimitReader(r, size), size, mimeType); err != nil {
			return domain.Document{}, fmt.Errorf("store document: %w", err)
		}
	} else {
		if err := s.chunkedPut(ctx, docID, key, mimeType, size, r); err != nil {
			return domain.Document{}, err
		}
	}

	now := time.Now().UTC()
	doc := domain.Document{
		ID:               docID,
		ProjectID:        projectID,
		UploaderID:       user.ID,
		OriginalFilename: filename,
		SizeBytes:        size,
		MimeType:         mimeType,
		StorageKey:       key,
		Status:           domain.StatusUploaded,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.store.CreateDocument(doc); err != nil {
		if delErr := s.blobs.Delete(ctx, key); delErr != nil {
			s.logger.WarnContext(ctx, "orphan blob cleanup failed", "key", key, "error", delErr)
		}
		return domain.Document{}, fmt.Errorf("register document: %w", err)
	}

	s.trail.Record(ctx, audit.Event{
		Action:     audit.ActionDocumentUploaded,
		ActorID:    user.ID,
		ProjectID:  projectID,
		DocumentID: docID,
		Detail:     filename,
	})
	return doc, nil
}

// List returns the project's documents, newest first.
func (s *Service) List(user domain.User, projectID string) ([]domain.Document, error) {
	if _, err := s.auth.RequireProject(user, projectID); err != nil {
		return nil, err
	}
	return s.store.ListDocumentsByProject(projectID)
}

// Get returns one document after the access check.
func (s *Service) Get(user domain.User, documentID string) (domain.Document, error) {
	return s.auth.RequireDocument(user, documentID)
}

// DownloadLink returns a short-lived presigned URL for the original file.
func (s *Service) DownloadLink(ctx context.Context, user domain.User, documentID string) (string, error) {
	doc, err := s.auth.RequireDocument(user, documentID)
	if err != nil {
		return "", err
	}
	url, err := s.blobs.PresignGet(ctx, doc.StorageKey, downloadLinkExpiry)
	if err != nil {
		return "", fmt.Errorf("presign download: %w", err)
	}
	return url, nil
}

// Delete removes the blob, the index entry, and the metadata row. Analysis
// history rows stay behind for the audit trail; without the document row
// they are no longer reachable through the API.
func (s *Service) Delete(ctx context.Context, user domain.User, documentID string) error {
	doc, err := s.auth.RequireDocument(user, documentID)
	if err != nil {
		return err
	}
	if doc.Status == domain.StatusProcessing {
		return domain.ErrAlreadyInProgress
	}
	if err := s.blobs.Delete(ctx, doc.StorageKey); err != nil {
		return fmt.Errorf("delete blob: %w", err)
	}
	if s.index != nil && s.index.Available() {
		if err := s.index.Delete(ctx, doc.ID); err != nil {
			s.logger.WarnContext(ctx, "index entry removal failed", "documentId", doc.ID, "error", err)
		}
	}
	if err := s.store.DeleteDocument(doc.ID); err != nil {
		return fmt.Errorf("delete document row: %w", err)
	}
	s.trail.Record(ctx, audit.Event{
		Action:     audit.ActionDocumentDeleted,
		ActorID:    user.ID,
		ProjectID:  doc.ProjectID,
		DocumentID: doc.ID,
		Detail:     doc.OriginalFilename,
	})
	return nil
}

func validateUpload(filename, mimeType string, size, maxBytes int64) error {
	if strings.TrimSpace(filename) == "" {
		return fmt.Errorf("%w: filename required", domain.ErrInvalidFile)
	}
	if size <= 0 {
		return fmt.Errorf("%w: empty file", domain.ErrInvalidFile)
	}
	if size > maxBytes {
		return fmt.Errorf("%w: file exceeds %d bytes", domain.ErrInvalidFile, maxBytes)
	}
	if !allowedMimeTypes[mimeType] {
		return fmt.Errorf("%w: unsupported type %q", domain.ErrInvalidFile, mimeType)
	}
	return nil
}

func normalizeMime(mimeType string) string {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	return mimeType
}

// SanitizeFilename strips path components and characters that are unsafe in
// object keys, keeping the extension intact.
func SanitizeFilename(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	var sb strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			sb.WriteRune(r)
		case r == '.', r == '-', r == '_':
			sb.WriteRune(r)
		default:
			sb.WriteByte('_')
		}
	}
	out := strings.Trim(sb.String(), "._")
	if out == "" {
		return "document"
	}
	return out
}
