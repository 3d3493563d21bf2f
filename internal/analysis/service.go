// Package analysis runs the pipeline that turns an uploaded document into
// an analysis result: classify, extract, summarize, persist, index. The
// document status row is the single source of truth for run state; every
// transition goes through the store's conditional updates so concurrent
// triggers cannot start two runs.
package analysis

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"auditdesk/internal/audit"
	"auditdesk/internal/authz"
	"auditdesk/internal/util"
	"auditdesk/pkg/ai"
	"auditdesk/pkg/domain"
	"auditdesk/pkg/extract"
	"auditdesk/pkg/queue"
	"auditdesk/pkg/search"
	"auditdesk/pkg/storage"
	"auditdesk/pkg/store"
)

const (
	// DefaultProcessingTimeout bounds one pipeline run.
	DefaultProcessingTimeout = 5 * time.Minute

	extractLinkExpiry = time.Hour
	localPDFMaxBytes  = 50 << 20
)

// ReindexQueue enqueues background reindex jobs for documents whose index
// write failed.
type ReindexQueue interface {
	Enqueue(ctx context.Context, documentID, kind string) (queue.Job, error)
}

// Service orchestrates analysis runs.
type Service struct {
	store      store.Store
	blobs      storage.ObjectStore
	extractor  extract.Extractor
	summarizer *ai.Summarizer
	index      search.Index
	auth       *authz.Authorizer
	trail      audit.Trail
	reindex    ReindexQueue
	logger     *slog.Logger
	timeout    time.Duration
}

type Config struct {
	Store      store.Store
	Blobs      storage.ObjectStore
	Extractor  extract.Extractor
	Summarizer *ai.Summarizer
	Index      search.Index
	Authorizer *authz.Authorizer
	Trail      audit.Trail
	Reindex    ReindexQueue
	Logger     *slog.Logger
	Timeout    time.Duration
}

func NewService(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	trail := cfg.Trail
	if trail == nil {
		trail = audit.NewLogTrail(logger)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultProcessingTimeout
	}
	return &Service{
		store:      cfg.Store,
		blobs:      cfg.Blobs,
		extractor:  cfg.Extractor,
		summarizer: cfg.Summarizer,
		index:      cfg.Index,
		auth:       cfg.Authorizer,
		trail:      trail,
		reindex:    cfg.Reindex,
		logger:     logger,
		timeout:    timeout,
	}
}

// Analyze claims the document and runs the pipeline to completion. A second
// trigger while a run is live gets domain.ErrAlreadyInProgress. Re-analysis
// of an analyzed or failed document is allowed; the new result supersedes
// the old one.
func (s *Service) Analyze(ctx context.Context, user domain.User, documentID string) (domain.AnalysisResult, error) {
	doc, err := s.auth.RequireDocument(user, documentID)
	if err != nil {
		return domain.AnalysisResult{}, err
	}
	claimed, err := s.store.ClaimProcessing(doc.ID, domain.StatusUploaded, domain.StatusAnalyzed, domain.StatusError)
	if err != nil {
		return domain.AnalysisResult{}, fmt.Errorf("claim document: %w", err)
	}
	if !claimed {
		return domain.AnalysisResult{}, domain.ErrAlreadyInProgress
	}
	doc.Status = domain.StatusProcessing

	s.trail.Record(ctx, audit.Event{
		Action:     audit.ActionAnalysisStarted,
		ActorID:    user.ID,
		ProjectID:  doc.ProjectID,
		DocumentID: doc.ID,
	})

	return s.process(ctx, doc, user.ID)
}

// GetLatest returns the current (non superseded) analysis result.
func (s *Service) GetLatest(user domain.User, documentID string) (domain.AnalysisResult, error) {
	if _, err := s.auth.RequireDocument(user, documentID); err != nil {
		return domain.AnalysisResult{}, err
	}
	result, ok, err := s.store.GetLatestAnalysis(documentID)
	if err != nil {
		return domain.AnalysisResult{}, err
	}
	if !ok {
		return domain.AnalysisResult{}, domain.ErrNotFound
	}
	return result, nil
}

func (s *Service) process(ctx context.Context, doc domain.Document, actorID string) (domain.AnalysisResult, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	start := time.Now()

	fail := func(stage string, err error) error {
		s.logger.ErrorContext(ctx, "analysis failed",
			"documentId", doc.ID, "stage", stage, "error", err)
		if markErr := s.store.MarkError(doc.ID, stage, err.Error()); markErr != nil {
			s.logger.ErrorContext(ctx, "mark error failed", "documentId", doc.ID, "error", markErr)
		}
		s.trail.Record(ctx, audit.Event{
			Action:     audit.ActionAnalysisFailed,
			ActorID:    actorID,
			ProjectID:  doc.ProjectID,
			DocumentID: doc.ID,
			Detail:     stage,
		})
		return err
	}

	category := Classify(doc.OriginalFilename, doc.MimeType)

	extracted, err := s.extract(ctx, doc, category)
	if err != nil {
		return domain.AnalysisResult{}, fail(domain.StageExtraction, err)
	}

	summary, degraded, err := s.summarize(ctx, extracted, category)
	if err != nil {
		return domain.AnalysisResult{}, fail(domain.StageSummarization, err)
	}
	degraded = degraded || extracted.Degraded

	result := domain.AnalysisResult{
		ID:         util.NewID(),
		DocumentID: doc.ID,
		Category:   category,
		Extracted:  extracted,
		Summary:    summary.Summary,
		RedFlags:   summary.RedFlags,
		Highlights: summary.Highlights,
		Confidence: summary.Confidence,
		Degraded:   degraded,
		DurationMS: time.Since(start).Milliseconds(),
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.store.SaveAnalysisResult(result); err != nil {
		return domain.AnalysisResult{}, fail(domain.StageSummarization, fmt.Errorf("save result: %w", err))
	}

	indexDegraded := s.writeIndex(ctx, doc, result)
	if err := s.store.MarkAnalyzed(doc.ID, time.Now().UTC(), indexDegraded); err != nil {
		s.logger.ErrorContext(ctx, "mark analyzed failed", "documentId", doc.ID, "error", err)
		return domain.AnalysisResult{}, err
	}
	s.trail.Record(ctx, audit.Event{
		Action:     audit.ActionAnalysisFinished,
		ActorID:    actorID,
		ProjectID:  doc.ProjectID,
		DocumentID: doc.ID,
		Detail:     string(category),
	})
	return result, nil
}

// extract tries the remote extraction service first, then a local PDF text
// pass, then a minimal metadata-only projection. Only a hard remote failure
// aborts the run; an unavailable service degrades instead.
func (s *Service) extract(ctx context.Context, doc domain.Document, category domain.DocumentCategory) (domain.ExtractedData, error) {
	if s.extractor != nil && s.extractor.Available() {
		blobURL, err := s.blobs.PresignGet(ctx, doc.StorageKey, extractLinkExpiry)
		if err != nil {
			return domain.ExtractedData{}, fmt.Errorf("presign for extraction: %w", err)
		}
		extracted, err := s.extractor.Extract(ctx, blobURL, category)
		if err == nil {
			extracted.Category = category
			return extracted, nil
		}
		if !errors.Is(err, domain.ErrExtractionUnavailable) {
			return domain.ExtractedData{}, err
		}
		s.logger.WarnContext(ctx, "extraction service unavailable, degrading",
			"documentId", doc.ID)
	}

	if doc.MimeType == "application/pdf" {
		if text, pages, err := s.localPDFText(ctx, doc); err == nil {
			return domain.ExtractedData{
				Category:  category,
				Content:   text,
				Pages:     pages,
				KeyValues: map[string]string{},
				Degraded:  true,
			}, nil
		} else {
			s.logger.WarnContext(ctx, "local pdf extraction failed",
				"documentId", doc.ID, "error", err)
		}
	}

	return domain.ExtractedData{
		Category:  category,
		Content:   fmt.Sprintf("%s (%s)", doc.OriginalFilename, doc.MimeType),
		KeyValues: map[string]string{},
		Degraded:  true,
	}, nil
}

func (s *Service) localPDFText(ctx context.Context, doc domain.Document) (string, int, error) {
	rc, size, err := s.blobs.Get(ctx, doc.StorageKey)
	if err != nil {
		return "", 0, err
	}
	defer rc.Close()
	if size > localPDFMaxBytes {
		return "", 0, fmt.Errorf("pdf too large for local extraction: %d bytes", size)
	}
	data, err := io.ReadAll(rc)
	if err != nil {
		return "", 0, err
	}
	return extract.PDFText(bytes.NewReader(data), int64(len(data)))
}

func (s *Service) summarize(ctx context.Context, extracted domain.ExtractedData, category domain.DocumentCategory) (ai.Summary, bool, error) {
	if s.summarizer == nil || !s.summarizer.Available() {
		return ai.Summary{RedFlags: []string{}, Highlights: []string{}}, true, nil
	}
	summary, err := s.summarizer.Summarize(ctx, extracted, category)
	if err != nil {
		return ai.Summary{}, false, err
	}
	return summary, false, nil
}

// writeIndex projects the result into the search index. Index trouble never
// fails the run: the document completes with the degraded flag set and a
// reindex job is queued.
func (s *Service) writeIndex(ctx context.Context, doc domain.Document, result domain.AnalysisResult) bool {
	entry := IndexEntry(doc, result)
	if s.index != nil && s.index.Available() {
		if err := s.index.Upsert(ctx, entry); err == nil {
			return false
		} else {
			s.logger.WarnContext(ctx, "index upsert failed",
				"documentId", doc.ID, "error", err)
		}
	}
	if s.reindex != nil {
		if _, err := s.reindex.Enqueue(ctx, doc.ID, queue.KindReindex); err != nil {
			s.logger.WarnContext(ctx, "reindex enqueue failed",
				"documentId", doc.ID, "error", err)
		}
	}
	return true
}

// IndexEntry builds the search projection for a document and its result.
func IndexEntry(doc domain.Document, result domain.AnalysisResult) search.Entry {
	var sb strings.Builder
	sb.WriteString(result.Extracted.Content)
	if result.Summary != "" {
		sb.WriteString("\n")
		sb.WriteString(result.Summary)
	}
	return search.Entry{
		ID:      doc.ID,
		Content: sb.String(),
		Metadata: map[string]string{
			"projectId":  doc.ProjectID,
			"documentId": doc.ID,
			"filename":   doc.OriginalFilename,
			"category":   string(result.Category),
		},
	}
}
