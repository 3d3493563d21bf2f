package analysis

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"auditdesk/internal/authz"
	"auditdesk/pkg/ai"
	"auditdesk/pkg/domain"
	"auditdesk/pkg/queue"
	"auditdesk/pkg/search"
	"auditdesk/pkg/storage"
	"auditdesk/pkg/store"
)

var analyst = domain.User{ID: "creator", Role: domain.RoleUser}

type stubGenerator struct {
	response string
	err      error
}

func (s *stubGenerator) GenerateText(_ context.Context, _, _ string) (string, error) {
	return s.response, s.err
}

type stubExtractor struct {
	available bool
	data      domain.ExtractedData
	err       error
}

func (s *stubExtractor) Available() bool { return s.available }

func (s *stubExtractor) Extract(_ context.Context, _ string, hint domain.DocumentCategory) (domain.ExtractedData, error) {
	if s.err != nil {
		return domain.ExtractedData{}, s.err
	}
	data := s.data
	data.Category = hint
	return data, nil
}

type captureQueue struct {
	mu   sync.Mutex
	jobs []string
}

func (c *captureQueue) Enqueue(_ context.Context, documentID, _ string) (queue.Job, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.jobs = append(c.jobs, documentID)
	return queue.Job{ID: "j1", DocumentID: documentID}, nil
}

type fixture struct {
	svc   *Service
	store *store.MemoryStore
	blobs *storage.MemoryStore
	index *search.MemoryIndex
	queue *captureQueue
	docID string
}

func newFixture(t *testing.T, mutate func(*Config)) *fixture {
	t.Helper()
	s := store.NewMemoryStore()
	blobs := storage.NewMemoryStore()
	index := search.NewMemoryIndex()
	q := &captureQueue{}
	ctx := context.Background()

	if err := s.SaveProject(domain.Project{ID: "p1", CreatorID: "creator"}); err != nil {
		t.Fatalf("save project: %v", err)
	}
	if err := blobs.Put(ctx, "docs/p1/d1/invoice.pdf", strings.NewReader("%PDF-raw"), 8, "application/pdf"); err != nil {
		t.Fatalf("put blob: %v", err)
	}
	if err := s.CreateDocument(domain.Document{
		ID: "d1", ProjectID: "p1", UploaderID: "creator",
		OriginalFilename: "invoice_42.pdf", MimeType: "application/pdf",
		StorageKey: "docs/p1/d1/invoice.pdf", SizeBytes: 8,
		Status: domain.StatusUploaded, CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("create document: %v", err)
	}

	cfg := Config{
		Store: s,
		Blobs: blobs,
		Extractor: &stubExtractor{
			available: true,
			data: domain.ExtractedData{
				Content:   "Invoice #42 total 1200 EUR due 2026-01-15",
				Pages:     1,
				KeyValues: map[string]string{"total": "1200"},
			},
		},
		Summarizer: ai.NewSummarizer(&stubGenerator{
			response: `{"summary":"Invoice 42 for 1200 EUR.","redFlags":["due date passed"],"highlights":["single vendor"],"confidenceScore":0.9}`,
		}, 0),
		Index:      index,
		Authorizer: authz.NewAuthorizer(s),
		Reindex:    q,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	svc := NewService(cfg)
	return &fixture{svc: svc, store: s, blobs: blobs, index: index, queue: q, docID: "d1"}
}

func TestAnalyzeSuccess(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	returned, err := f.svc.Analyze(ctx, analyst, f.docID)
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if returned.DocumentID != f.docID {
		t.Fatalf("returned result = %+v", returned)
	}

	doc, _, _ := f.store.GetDocument(f.docID)
	if doc.Status != domain.StatusAnalyzed {
		t.Fatalf("status = %q (stage %q: %s)", doc.Status, doc.ErrorStage, doc.ErrorMessage)
	}
	if doc.IndexDegraded {
		t.Fatalf("index should not be degraded")
	}
	if doc.AnalyzedAt == nil {
		t.Fatalf("analyzedAt not set")
	}

	result, err := f.svc.GetLatest(analyst, f.docID)
	if err != nil {
		t.Fatalf("GetLatest() error = %v", err)
	}
	if result.Category != domain.CategoryInvoice {
		t.Fatalf("category = %q", result.Category)
	}
	if result.Summary == "" || len(result.RedFlags) != 1 || result.Confidence != 0.9 {
		t.Fatalf("result = %+v", result)
	}
	if result.Degraded {
		t.Fatalf("result should not be degraded")
	}
	if !f.index.Has(f.docID) {
		t.Fatalf("document should be indexed")
	}
}

func TestAnalyzeConcurrentTriggerLosesClaim(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if ok, err := f.store.ClaimProcessing(f.docID, domain.StatusUploaded); err != nil || !ok {
		t.Fatalf("seed claim: ok=%v err=%v", ok, err)
	}
	if _, err := f.svc.Analyze(ctx, analyst, f.docID); !errors.Is(err, domain.ErrAlreadyInProgress) {
		t.Fatalf("err = %v, want ErrAlreadyInProgress", err)
	}
}

func TestAnalyzeExtractorUnavailableDegrades(t *testing.T) {
	f := newFixture(t, func(cfg *Config) {
		cfg.Extractor = &stubExtractor{available: true, err: domain.ErrExtractionUnavailable}
	})
	ctx := context.Background()

	if _, err := f.svc.Analyze(ctx, analyst, f.docID); err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	doc, _, _ := f.store.GetDocument(f.docID)
	if doc.Status != domain.StatusAnalyzed {
		t.Fatalf("degraded run should still complete, status = %q", doc.Status)
	}
	result, err := f.svc.GetLatest(analyst, f.docID)
	if err != nil {
		t.Fatalf("GetLatest() error = %v", err)
	}
	if !result.Degraded {
		t.Fatalf("result should be marked degraded")
	}
	// the blob is not a decodable pdf, so the fallback is metadata only
	if !strings.Contains(result.Extracted.Content, "invoice_42.pdf") {
		t.Fatalf("fallback content = %q", result.Extracted.Content)
	}
}

func TestAnalyzeExtractionFailureMarksError(t *testing.T) {
	f := newFixture(t, func(cfg *Config) {
		cfg.Extractor = &stubExtractor{available: true, err: domain.ErrExtractionFailed}
	})
	ctx := context.Background()

	if _, err := f.svc.Analyze(ctx, analyst, f.docID); !errors.Is(err, domain.ErrExtractionFailed) {
		t.Fatalf("err = %v, want ErrExtractionFailed", err)
	}
	doc, _, _ := f.store.GetDocument(f.docID)
	if doc.Status != domain.StatusError || doc.ErrorStage != domain.StageExtraction {
		t.Fatalf("doc = %+v", doc)
	}
	if _, err := f.svc.GetLatest(analyst, f.docID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("no result should exist, err = %v", err)
	}
}

func TestAnalyzeIndexDownCompletesDegraded(t *testing.T) {
	f := newFixture(t, nil)
	f.index.Down = true
	ctx := context.Background()

	if _, err := f.svc.Analyze(ctx, analyst, f.docID); err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	doc, _, _ := f.store.GetDocument(f.docID)
	if doc.Status != domain.StatusAnalyzed {
		t.Fatalf("status = %q", doc.Status)
	}
	if !doc.IndexDegraded {
		t.Fatalf("indexDegraded should be set")
	}
	if len(f.queue.jobs) != 1 || f.queue.jobs[0] != f.docID {
		t.Fatalf("reindex jobs = %v", f.queue.jobs)
	}
}

func TestReanalysisSupersedesPrior(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if _, err := f.svc.Analyze(ctx, analyst, f.docID); err != nil {
		t.Fatalf("first run: %v", err)
	}
	first, _ := f.svc.GetLatest(analyst, f.docID)

	if _, err := f.svc.Analyze(ctx, analyst, f.docID); err != nil {
		t.Fatalf("second run: %v", err)
	}
	second, err := f.svc.GetLatest(analyst, f.docID)
	if err != nil {
		t.Fatalf("GetLatest() error = %v", err)
	}
	if second.ID == first.ID {
		t.Fatalf("re-analysis should produce a new result")
	}
	if second.Superseded {
		t.Fatalf("latest result must not be superseded")
	}
}

func TestSweepReclaimsStuckDocument(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	if ok, _ := f.store.ClaimProcessing(f.docID, domain.StatusUploaded); !ok {
		t.Fatalf("claim failed")
	}

	sweeper := NewSweeper(f.store, nil, time.Minute, time.Nanosecond)
	time.Sleep(2 * time.Millisecond)
	if n := sweeper.SweepOnce(ctx); n != 1 {
		t.Fatalf("reclaimed = %d, want 1", n)
	}
	doc, _, _ := f.store.GetDocument(f.docID)
	if doc.Status != domain.StatusError || doc.ErrorStage != domain.StageTimeout {
		t.Fatalf("doc = %+v", doc)
	}

	// second pass finds nothing
	if n := sweeper.SweepOnce(ctx); n != 0 {
		t.Fatalf("second sweep reclaimed = %d, want 0", n)
	}
}

func TestReindexWorkerClearsDegradedFlag(t *testing.T) {
	f := newFixture(t, nil)
	f.index.Down = true
	ctx := context.Background()

	if _, err := f.svc.Analyze(ctx, analyst, f.docID); err != nil {
		t.Fatalf("analyze: %v", err)
	}
	doc, _, _ := f.store.GetDocument(f.docID)
	if !doc.IndexDegraded {
		t.Fatalf("precondition: indexDegraded should be set")
	}

	f.index.Down = false
	worker := NewReindexWorker(f.store, f.index, nil)
	if err := worker.Reindex(ctx, f.docID); err != nil {
		t.Fatalf("Reindex() error = %v", err)
	}
	doc, _, _ = f.store.GetDocument(f.docID)
	if doc.IndexDegraded {
		t.Fatalf("degraded flag should be cleared")
	}
	if !f.index.Has(f.docID) {
		t.Fatalf("entry should be indexed")
	}
}

func TestReindexWorkerDropsDeletedDocument(t *testing.T) {
	f := newFixture(t, nil)
	worker := NewReindexWorker(f.store, f.index, nil)
	if err := worker.Reindex(context.Background(), "ghost"); err != nil {
		t.Fatalf("deleted document should drop the job, got %v", err)
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		filename string
		mime     string
		want     domain.DocumentCategory
	}{
		{"invoice_42.pdf", "application/pdf", domain.CategoryInvoice},
		{"lunch-receipt.pdf", "application/pdf", domain.CategoryReceipt},
		{"bank_statement_jan.pdf", "application/pdf", domain.CategoryBankStatement},
		{"balance_sheet_2025.pdf", "application/pdf", domain.CategoryFinancialStatement},
		{"financial_statement.pdf", "application/pdf", domain.CategoryFinancialStatement},
		{"income_statement_q2.pdf", "application/pdf", domain.CategoryFinancialStatement},
		{"supplier-agreement.docx", "application/vnd.openxmlformats-officedocument.wordprocessingml.document", domain.CategoryContract},
		{"q3.xlsx", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", domain.CategoryBankStatement},
		{"notes.pdf", "application/pdf", domain.CategoryGeneric},
	}
	for _, tc := range cases {
		if got := Classify(tc.filename, tc.mime); got != tc.want {
			t.Fatalf("Classify(%q, %q) = %q, want %q", tc.filename, tc.mime, got, tc.want)
		}
	}
}
