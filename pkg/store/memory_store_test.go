package store

import (
	"testing"
	"time"

	"auditdesk/pkg/domain"
)

func newTestDocument(id string, status domain.DocumentStatus) domain.Document {
	now := time.Now().UTC()
	return domain.Document{
		ID:               id,
		ProjectID:        "proj-1",
		UploaderID:       "user-1",
		OriginalFilename: "invoice_march.pdf",
		SizeBytes:        1024,
		MimeType:         "application/pdf",
		StorageKey:       "docs/proj-1/" + id + "/invoice_march.pdf",
		Status:           status,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

func TestClaimProcessingGuard(t *testing.T) {
	s := NewMemoryStore()
	if err := s.CreateDocument(newTestDocument("doc-1", domain.StatusUploaded)); err != nil {
		t.Fatalf("create document: %v", err)
	}

	ok, err := s.ClaimProcessing("doc-1", domain.StatusUploaded, domain.StatusAnalyzed, domain.StatusError)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if !ok {
		t.Fatalf("first claim should win")
	}

	ok, err = s.ClaimProcessing("doc-1", domain.StatusUploaded, domain.StatusAnalyzed, domain.StatusError)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if ok {
		t.Fatalf("second claim should lose while processing")
	}

	d, _, _ := s.GetDocument("doc-1")
	if d.Status != domain.StatusProcessing {
		t.Fatalf("status = %q, want processing", d.Status)
	}
}

func TestClaimProcessingUnknownDocument(t *testing.T) {
	s := NewMemoryStore()
	ok, err := s.ClaimProcessing("missing", domain.StatusUploaded)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if ok {
		t.Fatalf("claim on unknown document should not win")
	}
}

func TestMarkTimedOutExactlyOnce(t *testing.T) {
	s := NewMemoryStore()
	doc := newTestDocument("doc-1", domain.StatusProcessing)
	doc.UpdatedAt = time.Now().UTC().Add(-10 * time.Minute)
	if err := s.CreateDocument(doc); err != nil {
		t.Fatalf("create document: %v", err)
	}

	cutoff := time.Now().UTC().Add(-5 * time.Minute)
	stale, err := s.ListStaleProcessing(cutoff)
	if err != nil {
		t.Fatalf("list stale: %v", err)
	}
	if len(stale) != 1 {
		t.Fatalf("stale count = %d, want 1", len(stale))
	}

	ok, err := s.MarkTimedOut("doc-1", cutoff)
	if err != nil {
		t.Fatalf("mark timed out: %v", err)
	}
	if !ok {
		t.Fatalf("first reclamation should fire")
	}
	ok, _ = s.MarkTimedOut("doc-1", cutoff)
	if ok {
		t.Fatalf("second reclamation should be a no-op")
	}

	d, _, _ := s.GetDocument("doc-1")
	if d.Status != domain.StatusError || d.ErrorStage != domain.StageTimeout {
		t.Fatalf("document = %+v, want error/timeout", d)
	}
}

func TestSaveAnalysisResultSupersedesPrior(t *testing.T) {
	s := NewMemoryStore()
	if err := s.CreateDocument(newTestDocument("doc-1", domain.StatusAnalyzed)); err != nil {
		t.Fatalf("create document: %v", err)
	}
	first := domain.AnalysisResult{
		ID: "res-1", DocumentID: "doc-1", Confidence: 0.5,
		RedFlags: []string{}, Highlights: []string{},
		CreatedAt: time.Now().UTC().Add(-time.Minute),
	}
	second := domain.AnalysisResult{
		ID: "res-2", DocumentID: "doc-1", Confidence: 0.9,
		RedFlags: []string{"late payment"}, Highlights: []string{},
		CreatedAt: time.Now().UTC(),
	}
	if err := s.SaveAnalysisResult(first); err != nil {
		t.Fatalf("save first: %v", err)
	}
	if err := s.SaveAnalysisResult(second); err != nil {
		t.Fatalf("save second: %v", err)
	}

	latest, ok, err := s.GetLatestAnalysis("doc-1")
	if err != nil || !ok {
		t.Fatalf("latest analysis: ok=%v err=%v", ok, err)
	}
	if latest.ID != "res-2" {
		t.Fatalf("latest = %q, want res-2", latest.ID)
	}

	active, err := s.ListAnalysesByProject("proj-1")
	if err != nil {
		t.Fatalf("list analyses: %v", err)
	}
	if len(active) != 1 || active[0].ID != "res-2" {
		t.Fatalf("active analyses = %+v, want only res-2", active)
	}
}

func TestListChatTurnsWindow(t *testing.T) {
	s := NewMemoryStore()
	for i := 0; i < 5; i++ {
		turn := domain.ChatTurn{
			ID:        string(rune('a' + i)),
			ProjectID: "proj-1",
			AskerID:   "user-1",
			Question:  "q",
			Answer:    "a",
			Citations: []domain.Citation{},
			CreatedAt: time.Now().UTC(),
		}
		if err := s.AppendChatTurn(turn); err != nil {
			t.Fatalf("append turn: %v", err)
		}
	}
	turns, err := s.ListChatTurns("proj-1", 3)
	if err != nil {
		t.Fatalf("list turns: %v", err)
	}
	if len(turns) != 3 {
		t.Fatalf("turns = %d, want 3", len(turns))
	}
	if turns[2].ID != "e" {
		t.Fatalf("last turn = %q, want most recent", turns[2].ID)
	}
}
