package qa

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"auditdesk/internal/authz"
	"auditdesk/pkg/ai"
	"auditdesk/pkg/domain"
	"auditdesk/pkg/search"
	"auditdesk/pkg/store"
)

var asker = domain.User{ID: "creator", Role: domain.RoleUser}

type stubGenerator struct {
	lastUserPrompt string
	response       string
	err            error
}

func (s *stubGenerator) GenerateText(_ context.Context, _, userPrompt string) (string, error) {
	s.lastUserPrompt = userPrompt
	return s.response, s.err
}

func newFixture(t *testing.T) (*Service, *store.MemoryStore, *search.MemoryIndex, *stubGenerator) {
	t.Helper()
	s := store.NewMemoryStore()
	index := search.NewMemoryIndex()
	gen := &stubGenerator{response: "The invoice from Acme is overdue."}
	ctx := context.Background()

	if err := s.SaveProject(domain.Project{ID: "p1", CreatorID: "creator"}); err != nil {
		t.Fatalf("save project: %v", err)
	}
	if err := s.CreateDocument(domain.Document{
		ID: "d1", ProjectID: "p1", OriginalFilename: "invoice.pdf",
		StorageKey: "docs/p1/d1/invoice.pdf", Status: domain.StatusAnalyzed,
	}); err != nil {
		t.Fatalf("create document: %v", err)
	}
	if err := s.SaveAnalysisResult(domain.AnalysisResult{
		ID: "a1", DocumentID: "d1", Category: domain.CategoryInvoice,
		Summary: "Acme invoice for 1200 EUR, overdue.", RedFlags: []string{"overdue"},
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("save analysis: %v", err)
	}
	if err := index.Upsert(ctx, search.Entry{
		ID: "d1", Content: "Invoice #42 Acme total 1200 EUR overdue",
		Metadata: map[string]string{"projectId": "p1", "documentId": "d1"},
	}); err != nil {
		t.Fatalf("seed index: %v", err)
	}

	svc := NewService(s, index, ai.NewSummarizer(gen, 0), authz.NewAuthorizer(s), nil, nil)
	return svc, s, index, gen
}

func TestAskReturnsAnswerWithCitations(t *testing.T) {
	svc, s, _, gen := newFixture(t)
	ctx := context.Background()

	turn, err := svc.Ask(ctx, asker, "p1", "Is the Acme invoice overdue?")
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if turn.Answer != "The invoice from Acme is overdue." {
		t.Fatalf("answer = %q", turn.Answer)
	}
	if len(turn.Citations) != 1 || turn.Citations[0].DocumentID != "d1" {
		t.Fatalf("citations = %+v", turn.Citations)
	}
	if !strings.Contains(gen.lastUserPrompt, "Acme invoice for 1200 EUR") {
		t.Fatalf("analysis summary missing from prompt: %q", gen.lastUserPrompt)
	}

	history, err := s.ListChatTurns("p1", 10)
	if err != nil || len(history) != 1 {
		t.Fatalf("history = %v err = %v", history, err)
	}
}

func TestAskCitationsRestrictedToProject(t *testing.T) {
	svc, _, index, _ := newFixture(t)
	ctx := context.Background()

	// stale entry for a document that no longer exists
	if err := index.Upsert(ctx, search.Entry{
		ID: "deleted", Content: "Acme invoice overdue ghost",
		Metadata: map[string]string{"projectId": "p1", "documentId": "deleted"},
	}); err != nil {
		t.Fatalf("seed index: %v", err)
	}

	turn, err := svc.Ask(ctx, asker, "p1", "overdue invoice Acme?")
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	for _, c := range turn.Citations {
		if c.DocumentID != "d1" {
			t.Fatalf("citation leaked foreign document: %+v", c)
		}
	}
}

func TestAskIndexDownStillAnswers(t *testing.T) {
	svc, _, index, gen := newFixture(t)
	index.Down = true

	turn, err := svc.Ask(context.Background(), asker, "p1", "What is overdue?")
	if err != nil {
		t.Fatalf("Ask() should degrade, got %v", err)
	}
	if len(turn.Citations) != 0 {
		t.Fatalf("citations without search hits = %+v", turn.Citations)
	}
	if !strings.Contains(gen.lastUserPrompt, "Acme invoice for 1200 EUR") {
		t.Fatalf("summaries should still reach the prompt")
	}
}

func TestAskValidation(t *testing.T) {
	svc, _, _, _ := newFixture(t)
	ctx := context.Background()

	if _, err := svc.Ask(ctx, asker, "p1", "   "); !errors.Is(err, domain.ErrInvalidQuestion) {
		t.Fatalf("err = %v, want ErrInvalidQuestion", err)
	}
	long := strings.Repeat("why ", 600)
	if _, err := svc.Ask(ctx, asker, "p1", long); !errors.Is(err, domain.ErrInvalidQuestion) {
		t.Fatalf("err = %v, want ErrInvalidQuestion", err)
	}
	stranger := domain.User{ID: "stranger", Role: domain.RoleUser}
	if _, err := svc.Ask(ctx, stranger, "p1", "anything?"); !errors.Is(err, domain.ErrAccessDenied) {
		t.Fatalf("err = %v, want ErrAccessDenied", err)
	}
}

func TestAskWithoutModel(t *testing.T) {
	s := store.NewMemoryStore()
	_ = s.SaveProject(domain.Project{ID: "p1", CreatorID: "creator"})
	svc := NewService(s, search.NewMemoryIndex(), ai.NewSummarizer(nil, 0), authz.NewAuthorizer(s), nil, nil)

	_, err := svc.Ask(context.Background(), asker, "p1", "anything?")
	if !errors.Is(err, domain.ErrSummarizationFailed) {
		t.Fatalf("err = %v, want ErrSummarizationFailed", err)
	}
}

func TestSuggest(t *testing.T) {
	svc, s, _, _ := newFixture(t)

	questions, err := svc.Suggest(asker, "p1")
	if err != nil {
		t.Fatalf("Suggest() error = %v", err)
	}
	if len(questions) == 0 || len(questions) > maxSuggestions {
		t.Fatalf("questions = %v", questions)
	}
	found := false
	for _, q := range questions {
		if strings.Contains(q, "red flags") {
			found = true
		}
	}
	if !found {
		t.Fatalf("red-flag suggestion missing from %v", questions)
	}

	// empty project gets no suggestions
	_ = s.SaveProject(domain.Project{ID: "p2", CreatorID: "creator"})
	questions, err = svc.Suggest(asker, "p2")
	if err != nil {
		t.Fatalf("Suggest() error = %v", err)
	}
	if len(questions) != 0 {
		t.Fatalf("empty project suggestions = %v", questions)
	}
}
