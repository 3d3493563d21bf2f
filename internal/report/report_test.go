package report

import (
	"errors"
	"math"
	"testing"
	"time"

	"auditdesk/internal/authz"
	"auditdesk/pkg/domain"
	"auditdesk/pkg/store"
)

func TestBuild(t *testing.T) {
	s := store.NewMemoryStore()
	if err := s.SaveProject(domain.Project{ID: "p1", CreatorID: "creator"}); err != nil {
		t.Fatalf("save project: %v", err)
	}
	now := time.Now().UTC()
	docs := []domain.Document{
		{ID: "d1", ProjectID: "p1", OriginalFilename: "invoice.pdf", StorageKey: "k1", Status: domain.StatusAnalyzed},
		{ID: "d2", ProjectID: "p1", OriginalFilename: "bank.pdf", StorageKey: "k2", Status: domain.StatusAnalyzed},
		{ID: "d3", ProjectID: "p1", OriginalFilename: "new.pdf", StorageKey: "k3", Status: domain.StatusUploaded},
	}
	for _, d := range docs {
		if err := s.CreateDocument(d); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	if err := s.SaveAnalysisResult(domain.AnalysisResult{
		ID: "a1", DocumentID: "d1", Category: domain.CategoryInvoice,
		RedFlags: []string{"overdue"}, Highlights: []string{"single vendor"},
		Confidence: 0.8, CreatedAt: now,
	}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.SaveAnalysisResult(domain.AnalysisResult{
		ID: "a2", DocumentID: "d2", Category: domain.CategoryBankStatement,
		RedFlags: []string{"round-sum transfer"}, Confidence: 0.6, CreatedAt: now,
	}); err != nil {
		t.Fatalf("save: %v", err)
	}

	svc := NewService(s, authz.NewAuthorizer(s))
	rep, err := svc.Build(domain.User{ID: "creator", Role: domain.RoleUser}, "p1")
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if rep.DocumentCount != 3 {
		t.Fatalf("documentCount = %d", rep.DocumentCount)
	}
	if rep.StatusCounts[domain.StatusAnalyzed] != 2 || rep.StatusCounts[domain.StatusUploaded] != 1 {
		t.Fatalf("statusCounts = %v", rep.StatusCounts)
	}
	if len(rep.RedFlags) != 2 {
		t.Fatalf("redFlags = %+v", rep.RedFlags)
	}
	if len(rep.Highlights) != 1 || rep.Highlights[0].Filename != "invoice.pdf" {
		t.Fatalf("highlights = %+v", rep.Highlights)
	}
	if math.Abs(rep.MeanConfidence-0.7) > 1e-9 {
		t.Fatalf("meanConfidence = %v", rep.MeanConfidence)
	}
	if rep.CategoryCounts[domain.CategoryInvoice] != 1 {
		t.Fatalf("categoryCounts = %v", rep.CategoryCounts)
	}
}

func TestBuildDeniedForStranger(t *testing.T) {
	s := store.NewMemoryStore()
	_ = s.SaveProject(domain.Project{ID: "p1", CreatorID: "creator"})
	svc := NewService(s, authz.NewAuthorizer(s))

	_, err := svc.Build(domain.User{ID: "stranger", Role: domain.RoleUser}, "p1")
	if !errors.Is(err, domain.ErrAccessDenied) {
		t.Fatalf("err = %v, want ErrAccessDenied", err)
	}
}

func TestBuildDegradedExcludedFromConfidence(t *testing.T) {
	s := store.NewMemoryStore()
	_ = s.SaveProject(domain.Project{ID: "p1", CreatorID: "creator"})
	_ = s.CreateDocument(domain.Document{ID: "d1", ProjectID: "p1", StorageKey: "k1", Status: domain.StatusAnalyzed})
	_ = s.SaveAnalysisResult(domain.AnalysisResult{
		ID: "a1", DocumentID: "d1", Category: domain.CategoryGeneric,
		Degraded: true, Confidence: 0, CreatedAt: time.Now().UTC(),
	})

	svc := NewService(s, authz.NewAuthorizer(s))
	rep, err := svc.Build(domain.User{ID: "creator", Role: domain.RoleUser}, "p1")
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if rep.DegradedCount != 1 || rep.MeanConfidence != 0 {
		t.Fatalf("report = %+v", rep)
	}
}
