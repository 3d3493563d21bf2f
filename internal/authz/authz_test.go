package authz

import (
	"errors"
	"testing"

	"auditdesk/pkg/domain"
	"auditdesk/pkg/store"
)

func newFixture(t *testing.T) (*Authorizer, *store.MemoryStore) {
	t.Helper()
	s := store.NewMemoryStore()
	if err := s.SaveProject(domain.Project{ID: "p1", CreatorID: "creator", Name: "FY25 audit"}); err != nil {
		t.Fatalf("save project: %v", err)
	}
	if err := s.AddProjectMember("p1", "member"); err != nil {
		t.Fatalf("add member: %v", err)
	}
	return NewAuthorizer(s), s
}

func TestRequireProjectRoles(t *testing.T) {
	a, _ := newFixture(t)

	cases := []struct {
		name    string
		user    domain.User
		allowed bool
	}{
		{"creator", domain.User{ID: "creator", Role: domain.RoleUser}, true},
		{"member", domain.User{ID: "member", Role: domain.RoleUser}, true},
		{"admin", domain.User{ID: "somebody", Role: domain.RoleAdmin}, true},
		{"stranger", domain.User{ID: "stranger", Role: domain.RoleUser}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := a.RequireProject(tc.user, "p1")
			if tc.allowed && err != nil {
				t.Fatalf("expected access, got %v", err)
			}
			if !tc.allowed && !errors.Is(err, domain.ErrAccessDenied) {
				t.Fatalf("err = %v, want ErrAccessDenied", err)
			}
		})
	}
}

func TestRequireProjectMissing(t *testing.T) {
	a, _ := newFixture(t)
	_, err := a.RequireProject(domain.User{ID: "creator"}, "ghost")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestRequireDocumentUsesOwningProject(t *testing.T) {
	a, s := newFixture(t)
	if err := s.CreateDocument(domain.Document{
		ID: "d1", ProjectID: "p1", UploaderID: "creator",
		OriginalFilename: "ledger.pdf", StorageKey: "docs/p1/d1/ledger.pdf",
		Status: domain.StatusUploaded,
	}); err != nil {
		t.Fatalf("create document: %v", err)
	}

	doc, err := a.RequireDocument(domain.User{ID: "member", Role: domain.RoleUser}, "d1")
	if err != nil {
		t.Fatalf("member should access document, got %v", err)
	}
	if doc.ID != "d1" {
		t.Fatalf("doc = %+v", doc)
	}

	if _, err := a.RequireDocument(domain.User{ID: "stranger", Role: domain.RoleUser}, "d1"); !errors.Is(err, domain.ErrAccessDenied) {
		t.Fatalf("err = %v, want ErrAccessDenied", err)
	}

	if _, err := a.RequireDocument(domain.User{ID: "creator", Role: domain.RoleUser}, "ghost"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
