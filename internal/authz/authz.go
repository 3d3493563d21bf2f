// Package authz decides whether a caller may touch a project and the
// documents under it. Admins see everything; everyone else must be the
// project creator or an assigned member.
package authz

import (
	"fmt"

	"auditdesk/pkg/domain"
	"auditdesk/pkg/store"
)

type Authorizer struct {
	store store.Store
}

func NewAuthorizer(s store.Store) *Authorizer {
	return &Authorizer{store: s}
}

// RequireProject returns the project when the user may access it and
// domain.ErrAccessDenied otherwise. A missing project surfaces as
// domain.ErrNotFound so handlers do not leak project existence.
func (a *Authorizer) RequireProject(user domain.User, projectID string) (domain.Project, error) {
	project, ok, err := a.store.GetProject(projectID)
	if err != nil {
		return domain.Project{}, err
	}
	if !ok {
		return domain.Project{}, domain.ErrNotFound
	}
	if user.Role == domain.RoleAdmin || project.CreatorID == user.ID {
		return project, nil
	}
	member, err := a.store.IsProjectMember(projectID, user.ID)
	if err != nil {
		return domain.Project{}, fmt.Errorf("check membership: %w", err)
	}
	if !member {
		return domain.Project{}, domain.ErrAccessDenied
	}
	return project, nil
}

// RequireDocument resolves the document and checks project access in one
// step. Access checks run against the document's project, never against ids
// supplied by the caller.
func (a *Authorizer) RequireDocument(user domain.User, documentID string) (domain.Document, error) {
	doc, ok, err := a.store.GetDocument(documentID)
	if err != nil {
		return domain.Document{}, err
	}
	if !ok {
		return domain.Document{}, domain.ErrNotFound
	}
	if _, err := a.RequireProject(user, doc.ProjectID); err != nil {
		return domain.Document{}, err
	}
	return doc, nil
}
