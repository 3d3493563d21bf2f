// Package report folds a project's documents and analysis results into one
// aggregate view for the project overview page.
package report

import (
	"sort"
	"time"

	"auditdesk/internal/authz"
	"auditdesk/pkg/domain"
	"auditdesk/pkg/store"
)

// Report is the aggregate over one project.
type Report struct {
	ProjectID      string                        `json:"projectId"`
	GeneratedAt    time.Time                     `json:"generatedAt"`
	DocumentCount  int                           `json:"documentCount"`
	StatusCounts   map[domain.DocumentStatus]int `json:"statusCounts"`
	CategoryCounts map[domain.DocumentCategory]int `json:"categoryCounts"`
	RedFlags       []Flag                        `json:"redFlags"`
	Highlights     []Flag                        `json:"highlights"`
	MeanConfidence float64                       `json:"meanConfidence"`
	DegradedCount  int                           `json:"degradedCount"`
}

// Flag ties a finding back to the document it came from.
type Flag struct {
	DocumentID string `json:"documentId"`
	Filename   string `json:"filename"`
	Text       string `json:"text"`
}

type Service struct {
	store store.Store
	auth  *authz.Authorizer
}

func NewService(s store.Store, auth *authz.Authorizer) *Service {
	return &Service{store: s, auth: auth}
}

// Build assembles the report from current documents and their latest
// analysis results.
func (s *Service) Build(user domain.User, projectID string) (Report, error) {
	if _, err := s.auth.RequireProject(user, projectID); err != nil {
		return Report{}, err
	}
	docs, err := s.store.ListDocumentsByProject(projectID)
	if err != nil {
		return Report{}, err
	}
	analyses, err := s.store.ListAnalysesByProject(projectID)
	if err != nil {
		return Report{}, err
	}

	rep := Report{
		ProjectID:      projectID,
		GeneratedAt:    time.Now().UTC(),
		DocumentCount:  len(docs),
		StatusCounts:   map[domain.DocumentStatus]int{},
		CategoryCounts: map[domain.DocumentCategory]int{},
		RedFlags:       []Flag{},
		Highlights:     []Flag{},
	}
	byID := make(map[string]domain.Document, len(docs))
	for _, d := range docs {
		rep.StatusCounts[d.Status]++
		byID[d.ID] = d
	}

	var confidenceSum float64
	var scored int
	for _, a := range analyses {
		doc, ok := byID[a.DocumentID]
		if !ok {
			continue
		}
		rep.CategoryCounts[a.Category]++
		if a.Degraded {
			rep.DegradedCount++
		} else {
			confidenceSum += a.Confidence
			scored++
		}
		for _, flag := range a.RedFlags {
			rep.RedFlags = append(rep.RedFlags, Flag{
				DocumentID: a.DocumentID,
				Filename:   doc.OriginalFilename,
				Text:       flag,
			})
		}
		for _, h := range a.Highlights {
			rep.Highlights = append(rep.Highlights, Flag{
				DocumentID: a.DocumentID,
				Filename:   doc.OriginalFilename,
				Text:       h,
			})
		}
	}
	if scored > 0 {
		rep.MeanConfidence = confidenceSum / float64(scored)
	}
	sort.Slice(rep.RedFlags, func(i, j int) bool {
		return rep.RedFlags[i].DocumentID < rep.RedFlags[j].DocumentID
	})
	sort.Slice(rep.Highlights, func(i, j int) bool {
		return rep.Highlights[i].DocumentID < rep.Highlights[j].DocumentID
	})
	return rep, nil
}
