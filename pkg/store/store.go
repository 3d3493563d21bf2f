package store

import (
	"time"

	"auditdesk/pkg/domain"
)

// Store defines persistence operations for projects, documents, analysis
// results, and chat turns.
type Store interface {
	// projects
	SaveProject(domain.Project) error
	GetProject(id string) (domain.Project, bool, error)
	AddProjectMember(projectID, userID string) error
	IsProjectMember(projectID, userID string) (bool, error)

	// documents
	CreateDocument(domain.Document) error
	GetDocument(id string) (domain.Document, bool, error)
	ListDocumentsByProject(projectID string) ([]domain.Document, error)
	ListDocuments() ([]domain.Document, error)
	ArchiveDocument(id string, at time.Time) error
	DeleteDocument(id string) error

	// status state machine. ClaimProcessing flips the document to
	// "processing" only when its current status is one of from, as a single
	// conditional update. It reports whether the claim won.
	ClaimProcessing(id string, from ...domain.DocumentStatus) (bool, error)
	MarkAnalyzed(id string, at time.Time, indexDegraded bool) error
	MarkError(id, stage, message string) error
	SetIndexDegraded(id string, degraded bool) error

	// stale-processing sweep. MarkTimedOut only fires when the document is
	// still processing and has not been touched since cutoff, so two
	// concurrent sweeps cannot both reclaim the same document.
	ListStaleProcessing(cutoff time.Time) ([]domain.Document, error)
	MarkTimedOut(id string, cutoff time.Time) (bool, error)

	// analysis results. SaveAnalysisResult supersedes prior results for the
	// same document in the same transaction; history rows are retained.
	SaveAnalysisResult(domain.AnalysisResult) error
	GetLatestAnalysis(documentID string) (domain.AnalysisResult, bool, error)
	ListAnalysesByProject(projectID string) ([]domain.AnalysisResult, error)

	// chat turns (append-only)
	AppendChatTurn(domain.ChatTurn) error
	ListChatTurns(projectID string, limit int) ([]domain.ChatTurn, error)
}
