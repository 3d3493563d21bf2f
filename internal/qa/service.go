// Package qa answers questions about a project's documents. Context for the
// model is assembled from stored analysis summaries plus ranked snippets
// from the search index; the index being down only shrinks the context, it
// never fails the question.
package qa

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"auditdesk/internal/audit"
	"auditdesk/internal/authz"
	"auditdesk/internal/util"
	"auditdesk/pkg/ai"
	"auditdesk/pkg/domain"
	"auditdesk/pkg/search"
	"auditdesk/pkg/store"
)

const (
	topK             = 5
	snippetMaxChars  = 500
	historyWindow    = 6
	questionMaxChars = 2000
)

// Service coordinates question answering.
type Service struct {
	store      store.Store
	index      search.Index
	summarizer *ai.Summarizer
	auth       *authz.Authorizer
	trail      audit.Trail
	logger     *slog.Logger
}

func NewService(s store.Store, index search.Index, summarizer *ai.Summarizer, auth *authz.Authorizer, trail audit.Trail, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if trail == nil {
		trail = audit.NewLogTrail(logger)
	}
	return &Service{
		store:      s,
		index:      index,
		summarizer: summarizer,
		auth:       auth,
		trail:      trail,
		logger:     logger,
	}
}

// Ask answers one question against the project's analyzed documents and
// appends the exchange to the project's chat history.
func (s *Service) Ask(ctx context.Context, user domain.User, projectID, question string) (domain.ChatTurn, error) {
	if _, err := s.auth.RequireProject(user, projectID); err != nil {
		return domain.ChatTurn{}, err
	}
	question = strings.TrimSpace(question)
	if question == "" {
		return domain.ChatTurn{}, fmt.Errorf("%w: empty", domain.ErrInvalidQuestion)
	}
	if len([]rune(question)) > questionMaxChars {
		return domain.ChatTurn{}, fmt.Errorf("%w: exceeds %d characters", domain.ErrInvalidQuestion, questionMaxChars)
	}
	if s.summarizer == nil || !s.summarizer.Available() {
		return domain.ChatTurn{}, fmt.Errorf("%w: no model configured", domain.ErrSummarizationFailed)
	}

	docs, err := s.store.ListDocumentsByProject(projectID)
	if err != nil {
		return domain.ChatTurn{}, fmt.Errorf("list documents: %w", err)
	}
	byID := make(map[string]domain.Document, len(docs))
	for _, d := range docs {
		byID[d.ID] = d
	}

	analyses, err := s.store.ListAnalysesByProject(projectID)
	if err != nil {
		return domain.ChatTurn{}, fmt.Errorf("list analyses: %w", err)
	}

	hits := s.searchHits(ctx, projectID, question)

	contextBlocks := buildContext(analyses, hits, byID)
	citations := buildCitations(hits, byID)

	history, err := s.store.ListChatTurns(projectID, historyWindow)
	if err != nil {
		return domain.ChatTurn{}, fmt.Errorf("load history: %w", err)
	}

	answer, err := s.summarizer.Answer(ctx, question, contextBlocks, history)
	if err != nil {
		return domain.ChatTurn{}, err
	}

	turn := domain.ChatTurn{
		ID:        util.NewID(),
		ProjectID: projectID,
		AskerID:   user.ID,
		Question:  question,
		Answer:    answer,
		Citations: citations,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.AppendChatTurn(turn); err != nil {
		return domain.ChatTurn{}, fmt.Errorf("append chat turn: %w", err)
	}
	s.trail.Record(ctx, audit.Event{
		Action:    audit.ActionQuestionAsked,
		ActorID:   user.ID,
		ProjectID: projectID,
	})
	return turn, nil
}

// History returns the project's recent chat turns, oldest first.
func (s *Service) History(user domain.User, projectID string, limit int) ([]domain.ChatTurn, error) {
	if _, err := s.auth.RequireProject(user, projectID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListChatTurns(projectID, limit)
}

func (s *Service) searchHits(ctx context.Context, projectID, question string) []search.Hit {
	if s.index == nil || !s.index.Available() {
		return nil
	}
	hits, err := s.index.Search(ctx, question, map[string]string{"projectId": projectID}, topK)
	if err != nil {
		s.logger.WarnContext(ctx, "search failed, answering from summaries only",
			"projectId", projectID, "error", err)
		return nil
	}
	return hits
}

// buildContext puts analysis summaries first so the model always sees the
// project-wide picture, then appends ranked snippets.
func buildContext(analyses []domain.AnalysisResult, hits []search.Hit, docs map[string]domain.Document) []string {
	var blocks []string
	for _, a := range analyses {
		if a.Summary == "" {
			continue
		}
		name := a.DocumentID
		if d, ok := docs[a.DocumentID]; ok {
			name = d.OriginalFilename
		}
		blocks = append(blocks, fmt.Sprintf("%s: %s", name, a.Summary))
	}
	for _, h := range hits {
		if _, ok := docs[h.Metadata["documentId"]]; !ok {
			continue
		}
		blocks = append(blocks, ai.TruncateText(h.Content, snippetMaxChars))
	}
	return blocks
}

// buildCitations keeps only hits that resolve to a document in this
// project. The index can momentarily hold entries for deleted documents;
// those must never surface as citations.
func buildCitations(hits []search.Hit, docs map[string]domain.Document) []domain.Citation {
	citations := make([]domain.Citation, 0, len(hits))
	for _, h := range hits {
		docID := h.Metadata["documentId"]
		if docID == "" {
			docID = h.ID
		}
		if _, ok := docs[docID]; !ok {
			continue
		}
		citations = append(citations, domain.Citation{
			DocumentID: docID,
			Snippet:    ai.TruncateText(h.Content, snippetMaxChars),
			Score:      h.Score,
		})
	}
	return citations
}
