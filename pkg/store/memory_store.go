package store

import (
	"sort"
	"sync"
	"time"

	"auditdesk/pkg/domain"
)

// MemoryStore keeps all state in-process. It mirrors the conditional-update
// semantics of GormStore so orchestrator tests exercise the same guard.
type MemoryStore struct {
	mu        sync.RWMutex
	projects  map[string]domain.Project
	members   map[string]map[string]bool // projectID -> userID set
	documents map[string]domain.Document
	docOrder  []string
	analyses  map[string][]domain.AnalysisResult // documentID -> history
	turns     map[string][]domain.ChatTurn       // projectID -> turns
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		projects:  make(map[string]domain.Project),
		members:   make(map[string]map[string]bool),
		documents: make(map[string]domain.Document),
		analyses:  make(map[string][]domain.AnalysisResult),
		turns:     make(map[string][]domain.ChatTurn),
	}
}

func (m *MemoryStore) SaveProject(p domain.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.projects[p.ID] = p
	return nil
}

func (m *MemoryStore) GetProject(id string) (domain.Project, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.projects[id]
	return p, ok, nil
}

func (m *MemoryStore) AddProjectMember(projectID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.members[projectID] == nil {
		m.members[projectID] = make(map[string]bool)
	}
	m.members[projectID][userID] = true
	return nil
}

func (m *MemoryStore) IsProjectMember(projectID, userID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.members[projectID][userID], nil
}

func (m *MemoryStore) CreateDocument(d domain.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.documents[d.ID]; !exists {
		m.docOrder = append(m.docOrder, d.ID)
	}
	m.documents[d.ID] = d
	return nil
}

func (m *MemoryStore) GetDocument(id string) (domain.Document, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.documents[id]
	return d, ok, nil
}

func (m *MemoryStore) ListDocumentsByProject(projectID string) ([]domain.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Document, 0, len(m.docOrder))
	for _, id := range m.docOrder {
		if d, ok := m.documents[id]; ok && d.ProjectID == projectID {
			res = append(res, d)
		}
	}
	return res, nil
}

func (m *MemoryStore) ListDocuments() ([]domain.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Document, 0, len(m.docOrder))
	for _, id := range m.docOrder {
		if d, ok := m.documents[id]; ok {
			res = append(res, d)
		}
	}
	return res, nil
}

func (m *MemoryStore) ArchiveDocument(id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.documents[id]
	if !ok {
		return nil
	}
	archived := at.UTC()
	d.ArchivedAt = &archived
	d.UpdatedAt = time.Now().UTC()
	m.documents[id] = d
	return nil
}

func (m *MemoryStore) DeleteDocument(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.documents, id)
	delete(m.analyses, id)
	return nil
}

func (m *MemoryStore) ClaimProcessing(id string, from ...domain.DocumentStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.documents[id]
	if !ok {
		return false, nil
	}
	allowed := false
	for _, st := range from {
		if d.Status == st {
			allowed = true
			break
		}
	}
	if !allowed {
		return false, nil
	}
	d.Status = domain.StatusProcessing
	d.ErrorStage = ""
	d.ErrorMessage = ""
	d.UpdatedAt = time.Now().UTC()
	m.documents[id] = d
	return true, nil
}

func (m *MemoryStore) MarkAnalyzed(id string, at time.Time, indexDegraded bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.documents[id]
	if !ok {
		return nil
	}
	analyzed := at.UTC()
	d.Status = domain.StatusAnalyzed
	d.AnalyzedAt = &analyzed
	d.IndexDegraded = indexDegraded
	d.ErrorStage = ""
	d.ErrorMessage = ""
	d.UpdatedAt = time.Now().UTC()
	m.documents[id] = d
	return nil
}

func (m *MemoryStore) MarkError(id, stage, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.documents[id]
	if !ok {
		return nil
	}
	d.Status = domain.StatusError
	d.ErrorStage = stage
	d.ErrorMessage = message
	d.UpdatedAt = time.Now().UTC()
	m.documents[id] = d
	return nil
}

func (m *MemoryStore) SetIndexDegraded(id string, degraded bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.documents[id]
	if !ok {
		return nil
	}
	d.IndexDegraded = degraded
	d.UpdatedAt = time.Now().UTC()
	m.documents[id] = d
	return nil
}

func (m *MemoryStore) ListStaleProcessing(cutoff time.Time) ([]domain.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var res []domain.Document
	for _, id := range m.docOrder {
		d, ok := m.documents[id]
		if ok && d.Status == domain.StatusProcessing && d.UpdatedAt.Before(cutoff) {
			res = append(res, d)
		}
	}
	return res, nil
}

func (m *MemoryStore) MarkTimedOut(id string, cutoff time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.documents[id]
	if !ok || d.Status != domain.StatusProcessing || !d.UpdatedAt.Before(cutoff) {
		return false, nil
	}
	d.Status = domain.StatusError
	d.ErrorStage = domain.StageTimeout
	d.ErrorMessage = "processing timed out"
	d.UpdatedAt = time.Now().UTC()
	m.documents[id] = d
	return true, nil
}

func (m *MemoryStore) SaveAnalysisResult(r domain.AnalysisResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	history := m.analyses[r.DocumentID]
	for i := range history {
		history[i].Superseded = true
	}
	m.analyses[r.DocumentID] = append(history, r)
	return nil
}

func (m *MemoryStore) GetLatestAnalysis(documentID string) (domain.AnalysisResult, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	history := m.analyses[documentID]
	for i := len(history) - 1; i >= 0; i-- {
		if !history[i].Superseded {
			return history[i], true, nil
		}
	}
	return domain.AnalysisResult{}, false, nil
}

func (m *MemoryStore) ListAnalysesByProject(projectID string) ([]domain.AnalysisResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var res []domain.AnalysisResult
	for docID, history := range m.analyses {
		d, ok := m.documents[docID]
		if !ok || d.ProjectID != projectID {
			continue
		}
		for i := len(history) - 1; i >= 0; i-- {
			if !history[i].Superseded {
				res = append(res, history[i])
				break
			}
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.Before(res[j].CreatedAt) })
	return res, nil
}

func (m *MemoryStore) AppendChatTurn(t domain.ChatTurn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns[t.ProjectID] = append(m.turns[t.ProjectID], t)
	return nil
}

func (m *MemoryStore) ListChatTurns(projectID string, limit int) ([]domain.ChatTurn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 {
		return []domain.ChatTurn{}, nil
	}
	turns := m.turns[projectID]
	if len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	out := make([]domain.ChatTurn, len(turns))
	copy(out, turns)
	return out, nil
}
