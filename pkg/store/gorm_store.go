package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"auditdesk/pkg/domain"
)

const migrateLockID int64 = 84318431

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations under an advisory lock
// so concurrent instances do not race on schema changes.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(
			&ProjectModel{},
			&ProjectMemberModel{},
			&DocumentModel{},
			&AnalysisResultModel{},
			&ChatTurnModel{},
		); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// SaveProject stores or updates a project.
func (s *GormStore) SaveProject(p domain.Project) error {
	model := projectToModel(p)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"creator_id", "name"}),
	}).Create(&model).Error
}

// GetProject retrieves a project.
func (s *GormStore) GetProject(id string) (domain.Project, bool, error) {
	var model ProjectModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Project{}, false, nil
		}
		return domain.Project{}, false, err
	}
	return projectFromModel(model), true, nil
}

// AddProjectMember records a project assignment. Idempotent.
func (s *GormStore) AddProjectMember(projectID, userID string) error {
	model := ProjectMemberModel{ProjectID: projectID, UserID: userID, CreatedAt: time.Now().UTC()}
	return s.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&model).Error
}

// IsProjectMember checks whether the user is assigned to the project.
func (s *GormStore) IsProjectMember(projectID, userID string) (bool, error) {
	var count int64
	if err := s.db.Model(&ProjectMemberModel{}).
		Where("project_id = ? AND user_id = ?", projectID, userID).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// CreateDocument inserts a new document row.
func (s *GormStore) CreateDocument(d domain.Document) error {
	model := documentToModel(d)
	return s.db.Create(&model).Error
}

// GetDocument retrieves a document.
func (s *GormStore) GetDocument(id string) (domain.Document, bool, error) {
	var model DocumentModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Document{}, false, nil
		}
		return domain.Document{}, false, err
	}
	return documentFromModel(model), true, nil
}

// ListDocumentsByProject returns a project's documents ordered by creation.
func (s *GormStore) ListDocumentsByProject(projectID string) ([]domain.Document, error) {
	return s.listDocuments("created_at ASC", "project_id = ?", projectID)
}

// ListDocuments returns all documents, used by the storage reconciler.
func (s *GormStore) ListDocuments() ([]domain.Document, error) {
	return s.listDocuments("created_at ASC")
}

func (s *GormStore) listDocuments(order string, conds ...any) ([]domain.Document, error) {
	var models []DocumentModel
	tx := s.db.Order(order)
	if len(conds) > 0 {
		tx = tx.Where(conds[0], conds[1:]...)
	}
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Document, 0, len(models))
	for _, m := range models {
		res = append(res, documentFromModel(m))
	}
	return res, nil
}

// ArchiveDocument soft-deletes a document.
func (s *GormStore) ArchiveDocument(id string, at time.Time) error {
	return s.db.Model(&DocumentModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"archived_at": at.UTC(),
			"updated_at":  time.Now().UTC(),
		}).Error
}

// DeleteDocument removes the document row and its analysis history.
func (s *GormStore) DeleteDocument(id string) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&AnalysisResultModel{}, "document_id = ?", id).Error; err != nil {
			return err
		}
		return tx.Delete(&DocumentModel{}, "id = ?", id).Error
	})
}

// ClaimProcessing conditionally flips the document into processing. The
// WHERE clause on the previous status makes the guard observably atomic:
// of two concurrent claims exactly one sees RowsAffected == 1.
func (s *GormStore) ClaimProcessing(id string, from ...domain.DocumentStatus) (bool, error) {
	statuses := make([]string, 0, len(from))
	for _, st := range from {
		statuses = append(statuses, string(st))
	}
	res := s.db.Model(&DocumentModel{}).
		Where("id = ? AND status IN ?", id, statuses).
		Updates(map[string]any{
			"status":        string(domain.StatusProcessing),
			"error_stage":   "",
			"error_message": "",
			"updated_at":    time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// MarkAnalyzed advances the document to analyzed.
func (s *GormStore) MarkAnalyzed(id string, at time.Time, indexDegraded bool) error {
	return s.db.Model(&DocumentModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":         string(domain.StatusAnalyzed),
			"analyzed_at":    at.UTC(),
			"index_degraded": indexDegraded,
			"error_stage":    "",
			"error_message":  "",
			"updated_at":     time.Now().UTC(),
		}).Error
}

// MarkError records a failed run with the stage that failed.
func (s *GormStore) MarkError(id, stage, message string) error {
	return s.db.Model(&DocumentModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":        string(domain.StatusError),
			"error_stage":   stage,
			"error_message": message,
			"updated_at":    time.Now().UTC(),
		}).Error
}

// SetIndexDegraded toggles the indexing-degraded flag.
func (s *GormStore) SetIndexDegraded(id string, degraded bool) error {
	return s.db.Model(&DocumentModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"index_degraded": degraded,
			"updated_at":     time.Now().UTC(),
		}).Error
}

// ListStaleProcessing returns documents stuck in processing since cutoff.
func (s *GormStore) ListStaleProcessing(cutoff time.Time) ([]domain.Document, error) {
	return s.listDocuments("updated_at ASC",
		"status = ? AND updated_at < ?", string(domain.StatusProcessing), cutoff.UTC())
}

// MarkTimedOut reclaims one stale processing document. The conditional
// update guarantees a document is reclaimed at most once even with
// overlapping sweeps.
func (s *GormStore) MarkTimedOut(id string, cutoff time.Time) (bool, error) {
	res := s.db.Model(&DocumentModel{}).
		Where("id = ? AND status = ? AND updated_at < ?",
			id, string(domain.StatusProcessing), cutoff.UTC()).
		Updates(map[string]any{
			"status":        string(domain.StatusError),
			"error_stage":   domain.StageTimeout,
			"error_message": "processing timed out",
			"updated_at":    time.Now().UTC(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// SaveAnalysisResult inserts a new result and supersedes prior results for
// the same document in one transaction.
func (s *GormStore) SaveAnalysisResult(r domain.AnalysisResult) error {
	model, err := analysisToModel(r)
	if err != nil {
		return err
	}
	return s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&AnalysisResultModel{}).
			Where("document_id = ? AND superseded = false", r.DocumentID).
			Update("superseded", true).Error; err != nil {
			return err
		}
		return tx.Create(&model).Error
	})
}

// GetLatestAnalysis returns the active result for a document.
func (s *GormStore) GetLatestAnalysis(documentID string) (domain.AnalysisResult, bool, error) {
	var model AnalysisResultModel
	if err := s.db.Where("document_id = ? AND superseded = false", documentID).
		Order("created_at DESC").
		First(&model).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.AnalysisResult{}, false, nil
		}
		return domain.AnalysisResult{}, false, err
	}
	res, err := analysisFromModel(model)
	if err != nil {
		return domain.AnalysisResult{}, false, err
	}
	return res, true, nil
}

// ListAnalysesByProject returns the active results for all of a project's
// documents.
func (s *GormStore) ListAnalysesByProject(projectID string) ([]domain.AnalysisResult, error) {
	var models []AnalysisResultModel
	if err := s.db.
		Joins("JOIN document_models ON document_models.id = analysis_result_models.document_id").
		Where("document_models.project_id = ? AND analysis_result_models.superseded = false", projectID).
		Order("analysis_result_models.created_at ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.AnalysisResult, 0, len(models))
	for _, m := range models {
		r, err := analysisFromModel(m)
		if err != nil {
			return nil, err
		}
		res = append(res, r)
	}
	return res, nil
}

// AppendChatTurn records one question/answer exchange.
func (s *GormStore) AppendChatTurn(t domain.ChatTurn) error {
	model, err := chatTurnToModel(t)
	if err != nil {
		return err
	}
	return s.db.Create(&model).Error
}

// ListChatTurns returns the most recent turns in chronological order.
func (s *GormStore) ListChatTurns(projectID string, limit int) ([]domain.ChatTurn, error) {
	if limit <= 0 {
		return []domain.ChatTurn{}, nil
	}
	var models []ChatTurnModel
	if err := s.db.Where("project_id = ?", projectID).
		Order("created_at DESC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, err
	}
	turns := make([]domain.ChatTurn, 0, len(models))
	for i := len(models) - 1; i >= 0; i-- {
		t, err := chatTurnFromModel(models[i])
		if err != nil {
			return nil, err
		}
		turns = append(turns, t)
	}
	return turns, nil
}

func projectToModel(p domain.Project) ProjectModel {
	return ProjectModel{
		ID:        p.ID,
		CreatorID: p.CreatorID,
		Name:      p.Name,
		CreatedAt: p.CreatedAt,
	}
}

func projectFromModel(m ProjectModel) domain.Project {
	return domain.Project{
		ID:        m.ID,
		CreatorID: m.CreatorID,
		Name:      m.Name,
		CreatedAt: m.CreatedAt,
	}
}

func documentToModel(d domain.Document) DocumentModel {
	return DocumentModel{
		ID:               d.ID,
		ProjectID:        d.ProjectID,
		UploaderID:       d.UploaderID,
		OriginalFilename: d.OriginalFilename,
		SizeBytes:        d.SizeBytes,
		MimeType:         d.MimeType,
		StorageKey:       d.StorageKey,
		Status:           string(d.Status),
		ErrorStage:       d.ErrorStage,
		ErrorMessage:     d.ErrorMessage,
		IndexDegraded:    d.IndexDegraded,
		CreatedAt:        d.CreatedAt,
		UpdatedAt:        d.UpdatedAt,
		AnalyzedAt:       d.AnalyzedAt,
		ArchivedAt:       d.ArchivedAt,
	}
}

func documentFromModel(m DocumentModel) domain.Document {
	return domain.Document{
		ID:               m.ID,
		ProjectID:        m.ProjectID,
		UploaderID:       m.UploaderID,
		OriginalFilename: m.OriginalFilename,
		SizeBytes:        m.SizeBytes,
		MimeType:         m.MimeType,
		StorageKey:       m.StorageKey,
		Status:           domain.DocumentStatus(m.Status),
		ErrorStage:       m.ErrorStage,
		ErrorMessage:     m.ErrorMessage,
		IndexDegraded:    m.IndexDegraded,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
		AnalyzedAt:       m.AnalyzedAt,
		ArchivedAt:       m.ArchivedAt,
	}
}

func analysisToModel(r domain.AnalysisResult) (AnalysisResultModel, error) {
	extracted, err := json.Marshal(r.Extracted)
	if err != nil {
		return AnalysisResultModel{}, fmt.Errorf("marshal extracted data: %w", err)
	}
	redFlags, err := json.Marshal(emptyIfNil(r.RedFlags))
	if err != nil {
		return AnalysisResultModel{}, err
	}
	highlights, err := json.Marshal(emptyIfNil(r.Highlights))
	if err != nil {
		return AnalysisResultModel{}, err
	}
	return AnalysisResultModel{
		ID:         r.ID,
		DocumentID: r.DocumentID,
		Category:   string(r.Category),
		Extracted:  extracted,
		Summary:    r.Summary,
		RedFlags:   redFlags,
		Highlights: highlights,
		Confidence: r.Confidence,
		Degraded:   r.Degraded,
		DurationMS: r.DurationMS,
		Superseded: r.Superseded,
		CreatedAt:  r.CreatedAt,
	}, nil
}

func analysisFromModel(m AnalysisResultModel) (domain.AnalysisResult, error) {
	var extracted domain.ExtractedData
	if len(m.Extracted) > 0 {
		if err := json.Unmarshal(m.Extracted, &extracted); err != nil {
			return domain.AnalysisResult{}, fmt.Errorf("unmarshal extracted data: %w", err)
		}
	}
	redFlags := []string{}
	if len(m.RedFlags) > 0 {
		_ = json.Unmarshal(m.RedFlags, &redFlags)
	}
	highlights := []string{}
	if len(m.Highlights) > 0 {
		_ = json.Unmarshal(m.Highlights, &highlights)
	}
	return domain.AnalysisResult{
		ID:         m.ID,
		DocumentID: m.DocumentID,
		Category:   domain.DocumentCategory(m.Category),
		Extracted:  extracted,
		Summary:    m.Summary,
		RedFlags:   redFlags,
		Highlights: highlights,
		Confidence: m.Confidence,
		Degraded:   m.Degraded,
		DurationMS: m.DurationMS,
		Superseded: m.Superseded,
		CreatedAt:  m.CreatedAt,
	}, nil
}

func chatTurnToModel(t domain.ChatTurn) (ChatTurnModel, error) {
	citations, err := json.Marshal(emptyCitationsIfNil(t.Citations))
	if err != nil {
		return ChatTurnModel{}, err
	}
	return ChatTurnModel{
		ID:        t.ID,
		ProjectID: t.ProjectID,
		AskerID:   t.AskerID,
		Question:  t.Question,
		Answer:    t.Answer,
		Citations: citations,
		CreatedAt: t.CreatedAt,
	}, nil
}

func chatTurnFromModel(m ChatTurnModel) (domain.ChatTurn, error) {
	citations := []domain.Citation{}
	if len(m.Citations) > 0 {
		if err := json.Unmarshal(m.Citations, &citations); err != nil {
			return domain.ChatTurn{}, err
		}
	}
	return domain.ChatTurn{
		ID:        m.ID,
		ProjectID: m.ProjectID,
		AskerID:   m.AskerID,
		Question:  m.Question,
		Answer:    m.Answer,
		Citations: citations,
		CreatedAt: m.CreatedAt,
	}, nil
}

func emptyIfNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

func emptyCitationsIfNil(v []domain.Citation) []domain.Citation {
	if v == nil {
		return []domain.Citation{}
	}
	return v
}
