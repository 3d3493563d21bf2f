package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type ProjectModel struct {
	ID        string `gorm:"primaryKey"`
	CreatorID string `gorm:"not null;index"`
	Name      string
	CreatedAt time.Time `gorm:"not null"`
}

type ProjectMemberModel struct {
	ProjectID string `gorm:"primaryKey"`
	UserID    string `gorm:"primaryKey"`
	CreatedAt time.Time
}

type DocumentModel struct {
	ID               string `gorm:"primaryKey"`
	ProjectID        string `gorm:"not null;index"`
	UploaderID       string `gorm:"not null"`
	OriginalFilename string `gorm:"not null"`
	SizeBytes        int64  `gorm:"not null"`
	MimeType         string `gorm:"not null"`
	StorageKey       string `gorm:"uniqueIndex;not null"`
	Status           string `gorm:"not null;index"`
	ErrorStage       string
	ErrorMessage     string
	IndexDegraded    bool      `gorm:"not null;default:false"`
	CreatedAt        time.Time `gorm:"not null"`
	UpdatedAt        time.Time `gorm:"not null"`
	AnalyzedAt       *time.Time
	ArchivedAt       *time.Time
}

type AnalysisResultModel struct {
	ID         string         `gorm:"primaryKey"`
	DocumentID string         `gorm:"not null;index"`
	Category   string         `gorm:"not null"`
	Extracted  datatypes.JSON `gorm:"type:jsonb"`
	Summary    string         `gorm:"type:text"`
	RedFlags   datatypes.JSON `gorm:"type:jsonb"`
	Highlights datatypes.JSON `gorm:"type:jsonb"`
	Confidence float64        `gorm:"not null"`
	Degraded   bool           `gorm:"not null;default:false"`
	DurationMS int64
	Superseded bool      `gorm:"not null;default:false;index"`
	CreatedAt  time.Time `gorm:"not null;index"`
}

type ChatTurnModel struct {
	ID        string `gorm:"primaryKey"`
	ProjectID string `gorm:"not null;index"`
	AskerID   string `gorm:"not null"`
	Question  string `gorm:"type:text;not null"`
	Answer    string `gorm:"type:text;not null"`
	Citations datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt time.Time `gorm:"not null;index"`
}
