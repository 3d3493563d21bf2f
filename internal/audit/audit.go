// Package audit records who did what to which document. Every mutating
// operation emits one event; sinks fan the event out to the structured log
// and, when configured, to a message broker for downstream retention.
package audit

import (
	"context"
	"log/slog"
	"time"
)

// Action names follow subject.verb so downstream consumers can route on
// prefix.
const (
	ActionDocumentUploaded = "document.uploaded"
	ActionDocumentDeleted  = "document.deleted"
	ActionDocumentArchived = "document.archived"
	ActionAnalysisStarted  = "analysis.started"
	ActionAnalysisFinished = "analysis.finished"
	ActionAnalysisFailed   = "analysis.failed"
	ActionQuestionAsked    = "question.asked"
)

// Event is one audit trail record.
type Event struct {
	Action     string    `json:"action"`
	ActorID    string    `json:"actorId"`
	ProjectID  string    `json:"projectId,omitempty"`
	DocumentID string    `json:"documentId,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// Trail accepts audit events. Record must not fail the business operation:
// implementations log delivery problems and return.
type Trail interface {
	Record(ctx context.Context, event Event)
}

// LogTrail writes events to the structured log.
type LogTrail struct {
	logger *slog.Logger
}

func NewLogTrail(logger *slog.Logger) *LogTrail {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogTrail{logger: logger}
}

func (t *LogTrail) Record(ctx context.Context, event Event) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	t.logger.InfoContext(ctx, "audit event",
		"action", event.Action,
		"actorId", event.ActorID,
		"projectId", event.ProjectID,
		"documentId", event.DocumentID,
		"detail", event.Detail,
		"occurredAt", event.OccurredAt.Format(time.RFC3339Nano),
	)
}

// MultiTrail fans one event out to several sinks.
type MultiTrail []Trail

func (m MultiTrail) Record(ctx context.Context, event Event) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	for _, t := range m {
		if t != nil {
			t.Record(ctx, event)
		}
	}
}
