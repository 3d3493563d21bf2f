package domain

import "errors"

// Pipeline error taxonomy. Handlers map these to HTTP status codes;
// everything else is treated as an internal error.
var (
	ErrInvalidFile       = errors.New("invalid file")
	ErrInvalidQuestion   = errors.New("invalid question")
	ErrAccessDenied      = errors.New("access denied")
	ErrAlreadyInProgress = errors.New("analysis already in progress")
	ErrNotFound          = errors.New("not found")

	ErrExtractionUnavailable = errors.New("extraction service unavailable")
	ErrExtractionFailed      = errors.New("extraction failed")
	ErrSummarizationFailed   = errors.New("summarization failed")
)

// Stage names recorded on a document when a run fails.
const (
	StageExtraction    = "extraction"
	StageSummarization = "summarization"
	StageIndexing      = "indexing"
	StageTimeout       = "timeout"
	StageReconcile     = "reconcile"
)
