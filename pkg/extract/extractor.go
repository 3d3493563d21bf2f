package extract

import (
	"context"

	"auditdesk/pkg/domain"
)

// Extractor converts a stored blob into structured text, tables, and fields
// via an external OCR/forms service. blobURL is a short-lived read handle
// (presigned GET) to the object; templateHint selects the extraction
// template for the document sub-type.
type Extractor interface {
	Available() bool
	Extract(ctx context.Context, blobURL string, templateHint domain.DocumentCategory) (domain.ExtractedData, error)
}
