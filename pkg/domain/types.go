package domain

import "time"

type DocumentStatus string

const (
	StatusUploaded   DocumentStatus = "uploaded"
	StatusProcessing DocumentStatus = "processing"
	StatusAnalyzed   DocumentStatus = "analyzed"
	StatusError      DocumentStatus = "error"
)

type UserRole string

const (
	RoleUser  UserRole = "user"
	RoleAdmin UserRole = "admin"
)

// User identifies the caller as extracted from the bearer token. Account
// management lives in the upstream gateway; only id and role matter here.
type User struct {
	ID   string   `json:"id"`
	Role UserRole `json:"role"`
}

// DocumentCategory is the extraction sub-type picked by the classifier.
type DocumentCategory string

const (
	CategoryInvoice            DocumentCategory = "invoice"
	CategoryReceipt            DocumentCategory = "receipt"
	CategoryBankStatement      DocumentCategory = "bank_statement"
	CategoryFinancialStatement DocumentCategory = "financial_statement"
	CategoryContract           DocumentCategory = "contract"
	CategoryGeneric            DocumentCategory = "generic"
)

type Document struct {
	ID               string         `json:"id"`
	ProjectID        string         `json:"projectId"`
	UploaderID       string         `json:"uploaderId"`
	OriginalFilename string         `json:"originalFilename"`
	SizeBytes        int64          `json:"sizeBytes"`
	MimeType         string         `json:"mimeType"`
	StorageKey       string         `json:"-"`
	Status           DocumentStatus `json:"status"`
	ErrorStage       string         `json:"errorStage,omitempty"`
	ErrorMessage     string         `json:"errorMessage,omitempty"`
	IndexDegraded    bool           `json:"indexDegraded,omitempty"`
	CreatedAt        time.Time      `json:"createdAt"`
	UpdatedAt        time.Time      `json:"updatedAt"`
	AnalyzedAt       *time.Time     `json:"analyzedAt,omitempty"`
	ArchivedAt       *time.Time     `json:"archivedAt,omitempty"`
}

// ExtractedData is the structured output of one extraction run. At most one
// category variant is populated; Content and KeyValues are always safe to
// read regardless of category. Raw carries the untouched service response
// for forward compatibility.
type ExtractedData struct {
	Category  DocumentCategory  `json:"category"`
	Content   string            `json:"content"`
	Pages     int               `json:"pages"`
	Tables    []Table           `json:"tables"`
	KeyValues map[string]string `json:"keyValues"`
	Entities  []Entity          `json:"entities"`
	Invoice   *InvoiceFields    `json:"invoice,omitempty"`
	Receipt   *ReceiptFields    `json:"receipt,omitempty"`
	Degraded  bool              `json:"degraded"`
	Raw       []byte            `json:"raw,omitempty"`
}

type Table struct {
	Name string     `json:"name,omitempty"`
	Rows [][]string `json:"rows"`
}

type Entity struct {
	Kind  string `json:"kind"`
	Value string `json:"value"`
}

type InvoiceFields struct {
	Vendor   string `json:"vendor,omitempty"`
	Number   string `json:"number,omitempty"`
	Total    string `json:"total,omitempty"`
	Currency string `json:"currency,omitempty"`
	IssuedOn string `json:"issuedOn,omitempty"`
	DueOn    string `json:"dueOn,omitempty"`
}

type ReceiptFields struct {
	Merchant string `json:"merchant,omitempty"`
	Total    string `json:"total,omitempty"`
	PaidOn   string `json:"paidOn,omitempty"`
}

type AnalysisResult struct {
	ID         string           `json:"id"`
	DocumentID string           `json:"documentId"`
	Category   DocumentCategory `json:"category"`
	Extracted  ExtractedData    `json:"extracted"`
	Summary    string           `json:"summary"`
	RedFlags   []string         `json:"redFlags"`
	Highlights []string         `json:"highlights"`
	Confidence float64          `json:"confidence"`
	Degraded   bool             `json:"degraded"`
	DurationMS int64            `json:"durationMs"`
	Superseded bool             `json:"superseded,omitempty"`
	CreatedAt  time.Time        `json:"createdAt"`
}

type Citation struct {
	DocumentID string  `json:"documentId"`
	Snippet    string  `json:"snippet"`
	Score      float64 `json:"score"`
}

type ChatTurn struct {
	ID        string     `json:"id"`
	ProjectID string     `json:"projectId"`
	AskerID   string     `json:"askerId"`
	Question  string     `json:"question"`
	Answer    string     `json:"answer"`
	Citations []Citation `json:"citations"`
	CreatedAt time.Time  `json:"createdAt"`
}

type Project struct {
	ID        string    `json:"id"`
	CreatorID string    `json:"creatorId"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}
