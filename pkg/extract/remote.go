package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"auditdesk/pkg/domain"
)

const defaultExtractTimeout = 60 * time.Second

// RemoteExtractor calls an external document-extraction HTTP service.
// An empty base URL means the capability was never configured; callers must
// check Available and fall back instead of treating absence as fatal.
type RemoteExtractor struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewRemoteExtractor builds the extraction client.
func NewRemoteExtractor(baseURL, apiKey string, timeout time.Duration) *RemoteExtractor {
	if timeout <= 0 {
		timeout = defaultExtractTimeout
	}
	return &RemoteExtractor{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Available reports whether an extraction endpoint is configured.
func (e *RemoteExtractor) Available() bool {
	return e != nil && e.baseURL != ""
}

type extractRequest struct {
	DocumentURL  string `json:"documentUrl"`
	TemplateHint string `json:"templateHint,omitempty"`
}

type extractResponse struct {
	Content       string                `json:"content"`
	Pages         int                   `json:"pages"`
	Tables        []domain.Table        `json:"tables"`
	KeyValuePairs map[string]string     `json:"keyValuePairs"`
	Entities      []domain.Entity       `json:"entities"`
	Invoice       *domain.InvoiceFields `json:"invoice,omitempty"`
	Receipt       *domain.ReceiptFields `json:"receipt,omitempty"`
}

// Extract runs one extraction call against the remote service.
func (e *RemoteExtractor) Extract(ctx context.Context, blobURL string, templateHint domain.DocumentCategory) (domain.ExtractedData, error) {
	if !e.Available() {
		return domain.ExtractedData{}, domain.ErrExtractionUnavailable
	}
	payload, err := json.Marshal(extractRequest{
		DocumentURL:  blobURL,
		TemplateHint: string(templateHint),
	})
	if err != nil {
		return domain.ExtractedData{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/v1/extract", bytes.NewReader(payload))
	if err != nil {
		return domain.ExtractedData{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return domain.ExtractedData{}, fmt.Errorf("%w: %v", domain.ErrExtractionFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return domain.ExtractedData{}, fmt.Errorf("%w: read response: %v", domain.ErrExtractionFailed, err)
	}
	if resp.StatusCode == http.StatusServiceUnavailable {
		return domain.ExtractedData{}, domain.ErrExtractionUnavailable
	}
	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(body, &errResp)
		msg := errResp.Error
		if msg == "" {
			msg = resp.Status
		}
		return domain.ExtractedData{}, fmt.Errorf("%w: %s", domain.ErrExtractionFailed, msg)
	}

	var decoded extractResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return domain.ExtractedData{}, fmt.Errorf("%w: decode response: %v", domain.ErrExtractionFailed, err)
	}
	keyValues := decoded.KeyValuePairs
	if keyValues == nil {
		keyValues = map[string]string{}
	}
	return domain.ExtractedData{
		Category:  templateHint,
		Content:   decoded.Content,
		Pages:     decoded.Pages,
		Tables:    decoded.Tables,
		KeyValues: keyValues,
		Entities:  decoded.Entities,
		Invoice:   decoded.Invoice,
		Receipt:   decoded.Receipt,
		Raw:       body,
	}, nil
}
