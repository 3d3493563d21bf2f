package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const defaultIndexTimeout = 10 * time.Second

// RemoteIndex calls an external search service over HTTP. An empty base URL
// means the capability was never configured.
type RemoteIndex struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewRemoteIndex builds the search client.
func NewRemoteIndex(baseURL, apiKey string, timeout time.Duration) *RemoteIndex {
	if timeout <= 0 {
		timeout = defaultIndexTimeout
	}
	return &RemoteIndex{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Available reports whether a search endpoint is configured.
func (x *RemoteIndex) Available() bool {
	return x != nil && x.baseURL != ""
}

// Upsert writes one entry, overwriting any previous entry with the same id.
func (x *RemoteIndex) Upsert(ctx context.Context, entry Entry) error {
	if !x.Available() {
		return fmt.Errorf("search index not configured")
	}
	return x.do(ctx, http.MethodPut, "/v1/documents/"+entry.ID, entry, nil)
}

// Delete removes one entry. Missing entries are not an error.
func (x *RemoteIndex) Delete(ctx context.Context, id string) error {
	if !x.Available() {
		return fmt.Errorf("search index not configured")
	}
	err := x.do(ctx, http.MethodDelete, "/v1/documents/"+id, nil, nil)
	if err != nil && strings.Contains(err.Error(), "404") {
		return nil
	}
	return err
}

type searchRequest struct {
	Query  string            `json:"query"`
	Filter map[string]string `json:"filter,omitempty"`
	TopK   int               `json:"topK"`
}

type searchResponse struct {
	Hits []Hit `json:"hits"`
}

// Search runs one query with metadata filtering.
func (x *RemoteIndex) Search(ctx context.Context, query string, filter map[string]string, topK int) ([]Hit, error) {
	if !x.Available() {
		return nil, fmt.Errorf("search index not configured")
	}
	var resp searchResponse
	if err := x.do(ctx, http.MethodPost, "/v1/search", searchRequest{
		Query:  query,
		Filter: filter,
		TopK:   topK,
	}, &resp); err != nil {
		return nil, err
	}
	return resp.Hits, nil
}

func (x *RemoteIndex) do(ctx context.Context, method, path string, in, out any) error {
	var body *bytes.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(payload)
	} else {
		body = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, x.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if x.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+x.apiKey)
	}
	resp, err := x.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("search service request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		msg := errResp.Error
		if msg == "" {
			msg = resp.Status
		}
		return fmt.Errorf("search service error (%d): %s", resp.StatusCode, msg)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
