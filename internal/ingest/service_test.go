package ingest

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"auditdesk/internal/authz"
	"auditdesk/pkg/domain"
	"auditdesk/pkg/search"
	"auditdesk/pkg/storage"
	"auditdesk/pkg/store"
)

var testLimits = Limits{
	MaxUploadBytes:     1 << 20,
	DirectPutThreshold: 16,
	ChunkSize:          8,
}

var uploader = domain.User{ID: "creator", Role: domain.RoleUser}

func newFixture(t *testing.T) (*Service, *store.MemoryStore, *storage.MemoryStore, *search.MemoryIndex) {
	t.Helper()
	s := store.NewMemoryStore()
	blobs := storage.NewMemoryStore()
	index := search.NewMemoryIndex()
	if err := s.SaveProject(domain.Project{ID: "p1", CreatorID: "creator", Name: "FY25"}); err != nil {
		t.Fatalf("save project: %v", err)
	}
	svc := NewService(s, blobs, index, authz.NewAuthorizer(s), nil, nil, testLimits)
	return svc, s, blobs, index
}

func TestUploadDirectPut(t *testing.T) {
	svc, s, blobs, _ := newFixture(t)
	payload := []byte("small pdf body")

	doc, err := svc.Upload(context.Background(), uploader, "p1", "ledger.pdf", "application/pdf", int64(len(payload)), bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if doc.Status != domain.StatusUploaded {
		t.Fatalf("status = %q, want uploaded", doc.Status)
	}
	stored, ok := blobs.Bytes(doc.StorageKey)
	if !ok || !bytes.Equal(stored, payload) {
		t.Fatalf("stored bytes mismatch: ok=%v", ok)
	}
	got, ok, err := s.GetDocument(doc.ID)
	if err != nil || !ok {
		t.Fatalf("document row missing: ok=%v err=%v", ok, err)
	}
	if got.SizeBytes != int64(len(payload)) || got.MimeType != "application/pdf" {
		t.Fatalf("row = %+v", got)
	}
}

func TestUploadChunkedReassembly(t *testing.T) {
	svc, _, blobs, _ := newFixture(t)
	payload := make([]byte, 100)
	for i := range payload {
		payload[i] = byte(i)
	}

	doc, err := svc.Upload(context.Background(), uploader, "p1", "big ledger.pdf", "application/pdf", int64(len(payload)), bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	stored, ok := blobs.Bytes(doc.StorageKey)
	if !ok {
		t.Fatalf("assembled object missing")
	}
	if !bytes.Equal(stored, payload) {
		t.Fatalf("assembled bytes differ from input")
	}
	tmp, err := blobs.List(context.Background(), "tmp/")
	if err != nil {
		t.Fatalf("list tmp: %v", err)
	}
	if len(tmp) != 0 {
		t.Fatalf("temp chunks left behind: %v", tmp)
	}
}

func TestUploadChunkFailureLeavesNoArtifacts(t *testing.T) {
	svc, s, blobs, _ := newFixture(t)
	blobs.FailPutSubstr = "chunk-00003"
	payload := make([]byte, 100)

	_, err := svc.Upload(context.Background(), uploader, "p1", "big.pdf", "application/pdf", int64(len(payload)), bytes.NewReader(payload))
	if err == nil {
		t.Fatalf("expected chunk failure to fail the upload")
	}
	keys, listErr := blobs.List(context.Background(), "")
	if listErr != nil {
		t.Fatalf("list: %v", listErr)
	}
	if len(keys) != 0 {
		t.Fatalf("partial artifacts left behind: %v", keys)
	}
	docs, listErr := s.ListDocumentsByProject("p1")
	if listErr != nil {
		t.Fatalf("list documents: %v", listErr)
	}
	if len(docs) != 0 {
		t.Fatalf("document row should not exist after failed upload")
	}
}

func TestUploadValidation(t *testing.T) {
	svc, _, blobs, _ := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		name     string
		filename string
		mime     string
		size     int64
	}{
		{"too large", "big.pdf", "application/pdf", testLimits.MaxUploadBytes + 1},
		{"empty", "empty.pdf", "application/pdf", 0},
		{"bad mime", "script.sh", "application/x-sh", 10},
		{"no filename", "  ", "application/pdf", 10},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Upload(ctx, uploader, "p1", tc.filename, tc.mime, tc.size, strings.NewReader("x"))
			if !errors.Is(err, domain.ErrInvalidFile) {
				t.Fatalf("err = %v, want ErrInvalidFile", err)
			}
		})
	}
	keys, err := blobs.List(ctx, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(keys) != 0 {
		t.Fatalf("rejected uploads must not reach storage: %v", keys)
	}
}

func TestUploadDeniedForStranger(t *testing.T) {
	svc, _, _, _ := newFixture(t)
	stranger := domain.User{ID: "stranger", Role: domain.RoleUser}
	_, err := svc.Upload(context.Background(), stranger, "p1", "x.pdf", "application/pdf", 4, strings.NewReader("data"))
	if !errors.Is(err, domain.ErrAccessDenied) {
		t.Fatalf("err = %v, want ErrAccessDenied", err)
	}
}

func TestDeleteRemovesEverything(t *testing.T) {
	svc, s, blobs, index := newFixture(t)
	ctx := context.Background()
	payload := []byte("doc body")
	doc, err := svc.Upload(ctx, uploader, "p1", "doc.pdf", "application/pdf", int64(len(payload)), bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if err := index.Upsert(ctx, search.Entry{ID: doc.ID, Content: "doc body"}); err != nil {
		t.Fatalf("seed index: %v", err)
	}

	if err := svc.Delete(ctx, uploader, doc.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, ok := blobs.Bytes(doc.StorageKey); ok {
		t.Fatalf("blob should be gone")
	}
	if _, ok, _ := s.GetDocument(doc.ID); ok {
		t.Fatalf("row should be gone")
	}
	if index.Has(doc.ID) {
		t.Fatalf("index entry should be gone")
	}
}

func TestDeleteBlockedWhileProcessing(t *testing.T) {
	svc, s, _, _ := newFixture(t)
	ctx := context.Background()
	doc, err := svc.Upload(ctx, uploader, "p1", "doc.pdf", "application/pdf", 4, strings.NewReader("data"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if ok, err := s.ClaimProcessing(doc.ID, domain.StatusUploaded); err != nil || !ok {
		t.Fatalf("claim: ok=%v err=%v", ok, err)
	}
	if err := svc.Delete(ctx, uploader, doc.ID); !errors.Is(err, domain.ErrAlreadyInProgress) {
		t.Fatalf("err = %v, want ErrAlreadyInProgress", err)
	}
}

func TestDownloadLink(t *testing.T) {
	svc, _, _, _ := newFixture(t)
	ctx := context.Background()
	doc, err := svc.Upload(ctx, uploader, "p1", "doc.pdf", "application/pdf", 4, strings.NewReader("data"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	url, err := svc.DownloadLink(ctx, uploader, doc.ID)
	if err != nil {
		t.Fatalf("DownloadLink() error = %v", err)
	}
	if !strings.Contains(url, doc.ID) {
		t.Fatalf("url = %q", url)
	}
}

func TestSanitizeFilename(t *testing.T) {
	cases := map[string]string{
		"ledger.pdf":             "ledger.pdf",
		"../../etc/passwd":       "passwd",
		"q3 report (final).xlsx": "q3_report__final_.xlsx",
		"..":                     "document",
		"räkning.pdf":            "r_kning.pdf",
	}
	for in, want := range cases {
		if got := SanitizeFilename(in); got != want {
			t.Fatalf("SanitizeFilename(%q) = %q, want %q", in, got, want)
		}
	}
}
