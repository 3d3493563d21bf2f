// Package server exposes the pipeline over HTTP. Handlers stay thin:
// decode, call the owning service, map the error taxonomy to a status code.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"auditdesk/internal/analysis"
	"auditdesk/internal/ingest"
	"auditdesk/internal/qa"
	"auditdesk/internal/ratelimit"
	"auditdesk/internal/report"
	"auditdesk/internal/usertoken"
	"auditdesk/internal/util"
	"auditdesk/pkg/domain"
)

type Config struct {
	Ingest        *ingest.Service
	Analysis      *analysis.Service
	QA            *qa.Service
	Report        *report.Service
	TokenVerifier *usertoken.Verifier

	// UploadLimiter and AskLimiter guard the two expensive surfaces. Nil
	// disables limiting.
	UploadLimiter *ratelimit.FixedWindowLimiter
	AskLimiter    *ratelimit.FixedWindowLimiter

	MaxUploadBytes int64
}

type Server struct {
	ingest         *ingest.Service
	analysis       *analysis.Service
	qa             *qa.Service
	report         *report.Service
	tokenVerifier  *usertoken.Verifier
	uploadLimiter  *ratelimit.FixedWindowLimiter
	askLimiter     *ratelimit.FixedWindowLimiter
	maxUploadBytes int64
	mux            *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	maxUploadBytes := cfg.MaxUploadBytes
	if maxUploadBytes <= 0 {
		maxUploadBytes = ingest.DefaultMaxUploadBytes
	}
	s := &Server{
		ingest:         cfg.Ingest,
		analysis:       cfg.Analysis,
		qa:             cfg.QA,
		report:         cfg.Report,
		tokenVerifier:  cfg.TokenVerifier,
		uploadLimiter:  cfg.UploadLimiter,
		askLimiter:     cfg.AskLimiter,
		maxUploadBytes: maxUploadBytes,
		mux:            http.NewServeMux(),
	}
	s.routes()
	return s
}

// Router returns the configured handler with the middleware chain applied.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(util.WithRequestLog(util.WithSecurityHeaders(util.WithCORS(s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.Handle("/projects/", s.withUser(s.handleProjects))
	s.mux.Handle("/documents/", s.withUser(s.handleDocuments))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type userHandler func(http.ResponseWriter, *http.Request, domain.User)

func (s *Server) withUser(next userHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.tokenVerifier == nil {
			writeError(w, http.StatusInternalServerError, "auth not configured")
			return
		}
		token, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		user, err := s.tokenVerifier.Verify(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, user)
	})
}

// /projects/{id}/{documents|ask|questions|history|report}
func (s *Server) handleProjects(w http.ResponseWriter, r *http.Request, user domain.User) {
	projectID, rest, ok := splitResource(r.URL.Path, "/projects/")
	if !ok {
		notFound(w, "unknown project resource")
		return
	}
	switch rest {
	case "documents":
		switch r.Method {
		case http.MethodPost:
			s.handleUpload(w, r, user, projectID)
		case http.MethodGet:
			s.handleListDocuments(w, user, projectID)
		default:
			methodNotAllowed(w)
		}
	case "ask":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		s.handleAsk(w, r, user, projectID)
	case "questions":
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		s.handleSuggestions(w, user, projectID)
	case "history":
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		s.handleHistory(w, user, projectID)
	case "report":
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		s.handleReport(w, user, projectID)
	default:
		notFound(w, "unknown project resource")
	}
}

// /documents/{id} or /documents/{id}/{download|analyze|analysis}
func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request, user domain.User) {
	path := strings.TrimPrefix(r.URL.Path, "/documents/")
	docID, rest, _ := strings.Cut(path, "/")
	if docID == "" {
		notFound(w, "document id required")
		return
	}
	switch rest {
	case "":
		switch r.Method {
		case http.MethodGet:
			s.handleGetDocument(w, user, docID)
		case http.MethodDelete:
			s.handleDeleteDocument(w, r, user, docID)
		default:
			methodNotAllowed(w)
		}
	case "download":
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		s.handleDownload(w, r, user, docID)
	case "analyze":
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		s.handleAnalyze(w, r, user, docID)
	case "analysis":
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		s.handleGetAnalysis(w, user, docID)
	default:
		notFound(w, "unknown document resource")
	}
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, user domain.User, projectID string) {
	if s.uploadLimiter != nil && !s.uploadLimiter.Allow(user.ID) {
		writeError(w, http.StatusTooManyRequests, "upload rate limit exceeded")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes+(1<<20))
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file is required (field: file)")
		return
	}
	defer file.Close()
	mimeType := header.Header.Get("Content-Type")

	doc, err := s.ingest.Upload(r.Context(), user, projectID, header.Filename, mimeType, header.Size, file)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

func (s *Server) handleListDocuments(w http.ResponseWriter, user domain.User, projectID string) {
	docs, err := s.ingest.List(user, projectID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": docs,
		"count": len(docs),
	})
}

func (s *Server) handleGetDocument(w http.ResponseWriter, user domain.User, docID string) {
	doc, err := s.ingest.Get(user, docID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request, user domain.User, docID string) {
	if err := s.ingest.Delete(r.Context(), user, docID); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request, user domain.User, docID string) {
	url, err := s.ingest.DownloadLink(r.Context(), user, docID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request, user domain.User, docID string) {
	result, err := s.analysis.Analyze(r.Context(), user, docID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetAnalysis(w http.ResponseWriter, user domain.User, docID string) {
	result, err := s.analysis.GetLatest(user, docID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request, user domain.User, projectID string) {
	if s.askLimiter != nil && !s.askLimiter.Allow(user.ID) {
		writeError(w, http.StatusTooManyRequests, "question rate limit exceeded")
		return
	}
	var req struct {
		Question string `json:"question"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	turn, err := s.qa.Ask(r.Context(), user, projectID, req.Question)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, turn)
}

func (s *Server) handleSuggestions(w http.ResponseWriter, user domain.User, projectID string) {
	questions, err := s.qa.Suggest(user, projectID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"questions": questions})
}

func (s *Server) handleHistory(w http.ResponseWriter, user domain.User, projectID string) {
	turns, err := s.qa.History(user, projectID, 50)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": turns,
		"count": len(turns),
	})
}

func (s *Server) handleReport(w http.ResponseWriter, user domain.User, projectID string) {
	rep, err := s.report.Build(user, projectID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func bearerToken(r *http.Request) (string, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return "", false
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// splitResource parses "/projects/{id}/{rest}" style paths.
func splitResource(path, prefix string) (id, rest string, ok bool) {
	path = strings.TrimPrefix(path, prefix)
	id, rest, _ = strings.Cut(path, "/")
	if id == "" || rest == "" {
		return "", "", false
	}
	return id, rest, true
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func notFound(w http.ResponseWriter, msg string) {
	writeError(w, http.StatusNotFound, msg)
}

// writeDomainError maps the error taxonomy onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrAccessDenied):
		writeError(w, http.StatusForbidden, "access denied")
	case errors.Is(err, domain.ErrAlreadyInProgress):
		writeError(w, http.StatusConflict, "analysis already in progress")
	case errors.Is(err, domain.ErrInvalidFile), errors.Is(err, domain.ErrInvalidQuestion):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrExtractionUnavailable), errors.Is(err, domain.ErrSummarizationFailed):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, domain.ErrExtractionFailed):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"requestId,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{
		Error:     msg,
		RequestID: strings.TrimSpace(w.Header().Get("X-Request-Id")),
	})
}
