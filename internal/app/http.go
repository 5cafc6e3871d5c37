package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"lexanchor/internal/anchor"
	"lexanchor/internal/editor"
	"lexanchor/internal/export"
	"lexanchor/internal/overlay"
	"lexanchor/internal/search"
)

type HTTPServer struct {
	service    *Service
	corsOrigin string
}

func NewHTTPServer(service *Service, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		s.handleReady(w, r)
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/search" {
		s.handleSearch(w, r)
		return
	}

	if r.URL.Path == "/api/documents" {
		switch r.Method {
		case http.MethodGet:
			items, err := s.service.ListDocuments(r.Context())
			if err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"documents": items})
		case http.MethodPost:
			var body saveDocumentBody
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.CreateDocument(r.Context(), body.Title, body.Doc, body.Author)
			if err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, payload)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "documents" {
		s.handleDocuments(w, r, parts[2], parts)
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
		"redis":    map[string]any{"status": "ok"},
	}

	if err := s.service.store.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}
	if err := s.service.results.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["redis"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

type saveDocumentBody struct {
	Title  string          `json:"title"`
	Doc    json.RawMessage `json:"doc"`
	Author string          `json:"author"`
}

func (s *HTTPServer) handleDocuments(w http.ResponseWriter, r *http.Request, documentID string, parts []string) {
	if len(parts) == 3 {
		switch r.Method {
		case http.MethodGet:
			payload, err := s.service.GetDocument(r.Context(), documentID, strings.TrimSpace(r.URL.Query().Get("version")))
			if err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, payload)
		case http.MethodPut:
			var body saveDocumentBody
			if err := decodeBody(r, &body); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return
			}
			payload, err := s.service.SaveDocument(r.Context(), documentID, body.Title, body.Doc, body.Author)
			if err != nil {
				writeMappedError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, payload)
		default:
			writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
		}
		return
	}

	switch {
	case len(parts) == 4 && parts[3] == "history" && r.Method == http.MethodGet:
		limit := 50
		if rawLimit := strings.TrimSpace(r.URL.Query().Get("limit")); rawLimit != "" {
			if parsedLimit, err := strconv.Atoi(rawLimit); err == nil && parsedLimit > 0 {
				limit = parsedLimit
			}
		}
		s.respond(w, http.StatusOK)(s.service.History(r.Context(), documentID, limit))

	case len(parts) == 4 && parts[3] == "session":
		s.handleSession(w, r, documentID)

	case len(parts) == 5 && parts[3] == "analysis" && r.Method == http.MethodPut:
		var body struct {
			Requests []anchor.Request `json:"requests"`
			Results  []anchor.Request `json:"results"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		requests := body.Requests
		if requests == nil {
			requests = body.Results
		}
		s.respond(w, http.StatusOK)(s.service.PutResults(r.Context(), documentID, parts[4], requests))

	case len(parts) == 4 && parts[3] == "highlight" && r.Method == http.MethodPost:
		s.respond(w, http.StatusOK)(s.service.Highlight(r.Context(), documentID, r.URL.Query().Get("kind")))

	case len(parts) == 4 && parts[3] == "annotations" && r.Method == http.MethodDelete:
		s.respond(w, http.StatusOK)(s.service.ClearAnnotations(r.Context(), documentID, r.URL.Query().Get("kind")))

	case len(parts) == 6 && parts[3] == "annotations" && parts[5] == "accept" && r.Method == http.MethodPost:
		var body struct {
			Replacement *string `json:"replacement"`
			Author      string  `json:"author"`
		}
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		if body.Replacement == nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "replacement is required", nil)
			return
		}
		s.respond(w, http.StatusOK)(s.service.AcceptSuggestion(r.Context(), documentID, parts[4], *body.Replacement, body.Author))

	case len(parts) == 6 && parts[3] == "annotations" && parts[5] == "reject" && r.Method == http.MethodPost:
		s.respond(w, http.StatusOK)(s.service.RejectSuggestion(r.Context(), documentID, parts[4]))

	case len(parts) == 4 && parts[3] == "pointer" && r.Method == http.MethodPost:
		var event overlay.Event
		if err := decodeBody(r, &event); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
			return
		}
		s.respond(w, http.StatusOK)(s.service.Pointer(r.Context(), documentID, event))

	case len(parts) == 5 && parts[3] == "card" && r.Method == http.MethodGet:
		s.respond(w, http.StatusOK)(s.service.Card(r.Context(), documentID, parts[4]))

	case len(parts) == 4 && parts[3] == "html" && r.Method == http.MethodGet:
		html, err := s.service.RenderHTML(r.Context(), documentID, r.URL.Query().Get("version"), queryBool(r, "findings"))
		if err != nil {
			writeMappedError(w, err)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(html))

	case len(parts) == 4 && parts[3] == "export" && r.Method == http.MethodGet:
		result, err := s.service.Export(r.Context(), documentID, r.URL.Query().Get("format"), r.URL.Query().Get("version"), queryBool(r, "findings"))
		if err != nil {
			log.Printf("export(%s) error: %v", documentID, err)
			writeMappedError(w, err)
			return
		}
		w.Header().Set("Content-Type", result.MimeType)
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, result.Filename))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(result.Data)

	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleSession(w http.ResponseWriter, r *http.Request, documentID string) {
	switch r.Method {
	case http.MethodPost:
		s.respond(w, http.StatusOK)(s.service.OpenSession(r.Context(), documentID))
	case http.MethodGet:
		s.respond(w, http.StatusOK)(s.service.SessionState(documentID))
	case http.MethodDelete:
		closed := s.service.CloseSession(documentID)
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "closed": closed})
	default:
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	}
}

func (s *HTTPServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	q := search.Query{
		Text:             strings.TrimSpace(query.Get("q")),
		FilterType:       search.ResultType(strings.TrimSpace(query.Get("type"))),
		FilterDocumentID: strings.TrimSpace(query.Get("documentId")),
	}
	if rawKind := strings.TrimSpace(query.Get("kind")); rawKind != "" {
		kind, ok := anchor.ParseKind(rawKind)
		if !ok {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "unknown kind", map[string]any{"kind": rawKind})
			return
		}
		q.FilterKind = string(kind)
	}
	if q.Text == "" {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "q is required", nil)
		return
	}
	if limit, err := strconv.Atoi(query.Get("limit")); err == nil {
		q.Limit = limit
	}
	if offset, err := strconv.Atoi(query.Get("offset")); err == nil {
		q.Offset = offset
	}
	writeJSON(w, http.StatusOK, s.service.SearchFindings(r.Context(), q))
}

// respond writes a service result as JSON, or its mapped error.
func (s *HTTPServer) respond(w http.ResponseWriter, status int) func(map[string]any, error) {
	return func(payload map[string]any, err error) {
		if err != nil {
			writeMappedError(w, err)
			return
		}
		writeJSON(w, status, payload)
	}
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		log.Printf(`{"request_id":"%s","method":"%s","path":"%s","status":%d,"duration_ms":%d}`,
			requestID,
			r.Method,
			r.URL.Path,
			writer.status,
			time.Since(started).Milliseconds(),
		)
	})
}

type requestIDKey struct{}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func writeMappedError(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	writeError(w, status, code, message, details)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func queryBool(r *http.Request, key string) bool {
	value, err := strconv.ParseBool(strings.TrimSpace(r.URL.Query().Get(key)))
	return err == nil && value
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	switch {
	case isNotFound(err), errors.Is(err, export.ErrContentUnavailable):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, overlay.ErrUnknownAnnotation):
		return http.StatusNotFound, "ANNOTATION_NOT_FOUND", "Annotation is not in the current results", nil
	case errors.Is(err, editor.ErrUnsupportedReplace), errors.Is(err, editor.ErrOutOfRange):
		return http.StatusUnprocessableEntity, "INVALID_EDIT", err.Error(), nil
	case errors.Is(err, overlay.ErrNoOverlay):
		return http.StatusUnprocessableEntity, "NO_OVERLAY", err.Error(), nil
	case errors.Is(err, overlay.ErrInvalidEvent), errors.Is(err, overlay.ErrNoAnnotation):
		return http.StatusUnprocessableEntity, "INVALID_EVENT", err.Error(), nil
	case errors.Is(err, export.ErrUnsupportedFormat):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil
	case errors.Is(err, anchor.ErrEngineClosed), errors.Is(err, editor.ErrConflict):
		return http.StatusConflict, "SESSION_CHANGED", "The editing session changed, retry", nil
	case errors.Is(err, export.ErrPDFDependencyMissing), errors.Is(err, export.ErrDOCXDependencyMissing):
		return http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", err.Error(), nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
