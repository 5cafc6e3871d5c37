package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"lexanchor/internal/anchor"
	"lexanchor/internal/editor"
	"lexanchor/internal/export"
	"lexanchor/internal/gitrepo"
	"lexanchor/internal/overlay"
	"lexanchor/internal/search"
)

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr
}

func decodeResponse(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response %q: %v", rr.Body.String(), err)
	}
	return payload
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t)
	handler := NewHTTPServer(env.svc, "*").Handler()

	rr := doJSON(t, handler, http.MethodGet, "/api/health", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if payload := decodeResponse(t, rr); payload["ok"] != true {
		t.Fatalf("expected ok=true, got %v", payload)
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Fatalf("expected a request id header")
	}
	if rr.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("expected CORS origin header")
	}
}

func TestReadyEndpoint(t *testing.T) {
	env := newTestEnv(t)
	handler := NewHTTPServer(env.svc, "*").Handler()

	rr := doJSON(t, handler, http.MethodGet, "/api/ready", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	env.store.pingFn = func(context.Context) error { return errors.New("connection refused") }
	rr = doJSON(t, handler, http.MethodGet, "/api/ready", nil)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	payload := decodeResponse(t, rr)
	if payload["status"] != "not_ready" {
		t.Fatalf("expected not_ready, got %v", payload["status"])
	}
	database := payload["checks"].(map[string]any)["database"].(map[string]any)
	if database["error"] != "connection refused" {
		t.Fatalf("expected database error detail, got %v", database)
	}
}

func TestReadyEndpointRedisDown(t *testing.T) {
	env := newTestEnv(t)
	handler := NewHTTPServer(env.svc, "*").Handler()
	env.redis.Close()

	rr := doJSON(t, handler, http.MethodGet, "/api/ready", nil)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
	redisCheck := decodeResponse(t, rr)["checks"].(map[string]any)["redis"].(map[string]any)
	if redisCheck["status"] != "error" {
		t.Fatalf("expected redis error, got %v", redisCheck)
	}
}

func TestUnknownRoute(t *testing.T) {
	env := newTestEnv(t)
	handler := NewHTTPServer(env.svc, "*").Handler()

	rr := doJSON(t, handler, http.MethodGet, "/api/nowhere", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	if payload := decodeResponse(t, rr); payload["code"] != "NOT_FOUND" {
		t.Fatalf("expected NOT_FOUND envelope, got %v", payload)
	}
}

func TestGetMissingDocument(t *testing.T) {
	env := newTestEnv(t)
	handler := NewHTTPServer(env.svc, "*").Handler()

	rr := doJSON(t, handler, http.MethodGet, "/api/documents/missing", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
}

func TestHighlightWithoutSession(t *testing.T) {
	env := newTestEnv(t)
	documentID := env.seedDocument(t)
	handler := NewHTTPServer(env.svc, "*").Handler()

	rr := doJSON(t, handler, http.MethodPost, "/api/documents/"+documentID+"/highlight?kind=fact", nil)
	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	if payload := decodeResponse(t, rr); payload["code"] != "SESSION_NOT_OPEN" {
		t.Fatalf("expected SESSION_NOT_OPEN, got %v", payload)
	}
}

func TestAnnotationWorkflow(t *testing.T) {
	env := newTestEnv(t)
	handler := NewHTTPServer(env.svc, "*").Handler()

	doc, err := json.Marshal(editor.Paragraphs(leaseFirst, leaseSecond))
	if err != nil {
		t.Fatalf("marshal doc: %v", err)
	}
	rr := doJSON(t, handler, http.MethodPost, "/api/documents", map[string]any{
		"title":  "Lease dispute",
		"doc":    json.RawMessage(doc),
		"author": "avery",
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	documentID := decodeResponse(t, rr)["document"].(map[string]any)["id"].(string)
	base := "/api/documents/" + documentID

	rr = doJSON(t, handler, http.MethodPut, base+"/analysis/fact", map[string]any{"requests": factRequests()})
	if rr.Code != http.StatusOK {
		t.Fatalf("put results: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, handler, http.MethodPost, base+"/session", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("open session: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	state := decodeResponse(t, rr)
	reports := state["reports"].([]any)
	if len(reports) != 1 || reports[0].(map[string]any)["placed"] != float64(1) {
		t.Fatalf("unexpected reports %v", reports)
	}

	rr = doJSON(t, handler, http.MethodPost, base+"/pointer", overlay.Event{
		Type: overlay.EventEnter,
		Over: overlay.OverMark,
		Kind: anchor.KindFact,
		ID:   "f1",
		Rect: overlay.Rect{Left: 10, Top: 10, Right: 50, Bottom: 24},
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("pointer: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	card := decodeResponse(t, rr)["card"].(map[string]any)
	if card["visible"] != true || card["data"].(map[string]any)["id"] != "f1" {
		t.Fatalf("expected visible f1 card, got %v", card)
	}

	rr = doJSON(t, handler, http.MethodGet, base+"/card/fact", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("card: expected 200, got %d", rr.Code)
	}

	rr = doJSON(t, handler, http.MethodPost, base+"/annotations/f1/accept", map[string]any{"author": "blake"})
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("accept without replacement: expected 422, got %d", rr.Code)
	}

	rr = doJSON(t, handler, http.MethodPost, base+"/annotations/f1/accept", map[string]any{
		"replacement": "paid rent on March 5",
		"author":      "blake",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("accept: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = doJSON(t, handler, http.MethodPost, base+"/annotations/f1/reject", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("reject of accepted annotation: expected 404, got %d", rr.Code)
	}

	rr = doJSON(t, handler, http.MethodGet, base+"/history", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("history: expected 200, got %d", rr.Code)
	}
	if commits := decodeResponse(t, rr)["commits"].([]any); len(commits) != 2 {
		t.Fatalf("expected 2 commits after accept, got %d", len(commits))
	}

	req := httptest.NewRequest(http.MethodGet, base+"/html", nil)
	htmlRR := httptest.NewRecorder()
	handler.ServeHTTP(htmlRR, req)
	if htmlRR.Code != http.StatusOK {
		t.Fatalf("html: expected 200, got %d", htmlRR.Code)
	}
	if !strings.HasPrefix(htmlRR.Header().Get("Content-Type"), "text/html") {
		t.Fatalf("expected text/html, got %q", htmlRR.Header().Get("Content-Type"))
	}
	if !strings.Contains(htmlRR.Body.String(), "March 5") {
		t.Fatalf("expected accepted text in rendered html")
	}

	rr = doJSON(t, handler, http.MethodDelete, base+"/annotations?kind=fact", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("clear: expected 200, got %d", rr.Code)
	}

	rr = doJSON(t, handler, http.MethodDelete, base+"/session", nil)
	if rr.Code != http.StatusOK || decodeResponse(t, rr)["closed"] != true {
		t.Fatalf("close session: got %d %s", rr.Code, rr.Body.String())
	}
	rr = doJSON(t, handler, http.MethodGet, base+"/session", nil)
	if rr.Code != http.StatusConflict {
		t.Fatalf("state after close: expected 409, got %d", rr.Code)
	}
}

func TestExportRoute(t *testing.T) {
	env := newTestEnv(t)
	documentID := env.seedDocument(t)
	handler := NewHTTPServer(env.svc, "*").Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/documents/"+documentID+"/export?format=html", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Header().Get("Content-Disposition"), ".html") {
		t.Fatalf("expected html attachment, got %q", rr.Header().Get("Content-Disposition"))
	}

	rr = doJSON(t, handler, http.MethodGet, "/api/documents/"+documentID+"/export?format=rtf", nil)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for unknown format, got %d", rr.Code)
	}
}

func TestSearchRoute(t *testing.T) {
	env := newTestEnv(t)
	var got search.Query
	env.search.searchFn = func(q search.Query) search.Response {
		got = q
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	handler := NewHTTPServer(env.svc, "*").Handler()

	rr := doJSON(t, handler, http.MethodGet, "/api/search?q=rent&kind=Fact&limit=500&documentId=doc-1", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if got.Text != "rent" || got.FilterKind != "fact" || got.Limit != 20 || got.FilterDocumentID != "doc-1" {
		t.Fatalf("unexpected query %+v", got)
	}

	for _, path := range []string{"/api/search", "/api/search?q=rent&kind=weather"} {
		rr = doJSON(t, handler, http.MethodGet, path, nil)
		if rr.Code != http.StatusUnprocessableEntity {
			t.Fatalf("%s: expected 422, got %d", path, rr.Code)
		}
	}
}

func TestMapError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{name: "domain", err: sessionNotOpen("doc-1"), status: http.StatusConflict, code: "SESSION_NOT_OPEN"},
		{name: "no repository", err: fmt.Errorf("load: %w", gitrepo.ErrNoRepository), status: http.StatusNotFound, code: "NOT_FOUND"},
		{name: "unknown annotation", err: overlay.ErrUnknownAnnotation, status: http.StatusNotFound, code: "ANNOTATION_NOT_FOUND"},
		{name: "cross-block edit", err: editor.ErrUnsupportedReplace, status: http.StatusUnprocessableEntity, code: "INVALID_EDIT"},
		{name: "no overlay", err: overlay.ErrNoOverlay, status: http.StatusUnprocessableEntity, code: "NO_OVERLAY"},
		{name: "closed engine", err: anchor.ErrEngineClosed, status: http.StatusConflict, code: "SESSION_CHANGED"},
		{name: "pdf missing", err: export.ErrPDFDependencyMissing, status: http.StatusServiceUnavailable, code: "EXPORT_UNAVAILABLE"},
		{name: "unknown", err: errors.New("boom"), status: http.StatusInternalServerError, code: "SERVER_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, code, _, _ := mapError(tt.err)
			if status != tt.status || code != tt.code {
				t.Fatalf("expected %d %s, got %d %s", tt.status, tt.code, status, code)
			}
		})
	}
}
