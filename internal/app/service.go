package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"lexanchor/internal/anchor"
	"lexanchor/internal/config"
	"lexanchor/internal/editor"
	"lexanchor/internal/export"
	"lexanchor/internal/gitrepo"
	"lexanchor/internal/overlay"
	"lexanchor/internal/results"
	"lexanchor/internal/search"
	"lexanchor/internal/store"
	"lexanchor/internal/util"
)

type dataStore interface {
	ListDocuments(context.Context) ([]store.Document, error)
	GetDocument(context.Context, string) (store.Document, error)
	UpsertDocument(context.Context, store.Document) error
	ReplaceFindings(context.Context, string, string, []store.Finding) error
	ListFindings(context.Context, string, string) ([]store.Finding, error)
	Ping(ctx context.Context) error
}

type gitService interface {
	Save(string, gitrepo.Content, string, string) (store.CommitInfo, error)
	GetHeadContent(string) (gitrepo.Content, store.CommitInfo, error)
	GetContentByHash(string, string) (gitrepo.Content, store.CommitInfo, error)
	History(string, int) ([]store.CommitInfo, error)
}

type resultStore interface {
	Replace(context.Context, string, anchor.Kind, []anchor.Request) (results.ResultSet, error)
	Load(context.Context, string, anchor.Kind) (results.ResultSet, error)
	LoadAll(context.Context, string) ([]results.ResultSet, error)
	Subscribe(context.Context, string) (<-chan results.Update, func() error, error)
	Ping(context.Context) error
}

type searchService interface {
	Search(search.Query) search.Response
	IndexDocument(search.DocumentRecord)
	ReplaceFindings(documentID, kind string, findings []search.FindingRecord, stale []string)
}

type Service struct {
	cfg      config.Config
	store    dataStore
	git      gitService
	results  resultStore
	search   searchService
	exporter *export.Service
	matcher  *anchor.Matcher
	// afterFunc drives hover hide timers; nil means time.AfterFunc.
	afterFunc overlay.AfterFunc

	mu       sync.Mutex
	sessions map[string]*docSession

	ledgerMu sync.Mutex
	bg       sync.WaitGroup
}

func New(cfg config.Config, dataStore *store.PostgresStore, gitService *gitrepo.Service, resultStore *results.RedisStore, searchService *search.Service) *Service {
	return newService(cfg, dataStore, gitService, resultStore, searchService)
}

func newService(cfg config.Config, dataStore dataStore, gitService gitService, resultStore resultStore, searchService searchService) *Service {
	s := &Service{
		cfg:      cfg,
		store:    dataStore,
		git:      gitService,
		results:  resultStore,
		search:   searchService,
		matcher:  anchor.NewMatcher(cfg.Match),
		sessions: make(map[string]*docSession),
	}
	s.exporter = export.NewService(exportData{service: s})
	return s
}

// Ping checks the health of service dependencies (database, redis)
func (s *Service) Ping(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		return err
	}
	return s.results.Ping(ctx)
}

// Close ends every session and waits for background ledger writes.
func (s *Service) Close() {
	s.mu.Lock()
	sessions := make([]*docSession, 0, len(s.sessions))
	for id, sess := range s.sessions {
		sessions = append(sessions, sess)
		delete(s.sessions, id)
	}
	s.mu.Unlock()

	for _, sess := range sessions {
		sess.close()
	}
	s.bg.Wait()
}

func (s *Service) ListDocuments(ctx context.Context) ([]map[string]any, error) {
	documents, err := s.store.ListDocuments(ctx)
	if err != nil {
		return nil, err
	}

	items := make([]map[string]any, 0, len(documents))
	for _, doc := range documents {
		items = append(items, documentPayload(doc, s.hasSession(doc.ID)))
	}
	return items, nil
}

// CreateDocument saves a new document under a generated id.
func (s *Service) CreateDocument(ctx context.Context, title string, doc json.RawMessage, author string) (map[string]any, error) {
	return s.SaveDocument(ctx, util.NewID("doc"), title, doc, author)
}

// SaveDocument commits content as the document's new head and records its
// metadata. Annotation marks never reach the repository. An open session is
// reloaded from the saved content.
func (s *Service) SaveDocument(ctx context.Context, documentID, title string, doc json.RawMessage, author string) (map[string]any, error) {
	if strings.TrimSpace(documentID) == "" {
		return nil, validationError("document id is required", nil)
	}
	if len(strings.TrimSpace(string(doc))) == 0 {
		if head, _, err := s.git.GetHeadContent(documentID); err == nil {
			doc = head.Doc
		} else {
			doc = json.RawMessage(`{"type":"doc","content":[{"type":"paragraph"}]}`)
		}
	}
	parsed, err := editor.Parse(doc)
	if err != nil {
		return nil, validationError("doc must be a ProseMirror document", map[string]any{"reason": err.Error()})
	}
	clean := parsed.WithoutMarks(anchor.MarkType)
	title = firstNonBlank(title, deriveTitle(clean), "Untitled document")

	commit, changed, err := s.persist(ctx, documentID, title, clean, author, "Update document")
	if err != nil {
		return nil, err
	}

	reopened := false
	if s.hasSession(documentID) && changed {
		s.CloseSession(documentID)
		if _, err := s.OpenSession(ctx, documentID); err != nil {
			return nil, err
		}
		reopened = true
	}

	meta, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"document": documentPayload(meta, s.hasSession(documentID)),
		"commit":   commitPayload(commit),
		"changed":  changed,
		"reloaded": reopened,
	}, nil
}

func (s *Service) persist(ctx context.Context, documentID, title string, doc *editor.Node, author, message string) (store.CommitInfo, bool, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return store.CommitInfo{}, false, err
	}

	changed := true
	commit, err := s.git.Save(documentID, gitrepo.Content{Title: title, Doc: raw}, author, message)
	if errors.Is(err, gitrepo.ErrNoChanges) {
		changed = false
	} else if err != nil {
		return store.CommitInfo{}, false, err
	}

	if changed {
		if err := s.store.UpsertDocument(ctx, store.Document{ID: documentID, Title: title, UpdatedBy: author}); err != nil {
			return store.CommitInfo{}, false, err
		}
		s.search.IndexDocument(search.DocumentRecord{ID: documentID, Title: title, Body: doc.TextContent()})
	}
	return commit, changed, nil
}

// GetDocument returns metadata and content, at head or at version. With an
// open session and no version, the content is the live document including
// its annotation marks.
func (s *Service) GetDocument(ctx context.Context, documentID, version string) (map[string]any, error) {
	meta, err := s.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}

	var (
		content gitrepo.Content
		commit  store.CommitInfo
	)
	if version == "" {
		content, commit, err = s.git.GetHeadContent(documentID)
	} else {
		content, commit, err = s.git.GetContentByHash(documentID, version)
	}
	if err != nil {
		return nil, err
	}

	doc := content.Doc
	live := false
	if sess, ok := s.lookup(documentID); ok && version == "" {
		if liveDoc, err := sess.editor.JSON(); err == nil {
			doc = liveDoc
			live = true
		}
	}

	return map[string]any{
		"document": documentPayload(meta, s.hasSession(documentID)),
		"content": map[string]any{
			"title": content.Title,
			"doc":   doc,
			"live":  live,
		},
		"commit": commitPayload(commit),
	}, nil
}

func (s *Service) History(ctx context.Context, documentID string, limit int) (map[string]any, error) {
	if _, err := s.store.GetDocument(ctx, documentID); err != nil {
		return nil, err
	}
	commits, err := s.git.History(documentID, limit)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(commits))
	for _, commit := range commits {
		items = append(items, commitPayload(commit))
	}
	return map[string]any{"documentId": documentID, "commits": items}, nil
}

// PutResults replaces a document's result set for kind. Open sessions pick
// the change up through the result store's update channel.
func (s *Service) PutResults(ctx context.Context, documentID, kindName string, requests []anchor.Request) (map[string]any, error) {
	kind, err := parseKind(kindName)
	if err != nil {
		return nil, err
	}
	set, err := s.results.Replace(ctx, documentID, kind, requests)
	if err != nil {
		return nil, err
	}
	return map[string]any{"resultSet": set, "sessionOpen": s.hasSession(documentID)}, nil
}

// Highlight runs a pass now and returns its report. An empty kind runs every
// kind.
func (s *Service) Highlight(ctx context.Context, documentID, kindName string) (map[string]any, error) {
	sess, err := s.session(documentID)
	if err != nil {
		return nil, err
	}
	if !sess.manual.Allow() {
		return nil, highlightThrottled(documentID)
	}
	if strings.TrimSpace(kindName) == "" {
		return map[string]any{"reports": s.runAll(sess)}, nil
	}
	kind, err := parseKind(kindName)
	if err != nil {
		return nil, err
	}
	return map[string]any{"reports": []anchor.Report{s.runPass(sess, kind)}}, nil
}

// ClearAnnotations removes the kind's annotation marks, or every kind's when
// kind is empty, and stops their reruns until new results arrive.
func (s *Service) ClearAnnotations(ctx context.Context, documentID, kindName string) (map[string]any, error) {
	sess, err := s.session(documentID)
	if err != nil {
		return nil, err
	}
	var kind anchor.Kind
	if strings.TrimSpace(kindName) != "" {
		if kind, err = parseKind(kindName); err != nil {
			return nil, err
		}
	}

	sess.stopCascades(kind)
	sess.passMu.Lock()
	defer sess.passMu.Unlock()
	if err := sess.highlighter.Marks().Clear(kind); err != nil {
		return nil, err
	}
	return map[string]any{"ok": true, "kind": kind}, nil
}

// AcceptSuggestion replaces the text under an annotation with replacement,
// removes the annotation and commits the edited document. When the
// annotation spans several ranges, the first receives the replacement and
// the others are deleted.
func (s *Service) AcceptSuggestion(ctx context.Context, documentID, annotationID, replacement, author string) (map[string]any, error) {
	sess, err := s.session(documentID)
	if err != nil {
		return nil, err
	}

	sess.passMu.Lock()
	ranges, err := sess.highlighter.Marks().Locate(annotationID)
	if err == nil && len(ranges) == 0 {
		err = annotationNotFound(annotationID)
	}
	if err == nil {
		err = replaceRanges(sess.editor, ranges, replacement)
	}
	if err == nil {
		err = sess.highlighter.Marks().ClearID(annotationID)
	}
	if err == nil {
		sess.dismiss(annotationID)
	}
	sess.passMu.Unlock()
	if err != nil {
		return nil, err
	}

	head, _, err := s.git.GetHeadContent(documentID)
	if err != nil {
		return nil, err
	}
	commit, changed, err := s.persist(ctx, documentID, head.Title, sess.editor.Doc().WithoutMarks(anchor.MarkType), author, "Accept suggestion "+annotationID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"annotationId": annotationID,
		"ranges":       ranges,
		"commit":       commitPayload(commit),
		"changed":      changed,
	}, nil
}

// replaceRanges puts replacement in the first range and empties the rest,
// as a single edit that applies fully or not at all.
func replaceRanges(ed *editor.Editor, ranges []anchor.PosRange, replacement string) error {
	edits := make([]editor.Edit, len(ranges))
	for i, r := range ranges {
		edits[i] = editor.Edit{From: r.From, To: r.To}
	}
	edits[0].Text = replacement
	return ed.ReplaceRanges(edits)
}

// RejectSuggestion removes an annotation's marks and keeps it out of later
// passes of this session. The document text is untouched.
func (s *Service) RejectSuggestion(ctx context.Context, documentID, annotationID string) (map[string]any, error) {
	sess, err := s.session(documentID)
	if err != nil {
		return nil, err
	}

	sess.passMu.Lock()
	defer sess.passMu.Unlock()
	ranges, err := sess.highlighter.Marks().Locate(annotationID)
	if err != nil {
		return nil, err
	}
	if len(ranges) == 0 {
		return nil, annotationNotFound(annotationID)
	}
	if err := sess.highlighter.Marks().ClearID(annotationID); err != nil {
		return nil, err
	}
	sess.dismiss(annotationID)
	return map[string]any{"annotationId": annotationID, "ok": true}, nil
}

// Pointer feeds one hover event to the session's overlay routers.
func (s *Service) Pointer(ctx context.Context, documentID string, event overlay.Event) (map[string]any, error) {
	sess, err := s.session(documentID)
	if err != nil {
		return nil, err
	}
	kind, state, err := sess.hub.Route(event)
	if err != nil {
		return nil, err
	}
	return map[string]any{"kind": kind, "card": state}, nil
}

func (s *Service) Card(ctx context.Context, documentID, kindName string) (map[string]any, error) {
	sess, err := s.session(documentID)
	if err != nil {
		return nil, err
	}
	kind, err := parseKind(kindName)
	if err != nil {
		return nil, err
	}
	router, err := sess.hub.Router(kind)
	if err != nil {
		return nil, err
	}
	return map[string]any{"kind": kind, "card": router.State()}, nil
}

func (s *Service) RenderHTML(ctx context.Context, documentID, version string, includeFindings bool) (string, error) {
	html, _, err := s.exporter.RenderHTML(ctx, export.Request{
		DocumentID:      documentID,
		Version:         version,
		IncludeFindings: includeFindings,
	})
	return html, err
}

func (s *Service) Export(ctx context.Context, documentID, format, version string, includeFindings bool) (*export.Result, error) {
	parsed, ok := export.ParseFormat(format)
	if !ok {
		return nil, validationError("format must be pdf, docx or html", map[string]any{"format": format})
	}
	return s.exporter.Export(ctx, export.Request{
		DocumentID:      documentID,
		Version:         version,
		Format:          parsed,
		IncludeFindings: includeFindings,
	})
}

func (s *Service) SearchFindings(ctx context.Context, query search.Query) search.Response {
	if query.Limit <= 0 || query.Limit > 100 {
		query.Limit = 20
	}
	if query.Offset < 0 {
		query.Offset = 0
	}
	return s.search.Search(query)
}

// recordFindings writes a pass's outcomes to the findings ledger and the
// search index in the background.
func (s *Service) recordFindings(documentID string, kind anchor.Kind, requests []anchor.Request, report anchor.Report) {
	now := time.Now().UTC()
	findings := make([]store.Finding, 0, len(requests))
	records := make([]search.FindingRecord, 0, len(requests))
	for i, request := range requests {
		if i >= len(report.Outcomes) {
			break
		}
		outcome := report.Outcomes[i]
		findings = append(findings, store.Finding{
			ID:         request.ID,
			DocumentID: documentID,
			Kind:       string(kind),
			SearchText: request.SearchText,
			Color:      request.Color,
			Placed:     outcome.Placed,
			Strategy:   string(outcome.Strategy),
			Reason:     outcome.Reason,
			RecordedAt: now,
		})
		records = append(records, search.FindingRecord{
			ID:           search.FindingKey(documentID, string(kind), request.ID),
			AnnotationID: request.ID,
			DocumentID:   documentID,
			Kind:         string(kind),
			SearchText:   request.SearchText,
			Placed:       outcome.Placed,
			Strategy:     string(outcome.Strategy),
		})
	}

	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		s.ledgerMu.Lock()
		defer s.ledgerMu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		previous, err := s.store.ListFindings(ctx, documentID, string(kind))
		if err != nil {
			log.Printf("app: list findings %s/%s: %v", documentID, kind, err)
		}
		if err := s.store.ReplaceFindings(ctx, documentID, string(kind), findings); err != nil {
			log.Printf("app: record findings %s/%s: %v", documentID, kind, err)
			return
		}
		s.search.ReplaceFindings(documentID, string(kind), records, staleFindingKeys(documentID, kind, previous, findings))
	}()
}

func staleFindingKeys(documentID string, kind anchor.Kind, previous, current []store.Finding) []string {
	keep := make(map[string]struct{}, len(current))
	for _, finding := range current {
		keep[finding.ID] = struct{}{}
	}
	var stale []string
	for _, finding := range previous {
		if _, ok := keep[finding.ID]; !ok {
			stale = append(stale, search.FindingKey(documentID, string(kind), finding.ID))
		}
	}
	return stale
}

func parseKind(value string) (anchor.Kind, error) {
	kind, ok := anchor.ParseKind(value)
	if !ok {
		return "", validationError("kind must be one of fact, compliance, argument, plagiarism", map[string]any{"kind": value})
	}
	return kind, nil
}

func documentPayload(doc store.Document, sessionOpen bool) map[string]any {
	return map[string]any{
		"id":          doc.ID,
		"title":       doc.Title,
		"updatedBy":   doc.UpdatedBy,
		"updatedAt":   doc.UpdatedAt,
		"sessionOpen": sessionOpen,
	}
}

func commitPayload(commit store.CommitInfo) map[string]any {
	return map[string]any{
		"hash":      commit.Hash,
		"message":   commit.Message,
		"author":    commit.Author,
		"createdAt": commit.CreatedAt,
	}
}

// deriveTitle uses the document's first non-empty block as a title.
func deriveTitle(doc *editor.Node) string {
	for _, block := range doc.Content {
		text := strings.TrimSpace(block.TextContent())
		if text == "" {
			continue
		}
		if runes := []rune(text); len(runes) > 80 {
			text = strings.TrimSpace(string(runes[:80]))
		}
		return text
	}
	return ""
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func isNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows) || errors.Is(err, gitrepo.ErrNoRepository)
}
