package app

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"lexanchor/internal/anchor"
	"lexanchor/internal/editor"
	"lexanchor/internal/overlay"
)

// docSession is one open document: its editor, the highlighter driving it
// and the hover routers of its overlay kinds.
type docSession struct {
	id          string
	editor      *editor.Editor
	highlighter *anchor.Highlighter
	hub         *overlay.Hub
	ctx         context.Context
	cancel      context.CancelFunc
	stopUpdates func() error
	// manual throttles client-requested passes.
	manual *rate.Limiter

	// passMu serializes highlight passes with accept/reject edits.
	passMu sync.Mutex

	mu        sync.Mutex
	results   map[anchor.Kind][]anchor.Request
	dismissed map[string]struct{}
	reports   map[anchor.Kind]anchor.Report
	cascades  map[anchor.Kind]context.CancelFunc
	closed    bool
	running   sync.WaitGroup
}

// OpenSession loads the document's head into an editor, places every stored
// result set and starts following result updates. Opening an open session
// returns its state.
func (s *Service) OpenSession(ctx context.Context, documentID string) (map[string]any, error) {
	if sess, ok := s.lookup(documentID); ok {
		return sess.statePayload(), nil
	}

	content, _, err := s.git.GetHeadContent(documentID)
	if err != nil {
		return nil, err
	}
	doc, err := editor.Parse(content.Doc)
	if err != nil {
		return nil, fmt.Errorf("load document %s: %w", documentID, err)
	}
	sets, err := s.results.LoadAll(ctx, documentID)
	if err != nil {
		return nil, err
	}

	ed := editor.New(doc)
	sessCtx, cancel := context.WithCancel(context.Background())
	sess := &docSession{
		id:          documentID,
		editor:      ed,
		highlighter: anchor.NewHighlighter(ed, s.matcher),
		hub: overlay.NewHub(overlay.HubConfig{
			HideDelays: map[anchor.Kind]time.Duration{
				anchor.KindFact:       s.cfg.HoverFact,
				anchor.KindCompliance: s.cfg.HoverCompliance,
				anchor.KindArgument:   s.cfg.HoverArgument,
			},
			AfterFunc: s.afterFunc,
		}),
		ctx:       sessCtx,
		cancel:    cancel,
		manual:    rate.NewLimiter(rate.Every(s.cfg.HighlightEvery), s.cfg.HighlightBurst),
		results:   make(map[anchor.Kind][]anchor.Request),
		dismissed: make(map[string]struct{}),
		reports:   make(map[anchor.Kind]anchor.Report),
		cascades:  make(map[anchor.Kind]context.CancelFunc),
	}
	for _, set := range sets {
		sess.results[set.Kind] = set.Requests
	}

	updates, stop, err := s.results.Subscribe(sessCtx, documentID)
	if err != nil {
		cancel()
		ed.Close()
		return nil, err
	}
	sess.stopUpdates = stop

	s.mu.Lock()
	if existing, ok := s.sessions[documentID]; ok {
		s.mu.Unlock()
		sess.close()
		return existing.statePayload(), nil
	}
	s.sessions[documentID] = sess
	s.mu.Unlock()

	s.runAll(sess)
	for _, set := range sets {
		s.startCascade(sess, set.Kind, true)
	}

	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		for update := range updates {
			s.applyUpdate(sess, update.Kind)
		}
	}()

	log.Printf("app: session opened for %s with %d result sets", documentID, len(sets))
	return sess.statePayload(), nil
}

// CloseSession tears the session down. Passes still running abort silently.
func (s *Service) CloseSession(documentID string) bool {
	s.mu.Lock()
	sess, ok := s.sessions[documentID]
	delete(s.sessions, documentID)
	s.mu.Unlock()
	if !ok {
		return false
	}
	sess.close()
	return true
}

func (s *Service) SessionState(documentID string) (map[string]any, error) {
	sess, err := s.session(documentID)
	if err != nil {
		return nil, err
	}
	return sess.statePayload(), nil
}

func (s *Service) lookup(documentID string) (*docSession, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[documentID]
	return sess, ok
}

func (s *Service) hasSession(documentID string) bool {
	_, ok := s.lookup(documentID)
	return ok
}

func (s *Service) session(documentID string) (*docSession, error) {
	sess, ok := s.lookup(documentID)
	if !ok {
		return nil, sessionNotOpen(documentID)
	}
	return sess, nil
}

func (s *Service) applyUpdate(sess *docSession, kind anchor.Kind) {
	set, err := s.results.Load(sess.ctx, sess.id, kind)
	if err != nil {
		if sess.ctx.Err() == nil {
			log.Printf("app: load %s results for %s: %v", kind, sess.id, err)
		}
		return
	}
	sess.mu.Lock()
	sess.results[kind] = set.Requests
	sess.mu.Unlock()
	s.startCascade(sess, kind, false)
}

// startCascade replaces the kind's running rerun cascade. With skipFirst the
// scheduler's immediate pass is left out because the caller just ran it.
func (s *Service) startCascade(sess *docSession, kind anchor.Kind, skipFirst bool) {
	sess.mu.Lock()
	if sess.closed {
		sess.mu.Unlock()
		return
	}
	if cancel, ok := sess.cascades[kind]; ok {
		cancel()
	}
	ctx, cancel := context.WithCancel(sess.ctx)
	sess.cascades[kind] = cancel
	sess.running.Add(1)
	sess.mu.Unlock()

	scheduler := anchor.Scheduler{Delays: s.cfg.RetryDelays}
	unsubscribe := func() {}
	if s.cfg.SettleOnEdits {
		scheduler.Settled, unsubscribe = sess.editor.Subscribe()
	}

	go func() {
		defer sess.running.Done()
		defer unsubscribe()
		skip := skipFirst
		scheduler.Run(ctx, func() {
			if skip {
				skip = false
				return
			}
			if ctx.Err() != nil {
				return
			}
			s.runPass(sess, kind)
		})
	}()
}

func (s *Service) runAll(sess *docSession) []anchor.Report {
	reports := make([]anchor.Report, 0, len(anchor.Kinds))
	for _, kind := range anchor.Kinds {
		if len(sess.requests(kind)) == 0 && !sess.hasReport(kind) {
			continue
		}
		reports = append(reports, s.runPass(sess, kind))
	}
	return reports
}

func (s *Service) runPass(sess *docSession, kind anchor.Kind) anchor.Report {
	sess.passMu.Lock()
	defer sess.passMu.Unlock()

	requests := sess.requests(kind)
	report := sess.highlighter.Run(kind, requests)
	sess.hub.SetResults(kind, sess.fullSet(kind))

	sess.mu.Lock()
	sess.reports[kind] = report
	sess.mu.Unlock()

	if !report.Aborted {
		s.recordFindings(sess.id, kind, requests, report)
	}
	return report
}

// requests returns the kind's current result set minus dismissed findings.
func (sess *docSession) requests(kind anchor.Kind) []anchor.Request {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.collectLocked(kind, false)
}

// fullSet keeps dismissed findings so positional ids still line up with the
// stored set.
func (sess *docSession) fullSet(kind anchor.Kind) []anchor.Request {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.collectLocked(kind, true)
}

func (sess *docSession) collectLocked(kind anchor.Kind, withDismissed bool) []anchor.Request {
	all := sess.results[kind]
	out := make([]anchor.Request, 0, len(all))
	for _, request := range all {
		if _, ok := sess.dismissed[request.ID]; ok && !withDismissed {
			continue
		}
		if request.Kind == "" {
			request.Kind = kind
		}
		out = append(out, request)
	}
	return out
}

func (sess *docSession) hasReport(kind anchor.Kind) bool {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	_, ok := sess.reports[kind]
	return ok
}

// dismiss keeps annotationID out of later passes and closes its hover card.
func (sess *docSession) dismiss(annotationID string) {
	sess.mu.Lock()
	sess.dismissed[annotationID] = struct{}{}
	sess.mu.Unlock()
	sess.hub.Dismiss(annotationID)
}

// stopCascades cancels the reruns of kind, or of every kind when empty.
func (sess *docSession) stopCascades(kind anchor.Kind) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	for k, cancel := range sess.cascades {
		if kind == "" || k == kind {
			cancel()
			delete(sess.cascades, k)
		}
	}
}

// close cancels the session and returns once its rerun cascades have
// exited, so no pass records findings afterwards.
func (sess *docSession) close() {
	sess.mu.Lock()
	sess.closed = true
	sess.mu.Unlock()
	sess.cancel()
	if sess.stopUpdates != nil {
		if err := sess.stopUpdates(); err != nil {
			log.Printf("app: stop result updates for %s: %v", sess.id, err)
		}
	}
	sess.editor.Close()
	sess.running.Wait()
	sess.hub.HideAll()
}

func (sess *docSession) statePayload() map[string]any {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	counts := make(map[anchor.Kind]int, len(sess.results))
	for kind, requests := range sess.results {
		counts[kind] = len(requests)
	}
	reports := make([]anchor.Report, 0, len(sess.reports))
	for _, kind := range anchor.Kinds {
		if report, ok := sess.reports[kind]; ok {
			reports = append(reports, report)
		}
	}
	dismissed := make([]string, 0, len(sess.dismissed))
	for id := range sess.dismissed {
		dismissed = append(dismissed, id)
	}
	sort.Strings(dismissed)

	return map[string]any{
		"documentId": sess.id,
		"version":    sess.editor.Version(),
		"undoDepth":  sess.editor.UndoDepth(),
		"results":    counts,
		"reports":    reports,
		"dismissed":  dismissed,
	}
}
