package server

import (
	"context"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	core "github.com/mohammad-safakhou/scout/internal/agent/core"
)

// stubDiscoverer emits a fixed event sequence and result.
type stubDiscoverer struct {
	result core.DiscoveryResult
}

func (s stubDiscoverer) Discover(ctx context.Context, query string, stream *core.Stream) (core.DiscoveryResult, error) {
	session := core.NewSession(s.result.ID, query)
	stream.Activity(ctx, session, core.KindPlanning, core.StatusPending, "Planning search queries")
	stream.Partial(ctx, core.PartialResults{SessionID: s.result.ID, OriginalQuery: query,
		Iteration: 1, Candidates: s.result.Candidates, TotalCandidates: len(s.result.Candidates), NewlyAdded: len(s.result.Candidates)})
	stream.Results(ctx, s.result)
	return s.result, nil
}

func newDiscoverTestHandler() *DiscoverHandler {
	return &DiscoverHandler{
		Orch: stubDiscoverer{result: core.DiscoveryResult{
			ID:              "disc-1",
			OriginalQuery:   "fashion bloggers in NYC",
			Candidates:      []core.Candidate{{Username: "alice"}},
			TotalCandidates: 1,
			Iterations:      1,
		}},
		Logger: log.New(log.Writer(), "[TEST] ", log.LstdFlags),
	}
}

func TestDiscoverRejectsEmptyQuery(t *testing.T) {
	e := echo.New()
	h := newDiscoverTestHandler()
	req := httptest.NewRequest(http.MethodPost, "/api/discover", strings.NewReader(`{"query": "   "}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()

	err := h.discover(e.NewContext(req, rec))
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty query, got %v", err)
	}
}

func TestDiscoverStreamsSSEFrames(t *testing.T) {
	e := echo.New()
	h := newDiscoverTestHandler()
	req := httptest.NewRequest(http.MethodPost, "/api/discover", strings.NewReader(`{"query": "fashion bloggers in NYC"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()

	if err := h.discover(e.NewContext(req, rec)); err != nil {
		t.Fatalf("discover: %v", err)
	}

	if ct := rec.Header().Get(echo.HeaderContentType); ct != "text/event-stream" {
		t.Fatalf("expected text/event-stream, got %q", ct)
	}
	body := rec.Body.String()
	for _, want := range []string{"event: activity\n", "event: partial-results\n", "event: results\n"} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q frame in body:\n%s", want, body)
		}
	}
	if !strings.Contains(body, `"username":"alice"`) {
		t.Fatalf("expected candidate payload in body:\n%s", body)
	}
	if strings.Count(body, "event: results\n") != 1 {
		t.Fatalf("expected exactly one terminal frame:\n%s", body)
	}
	// the terminal frame is the last one on the stream
	lastActivity := strings.LastIndex(body, "event: activity\n")
	resultsAt := strings.Index(body, "event: results\n")
	if resultsAt < lastActivity {
		t.Fatalf("terminal frame must come last:\n%s", body)
	}
}
