package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	core "github.com/mohammad-safakhou/scout/internal/agent/core"
	"github.com/mohammad-safakhou/scout/internal/index"
	"github.com/mohammad-safakhou/scout/internal/store"
)

// Discoverer runs one discovery session onto a stream. Satisfied by
// core.Orchestrator.
type Discoverer interface {
	Discover(ctx context.Context, query string, stream *core.Stream) (core.DiscoveryResult, error)
}

// DiscoverHandler runs discovery sessions and streams their events to the
// client as server-sent events.
type DiscoverHandler struct {
	Orch   Discoverer
	Store  *store.Store
	Cache  *store.Cache
	Index  *index.CandidateIndex
	Logger *log.Logger
}

func (h *DiscoverHandler) Register(g *echo.Group) {
	g.POST("/discover", h.discover)
	g.GET("/discover/cached", h.cached)
}

// cached serves the most recent terminal result for a query without
// starting a new session.
func (h *DiscoverHandler) cached(c echo.Context) error {
	query := strings.TrimSpace(c.QueryParam("q"))
	if query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "q must not be empty")
	}
	if h.Cache == nil {
		return echo.NewHTTPError(http.StatusNotFound, "no cached result")
	}
	result, found, err := h.Cache.GetResult(c.Request().Context(), query)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !found {
		return echo.NewHTTPError(http.StatusNotFound, "no cached result")
	}
	return c.JSON(http.StatusOK, result)
}

// discover starts a session and streams activity, partial-results and the
// terminal results frame. The terminal result is persisted after the
// stream closes; persistence failures are logged, never surfaced to the
// stream, which has already delivered the result.
func (h *DiscoverHandler) discover(c echo.Context) error {
	var req DiscoverRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query must not be empty")
	}
	userID, _ := c.Get("user_id").(string)

	ctx := c.Request().Context()
	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.WriteHeader(http.StatusOK)
	flusher, ok := res.Writer.(http.Flusher)
	if !ok {
		return echo.NewHTTPError(http.StatusInternalServerError, "streaming unsupported")
	}

	stream := core.NewStream(256)
	type outcome struct {
		result core.DiscoveryResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := h.Orch.Discover(ctx, req.Query, stream)
		done <- outcome{result, err}
	}()

	for ev := range stream.Events() {
		if err := writeSSE(res, flusher, ev); err != nil {
			// client went away; context cancellation stops the session
			break
		}
	}

	out := <-done
	if out.err != nil {
		h.Logger.Printf("session for %q ended early: %v", req.Query, out.err)
		return nil
	}
	h.persist(userID, out.result)
	return nil
}

func writeSSE(res *echo.Response, flusher http.Flusher, ev core.Event) error {
	var payload any
	switch ev.Type {
	case core.EventActivity:
		payload = ev.Activity
	case core.EventPartialResults:
		payload = ev.Partial
	case core.EventResults:
		payload = ev.Results
	default:
		return nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(res, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

// persist stores the terminal result durably, caches it and indexes its
// candidates. Runs after the stream is closed, on a fresh context so a
// disconnected client cannot abort persistence.
func (h *DiscoverHandler) persist(userID string, result core.DiscoveryResult) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if h.Store != nil && userID != "" {
		if err := h.Store.SaveDiscovery(ctx, userID, result); err != nil {
			h.Logger.Printf("persist discovery %s: %v", result.ID, err)
		}
	}
	if h.Cache != nil {
		if err := h.Cache.SetResult(ctx, result); err != nil {
			h.Logger.Printf("cache discovery %s: %v", result.ID, err)
		}
	}
	if h.Index != nil {
		if err := h.Index.IndexDiscovery(result.ID, result.OriginalQuery, result.Candidates); err != nil {
			h.Logger.Printf("index discovery %s: %v", result.ID, err)
		}
	}
}
