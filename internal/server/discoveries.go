package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/labstack/echo/v4"

	core "github.com/mohammad-safakhou/scout/internal/agent/core"
	"github.com/mohammad-safakhou/scout/internal/index"
	"github.com/mohammad-safakhou/scout/internal/store"
)

// DiscoveriesHandler serves stored discovery history and candidate search.
type DiscoveriesHandler struct {
	Store *store.Store
	Index *index.CandidateIndex
}

func (h *DiscoveriesHandler) Register(g *echo.Group) {
	g.GET("", h.list)
	g.GET("/search", h.search)
	g.GET("/:id", h.get)
	g.DELETE("/:id", h.delete)
	g.POST("/schedule", h.schedule)
}

func (h *DiscoveriesHandler) list(c echo.Context) error {
	userID, _ := c.Get("user_id").(string)
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	records, err := h.Store.ListDiscoveries(c.Request().Context(), userID, limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	out := make([]DiscoverySummary, 0, len(records))
	for _, r := range records {
		out = append(out, DiscoverySummary{
			ID:             r.ID,
			Query:          r.Query,
			Iterations:     r.Iterations,
			TokensUsed:     r.TokensUsed,
			ProcessingMS:   r.ProcessingMS,
			CandidateCount: r.CandidateCount,
			CreatedAt:      r.CreatedAt.Format(time.RFC3339),
		})
	}
	return c.JSON(http.StatusOK, out)
}

func (h *DiscoveriesHandler) get(c echo.Context) error {
	userID, _ := c.Get("user_id").(string)
	rec, candidates, err := h.Store.GetDiscovery(c.Request().Context(), userID, c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "discovery not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if candidates == nil {
		candidates = []core.Candidate{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"id":              rec.ID,
		"query":           rec.Query,
		"iterations":      rec.Iterations,
		"completed_steps": rec.CompletedSteps,
		"tokens_used":     rec.TokensUsed,
		"processing_ms":   rec.ProcessingMS,
		"created_at":      rec.CreatedAt.Format(time.RFC3339),
		"candidates":      candidates,
	})
}

func (h *DiscoveriesHandler) delete(c echo.Context) error {
	userID, _ := c.Get("user_id").(string)
	err := h.Store.DeleteDiscovery(c.Request().Context(), userID, c.Param("id"))
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "discovery not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *DiscoveriesHandler) search(c echo.Context) error {
	q := strings.TrimSpace(c.QueryParam("q"))
	if q == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "q must not be empty")
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	hits, err := h.Index.Search(q, limit)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if hits == nil {
		hits = []index.Hit{}
	}
	return c.JSON(http.StatusOK, hits)
}

func (h *DiscoveriesHandler) schedule(c echo.Context) error {
	userID, _ := c.Get("user_id").(string)
	var req ScheduleRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query must not be empty")
	}
	if _, err := cronexpr.Parse(req.CronExpr); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid cron expression")
	}
	id, err := h.Store.CreateScheduledQuery(c.Request().Context(), userID, req.Query, req.CronExpr)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, map[string]string{"id": id})
}
