package core

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/mohammad-safakhou/scout/config"
)

// QueryPlanner turns the user's free-text request into a small set of
// diversified search queries.
type QueryPlanner struct {
	config  *config.Config
	invoker *RetryableInvoker
	logger  *log.Logger
}

// NewQueryPlanner creates a new query planner instance
func NewQueryPlanner(cfg *config.Config, invoker *RetryableInvoker) *QueryPlanner {
	return &QueryPlanner{
		config:  cfg,
		invoker: invoker,
		logger:  log.New(log.Writer(), "[PLANNER] ", log.LstdFlags),
	}
}

const maxPlannedQueries = 3

// Plan produces 2 to 3 search queries for the session's original request.
// When the model call exhausts its retries, a deterministic template set
// derived from the original query is returned instead, so the pipeline
// always has something to search.
func (p *QueryPlanner) Plan(ctx context.Context, session *Session) []string {
	prompt := p.planningPrompt(session.OriginalQuery)

	var parsed struct {
		Queries []string `json:"queries"`
	}
	_, err := p.invoker.Invoke(ctx, session, InvokeRequest{
		Stage:  KindPlanning,
		Model:  p.config.LLM.Routing.Planning,
		Prompt: prompt,
		Options: map[string]interface{}{
			"temperature": 0.3, // consistent planning beats creative planning
			"max_tokens":  500,
		},
		Out: &parsed,
	})
	if err != nil {
		p.logger.Printf("planning failed, using fallback queries: %v", err)
		return fallbackQueries(session.OriginalQuery)
	}

	queries := make([]string, 0, maxPlannedQueries)
	for _, q := range parsed.Queries {
		q = strings.TrimSpace(q)
		if q == "" {
			continue
		}
		queries = append(queries, q)
		if len(queries) == maxPlannedQueries {
			break
		}
	}
	if len(queries) == 0 {
		p.logger.Printf("planner returned no usable queries, using fallback")
		return fallbackQueries(session.OriginalQuery)
	}
	return queries
}

func (p *QueryPlanner) planningPrompt(originalQuery string) string {
	return fmt.Sprintf(`You are a search query planner for a social profile discovery service.

USER REQUEST: %s

Produce 2-3 diversified web search queries that together would surface social
media profiles matching the request. Vary the angle across queries: cover
demographics, niche, account type, and content type where applicable.

Respond with JSON only, in this exact format:
{"queries": ["query one", "query two"]}`, originalQuery)
}

// fallbackQueries derives a deterministic query set by appending generic
// discovery suffixes to the original request.
func fallbackQueries(originalQuery string) []string {
	q := strings.TrimSpace(originalQuery)
	return []string{
		q + " Instagram profiles",
		q + " top accounts to follow",
		q + " social media influencers",
	}
}
