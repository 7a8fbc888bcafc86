package core

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/mohammad-safakhou/scout/config"
)

// SufficiencyAnalyzer judges whether the accumulated candidates answer the
// original request, and proposes follow-up queries when they do not.
type SufficiencyAnalyzer struct {
	config  *config.Config
	invoker *RetryableInvoker
	logger  *log.Logger
}

// NewSufficiencyAnalyzer creates a new analyzer instance
func NewSufficiencyAnalyzer(cfg *config.Config, invoker *RetryableInvoker) *SufficiencyAnalyzer {
	return &SufficiencyAnalyzer{
		config:  cfg,
		invoker: invoker,
		logger:  log.New(log.Writer(), "[ANALYZE] ", log.LstdFlags),
	}
}

// Analyze returns the sufficiency verdict for the session's current
// candidate set. When the model call exhausts its retries the analyzer
// fails open: the loop must terminate rather than spin on a broken
// analysis call, at the cost of possibly stopping early. The fail-open
// policy is tunable via discovery.analyzer_fail_open.
func (a *SufficiencyAnalyzer) Analyze(ctx context.Context, session *Session, attemptedQueries []string, iteration, maxIterations int) Verdict {
	var verdict Verdict
	_, err := a.invoker.Invoke(ctx, session, InvokeRequest{
		Stage:  KindAnalyze,
		Model:  a.config.LLM.Routing.Analysis,
		Prompt: a.analysisPrompt(session, attemptedQueries, iteration, maxIterations),
		Options: map[string]interface{}{
			"temperature": 0.2,
			"max_tokens":  800,
		},
		Out: &verdict,
	})
	if err != nil {
		a.logger.Printf("analysis failed: %v", err)
		if a.config.Discovery.AnalyzerFailOpen {
			return Verdict{Sufficient: true, Gaps: []string{"Unable to analyze results"}, FollowUpQueries: []string{}}
		}
		return Verdict{Sufficient: false, Gaps: []string{"Unable to analyze results"}, FollowUpQueries: []string{}}
	}
	return verdict
}

func (a *SufficiencyAnalyzer) analysisPrompt(session *Session, attemptedQueries []string, iteration, maxIterations int) string {
	candidates := session.Candidates()
	var sb strings.Builder
	for _, c := range candidates {
		fmt.Fprintf(&sb, "- @%s (%s): %s [followers=%d, category=%s, location=%s]\n",
			c.Username, c.DisplayName, c.Bio, c.FollowerCount, c.Category, c.Location)
	}
	if sb.Len() == 0 {
		sb.WriteString("(none)\n")
	}

	return fmt.Sprintf(`You are evaluating the results of a social profile discovery session.

USER REQUEST: %s

QUERIES ALREADY ATTEMPTED: %s

CANDIDATES FOUND SO FAR (%d):
%s
This is iteration %d of at most %d.

Decide whether the candidate set adequately answers the request. If it does
not, name what is missing and propose up to 2 new search queries that are
materially different from the attempted ones.

Respond with JSON only, in this exact format:
{"sufficient": true, "gaps": [], "follow_up_queries": []}`,
		session.OriginalQuery, strings.Join(attemptedQueries, "; "), len(candidates), sb.String(), iteration, maxIterations)
}
