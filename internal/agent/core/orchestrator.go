package core

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/mohammad-safakhou/scout/config"
	"github.com/mohammad-safakhou/scout/internal/agent/telemetry"
	"github.com/mohammad-safakhou/scout/tools/web_fetch"
	"github.com/mohammad-safakhou/scout/tools/web_search"
)

var orchestratorTracer trace.Tracer = otel.Tracer("scout/internal/agent/orchestrator")

// Orchestrator drives one discovery session through the
// plan, search, extract, aggregate, analyze loop.
type Orchestrator struct {
	config    *config.Config
	logger    *log.Logger
	telemetry *telemetry.Telemetry

	llmProvider LLMProvider
	searcher    web_search.WebSearcher
	fetcher     web_fetch.WebFetcher
	searchName  string
}

// NewOrchestrator creates a new orchestrator instance with providers
// built from configuration.
func NewOrchestrator(cfg *config.Config, logger *log.Logger, tele *telemetry.Telemetry) (*Orchestrator, error) {
	llmProvider, err := NewLLMProvider(cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM provider: %w", err)
	}

	searcher, fetcher, err := NewSearchTools(cfg.Sources, cfg.Discovery.MaxContentChars)
	if err != nil {
		return nil, fmt.Errorf("failed to create search tools: %w", err)
	}

	return newOrchestrator(cfg, logger, tele, llmProvider, searcher, fetcher), nil
}

func newOrchestrator(cfg *config.Config, logger *log.Logger, tele *telemetry.Telemetry, provider LLMProvider, searcher web_search.WebSearcher, fetcher web_fetch.WebFetcher) *Orchestrator {
	if logger == nil {
		logger = log.New(log.Writer(), "[ORCH] ", log.LstdFlags)
	}
	return &Orchestrator{
		config:      cfg,
		logger:      logger,
		telemetry:   tele,
		llmProvider: provider,
		searcher:    searcher,
		fetcher:     fetcher,
		searchName:  cfg.Sources.WebSearch.Provider,
	}
}

// LLM exposes the orchestrator's underlying LLM provider.
func (o *Orchestrator) LLM() LLMProvider {
	return o.llmProvider
}

// Discover runs one full discovery session for query, emitting progress
// onto stream. Exactly one terminal results event is emitted and the
// stream is closed before Discover returns, even when every stage
// degraded to its fallback. The only hard error is a cancelled context.
func (o *Orchestrator) Discover(ctx context.Context, query string, stream *Stream) (DiscoveryResult, error) {
	startTime := time.Now()
	session := NewSession(uuid.New().String(), query)

	ctx, span := orchestratorTracer.Start(ctx, "discovery.session",
		trace.WithAttributes(
			attribute.String("session.id", session.ID),
			attribute.String("session.query", query),
		))
	defer span.End()

	o.logger.Printf("session %s started: %q", session.ID, query)

	invoker := NewRetryableInvoker(o.llmProvider, o.telemetry, stream, nil,
		o.config.Discovery.MaxRetryAttempts, o.config.Discovery.RetryBaseDelay)
	planner := NewQueryPlanner(o.config, invoker)
	searcher := NewSearcher(o.config.Discovery, o.searcher, o.fetcher, o.searchName, o.telemetry, stream)
	extractor := NewExtractor(o.config, invoker, stream)
	analyzer := NewSufficiencyAnalyzer(o.config, invoker)

	attempted := make(map[string]struct{})
	iteration := 1
	pagesFetched := 0
	queriesIssued := 0

	stream.Activity(ctx, session, KindPlanning, StatusPending, "Planning search queries")
	queries := planner.Plan(ctx, session)
	stream.Activity(ctx, session, KindPlanning, StatusComplete, fmt.Sprintf("Planned %d queries", len(queries)))
	span.AddEvent("plan.complete", trace.WithAttributes(attribute.Int("queries", len(queries))))

	for len(queries) > 0 && ctx.Err() == nil {
		for _, q := range queries {
			attempted[q] = struct{}{}
		}
		queriesIssued += len(queries)

		pages := o.searchAll(ctx, session, searcher, queries)
		pagesFetched += len(pages)
		if len(pages) == 0 {
			break
		}
		for _, p := range pages {
			session.MarkProcessed(p.URL)
		}

		extracted := o.extractAll(ctx, session, extractor, pages)

		added := session.Merge(extracted)
		if len(added) > 0 {
			stream.Partial(ctx, PartialResults{
				SessionID:       session.ID,
				OriginalQuery:   session.OriginalQuery,
				Iteration:       iteration,
				Candidates:      session.Candidates(),
				TotalCandidates: session.CandidateCount(),
				NewlyAdded:      len(added),
			})
		}
		stream.Activity(ctx, session, KindAggregation, StatusComplete,
			fmt.Sprintf("Iteration %d added %d candidates (%d total)", iteration, len(added), session.CandidateCount()))

		stream.Activity(ctx, session, KindAnalyze, StatusPending, "Analyzing result sufficiency")
		verdict := analyzer.Analyze(ctx, session, attemptedList(attempted), iteration, o.config.Discovery.MaxIterations)
		if verdict.Sufficient {
			stream.Activity(ctx, session, KindAnalyze, StatusComplete, "Results are sufficient")
			break
		}
		stream.Activity(ctx, session, KindAnalyze, StatusComplete,
			fmt.Sprintf("Results insufficient, %d follow-up queries proposed", len(verdict.FollowUpQueries)))

		next := filterAttempted(verdict.FollowUpQueries, attempted)
		if len(next) == 0 {
			break
		}
		if iteration >= o.config.Discovery.MaxIterations {
			break
		}
		iteration++
		queries = next
	}

	if err := ctx.Err(); err != nil {
		o.logger.Printf("session %s cancelled after %v", session.ID, time.Since(startTime))
		span.RecordError(err)
		stream.Close()
		if o.telemetry != nil {
			o.telemetry.RecordSessionEvent(ctx, telemetry.SessionEvent{
				ID:          session.ID,
				Query:       session.OriginalQuery,
				StartTime:   startTime,
				EndTime:     time.Now(),
				SessionTime: time.Since(startTime),
				Success:     false,
				Error:       err.Error(),
				TokensUsed:  session.TokensUsed(),
				Iterations:  iteration,
				Candidates:  session.CandidateCount(),
			})
		}
		return DiscoveryResult{}, err
	}

	result := DiscoveryResult{
		ID:              session.ID,
		OriginalQuery:   session.OriginalQuery,
		Candidates:      session.Candidates(),
		TotalCandidates: session.CandidateCount(),
		Iterations:      iteration,
		CompletedSteps:  session.CompletedSteps(),
		TokensUsed:      session.TokensUsed(),
		ProcessingTime:  time.Since(startTime),
		CreatedAt:       time.Now(),
	}
	stream.Activity(ctx, session, KindComplete, StatusComplete,
		fmt.Sprintf("Discovery complete: %d candidates in %d iterations", result.TotalCandidates, result.Iterations))
	stream.Results(ctx, result)

	span.SetAttributes(
		attribute.Int("session.iterations", result.Iterations),
		attribute.Int("session.candidates", result.TotalCandidates),
		attribute.Int64("session.tokens", result.TokensUsed),
	)
	if o.telemetry != nil {
		o.telemetry.RecordSessionEvent(ctx, telemetry.SessionEvent{
			ID:            session.ID,
			Query:         session.OriginalQuery,
			StartTime:     startTime,
			EndTime:       time.Now(),
			SessionTime:   result.ProcessingTime,
			Success:       true,
			TokensUsed:    result.TokensUsed,
			Iterations:    result.Iterations,
			Candidates:    result.TotalCandidates,
			PagesFetched:  pagesFetched,
			QueriesIssued: queriesIssued,
		})
	}
	o.logger.Printf("session %s completed: %d candidates, %d iterations, %d tokens, %v",
		session.ID, result.TotalCandidates, result.Iterations, result.TokensUsed, result.ProcessingTime)
	return result, nil
}

// searchAll fans out one Searcher worker per query and joins them all,
// collecting whichever succeeded. Each worker writes into its own slot
// so the merge happens here, on the orchestrator goroutine.
func (o *Orchestrator) searchAll(ctx context.Context, session *Session, searcher *Searcher, queries []string) []FetchedPage {
	ctx, span := orchestratorTracer.Start(ctx, "discovery.search",
		trace.WithAttributes(attribute.Int("queries", len(queries))))
	defer span.End()

	shards := make([][]FetchedPage, len(queries))
	var wg sync.WaitGroup
	for i, q := range queries {
		wg.Add(1)
		go func(i int, q string) {
			defer wg.Done()
			shards[i] = searcher.Search(ctx, session, q)
		}(i, q)
	}
	wg.Wait()

	var pages []FetchedPage
	for _, shard := range shards {
		pages = append(pages, shard...)
	}
	span.SetAttributes(attribute.Int("pages", len(pages)))
	return pages
}

// extractAll fans out one Extractor worker per page and joins them all.
func (o *Orchestrator) extractAll(ctx context.Context, session *Session, extractor *Extractor, pages []FetchedPage) []Candidate {
	ctx, span := orchestratorTracer.Start(ctx, "discovery.extract",
		trace.WithAttributes(attribute.Int("pages", len(pages))))
	defer span.End()

	shards := make([][]Candidate, len(pages))
	var wg sync.WaitGroup
	for i, p := range pages {
		wg.Add(1)
		go func(i int, p FetchedPage) {
			defer wg.Done()
			shards[i] = extractor.Extract(ctx, session, p)
		}(i, p)
	}
	wg.Wait()

	var candidates []Candidate
	for _, shard := range shards {
		candidates = append(candidates, shard...)
	}
	span.SetAttributes(attribute.Int("candidates", len(candidates)))
	return candidates
}

func filterAttempted(queries []string, attempted map[string]struct{}) []string {
	var out []string
	for _, q := range queries {
		if q == "" {
			continue
		}
		if _, ok := attempted[q]; ok {
			continue
		}
		out = append(out, q)
	}
	return out
}

func attemptedList(attempted map[string]struct{}) []string {
	out := make([]string, 0, len(attempted))
	for q := range attempted {
		out = append(out, q)
	}
	return out
}
