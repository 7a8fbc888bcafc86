package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mohammad-safakhou/scout/config"
	fetchmodels "github.com/mohammad-safakhou/scout/tools/web_fetch/models"
	searchmodels "github.com/mohammad-safakhou/scout/tools/web_search/models"
)

// scriptedLLM answers planning, extraction and analysis prompts from a
// canned script. Extraction responses are keyed by the page URL embedded
// in the prompt; analysis responses are served in call order.
type scriptedLLM struct {
	planning    string
	extractions map[string]string
	analyses    []string

	mu           sync.Mutex
	analysisCall int
}

func (s *scriptedLLM) Generate(ctx context.Context, prompt string, model string, options map[string]interface{}) (string, error) {
	resp, _, _, err := s.GenerateWithTokens(ctx, prompt, model, options)
	return resp, err
}

func (s *scriptedLLM) GenerateWithTokens(ctx context.Context, prompt string, model string, options map[string]interface{}) (string, int64, int64, error) {
	switch {
	case strings.Contains(prompt, "search query planner"):
		return s.planning, 10, 10, nil
	case strings.Contains(prompt, "extracting social media profiles"):
		for url, resp := range s.extractions {
			if strings.Contains(prompt, "PAGE URL: "+url) {
				return resp, 10, 10, nil
			}
		}
		return `{"profiles": []}`, 10, 10, nil
	case strings.Contains(prompt, "evaluating the results"):
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.analysisCall >= len(s.analyses) {
			return "", 0, 0, errors.New("no scripted analysis left")
		}
		resp := s.analyses[s.analysisCall]
		s.analysisCall++
		return resp, 10, 10, nil
	default:
		return "", 0, 0, fmt.Errorf("unexpected prompt: %.60s", prompt)
	}
}

func (s *scriptedLLM) GetAvailableModels() []string { return []string{"stub"} }

func (s *scriptedLLM) GetModelInfo(model string) (ModelInfo, error) {
	return ModelInfo{Name: model}, nil
}

func (s *scriptedLLM) CalculateCost(inputTokens, outputTokens int64, model string) float64 {
	return 0
}

func orchestratorTestConfig() *config.Config {
	return &config.Config{
		LLM: config.LLMConfig{Routing: config.LLMRoutingConfig{Planning: "stub", Extraction: "stub", Analysis: "stub"}},
		Discovery: config.DiscoveryConfig{
			MaxIterations:      2,
			MaxResultsPerQuery: 10,
			MaxContentChars:    15000,
			MaxRetryAttempts:   3,
			RetryBaseDelay:     time.Millisecond,
			AnalyzerFailOpen:   true,
		},
		Sources: config.SourcesConfig{WebSearch: config.WebSearchConfig{Provider: "stub"}},
	}
}

func profileJSON(username string) string {
	return fmt.Sprintf(`{"profiles": [{"username": "%s", "display_name": "%s", "category": "fashion"}]}`, username, username)
}

func page(url, title string) fetchmodels.Result {
	return fetchmodels.Result{URL: url, Title: title, Text: "listicle naming several accounts", Status: 200}
}

// drainStream consumes a session stream on a separate goroutine and hands
// back every event once the stream closes.
func drainStream(stream *Stream) func() []Event {
	var events []Event
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range stream.Events() {
			events = append(events, ev)
		}
	}()
	return func() []Event {
		<-done
		return events
	}
}

func TestDiscoverTwoIterationScenario(t *testing.T) {
	llm := &scriptedLLM{
		planning: `{"queries": ["fashion bloggers NYC Instagram", "NYC style influencers"]}`,
		extractions: map[string]string{
			"https://site.example/p1": profileJSON("alice"),
			"https://site.example/p2": profileJSON("bob"),
			"https://site.example/p3": profileJSON("carol"),
			"https://site.example/p4": profileJSON("alice"), // duplicate across the batch
			"https://site.example/p5": profileJSON("dave"),
		},
		analyses: []string{
			`{"sufficient": false, "gaps": ["missing micro-influencers"], "follow_up_queries": ["NYC fashion micro-influencers"]}`,
			`{"sufficient": true, "gaps": [], "follow_up_queries": []}`,
		},
	}
	search := stubSearch{results: map[string][]searchmodels.Result{
		"fashion bloggers NYC Instagram": {
			{Title: "Top bloggers", URL: "https://site.example/p1"},
			{Title: "Style list", URL: "https://site.example/p2"},
		},
		"NYC style influencers": {
			{Title: "Influencer roundup", URL: "https://site.example/p3"},
			{Title: "Repeat feature", URL: "https://site.example/p4"},
		},
		"NYC fashion micro-influencers": {
			{Title: "Micro list", URL: "https://site.example/p5"},
		},
	}}
	fetch := stubFetch{pages: map[string]fetchmodels.Result{
		"https://site.example/p1": page("https://site.example/p1", "Top bloggers"),
		"https://site.example/p2": page("https://site.example/p2", "Style list"),
		"https://site.example/p3": page("https://site.example/p3", "Influencer roundup"),
		"https://site.example/p4": page("https://site.example/p4", "Repeat feature"),
		"https://site.example/p5": page("https://site.example/p5", "Micro list"),
	}}

	o := newOrchestrator(orchestratorTestConfig(), nil, nil, llm, search, fetch)
	stream := NewStream(256)
	collect := drainStream(stream)

	result, err := o.Discover(context.Background(), "fashion bloggers in NYC", stream)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}

	if result.Iterations != 2 {
		t.Fatalf("expected 2 iterations, got %d", result.Iterations)
	}
	got := make(map[string]bool)
	for _, c := range result.Candidates {
		if got[c.Username] {
			t.Fatalf("duplicate username %s in terminal results", c.Username)
		}
		got[c.Username] = true
	}
	for _, want := range []string{"alice", "bob", "carol", "dave"} {
		if !got[want] {
			t.Fatalf("expected candidate %s in terminal results, got %v", want, result.Candidates)
		}
	}
	if len(result.Candidates) != 4 || result.TotalCandidates != 4 {
		t.Fatalf("expected exactly 4 candidates, got %d (total %d)", len(result.Candidates), result.TotalCandidates)
	}
	if result.TokensUsed == 0 {
		t.Fatal("expected token usage to accumulate")
	}

	events := collect()
	var partials []*PartialResults
	var terminals []*DiscoveryResult
	for _, ev := range events {
		switch ev.Type {
		case EventPartialResults:
			partials = append(partials, ev.Partial)
		case EventResults:
			terminals = append(terminals, ev.Results)
		}
	}
	if len(terminals) != 1 {
		t.Fatalf("expected exactly one terminal results event, got %d", len(terminals))
	}
	if events[len(events)-1].Type != EventResults {
		t.Fatalf("terminal event must be last, got %s", events[len(events)-1].Type)
	}
	if len(partials) != 2 {
		t.Fatalf("expected 2 partial-results events, got %d", len(partials))
	}
	if partials[0].NewlyAdded != 3 || partials[0].Iteration != 1 {
		t.Fatalf("unexpected first partial: %+v", partials[0])
	}
	if partials[1].NewlyAdded != 1 || partials[1].Iteration != 2 || partials[1].TotalCandidates != 4 {
		t.Fatalf("unexpected second partial: %+v", partials[1])
	}
}

func TestDiscoverZeroPagesTerminatesImmediately(t *testing.T) {
	llm := &scriptedLLM{
		planning: `{"queries": ["ghost query one", "ghost query two"]}`,
		analyses: []string{`{"sufficient": true, "gaps": [], "follow_up_queries": []}`},
	}
	o := newOrchestrator(orchestratorTestConfig(), nil, nil, llm, stubSearch{}, stubFetch{})
	stream := NewStream(64)
	collect := drainStream(stream)

	result, err := o.Discover(context.Background(), "nobody anywhere", stream)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(result.Candidates) != 0 {
		t.Fatalf("expected empty candidate list, got %d", len(result.Candidates))
	}
	if result.Iterations != 1 {
		t.Fatalf("expected iterations=1, got %d", result.Iterations)
	}
	if llm.analysisCall != 0 {
		t.Fatalf("analyzer must not run when no pages were fetched, got %d calls", llm.analysisCall)
	}

	events := collect()
	for _, ev := range events {
		if ev.Type == EventPartialResults {
			t.Fatal("no partial-results events expected for an empty session")
		}
	}
	if events[len(events)-1].Type != EventResults {
		t.Fatal("expected a terminal results event even for an empty session")
	}
}

func TestDiscoverStopsAtIterationBudget(t *testing.T) {
	llm := &scriptedLLM{
		planning: `{"queries": ["seed query"]}`,
		extractions: map[string]string{
			"https://site.example/p1": profileJSON("alice"),
			"https://site.example/p2": profileJSON("bob"),
		},
		analyses: []string{
			`{"sufficient": false, "gaps": ["more"], "follow_up_queries": ["second query"]}`,
			`{"sufficient": false, "gaps": ["even more"], "follow_up_queries": ["third query"]}`,
		},
	}
	search := stubSearch{results: map[string][]searchmodels.Result{
		"seed query":   {{Title: "One", URL: "https://site.example/p1"}},
		"second query": {{Title: "Two", URL: "https://site.example/p2"}},
		"third query":  {{Title: "Three", URL: "https://site.example/p1"}},
	}}
	fetch := stubFetch{pages: map[string]fetchmodels.Result{
		"https://site.example/p1": page("https://site.example/p1", "One"),
		"https://site.example/p2": page("https://site.example/p2", "Two"),
	}}

	o := newOrchestrator(orchestratorTestConfig(), nil, nil, llm, search, fetch)
	stream := NewStream(256)
	collect := drainStream(stream)

	result, err := o.Discover(context.Background(), "endless appetite", stream)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	collect()

	if result.Iterations != 2 {
		t.Fatalf("expected iteration budget of 2 to hold, got %d", result.Iterations)
	}
	if llm.analysisCall != 2 {
		t.Fatalf("expected 2 analysis calls, got %d", llm.analysisCall)
	}
}

func TestDiscoverSkipsAlreadyAttemptedFollowUps(t *testing.T) {
	llm := &scriptedLLM{
		planning: `{"queries": ["seed query"]}`,
		extractions: map[string]string{
			"https://site.example/p1": profileJSON("alice"),
		},
		analyses: []string{
			`{"sufficient": false, "gaps": ["more"], "follow_up_queries": ["seed query"]}`,
		},
	}
	search := stubSearch{results: map[string][]searchmodels.Result{
		"seed query": {{Title: "One", URL: "https://site.example/p1"}},
	}}
	fetch := stubFetch{pages: map[string]fetchmodels.Result{
		"https://site.example/p1": page("https://site.example/p1", "One"),
	}}

	o := newOrchestrator(orchestratorTestConfig(), nil, nil, llm, search, fetch)
	stream := NewStream(256)
	collect := drainStream(stream)

	result, err := o.Discover(context.Background(), "repeat offender", stream)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	collect()

	if result.Iterations != 1 {
		t.Fatalf("expected to stop after iteration 1 when all follow-ups were attempted, got %d", result.Iterations)
	}
}

func TestDiscoverCancellationReturnsError(t *testing.T) {
	llm := &scriptedLLM{planning: `{"queries": ["seed query"]}`}
	search := stubSearch{results: map[string][]searchmodels.Result{
		"seed query": {{Title: "One", URL: "https://site.example/p1"}},
	}}
	fetch := stubFetch{pages: map[string]fetchmodels.Result{
		"https://site.example/p1": page("https://site.example/p1", "One"),
	}}

	o := newOrchestrator(orchestratorTestConfig(), nil, nil, llm, search, fetch)
	stream := NewStream(256)
	collect := drainStream(stream)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := o.Discover(ctx, "cancelled before start", stream); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	collect()
}
