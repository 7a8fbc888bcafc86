package core

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/mohammad-safakhou/scout/config"
	fetchmodels "github.com/mohammad-safakhou/scout/tools/web_fetch/models"
	searchmodels "github.com/mohammad-safakhou/scout/tools/web_search/models"
)

// stubSearch serves canned results per query.
type stubSearch struct {
	results map[string][]searchmodels.Result
	err     error
}

func (s stubSearch) Discover(ctx context.Context, q string, k int, sites []string, recency int) ([]searchmodels.Result, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := s.results[q]
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

// stubFetch serves canned page content per URL.
type stubFetch struct {
	pages map[string]fetchmodels.Result
	err   error
}

func (f stubFetch) Exec(ctx context.Context, url string) (fetchmodels.Result, error) {
	if f.err != nil {
		return fetchmodels.Result{}, f.err
	}
	if page, ok := f.pages[url]; ok {
		return page, nil
	}
	return fetchmodels.Result{URL: url, Status: 599}, nil
}

func searcherTestConfig() config.DiscoveryConfig {
	return config.DiscoveryConfig{
		MaxIterations:      2,
		MaxResultsPerQuery: 10,
		MaxContentChars:    15000,
		MaxRetryAttempts:   3,
	}
}

func TestSearchReturnsFilteredPages(t *testing.T) {
	search := stubSearch{results: map[string][]searchmodels.Result{
		"q": {
			{Title: "Good", URL: "https://a.example/1"},
			{Title: "No content", URL: "https://a.example/2"},
			{Title: "Fallback Title", URL: "https://a.example/3"},
			{Title: "", URL: "https://a.example/4"},
		},
	}}
	fetch := stubFetch{pages: map[string]fetchmodels.Result{
		"https://a.example/1": {URL: "https://a.example/1", Title: "Good", Text: "profile content", Status: 200},
		"https://a.example/2": {URL: "https://a.example/2", Title: "No content", Text: "   ", Status: 200},
		"https://a.example/3": {URL: "https://a.example/3", Title: "", Text: "content without extracted title", Status: 200},
		"https://a.example/4": {URL: "https://a.example/4", Title: "", Text: "content with no title anywhere", Status: 200},
	}}

	s := NewSearcher(searcherTestConfig(), search, fetch, "stub", nil, NewStream(64))
	pages := s.Search(context.Background(), NewSession("s1", "q"), "q")
	if len(pages) != 2 {
		t.Fatalf("expected 2 pages after filtering, got %d", len(pages))
	}
	if pages[0].URL != "https://a.example/1" {
		t.Fatalf("unexpected first page %+v", pages[0])
	}
	// page 3 keeps the search result title when readability found none
	if pages[1].URL != "https://a.example/3" || pages[1].Title != "Fallback Title" {
		t.Fatalf("unexpected second page %+v", pages[1])
	}
}

func TestSearchIsolatesProviderError(t *testing.T) {
	s := NewSearcher(searcherTestConfig(), stubSearch{err: errors.New("rate limited")}, stubFetch{}, "stub", nil, NewStream(64))
	pages := s.Search(context.Background(), NewSession("s1", "q"), "q")
	if pages != nil {
		t.Fatalf("expected empty page list on provider error, got %d pages", len(pages))
	}
}

func TestSearchSkipsFailedFetches(t *testing.T) {
	search := stubSearch{results: map[string][]searchmodels.Result{
		"q": {{Title: "Only", URL: "https://a.example/1"}},
	}}
	s := NewSearcher(searcherTestConfig(), search, stubFetch{err: errors.New("browser crashed")}, "stub", nil, NewStream(64))
	pages := s.Search(context.Background(), NewSession("s1", "q"), "q")
	if len(pages) != 0 {
		t.Fatalf("expected no pages when every fetch fails, got %d", len(pages))
	}
}

func TestSearchTruncatesContent(t *testing.T) {
	cfg := searcherTestConfig()
	cfg.MaxContentChars = 10
	long := strings.Repeat("x", 100)
	search := stubSearch{results: map[string][]searchmodels.Result{
		"q": {{Title: "Long", URL: "https://a.example/1"}},
	}}
	fetch := stubFetch{pages: map[string]fetchmodels.Result{
		"https://a.example/1": {URL: "https://a.example/1", Title: "Long", Text: long, Status: 200},
	}}

	s := NewSearcher(cfg, search, fetch, "stub", nil, NewStream(64))
	pages := s.Search(context.Background(), NewSession("s1", "q"), "q")
	if len(pages) != 1 {
		t.Fatalf("expected 1 page, got %d", len(pages))
	}
	if len(pages[0].Content) != 10 {
		t.Fatalf("expected content truncated to 10 chars, got %d", len(pages[0].Content))
	}
}
