package core

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/mohammad-safakhou/scout/config"
	"github.com/mohammad-safakhou/scout/internal/agent/telemetry"
	"github.com/mohammad-safakhou/scout/tools/web_fetch"
	"github.com/mohammad-safakhou/scout/tools/web_search"
)

// Searcher executes one query against the search provider and fetches the
// readable content of each hit. A provider failure degrades to an empty
// page list so one bad query never aborts an iteration.
type Searcher struct {
	config    config.DiscoveryConfig
	search    web_search.WebSearcher
	fetch     web_fetch.WebFetcher
	provider  string
	telemetry *telemetry.Telemetry
	stream    *Stream
	logger    *log.Logger
}

// NewSearcher creates a new searcher instance
func NewSearcher(cfg config.DiscoveryConfig, search web_search.WebSearcher, fetch web_fetch.WebFetcher, provider string, tele *telemetry.Telemetry, stream *Stream) *Searcher {
	return &Searcher{
		config:    cfg,
		search:    search,
		fetch:     fetch,
		provider:  provider,
		telemetry: tele,
		stream:    stream,
		logger:    log.New(log.Writer(), "[SEARCH] ", log.LstdFlags),
	}
}

// Search runs one query and returns the fetched pages that have both a
// title and a content body. Page content is truncated to the configured
// character budget.
func (s *Searcher) Search(ctx context.Context, session *Session, query string) []FetchedPage {
	start := time.Now()
	s.stream.Activity(ctx, session, KindSearch, StatusPending, fmt.Sprintf("Searching: %s", query))

	results, err := s.search.Discover(ctx, query, s.config.MaxResultsPerQuery, s.config.AllowedDomains, s.config.RecencyDays)
	if err != nil {
		s.logger.Printf("query %q failed: %v", query, err)
		s.stream.Activity(ctx, session, KindSearch, StatusError, fmt.Sprintf("Search failed for: %s", query))
		if s.telemetry != nil {
			s.telemetry.RecordSearchEvent(ctx, telemetry.SearchEvent{
				ID:       session.ID,
				Provider: s.provider,
				Query:    query,
				Duration: time.Since(start),
				Success:  false,
				Error:    err.Error(),
			})
		}
		return nil
	}

	var pages []FetchedPage
	for _, r := range results {
		if ctx.Err() != nil {
			break
		}
		page, err := s.fetch.Exec(ctx, r.URL)
		if err != nil {
			s.logger.Printf("fetch %s failed: %v", r.URL, err)
			continue
		}
		title := strings.TrimSpace(page.Title)
		if title == "" {
			title = strings.TrimSpace(r.Title)
		}
		content := strings.TrimSpace(page.Text)
		if title == "" || content == "" {
			continue
		}
		if len(content) > s.config.MaxContentChars {
			content = content[:s.config.MaxContentChars]
		}
		pages = append(pages, FetchedPage{Title: title, URL: r.URL, Content: content})
	}

	if s.telemetry != nil {
		s.telemetry.RecordSearchEvent(ctx, telemetry.SearchEvent{
			ID:       session.ID,
			Provider: s.provider,
			Query:    query,
			Duration: time.Since(start),
			Success:  true,
			Pages:    len(pages),
		})
	}
	s.stream.Activity(ctx, session, KindSearch, StatusComplete, fmt.Sprintf("Found %d pages for: %s", len(pages), query))
	return pages
}
