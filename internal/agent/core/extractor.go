package core

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/mohammad-safakhou/scout/config"
)

// Extractor asks the model to pull candidate profiles out of one fetched
// page. An exhausted model call degrades to an empty list so one bad page
// never discards the rest of the batch.
type Extractor struct {
	config  *config.Config
	invoker *RetryableInvoker
	stream  *Stream
	logger  *log.Logger
}

// NewExtractor creates a new extractor instance
func NewExtractor(cfg *config.Config, invoker *RetryableInvoker, stream *Stream) *Extractor {
	return &Extractor{
		config:  cfg,
		invoker: invoker,
		stream:  stream,
		logger:  log.New(log.Writer(), "[EXTRACT] ", log.LstdFlags),
	}
}

// Extract returns the candidate profiles found in one page, each tagged
// with the page URL as provenance. Candidates without a username are
// dropped.
func (e *Extractor) Extract(ctx context.Context, session *Session, page FetchedPage) []Candidate {
	var parsed struct {
		Profiles []Candidate `json:"profiles"`
	}
	_, err := e.invoker.Invoke(ctx, session, InvokeRequest{
		Stage:  KindExtract,
		Model:  e.config.LLM.Routing.Extraction,
		Prompt: e.extractionPrompt(session.OriginalQuery, page),
		Options: map[string]interface{}{
			"temperature": 0.2,
			"max_tokens":  2000,
		},
		Out: &parsed,
	})
	if err != nil {
		e.logger.Printf("extraction failed for %s: %v", page.URL, err)
		e.stream.Activity(ctx, session, KindExtract, StatusError, fmt.Sprintf("Extraction failed for: %s", page.Title))
		return nil
	}

	candidates := parsed.Profiles[:0]
	for _, c := range parsed.Profiles {
		if strings.TrimSpace(c.Username) == "" {
			continue
		}
		c.SourceURL = page.URL
		candidates = append(candidates, c)
	}
	return candidates
}

func (e *Extractor) extractionPrompt(originalQuery string, page FetchedPage) string {
	return fmt.Sprintf(`You are extracting social media profiles from a web page for a discovery service.

USER REQUEST: %s

PAGE TITLE: %s
PAGE URL: %s
PAGE CONTENT:
%s

Identify every social media profile mentioned in the page that is relevant to
the user request. Only include profiles you can actually find in the content;
never invent usernames. Use 0 for numeric fields the page does not state and
"" for unknown strings.

Respond with JSON only, in this exact format:
{"profiles": [{"username": "", "display_name": "", "bio": "", "follower_count": 0, "following_count": 0, "post_count": 0, "engagement_rate": 0.0, "category": "", "verified": false, "location": ""}]}`,
		originalQuery, page.Title, page.URL, page.Content)
}
