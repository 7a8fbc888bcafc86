package core

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Candidate is one discovered social profile.
type Candidate struct {
	Username       string  `json:"username"`
	DisplayName    string  `json:"display_name"`
	Bio            string  `json:"bio"`
	FollowerCount  int64   `json:"follower_count"`
	FollowingCount int64   `json:"following_count"`
	PostCount      int64   `json:"post_count"`
	EngagementRate float64 `json:"engagement_rate"`
	Category       string  `json:"category"`
	Verified       bool    `json:"verified"`
	Location       string  `json:"location,omitempty"`
	SourceURL      string  `json:"source_url"`
}

// FetchedPage is the readable content of one search result page.
type FetchedPage struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Content string `json:"content"`
}

// Verdict is the sufficiency analyzer's judgement over the accumulated candidates.
type Verdict struct {
	Sufficient      bool     `json:"sufficient"`
	Gaps            []string `json:"gaps"`
	FollowUpQueries []string `json:"follow_up_queries"`
}

// DiscoveryResult is the terminal output of a discovery session.
type DiscoveryResult struct {
	ID              string        `json:"id"`
	OriginalQuery   string        `json:"original_query"`
	Candidates      []Candidate   `json:"candidates"`
	TotalCandidates int           `json:"total_candidates"`
	Iterations      int           `json:"iterations"`
	CompletedSteps  int64         `json:"completed_steps"`
	TokensUsed      int64         `json:"tokens_used"`
	ProcessingTime  time.Duration `json:"processing_time"`
	CreatedAt       time.Time     `json:"created_at"`
}

// Session carries the mutable state of one discovery run.
//
// The candidates slice and the seen/processed sets are owned by the
// orchestrator goroutine and must only be touched there. The step and
// token counters are atomic because invoker attempts run on worker
// goroutines during fan-out.
type Session struct {
	ID            string
	OriginalQuery string
	StartedAt     time.Time

	completedSteps atomic.Int64
	tokensUsed     atomic.Int64

	mu         sync.Mutex
	candidates []Candidate
	seen       map[string]struct{}
	processed  map[string]struct{}
}

// NewSession creates a session for the given user query.
func NewSession(id, query string) *Session {
	return &Session{
		ID:            id,
		OriginalQuery: query,
		StartedAt:     time.Now(),
		seen:          make(map[string]struct{}),
		processed:     make(map[string]struct{}),
	}
}

// AddStep increments the completed step counter and returns the new value.
func (s *Session) AddStep() int64 { return s.completedSteps.Add(1) }

// AddTokens adds input plus output tokens to the running total.
func (s *Session) AddTokens(in, out int64) { s.tokensUsed.Add(in + out) }

// CompletedSteps returns the current step count.
func (s *Session) CompletedSteps() int64 { return s.completedSteps.Load() }

// TokensUsed returns the current token total.
func (s *Session) TokensUsed() int64 { return s.tokensUsed.Load() }

// Candidates returns a copy of the accumulated candidates in insertion order.
func (s *Session) Candidates() []Candidate {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Candidate, len(s.candidates))
	copy(out, s.candidates)
	return out
}

// CandidateCount returns the number of accumulated candidates.
func (s *Session) CandidateCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.candidates)
}

// Merge folds newly extracted candidates into the session, first-seen-wins
// by username. It returns the candidates that were actually added.
func (s *Session) Merge(extracted []Candidate) []Candidate {
	s.mu.Lock()
	defer s.mu.Unlock()
	var added []Candidate
	for _, c := range extracted {
		key := normalizeUsername(c.Username)
		if key == "" {
			continue
		}
		if _, ok := s.seen[key]; ok {
			continue
		}
		s.seen[key] = struct{}{}
		s.candidates = append(s.candidates, c)
		added = append(added, c)
	}
	return added
}

// MarkProcessed records that a page URL has been fetched and extracted.
func (s *Session) MarkProcessed(url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processed[url] = struct{}{}
}

// ProcessedCount returns how many distinct page URLs this session handled.
func (s *Session) ProcessedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.processed)
}

// ModelInfo contains information about an LLM model
type ModelInfo struct {
	Name            string   `json:"name"`
	Provider        string   `json:"provider"`
	MaxTokens       int      `json:"max_tokens"`
	CostPer1KInput  float64  `json:"cost_per_1k_input"`
	CostPer1KOutput float64  `json:"cost_per_1k_output"`
	Capabilities    []string `json:"capabilities"`
	Description     string   `json:"description"`
}

// LLMProvider defines the interface for LLM providers
type LLMProvider interface {
	// Generate generates a response for the given prompt
	Generate(ctx context.Context, prompt string, model string, options map[string]interface{}) (string, error)

	// GenerateWithTokens generates a response and reports token usage
	GenerateWithTokens(ctx context.Context, prompt string, model string, options map[string]interface{}) (response string, inputTokens int64, outputTokens int64, err error)

	// GetAvailableModels returns the configured model keys
	GetAvailableModels() []string

	// GetModelInfo returns information about a specific model
	GetModelInfo(model string) (ModelInfo, error)

	// CalculateCost calculates the cost of a request in USD
	CalculateCost(inputTokens, outputTokens int64, model string) float64
}
