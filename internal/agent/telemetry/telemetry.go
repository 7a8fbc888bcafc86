package telemetry

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/mohammad-safakhou/scout/config"
)

// Telemetry provides monitoring and cost tracking for discovery sessions
type Telemetry struct {
	config      config.TelemetryConfig
	logger      *log.Logger
	metrics     *Metrics
	costTracker *CostTracker
	mu          sync.RWMutex
}

// Metrics holds various performance metrics
type Metrics struct {
	// Session metrics
	TotalSessions      int64
	SuccessfulSessions int64
	FailedSessions     int64
	AverageSessionTime time.Duration

	// Stage metrics
	StageExecutions   map[string]int64
	StageSuccessRates map[string]float64
	StageAverageTimes map[string]time.Duration

	// LLM metrics
	LLMRequests   map[string]int64
	LLMTokensUsed map[string]int64

	// Search metrics
	SearchRequests     map[string]int64
	SearchSuccessRates map[string]float64
	PagesFetchedTotal  int64
	CandidatesTotal    int64
}

// CostTracker tracks costs across LLM models and operations
type CostTracker struct {
	ModelCosts     map[string]float64
	OperationCosts map[string]float64
	TotalCost      float64
	TotalTokens    int64
}

// SessionEvent represents one complete discovery session
type SessionEvent struct {
	ID            string
	Query         string
	StartTime     time.Time
	EndTime       time.Time
	SessionTime   time.Duration
	Success       bool
	Error         string
	Cost          float64
	TokensUsed    int64
	Iterations    int
	Candidates    int
	ModelsUsed    []string
	PagesFetched  int
	QueriesIssued int
}

// StageEvent represents one pipeline stage execution
type StageEvent struct {
	ID         string
	Stage      string // planning, search, extract, analyze
	Duration   time.Duration
	Success    bool
	Error      string
	Cost       float64
	TokensUsed int64
	ModelUsed  string
}

// SearchEvent represents a search provider access
type SearchEvent struct {
	ID       string
	Provider string
	Query    string
	Duration time.Duration
	Success  bool
	Error    string
	Pages    int
}

// NewTelemetry creates a new telemetry instance
func NewTelemetry(cfg config.TelemetryConfig) *Telemetry {
	t := &Telemetry{
		config: cfg,
		logger: log.New(log.Writer(), "[TELEMETRY] ", log.LstdFlags),
		metrics: &Metrics{
			StageExecutions:    make(map[string]int64),
			StageSuccessRates:  make(map[string]float64),
			StageAverageTimes:  make(map[string]time.Duration),
			LLMRequests:        make(map[string]int64),
			LLMTokensUsed:      make(map[string]int64),
			SearchRequests:     make(map[string]int64),
			SearchSuccessRates: make(map[string]float64),
		},
		costTracker: &CostTracker{
			ModelCosts:     make(map[string]float64),
			OperationCosts: make(map[string]float64),
		},
	}

	// Periodic logs can be disabled via config
	if cfg.Enabled && cfg.PeriodicLogs {
		go t.startCostReporting()
	}

	return t
}

// RecordSessionEvent records a complete discovery session
func (t *Telemetry) RecordSessionEvent(ctx context.Context, event SessionEvent) {
	if !t.config.Enabled {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.metrics.TotalSessions++
	if event.Success {
		t.metrics.SuccessfulSessions++
	} else {
		t.metrics.FailedSessions++
	}

	if t.metrics.TotalSessions == 1 {
		t.metrics.AverageSessionTime = event.SessionTime
	} else {
		total := t.metrics.AverageSessionTime * time.Duration(t.metrics.TotalSessions-1)
		t.metrics.AverageSessionTime = (total + event.SessionTime) / time.Duration(t.metrics.TotalSessions)
	}

	for _, model := range event.ModelsUsed {
		t.metrics.LLMRequests[model]++
	}
	t.metrics.PagesFetchedTotal += int64(event.PagesFetched)
	t.metrics.CandidatesTotal += int64(event.Candidates)

	t.costTracker.TotalCost += event.Cost
	t.costTracker.TotalTokens += event.TokensUsed

	t.logger.Printf("Session Event: ID=%s, Success=%t, Iterations=%d, Candidates=%d, Duration=%v, Tokens=%d",
		event.ID, event.Success, event.Iterations, event.Candidates, event.SessionTime, event.TokensUsed)
}

// RecordStageEvent records a pipeline stage execution
func (t *Telemetry) RecordStageEvent(ctx context.Context, event StageEvent) {
	if !t.config.Enabled {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.metrics.StageExecutions[event.Stage]++

	currentSuccess := t.metrics.StageSuccessRates[event.Stage]
	currentExecutions := t.metrics.StageExecutions[event.Stage]
	if event.Success {
		currentSuccess += 1.0
	}
	t.metrics.StageSuccessRates[event.Stage] = currentSuccess / float64(currentExecutions)

	currentAvg := t.metrics.StageAverageTimes[event.Stage]
	if currentExecutions == 1 {
		t.metrics.StageAverageTimes[event.Stage] = event.Duration
	} else {
		total := currentAvg * time.Duration(currentExecutions-1)
		t.metrics.StageAverageTimes[event.Stage] = (total + event.Duration) / time.Duration(currentExecutions)
	}

	if event.ModelUsed != "" {
		t.metrics.LLMRequests[event.ModelUsed]++
		t.metrics.LLMTokensUsed[event.ModelUsed] += event.TokensUsed
		t.costTracker.ModelCosts[event.ModelUsed] += event.Cost
	}
	t.costTracker.TotalCost += event.Cost
	t.costTracker.TotalTokens += event.TokensUsed

	t.logger.Printf("Stage Event: Stage=%s, Success=%t, Duration=%v, Cost=$%.4f",
		event.Stage, event.Success, event.Duration, event.Cost)
}

// RecordSearchEvent records a search provider access
func (t *Telemetry) RecordSearchEvent(ctx context.Context, event SearchEvent) {
	if !t.config.Enabled {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.metrics.SearchRequests[event.Provider]++

	currentSuccess := t.metrics.SearchSuccessRates[event.Provider]
	currentRequests := t.metrics.SearchRequests[event.Provider]
	if event.Success {
		currentSuccess += 1.0
	}
	t.metrics.SearchSuccessRates[event.Provider] = currentSuccess / float64(currentRequests)
	t.metrics.PagesFetchedTotal += int64(event.Pages)

	t.logger.Printf("Search Event: Provider=%s, Success=%t, Duration=%v, Pages=%d",
		event.Provider, event.Success, event.Duration, event.Pages)
}

// GetMetrics returns current metrics snapshot
func (t *Telemetry) GetMetrics() Metrics {
	t.mu.RLock()
	defer t.mu.RUnlock()

	// Deep copy to avoid races on the maps
	metrics := *t.metrics
	metrics.StageExecutions = make(map[string]int64)
	metrics.StageSuccessRates = make(map[string]float64)
	metrics.StageAverageTimes = make(map[string]time.Duration)
	metrics.LLMRequests = make(map[string]int64)
	metrics.LLMTokensUsed = make(map[string]int64)
	metrics.SearchRequests = make(map[string]int64)
	metrics.SearchSuccessRates = make(map[string]float64)

	for k, v := range t.metrics.StageExecutions {
		metrics.StageExecutions[k] = v
	}
	for k, v := range t.metrics.StageSuccessRates {
		metrics.StageSuccessRates[k] = v
	}
	for k, v := range t.metrics.StageAverageTimes {
		metrics.StageAverageTimes[k] = v
	}
	for k, v := range t.metrics.LLMRequests {
		metrics.LLMRequests[k] = v
	}
	for k, v := range t.metrics.LLMTokensUsed {
		metrics.LLMTokensUsed[k] = v
	}
	for k, v := range t.metrics.SearchRequests {
		metrics.SearchRequests[k] = v
	}
	for k, v := range t.metrics.SearchSuccessRates {
		metrics.SearchSuccessRates[k] = v
	}

	return metrics
}

// CostSummary provides a summary of costs
type CostSummary struct {
	TotalCost      float64
	TotalTokens    int64
	ModelCosts     map[string]float64
	OperationCosts map[string]float64
}

// GetCostSummary returns current cost summary
func (t *Telemetry) GetCostSummary() CostSummary {
	t.mu.RLock()
	defer t.mu.RUnlock()

	summary := CostSummary{
		TotalCost:      t.costTracker.TotalCost,
		TotalTokens:    t.costTracker.TotalTokens,
		ModelCosts:     make(map[string]float64),
		OperationCosts: make(map[string]float64),
	}
	for k, v := range t.costTracker.ModelCosts {
		summary.ModelCosts[k] = v
	}
	for k, v := range t.costTracker.OperationCosts {
		summary.OperationCosts[k] = v
	}
	return summary
}

// startCostReporting starts periodic cost reporting
func (t *Telemetry) startCostReporting() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		costs := t.GetCostSummary()
		t.logger.Printf("Cost Report: Total=$%.4f, Tokens=%d", costs.TotalCost, costs.TotalTokens)
		for model, cost := range costs.ModelCosts {
			t.logger.Printf("  Model %s: $%.4f", model, cost)
		}
	}
}

// Shutdown gracefully shuts down the telemetry system
func (t *Telemetry) Shutdown() {
	metrics := t.GetMetrics()
	costs := t.GetCostSummary()
	if metrics.TotalSessions == 0 {
		return
	}
	t.logger.Printf("Final Report:")
	t.logger.Printf("  Total Sessions: %d", metrics.TotalSessions)
	t.logger.Printf("  Success Rate: %.2f%%", float64(metrics.SuccessfulSessions)/float64(metrics.TotalSessions)*100)
	t.logger.Printf("  Average Session Time: %v", metrics.AverageSessionTime)
	t.logger.Printf("  Total Cost: $%.4f", costs.TotalCost)
	t.logger.Printf("  Total Tokens: %d", costs.TotalTokens)
}

// CalculateCost calculates the cost for a given number of tokens and model
func (t *Telemetry) CalculateCost(inputTokens, outputTokens int64, costPer1KInput, costPer1KOutput float64) float64 {
	inputCost := float64(inputTokens) / 1000.0 * costPer1KInput
	outputCost := float64(outputTokens) / 1000.0 * costPer1KOutput
	return inputCost + outputCost
}

// GetPerformanceReport returns a detailed performance report
func (t *Telemetry) GetPerformanceReport() string {
	metrics := t.GetMetrics()
	costs := t.GetCostSummary()
	if metrics.TotalSessions == 0 {
		return "no sessions recorded"
	}

	report := fmt.Sprintf(`
=== PERFORMANCE REPORT ===
Overall Metrics:
  Total Sessions: %d
  Successful: %d (%.2f%%)
  Failed: %d
  Average Session Time: %v
  Pages Fetched: %d
  Candidates Found: %d
  Total Cost: $%.4f
  Total Tokens: %d

Stage Performance:
`, metrics.TotalSessions, metrics.SuccessfulSessions,
		float64(metrics.SuccessfulSessions)/float64(metrics.TotalSessions)*100,
		metrics.FailedSessions, metrics.AverageSessionTime,
		metrics.PagesFetchedTotal, metrics.CandidatesTotal,
		costs.TotalCost, costs.TotalTokens)

	for stage, executions := range metrics.StageExecutions {
		successRate := metrics.StageSuccessRates[stage]
		avgTime := metrics.StageAverageTimes[stage]
		report += fmt.Sprintf("  %s: %d executions, %.2f%% success, %v avg time\n",
			stage, executions, successRate*100, avgTime)
	}

	report += "\nLLM Usage:\n"
	for model, requests := range metrics.LLMRequests {
		tokens := metrics.LLMTokensUsed[model]
		cost := costs.ModelCosts[model]
		report += fmt.Sprintf("  %s: %d requests, %d tokens, $%.4f\n",
			model, requests, tokens, cost)
	}

	return report
}
