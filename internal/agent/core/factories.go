package core

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/mohammad-safakhou/scout/config"
	"github.com/mohammad-safakhou/scout/tools/web_fetch"
	"github.com/mohammad-safakhou/scout/tools/web_search"
)

// NewLLMProvider creates a new LLM provider based on configuration.
// The first configured provider wins; all stages of a session go through it.
func NewLLMProvider(cfg config.LLMConfig) (LLMProvider, error) {
	if len(cfg.Providers) == 0 {
		return nil, fmt.Errorf("no LLM providers configured")
	}

	for _, provider := range cfg.Providers {
		switch provider.Type {
		case "openai":
			return NewOpenAIProvider(provider), nil
		case "anthropic":
			return NewAnthropicProvider(provider), nil
		case "openrouter":
			return NewOpenRouterProvider(provider), nil
		default:
			return nil, fmt.Errorf("unsupported LLM provider type: %s", provider.Type)
		}
	}

	return nil, fmt.Errorf("no valid LLM providers found")
}

// NewSearchTools builds the search and fetch capabilities from configuration.
func NewSearchTools(cfg config.SourcesConfig, maxContentChars int) (web_search.WebSearcher, web_fetch.WebFetcher, error) {
	provider := web_search.Provider(cfg.WebSearch.Provider)
	var apiKey string
	switch provider {
	case web_search.SerperProvider:
		apiKey = cfg.WebSearch.SerperAPIKey
	case web_search.BraveProvider:
		apiKey = cfg.WebSearch.BraveAPIKey
	}
	searcher, err := web_search.NewWebSearcher(provider, apiKey)
	if err != nil {
		return nil, nil, fmt.Errorf("web search: %w", err)
	}

	fetcher, err := web_fetch.NewWebFetcher(
		web_fetch.FetcherType(cfg.WebFetch.Type),
		cfg.WebFetch.Timeout,
		maxContentChars,
		cfg.WebFetch.UserAgent,
	)
	if err != nil {
		return nil, nil, fmt.Errorf("web fetch: %w", err)
	}
	return searcher, fetcher, nil
}

func buildModelInfo(providerName string, models map[string]config.LLMModel) map[string]ModelInfo {
	out := make(map[string]ModelInfo)
	for key, model := range models {
		out[key] = ModelInfo{
			Name:            model.Name,
			Provider:        providerName,
			MaxTokens:       model.MaxTokens,
			CostPer1KInput:  model.CostPer1K,
			CostPer1KOutput: model.CostPer1KOutput,
			Capabilities:    model.Capabilities,
			Description:     fmt.Sprintf("%s %s model", providerName, model.Name),
		}
	}
	return out
}

func resolveOptions(m config.LLMModel, options map[string]interface{}) (temperature float64, maxTokens int) {
	temperature = m.Temperature
	if t, ok := options["temperature"].(float64); ok {
		temperature = t
	}
	maxTokens = m.MaxTokens
	if mt, ok := options["max_tokens"].(int); ok {
		maxTokens = mt
	}
	return temperature, maxTokens
}

// OpenAIProvider implements LLMProvider for OpenAI
type OpenAIProvider struct {
	config    config.LLMProvider
	models    map[string]ModelInfo
	rawModels map[string]config.LLMModel
	http      *HTTPClient
}

// NewOpenAIProvider creates a new OpenAI provider
func NewOpenAIProvider(cfg config.LLMProvider) *OpenAIProvider {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &OpenAIProvider{
		config:    cfg,
		models:    buildModelInfo("openai", cfg.Models),
		rawModels: cfg.Models,
		http:      NewHTTPClient(timeout, 0, 0),
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Generate generates text using OpenAI
func (p *OpenAIProvider) Generate(ctx context.Context, prompt string, model string, options map[string]interface{}) (string, error) {
	resp, _, _, err := p.GenerateWithTokens(ctx, prompt, model, options)
	return resp, err
}

// GenerateWithTokens generates text and returns token usage
func (p *OpenAIProvider) GenerateWithTokens(ctx context.Context, prompt string, model string, options map[string]interface{}) (string, int64, int64, error) {
	apiKey := p.config.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return "", 0, 0, fmt.Errorf("OpenAI API key not configured")
	}

	m, ok := p.rawModels[model]
	if !ok {
		return "", 0, 0, fmt.Errorf("model %s not configured", model)
	}
	apiModel := m.APIName
	if apiModel == "" {
		apiModel = m.Name
	}
	temperature, maxTokens := resolveOptions(m, options)

	baseURL := p.config.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}

	var out chatResponse
	err := p.http.DoJSON(ctx, "POST", baseURL+"/chat/completions",
		map[string]string{"Authorization": "Bearer " + apiKey},
		chatRequest{
			Model:       apiModel,
			Messages:    []chatMessage{{Role: "user", Content: prompt}},
			Temperature: temperature,
			MaxTokens:   maxTokens,
		}, &out)
	if err != nil {
		return "", 0, 0, fmt.Errorf("openai: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", 0, 0, fmt.Errorf("openai: no choices")
	}

	return out.Choices[0].Message.Content, int64(out.Usage.PromptTokens), int64(out.Usage.CompletionTokens), nil
}

// GetAvailableModels returns available models
func (p *OpenAIProvider) GetAvailableModels() []string {
	var models []string
	for name := range p.models {
		models = append(models, name)
	}
	return models
}

// GetModelInfo returns information about a specific model
func (p *OpenAIProvider) GetModelInfo(model string) (ModelInfo, error) {
	info, exists := p.models[model]
	if !exists {
		return ModelInfo{}, fmt.Errorf("model not found: %s", model)
	}
	return info, nil
}

// CalculateCost calculates the cost for a given number of tokens
func (p *OpenAIProvider) CalculateCost(inputTokens, outputTokens int64, model string) float64 {
	return calculateModelCost(p.models, inputTokens, outputTokens, model)
}

// AnthropicProvider implements LLMProvider for Anthropic
type AnthropicProvider struct {
	config    config.LLMProvider
	models    map[string]ModelInfo
	rawModels map[string]config.LLMModel
	http      *HTTPClient
}

// NewAnthropicProvider creates a new Anthropic provider
func NewAnthropicProvider(cfg config.LLMProvider) *AnthropicProvider {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &AnthropicProvider{
		config:    cfg,
		models:    buildModelInfo("anthropic", cfg.Models),
		rawModels: cfg.Models,
		http:      NewHTTPClient(timeout, 0, 0),
	}
}

// Generate generates text using Anthropic
func (p *AnthropicProvider) Generate(ctx context.Context, prompt string, model string, options map[string]interface{}) (string, error) {
	resp, _, _, err := p.GenerateWithTokens(ctx, prompt, model, options)
	return resp, err
}

// GenerateWithTokens generates text and returns token usage
func (p *AnthropicProvider) GenerateWithTokens(ctx context.Context, prompt string, model string, options map[string]interface{}) (string, int64, int64, error) {
	apiKey := p.config.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return "", 0, 0, fmt.Errorf("Anthropic API key not configured")
	}

	m, ok := p.rawModels[model]
	if !ok {
		return "", 0, 0, fmt.Errorf("model %s not configured", model)
	}
	apiModel := m.APIName
	if apiModel == "" {
		apiModel = m.Name
	}
	temperature, maxTokens := resolveOptions(m, options)
	if maxTokens == 0 {
		maxTokens = 4096
	}

	baseURL := p.config.BaseURL
	if baseURL == "" {
		baseURL = "https://api.anthropic.com/v1"
	}

	type messagesRequest struct {
		Model       string        `json:"model"`
		MaxTokens   int           `json:"max_tokens"`
		Temperature float64       `json:"temperature,omitempty"`
		Messages    []chatMessage `json:"messages"`
	}
	var out struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		Usage struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}
	err := p.http.DoJSON(ctx, "POST", baseURL+"/messages",
		map[string]string{
			"x-api-key":         apiKey,
			"anthropic-version": "2023-06-01",
		},
		messagesRequest{
			Model:       apiModel,
			MaxTokens:   maxTokens,
			Temperature: temperature,
			Messages:    []chatMessage{{Role: "user", Content: prompt}},
		}, &out)
	if err != nil {
		return "", 0, 0, fmt.Errorf("anthropic: %w", err)
	}

	var text string
	for _, block := range out.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	if text == "" {
		return "", 0, 0, fmt.Errorf("anthropic: empty response")
	}

	return text, int64(out.Usage.InputTokens), int64(out.Usage.OutputTokens), nil
}

// GetAvailableModels returns available models
func (p *AnthropicProvider) GetAvailableModels() []string {
	var models []string
	for name := range p.models {
		models = append(models, name)
	}
	return models
}

// GetModelInfo returns information about a specific model
func (p *AnthropicProvider) GetModelInfo(model string) (ModelInfo, error) {
	info, exists := p.models[model]
	if !exists {
		return ModelInfo{}, fmt.Errorf("model not found: %s", model)
	}
	return info, nil
}

// CalculateCost calculates the cost for a given number of tokens
func (p *AnthropicProvider) CalculateCost(inputTokens, outputTokens int64, model string) float64 {
	return calculateModelCost(p.models, inputTokens, outputTokens, model)
}

// OpenRouterProvider implements LLMProvider against the OpenRouter
// chat-completions API, which is wire compatible with OpenAI.
type OpenRouterProvider struct {
	config    config.LLMProvider
	models    map[string]ModelInfo
	rawModels map[string]config.LLMModel
	http      *HTTPClient
}

// NewOpenRouterProvider creates a new OpenRouter provider
func NewOpenRouterProvider(cfg config.LLMProvider) *OpenRouterProvider {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &OpenRouterProvider{
		config:    cfg,
		models:    buildModelInfo("openrouter", cfg.Models),
		rawModels: cfg.Models,
		http:      NewHTTPClient(timeout, 0, 0),
	}
}

// Generate generates text using OpenRouter
func (p *OpenRouterProvider) Generate(ctx context.Context, prompt string, model string, options map[string]interface{}) (string, error) {
	resp, _, _, err := p.GenerateWithTokens(ctx, prompt, model, options)
	return resp, err
}

// GenerateWithTokens generates text and returns token usage
func (p *OpenRouterProvider) GenerateWithTokens(ctx context.Context, prompt string, model string, options map[string]interface{}) (string, int64, int64, error) {
	apiKey := p.config.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENROUTER_API_KEY")
	}
	if apiKey == "" {
		return "", 0, 0, fmt.Errorf("OpenRouter API key not configured")
	}

	m, ok := p.rawModels[model]
	if !ok {
		return "", 0, 0, fmt.Errorf("model %s not configured", model)
	}
	apiModel := m.APIName
	if apiModel == "" {
		apiModel = m.Name
	}
	temperature, maxTokens := resolveOptions(m, options)

	baseURL := p.config.BaseURL
	if baseURL == "" {
		baseURL = "https://openrouter.ai/api/v1"
	}

	var out chatResponse
	err := p.http.DoJSON(ctx, "POST", baseURL+"/chat/completions",
		map[string]string{"Authorization": "Bearer " + apiKey},
		chatRequest{
			Model:       apiModel,
			Messages:    []chatMessage{{Role: "user", Content: prompt}},
			Temperature: temperature,
			MaxTokens:   maxTokens,
		}, &out)
	if err != nil {
		return "", 0, 0, fmt.Errorf("openrouter: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", 0, 0, fmt.Errorf("openrouter: no choices")
	}

	return out.Choices[0].Message.Content, int64(out.Usage.PromptTokens), int64(out.Usage.CompletionTokens), nil
}

// GetAvailableModels returns available models
func (p *OpenRouterProvider) GetAvailableModels() []string {
	var models []string
	for name := range p.models {
		models = append(models, name)
	}
	return models
}

// GetModelInfo returns information about a specific model
func (p *OpenRouterProvider) GetModelInfo(model string) (ModelInfo, error) {
	info, exists := p.models[model]
	if !exists {
		return ModelInfo{}, fmt.Errorf("model not found: %s", model)
	}
	return info, nil
}

// CalculateCost calculates the cost for a given number of tokens
func (p *OpenRouterProvider) CalculateCost(inputTokens, outputTokens int64, model string) float64 {
	return calculateModelCost(p.models, inputTokens, outputTokens, model)
}

func calculateModelCost(models map[string]ModelInfo, inputTokens, outputTokens int64, model string) float64 {
	info, exists := models[model]
	if !exists {
		return 0.0
	}
	inputCost := float64(inputTokens) / 1000.0 * info.CostPer1KInput
	outputCost := float64(outputTokens) / 1000.0 * info.CostPer1KOutput
	return inputCost + outputCost
}
