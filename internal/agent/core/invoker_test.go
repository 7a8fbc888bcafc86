package core

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

// flakyLLM fails a fixed number of times before succeeding.
type flakyLLM struct {
	failures int
	response string
	attempts atomic.Int64
}

func (f *flakyLLM) Generate(ctx context.Context, prompt string, model string, options map[string]interface{}) (string, error) {
	resp, _, _, err := f.GenerateWithTokens(ctx, prompt, model, options)
	return resp, err
}

func (f *flakyLLM) GenerateWithTokens(ctx context.Context, prompt string, model string, options map[string]interface{}) (string, int64, int64, error) {
	n := f.attempts.Add(1)
	if int(n) <= f.failures {
		return "", 0, 0, errors.New("transient provider error")
	}
	return f.response, 100, 50, nil
}

func (f *flakyLLM) GetAvailableModels() []string { return []string{"stub"} }

func (f *flakyLLM) GetModelInfo(model string) (ModelInfo, error) { return ModelInfo{Name: model}, nil }

func (f *flakyLLM) CalculateCost(inputTokens, outputTokens int64, model string) float64 { return 0 }

func TestInvokeRetriesThenSucceeds(t *testing.T) {
	llm := &flakyLLM{failures: 2, response: "ok"}
	inv := NewRetryableInvoker(llm, nil, nil, nil, 3, time.Millisecond)
	session := NewSession("s1", "q")

	resp, err := inv.Invoke(context.Background(), session, InvokeRequest{Stage: KindPlanning, Model: "stub", Prompt: "p"})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if resp != "ok" {
		t.Fatalf("expected response ok, got %q", resp)
	}
	if got := llm.attempts.Load(); got != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", got)
	}
	if session.TokensUsed() != 150 {
		t.Fatalf("expected 150 tokens credited, got %d", session.TokensUsed())
	}
	if session.CompletedSteps() != 1 {
		t.Fatalf("expected 1 completed step, got %d", session.CompletedSteps())
	}
}

func TestInvokeExhaustsAttempts(t *testing.T) {
	llm := &flakyLLM{failures: 100}
	inv := NewRetryableInvoker(llm, nil, nil, nil, 3, time.Millisecond)
	session := NewSession("s1", "q")

	_, err := inv.Invoke(context.Background(), session, InvokeRequest{Stage: KindAnalyze, Model: "stub", Prompt: "p"})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("expected ErrRetriesExhausted, got %v", err)
	}
	if got := llm.attempts.Load(); got != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", got)
	}
	if session.TokensUsed() != 0 || session.CompletedSteps() != 0 {
		t.Fatalf("failed call must not credit counters, got tokens=%d steps=%d", session.TokensUsed(), session.CompletedSteps())
	}
}

func TestInvokeEmitsWarningExceptOnFinalAttempt(t *testing.T) {
	llm := &flakyLLM{failures: 100}
	stream := NewStream(16)
	inv := NewRetryableInvoker(llm, nil, stream, nil, 3, time.Millisecond)
	session := NewSession("s1", "q")

	if _, err := inv.Invoke(context.Background(), session, InvokeRequest{Stage: KindExtract, Model: "stub", Prompt: "p"}); err == nil {
		t.Fatal("expected error")
	}
	stream.Close()

	warnings := 0
	for ev := range stream.Events() {
		if ev.Type == EventActivity && ev.Activity.Status == StatusWarning {
			warnings++
		}
	}
	if warnings != 2 {
		t.Fatalf("expected 2 warning activities for 3 attempts, got %d", warnings)
	}
}

func TestInvokeParsesWrappedJSON(t *testing.T) {
	llm := &flakyLLM{response: "Sure, here you go:\n```json\n{\"queries\": [\"a\", \"b\"]}\n```"}
	inv := NewRetryableInvoker(llm, nil, nil, nil, 1, time.Millisecond)
	session := NewSession("s1", "q")

	var out struct {
		Queries []string `json:"queries"`
	}
	if _, err := inv.Invoke(context.Background(), session, InvokeRequest{Stage: KindPlanning, Model: "stub", Prompt: "p", Out: &out}); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if len(out.Queries) != 2 || out.Queries[0] != "a" {
		t.Fatalf("unexpected parsed queries: %v", out.Queries)
	}
}

func TestInvokeTreatsUnparsableResponseAsFailure(t *testing.T) {
	llm := &flakyLLM{response: "no json here"}
	inv := NewRetryableInvoker(llm, nil, nil, nil, 2, time.Millisecond)
	session := NewSession("s1", "q")

	var out struct{}
	_, err := inv.Invoke(context.Background(), session, InvokeRequest{Stage: KindPlanning, Model: "stub", Prompt: "p", Out: &out})
	if err == nil {
		t.Fatal("expected error for unparsable response")
	}
	if got := llm.attempts.Load(); got != 2 {
		t.Fatalf("expected parse failure to be retried, got %d attempts", got)
	}
}

func TestInvokeRespectsCancellation(t *testing.T) {
	llm := &flakyLLM{failures: 100}
	inv := NewRetryableInvoker(llm, nil, nil, nil, 3, 10*time.Second)
	session := NewSession("s1", "q")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	done := make(chan error, 1)
	go func() {
		_, err := inv.Invoke(ctx, session, InvokeRequest{Stage: KindPlanning, Model: "stub", Prompt: "p"})
		done <- err
	}()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Invoke did not return after cancellation")
	}
}

func TestExtractJSONObjectIgnoresBracesInStrings(t *testing.T) {
	raw := extractJSONObject(`prefix {"bio": "loves { curly } braces", "n": 1} suffix`)
	want := `{"bio": "loves { curly } braces", "n": 1}`
	if raw != want {
		t.Fatalf("expected %s, got %s", want, raw)
	}
}

func TestExtractJSONObjectEmpty(t *testing.T) {
	for _, s := range []string{"", "plain text", "{unbalanced"} {
		if got := extractJSONObject(s); got != "" {
			t.Fatalf("expected empty extraction for %q, got %q", s, got)
		}
	}
}
