package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/mohammad-safakhou/scout/internal/agent/telemetry"
)

// ErrRetriesExhausted is returned when every attempt of an LLM invocation
// failed. The last underlying error is wrapped alongside it.
var ErrRetriesExhausted = errors.New("llm retries exhausted")

// InvokeRequest describes one LLM call made through the invoker.
type InvokeRequest struct {
	// Stage is the pipeline stage name used for activity events and telemetry.
	Stage string
	// Model is the configured model key to route to.
	Model string
	// Prompt is the full prompt text.
	Prompt string
	// Options are passed through to the provider (temperature, max_tokens).
	Options map[string]interface{}
	// Out, when non-nil, receives the parsed JSON object from the response.
	// A response that yields no parsable JSON object counts as a failed
	// attempt and is retried.
	Out any
}

// RetryableInvoker wraps an LLMProvider with bounded retries, token
// accounting and progress reporting. All LLM traffic in a session goes
// through one invoker so the retry policy is uniform.
type RetryableInvoker struct {
	provider    LLMProvider
	telemetry   *telemetry.Telemetry
	stream      *Stream
	logger      *log.Logger
	maxAttempts int
	baseDelay   time.Duration
}

// NewRetryableInvoker creates an invoker. maxAttempts below 1 is clamped
// to 1, a zero baseDelay defaults to one second.
func NewRetryableInvoker(provider LLMProvider, tele *telemetry.Telemetry, stream *Stream, logger *log.Logger, maxAttempts int, baseDelay time.Duration) *RetryableInvoker {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if baseDelay <= 0 {
		baseDelay = time.Second
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[INVOKER] ", log.LstdFlags)
	}
	return &RetryableInvoker{
		provider:    provider,
		telemetry:   tele,
		stream:      stream,
		logger:      logger,
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
	}
}

// Invoke performs one logical LLM call with up to maxAttempts attempts.
// Backoff between attempts is linear: baseDelay times the attempt number.
// On success it credits token usage to the session and increments the
// completed step counter. The raw response text is returned; when
// req.Out is set the extracted JSON object has already been unmarshaled
// into it.
func (i *RetryableInvoker) Invoke(ctx context.Context, session *Session, req InvokeRequest) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= i.maxAttempts; attempt++ {
		start := time.Now()
		response, inTok, outTok, err := i.provider.GenerateWithTokens(ctx, req.Prompt, req.Model, req.Options)
		if err == nil && req.Out != nil {
			err = decodeJSONObject(response, req.Out)
		}

		if i.telemetry != nil {
			i.telemetry.RecordStageEvent(ctx, telemetry.StageEvent{
				ID:         session.ID,
				Stage:      req.Stage,
				Duration:   time.Since(start),
				Success:    err == nil,
				Error:      errString(err),
				Cost:       i.provider.CalculateCost(inTok, outTok, req.Model),
				TokensUsed: inTok + outTok,
				ModelUsed:  req.Model,
			})
		}

		if err == nil {
			session.AddTokens(inTok, outTok)
			session.AddStep()
			return response, nil
		}

		lastErr = err
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if attempt == i.maxAttempts {
			break
		}

		i.logger.Printf("%s attempt %d/%d failed: %v", req.Stage, attempt, i.maxAttempts, err)
		if i.stream != nil {
			i.stream.Activity(ctx, session, req.Stage, StatusWarning,
				fmt.Sprintf("Attempt %d of %d failed, retrying", attempt, i.maxAttempts))
		}

		select {
		case <-time.After(i.baseDelay * time.Duration(attempt)):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return "", fmt.Errorf("%s after %d attempts: %w", req.Stage, i.maxAttempts, errors.Join(ErrRetriesExhausted, lastErr))
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// decodeJSONObject extracts the first balanced JSON object from an LLM
// response and unmarshals it. Models often wrap JSON in prose or code
// fences, so plain unmarshal of the whole response is not enough.
func decodeJSONObject(response string, out any) error {
	raw := extractJSONObject(response)
	if raw == "" {
		return fmt.Errorf("no JSON object in response")
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

// extractJSONObject returns the first balanced top-level JSON object in s,
// or "" when none exists. Braces inside strings are ignored.
func extractJSONObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for idx := start; idx < len(s); idx++ {
		c := s[idx]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : idx+1]
			}
		}
	}
	return ""
}
