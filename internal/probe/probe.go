// Package probe runs the three-stage connection test against a local model
// server: reachability, model existence, and a ranked-fallback generation
// smoke test.
package probe

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"storyd/internal/ollama"
)

const (
	// defaultTimeout bounds the whole probe, all stages included.
	defaultTimeout = 30 * time.Second
	// defaultSettle is how long a freshly warmed model gets to finish
	// loading before the real test generation.
	defaultSettle = 2 * time.Second

	testPrompt = "Reply with the single word: ready"
)

// Client is the slice of the Ollama client the prober needs.
type Client interface {
	ListModels(ctx context.Context) ([]string, error)
	Generate(ctx context.Context, gr ollama.GenerateRequest) (ollama.GenerateResponse, error)
}

// Report is the outcome of a probe, successful or not. Diagnostics are
// always attached so a settings screen can show what was tried.
type Report struct {
	Success      bool          `json:"success"`
	ModelUsed    string        `json:"model_used,omitempty"`
	ResponseTime time.Duration `json:"response_time,omitempty"`
	Sample       string        `json:"sample,omitempty"`
	Available    []string      `json:"available,omitempty"`
	Tried        []string      `json:"tried,omitempty"`
	Err          string        `json:"error,omitempty"`
}

// Tester probes a server for a usable model. The candidate loop is
// deliberately serial: each model must be loaded and given time to settle
// before it is tested, and testing several at once would contend for the
// inference server's memory.
type Tester struct {
	client  Client
	logger  *slog.Logger
	timeout time.Duration
	settle  time.Duration
	// Rank orders fallback candidates; replaceable because the default
	// keys off naming conventions that may not hold everywhere.
	rank func(names []string) []string
}

// Option customizes a Tester.
type Option func(*Tester)

// WithLogger injects the logger used for stage diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tester) {
		if l != nil {
			t.logger = l
		}
	}
}

// WithTimeout overrides the overall probe bound (defaults to 30s).
func WithTimeout(d time.Duration) Option {
	return func(t *Tester) {
		if d > 0 {
			t.timeout = d
		}
	}
}

// WithSettle overrides the post-warm-up settle interval (defaults to 2s).
// Tests set it to zero.
func WithSettle(d time.Duration) Option {
	return func(t *Tester) {
		if d >= 0 {
			t.settle = d
		}
	}
}

// WithRanker replaces the fallback ranking heuristic.
func WithRanker(rank func(names []string) []string) Option {
	return func(t *Tester) {
		if rank != nil {
			t.rank = rank
		}
	}
}

// New creates a Tester around the given client.
func New(client Client, opts ...Option) *Tester {
	t := &Tester{
		client:  client,
		logger:  slog.Default(),
		timeout: defaultTimeout,
		settle:  defaultSettle,
		rank:    RankModels,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Test probes the server for the requested model. Stage one lists models
// (terminal on failure), stage two confirms the requested model exists, and
// stage three runs warm-up plus a short real generation against candidates
// in ranked order until one passes.
func (t *Tester) Test(ctx context.Context, model string) Report {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	available, err := t.client.ListModels(ctx)
	if err != nil {
		return t.timeoutOr(ctx, Report{Err: fmt.Sprintf("server unreachable: %v", err)})
	}

	if !containsModel(available, model) {
		return Report{
			Available: available,
			Err:       fmt.Sprintf("model %q not found on server", model),
		}
	}

	// Requested model first, then ranked fallbacks.
	candidates := []string{model}
	others := make([]string, 0, len(available))
	for _, name := range available {
		if !sameModel(name, model) {
			others = append(others, name)
		}
	}
	candidates = append(candidates, t.rank(others)...)

	report := Report{Available: available}
	var lastErr error
	for _, candidate := range candidates {
		report.Tried = append(report.Tried, candidate)

		sample, elapsed, err := t.smokeTest(ctx, candidate)
		if err != nil {
			lastErr = err
			t.logger.Warn("candidate failed generation test", "model", candidate, "error", err)
			if ctx.Err() != nil {
				break
			}
			continue
		}

		report.Success = true
		report.ModelUsed = candidate
		report.ResponseTime = elapsed
		report.Sample = sample
		t.logger.Info("connection test passed", "model", candidate, "response_time", elapsed)
		return report
	}

	if lastErr != nil {
		report.Err = lastErr.Error()
	}
	return t.timeoutOr(ctx, report)
}

// smokeTest warms the candidate up, lets it settle, then requires a short
// real generation to complete with non-empty text.
func (t *Tester) smokeTest(ctx context.Context, model string) (string, time.Duration, error) {
	// Warm-up loads the model into memory; its output is irrelevant and a
	// failure here is only logged, since some servers reject trivial
	// prompts that the real test below handles fine.
	warmup := ollama.GenerateRequest{
		Model:   model,
		Prompt:  "Hi",
		Options: &ollama.Options{NumPredict: 1},
	}
	if _, err := t.client.Generate(ctx, warmup); err != nil {
		if ctx.Err() != nil {
			return "", 0, ctx.Err()
		}
		t.logger.Debug("warm-up call failed", "model", model, "error", err)
	}

	if err := sleepCtx(ctx, t.settle); err != nil {
		return "", 0, err
	}

	start := time.Now()
	resp, err := t.client.Generate(ctx, ollama.GenerateRequest{
		Model:   model,
		Prompt:  testPrompt,
		Options: &ollama.Options{Temperature: 0.1, NumPredict: 16},
	})
	if err != nil {
		return "", 0, err
	}
	if !resp.Done {
		return "", 0, fmt.Errorf("model %s produced an incomplete response", model)
	}
	sample := strings.TrimSpace(resp.Response)
	if sample == "" {
		return "", 0, fmt.Errorf("model %s produced an empty response", model)
	}
	return sample, time.Since(start), nil
}

// timeoutOr rewrites the report error when the overall probe deadline was
// what actually killed it.
func (t *Tester) timeoutOr(ctx context.Context, r Report) Report {
	if ctx.Err() == context.DeadlineExceeded {
		r.Err = fmt.Sprintf("connection test timed out after %s", t.timeout)
	}
	return r
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func containsModel(names []string, model string) bool {
	for _, n := range names {
		if sameModel(n, model) {
			return true
		}
	}
	return false
}

// sameModel matches with or without the ":tag" suffix Ollama appends.
func sameModel(name, model string) bool {
	return name == model || strings.HasPrefix(name, model+":")
}
