// Package generate runs the full structured-generation pipeline against a
// local model with retries: prompt assembly, transport, JSON repair, field
// validation, and choice normalization.
package generate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"storyd/internal/ollama"
	"storyd/internal/prompt"
	"storyd/internal/repair"
	"storyd/internal/schema"
)

const defaultMaxAttempts = 3

// Transport is the single generate call the coordinator needs from the
// Ollama client.
type Transport interface {
	Generate(ctx context.Context, gr ollama.GenerateRequest) (ollama.GenerateResponse, error)
}

// Attempt records one pipeline run. Err is empty on the successful attempt;
// Delay is the backoff slept after a failed attempt (zero on the last one).
type Attempt struct {
	Number int           `json:"number"`
	Err    string        `json:"error,omitempty"`
	Delay  time.Duration `json:"delay,omitempty"`
}

// Result is a successfully validated structured response. Every requested
// field name is present in Fields; Issues lists all repairs, reconstructions
// and warnings that were needed to get there, so a recovered response never
// passes as a clean one.
type Result struct {
	RequestID string         `json:"request_id"`
	Fields    map[string]any `json:"fields"`
	Issues    []string       `json:"issues,omitempty"`
	Attempts  []Attempt      `json:"attempts"`
	Duration  time.Duration  `json:"duration"`
}

// Generator coordinates pipeline attempts against a single model with
// exponential backoff between failures.
type Generator struct {
	client      Transport
	model       string
	options     *ollama.Options
	maxAttempts int
	logger      *slog.Logger
	sleep       func(ctx context.Context, d time.Duration) error
}

// Option customizes a Generator.
type Option func(*Generator)

// WithMaxAttempts overrides the default attempt count (3).
func WithMaxAttempts(n int) Option {
	return func(g *Generator) {
		if n > 0 {
			g.maxAttempts = n
		}
	}
}

// WithOptions sets the generation parameters passed to the model.
func WithOptions(opts *ollama.Options) Option {
	return func(g *Generator) { g.options = opts }
}

// WithLogger injects the logger used for per-attempt diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(g *Generator) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithSleeper overrides how backoff sleeps are performed (used by tests to
// observe delays without waiting them out).
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(g *Generator) {
		if sleep != nil {
			g.sleep = sleep
		}
	}
}

// New creates a Generator for the given client and model.
func New(client Transport, model string, opts ...Option) *Generator {
	g := &Generator{
		client:      client,
		model:       model,
		maxAttempts: defaultMaxAttempts,
		logger:      slog.Default(),
		sleep:       sleepCtx,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate runs the pipeline until one attempt produces a response carrying
// every requested field. Attempts are independent: nothing from a failed
// attempt leaks into the next, and the first success returns immediately.
// On exhaustion the error names the attempt count and wraps the last
// underlying failure.
func (g *Generator) Generate(ctx context.Context, systemPrompt string, history []prompt.Message, fields []schema.FieldSpec) (Result, error) {
	result := Result{
		RequestID: uuid.New().String(),
		Attempts:  make([]Attempt, 0, g.maxAttempts),
	}
	start := time.Now()

	promptText := prompt.Build(systemPrompt, history)
	markers := make([]string, len(fields))
	for i, f := range fields {
		markers[i] = f.Name
	}

	var lastErr error
	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		fieldsOut, issues, err := g.runPipeline(ctx, promptText, markers, fields)
		if err == nil {
			result.Attempts = append(result.Attempts, Attempt{Number: attempt})
			result.Fields = fieldsOut
			result.Issues = issues
			result.Duration = time.Since(start)
			g.logger.Debug("structured generation succeeded",
				"request_id", result.RequestID,
				"model", g.model,
				"attempt", attempt,
				"issues", len(issues),
			)
			return result, nil
		}

		lastErr = err
		record := Attempt{Number: attempt, Err: err.Error()}
		g.logger.Warn("generation attempt failed",
			"request_id", result.RequestID,
			"model", g.model,
			"attempt", attempt,
			"error", err,
		)

		if attempt < g.maxAttempts {
			// 1s, 2s, 4s, ...
			delay := time.Duration(1<<(attempt-1)) * time.Second
			record.Delay = delay
			result.Attempts = append(result.Attempts, record)
			if err := g.sleep(ctx, delay); err != nil {
				result.Duration = time.Since(start)
				return result, err
			}
			continue
		}
		result.Attempts = append(result.Attempts, record)
	}

	result.Duration = time.Since(start)
	return result, fmt.Errorf("generation failed after %d attempts: %w", g.maxAttempts, lastErr)
}

// runPipeline executes one attempt: transport, repair, validation with
// reconstruction, choice normalization.
func (g *Generator) runPipeline(ctx context.Context, promptText string, markers []string, fields []schema.FieldSpec) (map[string]any, []string, error) {
	resp, err := g.client.Generate(ctx, ollama.GenerateRequest{
		Model:   g.model,
		Prompt:  promptText,
		Options: g.options,
	})
	if err != nil {
		return nil, nil, err
	}

	rep := repair.Repair(resp.Response, markers)
	issues := rep.Issues
	if !rep.Success {
		return nil, nil, fmt.Errorf("parsing model response: %s (cleaned: %s)", rep.Err, snippet(rep.CleanedText))
	}

	if v := schema.Validate(rep.Parsed, fields); !v.Valid {
		recovered, err := schema.Reconstruct(rep.Parsed, fields, v.Missing)
		if err != nil {
			return nil, nil, err
		}
		issues = append(issues, recovered...)
	}

	warn, err := schema.NormalizeChoices(rep.Parsed, fields)
	if err != nil {
		return nil, nil, err
	}
	if warn != "" {
		issues = append(issues, warn)
	}

	return rep.Parsed, issues, nil
}

// sleepCtx waits for the delay or the context, whichever ends first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// snippet flattens text to a short single line for error messages.
func snippet(text string) string {
	const limit = 120
	runes := []rune(text)
	if len(runes) > limit {
		text = string(runes[:limit]) + "..."
	}
	out := make([]rune, 0, len(text))
	for _, r := range text {
		if r == '\n' || r == '\r' || r == '\t' {
			r = ' '
		}
		out = append(out, r)
	}
	return string(out)
}
