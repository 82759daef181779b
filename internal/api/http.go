// Package api exposes the generation pipeline over a local REST surface and
// an MCP server.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"storyd/internal/errclass"
	"storyd/internal/generate"
	"storyd/internal/probe"
	"storyd/internal/prompt"
	"storyd/internal/schema"
	"storyd/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Generator runs the structured-generation pipeline.
type Generator interface {
	Generate(ctx context.Context, systemPrompt string, history []prompt.Message, fields []schema.FieldSpec) (generate.Result, error)
}

// Prober runs the connection test.
type Prober interface {
	Test(ctx context.Context, model string) probe.Report
}

// Deps holds the collaborators the REST handlers need.
type Deps struct {
	Generator Generator
	Prober    Prober
	Store     *storage.Store
	Model     string
	ServerURL string // Ollama base URL, recorded with probe outcomes
	Token     string // empty disables bearer auth on /v1
}

// NewHandler returns the storyd REST API handler.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)

	r.Route("/v1", func(r chi.Router) {
		if deps.Token != "" {
			r.Use(BearerAuth(deps.Token))
		}
		r.Post("/generate", handleGenerate(deps))
		r.Post("/probe", handleProbe(deps))
		r.Get("/history/generations", handleGenerationHistory(deps))
		r.Get("/history/generations/{id}", handleGenerationByID(deps))
		r.Get("/history/probes", handleProbeHistory(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// generateRequest is the POST /v1/generate body.
type generateRequest struct {
	SystemPrompt string             `json:"system_prompt"`
	Messages     []prompt.Message   `json:"messages"`
	Fields       []schema.FieldSpec `json:"fields"`
}

func handleGenerate(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req generateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.SystemPrompt == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "system_prompt is required")
			return
		}
		if len(req.Fields) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "fields is required and must not be empty")
			return
		}

		result, err := deps.Generator.Generate(r.Context(), req.SystemPrompt, req.Messages, req.Fields)
		recordGeneration(deps, result, err)
		if err != nil {
			writeClassifiedError(w, err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(result)
	}
}

// probeRequest is the POST /v1/probe body.
type probeRequest struct {
	Model string `json:"model"`
}

func handleProbe(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req probeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		model := req.Model
		if model == "" {
			model = deps.Model
		}

		report := deps.Prober.Test(r.Context(), model)
		recordProbe(deps, model, report)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(report)
	}
}

func handleGenerationHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rows, err := deps.Store.ListGenerations(parseLimit(r))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing generations: %v", err)
			return
		}
		writeHistory(w, rows)
	}
}

func handleGenerationByID(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		row, err := deps.Store.GetGeneration(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found_error", "no generation with id %s", id)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading generation: %v", err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(row)
	}
}

func handleProbeHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rows, err := deps.Store.ListProbes(parseLimit(r))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing probes: %v", err)
			return
		}
		writeHistory(w, rows)
	}
}

func parseLimit(r *http.Request) int {
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			return n
		}
	}
	return 0
}

func writeHistory(w http.ResponseWriter, rows any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"items": rows})
}

// recordGeneration persists the outcome; storage failures are logged, never
// surfaced, since history is diagnostics rather than the product.
func recordGeneration(deps Deps, result generate.Result, genErr error) {
	if deps.Store == nil {
		return
	}
	issues, _ := json.Marshal(result.Issues)
	row := storage.Generation{
		ID:       result.RequestID,
		Model:    deps.Model,
		Success:  genErr == nil,
		Attempts: len(result.Attempts),
		Issues:   string(issues),
		Duration: result.Duration,
	}
	if genErr != nil {
		row.Error = genErr.Error()
	}
	if err := deps.Store.SaveGeneration(row); err != nil {
		slog.Warn("failed to record generation", "error", err)
	}
}

func recordProbe(deps Deps, model string, report probe.Report) {
	if deps.Store == nil {
		return
	}
	row := storage.Probe{
		ID:           uuid.New().String(),
		URL:          deps.ServerURL,
		Model:        model,
		Success:      report.Success,
		ModelUsed:    report.ModelUsed,
		ResponseTime: report.ResponseTime,
		Error:        report.Err,
	}
	if err := deps.Store.SaveProbe(row); err != nil {
		slog.Warn("failed to record probe", "error", err)
	}
}

// writeClassifiedError shapes a pipeline failure with the user-facing
// classification attached so the frontend can word its error screen.
func writeClassifiedError(w http.ResponseWriter, err error) {
	class := errclass.Classify(err)

	status := http.StatusBadGateway
	if class.Kind == errclass.KindValidationError || class.Kind == errclass.KindParseError {
		status = http.StatusUnprocessableEntity
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error":        err.Error(),
		"kind":         class.Kind,
		"retryable":    class.Retryable,
		"action":       class.Action,
		"user_message": class.UserMessage,
	})
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
