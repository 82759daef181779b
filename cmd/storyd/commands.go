package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"storyd/internal/config"
	"storyd/internal/ollama"
	"storyd/internal/probe"
)

// --- test ---

var testCmd = &cobra.Command{
	Use:   "test [model]",
	Short: "Test the connection to the local model server",
	Long: `Test the connection to the local model server.

Verifies reachability, checks that the model exists, and runs a short
generation through it. Falls back to other installed models, largest
first, when the requested one fails.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body := map[string]any{}
		if len(args) == 1 {
			body["model"] = args[0]
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		fmt.Fprintln(os.Stderr, "testing connection...")
		resp, err := client.post(cmd.Context(), "/v1/probe", body)
		if err != nil {
			return err
		}

		var report probe.Report
		if err := decodeJSON(resp, &report); err != nil {
			return err
		}

		if !report.Success {
			failf("connection test failed: %s", report.Err)
			if len(report.Available) > 0 {
				statusLine("Available", "%s", strings.Join(report.Available, ", "))
			}
			if len(report.Tried) > 0 {
				statusLine("Tried", "%s", strings.Join(report.Tried, ", "))
			}
			return fmt.Errorf("connection test failed")
		}

		okf("connection OK")
		statusLine("Model", "%s", report.ModelUsed)
		statusLine("Response time", "%s", report.ResponseTime)
		if report.Sample != "" {
			statusLine("Sample", "%s", report.Sample)
		}
		return nil
	},
}

// --- generate ---

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate a structured story turn",
	Long: `Generate a structured story turn.

Examples:
  storyd generate --system "You are a dungeon master" --fields story,choices
  storyd generate --system "You are a narrator" --message "open the door" --fields story:string,choices:array`,
	RunE: func(cmd *cobra.Command, args []string) error {
		system, _ := cmd.Flags().GetString("system")
		messages, _ := cmd.Flags().GetStringArray("message")
		fieldsStr, _ := cmd.Flags().GetString("fields")

		if system == "" {
			return fmt.Errorf("--system is required")
		}
		if fieldsStr == "" {
			return fmt.Errorf("--fields is required")
		}

		fields, err := parseFieldSpecs(fieldsStr)
		if err != nil {
			return err
		}

		history := make([]map[string]string, len(messages))
		for i, m := range messages {
			history[i] = map[string]string{"role": "user", "content": m}
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/v1/generate", map[string]any{
			"system_prompt": system,
			"messages":      history,
			"fields":        fields,
		})
		if err != nil {
			return err
		}

		var result struct {
			RequestID string         `json:"request_id"`
			Fields    map[string]any `json:"fields"`
			Issues    []string       `json:"issues"`
			Attempts  []any          `json:"attempts"`
			Duration  time.Duration  `json:"duration"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		for _, issue := range result.Issues {
			warnf("%s", issue)
		}
		statusLine("Request", "%s (%d attempts, %s)", result.RequestID, len(result.Attempts), result.Duration)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result.Fields)
	},
}

// parseFieldSpecs turns "story:string,choices:array" into field specs.
// A bare name defaults to the string type.
func parseFieldSpecs(s string) ([]map[string]string, error) {
	var fields []map[string]string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, typ := part, "string"
		if i := strings.IndexByte(part, ':'); i >= 0 {
			name, typ = part[:i], part[i+1:]
		}
		if name == "" {
			return nil, fmt.Errorf("invalid field spec %q", part)
		}
		fields = append(fields, map[string]string{"name": name, "type": typ})
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("no fields given")
	}
	return fields, nil
}

func init() {
	generateCmd.Flags().String("system", "", "system prompt establishing the narrator")
	generateCmd.Flags().StringArray("message", nil, "user message, repeatable to build up history")
	generateCmd.Flags().String("fields", "", "comma-separated fields the response must carry (name or name:type)")
}

// --- models ---

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List models installed on the local model server",
	RunE: func(cmd *cobra.Command, args []string) error {
		details, _ := cmd.Flags().GetBool("details")

		cfg, err := config.Load()
		if err != nil {
			return err
		}

		ollamaClient := ollama.New(cfg.Ollama.BaseURL)
		names, err := ollamaClient.ListModels(cmd.Context())
		if err != nil {
			return fmt.Errorf("listing models: %w", err)
		}
		if len(names) == 0 {
			fmt.Println("No models installed.")
			return nil
		}

		// Show largest first, the same order the connection test falls back in.
		for _, name := range probe.RankModels(names) {
			marker := " "
			if name == cfg.Ollama.Model || strings.HasPrefix(name, cfg.Ollama.Model+":") {
				marker = paint(ansiGreen, "*")
			}
			if details {
				if info, err := ollamaClient.Show(cmd.Context(), name); err == nil {
					fmt.Printf("%s %-32s %s\n", marker, name, describeModel(info))
					continue
				}
			}
			fmt.Printf("%s %s\n", marker, name)
		}
		return nil
	},
}

// describeModel summarizes the show metadata worth a glance when picking a
// model: family, parameter size, quantization, context window.
func describeModel(info ollama.ModelInfo) string {
	var parts []string
	if info.Family != "" {
		parts = append(parts, info.Family)
	}
	if info.ParameterSize != "" {
		parts = append(parts, info.ParameterSize)
	}
	if info.QuantizationLevel != "" {
		parts = append(parts, info.QuantizationLevel)
	}
	if info.ContextLength > 0 {
		parts = append(parts, fmt.Sprintf("%d ctx", info.ContextLength))
	}
	return strings.Join(parts, ", ")
}

func init() {
	modelsCmd.Flags().Bool("details", false, "show family, parameter size, and context window per model")
}

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent generation and connection-test outcomes",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		probes, _ := cmd.Flags().GetBool("probes")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := fmt.Sprintf("/v1/history/generations?limit=%d", limit)
		if probes {
			path = fmt.Sprintf("/v1/history/probes?limit=%d", limit)
		}

		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		if probes {
			var body struct {
				Items []struct {
					ID           string        `json:"ID"`
					Model        string        `json:"Model"`
					Success      bool          `json:"Success"`
					ModelUsed    string        `json:"ModelUsed"`
					ResponseTime time.Duration `json:"ResponseTime"`
					Error        string        `json:"Error"`
					CreatedAt    time.Time     `json:"CreatedAt"`
				} `json:"items"`
			}
			if err := decodeJSON(resp, &body); err != nil {
				return err
			}
			if len(body.Items) == 0 {
				fmt.Println("No connection tests recorded.")
				return nil
			}
			for _, p := range body.Items {
				outcome := paint(ansiGreen, "ok")
				detail := fmt.Sprintf("%s in %s", p.ModelUsed, p.ResponseTime)
				if !p.Success {
					outcome = paint(ansiRed, "failed")
					detail = p.Error
				}
				fmt.Printf("%s  %s  %s  %s\n", p.CreatedAt.Format(time.RFC3339), p.Model, outcome, detail)
			}
			return nil
		}

		var body struct {
			Items []struct {
				ID        string        `json:"ID"`
				Model     string        `json:"Model"`
				Success   bool          `json:"Success"`
				Attempts  int           `json:"Attempts"`
				Error     string        `json:"Error"`
				Duration  time.Duration `json:"Duration"`
				CreatedAt time.Time     `json:"CreatedAt"`
			} `json:"items"`
		}
		if err := decodeJSON(resp, &body); err != nil {
			return err
		}
		if len(body.Items) == 0 {
			fmt.Println("No generations recorded.")
			return nil
		}
		for _, g := range body.Items {
			outcome := paint(ansiGreen, "ok")
			detail := fmt.Sprintf("%d attempts, %s", g.Attempts, g.Duration)
			if !g.Success {
				outcome = paint(ansiRed, "failed")
				detail = g.Error
			}
			fmt.Printf("%s  %s  %s  %s\n", g.CreatedAt.Format(time.RFC3339), g.Model, outcome, detail)
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().Int("limit", 20, "maximum number of records to show")
	historyCmd.Flags().Bool("probes", false, "show connection tests instead of generations")
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", paint(ansiBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		okf("set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
