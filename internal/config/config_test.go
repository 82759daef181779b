package config

import (
	"testing"
)

// mapBackend is an in-memory Backend for tests.
type mapBackend map[string]any

func (m mapBackend) GetString(key string) (string, bool, error) {
	v, ok := m[key]
	if !ok {
		return "", false, nil
	}
	s, _ := v.(string)
	return s, true, nil
}

func (m mapBackend) GetInt(key string) (int, bool, error) {
	v, ok := m[key]
	if !ok {
		return 0, false, nil
	}
	i, _ := v.(int)
	return i, true, nil
}

func (m mapBackend) SetString(key, val string) error { m[key] = val; return nil }
func (m mapBackend) SetInt(key string, val int) error {
	m[key] = val
	return nil
}
func (m mapBackend) Delete(key string) error { delete(m, key); return nil }

func TestDefaults(t *testing.T) {
	cfg, err := loadWith(mapBackend{})
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}

	if cfg.Server.Port != 4200 {
		t.Errorf("Server.Port = %d, want 4200", cfg.Server.Port)
	}
	if cfg.Ollama.BaseURL != "http://localhost:11434" {
		t.Errorf("Ollama.BaseURL = %q", cfg.Ollama.BaseURL)
	}
	if cfg.Ollama.Model != "mistral-nemo" {
		t.Errorf("Ollama.Model = %q", cfg.Ollama.Model)
	}
	if cfg.Generation.MaxAttempts != 3 {
		t.Errorf("Generation.MaxAttempts = %d, want 3", cfg.Generation.MaxAttempts)
	}
	if cfg.Server.Token != "" {
		t.Errorf("Server.Token = %q, want empty (auth disabled by default)", cfg.Server.Token)
	}
}

func TestBackendOverridesDefaults(t *testing.T) {
	b := mapBackend{
		"server.port":             5000,
		"ollama.model":            "llama3:8b",
		"generation.temperature":  "0.2",
		"generation.max_attempts": 5,
	}
	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}

	if cfg.Server.Port != 5000 {
		t.Errorf("Server.Port = %d, want 5000", cfg.Server.Port)
	}
	if cfg.Ollama.Model != "llama3:8b" {
		t.Errorf("Ollama.Model = %q, want llama3:8b", cfg.Ollama.Model)
	}
	if cfg.Generation.Temperature != 0.2 {
		t.Errorf("Generation.Temperature = %v, want 0.2", cfg.Generation.Temperature)
	}
	if cfg.Generation.MaxAttempts != 5 {
		t.Errorf("Generation.MaxAttempts = %d, want 5", cfg.Generation.MaxAttempts)
	}
}

func TestEnvOverridesBackend(t *testing.T) {
	t.Setenv("STORYD_OLLAMA_MODEL", "phi3.5")
	t.Setenv("STORYD_SERVER_PORT", "6001")
	t.Setenv("STORYD_API_TOKEN", "secret-token")

	b := mapBackend{"ollama.model": "llama3:8b", "server.port": 5000}
	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}

	if cfg.Ollama.Model != "phi3.5" {
		t.Errorf("Ollama.Model = %q, want env override phi3.5", cfg.Ollama.Model)
	}
	if cfg.Server.Port != 6001 {
		t.Errorf("Server.Port = %d, want env override 6001", cfg.Server.Port)
	}
	if cfg.Server.Token != "secret-token" {
		t.Errorf("Server.Token = %q, want env-provided token", cfg.Server.Token)
	}
}

func TestEnvBadIntFallsBack(t *testing.T) {
	t.Setenv("STORYD_SERVER_PORT", "not-a-number")

	cfg, err := loadWith(mapBackend{})
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Server.Port != 4200 {
		t.Errorf("Server.Port = %d, want default 4200 on a bad env value", cfg.Server.Port)
	}
}

func TestSecretKeysHiddenFromShowAll(t *testing.T) {
	cfg, _ := loadWith(mapBackend{})
	for _, ki := range ShowAll(cfg) {
		if ki.Key == "server.token" {
			t.Error("ShowAll exposes the secret token key")
		}
	}
}
