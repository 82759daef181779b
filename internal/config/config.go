// Package config loads daemon configuration from a JSON config file with
// STORYD_* environment variable overrides.
package config

import (
	"os"
	"path/filepath"
)

type Config struct {
	Server     ServerConfig
	Ollama     OllamaConfig
	Generation GenerationConfig
	Storage    StorageConfig
	Log        LogConfig
}

type ServerConfig struct {
	Port int
	// Token guards the /v1 API when non-empty. Settable only via the
	// STORYD_API_TOKEN environment variable.
	Token string
}

type OllamaConfig struct {
	BaseURL string
	Model   string
}

// GenerationConfig holds the model options passed through on every generate
// call, plus the retry budget.
type GenerationConfig struct {
	MaxAttempts int
	Temperature float64
	TopP        float64
	NumPredict  int
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4200,
		},
		Ollama: OllamaConfig{
			BaseURL: "http://localhost:11434",
			Model:   "mistral-nemo",
		},
		Generation: GenerationConfig{
			MaxAttempts: 3,
			Temperature: 0.8,
			TopP:        0.9,
			NumPredict:  1024,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "storyd-data"
		}
	}
	return filepath.Join(dir, "storyd")
}

// Load reads configuration from the JSON file at
// $XDG_CONFIG_HOME/storyd/config.json, then applies STORYD_* environment
// variable overrides. Missing file and keys fall back to defaults; no key
// is required.
func Load() (Config, error) {
	return loadWith(newFileBackend(configFilePath()))
}

func loadWith(b Backend) (Config, error) {
	cfg := defaults()
	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)
	return cfg, nil
}

func configFilePath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".config")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "storyd", "config.json")
}
