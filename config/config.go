// Package config loads the engine's operational knobs (§6): the
// consolidation interval, model identifiers, provider endpoints, and
// database DSN. The engine library itself never loads configuration —
// this package exists for the process that wires an Engine together
// (tests, a cmd binary), the way the teacher's internal/config backs
// cmd/oasis.
package config

import (
	"os"

	"github.com/BurntSushi/toml"
)

// MinConsolidationInterval is the floor for ConsolidationIntervalSeconds (§6).
const MinConsolidationInterval = 10

// DefaultConsolidationInterval is used when unset (§6).
const DefaultConsolidationInterval = 300

type Config struct {
	Database      DatabaseConfig      `toml:"database"`
	Extractor     ModelConfig         `toml:"extractor"`
	Consolidator  ModelConfig         `toml:"consolidator"`
	Reflector     ModelConfig         `toml:"reflector"`
	Embedding     ModelConfig         `toml:"embedding"`
	Reranker      ModelConfig         `toml:"reranker"`
	Consolidation ConsolidationConfig `toml:"consolidation"`
}

type DatabaseConfig struct {
	DSN string `toml:"dsn"`
}

type ModelConfig struct {
	Provider string `toml:"provider"`
	Model    string `toml:"model"`
	Region   string `toml:"region"`
	Endpoint string `toml:"endpoint"`
	APIKey   string `toml:"api_key"`
}

type ConsolidationConfig struct {
	IntervalSeconds int `toml:"interval_seconds"`
}

// Default returns a Config with defaults applied (§6).
func Default() Config {
	return Config{
		Consolidation: ConsolidationConfig{IntervalSeconds: DefaultConsolidationInterval},
	}
}

// Load reads config: defaults -> TOML file -> env vars (env wins).
func Load(path string) Config {
	cfg := Default()

	if path == "" {
		path = "engine.toml"
	}
	if data, err := os.ReadFile(path); err == nil {
		_ = toml.Unmarshal(data, &cfg)
	}

	if v := os.Getenv("ENGINE_DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("CONSOLIDATION_INTERVAL_SECONDS"); v != "" {
		if n := parseInt(v); n > 0 {
			cfg.Consolidation.IntervalSeconds = n
		}
	}
	if v := os.Getenv("ENGINE_EXTRACTOR_API_KEY"); v != "" {
		cfg.Extractor.APIKey = v
	}
	if v := os.Getenv("ENGINE_CONSOLIDATOR_API_KEY"); v != "" {
		cfg.Consolidator.APIKey = v
	}
	if v := os.Getenv("ENGINE_REFLECTOR_API_KEY"); v != "" {
		cfg.Reflector.APIKey = v
	}
	if v := os.Getenv("ENGINE_EMBEDDING_API_KEY"); v != "" {
		cfg.Embedding.APIKey = v
	}
	if v := os.Getenv("ENGINE_RERANKER_API_KEY"); v != "" {
		cfg.Reranker.APIKey = v
	}

	cfg.Consolidation.IntervalSeconds = ClampInterval(cfg.Consolidation.IntervalSeconds)
	return cfg
}

// ClampInterval enforces the §6 minimum consolidation interval of 10s.
func ClampInterval(seconds int) int {
	if seconds < MinConsolidationInterval {
		return MinConsolidationInterval
	}
	return seconds
}

func parseInt(s string) int {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return -1
		}
		n = n*10 + int(c-'0')
	}
	return n
}
