package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads a YAML config file from path, expanding ${VAR} references
// against the process environment before parsing, and returns it merged
// with Default(). An empty path returns Default() unmodified.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Overrides holds CLI-flag values that take precedence over file/env
// config, per the flag set named in spec §6.
type Overrides struct {
	ListenAddr  string
	DataDir     string
	LLMProvider string
	LLMAPIKey   string
	JWTSecret   string
}

// Apply merges non-zero override fields into cfg, returning the result.
func Apply(cfg Config, o Overrides) Config {
	if o.ListenAddr != "" {
		cfg.Server.ListenAddr = o.ListenAddr
	}
	if o.DataDir != "" {
		cfg.DataDir = o.DataDir
	}
	if o.LLMProvider != "" {
		cfg.LLM.Provider = o.LLMProvider
	}
	if o.LLMAPIKey != "" {
		cfg.LLM.APIKey = o.LLMAPIKey
	}
	if o.JWTSecret != "" {
		cfg.Auth.JWTSecret = o.JWTSecret
	}
	return cfg
}

// EnvOverrides reads the AETHER_* environment variables named in spec §6
// into an Overrides value.
func EnvOverrides() Overrides {
	return Overrides{
		ListenAddr:  os.Getenv("AETHER_LISTEN_ADDR"),
		DataDir:     os.Getenv("AETHER_DATA_DIR"),
		LLMProvider: os.Getenv("AETHER_LLM_PROVIDER"),
		LLMAPIKey:   os.Getenv("AETHER_LLM_API_KEY"),
		JWTSecret:   os.Getenv("AETHER_JWT_SECRET"),
	}
}
