// Package config loads Aether's single top-level Config from a YAML file
// with environment-variable expansion, overridable by CLI flags per spec §6.
package config

import (
	"fmt"
	"time"
)

// Config is the kernel's complete runtime configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	LLM     LLMConfig     `yaml:"llm"`
	Auth    AuthConfig    `yaml:"auth"`
	Process ProcessConfig `yaml:"process"`
	DataDir string        `yaml:"data_dir"`
}

// ServerConfig configures the ClientGateway's listener.
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// LLMConfig selects and configures the LLMProvider (spec §2 row naming
// Anthropic/OpenAI/local backends as external collaborators).
type LLMConfig struct {
	Provider string `yaml:"provider"`
	APIKey   string `yaml:"api_key"`
	Cheap    string `yaml:"cheap_provider"`
}

// AuthConfig configures the JWT bearer-token handshake (spec §6).
type AuthConfig struct {
	JWTSecret   string        `yaml:"jwt_secret"`
	TokenExpiry time.Duration `yaml:"token_expiry"`
}

// ProcessConfig configures ProcessManager admission and reaping (spec §5).
type ProcessConfig struct {
	PerUIDCap      int           `yaml:"per_uid_cap"`
	GlobalCap      int           `yaml:"global_cap"`
	ZombieGrace    time.Duration `yaml:"zombie_grace"`
	ReaperSchedule string        `yaml:"reaper_schedule"`
}

// Default returns a Config with the kernel's documented defaults applied.
func Default() Config {
	return Config{
		Server:  ServerConfig{ListenAddr: ":8080"},
		LLM:     LLMConfig{Provider: "anthropic"},
		DataDir: "./data",
		Process: ProcessConfig{
			PerUIDCap:      8,
			ZombieGrace:    5 * time.Second,
			ReaperSchedule: "@every 60s",
		},
	}
}

// Validate reports a config-time error per spec §6's exit code 1.
func (c Config) Validate() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("config: server.listen_addr is required")
	}
	if c.LLM.Provider == "" {
		return fmt.Errorf("config: llm.provider is required")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("config: auth.jwt_secret is required")
	}
	if c.DataDir == "" {
		return fmt.Errorf("config: data_dir is required")
	}
	return nil
}
