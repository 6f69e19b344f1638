// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides configuration loading and management for
// privatepdfd.
//
// Configuration file location (in order of precedence):
//   - ~/.privatepdf/config.toml
//   - Built-in defaults
//
// Environment variables override values from the file.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete privatepdfd configuration.
type Config struct {
	// Server settings for the local command gateway
	Server ServerConfig `toml:"server"`

	// Ollama connection settings
	Ollama OllamaConfig `toml:"ollama"`

	// Install settings for the managed Ollama runtime
	Install InstallConfig `toml:"install"`

	// Log settings
	Log LogConfig `toml:"log"`
}

// ServerConfig contains the local HTTP gateway configuration.
type ServerConfig struct {
	// ListenAddr is the address the gateway binds to. Loopback only;
	// the gateway carries no authentication.
	ListenAddr string `toml:"listen_addr"`
}

// OllamaConfig contains local Ollama connection configuration.
type OllamaConfig struct {
	// BaseURL is the URL of the Ollama server
	BaseURL string `toml:"base_url"`
	// Model is the default model for chat and streaming
	Model string `toml:"model"`
	// EmbeddingModel is the model used for embeddings (empty = Model)
	EmbeddingModel string `toml:"embedding_model"`
}

// InstallConfig contains managed-install configuration.
type InstallConfig struct {
	// AMDGPU selects the ROCm release archive on Windows
	AMDGPU bool `toml:"amd_gpu"`
}

// LogConfig contains logging configuration.
type LogConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error"
	Level string `toml:"level"`
	// Development enables human-readable console output
	Development bool `toml:"development"`
}

// =============================================================================
// DEFAULT CONFIGURATION
// =============================================================================

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr: "127.0.0.1:8741",
		},
		Ollama: OllamaConfig{
			BaseURL: "http://127.0.0.1:11434",
			Model:   "gemma3:1b-it-q4_K_M",
		},
		Install: InstallConfig{
			AMDGPU: false,
		},
		Log: LogConfig{
			Level:       "info",
			Development: false,
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the privatepdf configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".privatepdf"), nil
}

// ConfigPath returns the path to the TOML config file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// EnsureConfigDir ensures the config directory exists.
func EnsureConfigDir() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0755)
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads configuration from the config file, falling back to defaults
// when no file exists. Environment overrides are applied last.
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	if _, statErr := os.Stat(path); statErr != nil {
		cfg := Default()
		cfg.ApplyEnvOverrides()
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid config: %w", err)
		}
		return cfg, nil
	}
	return LoadFromPath(path)
}

// LoadFromPath loads configuration from a specific TOML file with full
// validation.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode TOML file: %w", err)
	}

	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// SetDefaults sets default values for any missing configuration fields.
func (c *Config) SetDefaults() {
	defaults := Default()

	if c.Server.ListenAddr == "" {
		c.Server.ListenAddr = defaults.Server.ListenAddr
	}
	if c.Ollama.BaseURL == "" {
		c.Ollama.BaseURL = defaults.Ollama.BaseURL
	}
	if c.Ollama.Model == "" {
		c.Ollama.Model = defaults.Ollama.Model
	}
	if c.Ollama.EmbeddingModel == "" {
		c.Ollama.EmbeddingModel = c.Ollama.Model
	}
	if c.Log.Level == "" {
		c.Log.Level = defaults.Log.Level
	}
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// Save saves the configuration to the default TOML file.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML saves the configuration to a TOML file.
func SaveTOML(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	// Write header comment
	fmt.Fprintln(file, "# privatepdf configuration file")
	fmt.Fprintln(file, "# Generated by privatepdfd - edit with care")
	fmt.Fprintln(file, "")

	encoder := toml.NewEncoder(file)
	if err := encoder.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	var errs ValidateErrors

	// The gateway has no authentication, so refuse non-loopback binds.
	if c.Server.ListenAddr != "" {
		host, _, err := splitHostPort(c.Server.ListenAddr)
		if err != nil {
			errs = append(errs, ValidationError{
				Field:   "server.listen_addr",
				Message: fmt.Sprintf("invalid address: %v", err),
			})
		} else if !isLoopbackHost(host) {
			errs = append(errs, ValidationError{
				Field:   "server.listen_addr",
				Message: fmt.Sprintf("must bind to a loopback address, got %q", host),
			})
		}
	}

	if c.Ollama.BaseURL != "" {
		u, err := url.Parse(c.Ollama.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, ValidationError{
				Field:   "ollama.base_url",
				Message: fmt.Sprintf("invalid URL %q", c.Ollama.BaseURL),
			})
		}
	}

	validLevels := map[string]bool{"": true, "debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Log.Level)] {
		errs = append(errs, ValidationError{
			Field:   "log.level",
			Message: fmt.Sprintf("invalid level '%s', must be one of: debug, info, warn, error", c.Log.Level),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// splitHostPort splits "host:port", tolerating a bracketed IPv6 host.
func splitHostPort(addr string) (string, string, error) {
	i := strings.LastIndex(addr, ":")
	if i < 0 {
		return "", "", fmt.Errorf("missing port in %q", addr)
	}
	host := strings.Trim(addr[:i], "[]")
	return host, addr[i+1:], nil
}

func isLoopbackHost(host string) bool {
	switch host {
	case "localhost", "::1":
		return true
	}
	return strings.HasPrefix(host, "127.")
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides to the config.
//
// Supported environment variables:
//   - PRIVATEPDF_LISTEN_ADDR: overrides server.listen_addr
//   - PRIVATEPDF_OLLAMA_URL: overrides ollama.base_url
//   - PRIVATEPDF_MODEL: overrides ollama.model
//   - PRIVATEPDF_AMD_GPU: set to "1" or "true" to select the ROCm build
//   - PRIVATEPDF_LOG_LEVEL: overrides log.level
//   - DEBUG: set to "true" to enable development logging
func (c *Config) ApplyEnvOverrides() {
	if addr := os.Getenv("PRIVATEPDF_LISTEN_ADDR"); addr != "" {
		c.Server.ListenAddr = addr
	}

	if u := os.Getenv("PRIVATEPDF_OLLAMA_URL"); u != "" {
		c.Ollama.BaseURL = u
	}

	if model := os.Getenv("PRIVATEPDF_MODEL"); model != "" {
		c.Ollama.Model = model
	}

	if amd := os.Getenv("PRIVATEPDF_AMD_GPU"); amd != "" {
		c.Install.AMDGPU = amd == "1" || strings.ToLower(amd) == "true"
	}

	if level := os.Getenv("PRIVATEPDF_LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}

	if debug := os.Getenv("DEBUG"); strings.ToLower(debug) == "true" {
		c.Log.Development = true
		c.Log.Level = "debug"
	}
}
