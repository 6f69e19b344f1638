// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

// =============================================================================
// APP SETTINGS
// =============================================================================

// AppSettings holds the user-tunable preferences persisted between runs.
// Unknown fields in the file are ignored; missing fields keep their
// defaults.
type AppSettings struct {
	Theme       string  `json:"theme"`
	OllamaModel string  `json:"ollama_model"`
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
}

// Defaults returns the settings used when no file exists yet.
func Defaults() AppSettings {
	return AppSettings{
		Theme:       "dark",
		OllamaModel: "gemma3:1b-it-q4_K_M",
		Temperature: 0.2,
		TopP:        0.7,
	}
}

// =============================================================================
// STORE
// =============================================================================

const settingsFileName = "settings.json"

// Store reads and writes the settings file under the per-user app data
// directory. All methods are safe for concurrent use.
type Store struct {
	mu   sync.Mutex
	path string
	log  *zap.Logger
}

// NewStore creates a store rooted at the platform user config directory
// (for example ~/.config/PrivatePDF/settings.json on Linux).
func NewStore(log *zap.Logger) (*Store, error) {
	root, err := os.UserConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get app data directory: %w", err)
	}
	return NewStoreAt(filepath.Join(root, "PrivatePDF"), log), nil
}

// NewStoreAt creates a store whose settings file lives in dir.
func NewStoreAt(dir string, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{
		path: filepath.Join(dir, settingsFileName),
		log:  log,
	}
}

// Path returns the absolute path of the settings file.
func (s *Store) Path() string {
	return s.path
}

// Load reads settings from disk, returning defaults when no file exists.
func (s *Store) Load() (AppSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		s.log.Info("no settings file found, returning defaults")
		return Defaults(), nil
	}
	if err != nil {
		return AppSettings{}, fmt.Errorf("failed to read settings file: %w", err)
	}

	settings := Defaults()
	if err := json.Unmarshal(data, &settings); err != nil {
		return AppSettings{}, fmt.Errorf("failed to parse settings: %w", err)
	}
	return settings, nil
}

// Save writes settings to disk, creating the directory if needed.
func (s *Store) Save(settings AppSettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create app data directory: %w", err)
	}

	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize settings: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write settings file: %w", err)
	}

	s.log.Info("settings saved", zap.String("path", s.path))
	return nil
}

// Reset deletes any saved file and writes defaults back, returning them.
func (s *Store) Reset() (AppSettings, error) {
	s.mu.Lock()
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		s.mu.Unlock()
		return AppSettings{}, fmt.Errorf("failed to delete settings file: %w", err)
	}
	s.mu.Unlock()

	defaults := Defaults()
	if err := s.Save(defaults); err != nil {
		return AppSettings{}, err
	}
	return defaults, nil
}
