// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

//go:build linux

package ollama

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
)

const installInstructions = "Ollama is not installed or not in PATH. " +
	"Please install Ollama from https://ollama.com/download/linux"

// defaultLaunchStrategies returns the Linux strategy chain: a user-level
// systemd unit when one exists, otherwise a direct spawn. Both start by
// resolving the executable; when it is missing entirely the whole launch
// fails fast with install instructions instead of walking the chain.
func defaultLaunchStrategies(_ *Client) []LaunchStrategy {
	return []LaunchStrategy{
		&systemdStrategy{},
		&directServeStrategy{},
	}
}

// findOllamaExecutable resolves the ollama binary via PATH, then common
// install directories including the per-user location.
func findOllamaExecutable() (string, error) {
	if path, err := exec.LookPath("ollama"); err == nil {
		return path, nil
	}

	paths := []string{
		"/usr/local/bin/ollama",
		"/usr/bin/ollama",
		"/opt/ollama/bin/ollama",
	}
	if home := os.Getenv("HOME"); home != "" {
		paths = append(paths, filepath.Join(home, ".local", "bin", "ollama"))
	}

	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", &ClientError{Type: ErrTypeNotInstalled, Message: installInstructions}
}

// systemdStrategy starts Ollama through a user-level systemd unit when one
// exists in a recognized state.
type systemdStrategy struct{}

func (s *systemdStrategy) Name() string { return "systemd user service" }

func (s *systemdStrategy) Launch(ctx context.Context) (string, error) {
	if _, err := findOllamaExecutable(); err != nil {
		return "", err
	}

	// systemctl status exit codes 0-3 mean the unit exists (running or
	// stopped); 4 means unit not found.
	code := 0
	if err := exec.CommandContext(ctx, "systemctl", "--user", "status", "ollama").Run(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return "", fmt.Errorf("failed to check systemd status: %w", err)
		}
		code = exitErr.ExitCode()
	}
	if code > 3 {
		return "", fmt.Errorf("ollama systemd unit not found (status exit code %d)", code)
	}

	if err := exec.CommandContext(ctx, "systemctl", "--user", "start", "ollama").Run(); err != nil {
		return "", fmt.Errorf("failed to start via systemd user service: %w", err)
	}
	return "Ollama service started via systemd.", nil
}

// directServeStrategy spawns "<path> serve" with output suppressed.
type directServeStrategy struct{}

func (s *directServeStrategy) Name() string { return "ollama serve" }

func (s *directServeStrategy) Launch(_ context.Context) (string, error) {
	path, err := findOllamaExecutable()
	if err != nil {
		return "", err
	}

	cmd := exec.Command(path, "serve")
	cmd.Env = os.Environ()
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.Stdin = nil

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("failed to start Ollama from %s: %w", path, err)
	}
	if cmd.Process != nil {
		cmd.Process.Release()
	}
	return "Ollama service started. Please wait a few seconds for it to initialize.", nil
}

// stopSpec returns the Linux kill command: name-pattern kill scoped to the
// serve process so a running "ollama run" CLI session is left alone.
func stopSpec() killSpec {
	return killSpec{name: "pkill", args: []string{"-f", "ollama serve"}}
}
