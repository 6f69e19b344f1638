// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

//go:build windows

package ollama

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
)

// Windows-specific creation flags
const (
	// CREATE_NO_WINDOW prevents a console window from being created
	CREATE_NO_WINDOW = 0x08000000
	// DETACHED_PROCESS creates a new process that is detached from the console
	DETACHED_PROCESS = 0x00000008
)

const installInstructions = "Could not find or start Ollama. Please:\n" +
	"1. Install Ollama from https://ollama.com/download/windows\n" +
	"2. Or open Command Prompt and run: ollama serve\n" +
	"3. Then click 'Check Status' in PrivatePDF"

const startingMessage = "Ollama server starting. Please wait a few seconds for it to initialize."

// defaultLaunchStrategies returns the Windows strategy chain: well-known
// install paths first (the PrivatePDF-managed ZIP install before the
// official installer locations), then PATH lookup, then the bare command.
//
// Windows ships two executables: ollama.exe is the server, "ollama app.exe"
// is a settings GUI that does NOT start the server. Every strategy must
// spawn ollama.exe with the serve argument.
func defaultLaunchStrategies(_ *Client) []LaunchStrategy {
	return []LaunchStrategy{
		&knownPathStrategy{},
		&pathLookupStrategy{},
		&bareCommandStrategy{},
	}
}

// spawnServe starts "<path> serve" detached, with no console window, and
// releases the child so it outlives this process.
func spawnServe(path string) error {
	cmd := exec.Command(path, "serve")
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP | CREATE_NO_WINDOW | DETACHED_PROCESS,
	}
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.Stdin = nil

	if err := cmd.Start(); err != nil {
		return err
	}
	if cmd.Process != nil {
		cmd.Process.Release()
	}
	return nil
}

// knownPathStrategy probes well-known install locations for ollama.exe.
type knownPathStrategy struct{}

func (s *knownPathStrategy) Name() string { return "known install paths" }

func (s *knownPathStrategy) Launch(_ context.Context) (string, error) {
	var paths []string

	if localAppData := os.Getenv("LOCALAPPDATA"); localAppData != "" {
		paths = append(paths,
			// PrivatePDF-managed installation (ZIP-based). Check this first.
			filepath.Join(localAppData, "PrivatePDF", "ollama", "ollama.exe"),
			// Official installer location
			filepath.Join(localAppData, "Programs", "Ollama", "ollama.exe"),
		)
	}
	if programFiles := os.Getenv("PROGRAMFILES"); programFiles != "" {
		paths = append(paths, filepath.Join(programFiles, "Ollama", "ollama.exe"))
	}

	var lastErr error
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := spawnServe(p); err != nil {
			lastErr = fmt.Errorf("failed to spawn %s: %w", p, err)
			continue
		}
		return startingMessage, nil
	}

	if lastErr != nil {
		return "", lastErr
	}
	return "", fmt.Errorf("ollama.exe not found in any known install path")
}

// pathLookupStrategy resolves ollama.exe through the execution PATH.
type pathLookupStrategy struct{}

func (s *pathLookupStrategy) Name() string { return "PATH lookup" }

func (s *pathLookupStrategy) Launch(_ context.Context) (string, error) {
	path, err := exec.LookPath("ollama.exe")
	if err != nil {
		path, err = exec.LookPath("ollama")
	}
	if err != nil {
		return "", fmt.Errorf("ollama.exe not found in PATH: %w", err)
	}
	if err := spawnServe(path); err != nil {
		return "", fmt.Errorf("failed to spawn %s: %w", path, err)
	}
	return startingMessage, nil
}

// bareCommandStrategy spawns the bare command name and lets the OS resolve
// it. Last resort when LookPath and the known paths disagree with reality.
type bareCommandStrategy struct{}

func (s *bareCommandStrategy) Name() string { return "bare command" }

func (s *bareCommandStrategy) Launch(_ context.Context) (string, error) {
	if err := spawnServe("ollama"); err != nil {
		return "", fmt.Errorf("failed to run 'ollama serve': %w", err)
	}
	return startingMessage, nil
}

// stopSpec returns the Windows kill command: forceful kill by image name.
func stopSpec() killSpec {
	return killSpec{name: "taskkill", args: []string{"/F", "/IM", "ollama.exe"}}
}
