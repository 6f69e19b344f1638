// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

//go:build darwin

package ollama

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"
)

const installInstructions = "Could not start Ollama. Please install Ollama from " +
	"https://ollama.com/download/mac, then click 'Check Status' in PrivatePDF."

// defaultLaunchStrategies returns the macOS strategy chain: the CLI the
// installer puts on PATH, then the app bundle, which self-starts the
// server when launched.
func defaultLaunchStrategies(c *Client) []LaunchStrategy {
	return []LaunchStrategy{
		&serveStrategy{},
		&appBundleStrategy{ready: c.Ping},
	}
}

// spawnServe starts "<name> serve" in its own process group with output
// suppressed, and releases the child so it outlives this process.
func spawnServe(name string) error {
	cmd := exec.Command(name, "serve")
	cmd.Env = os.Environ()
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
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

// serveStrategy runs "ollama serve" directly.
type serveStrategy struct{}

func (s *serveStrategy) Name() string { return "ollama serve" }

func (s *serveStrategy) Launch(_ context.Context) (string, error) {
	if err := spawnServe("ollama"); err != nil {
		return "", fmt.Errorf("failed to run 'ollama serve': %w", err)
	}
	return "Ollama starting... Please wait 10-20 seconds for it to initialize.", nil
}

// appBundleStrategy launches Ollama.app in the background; the app
// self-starts the server. Launching the app says nothing about whether the
// server actually came up, so success is only declared after a follow-up
// probe answers within appReadyWait.
type appBundleStrategy struct {
	ready func(ctx context.Context) bool
}

const (
	appReadyWait = 10 * time.Second
	appReadyPoll = 500 * time.Millisecond
)

func (s *appBundleStrategy) Name() string { return "Ollama.app" }

func (s *appBundleStrategy) Launch(ctx context.Context) (string, error) {
	// -g keeps the app from stealing focus, -a launches by name.
	cmd := exec.Command("open", "-g", "-a", "Ollama")
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("failed to launch Ollama.app: %w", err)
	}
	if cmd.Process != nil {
		cmd.Process.Release()
	}

	deadline := time.Now().Add(appReadyWait)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("Ollama startup cancelled: %w", ctx.Err())
		case <-time.After(appReadyPoll):
		}
		if s.ready(ctx) {
			return "Ollama starting via app... Please wait 10-20 seconds for it to initialize.", nil
		}
	}

	return "", fmt.Errorf("Ollama.app launched but the server did not become reachable within %s", appReadyWait)
}

// stopSpec returns the macOS kill command: name-pattern kill.
func stopSpec() killSpec {
	return killSpec{name: "pkill", args: []string{"-f", "ollama"}}
}
