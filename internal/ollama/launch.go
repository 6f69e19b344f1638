// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// =============================================================================
// LAUNCHER
// =============================================================================

// LaunchStrategy is one way of locating or starting the Ollama server.
// Launch returns an advisory message for the user on success.
type LaunchStrategy interface {
	Name() string
	Launch(ctx context.Context) (string, error)
}

// Launcher starts the Ollama server by trying an ordered list of
// platform-specific strategies. The first success wins; individual
// failures are logged and the next strategy attempted.
//
// Starting the server is asynchronous. A successful launch means a process
// was spawned (or a service unit started), not that the API is reachable;
// callers must re-probe until Ping succeeds.
type Launcher struct {
	strategies []LaunchStrategy
	log        *zap.Logger
}

// NewLauncher creates a launcher with the default strategy chain for the
// current platform. The client is used by strategies that confirm
// readiness with a follow-up probe.
func NewLauncher(client *Client, log *zap.Logger) *Launcher {
	return NewLauncherWithStrategies(log, defaultLaunchStrategies(client)...)
}

// NewLauncherWithStrategies creates a launcher with an explicit strategy
// chain. Used by tests to inject fakes.
func NewLauncherWithStrategies(log *zap.Logger, strategies ...LaunchStrategy) *Launcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Launcher{strategies: strategies, log: log}
}

// Start tries each strategy in order and returns the first success
// message. When a strategy reports that Ollama is not installed at all,
// Start fails immediately without trying the rest. If every strategy
// fails, the returned error aggregates all failures and carries install
// instructions.
func (l *Launcher) Start(ctx context.Context) (string, error) {
	l.log.Info("attempting to start Ollama service", zap.Int("strategies", len(l.strategies)))

	var failures []error
	for _, s := range l.strategies {
		msg, err := s.Launch(ctx)
		if err == nil {
			l.log.Info("Ollama launch succeeded", zap.String("strategy", s.Name()))
			return msg, nil
		}

		l.log.Warn("launch strategy failed", zap.String("strategy", s.Name()), zap.Error(err))
		if IsNotInstalled(err) {
			return "", err
		}
		failures = append(failures, err)
	}

	l.log.Error("all launch strategies failed")
	return "", &ClientError{
		Type:    ErrTypeNotInstalled,
		Message: installInstructions,
		Cause:   errors.Join(failures...),
	}
}
