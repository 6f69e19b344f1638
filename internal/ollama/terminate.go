// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"context"
	"errors"
	"os/exec"

	"go.uber.org/zap"
)

// =============================================================================
// TERMINATOR
// =============================================================================

// killSpec is the platform-specific termination command. Each platform
// file contributes one via stopSpec.
type killSpec struct {
	name string
	args []string
}

// Terminator stops the Ollama server at application shutdown.
//
// It is invoked unconditionally, whether or not the server is running, so
// a kill command that finds no matching process is success ("nothing to
// stop"). Only a failure to execute the command at all is reported, and
// the shutdown path does not block application exit on it. Callers bound
// Stop with a short context deadline.
type Terminator struct {
	log *zap.Logger
}

// NewTerminator creates a terminator for the current platform.
func NewTerminator(log *zap.Logger) *Terminator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Terminator{log: log}
}

// Stop sends the platform kill command and waits for it to complete.
func (t *Terminator) Stop(ctx context.Context) (string, error) {
	return t.stop(ctx, stopSpec())
}

func (t *Terminator) stop(ctx context.Context, spec killSpec) (string, error) {
	t.log.Info("attempting to stop Ollama service",
		zap.String("command", spec.name), zap.Strings("args", spec.args))

	err := exec.CommandContext(ctx, spec.name, spec.args...).Run()
	if err == nil {
		t.log.Info("Ollama service stopped")
		return "Ollama service stopped", nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// Non-zero exit: no matching process. Nothing to stop.
		t.log.Info("Ollama may not be running or already stopped",
			zap.Int("exit_code", exitErr.ExitCode()))
		return "Ollama stop attempted (may not have been running)", nil
	}

	t.log.Warn("failed to execute stop command", zap.Error(err))
	return "", &ClientError{Type: ErrTypeTransport, Message: "failed to stop Ollama", Cause: err}
}
