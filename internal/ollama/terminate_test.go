// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

//go:build !windows

package ollama

import (
	"context"
	"testing"
)

// TestTerminator_NoMatchingProcessIsSuccess verifies that a kill command
// exiting non-zero (no process matched) is treated as "nothing to stop".
func TestTerminator_NoMatchingProcessIsSuccess(t *testing.T) {
	term := NewTerminator(nil)

	// `false` exits 1, mimicking pkill with no match.
	msg, err := term.stop(context.Background(), killSpec{name: "false"})
	if err != nil {
		t.Fatalf("stop() error: %v, want success", err)
	}
	if msg == "" {
		t.Error("stop() returned no message")
	}
}

func TestTerminator_CleanKillIsSuccess(t *testing.T) {
	term := NewTerminator(nil)

	msg, err := term.stop(context.Background(), killSpec{name: "true"})
	if err != nil {
		t.Fatalf("stop() error: %v", err)
	}
	if msg != "Ollama service stopped" {
		t.Errorf("msg = %q", msg)
	}
}

// TestTerminator_ExecFailureIsReported verifies that failing to execute
// the termination command at all is the one reportable error.
func TestTerminator_ExecFailureIsReported(t *testing.T) {
	term := NewTerminator(nil)

	_, err := term.stop(context.Background(), killSpec{name: "/nonexistent/definitely-not-a-command"})
	if err == nil {
		t.Fatal("stop() error = nil, want exec failure")
	}
}
