// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package ollama

import (
	"context"
	"errors"
	"strings"
	"testing"
)

// fakeStrategy is an injectable launch strategy for tests.
type fakeStrategy struct {
	name    string
	msg     string
	err     error
	invoked bool
}

func (s *fakeStrategy) Name() string { return s.name }

func (s *fakeStrategy) Launch(context.Context) (string, error) {
	s.invoked = true
	return s.msg, s.err
}

func TestLauncher_FirstSuccessWins(t *testing.T) {
	first := &fakeStrategy{name: "first", msg: "started via first"}
	second := &fakeStrategy{name: "second", msg: "started via second"}

	launcher := NewLauncherWithStrategies(nil, first, second)
	msg, err := launcher.Start(context.Background())

	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if msg != "started via first" {
		t.Errorf("msg = %q", msg)
	}
	if second.invoked {
		t.Error("second strategy ran after the first succeeded")
	}
}

func TestLauncher_FallsThroughFailures(t *testing.T) {
	first := &fakeStrategy{name: "first", err: errors.New("exe not found")}
	second := &fakeStrategy{name: "second", msg: "started via second"}

	launcher := NewLauncherWithStrategies(nil, first, second)
	msg, err := launcher.Start(context.Background())

	if err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if msg != "started via second" {
		t.Errorf("msg = %q", msg)
	}
	if !first.invoked {
		t.Error("first strategy was skipped")
	}
}

// TestLauncher_AggregatesAllFailures verifies that exhausting every
// strategy yields one consolidated error carrying each failure, not a
// partial success.
func TestLauncher_AggregatesAllFailures(t *testing.T) {
	errA := errors.New("known paths: nothing there")
	errB := errors.New("PATH lookup: not found")
	errC := errors.New("bare command: exec failed")

	launcher := NewLauncherWithStrategies(nil,
		&fakeStrategy{name: "a", err: errA},
		&fakeStrategy{name: "b", err: errB},
		&fakeStrategy{name: "c", err: errC},
	)

	msg, err := launcher.Start(context.Background())
	if err == nil {
		t.Fatal("Start() error = nil, want aggregated failure")
	}
	if msg != "" {
		t.Errorf("msg = %q, want empty on failure", msg)
	}

	if !IsNotInstalled(err) {
		t.Errorf("aggregated error type is not NotInstalled: %v", err)
	}
	for _, cause := range []error{errA, errB, errC} {
		if !errors.Is(err, cause) {
			t.Errorf("aggregated error does not wrap %v", cause)
		}
	}
	if !strings.Contains(err.Error(), "Ollama") {
		t.Errorf("error %q carries no install instructions", err)
	}
}

// TestLauncher_NotInstalledFailsFast verifies that a strategy reporting a
// missing install stops the chain immediately.
func TestLauncher_NotInstalledFailsFast(t *testing.T) {
	notInstalled := &fakeStrategy{name: "resolver", err: ErrNotInstalled}
	never := &fakeStrategy{name: "direct", msg: "would start"}

	launcher := NewLauncherWithStrategies(nil, notInstalled, never)
	_, err := launcher.Start(context.Background())

	if err == nil {
		t.Fatal("Start() error = nil, want not-installed")
	}
	if !IsNotInstalled(err) {
		t.Errorf("error = %v, want not-installed", err)
	}
	if never.invoked {
		t.Error("strategies after a not-installed failure must not run")
	}
}

func TestLauncher_NoStrategies(t *testing.T) {
	launcher := NewLauncherWithStrategies(nil)
	_, err := launcher.Start(context.Background())
	if err == nil {
		t.Fatal("Start() with no strategies must fail")
	}
}

func TestIsNotInstalled(t *testing.T) {
	if !IsNotInstalled(ErrNotInstalled) {
		t.Error("IsNotInstalled(ErrNotInstalled) = false")
	}
	if !IsNotInstalled(&ClientError{Type: ErrTypeNotInstalled, Message: "x"}) {
		t.Error("typed error not recognized")
	}
	if IsNotInstalled(errors.New("plain")) {
		t.Error("plain error recognized as not-installed")
	}
	if IsNotInstalled(nil) {
		t.Error("nil recognized as not-installed")
	}
}
