// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"context"
	"errors"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jeranaias/privatepdf/internal/events"
	"github.com/jeranaias/privatepdf/internal/install"
	"github.com/jeranaias/privatepdf/internal/ollama"
	"github.com/jeranaias/privatepdf/internal/server"
	"github.com/jeranaias/privatepdf/internal/settings"
)

// stopTimeout bounds the Ollama shutdown attempt during daemon exit.
const stopTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the daemon (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd)
	},
}

func runServe(cmd *cobra.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	log, err := buildLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer log.Sync()

	log.Info("privatepdfd starting",
		zap.String("version", version),
		zap.String("listen_addr", cfg.Server.ListenAddr),
		zap.String("ollama_url", cfg.Ollama.BaseURL))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Event hub feeding the GUI over WebSocket.
	hub := events.NewHub(log.Named("events"))
	hubStop := make(chan struct{})
	go hub.Run(hubStop)
	defer close(hubStop)

	// Ollama client and lifecycle management.
	client := ollama.NewClientWithConfig(&ollama.ClientConfig{
		BaseURL:        cfg.Ollama.BaseURL,
		DefaultModel:   cfg.Ollama.Model,
		EmbeddingModel: cfg.Ollama.EmbeddingModel,
	}, log.Named("ollama"))
	launcher := ollama.NewLauncher(client, log.Named("launch"))
	terminator := ollama.NewTerminator(log.Named("terminate"))

	// Managed runtime installer (Windows only; other platforms reject
	// install requests at call time).
	installer, err := install.New(hub, log.Named("install"))
	if err != nil {
		return err
	}

	// Settings store plus change watcher.
	store, err := settings.NewStore(log.Named("settings"))
	if err != nil {
		return err
	}
	watcher, err := settings.NewWatcher(store, hub, log.Named("settings"))
	if err != nil {
		return err
	}
	watcher.Start(ctx)
	defer watcher.Stop()

	// If the service is already up, say so; otherwise try to start it.
	// A failed launch is not fatal: the GUI can trigger an install or
	// retry through the gateway.
	if client.Ping(ctx) {
		log.Info("ollama already running")
	} else if msg, err := launcher.Start(ctx); err != nil {
		log.Warn("ollama not started", zap.Error(err))
		if ollama.IsNotInstalled(err) && runtime.GOOS == "windows" {
			hub.Emit(events.InstallStatus, events.StatusPayload{
				Status:  "required",
				Message: "Ollama is not installed",
			})
		}
	} else {
		log.Info("ollama launch initiated", zap.String("result", msg))
	}

	gateway := server.New(cfg.Server.ListenAddr, client, hub, log.Named("gateway")).
		WithLauncher(launcher).
		WithStopper(terminator).
		WithInstaller(installer, cfg.Install.AMDGPU).
		WithSettingsStore(store)

	err = gateway.Run(ctx)

	// Best-effort Ollama shutdown, bounded so daemon exit cannot hang.
	stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if msg, stopErr := terminator.Stop(stopCtx); stopErr != nil {
		log.Warn("failed to stop ollama", zap.Error(stopErr))
	} else {
		log.Info("ollama shutdown", zap.String("result", msg))
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("privatepdfd stopped")
	return nil
}
