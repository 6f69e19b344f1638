// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/jeranaias/privatepdf/internal/config"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "privatepdfd",
	Short: "Local backend daemon for PrivatePDF",
	Long: `privatepdfd manages a local Ollama server for the PrivatePDF desktop
app: starting and stopping the service, installing the runtime on
Windows, pulling models, and relaying chat and embedding requests.

All processing is local; the daemon listens on loopback only.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the daemon version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("privatepdfd %s\n", version)
	},
}

var configInitCmd = &cobra.Command{
	Use:   "config-init",
	Short: "Write a default config file to ~/.privatepdf/config.toml",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := config.ConfigPath()
		if err != nil {
			return err
		}
		if err := config.Save(config.Default()); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", path)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configInitCmd)

	rootCmd.PersistentFlags().String("config", "", "path to config file (default ~/.privatepdf/config.toml)")
}

// buildLogger constructs the daemon logger from the log config.
func buildLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = zapcore.DebugLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	}

	var zcfg zap.Config
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}

// loadConfig loads from --config when given, otherwise the default path.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		return config.LoadFromPath(path)
	}
	return config.Load()
}
