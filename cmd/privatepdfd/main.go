// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// privatepdfd is the local backend daemon for PrivatePDF. It manages the
// lifecycle of a local Ollama server and exposes chat, embedding, model
// management and settings operations to the GUI over a loopback HTTP
// gateway with a WebSocket event stream.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
