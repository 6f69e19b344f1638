// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package install downloads and unpacks the Ollama release archive into
// the PrivatePDF-managed install directory.
//
// The workflow is a linear pipeline: pick the archive URL for the
// machine's GPU, download it to a temporary file with throttled progress
// events, extract it with a path-traversal guard, delete the archive, and
// verify the server executable landed where the launcher expects it. Any
// stage failure aborts the remainder with a stage-specific error.
//
// ZIP-based installation is only supported on Windows; other platforms
// use the vendor's native installers.
package install
