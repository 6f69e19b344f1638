// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package settings persists user preferences as a JSON file in the
// per-user app data directory and watches it for external edits.
package settings
