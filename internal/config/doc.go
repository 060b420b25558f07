// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config loads parley settings.
//
// Settings come from ~/.parley/config.toml (or $PARLEY_HOME/config.toml),
// then PARLEY_<SECTION>_<KEY> environment variables, then validation.
// A missing file means defaults.
//
// # Key Types
//
//   - Config: all sections (completion, guest, remote, reveal, pipeline,
//     voice, identity, log)
//   - Duration: human-readable durations ("30ms", "1s")
//   - ValidateErrors: every invalid setting at once
//
// # Usage
//
//	cfg, err := config.Load()
//	if err != nil {
//		return err
//	}
//	_ = cfg.Set("remote.backend", "http")
//	err = config.Save(cfg)
package config
