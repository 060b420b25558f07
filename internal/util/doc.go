// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util holds small helpers shared by the storage, config and
// presentation packages.
//
// # Key Functions
//
//   - WriteFileAtomic: crash-safe replacement of a file (temp file, fsync, rename)
//   - RemoveFile: delete a file, treating "already gone" as success
//   - Truncate / PadRight: display-width aware cell formatting for tables
//
// # Usage
//
//	if err := util.WriteFileAtomic(path, data, 0600); err != nil {
//		return err
//	}
//	fmt.Println(util.PadRight(util.Truncate(title, 40), 40))
package util
