// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package identity tracks who is signed in and drives the switch between the
// guest backend and a user's remote backend.
//
// A Monitor consumes Events from a Source. Every sign-in or sign-out edge
// suspends the Target, purges guest data when a user signs in, loads the
// new scope through the Loader and hands the snapshot back to the Target.
// Repeated events for the current identity are ignored.
//
// # Key Types
//
//   - Monitor: serialises identity edges
//   - Source: stream of identity Events (FileSource, ChanSource)
//   - Target: the session that is switched
//
// # Usage
//
//	mon := identity.NewMonitor(adapter, sess, log)
//	if err := mon.Start(ctx); err != nil {
//		return err
//	}
//	src, _ := identity.NewFileSource(path, log)
//	go mon.Run(ctx, src)
package identity
