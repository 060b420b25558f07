// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"github.com/jeranaias/parley/internal/model"
)

// Scope selects the backend and namespace of a persistence call.
// The zero value is the guest scope.
type Scope struct {
	userID string
}

// Guest returns the local-only guest scope.
func Guest() Scope {
	return Scope{}
}

// User returns the remote scope of a signed-in user.
func User(userID string) Scope {
	return Scope{userID: userID}
}

// IsGuest reports whether the scope is the guest scope.
func (s Scope) IsGuest() bool {
	return s.userID == ""
}

// UserID returns the signed-in user ID, or "" for the guest scope.
func (s Scope) UserID() string {
	return s.userID
}

// String returns "guest" or "user:<id>".
func (s Scope) String() string {
	if s.IsGuest() {
		return "guest"
	}
	return "user:" + s.userID
}

// Snapshot is the data loaded for one scope.
type Snapshot struct {
	Scope         Scope
	Conversations []model.Conversation
	Preferences   model.Preferences

	// ActiveID and Messages restore the guest's in-progress chat.
	// They are always empty for user scope.
	ActiveID string
	Messages []model.Message
}

// EmptySnapshot returns the snapshot of a scope with no stored data.
func EmptySnapshot(scope Scope) Snapshot {
	return Snapshot{
		Scope:       scope,
		Preferences: model.DefaultPreferences(),
	}
}
