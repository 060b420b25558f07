// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jeranaias/parley/internal/model"
)

// Guest keys. Every guest value lives under one of these.
const (
	KeyHistory       = "parley-guest-history"
	KeyConversations = "parley-guest-conversations"
	KeyTheme         = "parley-guest-theme"
	KeyModel         = "parley-guest-model"
	KeyCurrentChat   = "parley-guest-current-chat"
)

// GuestKeys lists every key owned by the guest scope.
var GuestKeys = []string{
	KeyHistory,
	KeyConversations,
	KeyTheme,
	KeyModel,
	KeyCurrentChat,
}

const (
	themeDark  = "dark"
	themeLight = "light"
)

// =============================================================================
// GUEST READS
// =============================================================================

// loadGuest reads every guest key. Missing or corrupt values load as empty;
// the returned error lists what was skipped.
func (a *Adapter) loadGuest() (Snapshot, error) {
	snap := EmptySnapshot(Guest())
	var problems []string

	if convs, err := a.guestConversations(); err != nil {
		problems = append(problems, err.Error())
	} else {
		snap.Conversations = convs
	}

	if raw, ok, err := a.kv.Get(KeyHistory); err != nil {
		problems = append(problems, fmt.Sprintf("%s: %v", KeyHistory, err))
	} else if ok {
		var msgs []model.Message
		if err := json.Unmarshal(raw, &msgs); err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", KeyHistory, err))
		} else {
			snap.Messages = msgs
		}
	}

	if raw, ok, err := a.kv.Get(KeyTheme); err != nil {
		problems = append(problems, fmt.Sprintf("%s: %v", KeyTheme, err))
	} else if ok {
		snap.Preferences.ThemeIsDark = strings.TrimSpace(string(raw)) == themeDark
	}

	if raw, ok, err := a.kv.Get(KeyModel); err != nil {
		problems = append(problems, fmt.Sprintf("%s: %v", KeyModel, err))
	} else if ok {
		snap.Preferences.SelectedModelID = strings.TrimSpace(string(raw))
	}
	snap.Preferences = snap.Preferences.Normalize()

	if raw, ok, err := a.kv.Get(KeyCurrentChat); err != nil {
		problems = append(problems, fmt.Sprintf("%s: %v", KeyCurrentChat, err))
	} else if ok {
		snap.ActiveID = strings.TrimSpace(string(raw))
	}

	if len(problems) > 0 {
		return snap, fmt.Errorf("guest storage: %s", strings.Join(problems, "; "))
	}
	return snap, nil
}

func (a *Adapter) guestConversations() ([]model.Conversation, error) {
	raw, ok, err := a.kv.Get(KeyConversations)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", KeyConversations, err)
	}
	if !ok {
		return []model.Conversation{}, nil
	}
	var convs []model.Conversation
	if err := json.Unmarshal(raw, &convs); err != nil {
		return nil, fmt.Errorf("%s: %w", KeyConversations, err)
	}
	SortByUpdated(convs)
	return convs, nil
}

// =============================================================================
// GUEST WRITES
// =============================================================================

func (a *Adapter) putGuestConversations(convs []model.Conversation) error {
	SortByUpdated(convs)
	data, err := json.Marshal(convs)
	if err != nil {
		return err
	}
	return a.kv.Set(KeyConversations, data)
}

func (a *Adapter) saveGuestConversation(conv model.Conversation) error {
	a.guestMu.Lock()
	defer a.guestMu.Unlock()

	convs, err := a.guestConversations()
	if err != nil {
		// A corrupt list is replaced rather than blocking every later save.
		a.log.Warn().Err(err).Msg("replacing unreadable guest conversations")
		convs = nil
	}
	replaced := false
	for i := range convs {
		if convs[i].ID == conv.ID {
			convs[i] = conv
			replaced = true
			break
		}
	}
	if !replaced {
		convs = append(convs, conv)
	}
	return a.putGuestConversations(convs)
}

func (a *Adapter) deleteGuestConversation(id string) error {
	a.guestMu.Lock()
	defer a.guestMu.Unlock()

	convs, err := a.guestConversations()
	if err != nil {
		return err
	}
	kept := convs[:0]
	for _, c := range convs {
		if c.ID != id {
			kept = append(kept, c)
		}
	}
	if len(kept) == len(convs) {
		return nil
	}
	return a.putGuestConversations(kept)
}

func (a *Adapter) saveGuestPreferences(prefs model.Preferences) error {
	theme := themeLight
	if prefs.ThemeIsDark {
		theme = themeDark
	}
	if err := a.kv.Set(KeyTheme, []byte(theme)); err != nil {
		return err
	}
	return a.kv.Set(KeyModel, []byte(prefs.Normalize().SelectedModelID))
}

func (a *Adapter) saveGuestSession(activeID string, msgs []model.Message) error {
	if len(msgs) == 0 {
		if err := a.kv.Delete(KeyHistory); err != nil {
			return err
		}
	} else {
		data, err := json.Marshal(msgs)
		if err != nil {
			return err
		}
		if err := a.kv.Set(KeyHistory, data); err != nil {
			return err
		}
	}
	if activeID == "" {
		return a.kv.Delete(KeyCurrentChat)
	}
	return a.kv.Set(KeyCurrentChat, []byte(activeID))
}
