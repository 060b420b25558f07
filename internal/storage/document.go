// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/jeranaias/parley/internal/model"
)

// ErrRejected marks a remote write the store refused outright. Rejected
// writes are not retried.
var ErrRejected = errors.New("rejected by document store")

// DocumentStore is the remote per-user store of the signed-in scope.
//
// Layout: one preferences document per user, and one document per
// conversation keyed by conversation ID under that user.
type DocumentStore interface {
	// GetPreferences returns the user's preferences and whether a
	// preferences document exists.
	GetPreferences(ctx context.Context, userID string) (model.Preferences, bool, error)

	// PutPreferences merges prefs into the user's preferences document.
	PutPreferences(ctx context.Context, userID string, prefs model.Preferences) error

	// ListConversations returns the user's conversations, most recently
	// updated first.
	ListConversations(ctx context.Context, userID string) ([]model.Conversation, error)

	// PutConversation overwrites the whole conversation document.
	PutConversation(ctx context.Context, userID string, conv model.Conversation) error

	// DeleteConversation removes a conversation. A missing document is not
	// an error.
	DeleteConversation(ctx context.Context, userID, conversationID string) error
}

// SortByUpdated orders conversations most recently updated first.
func SortByUpdated(convs []model.Conversation) {
	sort.SliceStable(convs, func(i, j int) bool {
		return convs[i].UpdatedAt.After(convs[j].UpdatedAt)
	})
}

// =============================================================================
// MEMORY DOCUMENT STORE
// =============================================================================

// MemoryDocumentStore is an in-process DocumentStore.
type MemoryDocumentStore struct {
	mu    sync.Mutex
	prefs map[string]model.Preferences
	convs map[string]map[string]model.Conversation

	// FailWith, when set, is returned by every call.
	FailWith error
}

// NewMemoryDocumentStore creates an empty store.
func NewMemoryDocumentStore() *MemoryDocumentStore {
	return &MemoryDocumentStore{
		prefs: make(map[string]model.Preferences),
		convs: make(map[string]map[string]model.Conversation),
	}
}

// GetPreferences implements DocumentStore.
func (m *MemoryDocumentStore) GetPreferences(ctx context.Context, userID string) (model.Preferences, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return model.Preferences{}, false, m.FailWith
	}
	p, ok := m.prefs[userID]
	return p, ok, nil
}

// PutPreferences implements DocumentStore.
func (m *MemoryDocumentStore) PutPreferences(ctx context.Context, userID string, prefs model.Preferences) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return m.FailWith
	}
	m.prefs[userID] = prefs
	return nil
}

// ListConversations implements DocumentStore.
func (m *MemoryDocumentStore) ListConversations(ctx context.Context, userID string) ([]model.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return nil, m.FailWith
	}
	out := make([]model.Conversation, 0, len(m.convs[userID]))
	for _, c := range m.convs[userID] {
		out = append(out, c.Clone())
	}
	SortByUpdated(out)
	return out, nil
}

// PutConversation implements DocumentStore.
func (m *MemoryDocumentStore) PutConversation(ctx context.Context, userID string, conv model.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return m.FailWith
	}
	if m.convs[userID] == nil {
		m.convs[userID] = make(map[string]model.Conversation)
	}
	m.convs[userID][conv.ID] = conv.Clone()
	return nil
}

// DeleteConversation implements DocumentStore.
func (m *MemoryDocumentStore) DeleteConversation(ctx context.Context, userID, conversationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return m.FailWith
	}
	delete(m.convs[userID], conversationID)
	return nil
}

// SetFailure makes every subsequent call return err (nil clears it).
func (m *MemoryDocumentStore) SetFailure(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FailWith = err
}
