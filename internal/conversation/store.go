// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package conversation keeps the in-memory collection of a user's
// conversations and the identity of the active one.
//
// The Store is the authoritative copy between backend switches. Every
// mutation updates memory first and then hands a copy to the Persister;
// persistence failures never undo or block the in-memory change.
package conversation

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jeranaias/parley/internal/model"
	"github.com/jeranaias/parley/internal/storage"
)

// ErrNotFound is returned when a conversation ID is not in the collection.
var ErrNotFound = errors.New("conversation not found")

// Persister receives every stored mutation. storage.Adapter implements it.
type Persister interface {
	SaveConversation(scope storage.Scope, conv model.Conversation)
	DeleteConversation(scope storage.Scope, id string)
}

// =============================================================================
// STORE
// =============================================================================

// Store is the in-memory conversation collection of one scope.
type Store struct {
	mu sync.RWMutex

	persister Persister
	scope     storage.Scope

	// Collection keyed by ID, plus the active conversation ID ("" for none)
	convs     map[string]model.Conversation
	currentID string

	now func() time.Time
	log zerolog.Logger
}

// NewStore creates an empty store for the guest scope. p may be nil.
func NewStore(p Persister, log zerolog.Logger) *Store {
	return &Store{
		persister: p,
		scope:     storage.Guest(),
		convs:     make(map[string]model.Conversation),
		now:       time.Now,
		log:       log,
	}
}

// SetClock replaces the time source (tests).
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Scope returns the scope the store persists to.
func (s *Store) Scope() storage.Scope {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scope
}

// =============================================================================
// MUTATIONS
// =============================================================================

// UpsertFromMessages records msgs as the active conversation. With no
// active conversation a new one is created and becomes active; otherwise
// the active conversation's messages, title and UpdatedAt are replaced.
// An empty message list is ignored. The stored result is returned.
func (s *Store) UpsertFromMessages(msgs []model.Message) (model.Conversation, bool) {
	if len(msgs) == 0 {
		return model.Conversation{}, false
	}

	s.mu.Lock()
	now := s.now()
	conv, ok := s.convs[s.currentID]
	if s.currentID == "" || !ok {
		conv = model.NewConversation(msgs, now)
		if s.currentID != "" {
			// The active ID was restored from storage without its
			// conversation; keep it so the guest's chat resumes in place.
			conv.ID = s.currentID
		}
		s.currentID = conv.ID
	} else {
		conv.Update(msgs, now)
	}
	s.convs[conv.ID] = conv
	out := conv.Clone()
	scope, p := s.scope, s.persister
	s.mu.Unlock()

	if p != nil {
		p.SaveConversation(scope, out)
	}
	s.log.Debug().Str("conversation", out.ID).Int("messages", len(out.Messages)).Msg("conversation saved")
	return out, true
}

// Load makes id the active conversation and returns its messages.
func (s *Store) Load(id string) ([]model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.convs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s.currentID = id
	return model.CloneMessages(conv.Messages), nil
}

// Delete removes id from memory and persistence. It reports whether id was
// the active conversation, in which case the active ID is cleared and the
// caller resets its message list. Deleting an unknown ID is a no-op.
func (s *Store) Delete(id string) (wasActive bool) {
	s.mu.Lock()
	_, ok := s.convs[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	delete(s.convs, id)
	wasActive = s.currentID == id
	if wasActive {
		s.currentID = ""
	}
	scope, p := s.scope, s.persister
	s.mu.Unlock()

	if p != nil {
		p.DeleteConversation(scope, id)
	}
	return wasActive
}

// ClearCurrent forgets the active conversation without touching the
// collection.
func (s *Store) ClearCurrent() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentID = ""
}

// Replace swaps in the collection of a newly loaded scope. Nothing is
// persisted.
func (s *Store) Replace(scope storage.Scope, convs []model.Conversation, currentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.scope = scope
	s.convs = make(map[string]model.Conversation, len(convs))
	for _, c := range convs {
		s.convs[c.ID] = c.Clone()
	}
	s.currentID = currentID
}

// Reset empties the collection, keeping the scope. Nothing is persisted.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.convs = make(map[string]model.Conversation)
	s.currentID = ""
}

// =============================================================================
// QUERIES
// =============================================================================

// CurrentID returns the active conversation ID, or "".
func (s *Store) CurrentID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentID
}

// Get returns a copy of one conversation.
func (s *Store) Get(id string) (model.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.convs[id]
	if !ok {
		return model.Conversation{}, false
	}
	return c.Clone(), true
}

// Len returns the number of conversations.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.convs)
}

// List returns copies of all conversations, most recently updated first.
func (s *Store) List() []model.Conversation {
	s.mu.RLock()
	out := make([]model.Conversation, 0, len(s.convs))
	for _, c := range s.convs {
		out = append(out, c.Clone())
	}
	s.mu.RUnlock()

	storage.SortByUpdated(out)
	return out
}

// Search returns conversations whose title or message content contains
// query, case-insensitively, most recently updated first.
func (s *Store) Search(query string) []model.Conversation {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return s.List()
	}

	var results []model.Conversation
	for _, c := range s.List() {
		if matches(c, query) {
			results = append(results, c)
		}
	}
	return results
}

func matches(c model.Conversation, query string) bool {
	if strings.Contains(strings.ToLower(c.Title), query) {
		return true
	}
	for _, m := range c.Messages {
		if strings.Contains(strings.ToLower(m.Content), query) {
			return true
		}
	}
	return false
}
