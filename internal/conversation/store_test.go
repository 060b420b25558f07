// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package conversation

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/parley/internal/model"
	"github.com/jeranaias/parley/internal/storage"
)

type recordingPersister struct {
	mu      sync.Mutex
	saved   []model.Conversation
	deleted []string
	scopes  []storage.Scope
}

func (r *recordingPersister) SaveConversation(scope storage.Scope, conv model.Conversation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved = append(r.saved, conv)
	r.scopes = append(r.scopes, scope)
}

func (r *recordingPersister) DeleteConversation(scope storage.Scope, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deleted = append(r.deleted, id)
	r.scopes = append(r.scopes, scope)
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestStore() (*Store, *recordingPersister, *fakeClock) {
	p := &recordingPersister{}
	clock := &fakeClock{t: time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)}
	s := NewStore(p, zerolog.Nop())
	s.SetClock(clock.now)
	return s, p, clock
}

func exchange(question, answer string) []model.Message {
	return []model.Message{
		model.NewUserMessage(question),
		model.NewMessage(model.RoleAssistant, answer),
	}
}

// =============================================================================
// UPSERT TESTS
// =============================================================================

func TestUpsert_CreatesThenUpdates(t *testing.T) {
	s, p, clock := newTestStore()

	msgs := exchange("one two three four five six seven eight", "ok")
	conv, ok := s.UpsertFromMessages(msgs)
	require.True(t, ok)
	assert.Equal(t, "one two three four five six…", conv.Title)
	assert.Equal(t, conv.CreatedAt, conv.UpdatedAt)
	assert.Equal(t, conv.ID, s.CurrentID())

	clock.advance(time.Minute)
	msgs = append(msgs, model.NewUserMessage("follow up"))
	updated, ok := s.UpsertFromMessages(msgs)
	require.True(t, ok)
	assert.Equal(t, conv.ID, updated.ID)
	assert.Equal(t, conv.CreatedAt, updated.CreatedAt)
	assert.Equal(t, clock.t, updated.UpdatedAt)
	assert.Len(t, updated.Messages, 3)
	assert.Equal(t, 1, s.Len())

	require.Len(t, p.saved, 2, "every mutation persists")
	assert.Equal(t, storage.Guest(), p.scopes[0])
}

func TestUpsert_EmptyIsNoop(t *testing.T) {
	s, p, _ := newTestStore()
	_, ok := s.UpsertFromMessages(nil)
	assert.False(t, ok)
	assert.Empty(t, p.saved)
	assert.Equal(t, "", s.CurrentID())
}

func TestUpsert_ClockSkewKeepsOrder(t *testing.T) {
	s, _, clock := newTestStore()
	conv, _ := s.UpsertFromMessages(exchange("q", "a"))

	clock.advance(-time.Hour)
	updated, _ := s.UpsertFromMessages(exchange("q", "a2"))
	assert.False(t, updated.UpdatedAt.Before(updated.CreatedAt))
	assert.Equal(t, conv.CreatedAt, updated.UpdatedAt)
}

func TestUpsert_DoesNotAliasCallerSlice(t *testing.T) {
	s, _, _ := newTestStore()
	msgs := exchange("q", "a")
	conv, _ := s.UpsertFromMessages(msgs)
	msgs[0].Content = "mutated"

	stored, ok := s.Get(conv.ID)
	require.True(t, ok)
	assert.Equal(t, "q", stored.Messages[0].Content)
}

// =============================================================================
// LOAD / DELETE TESTS
// =============================================================================

func TestLoad(t *testing.T) {
	s, _, _ := newTestStore()
	first, _ := s.UpsertFromMessages(exchange("first", "a"))
	s.ClearCurrent()
	second, _ := s.UpsertFromMessages(exchange("second", "b"))
	require.NotEqual(t, first.ID, second.ID)

	msgs, err := s.Load(first.ID)
	require.NoError(t, err)
	assert.Equal(t, "first", msgs[0].Content)
	assert.Equal(t, first.ID, s.CurrentID())

	_, err = s.Load("missing")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, first.ID, s.CurrentID(), "failed load keeps the active ID")
}

func TestDelete(t *testing.T) {
	s, p, _ := newTestStore()
	first, _ := s.UpsertFromMessages(exchange("first", "a"))
	s.ClearCurrent()
	second, _ := s.UpsertFromMessages(exchange("second", "b"))

	assert.False(t, s.Delete(first.ID), "inactive conversation")
	assert.Equal(t, second.ID, s.CurrentID())

	assert.True(t, s.Delete(second.ID), "active conversation")
	assert.Equal(t, "", s.CurrentID())

	assert.False(t, s.Delete(second.ID), "second delete is a no-op")
	assert.Equal(t, []string{first.ID, second.ID}, p.deleted)
	assert.Equal(t, 0, s.Len())
}

// =============================================================================
// LIST / SEARCH / REPLACE TESTS
// =============================================================================

func TestList_MostRecentFirst(t *testing.T) {
	s, _, clock := newTestStore()
	a, _ := s.UpsertFromMessages(exchange("alpha", "1"))
	s.ClearCurrent()
	clock.advance(time.Minute)
	b, _ := s.UpsertFromMessages(exchange("beta", "2"))
	s.ClearCurrent()
	clock.advance(time.Minute)
	c, _ := s.UpsertFromMessages(exchange("gamma", "3"))

	ids := func() []string {
		var out []string
		for _, conv := range s.List() {
			out = append(out, conv.ID)
		}
		return out
	}
	assert.Equal(t, []string{c.ID, b.ID, a.ID}, ids())

	// Touching the oldest moves it to the front.
	_, err := s.Load(a.ID)
	require.NoError(t, err)
	clock.advance(time.Minute)
	s.UpsertFromMessages(append(exchange("alpha", "1"), model.NewUserMessage("more")))
	assert.Equal(t, []string{a.ID, c.ID, b.ID}, ids())
}

func TestSearch(t *testing.T) {
	s, _, _ := newTestStore()
	s.UpsertFromMessages(exchange("How do goroutines work", "They are scheduled by the runtime"))
	s.ClearCurrent()
	s.UpsertFromMessages(exchange("Recipe for bread", "Flour and water"))

	assert.Len(t, s.Search("GOROUTINES"), 1)
	assert.Len(t, s.Search("flour"), 1)
	assert.Len(t, s.Search("nothing matches"), 0)
	assert.Len(t, s.Search(""), 2)
}

func TestReplaceAndReset(t *testing.T) {
	s, p, _ := newTestStore()
	s.UpsertFromMessages(exchange("guest chat", "a"))
	saves := len(p.saved)

	remote := model.NewConversation(exchange("remote chat", "b"), time.Now())
	s.Replace(storage.User("alice"), []model.Conversation{remote}, "")

	assert.Equal(t, storage.User("alice"), s.Scope())
	assert.Equal(t, "", s.CurrentID())
	require.Equal(t, 1, s.Len())
	assert.Equal(t, saves, len(p.saved), "replace does not persist")

	s.UpsertFromMessages(exchange("new remote chat", "c"))
	assert.Equal(t, storage.User("alice"), p.scopes[len(p.scopes)-1])

	s.Reset()
	assert.Equal(t, 0, s.Len())
	assert.Equal(t, storage.User("alice"), s.Scope())
}

func TestUpsert_RestoredActiveIDIsKept(t *testing.T) {
	s, _, _ := newTestStore()
	s.Replace(storage.Guest(), nil, "restored-id")

	conv, _ := s.UpsertFromMessages(exchange("resumed", "a"))
	assert.Equal(t, "restored-id", conv.ID)
}
