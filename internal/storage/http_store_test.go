// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/parley/internal/model"
)

// fakeDocService is a minimal in-memory REST document service.
type fakeDocService struct {
	mu    sync.Mutex
	prefs map[string]model.Preferences
	convs map[string]map[string]conversationDoc
	auth  []string

	failStatus int
}

func newFakeDocService() *fakeDocService {
	return &fakeDocService{
		prefs: make(map[string]model.Preferences),
		convs: make(map[string]map[string]conversationDoc),
	}
}

func (f *fakeDocService) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.auth = append(f.auth, r.Header.Get("Authorization"))
	if f.failStatus != 0 {
		http.Error(w, "failure", f.failStatus)
		return
	}

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) < 2 || parts[0] != "users" {
		http.NotFound(w, r)
		return
	}
	uid := parts[1]

	switch {
	case len(parts) == 2 && r.Method == http.MethodGet:
		p, ok := f.prefs[uid]
		if !ok {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(p)
	case len(parts) == 2 && r.Method == http.MethodPatch:
		var p model.Preferences
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.prefs[uid] = p
		w.WriteHeader(http.StatusNoContent)
	case len(parts) == 3 && r.Method == http.MethodGet:
		out := []conversationDoc{}
		for _, d := range f.convs[uid] {
			out = append(out, d)
		}
		json.NewEncoder(w).Encode(out)
	case len(parts) == 4 && r.Method == http.MethodPut:
		var d conversationDoc
		if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if f.convs[uid] == nil {
			f.convs[uid] = make(map[string]conversationDoc)
		}
		f.convs[uid][parts[3]] = d
		w.WriteHeader(http.StatusNoContent)
	case len(parts) == 4 && r.Method == http.MethodDelete:
		if _, ok := f.convs[uid][parts[3]]; !ok {
			http.NotFound(w, r)
			return
		}
		delete(f.convs[uid], parts[3])
		w.WriteHeader(http.StatusNoContent)
	default:
		http.Error(w, "unsupported", http.StatusMethodNotAllowed)
	}
}

func TestHTTPDocumentStore_RoundTrip(t *testing.T) {
	svc := newFakeDocService()
	srv := httptest.NewServer(svc)
	defer srv.Close()

	store := NewHTTPDocumentStore(srv.URL+"/", "secret-token")
	ctx := context.Background()

	_, ok, err := store.GetPreferences(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, ok, "missing preferences document")

	require.NoError(t, store.PutPreferences(ctx, "alice", model.Preferences{ThemeIsDark: true, SelectedModelID: "openai/gpt-4"}))
	prefs, ok, err := store.GetPreferences(ctx, "alice")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "openai/gpt-4", prefs.SelectedModelID)

	now := time.Now().UTC().Truncate(time.Millisecond)
	older := testConversation("older", now.Add(-time.Hour))
	newer := testConversation("newer", now)
	require.NoError(t, store.PutConversation(ctx, "alice", older))
	require.NoError(t, store.PutConversation(ctx, "alice", newer))

	convs, err := store.ListConversations(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, convs, 2)
	assert.Equal(t, newer.ID, convs[0].ID)
	assert.Equal(t, "newer", convs[0].Title)
	assert.Len(t, convs[0].Messages, 2)

	require.NoError(t, store.DeleteConversation(ctx, "alice", newer.ID))
	require.NoError(t, store.DeleteConversation(ctx, "alice", newer.ID), "404 on delete is success")

	convs, err = store.ListConversations(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, convs, 1)

	svc.mu.Lock()
	defer svc.mu.Unlock()
	for _, h := range svc.auth {
		assert.Equal(t, "Bearer secret-token", h)
	}
}

func TestHTTPDocumentStore_StatusClassification(t *testing.T) {
	svc := newFakeDocService()
	srv := httptest.NewServer(svc)
	defer srv.Close()
	store := NewHTTPDocumentStore(srv.URL, "")
	conv := testConversation("x", time.Now())

	svc.mu.Lock()
	svc.failStatus = http.StatusForbidden
	svc.mu.Unlock()
	err := store.PutConversation(context.Background(), "alice", conv)
	assert.True(t, errors.Is(err, ErrRejected), "403 is permanent: %v", err)

	svc.mu.Lock()
	svc.failStatus = http.StatusServiceUnavailable
	svc.mu.Unlock()
	err = store.PutConversation(context.Background(), "alice", conv)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrRejected), "503 is retryable")

	svc.mu.Lock()
	svc.failStatus = http.StatusTooManyRequests
	svc.mu.Unlock()
	err = store.PutConversation(context.Background(), "alice", conv)
	assert.False(t, errors.Is(err, ErrRejected), "429 is retryable")
}

func TestHTTPDocumentStore_ThroughAdapter(t *testing.T) {
	svc := newFakeDocService()
	srv := httptest.NewServer(svc)
	defer srv.Close()

	a := NewAdapter(NewMemoryKV(), NewHTTPDocumentStore(srv.URL, "t"), WithRetryPolicy(fastPolicy()))
	defer a.Close(context.Background())

	conv := testConversation("through adapter", time.Now())
	a.SaveConversation(User("alice"), conv)
	snap, err := a.Load(context.Background(), User("alice"))
	require.NoError(t, err)
	require.Len(t, snap.Conversations, 1)
	assert.Equal(t, conv.ID, snap.Conversations[0].ID)
}

func TestHTTPDocumentStore_SetToken(t *testing.T) {
	svc := newFakeDocService()
	srv := httptest.NewServer(svc)
	defer srv.Close()

	store := NewHTTPDocumentStore(srv.URL, "first")
	_, _, err := store.GetPreferences(context.Background(), "alice")
	require.NoError(t, err)

	store.SetToken("second")
	assert.Equal(t, "second", store.Token())
	_, _, err = store.GetPreferences(context.Background(), "alice")
	require.NoError(t, err)

	svc.mu.Lock()
	defer svc.mu.Unlock()
	require.Len(t, svc.auth, 2)
	assert.Equal(t, "Bearer first", svc.auth[0])
	assert.Equal(t, "Bearer second", svc.auth[1])
}
