// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/jeranaias/parley/internal/model"
)

// DefaultHTTPTimeout bounds a single document store request.
const DefaultHTTPTimeout = 15 * time.Second

// HTTPDocumentStore talks to a REST document service:
//
//	GET    /users/{uid}                       preferences document
//	PATCH  /users/{uid}                       merge preferences
//	GET    /users/{uid}/conversations         list, newest first
//	PUT    /users/{uid}/conversations/{id}    overwrite conversation
//	DELETE /users/{uid}/conversations/{id}    delete conversation
type HTTPDocumentStore struct {
	client *resty.Client

	mu    sync.RWMutex
	token string
}

// NewHTTPDocumentStore creates a client for the service at baseURL. An
// empty token sends no Authorization header.
func NewHTTPDocumentStore(baseURL, token string) *HTTPDocumentStore {
	h := &HTTPDocumentStore{token: token}
	h.client = resty.New().
		SetBaseURL(strings.TrimSuffix(baseURL, "/")).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetTimeout(DefaultHTTPTimeout).
		OnBeforeRequest(func(_ *resty.Client, r *resty.Request) error {
			if t := h.Token(); t != "" {
				r.SetAuthToken(t)
			}
			return nil
		})
	return h
}

// SetToken replaces the bearer token used by subsequent requests.
func (h *HTTPDocumentStore) SetToken(token string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.token = token
}

// Token returns the current bearer token.
func (h *HTTPDocumentStore) Token() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.token
}

// WithTimeout sets the per-request timeout.
func (h *HTTPDocumentStore) WithTimeout(d time.Duration) *HTTPDocumentStore {
	h.client.SetTimeout(d)
	return h
}

// conversationDoc is the wire form of a stored conversation.
type conversationDoc struct {
	ID        string          `json:"id"`
	Title     string          `json:"title"`
	Messages  []model.Message `json:"messages"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

func toDoc(c model.Conversation) conversationDoc {
	return conversationDoc{
		ID:        c.ID,
		Title:     c.Title,
		Messages:  c.Messages,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

func (d conversationDoc) conversation() model.Conversation {
	return model.Conversation{
		ID:        d.ID,
		Title:     d.Title,
		Messages:  d.Messages,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

// GetPreferences implements DocumentStore.
func (h *HTTPDocumentStore) GetPreferences(ctx context.Context, userID string) (model.Preferences, bool, error) {
	var prefs model.Preferences
	resp, err := h.client.R().
		SetContext(ctx).
		SetPathParam("uid", userID).
		SetResult(&prefs).
		Get("/users/{uid}")
	if err != nil {
		return model.Preferences{}, false, fmt.Errorf("get preferences: %w", err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return model.Preferences{}, false, nil
	}
	if err := statusError("get preferences", resp); err != nil {
		return model.Preferences{}, false, err
	}
	return prefs, true, nil
}

// PutPreferences implements DocumentStore.
func (h *HTTPDocumentStore) PutPreferences(ctx context.Context, userID string, prefs model.Preferences) error {
	resp, err := h.client.R().
		SetContext(ctx).
		SetPathParam("uid", userID).
		SetBody(prefs).
		Patch("/users/{uid}")
	if err != nil {
		return fmt.Errorf("put preferences: %w", err)
	}
	return statusError("put preferences", resp)
}

// ListConversations implements DocumentStore.
func (h *HTTPDocumentStore) ListConversations(ctx context.Context, userID string) ([]model.Conversation, error) {
	var docs []conversationDoc
	resp, err := h.client.R().
		SetContext(ctx).
		SetPathParam("uid", userID).
		SetQueryParams(map[string]string{"orderBy": "updatedAt", "direction": "desc"}).
		SetResult(&docs).
		Get("/users/{uid}/conversations")
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return []model.Conversation{}, nil
	}
	if err := statusError("list conversations", resp); err != nil {
		return nil, err
	}

	out := make([]model.Conversation, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.conversation())
	}
	// The server orders by updatedAt; re-sort in case it ignores the hint.
	SortByUpdated(out)
	return out, nil
}

// PutConversation implements DocumentStore.
func (h *HTTPDocumentStore) PutConversation(ctx context.Context, userID string, conv model.Conversation) error {
	resp, err := h.client.R().
		SetContext(ctx).
		SetPathParams(map[string]string{"uid": userID, "id": conv.ID}).
		SetBody(toDoc(conv)).
		Put("/users/{uid}/conversations/{id}")
	if err != nil {
		return fmt.Errorf("put conversation: %w", err)
	}
	return statusError("put conversation", resp)
}

// DeleteConversation implements DocumentStore.
func (h *HTTPDocumentStore) DeleteConversation(ctx context.Context, userID, conversationID string) error {
	resp, err := h.client.R().
		SetContext(ctx).
		SetPathParams(map[string]string{"uid": userID, "id": conversationID}).
		Delete("/users/{uid}/conversations/{id}")
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil
	}
	return statusError("delete conversation", resp)
}

// statusError maps a non-2xx response to an error. Client errors other than
// timeouts and rate limits are permanent and wrap ErrRejected.
func statusError(op string, resp *resty.Response) error {
	code := resp.StatusCode()
	if code >= 200 && code < 300 {
		return nil
	}
	body := strings.TrimSpace(resp.String())
	if len(body) > 200 {
		body = body[:200]
	}
	if code >= 400 && code < 500 && code != http.StatusRequestTimeout && code != http.StatusTooManyRequests {
		return fmt.Errorf("%s: %w (HTTP %d): %s", op, ErrRejected, code, body)
	}
	return fmt.Errorf("%s: HTTP %d: %s", op, code, body)
}
