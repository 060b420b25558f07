// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/jeranaias/parley/internal/model"
)

// ErrRemoteUnavailable is returned by Load for a user scope when no
// document store is configured.
var ErrRemoteUnavailable = errors.New("remote document store not configured")

// =============================================================================
// ADAPTER
// =============================================================================

// Adapter persists conversations and preferences for any scope. It never
// caches: every Load reads the backend.
//
// Save and delete calls never return errors to the caller. Guest failures
// are logged; user-scope writes are queued and their failures logged by
// the write queue.
type Adapter struct {
	kv   KV
	docs DocumentStore

	// Serializes guest read-modify-write of the conversation list
	guestMu sync.Mutex

	queue *writeQueue
	log   zerolog.Logger
}

// Option configures an Adapter.
type Option func(*adapterOptions)

type adapterOptions struct {
	log     zerolog.Logger
	policy  RetryPolicy
	limiter *rate.Limiter
}

// WithLogger sets the adapter logger.
func WithLogger(log zerolog.Logger) Option {
	return func(o *adapterOptions) { o.log = log }
}

// WithRetryPolicy sets the remote write retry policy.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(o *adapterOptions) { o.policy = p }
}

// WithRateLimit paces remote writes to rps per second with the given burst.
// A non-positive rps disables pacing.
func WithRateLimit(rps float64, burst int) Option {
	return func(o *adapterOptions) {
		if rps <= 0 {
			o.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		o.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// NewAdapter creates an adapter over a guest KV and an optional remote
// document store (nil disables the signed-in scope).
func NewAdapter(kv KV, docs DocumentStore, opts ...Option) *Adapter {
	o := adapterOptions{
		log:    zerolog.Nop(),
		policy: DefaultRetryPolicy(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if kv == nil {
		kv = NewMemoryKV()
	}
	return &Adapter{
		kv:    kv,
		docs:  docs,
		queue: newWriteQueue(o.policy, o.limiter, o.log),
		log:   o.log,
	}
}

// HasRemote reports whether a document store is configured.
func (a *Adapter) HasRemote() bool {
	return a.docs != nil
}

// =============================================================================
// LOAD OPERATIONS
// =============================================================================

// Load reads everything stored for scope. The returned snapshot is always
// usable: on failure it holds whatever could be read, with defaults for the
// rest, and the error describes what was skipped.
//
// Loading a user scope first waits for that scope's queued writes so a
// reload observes its own earlier saves.
func (a *Adapter) Load(ctx context.Context, scope Scope) (Snapshot, error) {
	if scope.IsGuest() {
		snap, err := a.loadGuest()
		if err != nil {
			loadFailuresTotal.WithLabelValues("guest").Inc()
			a.log.Warn().Err(err).Msg("guest data partially unreadable, using empty state")
		}
		return snap, err
	}

	snap := EmptySnapshot(scope)
	if a.docs == nil {
		return snap, ErrRemoteUnavailable
	}
	if err := a.queue.Flush(ctx); err != nil && !errors.Is(err, ErrQueueClosed) {
		return snap, fmt.Errorf("flush pending writes: %w", err)
	}

	var errs []error
	prefs, ok, err := a.docs.GetPreferences(ctx, scope.UserID())
	if err != nil {
		errs = append(errs, fmt.Errorf("load preferences: %w", err))
	} else if ok {
		snap.Preferences = prefs.Normalize()
	}

	convs, err := a.docs.ListConversations(ctx, scope.UserID())
	if err != nil {
		errs = append(errs, fmt.Errorf("load conversations: %w", err))
	} else {
		snap.Conversations = convs
	}

	if err := errors.Join(errs...); err != nil {
		loadFailuresTotal.WithLabelValues("remote").Inc()
		a.log.Error().Err(err).Str("scope", scope.String()).Msg("remote load failed")
		return snap, err
	}
	return snap, nil
}

// =============================================================================
// SAVE OPERATIONS
// =============================================================================

// SaveConversation overwrites the stored copy of conv.
func (a *Adapter) SaveConversation(scope Scope, conv model.Conversation) {
	conv = conv.Clone()
	if scope.IsGuest() {
		if err := a.saveGuestConversation(conv); err != nil {
			a.log.Error().Err(err).Str("conversation", conv.ID).Msg("guest save failed")
		}
		return
	}
	a.submit(scope, "put_conversation", func(ctx context.Context) error {
		return a.docs.PutConversation(ctx, scope.UserID(), conv)
	})
}

// DeleteConversation removes a stored conversation. Deleting a missing
// conversation is a no-op.
func (a *Adapter) DeleteConversation(scope Scope, id string) {
	if scope.IsGuest() {
		if err := a.deleteGuestConversation(id); err != nil {
			a.log.Error().Err(err).Str("conversation", id).Msg("guest delete failed")
		}
		return
	}
	a.submit(scope, "delete_conversation", func(ctx context.Context) error {
		return a.docs.DeleteConversation(ctx, scope.UserID(), id)
	})
}

// SavePreferences stores prefs for scope. Last write wins.
func (a *Adapter) SavePreferences(scope Scope, prefs model.Preferences) {
	if scope.IsGuest() {
		if err := a.saveGuestPreferences(prefs); err != nil {
			a.log.Error().Err(err).Msg("guest preferences save failed")
		}
		return
	}
	a.submit(scope, "put_preferences", func(ctx context.Context) error {
		return a.docs.PutPreferences(ctx, scope.UserID(), prefs)
	})
}

// SaveSession stores the guest's active conversation ID and message list so
// the next guest start resumes them. It is a no-op for user scope.
func (a *Adapter) SaveSession(scope Scope, activeID string, msgs []model.Message) {
	if !scope.IsGuest() {
		return
	}
	if err := a.saveGuestSession(activeID, msgs); err != nil {
		a.log.Error().Err(err).Msg("guest session save failed")
	}
}

// PurgeGuest removes every guest key.
func (a *Adapter) PurgeGuest() {
	a.guestMu.Lock()
	defer a.guestMu.Unlock()
	for _, key := range GuestKeys {
		if err := a.kv.Delete(key); err != nil {
			a.log.Error().Err(err).Str("key", key).Msg("guest purge failed")
		}
	}
}

func (a *Adapter) submit(scope Scope, op string, run func(ctx context.Context) error) {
	if a.docs == nil {
		a.log.Warn().Str("op", op).Str("scope", scope.String()).Msg("no remote store, write dropped")
		return
	}
	if !a.queue.enqueue(writeJob{op: op, scope: scope, run: run}) {
		a.log.Warn().Str("op", op).Msg("adapter closed, write dropped")
	}
}

// =============================================================================
// LIFECYCLE
// =============================================================================

// Flush waits for queued remote writes to finish.
func (a *Adapter) Flush(ctx context.Context) error {
	return a.queue.Flush(ctx)
}

// PendingWrites returns the number of queued remote writes.
func (a *Adapter) PendingWrites() int {
	return a.queue.Pending()
}

// Close drains the write queue (bounded by ctx) and closes backends that
// hold resources.
func (a *Adapter) Close(ctx context.Context) error {
	err := a.queue.Close(ctx)
	if c, ok := a.docs.(io.Closer); ok {
		if cerr := c.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	if c, ok := a.kv.(io.Closer); ok {
		if cerr := c.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
