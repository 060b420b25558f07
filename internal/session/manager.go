// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jeranaias/parley/internal/conversation"
	"github.com/jeranaias/parley/internal/export"
	"github.com/jeranaias/parley/internal/model"
	"github.com/jeranaias/parley/internal/pipeline"
	"github.com/jeranaias/parley/internal/storage"
	"github.com/jeranaias/parley/internal/voice"
)

var (
	// ErrSwitching is returned while the session is moving to another identity.
	ErrSwitching = errors.New("session is switching identity")

	// ErrInvalidModel is returned by SetModel for a blank model ID.
	ErrInvalidModel = errors.New("invalid model")
)

// =============================================================================
// SESSION MANAGER
// =============================================================================

// Options configures a Manager.
type Options struct {
	Completer pipeline.Completer
	Adapter   *storage.Adapter
	// Voice is optional; voice operations return voice.ErrUnavailable without it.
	Voice    *voice.Bridge
	Pipeline pipeline.Config
	Log      zerolog.Logger
	// Now is the clock for conversation timestamps; time.Now when nil.
	Now func() time.Time
}

// Manager is the chat session.
//
// Lock order: Manager.mu is never held while calling into the pipeline.
// The pipeline calls the store and the adapter under its own lock.
type Manager struct {
	mu        sync.RWMutex
	scope     storage.Scope
	prefs     model.Preferences
	switching bool

	adapter *storage.Adapter
	store   *conversation.Store
	pipe    *pipeline.Pipeline
	voice   *voice.Bridge
	log     zerolog.Logger
	now     func() time.Time

	onSwitch func(storage.Scope)
}

// New creates a guest session with no data loaded. The identity monitor's
// Start performs the first load.
func New(opts Options) *Manager {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Voice == nil {
		opts.Voice = voice.NewBridge(nil, nil, opts.Log)
	}
	m := &Manager{
		scope:   storage.Guest(),
		prefs:   model.DefaultPreferences(),
		adapter: opts.Adapter,
		voice:   opts.Voice,
		log:     opts.Log,
		now:     opts.Now,
	}

	var persister conversation.Persister
	if opts.Adapter != nil {
		persister = opts.Adapter
	}
	m.store = conversation.NewStore(persister, opts.Log.With().Str("component", "conversation").Logger())
	m.store.SetClock(opts.Now)
	m.pipe = pipeline.New(opts.Completer, recorder{m}, opts.Pipeline, opts.Log.With().Str("component", "pipeline").Logger())
	return m
}

// recorder persists the active list: the conversation through the store,
// and for guests the resumable session keys too.
type recorder struct{ m *Manager }

func (r recorder) UpsertFromMessages(msgs []model.Message) (model.Conversation, bool) {
	conv, ok := r.m.store.UpsertFromMessages(msgs)
	if ok && r.m.adapter != nil {
		r.m.adapter.SaveSession(r.m.store.Scope(), conv.ID, msgs)
	}
	return conv, ok
}

// SetObserver forwards pipeline events (appends, reveal frames, resets).
func (m *Manager) SetObserver(o pipeline.Observer) {
	m.pipe.SetObserver(o)
}

// OnSwitch registers a callback run after an identity switch completes.
func (m *Manager) OnSwitch(fn func(storage.Scope)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onSwitch = fn
}

// =============================================================================
// IDENTITY TARGET
// =============================================================================

// BeginSwitch implements identity.Target. Pending saves are flushed to the
// old scope, then the in-memory session is cleared and input rejected.
func (m *Manager) BeginSwitch(next storage.Scope) {
	m.mu.Lock()
	m.switching = true
	m.mu.Unlock()

	m.voice.Stop()
	m.pipe.Suspend()
	m.store.Reset()

	m.mu.Lock()
	m.prefs = model.DefaultPreferences()
	m.mu.Unlock()
	m.log.Debug().Str("next", next.String()).Msg("session suspended")
}

// CompleteSwitch implements identity.Target.
func (m *Manager) CompleteSwitch(next storage.Scope, snap storage.Snapshot) {
	m.store.Replace(next, snap.Conversations, snap.ActiveID)

	m.mu.Lock()
	m.scope = next
	m.prefs = snap.Preferences.Normalize()
	m.mu.Unlock()

	m.pipe.Resume(snap.Messages)

	m.mu.Lock()
	m.switching = false
	fn := m.onSwitch
	m.mu.Unlock()

	m.log.Info().
		Str("scope", next.String()).
		Int("conversations", len(snap.Conversations)).
		Int("messages", len(snap.Messages)).
		Msg("session ready")
	if fn != nil {
		fn(next)
	}
}

// Switching reports whether an identity switch is in progress.
func (m *Manager) Switching() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.switching
}

// Scope returns the active backend scope.
func (m *Manager) Scope() storage.Scope {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.scope
}

// =============================================================================
// MESSAGES
// =============================================================================

// Send sends text with optional attachments using the selected model.
func (m *Manager) Send(ctx context.Context, text string, atts ...pipeline.Attachment) (pipeline.Outcome, error) {
	req, err := m.request(text, atts)
	if err != nil {
		return pipeline.Outcome{}, err
	}
	out, err := m.pipe.Send(ctx, req)
	return out, m.mapErr(err)
}

// EditLast replaces the last user message with text and resends it.
func (m *Manager) EditLast(ctx context.Context, text string) (pipeline.Outcome, error) {
	req, err := m.request(text, nil)
	if err != nil {
		return pipeline.Outcome{}, err
	}
	out, err := m.pipe.EditLast(ctx, req)
	return out, m.mapErr(err)
}

func (m *Manager) request(text string, atts []pipeline.Attachment) (pipeline.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.switching {
		return pipeline.Request{}, ErrSwitching
	}
	return pipeline.Request{Text: text, Attachments: atts, ModelID: m.prefs.SelectedModelID}, nil
}

// mapErr reports a closed gate during a switch as ErrSwitching.
func (m *Manager) mapErr(err error) error {
	if errors.Is(err, pipeline.ErrClosed) && m.Switching() {
		return ErrSwitching
	}
	return err
}

// Messages returns the active message list.
func (m *Manager) Messages() []model.Message {
	return m.pipe.Messages()
}

// State returns the exchange state.
func (m *Manager) State() pipeline.State {
	return m.pipe.State()
}

// Revealing reports whether a reply is being revealed.
func (m *Manager) Revealing() bool {
	return m.pipe.Revealing()
}

// RevealStatus returns the message being revealed and its partial text.
func (m *Manager) RevealStatus() (messageID, partial string) {
	return m.pipe.RevealStatus()
}

// FlushPending saves the active conversation now instead of after the
// debounce delay.
func (m *Manager) FlushPending() {
	m.pipe.FlushPending()
}

// =============================================================================
// CONVERSATIONS
// =============================================================================

// NewChat saves the active conversation, then starts an empty one.
func (m *Manager) NewChat() error {
	if m.Switching() {
		return ErrSwitching
	}
	m.voice.Stop()
	return m.pipe.Switch(func(tx pipeline.Tx) ([]model.Message, bool, error) {
		tx.Flush()
		m.store.ClearCurrent()
		m.clearGuestSession()
		return nil, true, nil
	})
}

// ClearChat empties the active chat. Confirmation is up to the caller.
func (m *Manager) ClearChat() error {
	return m.NewChat()
}

// LoadConversation makes id the active conversation.
func (m *Manager) LoadConversation(id string) error {
	if m.Switching() {
		return ErrSwitching
	}
	m.voice.Stop()
	return m.pipe.Switch(func(tx pipeline.Tx) ([]model.Message, bool, error) {
		tx.Flush()
		msgs, err := m.store.Load(id)
		if err != nil {
			return nil, false, err
		}
		if m.adapter != nil {
			m.adapter.SaveSession(m.store.Scope(), id, msgs)
		}
		return msgs, true, nil
	})
}

// DeleteConversation removes id. Deleting the active conversation also
// empties the chat; its unsaved changes are dropped so nothing re-creates it.
func (m *Manager) DeleteConversation(id string) error {
	if m.Switching() {
		return ErrSwitching
	}
	return m.pipe.Switch(func(tx pipeline.Tx) ([]model.Message, bool, error) {
		if id != "" && id == m.store.CurrentID() {
			tx.Discard()
			m.store.Delete(id)
			m.clearGuestSession()
			return nil, true, nil
		}
		m.store.Delete(id)
		return nil, false, nil
	})
}

func (m *Manager) clearGuestSession() {
	if m.adapter != nil {
		m.adapter.SaveSession(m.store.Scope(), "", nil)
	}
}

// Conversations lists stored conversations, most recently updated first.
func (m *Manager) Conversations() []model.Conversation {
	return m.store.List()
}

// Conversation returns one stored conversation.
func (m *Manager) Conversation(id string) (model.Conversation, bool) {
	return m.store.Get(id)
}

// CurrentID returns the active conversation ID, or "" for an unsaved chat.
func (m *Manager) CurrentID() string {
	return m.store.CurrentID()
}

// Search matches query against conversation titles and messages.
func (m *Manager) Search(query string) []model.Conversation {
	return m.store.Search(query)
}

// =============================================================================
// PREFERENCES
// =============================================================================

// Preferences returns the active preferences.
func (m *Manager) Preferences() model.Preferences {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.prefs
}

// ToggleTheme flips dark mode and persists it. It returns the new value.
func (m *Manager) ToggleTheme() (bool, error) {
	prefs, scope, err := m.updatePrefs(func(p *model.Preferences) error {
		p.ThemeIsDark = !p.ThemeIsDark
		return nil
	})
	if err != nil {
		return false, err
	}
	m.savePrefs(scope, prefs)
	return prefs.ThemeIsDark, nil
}

// SetModel selects the completion model by ID or catalog name.
func (m *Manager) SetModel(idOrName string) (string, error) {
	id := strings.TrimSpace(idOrName)
	if info, ok := model.LookupModel(id); ok {
		id = info.ID
	}
	if id == "" {
		return "", ErrInvalidModel
	}
	prefs, scope, err := m.updatePrefs(func(p *model.Preferences) error {
		p.SelectedModelID = id
		return nil
	})
	if err != nil {
		return "", err
	}
	m.savePrefs(scope, prefs)
	return id, nil
}

func (m *Manager) updatePrefs(fn func(*model.Preferences) error) (model.Preferences, storage.Scope, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.switching {
		return model.Preferences{}, storage.Scope{}, ErrSwitching
	}
	if err := fn(&m.prefs); err != nil {
		return model.Preferences{}, storage.Scope{}, err
	}
	return m.prefs, m.scope, nil
}

func (m *Manager) savePrefs(scope storage.Scope, prefs model.Preferences) {
	if m.adapter != nil {
		m.adapter.SavePreferences(scope, prefs)
	}
}

// =============================================================================
// EXPORT
// =============================================================================

// Export renders the active chat as Markdown and returns its file name.
func (m *Manager) Export() (filename string, content []byte, err error) {
	msgs := m.Messages()
	if len(msgs) == 0 {
		return "", nil, export.ErrEmpty
	}
	name, data := export.Chat(msgs, m.now())
	return name, data, nil
}

// CopyText returns the clipboard text of message id.
func (m *Manager) CopyText(id string) (string, error) {
	for _, msg := range m.Messages() {
		if msg.ID == id {
			return export.CopyText(msg.Content, msg.IsStructuredText), nil
		}
	}
	return "", conversation.ErrNotFound
}

// =============================================================================
// VOICE
// =============================================================================

// Listen records one utterance into the compose text and returns it.
func (m *Manager) Listen(ctx context.Context) (string, error) {
	if m.Switching() {
		return "", ErrSwitching
	}
	return m.voice.Listen(ctx)
}

// ComposeText returns text dictated but not yet sent.
func (m *Manager) ComposeText() string { return m.voice.ComposeText() }

// SetComposeText replaces the compose text.
func (m *Manager) SetComposeText(s string) { m.voice.SetComposeText(s) }

// TakeComposeText returns and clears the compose text.
func (m *Manager) TakeComposeText() string { return m.voice.TakeComposeText() }

// Speak reads text aloud, replacing anything being spoken.
func (m *Manager) Speak(text string) error { return m.voice.Speak(text) }

// StopSpeaking stops playback.
func (m *Manager) StopSpeaking() { m.voice.Stop() }

// IsSpeaking reports whether playback is active.
func (m *Manager) IsSpeaking() bool { return m.voice.IsSpeaking() }

// Voice returns the voice bridge.
func (m *Manager) Voice() *voice.Bridge { return m.voice }

// =============================================================================
// LIFECYCLE
// =============================================================================

// Close saves pending changes, stops reveal and speech, and drains queued
// remote writes within ctx.
func (m *Manager) Close(ctx context.Context) error {
	m.voice.Stop()
	m.pipe.Close()
	if m.adapter == nil {
		return nil
	}
	return m.adapter.Close(ctx)
}
