// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package identity

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/jeranaias/parley/internal/storage"
)

// ErrNotStarted is returned by Run when Start has not completed.
var ErrNotStarted = errors.New("identity monitor not started")

// Event reports the signed-in user. An empty UserID means signed out.
type Event struct {
	UserID string
}

// Scope returns the storage scope the event selects.
func (e Event) Scope() storage.Scope {
	if e.UserID == "" {
		return storage.Guest()
	}
	return storage.User(e.UserID)
}

// Source delivers identity events. The channel closes when the source stops.
type Source interface {
	Events() <-chan Event
}

// Loader is the persistence side of a switch.
type Loader interface {
	PurgeGuest()
	Load(ctx context.Context, scope storage.Scope) (storage.Snapshot, error)
}

// Target is the session being switched.
type Target interface {
	// BeginSwitch flushes pending state to the old scope, clears it and
	// rejects input until CompleteSwitch.
	BeginSwitch(next storage.Scope)
	// CompleteSwitch installs the loaded snapshot and accepts input again.
	CompleteSwitch(next storage.Scope, snap storage.Snapshot)
}

// Monitor applies identity edges one at a time.
type Monitor struct {
	mu      sync.Mutex // held for the whole of a switch
	current storage.Scope
	started bool

	loader Loader
	target Target
	log    zerolog.Logger

	onChange func(storage.Scope)
}

// NewMonitor creates a monitor. Start must be called before Run or Apply.
func NewMonitor(loader Loader, target Target, log zerolog.Logger) *Monitor {
	return &Monitor{
		current: storage.Guest(),
		loader:  loader,
		target:  target,
		log:     log,
	}
}

// OnChange registers a callback invoked after every completed switch.
func (m *Monitor) OnChange(fn func(storage.Scope)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = fn
}

// Start performs the initial load. Sessions always begin as guest; a
// signed-in user arrives as the first event from the source.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	m.switchLocked(ctx, storage.Guest(), false)
	fn := m.onChange
	m.mu.Unlock()

	if fn != nil {
		fn(storage.Guest())
	}
	return ctx.Err()
}

// Current returns the active scope.
func (m *Monitor) Current() storage.Scope {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Apply handles one event and reports whether it caused a switch.
func (m *Monitor) Apply(ctx context.Context, ev Event) bool {
	next := ev.Scope()

	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		m.log.Warn().Msg("identity event before start ignored")
		return false
	}
	if next == m.current {
		m.mu.Unlock()
		return false
	}
	purge := m.current.IsGuest() && !next.IsGuest()
	m.switchLocked(ctx, next, purge)
	fn := m.onChange
	m.mu.Unlock()

	if fn != nil {
		fn(next)
	}
	return true
}

// Run applies events from src until ctx ends or the source closes.
func (m *Monitor) Run(ctx context.Context, src Source) error {
	m.mu.Lock()
	started := m.started
	m.mu.Unlock()
	if !started {
		return ErrNotStarted
	}

	events := src.Events()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			m.Apply(ctx, ev)
		}
	}
}

func (m *Monitor) switchLocked(ctx context.Context, next storage.Scope, purge bool) {
	prev := m.current
	m.log.Info().Str("from", prev.String()).Str("to", next.String()).Msg("switching identity")

	m.target.BeginSwitch(next)
	if purge {
		m.loader.PurgeGuest()
	}

	snap, err := m.loader.Load(ctx, next)
	if err != nil {
		// Load always returns a usable snapshot; the error is informational.
		m.log.Warn().Err(err).Str("scope", next.String()).Msg("load failed, starting empty")
	}
	snap.Scope = next
	m.current = next
	m.target.CompleteSwitch(next, snap)
}
