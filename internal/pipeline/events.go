// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/jeranaias/parley/internal/model"
	"github.com/jeranaias/parley/internal/reveal"
)

// EventKind identifies a pipeline event.
type EventKind int

const (
	// EventMessageAppended carries a message added to the active list
	EventMessageAppended EventKind = iota

	// EventStateChanged carries the new exchange state
	EventStateChanged

	// EventRevealFrame carries one reveal step
	EventRevealFrame

	// EventRevealDone carries the committed assistant message
	EventRevealDone

	// EventTruncated carries the list left after EditLast cut it
	EventTruncated

	// EventReset carries the replacement list after a new chat, a
	// conversation switch or a backend switch
	EventReset
)

// String returns the event kind name.
func (k EventKind) String() string {
	switch k {
	case EventMessageAppended:
		return "message_appended"
	case EventStateChanged:
		return "state_changed"
	case EventRevealFrame:
		return "reveal_frame"
	case EventRevealDone:
		return "reveal_done"
	case EventTruncated:
		return "truncated"
	case EventReset:
		return "reset"
	default:
		return "unknown"
	}
}

// Event is a notification for presentation layers.
type Event struct {
	Kind     EventKind
	Message  model.Message
	Messages []model.Message
	State    State
	Frame    reveal.Frame
}

// Observer receives events outside the pipeline lock, in the order the
// state changed. Observers must not block for long, since reveal frames are
// delivered from the reveal timer, and must not call pipeline methods that
// change state.
type Observer func(Event)

// enqueueLocked records events; p.mu must be held.
func (p *Pipeline) enqueueLocked(events ...Event) {
	if p.observer == nil {
		return
	}
	p.outbox = append(p.outbox, events...)
}

// deliver hands queued events to the observer. When it returns, every
// event queued before the call has been delivered.
func (p *Pipeline) deliver() {
	p.deliverMu.Lock()
	defer p.deliverMu.Unlock()

	p.mu.Lock()
	events, obs := p.outbox, p.observer
	p.outbox = nil
	p.mu.Unlock()
	if obs == nil {
		return
	}
	for _, ev := range events {
		obs(ev)
	}
}

var exchangesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "parley",
		Subsystem: "pipeline",
		Name:      "exchanges_total",
		Help:      "Completed exchanges by outcome.",
	},
	[]string{"outcome"},
)
