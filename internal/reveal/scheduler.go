// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package reveal provides the character-by-character "typewriter" reveal of
// assistant replies.
//
// A Scheduler owns exactly one timer handle. Each tick appends one character
// of the target text to the observable partial text and notifies the owner.
// Every run carries a token; timer firings from an earlier run are ignored,
// so a cancelled or superseded run can never write into the partial text.
//
// # Usage
//
//	s := reveal.New(30*time.Millisecond, func(f reveal.Frame) {
//	    if f.Done && s.Finish(f.Run) {
//	        commit(f.MessageID, f.Partial)
//	    }
//	})
//	s.Start(msg.ID, reply)
package reveal

import (
	"sync"
	"time"
)

// DefaultInterval is the delay between revealed characters.
const DefaultInterval = 30 * time.Millisecond

// =============================================================================
// FRAME TYPE
// =============================================================================

// Frame is one observable step of a reveal.
type Frame struct {
	// Run identifies the reveal that produced this frame
	Run uint64

	// MessageID is the assistant message being revealed
	MessageID string

	// Partial is the text revealed so far
	Partial string

	// Done is set on the final frame, when Partial equals the full text
	Done bool
}

// =============================================================================
// SCHEDULER
// =============================================================================

// Scheduler reveals one run at a time.
//
// Thread-safety: all methods are safe for concurrent use. The frame callback
// is invoked outside the scheduler lock, from the timer goroutine, and the
// next tick is armed only after it returns, so frames of a run are delivered
// in order and never concurrently.
type Scheduler struct {
	mu sync.Mutex

	interval time.Duration
	onFrame  func(Frame)

	// Owned timer handle; nil when idle
	timer *time.Timer

	// Run state
	run       uint64
	running   bool
	finished  bool
	messageID string
	text      []rune
	cursor    int
}

// New creates a scheduler ticking every interval. A non-positive interval
// selects DefaultInterval. onFrame may be nil.
func New(interval time.Duration, onFrame func(Frame)) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{
		interval: interval,
		onFrame:  onFrame,
	}
}

// SetOnFrame replaces the frame callback.
func (s *Scheduler) SetOnFrame(fn func(Frame)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onFrame = fn
}

// Start cancels any active run and begins revealing text into messageID.
// It returns the token of the new run.
func (s *Scheduler) Start(messageID, text string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()
	s.run++
	s.running = true
	s.finished = false
	s.messageID = messageID
	s.text = []rune(text)
	s.cursor = 0

	s.armLocked(s.run)
	return s.run
}

// Cancel stops the active run without completing it. The partial text is
// discarded and the run token is invalidated.
func (s *Scheduler) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked()
	s.run++
	s.resetLocked()
}

// Finish marks run as committed and clears its partial text. It returns
// true exactly once per run, and only if run is still the current one.
func (s *Scheduler) Finish(run uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if run != s.run || s.running || s.finished || s.messageID == "" {
		return false
	}
	s.finished = true
	s.resetLocked()
	return true
}

// IsCurrent reports whether run is the most recently started run and has
// not been cancelled.
func (s *Scheduler) IsCurrent(run uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return run == s.run && s.messageID != ""
}

// Running reports whether a reveal is in progress.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// MessageID returns the message currently being revealed, or "".
func (s *Scheduler) MessageID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messageID
}

// Partial returns the text revealed so far.
func (s *Scheduler) Partial() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return string(s.text[:s.cursor])
}

// =============================================================================
// TICK HANDLING
// =============================================================================

func (s *Scheduler) tick(run uint64) {
	s.mu.Lock()
	if run != s.run || !s.running {
		// Stale firing from a cancelled or superseded run.
		s.mu.Unlock()
		return
	}
	s.timer = nil
	if s.cursor < len(s.text) {
		s.cursor++
	}
	frame := Frame{
		Run:       run,
		MessageID: s.messageID,
		Partial:   string(s.text[:s.cursor]),
		Done:      s.cursor >= len(s.text),
	}
	if frame.Done {
		s.running = false
	}
	onFrame := s.onFrame
	s.mu.Unlock()

	if onFrame != nil {
		onFrame(frame)
	}
	if frame.Done {
		return
	}

	s.mu.Lock()
	if run == s.run && s.running && s.timer == nil {
		s.armLocked(run)
	}
	s.mu.Unlock()
}

func (s *Scheduler) armLocked(run uint64) {
	s.timer = time.AfterFunc(s.interval, func() { s.tick(run) })
}

func (s *Scheduler) stopLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Scheduler) resetLocked() {
	s.running = false
	s.messageID = ""
	s.text = nil
	s.cursor = 0
}
