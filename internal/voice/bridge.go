// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package voice

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/jeranaias/parley/internal/markup"
)

var (
	// ErrUnavailable is returned when no engine is configured.
	ErrUnavailable = errors.New("speech engine not available")

	// ErrListening is returned when a recognition session is already armed.
	ErrListening = errors.New("already listening")
)

// Params controls synthesis.
type Params struct {
	Rate   float64
	Pitch  float64
	Volume float64
}

// DefaultParams are the fixed playback settings.
var DefaultParams = Params{Rate: 0.9, Pitch: 1, Volume: 0.8}

// stopGrace bounds how long a new utterance waits for the previous engine
// to exit after cancellation.
const stopGrace = 2 * time.Second

// Recognizer captures one utterance and returns its final transcript.
type Recognizer interface {
	Recognize(ctx context.Context) (string, error)
}

// Synthesizer plays text, blocking until playback ends or ctx is cancelled.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, p Params) error
}

// StripMarkup converts structured text to a single line suitable for speech.
func StripMarkup(s string) string {
	return markup.SingleLine(s)
}

// =============================================================================
// BRIDGE
// =============================================================================

// Bridge owns the compose text, the listening flag and the current utterance.
type Bridge struct {
	mu sync.Mutex

	rec Recognizer
	syn Synthesizer

	compose   string
	listening bool

	speaking    bool
	utterance   uint64
	stopSpeech  context.CancelFunc
	speechEnded chan struct{}

	params     Params
	onSpeaking func(bool)
	log        zerolog.Logger
}

// NewBridge creates a bridge. Either engine may be nil.
func NewBridge(rec Recognizer, syn Synthesizer, log zerolog.Logger) *Bridge {
	return &Bridge{rec: rec, syn: syn, params: DefaultParams, log: log}
}

// OnSpeaking registers a callback for speaking state changes. It is called
// outside the bridge lock.
func (b *Bridge) OnSpeaking(fn func(bool)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onSpeaking = fn
}

// CanListen reports whether a recognizer is configured.
func (b *Bridge) CanListen() bool { return b.rec != nil }

// CanSpeak reports whether a synthesizer is configured.
func (b *Bridge) CanSpeak() bool { return b.syn != nil }

// -----------------------------------------------------------------------------
// Compose text
// -----------------------------------------------------------------------------

// ComposeText returns the pending input text.
func (b *Bridge) ComposeText() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.compose
}

// SetComposeText replaces the pending input text.
func (b *Bridge) SetComposeText(s string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.compose = s
}

// TakeComposeText returns the pending input text and clears it.
func (b *Bridge) TakeComposeText() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.compose
	b.compose = ""
	return s
}

func (b *Bridge) appendComposeLocked(transcript string) {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return
	}
	if strings.TrimSpace(b.compose) == "" {
		b.compose = transcript
		return
	}
	b.compose = strings.TrimRight(b.compose, " ") + " " + transcript
}

// -----------------------------------------------------------------------------
// Listening
// -----------------------------------------------------------------------------

// Listen runs one recognition session and appends the transcript to the
// compose text, which it returns.
func (b *Bridge) Listen(ctx context.Context) (string, error) {
	if err := b.arm(); err != nil {
		return "", err
	}
	return b.listen(ctx)
}

// arm claims the recognition session.
func (b *Bridge) arm() error {
	if b.rec == nil {
		return ErrUnavailable
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.listening {
		return ErrListening
	}
	b.listening = true
	return nil
}

// listen runs an armed session and releases it.
func (b *Bridge) listen(ctx context.Context) (string, error) {
	transcript, err := b.rec.Recognize(ctx)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.listening = false
	if err != nil {
		b.log.Debug().Err(err).Msg("recognition failed")
		return b.compose, err
	}
	b.appendComposeLocked(transcript)
	return b.compose, nil
}

// StartListening runs Listen in the background. done, if not nil, receives
// the result.
func (b *Bridge) StartListening(ctx context.Context, done func(compose string, err error)) error {
	if err := b.arm(); err != nil {
		return err
	}
	go func() {
		compose, err := b.listen(ctx)
		if done != nil {
			done(compose, err)
		}
	}()
	return nil
}

// Listening reports whether a recognition session is armed.
func (b *Bridge) Listening() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.listening
}

// -----------------------------------------------------------------------------
// Speaking
// -----------------------------------------------------------------------------

// Speak stops the current utterance and starts speaking text in the
// background. Markup is stripped first; blank text only stops playback.
func (b *Bridge) Speak(text string) error {
	if b.syn == nil {
		return ErrUnavailable
	}
	spoken := StripMarkup(text)

	b.mu.Lock()
	notify := b.stopLocked()
	if spoken == "" {
		fn := b.onSpeaking
		b.mu.Unlock()
		if notify && fn != nil {
			fn(false)
		}
		return nil
	}

	prev := b.speechEnded
	ctx, cancel := context.WithCancel(context.Background())
	b.utterance++
	id := b.utterance
	b.stopSpeech = cancel
	b.speaking = true
	ended := make(chan struct{})
	b.speechEnded = ended
	params := b.params
	fn := b.onSpeaking
	b.mu.Unlock()

	if fn != nil {
		fn(true)
	}
	go b.play(ctx, id, spoken, params, prev, ended)
	return nil
}

// play waits for the previous utterance to end, then synthesizes text.
// A superseded utterance never reaches the engine.
func (b *Bridge) play(ctx context.Context, id uint64, text string, p Params, prev <-chan struct{}, ended chan struct{}) {
	defer close(ended)
	if prev != nil {
		timer := time.NewTimer(stopGrace)
		select {
		case <-prev:
		case <-timer.C:
			b.log.Warn().Dur("grace", stopGrace).Msg("previous utterance did not stop; starting anyway")
		}
		timer.Stop()
	}

	var err error
	if ctx.Err() == nil {
		err = b.syn.Synthesize(ctx, text, p)
	}
	if err != nil && ctx.Err() == nil {
		b.log.Warn().Err(err).Msg("speech synthesis failed")
	}

	b.mu.Lock()
	if b.utterance != id || !b.speaking {
		// Superseded or stopped; the newer state owns the flag.
		b.mu.Unlock()
		return
	}
	b.speaking = false
	b.stopSpeech = nil
	fn := b.onSpeaking
	b.mu.Unlock()

	if fn != nil {
		fn(false)
	}
}

// Stop cancels the current utterance immediately.
func (b *Bridge) Stop() {
	b.mu.Lock()
	notify := b.stopLocked()
	fn := b.onSpeaking
	b.mu.Unlock()
	if notify && fn != nil {
		fn(false)
	}
}

// stopLocked cancels playback and reports whether the speaking flag changed.
func (b *Bridge) stopLocked() bool {
	if b.stopSpeech != nil {
		b.stopSpeech()
		b.stopSpeech = nil
	}
	was := b.speaking
	b.speaking = false
	return was
}

// IsSpeaking reports whether an utterance is playing.
func (b *Bridge) IsSpeaking() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.speaking
}

// Wait blocks until the current utterance finishes or ctx ends.
func (b *Bridge) Wait(ctx context.Context) error {
	b.mu.Lock()
	ended := b.speechEnded
	b.mu.Unlock()
	if ended == nil {
		return nil
	}
	select {
	case <-ended:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
