// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package voice

import (
	"context"
	"errors"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRecognizer struct {
	transcript string
	err        error
	gate       chan struct{}
}

func (f *fakeRecognizer) Recognize(ctx context.Context) (string, error) {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return f.transcript, f.err
}

// fakeSynth blocks each utterance until it is cancelled or released.
type fakeSynth struct {
	mu       sync.Mutex
	spoken   []string
	params   []Params
	canceled int
	release  chan struct{}
}

func (f *fakeSynth) Synthesize(ctx context.Context, text string, p Params) error {
	f.mu.Lock()
	f.spoken = append(f.spoken, text)
	f.params = append(f.params, p)
	f.mu.Unlock()

	select {
	case <-f.release:
		return nil
	case <-ctx.Done():
		f.mu.Lock()
		f.canceled++
		f.mu.Unlock()
		return ctx.Err()
	}
}

func (f *fakeSynth) snapshot() ([]string, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.spoken...), f.canceled
}

func TestListen_AppendsToCompose(t *testing.T) {
	b := NewBridge(&fakeRecognizer{transcript: "  world  "}, nil, zerolog.Nop())
	b.SetComposeText("hello ")

	compose, err := b.Listen(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "hello world", compose)
	assert.Equal(t, "hello world", b.ComposeText())
	assert.False(t, b.Listening())

	assert.Equal(t, "hello world", b.TakeComposeText())
	assert.Empty(t, b.ComposeText())
}

func TestListen_EmptyCompose(t *testing.T) {
	b := NewBridge(&fakeRecognizer{transcript: "first"}, nil, zerolog.Nop())
	compose, err := b.Listen(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "first", compose)
}

func TestListen_ErrorLeavesCompose(t *testing.T) {
	b := NewBridge(&fakeRecognizer{err: errors.New("no mic")}, nil, zerolog.Nop())
	b.SetComposeText("draft")

	_, err := b.Listen(context.Background())
	assert.Error(t, err)
	assert.Equal(t, "draft", b.ComposeText())
	assert.False(t, b.Listening())
}

func TestListen_AlreadyListening(t *testing.T) {
	rec := &fakeRecognizer{transcript: "x", gate: make(chan struct{})}
	b := NewBridge(rec, nil, zerolog.Nop())

	results := make(chan error, 1)
	require.NoError(t, b.StartListening(context.Background(), func(_ string, err error) { results <- err }))
	require.Eventually(t, b.Listening, time.Second, time.Millisecond)

	_, err := b.Listen(context.Background())
	assert.ErrorIs(t, err, ErrListening)
	assert.ErrorIs(t, b.StartListening(context.Background(), nil), ErrListening)

	close(rec.gate)
	require.NoError(t, <-results)
	assert.Equal(t, "x", b.ComposeText())
}

func TestUnavailable(t *testing.T) {
	b := NewBridge(nil, nil, zerolog.Nop())
	assert.False(t, b.CanListen())
	assert.False(t, b.CanSpeak())
	_, err := b.Listen(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.ErrorIs(t, b.Speak("hi"), ErrUnavailable)
}

func TestSpeak_StripsMarkupAndUsesParams(t *testing.T) {
	syn := &fakeSynth{release: make(chan struct{})}
	b := NewBridge(nil, syn, zerolog.Nop())

	var mu sync.Mutex
	var states []bool
	b.OnSpeaking(func(s bool) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})

	require.NoError(t, b.Speak("# Hi\n\nThis is **bold**.\n\n- item"))
	assert.True(t, b.IsSpeaking())

	close(syn.release)
	require.NoError(t, b.Wait(context.Background()))
	require.Eventually(t, func() bool { return !b.IsSpeaking() }, time.Second, time.Millisecond)

	spoken, _ := syn.snapshot()
	assert.Equal(t, []string{"Hi This is bold. item"}, spoken)
	assert.Equal(t, DefaultParams, syn.params[0])
	assert.Equal(t, Params{Rate: 0.9, Pitch: 1, Volume: 0.8}, DefaultParams)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []bool{true, false}, states)
}

func TestSpeak_CancelsPreviousUtterance(t *testing.T) {
	syn := &fakeSynth{release: make(chan struct{})}
	b := NewBridge(nil, syn, zerolog.Nop())

	require.NoError(t, b.Speak("first"))
	require.Eventually(t, func() bool {
		spoken, _ := syn.snapshot()
		return len(spoken) == 1
	}, time.Second, time.Millisecond)
	require.NoError(t, b.Speak("second"))

	require.Eventually(t, func() bool {
		spoken, canceled := syn.snapshot()
		return len(spoken) == 2 && canceled == 1
	}, time.Second, time.Millisecond)
	assert.True(t, b.IsSpeaking(), "the superseded utterance does not clear the flag")

	b.Stop()
	assert.False(t, b.IsSpeaking())
	require.Eventually(t, func() bool {
		_, canceled := syn.snapshot()
		return canceled == 2
	}, time.Second, time.Millisecond)
}

func TestSpeak_BlankOnlyStops(t *testing.T) {
	syn := &fakeSynth{release: make(chan struct{})}
	b := NewBridge(nil, syn, zerolog.Nop())

	require.NoError(t, b.Speak("talking"))
	require.NoError(t, b.Speak("**  **"))
	assert.False(t, b.IsSpeaking())
}

func TestExpandArgs(t *testing.T) {
	got := expandArgs([]string{"-s", "{wpm}", "-a", "{amplitude}", "--pitch={pitch}", "{rate}"}, DefaultParams)
	assert.Equal(t, []string{"-s", "158", "-a", "80", "--pitch=1", "0.9"}, got)
}

func TestCommandRecognizer(t *testing.T) {
	if _, err := exec.LookPath("echo"); err != nil {
		t.Skip("echo not available")
	}
	got, err := CommandRecognizer{Command: []string{"echo", "hello there"}}.Recognize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "hello there", got)

	_, err = CommandRecognizer{}.Recognize(context.Background())
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestCommandSynthesizer(t *testing.T) {
	if _, err := exec.LookPath("cat"); err != nil {
		t.Skip("cat not available")
	}
	err := CommandSynthesizer{Command: []string{"cat"}}.Synthesize(context.Background(), "text", DefaultParams)
	assert.NoError(t, err)

	err = CommandSynthesizer{Command: []string{"false"}}.Synthesize(context.Background(), "text", DefaultParams)
	assert.Error(t, err)
}

// slowStopSynth takes a while to exit after cancellation and records how
// many utterances overlap.
type slowStopSynth struct {
	mu      sync.Mutex
	active  int
	peak    int
	spoken  []string
	stopLag time.Duration
}

func (f *slowStopSynth) Synthesize(ctx context.Context, text string, _ Params) error {
	f.mu.Lock()
	f.active++
	if f.active > f.peak {
		f.peak = f.active
	}
	f.spoken = append(f.spoken, text)
	f.mu.Unlock()

	<-ctx.Done()
	time.Sleep(f.stopLag)

	f.mu.Lock()
	f.active--
	f.mu.Unlock()
	return ctx.Err()
}

func TestSpeak_OneUtteranceAtATime(t *testing.T) {
	syn := &slowStopSynth{stopLag: 20 * time.Millisecond}
	b := NewBridge(nil, syn, zerolog.Nop())

	if err := b.Speak("one"); err != nil {
		t.Fatalf("Speak(one): %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	if err := b.Speak("two"); err != nil {
		t.Fatalf("Speak(two): %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for {
		syn.mu.Lock()
		n := len(syn.spoken)
		syn.mu.Unlock()
		if n == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("second utterance never started (%d spoken)", n)
		}
		time.Sleep(time.Millisecond)
	}

	b.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := b.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	syn.mu.Lock()
	defer syn.mu.Unlock()
	if syn.peak != 1 {
		t.Errorf("peak concurrent utterances = %d, want 1", syn.peak)
	}
	if len(syn.spoken) != 2 || syn.spoken[0] != "one" || syn.spoken[1] != "two" {
		t.Errorf("spoken = %q, want [one two]", syn.spoken)
	}
}

func TestSpeak_SupersededUtteranceIsSkipped(t *testing.T) {
	syn := &slowStopSynth{stopLag: 20 * time.Millisecond}
	b := NewBridge(nil, syn, zerolog.Nop())

	b.Speak("one")
	time.Sleep(5 * time.Millisecond)
	b.Speak("two")
	b.Speak("three")

	deadline := time.Now().Add(time.Second)
	for {
		syn.mu.Lock()
		n := len(syn.spoken)
		syn.mu.Unlock()
		if n >= 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("last utterance never started")
		}
		time.Sleep(time.Millisecond)
	}
	b.Stop()

	syn.mu.Lock()
	defer syn.mu.Unlock()
	if want := []string{"one", "three"}; len(syn.spoken) != 2 || syn.spoken[1] != want[1] {
		t.Errorf("spoken = %q, want %q", syn.spoken, want)
	}
}

func TestStartListening_ConcurrentCallsClaimOnce(t *testing.T) {
	rec := &fakeRecognizer{transcript: "x", gate: make(chan struct{})}
	b := NewBridge(rec, nil, zerolog.Nop())

	const callers = 8
	errs := make(chan error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- b.StartListening(context.Background(), nil)
		}()
	}
	wg.Wait()
	close(errs)

	started := 0
	for err := range errs {
		switch {
		case err == nil:
			started++
		case errors.Is(err, ErrListening):
		default:
			t.Errorf("StartListening: unexpected error %v", err)
		}
	}
	if started != 1 {
		t.Errorf("sessions started = %d, want 1", started)
	}
	if !b.Listening() {
		t.Error("Listening() = false right after a successful start")
	}
	close(rec.gate)
}
