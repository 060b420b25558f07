// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package voice

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// CommandRecognizer runs an external program that records one utterance
// and prints the transcript on stdout.
type CommandRecognizer struct {
	Command []string
}

// Recognize implements Recognizer.
func (c CommandRecognizer) Recognize(ctx context.Context) (string, error) {
	if len(c.Command) == 0 {
		return "", ErrUnavailable
	}
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.Command[0], c.Command[1:]...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("recognizer %s: %w: %s", c.Command[0], err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), nil
}

// CommandSynthesizer runs an external program that reads text on stdin and
// speaks it. Arguments may contain the placeholders {rate}, {pitch},
// {volume} (raw values), {wpm} (rate scaled to 175 words per minute) and
// {amplitude} (volume as a percentage, the espeak -a scale).
type CommandSynthesizer struct {
	Command []string
}

// Synthesize implements Synthesizer.
func (c CommandSynthesizer) Synthesize(ctx context.Context, text string, p Params) error {
	if len(c.Command) == 0 {
		return ErrUnavailable
	}
	args := expandArgs(c.Command[1:], p)
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.Command[0], args...)
	cmd.Stdin = strings.NewReader(text)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("synthesizer %s: %w: %s", c.Command[0], err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

func expandArgs(args []string, p Params) []string {
	r := strings.NewReplacer(
		"{rate}", formatFloat(p.Rate),
		"{pitch}", formatFloat(p.Pitch),
		"{volume}", formatFloat(p.Volume),
		"{wpm}", strconv.Itoa(int(p.Rate*175+0.5)),
		"{amplitude}", strconv.Itoa(int(p.Volume*100+0.5)),
	)
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = r.Replace(a)
	}
	return out
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
