// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package logger provides the configured zerolog logger used by every
// component. Error events logged with .Stack() carry a pkg/errors stack.
package logger

import (
	"io"
	"os"
	"strings"
	"sync"

	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog"
	zpkgerrors "github.com/rs/zerolog/pkgerrors"
	"golang.org/x/term"
)

var setupOnce sync.Once

type stackTracer interface{ StackTrace() pkgerrors.StackTrace }

func setup() {
	zerolog.ErrorStackMarshaler = func(err error) interface{} {
		if _, ok := err.(stackTracer); !ok {
			err = pkgerrors.WithStack(err)
		}
		return zpkgerrors.MarshalStack(err)
	}
}

// Options controls logger construction.
type Options struct {
	// Level is a zerolog level name ("debug", "info", "warn", ...)
	Level string

	// Output defaults to stderr
	Output io.Writer

	// Console forces human-readable output; by default it is enabled when
	// the output is a terminal
	Console *bool
}

// New returns a logger tagged with the component name, writing at info
// level to stderr.
func New(component string) zerolog.Logger {
	return NewWithOptions(component, Options{})
}

// NewWithOptions returns a logger tagged with the component name.
func NewWithOptions(component string, opts Options) zerolog.Logger {
	setupOnce.Do(setup)

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	console := false
	if opts.Console != nil {
		console = *opts.Console
	} else if f, ok := out.(*os.File); ok {
		console = term.IsTerminal(int(f.Fd()))
	}
	if console {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
	}

	return zerolog.New(out).
		Level(ParseLevel(opts.Level)).
		With().
		Str("component", component).
		Timestamp().
		Logger()
}

// ParseLevel converts a level name to a zerolog level, defaulting to info.
func ParseLevel(name string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(name)))
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}

// Nop returns a disabled logger for tests and embedding.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}
