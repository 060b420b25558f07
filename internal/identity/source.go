// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package identity

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/jeranaias/parley/internal/util"
)

// =============================================================================
// IDENTITY FILE
// =============================================================================

// record is the on-disk identity file written by "parley login".
type record struct {
	UID   string `json:"uid"`
	Token string `json:"token,omitempty"`
}

// Credentials is the content of the identity file.
type Credentials struct {
	UserID string
	Token  string
}

// ReadFile returns the credentials stored at path. A missing, empty or
// unreadable file means signed out.
func ReadFile(path string) (Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Credentials{}, nil
		}
		return Credentials{}, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return Credentials{}, nil
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Credentials{}, fmt.Errorf("parse identity file: %w", err)
	}
	return Credentials{UserID: strings.TrimSpace(rec.UID), Token: rec.Token}, nil
}

// WriteFile stores credentials at path with owner-only permissions.
func WriteFile(path string, c Credentials) error {
	if strings.TrimSpace(c.UserID) == "" {
		return errors.New("user id is required")
	}
	data, err := json.MarshalIndent(record{UID: strings.TrimSpace(c.UserID), Token: c.Token}, "", "  ")
	if err != nil {
		return err
	}
	return util.WriteFileAtomic(path, data, 0o600)
}

// RemoveFile signs out by deleting the identity file.
func RemoveFile(path string) error {
	return util.RemoveFile(path)
}

// =============================================================================
// FILE SOURCE
// =============================================================================

// FileSource emits an Event whenever the identity file changes. The parent
// directory is watched so creation and removal are both seen.
type FileSource struct {
	path    string
	watcher *fsnotify.Watcher
	events  chan Event
	done    chan struct{}
	once    sync.Once
	log     zerolog.Logger
}

// NewFileSource starts watching path. The current state is emitted first.
func NewFileSource(path string, log zerolog.Logger) (*FileSource, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, util.PrivateDirPerm); err != nil {
		return nil, fmt.Errorf("create identity dir: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	src := &FileSource{
		path:    abs,
		watcher: watcher,
		events:  make(chan Event, 8),
		done:    make(chan struct{}),
		log:     log,
	}
	src.emit()
	go src.loop()
	return src, nil
}

// Events implements Source.
func (s *FileSource) Events() <-chan Event {
	return s.events
}

// Close stops watching. The events channel is closed.
func (s *FileSource) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.watcher.Close()
	})
	return err
}

func (s *FileSource) loop() {
	defer close(s.events)
	for {
		select {
		case <-s.done:
			return

		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != s.path {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				s.emit()
			}

		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.log.Warn().Err(err).Msg("identity watcher error")
		}
	}
}

func (s *FileSource) emit() {
	creds, err := ReadFile(s.path)
	if err != nil {
		// Partially written or corrupt files read as signed out; the
		// completed write produces another event.
		s.log.Debug().Err(err).Msg("identity file unreadable")
	}
	select {
	case s.events <- Event{UserID: creds.UserID}:
	case <-s.done:
	}
}

// =============================================================================
// CHANNEL SOURCE
// =============================================================================

// ChanSource is a Source fed by Push, for tests and embedding.
type ChanSource struct {
	ch chan Event
}

// NewChanSource creates a source with the given buffer size.
func NewChanSource(buffer int) *ChanSource {
	return &ChanSource{ch: make(chan Event, buffer)}
}

// Events implements Source.
func (c *ChanSource) Events() <-chan Event { return c.ch }

// Push delivers an event, blocking when the buffer is full.
func (c *ChanSource) Push(ev Event) { c.ch <- ev }

// SignIn pushes an authenticated event.
func (c *ChanSource) SignIn(userID string) { c.Push(Event{UserID: userID}) }

// SignOut pushes a guest event.
func (c *ChanSource) SignOut() { c.Push(Event{}) }

// Close ends the stream.
func (c *ChanSource) Close() { close(c.ch) }
