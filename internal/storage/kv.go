// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/jeranaias/parley/internal/util"
)

// ErrInvalidKey is returned for keys that cannot be stored safely.
var ErrInvalidKey = errors.New("invalid storage key")

// KV is the synchronous key-value backend of the guest scope.
type KV interface {
	// Get returns the value of key and whether it exists.
	Get(key string) ([]byte, bool, error)

	// Set stores value under key, replacing any previous value.
	Set(key string, value []byte) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(key string) error
}

func validateKey(key string) error {
	if key == "" || strings.ContainsAny(key, `/\`) || key == "." || key == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}

// =============================================================================
// MEMORY KV
// =============================================================================

// MemoryKV is an in-process KV. The zero value is ready to use.
type MemoryKV struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryKV creates an empty in-memory KV.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: make(map[string][]byte)}
}

// Get implements KV.
func (m *MemoryKV) Get(key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

// Set implements KV.
func (m *MemoryKV) Set(key string, value []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		m.data = make(map[string][]byte)
	}
	v := make([]byte, len(value))
	copy(v, value)
	m.data[key] = v
	return nil
}

// Delete implements KV.
func (m *MemoryKV) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// Keys returns the stored keys in sorted order.
func (m *MemoryKV) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// =============================================================================
// FILE KV
// =============================================================================

// FileKV stores one file per key in a directory. Writes are atomic.
type FileKV struct {
	// Dir holds one file per key
	Dir string
}

// NewFileKV creates a FileKV rooted at dir, creating it if needed.
func NewFileKV(dir string) (*FileKV, error) {
	if err := os.MkdirAll(dir, util.PrivateDirPerm); err != nil {
		return nil, fmt.Errorf("create guest storage dir: %w", err)
	}
	return &FileKV{Dir: dir}, nil
}

func (f *FileKV) path(key string) string {
	return filepath.Join(f.Dir, key)
}

// Get implements KV.
func (f *FileKV) Get(key string) ([]byte, bool, error) {
	if err := validateKey(key); err != nil {
		return nil, false, err
	}
	data, err := os.ReadFile(f.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return data, true, nil
}

// Set implements KV.
func (f *FileKV) Set(key string, value []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}
	// RELIABILITY: Atomic write with fsync prevents a torn value on crash
	return util.WriteFileAtomic(f.path(key), value, 0o600)
}

// Delete implements KV.
func (f *FileKV) Delete(key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	return util.RemoveFile(f.path(key))
}
