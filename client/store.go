/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

// Package client is the audience-member side of a quizline room: a local
// mirror of the room's question list, the member's answer history, and
// the subscription plumbing that keeps the mirror current across
// reconnects, restarts, and room changes.
package client

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// Store persists the session state as a single opaque JSON blob under
// one key. Loading an absent blob returns nil, nil.
type Store interface {
	Load() ([]byte, error)
	Save(data []byte) error
}

// FileStore keeps the blob in one file on disk.
type FileStore struct {
	Path string
}

func (f FileStore) Load() ([]byte, error) {
	data, err := os.ReadFile(f.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return data, err
}

func (f FileStore) Save(data []byte) error {
	if dir := filepath.Dir(f.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(f.Path, data, 0o644)
}

// MemStore holds the blob in memory. Used in tests and by callers that
// don't want durability.
type MemStore struct {
	data []byte
}

func (m *MemStore) Load() ([]byte, error) {
	return m.data, nil
}

func (m *MemStore) Save(data []byte) error {
	m.data = append([]byte(nil), data...)
	return nil
}
