// Package adapter provides platform adapters implementing the traincore
// capability contracts against real backends: a file-backed snapshot
// store, reminder delivery sinks, a health endpoint, and an OS process
// lifecycle feeder.
package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/valyala/bytebufferpool"

	"github.com/stridelab/traincore/api"
)

// FileStore persists the single session snapshot as a JSON file. Writes
// go through a temp file and rename so a crash mid-write never leaves a
// torn record behind.
type FileStore struct {
	mu   sync.Mutex
	path string
}

var _ api.SnapshotStore = (*FileStore)(nil)

// NewFileStore creates the store, creating the parent directory when
// needed.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("snapshot path is empty")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create snapshot dir: %w", err)
		}
	}
	return &FileStore{path: path}, nil
}

// Path returns the snapshot file location.
func (f *FileStore) Path() string {
	return f.path
}

func (f *FileStore) Save(_ context.Context, snap *api.Snapshot) error {
	if snap == nil {
		return fmt.Errorf("nil snapshot")
	}
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	if err := json.NewEncoder(buf).Encode(snap); err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	tmp := f.path + ".tmp"
	file, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open snapshot temp file: %w", err)
	}
	if err := lockFile(file); err != nil {
		_ = file.Close()
		return fmt.Errorf("lock snapshot file: %w", err)
	}
	if _, err := file.Write(buf.B); err != nil {
		_ = file.Close()
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := file.Sync(); err != nil {
		_ = file.Close()
		return fmt.Errorf("sync snapshot: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close snapshot: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("publish snapshot: %w", err)
	}
	return nil
}

func (f *FileStore) Load(_ context.Context) (*api.Snapshot, error) {
	f.mu.Lock()
	raw, err := os.ReadFile(f.path)
	f.mu.Unlock()
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	var snap api.Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}

func (f *FileStore) Clear(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove snapshot: %w", err)
	}
	return nil
}
