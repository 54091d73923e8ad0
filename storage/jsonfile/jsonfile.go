// Package jsonfile persists the session snapshot as a pretty-printed JSON
// file, replaced atomically on every save.
package jsonfile

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/mikoworkspace/mikoproxy/storage"
)

// DefaultFilename is the session file name used when no path is configured.
const DefaultFilename = "mikoproxy_sessions.json"

// DefaultPath returns DefaultFilename in the directory of the running
// executable, or in the working directory when that cannot be determined.
func DefaultPath() string {
	if exe, err := os.Executable(); err == nil {
		if resolved, err := filepath.EvalSymlinks(exe); err == nil {
			exe = resolved
		}
		return filepath.Join(filepath.Dir(exe), DefaultFilename)
	}
	if wd, err := os.Getwd(); err == nil {
		return filepath.Join(wd, DefaultFilename)
	}
	return DefaultFilename
}

// Backend is a storage.Backend over a single JSON file.
type Backend struct {
	path string
}

var _ storage.Backend = (*Backend)(nil)

// New returns a Backend for path. The file need not exist yet.
func New(path string) *Backend {
	return &Backend{path: path}
}

func (b *Backend) Location() string { return b.path }

func (b *Backend) Load(context.Context) (storage.Snapshot, error) {
	data, err := os.ReadFile(b.path)
	if errors.Is(err, fs.ErrNotExist) {
		return storage.NewSnapshot(), nil
	}
	if err != nil {
		return storage.Snapshot{}, fmt.Errorf("reading %s: %w", b.path, err)
	}
	snap, err := storage.Decode(data)
	if err != nil {
		return storage.Snapshot{}, fmt.Errorf("%s: %w", b.path, err)
	}
	return snap, nil
}

// Save writes s to a temporary file next to the target and renames it into
// place, so readers never observe a half-written file.
func (b *Backend) Save(_ context.Context, s storage.Snapshot) error {
	data, err := storage.Encode(s)
	if err != nil {
		return err
	}
	dir := filepath.Dir(b.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(b.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("writing %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("syncing %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("closing %s: %w", tmpName, err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		cleanup()
		return fmt.Errorf("chmod %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, b.path); err != nil {
		cleanup()
		return fmt.Errorf("replacing %s: %w", b.path, err)
	}
	return nil
}

func (b *Backend) Close() error { return nil }
