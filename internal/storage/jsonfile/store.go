// Package jsonfile persists the ledger as a single JSON document that is
// rewritten in full on every save.
package jsonfile

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"vpnshare/internal/core"
)

type Store struct {
	path string
}

// New prepares a store at path, creating the parent directory.
func New(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}
	return &Store{path: path}, nil
}

func (s *Store) Path() string { return s.path }

// Load reads the whole record. A missing or unparseable file yields the empty
// record; the file on disk is left untouched until the next Save.
func (s *Store) Load(ctx context.Context) (*core.State, error) {
	b, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return core.NewState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state file: %w", err)
	}

	var st *core.State
	if err := json.Unmarshal(b, &st); err != nil {
		slog.WarnContext(ctx, "State file is corrupt, using empty ledger",
			"path", s.path,
			"size", len(b),
			"error", err)
		return core.NewState(), nil
	}
	return st.Normalize(), nil
}

// Save atomically replaces the file with the encoded state.
func (s *Store) Save(ctx context.Context, st *core.State) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(st.Normalize()); err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Chmod(s.fileMode()); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}

	slog.DebugContext(ctx, "State saved", "path", s.path, "bytes", buf.Len())
	return nil
}

// fileMode keeps the permissions of an existing state file.
func (s *Store) fileMode() fs.FileMode {
	if fi, err := os.Stat(s.path); err == nil {
		return fi.Mode().Perm()
	}
	return 0o644
}

func (s *Store) Close() error { return nil }
