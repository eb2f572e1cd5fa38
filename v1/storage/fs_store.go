// Package storage provides the filesystem-backed attachment store.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/campus-dx/grant-engine/v1/services"
)

// FSStore stores attachment blobs on the local filesystem under a root
// directory, one subdirectory per application. The storage ref is the
// path relative to the root; callers treat it as opaque.
type FSStore struct {
	root string
}

// NewFSStore creates a filesystem store rooted at dir, creating it if
// needed.
func NewFSStore(dir string) (*FSStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("storage root directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &FSStore{root: dir}, nil
}

// Put writes the blob and returns its storage ref. The stored name is a
// fresh uuid with the original extension so duplicate uploads never
// collide.
func (s *FSStore) Put(ctx context.Context, content []byte, meta services.BlobMetadata) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	dir := filepath.Join(s.root, sanitize(meta.ApplicationID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create application directory: %w", err)
	}

	storedName := uuid.New().String() + strings.ToLower(filepath.Ext(meta.FileName))
	path := filepath.Join(dir, storedName)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return "", fmt.Errorf("write blob: %w", err)
	}

	ref := filepath.Join(sanitize(meta.ApplicationID), storedName)
	slog.Debug("Stored attachment blob", "ref", ref, "size", len(content), "slot", meta.Slot)
	return ref, nil
}

// Delete removes the blob for the given ref. Deleting a ref that is
// already gone is not an error.
func (s *FSStore) Delete(ctx context.Context, ref string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := s.resolve(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete blob: %w", err)
	}
	return nil
}

// Get returns the stored bytes for the given ref.
func (s *FSStore) Get(ctx context.Context, ref string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := s.resolve(ref)
	if err != nil {
		return nil, err
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read blob: %w", err)
	}
	return content, nil
}

// resolve maps a ref back to a path under the root, refusing refs that
// would escape it.
func (s *FSStore) resolve(ref string) (string, error) {
	path := filepath.Join(s.root, filepath.Clean(ref))
	if !strings.HasPrefix(path, filepath.Clean(s.root)+string(os.PathSeparator)) {
		return "", fmt.Errorf("invalid storage ref: %q", ref)
	}
	return path, nil
}

// sanitize keeps directory names to a safe character set.
func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, name)
}
