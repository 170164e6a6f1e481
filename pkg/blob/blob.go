// Package blob provides the filesystem store for encrypted file bodies.
//
// Layout under the configured root:
//
//	<root>/<owner-id>/<file-id>.enc          active blob
//	<root>/<owner-id>/.trash/<file-id>.enc   trashed blob
//
// Writes are atomic: a temp file in the owner directory is synced and then
// renamed into place. Trash moves are plain renames within the same owner
// directory. Files are created 0600, directories 0700.
package blob

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	blobSuffix = ".enc"
	trashDir   = ".trash"

	dirMode  = 0o700
	fileMode = 0o600
)

var (
	// ErrNotFound is returned when the requested blob does not exist.
	ErrNotFound = errors.New("blob not found")

	// ErrBadStoragePath is returned when a stored locator does not parse.
	ErrBadStoragePath = errors.New("malformed storage path")
)

// Store is a filesystem-backed blob store rooted at a single directory.
type Store struct {
	root string
}

// New creates the root directory if needed and returns a store.
func New(root string) (*Store, error) {
	if root == "" {
		return nil, errors.New("blob store root is required")
	}
	if err := os.MkdirAll(root, dirMode); err != nil {
		return nil, fmt.Errorf("failed to create blob root: %w", err)
	}
	return &Store{root: root}, nil
}

// Root returns the root directory of the store.
func (s *Store) Root() string {
	return s.root
}

// StoragePath returns the canonical locator persisted in file metadata.
func StoragePath(ownerID, fileID string) string {
	return ownerID + "/" + fileID + blobSuffix
}

// ParseStoragePath resolves a stored locator back to (owner, file). The
// owner embedded in the path is the physical owner, which for deduplicated
// records may differ from the record's owner.
func ParseStoragePath(storagePath string) (ownerID, fileID string, err error) {
	parts := strings.Split(storagePath, "/")
	if len(parts) != 2 || !strings.HasSuffix(parts[1], blobSuffix) {
		return "", "", fmt.Errorf("%w: %q", ErrBadStoragePath, storagePath)
	}
	ownerID = parts[0]
	fileID = strings.TrimSuffix(parts[1], blobSuffix)
	if ownerID == "" || fileID == "" || ownerID == trashDir {
		return "", "", fmt.Errorf("%w: %q", ErrBadStoragePath, storagePath)
	}
	return ownerID, fileID, nil
}

func (s *Store) activePath(ownerID, fileID string) string {
	return filepath.Join(s.root, ownerID, fileID+blobSuffix)
}

func (s *Store) trashPath(ownerID, fileID string) string {
	return filepath.Join(s.root, ownerID, trashDir, fileID+blobSuffix)
}

// Put atomically writes an encrypted blob into the owner's active area and
// returns the canonical storage path.
func (s *Store) Put(ownerID, fileID string, data []byte) (string, error) {
	ownerDir := filepath.Join(s.root, ownerID)
	if err := os.MkdirAll(ownerDir, dirMode); err != nil {
		return "", fmt.Errorf("failed to create owner directory: %w", err)
	}

	tmp, err := os.CreateTemp(ownerDir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(fileMode); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to set blob permissions: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write blob: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to sync blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close blob: %w", err)
	}

	if err := os.Rename(tmpName, s.activePath(ownerID, fileID)); err != nil {
		return "", fmt.Errorf("failed to finalize blob: %w", err)
	}
	return StoragePath(ownerID, fileID), nil
}

// Get reads an active blob.
func (s *Store) Get(ownerID, fileID string) ([]byte, error) {
	data, err := os.ReadFile(s.activePath(ownerID, fileID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read blob: %w", err)
	}
	return data, nil
}

// MoveToTrash renames an active blob into the owner's trash area. It is
// idempotent: if the blob already sits in trash the call is a no-op.
func (s *Store) MoveToTrash(ownerID, fileID string) error {
	dst := s.trashPath(ownerID, fileID)
	if err := os.MkdirAll(filepath.Dir(dst), dirMode); err != nil {
		return fmt.Errorf("failed to create trash directory: %w", err)
	}
	return s.move(s.activePath(ownerID, fileID), dst)
}

// RestoreFromTrash renames a trashed blob back into the active area.
// Idempotent like MoveToTrash.
func (s *Store) RestoreFromTrash(ownerID, fileID string) error {
	return s.move(s.trashPath(ownerID, fileID), s.activePath(ownerID, fileID))
}

// move renames src to dst, treating a missing source with an existing
// destination as already done.
func (s *Store) move(src, dst string) error {
	if err := os.Rename(src, dst); err != nil {
		if os.IsNotExist(err) {
			if _, statErr := os.Stat(dst); statErr == nil {
				return nil
			}
			return ErrNotFound
		}
		return fmt.Errorf("failed to move blob: %w", err)
	}
	return nil
}

// Delete unlinks the blob from both the active and the trash area,
// whichever holds it. Missing blobs are not an error.
func (s *Store) Delete(ownerID, fileID string) error {
	var firstErr error
	for _, p := range []string{s.activePath(ownerID, fileID), s.trashPath(ownerID, fileID)} {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = fmt.Errorf("failed to delete blob: %w", err)
		}
	}
	return firstErr
}

// DeleteOwner removes the owner's whole directory, active and trash areas
// included. Used when the owning account is deleted; an absent directory is
// not an error.
func (s *Store) DeleteOwner(ownerID string) error {
	if ownerID == "" || ownerID == trashDir || strings.ContainsAny(ownerID, `/\`) {
		return fmt.Errorf("%w: %q", ErrBadStoragePath, ownerID)
	}
	if err := os.RemoveAll(filepath.Join(s.root, ownerID)); err != nil {
		return fmt.Errorf("failed to delete owner directory: %w", err)
	}
	return nil
}

// Exists reports whether the blob is present in the active area.
func (s *Store) Exists(ownerID, fileID string) bool {
	_, err := os.Stat(s.activePath(ownerID, fileID))
	return err == nil
}
