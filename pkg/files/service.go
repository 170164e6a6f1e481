// Package files orchestrates the file lifecycle: create, upload, download,
// rename, trash, restore and permanent deletion, including deduplication
// links and folder archive streaming.
package files

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"path"

	"github.com/strongbox-io/strongbox/internal/logger"
	"github.com/strongbox-io/strongbox/pkg/blob"
	"github.com/strongbox-io/strongbox/pkg/crypto"
	"github.com/strongbox-io/strongbox/pkg/models"
	"github.com/strongbox-io/strongbox/pkg/quota"
	"github.com/strongbox-io/strongbox/pkg/store"
)

// maxDuplicateMatches bounds the matches reported by the dedup policy.
const maxDuplicateMatches = 10

// Service implements the file operations on top of the metadata store, the
// blob store and the crypto service.
type Service struct {
	store  *store.GORMStore
	blobs  *blob.Store
	crypto *crypto.Service
	quota  *quota.Accountant
}

// NewService creates the file service.
func NewService(st *store.GORMStore, blobs *blob.Store, crypt *crypto.Service, acct *quota.Accountant) *Service {
	return &Service{store: st, blobs: blobs, crypto: crypt, quota: acct}
}

// CreateRequest carries the pre-upload metadata for a new file or folder.
type CreateRequest struct {
	Name               string
	MimeType           string
	Size               int64
	ParentID           *string
	IsFolder           bool
	ContentHash        *string
	SkipDuplicateCheck bool
}

// CreateResult is the outcome of Create. NeedsUpload is true when the
// record is in the pending state and content must still be uploaded.
type CreateResult struct {
	File        *models.File
	NeedsUpload bool
}

// Create validates the request, applies the deduplication policy and
// creates the record. A deduplication link copies the existing blob's
// crypto fields and charges no quota.
func (s *Service) Create(ctx context.Context, user *models.User, req CreateRequest) (*CreateResult, error) {
	if err := ValidateName(req.Name, req.IsFolder); err != nil {
		return nil, err
	}
	if !req.IsFolder {
		if err := ValidateMimeType(req.MimeType); err != nil {
			return nil, err
		}
		if req.Size < 0 {
			return nil, fmt.Errorf("%w: negative size", ErrInvalidName)
		}
		if req.Size > MaxUploadBytes {
			return nil, ErrTooLarge
		}
	}
	if req.ParentID != nil {
		parent, err := s.store.GetUserFile(ctx, user.ID, *req.ParentID)
		if err != nil {
			return nil, models.ErrParentNotFound
		}
		if !parent.IsFolder || parent.IsTrashed() {
			return nil, models.ErrNotAFolder
		}
	}

	file := &models.File{
		UserID:      user.ID,
		Name:        req.Name,
		MimeType:    req.MimeType,
		Size:        req.Size,
		ParentID:    req.ParentID,
		IsFolder:    req.IsFolder,
		ContentHash: req.ContentHash,
	}

	if req.IsFolder {
		file.MimeType = ""
		file.Size = 0
		if err := s.store.CreateFile(ctx, file, false); err != nil {
			return nil, err
		}
		return &CreateResult{File: file}, nil
	}

	// Deduplication policy: only for the known content types and only when
	// the client declared a hash.
	if req.ContentHash != nil && IsDedupCandidate(req.Name) {
		if err := ValidateContentHash(*req.ContentHash); err != nil {
			return nil, err
		}
		matches, err := s.store.FindActiveByHash(ctx, user.ID, *req.ContentHash, maxDuplicateMatches)
		if err != nil {
			return nil, err
		}
		if len(matches) > 0 {
			if !req.SkipDuplicateCheck {
				return nil, &DuplicateContentError{Matches: matches}
			}
			// Link to the first match with complete crypto fields: reuse
			// the blob without allocating bytes or touching used_bytes.
			for _, m := range matches {
				if m.HasContent() {
					file.StoragePath = m.StoragePath
					file.WrappedDEK = m.WrappedDEK
					file.IV = m.IV
					file.Algorithm = m.Algorithm
					if err := s.store.CreateFile(ctx, file, false); err != nil {
						return nil, err
					}
					return &CreateResult{File: file}, nil
				}
			}
		}
	} else if req.ContentHash != nil {
		if err := ValidateContentHash(*req.ContentHash); err != nil {
			return nil, err
		}
	}

	if err := s.quota.CanStore(user, req.Size); err != nil {
		return nil, err
	}
	if err := s.store.CreateFile(ctx, file, true); err != nil {
		return nil, err
	}
	return &CreateResult{File: file, NeedsUpload: true}, nil
}

// CheckDuplicate returns the user's active records matching the hash.
func (s *Service) CheckDuplicate(ctx context.Context, userID, hash string) ([]*models.File, error) {
	if err := ValidateContentHash(hash); err != nil {
		return nil, err
	}
	return s.store.FindActiveByHash(ctx, userID, hash, maxDuplicateMatches)
}

// Upload encrypts the body, writes the blob and persists the crypto fields.
// Records that are folders or already carry content are rejected.
func (s *Service) Upload(ctx context.Context, userID, fileID string, data []byte) (*models.File, error) {
	if int64(len(data)) > MaxUploadBytes {
		return nil, ErrTooLarge
	}

	file, err := s.store.GetUserFile(ctx, userID, fileID)
	if err != nil {
		return nil, err
	}
	if file.IsFolder {
		return nil, ErrIsFolder
	}
	if file.StoragePath != nil {
		return nil, ErrAlreadyUploaded
	}
	if file.IsTrashed() {
		return nil, models.ErrFileNotFound
	}

	ciphertext, wrappedDEK, iv, algo, err := s.crypto.Encrypt(data)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt file: %w", err)
	}

	storagePath, err := s.blobs.Put(userID, fileID, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("failed to store blob: %w", err)
	}

	if err := s.store.SetFileContent(ctx, fileID, storagePath, wrappedDEK, iv, algo); err != nil {
		// The record changed underneath us; drop the orphaned blob.
		if delErr := s.blobs.Delete(userID, fileID); delErr != nil {
			logger.Warn("failed to clean up orphaned blob", "file_id", fileID, "error", delErr)
		}
		return nil, err
	}

	file.StoragePath = &storagePath
	file.WrappedDEK = wrappedDEK
	file.IV = iv
	file.Algorithm = &algo
	return file, nil
}

// Download returns the decrypted content of an active file. For
// deduplication-linked records the blob's physical owner comes from the
// stored path, not from the record's owner.
func (s *Service) Download(ctx context.Context, userID, fileID string) (*models.File, []byte, error) {
	file, err := s.store.GetUserFile(ctx, userID, fileID)
	if err != nil {
		return nil, nil, err
	}
	if file.IsTrashed() {
		return nil, nil, models.ErrFileNotFound
	}
	if file.IsFolder {
		return file, nil, ErrIsFolder
	}
	data, err := s.Decrypt(ctx, file)
	if err != nil {
		return nil, nil, err
	}
	return file, data, nil
}

// Decrypt reads and decrypts the blob behind an uploaded record.
func (s *Service) Decrypt(ctx context.Context, file *models.File) ([]byte, error) {
	if !file.HasContent() {
		return nil, ErrNoContent
	}
	ownerID, blobID, err := blob.ParseStoragePath(*file.StoragePath)
	if err != nil {
		return nil, err
	}
	ciphertext, err := s.blobs.Get(ownerID, blobID)
	if err != nil {
		return nil, err
	}
	plaintext, err := s.crypto.Decrypt(ciphertext, file.WrappedDEK, file.IV, *file.Algorithm)
	if err != nil {
		logger.Error("blob decryption failed", "file_id", file.ID, "error", err)
		return nil, crypto.ErrDecryptFailed
	}
	return plaintext, nil
}

// List returns one page of the user's files.
func (s *Service) List(ctx context.Context, params store.ListFilesParams) ([]*models.File, int64, error) {
	return s.store.ListFiles(ctx, params)
}

// Get returns a single active file owned by the user.
func (s *Service) Get(ctx context.Context, userID, fileID string) (*models.File, error) {
	file, err := s.store.GetUserFile(ctx, userID, fileID)
	if err != nil {
		return nil, err
	}
	if file.IsTrashed() {
		return nil, models.ErrFileNotFound
	}
	return file, nil
}

// Rename validates and updates the name. No filesystem change is involved.
func (s *Service) Rename(ctx context.Context, userID, fileID, name string) (*models.File, error) {
	file, err := s.store.GetUserFile(ctx, userID, fileID)
	if err != nil {
		return nil, err
	}
	if err := ValidateName(name, file.IsFolder); err != nil {
		return nil, err
	}
	return s.store.RenameFile(ctx, userID, fileID, name)
}

// SoftDelete trashes the record and moves the blob to the trash area when
// no other active record references it. A failed blob move after commit is
// compensated by clearing deleted_at again.
func (s *Service) SoftDelete(ctx context.Context, userID, fileID string) error {
	file, moveBlob, err := s.store.SoftDeleteFile(ctx, userID, fileID)
	if err != nil {
		return err
	}
	if !moveBlob || file.StoragePath == nil {
		return nil
	}

	ownerID, blobID, err := blob.ParseStoragePath(*file.StoragePath)
	if err != nil {
		return err
	}
	if err := s.blobs.MoveToTrash(ownerID, blobID); err != nil {
		logger.Error("failed to move blob to trash, reverting soft-delete",
			"file_id", fileID, "error", err)
		if revertErr := s.store.ClearDeletedAt(ctx, fileID); revertErr != nil {
			logger.Error("failed to revert soft-delete", "file_id", fileID, "error", revertErr)
		}
		return fmt.Errorf("failed to move blob to trash: %w", err)
	}
	return nil
}

// BulkSoftDelete trashes several records, applying the per-entry blob rule.
func (s *Service) BulkSoftDelete(ctx context.Context, userID string, fileIDs []string) error {
	for _, id := range fileIDs {
		if err := s.SoftDelete(ctx, userID, id); err != nil {
			return err
		}
	}
	return nil
}

// Restore clears deleted_at and moves the blob back from trash when this
// record was the last remaining reference.
func (s *Service) Restore(ctx context.Context, userID, fileID string) (*models.File, error) {
	file, moveBlob, err := s.store.RestoreFile(ctx, userID, fileID)
	if err != nil {
		return nil, err
	}
	if moveBlob && file.StoragePath != nil {
		ownerID, blobID, err := blob.ParseStoragePath(*file.StoragePath)
		if err != nil {
			return nil, err
		}
		if err := s.blobs.RestoreFromTrash(ownerID, blobID); err != nil {
			return nil, fmt.Errorf("failed to restore blob: %w", err)
		}
	}
	return file, nil
}

// PermanentDelete removes the record and, when it held the last reference,
// the blob. Quota is decremented by the store in the same transaction.
func (s *Service) PermanentDelete(ctx context.Context, userID, fileID string) error {
	file, deleteBlob, err := s.store.PermanentDeleteFile(ctx, userID, fileID)
	if err != nil {
		return err
	}
	if deleteBlob && file.StoragePath != nil {
		ownerID, blobID, err := blob.ParseStoragePath(*file.StoragePath)
		if err != nil {
			return err
		}
		if err := s.blobs.Delete(ownerID, blobID); err != nil {
			// The metadata is gone; the orphaned blob is only disk waste.
			logger.Warn("failed to delete blob", "file_id", fileID, "error", err)
		}
	}
	return nil
}

// ListTrash returns one page of the user's trashed files.
func (s *Service) ListTrash(ctx context.Context, userID string, page, limit int) ([]*models.File, int64, error) {
	return s.store.ListFiles(ctx, store.ListFilesParams{
		UserID:  userID,
		Page:    page,
		Limit:   limit,
		Trashed: true,
	})
}

// EmptyTrash permanently deletes every trashed record of the user with one
// aggregated quota update, then unlinks the orphaned blobs. Running it
// twice decrements used bytes exactly once.
func (s *Service) EmptyTrash(ctx context.Context, userID string) error {
	orphanedPaths, err := s.store.EmptyTrash(ctx, userID)
	if err != nil {
		return err
	}
	for _, p := range orphanedPaths {
		ownerID, blobID, err := blob.ParseStoragePath(p)
		if err != nil {
			logger.Warn("skipping malformed storage path", "path", p, "error", err)
			continue
		}
		if err := s.blobs.Delete(ownerID, blobID); err != nil {
			logger.Warn("failed to delete blob", "path", p, "error", err)
		}
	}
	return nil
}

// PurgeUserBlobs removes every blob stored under the user's directory,
// trash included. Deduplication never crosses owners, so no surviving
// record can reference these blobs once the user's rows are gone.
func (s *Service) PurgeUserBlobs(userID string) error {
	return s.blobs.DeleteOwner(userID)
}

// FolderSize computes the logical size of a folder as the sum of its
// non-deleted descendant files.
func (s *Service) FolderSize(ctx context.Context, userID, folderID string) (int64, error) {
	var total int64
	err := s.walkFolder(ctx, userID, folderID, "", func(f *models.File, _ string) error {
		if !f.IsFolder {
			total += f.Size
		}
		return nil
	})
	return total, err
}

// WriteFolderArchive streams a ZIP archive of the folder's active
// descendants to w. Entries are decrypted one at a time to bound memory;
// entry names reproduce the path relative to the folder.
func (s *Service) WriteFolderArchive(ctx context.Context, userID, folderID string, w io.Writer) error {
	folder, err := s.store.GetUserFile(ctx, userID, folderID)
	if err != nil {
		return err
	}
	if !folder.IsFolder || folder.IsTrashed() {
		return ErrNotFolder
	}

	zw := zip.NewWriter(w)
	err = s.walkFolder(ctx, userID, folderID, "", func(f *models.File, rel string) error {
		if f.IsFolder {
			_, dirErr := zw.Create(rel + "/")
			return dirErr
		}
		if !f.HasContent() {
			return nil
		}
		data, decErr := s.Decrypt(ctx, f)
		if decErr != nil {
			return decErr
		}
		entry, zipErr := zw.CreateHeader(&zip.FileHeader{
			Name:     rel,
			Method:   zip.Deflate,
			Modified: f.UpdatedAt,
		})
		if zipErr != nil {
			return zipErr
		}
		_, writeErr := entry.Write(data)
		return writeErr
	})
	if err != nil {
		zw.Close()
		return err
	}
	return zw.Close()
}

// walkFolder visits the active descendants of a folder depth-first,
// calling fn with each file and its path relative to the folder root.
func (s *Service) walkFolder(ctx context.Context, userID, folderID, prefix string, fn func(*models.File, string) error) error {
	children, err := s.store.ListChildren(ctx, userID, &folderID)
	if err != nil {
		return err
	}
	for _, child := range children {
		rel := path.Join(prefix, child.Name)
		if err := fn(child, rel); err != nil {
			return err
		}
		if child.IsFolder {
			if err := s.walkFolder(ctx, userID, child.ID, rel, fn); err != nil {
				return err
			}
		}
	}
	return nil
}
