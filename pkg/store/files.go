package store

import (
	"context"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/strongbox-io/strongbox/pkg/models"
)

// ============================================
// FILE OPERATIONS
// ============================================

// ListFilesParams controls pagination and filtering of file listings.
type ListFilesParams struct {
	UserID   string
	Page     int
	Limit    int
	Search   string
	ParentID *string // nil with RootOnly=false means "any parent"
	RootOnly bool    // parent_id IS NULL
	Trashed  bool
}

const (
	// DefaultPageLimit applies when the request carries no limit.
	DefaultPageLimit = 50
	// MaxPageLimit is the hard cap on page size.
	MaxPageLimit = 500
)

func (p *ListFilesParams) normalize() {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Limit <= 0 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
}

// CreateFile creates the record and, iff chargeQuota is set, admits the size
// against the owner's quota and records the delta, all in one transaction on
// a locked user row so concurrent creates cannot overshoot the limit.
func (s *GORMStore) CreateFile(ctx context.Context, file *models.File, chargeQuota bool) error {
	charge := chargeQuota && !file.IsFolder && file.Size > 0
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if charge {
			var owner models.User
			if err := lockForUpdate(tx).Where("id = ?", file.UserID).First(&owner).Error; err != nil {
				return convertNotFoundError(err, models.ErrUserNotFound)
			}
			if !owner.IsOwner() && owner.QuotaBytes != 0 && owner.UsedBytes+file.Size > owner.QuotaBytes {
				return models.ErrQuotaExceeded
			}
		}
		if _, err := createWithID(tx, ctx, file, func(f *models.File, id string) { f.ID = id }, file.ID, gorm.ErrDuplicatedKey); err != nil {
			return err
		}
		if charge {
			return tx.Model(&models.User{}).
				Where("id = ?", file.UserID).
				Update("used_bytes", gorm.Expr("used_bytes + ?", file.Size)).Error
		}
		return nil
	})
}

func (s *GORMStore) GetFile(ctx context.Context, id string) (*models.File, error) {
	return getByField[models.File](s.db, ctx, "id", id, models.ErrFileNotFound)
}

// GetUserFile retrieves a file owned by the given user, trashed or not.
func (s *GORMStore) GetUserFile(ctx context.Context, userID, id string) (*models.File, error) {
	var file models.File
	if err := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&file).Error; err != nil {
		return nil, convertNotFoundError(err, models.ErrFileNotFound)
	}
	return &file, nil
}

// ListFiles returns one page of a user's files plus the total match count.
// Ordering is folders first, then newest first.
func (s *GORMStore) ListFiles(ctx context.Context, params ListFilesParams) ([]*models.File, int64, error) {
	params.normalize()

	q := s.db.WithContext(ctx).Model(&models.File{}).Where("user_id = ?", params.UserID)
	if params.Trashed {
		q = q.Where("deleted_at IS NOT NULL")
	} else {
		q = q.Where("deleted_at IS NULL")
	}
	if params.Search != "" {
		q = q.Where("LOWER(name) LIKE ?", "%"+strings.ToLower(params.Search)+"%")
	}
	if params.RootOnly {
		q = q.Where("parent_id IS NULL")
	} else if params.ParentID != nil {
		q = q.Where("parent_id = ?", *params.ParentID)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var files []*models.File
	err := q.Order("is_folder DESC, created_at DESC").
		Offset((params.Page - 1) * params.Limit).
		Limit(params.Limit).
		Find(&files).Error
	if err != nil {
		return nil, 0, err
	}

	if err := s.attachShareCounts(ctx, files); err != nil {
		return nil, 0, err
	}
	return files, total, nil
}

// ListChildren returns the active children of a folder (or the root when
// parentID is nil).
func (s *GORMStore) ListChildren(ctx context.Context, userID string, parentID *string) ([]*models.File, error) {
	q := s.db.WithContext(ctx).Where("user_id = ? AND deleted_at IS NULL", userID)
	if parentID == nil {
		q = q.Where("parent_id IS NULL")
	} else {
		q = q.Where("parent_id = ?", *parentID)
	}
	var files []*models.File
	if err := q.Order("is_folder DESC, name ASC").Find(&files).Error; err != nil {
		return nil, err
	}
	return files, nil
}

// FindActiveByHash returns up to limit non-deleted records of the user with
// the given content hash.
func (s *GORMStore) FindActiveByHash(ctx context.Context, userID, hash string, limit int) ([]*models.File, error) {
	var files []*models.File
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND content_hash = ? AND deleted_at IS NULL", userID, hash).
		Order("created_at DESC").
		Limit(limit).
		Find(&files).Error
	if err != nil {
		return nil, err
	}
	return files, nil
}

// SetFileContent persists the crypto fields after a successful upload. The
// update only applies while the record is still in the pending state.
func (s *GORMStore) SetFileContent(ctx context.Context, id, storagePath string, wrappedDEK, iv []byte, algo string) error {
	result := s.db.WithContext(ctx).
		Model(&models.File{}).
		Where("id = ? AND storage_path IS NULL AND is_folder = ?", id, false).
		Updates(map[string]any{
			"storage_path": storagePath,
			"wrapped_dek":  wrappedDEK,
			"iv":           iv,
			"algorithm":    algo,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrFileNotFound
	}
	return nil
}

func (s *GORMStore) RenameFile(ctx context.Context, userID, id, name string) (*models.File, error) {
	var file models.File
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ? AND user_id = ? AND deleted_at IS NULL", id, userID).First(&file).Error; err != nil {
			return convertNotFoundError(err, models.ErrFileNotFound)
		}
		file.Name = name
		return tx.Model(&file).Update("name", name).Error
	})
	if err != nil {
		return nil, err
	}
	return &file, nil
}

// SoftDeleteFile sets deleted_at and reports whether the caller must move
// the blob to trash, which is the case only when no other active record
// references the same storage path. The reference check runs inside the
// transaction that flips deleted_at.
func (s *GORMStore) SoftDeleteFile(ctx context.Context, userID, id string) (*models.File, bool, error) {
	var file models.File
	moveBlob := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockForUpdate(tx).Where("id = ? AND user_id = ?", id, userID).First(&file).Error; err != nil {
			return convertNotFoundError(err, models.ErrFileNotFound)
		}
		if file.IsTrashed() {
			// Repeating a soft-delete is a no-op.
			return nil
		}

		now := time.Now()
		if err := tx.Model(&file).Update("deleted_at", now).Error; err != nil {
			return err
		}
		file.DeletedAt = &now

		if file.StoragePath != nil {
			others, err := countOtherReferences(tx, *file.StoragePath, file.ID, true)
			if err != nil {
				return err
			}
			moveBlob = others == 0
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return &file, moveBlob, nil
}

// ClearDeletedAt is the best-effort compensation applied when the blob move
// fails after a soft-delete committed.
func (s *GORMStore) ClearDeletedAt(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).
		Model(&models.File{}).
		Where("id = ?", id).
		Update("deleted_at", nil).Error
}

// RestoreFile clears deleted_at and reports whether the caller must move
// the blob back from trash (only when this was the last remaining
// reference, i.e. no other active record holds the path).
func (s *GORMStore) RestoreFile(ctx context.Context, userID, id string) (*models.File, bool, error) {
	var file models.File
	moveBlob := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockForUpdate(tx).Where("id = ? AND user_id = ?", id, userID).First(&file).Error; err != nil {
			return convertNotFoundError(err, models.ErrFileNotFound)
		}
		if !file.IsTrashed() {
			return nil
		}

		if err := tx.Model(&file).Update("deleted_at", nil).Error; err != nil {
			return err
		}
		file.DeletedAt = nil

		if file.StoragePath != nil {
			others, err := countOtherReferences(tx, *file.StoragePath, file.ID, true)
			if err != nil {
				return err
			}
			moveBlob = others == 0
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return &file, moveBlob, nil
}

// PermanentDeleteFile removes the record. When no other record (active or
// trashed) references the blob, it reports that the blob must be deleted
// and decrements the owner's used bytes in the same transaction.
func (s *GORMStore) PermanentDeleteFile(ctx context.Context, userID, id string) (*models.File, bool, error) {
	var file models.File
	deleteBlob := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockForUpdate(tx).Where("id = ? AND user_id = ?", id, userID).First(&file).Error; err != nil {
			return convertNotFoundError(err, models.ErrFileNotFound)
		}

		if err := tx.Where("file_id = ?", file.ID).Delete(&models.Share{}).Error; err != nil {
			return err
		}
		if err := tx.Delete(&file).Error; err != nil {
			return err
		}

		if file.StoragePath == nil {
			return nil
		}
		others, err := countOtherReferences(tx, *file.StoragePath, file.ID, false)
		if err != nil {
			return err
		}
		if others > 0 {
			// Another record keeps the blob alive; quota is unchanged.
			return nil
		}
		deleteBlob = true
		return decrementUsedBytes(tx, file.UserID, file.Size)
	})
	if err != nil {
		return nil, false, err
	}
	return &file, deleteBlob, nil
}

// EmptyTrash permanently deletes all trashed records of the user. The quota
// delta is aggregated and applied once. Returns the storage paths whose
// blobs no longer have any reference and must be unlinked.
func (s *GORMStore) EmptyTrash(ctx context.Context, userID string) ([]string, error) {
	var orphanedPaths []string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var trashed []*models.File
		if err := lockForUpdate(tx).
			Where("user_id = ? AND deleted_at IS NOT NULL", userID).
			Find(&trashed).Error; err != nil {
			return err
		}

		var reclaimed int64
		for _, file := range trashed {
			if err := tx.Where("file_id = ?", file.ID).Delete(&models.Share{}).Error; err != nil {
				return err
			}
			if err := tx.Delete(file).Error; err != nil {
				return err
			}
			if file.StoragePath == nil {
				continue
			}
			others, err := countOtherReferences(tx, *file.StoragePath, file.ID, false)
			if err != nil {
				return err
			}
			if others == 0 {
				orphanedPaths = append(orphanedPaths, *file.StoragePath)
				reclaimed += file.Size
			}
		}

		if reclaimed > 0 {
			return decrementUsedBytes(tx, userID, reclaimed)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return orphanedPaths, nil
}

// countOtherReferences counts records other than excludeID holding the same
// storage path. With activeOnly, only non-trashed records count. The rows are
// selected (and on Postgres locked) rather than aggregated: a locking clause
// on an aggregate query is invalid SQL there.
func countOtherReferences(tx *gorm.DB, storagePath, excludeID string, activeOnly bool) (int64, error) {
	q := lockForUpdate(tx).Model(&models.File{}).
		Where("storage_path = ? AND id <> ?", storagePath, excludeID)
	if activeOnly {
		q = q.Where("deleted_at IS NULL")
	}
	var ids []string
	if err := q.Pluck("id", &ids).Error; err != nil {
		return 0, err
	}
	return int64(len(ids)), nil
}

// decrementUsedBytes lowers a user's usage counter, clamping at zero so a
// bookkeeping inconsistency can never drive it negative.
func decrementUsedBytes(tx *gorm.DB, userID string, delta int64) error {
	if delta <= 0 {
		return nil
	}
	return tx.Model(&models.User{}).
		Where("id = ?", userID).
		Update("used_bytes", gorm.Expr("CASE WHEN used_bytes > ? THEN used_bytes - ? ELSE 0 END", delta, delta)).Error
}

// attachShareCounts fills the derived share counters on the given files.
func (s *GORMStore) attachShareCounts(ctx context.Context, files []*models.File) error {
	if len(files) == 0 {
		return nil
	}
	ids := make([]string, len(files))
	byID := make(map[string]*models.File, len(files))
	for i, f := range files {
		ids[i] = f.ID
		byID[f.ID] = f
	}

	type shareCount struct {
		FileID   string
		IsPublic bool
		Count    int64
	}
	var counts []shareCount
	err := s.db.WithContext(ctx).
		Model(&models.Share{}).
		Select("file_id, is_public, COUNT(*) as count").
		Where("file_id IN ?", ids).
		Group("file_id, is_public").
		Scan(&counts).Error
	if err != nil {
		return err
	}

	for _, c := range counts {
		f := byID[c.FileID]
		if f == nil {
			continue
		}
		if c.IsPublic {
			f.PublicShareCount = c.Count
		} else {
			f.PrivateShareCount = c.Count
		}
	}
	return nil
}
