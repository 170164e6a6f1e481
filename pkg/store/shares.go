package store

import (
	"context"
	"time"

	"github.com/strongbox-io/strongbox/pkg/models"
)

// ============================================
// SHARE OPERATIONS
// ============================================

func (s *GORMStore) CreateShare(ctx context.Context, share *models.Share) (string, error) {
	return createWithID(s.db, ctx, share, func(sh *models.Share, id string) { sh.ID = id }, share.ID, models.ErrShareNotFound)
}

func (s *GORMStore) GetShare(ctx context.Context, id string) (*models.Share, error) {
	var share models.Share
	if err := s.db.WithContext(ctx).Preload("File").Where("id = ?", id).First(&share).Error; err != nil {
		return nil, convertNotFoundError(err, models.ErrShareNotFound)
	}
	return &share, nil
}

// GetShareByToken looks up a public share by its token.
func (s *GORMStore) GetShareByToken(ctx context.Context, token string) (*models.Share, error) {
	var share models.Share
	err := s.db.WithContext(ctx).Preload("File").
		Where("share_token = ? AND is_public = ?", token, true).
		First(&share).Error
	if err != nil {
		return nil, convertNotFoundError(err, models.ErrShareNotFound)
	}
	return &share, nil
}

// ListSharesByCreator returns shares created by the user, optionally
// filtered to public or private only.
func (s *GORMStore) ListSharesByCreator(ctx context.Context, creatorID string, isPublic *bool) ([]*models.Share, error) {
	q := s.db.WithContext(ctx).Preload("File").Where("creator_id = ?", creatorID)
	if isPublic != nil {
		q = q.Where("is_public = ?", *isPublic)
	}
	var shares []*models.Share
	if err := q.Order("created_at DESC").Find(&shares).Error; err != nil {
		return nil, err
	}
	return shares, nil
}

// ListSharesWithUser returns private shares granted to the user.
func (s *GORMStore) ListSharesWithUser(ctx context.Context, granteeID string) ([]*models.Share, error) {
	var shares []*models.Share
	err := s.db.WithContext(ctx).Preload("File").
		Where("grantee_user_id = ?", granteeID).
		Order("created_at DESC").
		Find(&shares).Error
	if err != nil {
		return nil, err
	}
	return shares, nil
}

// UpdateSharePublicSettings persists password and expiry changes.
func (s *GORMStore) UpdateSharePublicSettings(ctx context.Context, id string, passwordHash *string, expiresAt *time.Time, clearPassword, clearExpiry bool) (*models.Share, error) {
	updates := map[string]any{}
	if clearPassword {
		updates["password_hash"] = nil
	} else if passwordHash != nil {
		updates["password_hash"] = *passwordHash
	}
	if clearExpiry {
		updates["expires_at"] = nil
	} else if expiresAt != nil {
		updates["expires_at"] = *expiresAt
	}

	if len(updates) > 0 {
		result := s.db.WithContext(ctx).Model(&models.Share{}).Where("id = ?", id).Updates(updates)
		if result.Error != nil {
			return nil, result.Error
		}
		if result.RowsAffected == 0 {
			return nil, models.ErrShareNotFound
		}
	}
	return s.GetShare(ctx, id)
}

func (s *GORMStore) DeleteShare(ctx context.Context, id string) error {
	return deleteByField[models.Share](s.db, ctx, "id", id, models.ErrShareNotFound)
}
