package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/strongbox-io/strongbox/pkg/models"
)

// ============================================
// USER OPERATIONS
// ============================================

func (s *GORMStore) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	return getByField[models.User](s.db, ctx, "id", id, models.ErrUserNotFound)
}

func (s *GORMStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return getByField[models.User](s.db, ctx, "email", models.NormalizeEmail(email), models.ErrUserNotFound)
}

func (s *GORMStore) ListUsers(ctx context.Context) ([]*models.User, error) {
	var users []*models.User
	if err := s.db.WithContext(ctx).Order("created_at ASC").Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

func (s *GORMStore) CountUsers(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

func (s *GORMStore) CreateUser(ctx context.Context, user *models.User) (string, error) {
	user.Email = models.NormalizeEmail(user.Email)
	return createWithID(s.db, ctx, user, func(u *models.User, id string) { u.ID = id }, user.ID, models.ErrDuplicateEmail)
}

// CreateUserAcceptingInvitation creates the user and transitions the
// invitation to accepted in one transaction.
func (s *GORMStore) CreateUserAcceptingInvitation(ctx context.Context, user *models.User, invitationID string) (string, error) {
	var id string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user.Email = models.NormalizeEmail(user.Email)
		var err error
		id, err = createWithID(tx, ctx, user, func(u *models.User, uid string) { u.ID = uid }, user.ID, models.ErrDuplicateEmail)
		if err != nil {
			return err
		}

		result := tx.Model(&models.Invitation{}).
			Where("id = ? AND status = ?", invitationID, string(models.InvitationPending)).
			Update("status", string(models.InvitationAccepted))
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return models.ErrInvitationUsed
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *GORMStore) UpdateUserName(ctx context.Context, userID, name string) error {
	result := s.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", userID).
		Update("name", name)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrUserNotFound
	}
	return nil
}

func (s *GORMStore) UpdateUser(ctx context.Context, user *models.User) error {
	var existing models.User
	if err := s.db.WithContext(ctx).Where("id = ?", user.ID).First(&existing).Error; err != nil {
		return convertNotFoundError(err, models.ErrUserNotFound)
	}
	return s.db.WithContext(ctx).
		Model(&existing).
		Select("Name", "Email", "Role", "QuotaBytes").
		Updates(user).Error
}

func (s *GORMStore) DeleteUser(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user models.User
		if err := tx.Where("id = ?", id).First(&user).Error; err != nil {
			return convertNotFoundError(err, models.ErrUserNotFound)
		}
		// Shares the user created or received die with the account.
		if err := tx.Where("creator_id = ? OR grantee_user_id = ?", id, id).Delete(&models.Share{}).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", id).Delete(&models.File{}).Error; err != nil {
			return err
		}
		if err := tx.Where("inviter_id = ?", id).Delete(&models.Invitation{}).Error; err != nil {
			return err
		}
		return tx.Delete(&user).Error
	})
}

func (s *GORMStore) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	result := s.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", userID).
		Update("password_hash", passwordHash)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrUserNotFound
	}
	return nil
}

func (s *GORMStore) UpdateLastLogin(ctx context.Context, userID string, timestamp time.Time) error {
	return s.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", userID).
		Update("last_login", timestamp).Error
}

// UpdateQuota sets a user's quota after validating it against current usage
// and the advisory free-space bound inside one transaction.
func (s *GORMStore) UpdateQuota(ctx context.Context, userID string, quotaBytes, freeBytes int64) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := lockForUpdate(tx).Where("id = ?", userID).First(&user).Error; err != nil {
			return convertNotFoundError(err, models.ErrUserNotFound)
		}
		if quotaBytes != 0 && quotaBytes < user.UsedBytes {
			return models.ErrQuotaBelowUsage
		}
		if quotaBytes != 0 && quotaBytes > user.UsedBytes+freeBytes {
			return models.ErrQuotaExceedsCapacity
		}
		user.QuotaBytes = quotaBytes
		return tx.Model(&user).Update("quota_bytes", quotaBytes).Error
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// ValidateCredentials checks an email/password pair and returns the user.
func (s *GORMStore) ValidateCredentials(ctx context.Context, email, password string) (*models.User, error) {
	user, err := s.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrUserNotFound) {
			return nil, models.ErrInvalidCredentials
		}
		return nil, err
	}
	if !models.CheckPassword(user.PasswordHash, password) {
		return nil, models.ErrInvalidCredentials
	}
	return user, nil
}
