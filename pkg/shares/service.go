// Package shares implements user-to-user shares and token-based public
// links with optional password protection and expiry.
package shares

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/strongbox-io/strongbox/pkg/models"
	"github.com/strongbox-io/strongbox/pkg/store"
)

// Typed failures raised by the share service.
var (
	ErrPasswordTooShort = errors.New("share password must be at least 6 characters")
	ErrPasswordTooLong  = errors.New("share password must be at most 72 characters")
	ErrExpiryInPast     = errors.New("share expiry must be in the future")
	ErrGranteeRequired  = errors.New("private shares require a grantee email")
)

// Service implements share operations on top of the metadata store.
type Service struct {
	store *store.GORMStore
}

// NewService creates the share service.
func NewService(st *store.GORMStore) *Service {
	return &Service{store: st}
}

// CreateRequest carries the parameters for a new share.
type CreateRequest struct {
	FileID       string
	IsPublic     bool
	GranteeEmail string
	Permission   string
	ExpiresAt    *time.Time
	Password     string
}

// Create creates a private or public share on a file the creator owns.
func (s *Service) Create(ctx context.Context, creator *models.User, req CreateRequest) (*models.Share, error) {
	file, err := s.store.GetUserFile(ctx, creator.ID, req.FileID)
	if err != nil {
		return nil, err
	}
	if file.IsTrashed() {
		return nil, models.ErrFileNotFound
	}

	share := &models.Share{
		FileID:     file.ID,
		CreatorID:  creator.ID,
		Permission: string(models.PermissionRead),
		IsPublic:   req.IsPublic,
	}
	if req.Permission != "" {
		if !models.SharePermission(req.Permission).IsValid() {
			return nil, fmt.Errorf("invalid permission %q", req.Permission)
		}
		share.Permission = req.Permission
	}

	if req.IsPublic {
		if err := s.applyPublicSettings(share, req.Password, req.ExpiresAt); err != nil {
			return nil, err
		}
		token, err := models.NewShareToken()
		if err != nil {
			return nil, err
		}
		share.ShareToken = &token
	} else {
		if strings.TrimSpace(req.GranteeEmail) == "" {
			return nil, ErrGranteeRequired
		}
		grantee, err := s.store.GetUserByEmail(ctx, req.GranteeEmail)
		if err != nil {
			if errors.Is(err, models.ErrUserNotFound) {
				return nil, models.ErrGranteeNotFound
			}
			return nil, err
		}
		if grantee.ID == creator.ID {
			return nil, models.ErrSelfShare
		}
		share.GranteeUserID = &grantee.ID
		share.GranteeEmail = &grantee.Email
	}

	if _, err := s.store.CreateShare(ctx, share); err != nil {
		return nil, err
	}
	share.File = file
	return share, nil
}

func (s *Service) applyPublicSettings(share *models.Share, password string, expiresAt *time.Time) error {
	if expiresAt != nil {
		if !expiresAt.After(time.Now()) {
			return ErrExpiryInPast
		}
		share.ExpiresAt = expiresAt
	}
	if password != "" {
		hash, err := hashSharePassword(password)
		if err != nil {
			return err
		}
		share.PasswordHash = &hash
	}
	return nil
}

func hashSharePassword(password string) (string, error) {
	if len(password) < models.MinSharePasswordLength {
		return "", ErrPasswordTooShort
	}
	if len(password) > models.MaxSharePasswordLength {
		return "", ErrPasswordTooLong
	}
	return models.HashPassword(password, models.SharePasswordCost)
}

// GetByToken resolves a public share by token. Expired shares surface as
// not found, regardless of credentials.
func (s *Service) GetByToken(ctx context.Context, token string) (*models.Share, error) {
	share, err := s.store.GetShareByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if share.IsExpired(time.Now()) {
		return nil, models.ErrShareNotFound
	}
	if share.File == nil || share.File.IsTrashed() {
		return nil, models.ErrShareNotFound
	}
	return share, nil
}

// CheckPassword verifies a public share password. bcrypt's comparison is
// constant time in the stored hash.
func (s *Service) CheckPassword(share *models.Share, password string) bool {
	if !share.HasPassword() {
		return true
	}
	return models.CheckPassword(*share.PasswordHash, password)
}

// UpdateRequest carries password/expiry updates for a public share.
// A clear flag takes precedence over a set value in the same request.
type UpdateRequest struct {
	Password      *string
	ExpiresAt     *time.Time
	ClearPassword bool
	ClearExpiry   bool
}

// UpdatePublicSettings lets the creator set or clear the password and the
// expiry of a public share.
func (s *Service) UpdatePublicSettings(ctx context.Context, userID, shareID string, req UpdateRequest) (*models.Share, error) {
	share, err := s.store.GetShare(ctx, shareID)
	if err != nil {
		return nil, err
	}
	if share.CreatorID != userID {
		return nil, models.ErrNotShareCreator
	}
	if !share.IsPublic {
		return nil, models.ErrShareNotPublic
	}

	var passwordHash *string
	if !req.ClearPassword && req.Password != nil {
		hash, err := hashSharePassword(*req.Password)
		if err != nil {
			return nil, err
		}
		passwordHash = &hash
	}
	if !req.ClearExpiry && req.ExpiresAt != nil && !req.ExpiresAt.After(time.Now()) {
		return nil, ErrExpiryInPast
	}

	return s.store.UpdateSharePublicSettings(ctx, shareID, passwordHash, req.ExpiresAt, req.ClearPassword, req.ClearExpiry)
}

// Revoke deletes a share. Only the creator may revoke.
func (s *Service) Revoke(ctx context.Context, userID, shareID string) error {
	share, err := s.store.GetShare(ctx, shareID)
	if err != nil {
		return err
	}
	if share.CreatorID != userID {
		return models.ErrNotShareCreator
	}
	return s.store.DeleteShare(ctx, shareID)
}

// ListCreated returns shares the user created, optionally only public or
// only private ones.
func (s *Service) ListCreated(ctx context.Context, userID string, isPublic *bool) ([]*models.Share, error) {
	return s.store.ListSharesByCreator(ctx, userID, isPublic)
}

// ListReceived returns private shares granted to the user.
func (s *Service) ListReceived(ctx context.Context, userID string) ([]*models.Share, error) {
	return s.store.ListSharesWithUser(ctx, userID)
}

// GetForGrantee resolves a private share for its grantee, enforcing expiry.
func (s *Service) GetForGrantee(ctx context.Context, userID, shareID string) (*models.Share, error) {
	share, err := s.store.GetShare(ctx, shareID)
	if err != nil {
		return nil, err
	}
	if share.GranteeUserID == nil || *share.GranteeUserID != userID {
		return nil, models.ErrShareNotFound
	}
	if share.IsExpired(time.Now()) {
		return nil, models.ErrShareNotFound
	}
	if share.File == nil || share.File.IsTrashed() {
		return nil, models.ErrShareUnavailable
	}
	return share, nil
}

// PublicLink builds the fully-qualified link for a public share from the
// configured frontend origin, falling back to the request origin.
func PublicLink(frontendURL, requestOrigin, token string) string {
	origin := strings.TrimSuffix(frontendURL, "/")
	if origin == "" {
		origin = strings.TrimSuffix(requestOrigin, "/")
	}
	return origin + "/share/" + token
}
