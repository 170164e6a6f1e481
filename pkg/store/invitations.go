package store

import (
	"context"
	"time"

	"github.com/strongbox-io/strongbox/pkg/models"
)

// ============================================
// INVITATION OPERATIONS
// ============================================

func (s *GORMStore) CreateInvitation(ctx context.Context, inv *models.Invitation) (string, error) {
	inv.Email = models.NormalizeEmail(inv.Email)
	return createWithID(s.db, ctx, inv, func(i *models.Invitation, id string) { i.ID = id }, inv.ID, models.ErrInvitationNotFound)
}

func (s *GORMStore) GetInvitation(ctx context.Context, id string) (*models.Invitation, error) {
	return getByField[models.Invitation](s.db, ctx, "id", id, models.ErrInvitationNotFound)
}

// GetInvitationByToken looks up an invitation by its opaque token and
// applies the lazy pending→expired transition when the expiry has passed.
func (s *GORMStore) GetInvitationByToken(ctx context.Context, token string) (*models.Invitation, error) {
	inv, err := getByField[models.Invitation](s.db, ctx, "token", token, models.ErrInvitationNotFound)
	if err != nil {
		return nil, err
	}
	if inv.Status == string(models.InvitationPending) && inv.IsExpired(time.Now()) {
		if err := s.UpdateInvitationStatus(ctx, inv.ID, models.InvitationExpired); err != nil {
			return nil, err
		}
		inv.Status = string(models.InvitationExpired)
	}
	return inv, nil
}

func (s *GORMStore) ListInvitations(ctx context.Context, inviterID string) ([]*models.Invitation, error) {
	var invs []*models.Invitation
	err := s.db.WithContext(ctx).
		Where("inviter_id = ?", inviterID).
		Order("created_at DESC").
		Find(&invs).Error
	if err != nil {
		return nil, err
	}
	return invs, nil
}

func (s *GORMStore) UpdateInvitationStatus(ctx context.Context, id string, status models.InvitationStatus) error {
	result := s.db.WithContext(ctx).
		Model(&models.Invitation{}).
		Where("id = ?", id).
		Update("status", string(status))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return models.ErrInvitationNotFound
	}
	return nil
}
