package models

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// InvitationStatus tracks the lifecycle of an invitation.
type InvitationStatus string

const (
	// InvitationPending means the token is still redeemable.
	InvitationPending InvitationStatus = "pending"
	// InvitationAccepted means a user registered with the token.
	InvitationAccepted InvitationStatus = "accepted"
	// InvitationRevoked means the inviter withdrew the token.
	InvitationRevoked InvitationStatus = "revoked"
	// InvitationExpired means the token passed its expiry. The transition
	// happens lazily at validation time.
	InvitationExpired InvitationStatus = "expired"
)

// InvitationTokenBytes is the entropy of an invitation token (128 bits).
const InvitationTokenBytes = 16

// Invitation lets an existing user bring a new account into the instance.
// Only pending, unexpired tokens are redeemable, and the registering email
// must match Email case-insensitively.
type Invitation struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	Email     string    `gorm:"index;not null;size:255" json:"email"`
	InviterID string    `gorm:"index;not null;size:36" json:"inviterId"`
	Token     string    `gorm:"uniqueIndex;not null;size:64" json:"-"`
	Role      string    `gorm:"not null;default:user;size:50" json:"role"`
	Status    string    `gorm:"not null;default:pending;size:20" json:"status"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
	ExpiresAt time.Time `gorm:"not null" json:"expiresAt"`
}

// TableName returns the table name for Invitation.
func (Invitation) TableName() string {
	return "invitations"
}

// IsExpired reports whether the invitation has passed its expiry.
func (i *Invitation) IsExpired(now time.Time) bool {
	return now.After(i.ExpiresAt)
}

// NewInvitationToken mints a fresh opaque invitation token.
func NewInvitationToken() (string, error) {
	buf := make([]byte, InvitationTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate invitation token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
