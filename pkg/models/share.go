package models

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// SharePermission is the access level pinned on a share.
type SharePermission string

const (
	// PermissionRead allows viewing and downloading the shared file.
	PermissionRead SharePermission = "read"
	// PermissionWrite is accepted and stored; write semantics beyond
	// download are reserved for a future release.
	PermissionWrite SharePermission = "write"
)

// IsValid checks if the permission is a valid SharePermission.
func (p SharePermission) IsValid() bool {
	return p == PermissionRead || p == PermissionWrite
}

// ShareTokenBytes is the entropy of a public share token (128 bits).
const ShareTokenBytes = 16

// Share grants access to a file, either to a specific user (private) or to
// anyone holding an unguessable token (public).
//
// Invariants: a public share has ShareToken set and GranteeUserID null; a
// private share has GranteeUserID set and no token. PasswordHash non-null
// means the public share is password protected. ExpiresAt is enforced at
// read time; an expired share behaves as not found.
type Share struct {
	ID            string     `gorm:"primaryKey;size:36" json:"id"`
	FileID        string     `gorm:"index;not null;size:36" json:"fileId"`
	CreatorID     string     `gorm:"index;not null;size:36" json:"creatorId"`
	GranteeUserID *string    `gorm:"index;size:36" json:"granteeUserId,omitempty"`
	GranteeEmail  *string    `gorm:"size:255" json:"granteeEmail,omitempty"`
	ShareToken    *string    `gorm:"uniqueIndex;size:64" json:"shareToken,omitempty"`
	Permission    string     `gorm:"not null;default:read;size:20" json:"permission"`
	IsPublic      bool       `gorm:"not null;default:false" json:"isPublic"`
	PasswordHash  *string    `json:"-"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"createdAt"`

	File *File `gorm:"foreignKey:FileID" json:"file,omitempty"`
}

// TableName returns the table name for Share.
func (Share) TableName() string {
	return "shares"
}

// IsExpired reports whether the share has passed its expiry.
func (s *Share) IsExpired(now time.Time) bool {
	return s.ExpiresAt != nil && now.After(*s.ExpiresAt)
}

// HasPassword reports whether the share is password protected.
func (s *Share) HasPassword() bool {
	return s.PasswordHash != nil && *s.PasswordHash != ""
}

// NewShareToken mints a fresh public share token: 16 random bytes,
// hex-encoded to 32 characters.
func NewShareToken() (string, error) {
	buf := make([]byte, ShareTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate share token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
