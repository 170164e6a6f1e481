package models

import (
	"strings"
	"time"
)

// UserRole represents the role of a user in the system.
type UserRole string

const (
	// RoleUser is a regular user with access to their own files.
	RoleUser UserRole = "user"
	// RoleAdmin is an administrator who can manage users and quotas.
	RoleAdmin UserRole = "admin"
	// RoleOwner is the instance owner, created by the first registration.
	// Exactly one user holds this role once setup is complete.
	RoleOwner UserRole = "owner"
)

// IsValid checks if the role is a valid UserRole.
func (r UserRole) IsValid() bool {
	return r == RoleUser || r == RoleAdmin || r == RoleOwner
}

// Rank returns the position of the role in the hierarchy owner > admin > user.
// Higher rank means more authority.
func (r UserRole) Rank() int {
	switch r {
	case RoleOwner:
		return 3
	case RoleAdmin:
		return 2
	case RoleUser:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether the role has authority greater than or equal to other.
func (r UserRole) AtLeast(other UserRole) bool {
	return r.Rank() >= other.Rank()
}

// User represents an account that owns files and may create shares.
//
// Email is the login identity and is unique case-insensitively; it is
// normalized to lower case before storage. UsedBytes is the authoritative
// usage counter maintained by the file service; QuotaBytes of zero means
// unlimited storage.
type User struct {
	ID           string     `gorm:"primaryKey;size:36" json:"id"`
	Name         string     `gorm:"not null;size:255" json:"name"`
	Email        string     `gorm:"uniqueIndex;not null;size:255" json:"email"`
	PasswordHash string     `gorm:"not null" json:"-"`
	Role         string     `gorm:"default:user;size:50" json:"role"`
	UsedBytes    int64      `gorm:"not null;default:0" json:"usedBytes"`
	QuotaBytes   int64      `gorm:"not null;default:0" json:"quotaBytes"`
	CreatedAt    time.Time  `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt    time.Time  `gorm:"autoUpdateTime" json:"updatedAt"`
	LastLogin    *time.Time `json:"lastLogin,omitempty"`
}

// TableName returns the table name for User.
func (User) TableName() string {
	return "users"
}

// GetRole returns the user's role as a UserRole type.
func (u *User) GetRole() UserRole {
	return UserRole(u.Role)
}

// IsOwner checks if the user holds the owner role.
func (u *User) IsOwner() bool {
	return u.GetRole() == RoleOwner
}

// IsAdmin checks if the user has admin-level authority (admin or owner).
func (u *User) IsAdmin() bool {
	return u.GetRole().AtLeast(RoleAdmin)
}

// NormalizeEmail lowercases and trims an email for case-insensitive matching.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
