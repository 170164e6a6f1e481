package models

import "errors"

// Common errors for domain operations. Stores and services return these
// sentinels so the HTTP layer can map them to statuses in one place.
var (
	// User errors
	ErrUserNotFound       = errors.New("user not found")
	ErrDuplicateEmail     = errors.New("email already registered")
	ErrInvalidCredentials = errors.New("invalid email or password")

	// File errors
	ErrFileNotFound   = errors.New("file not found")
	ErrNotAFolder     = errors.New("parent is not a folder")
	ErrParentNotFound = errors.New("parent folder not found")

	// Share errors
	ErrShareNotFound    = errors.New("share not found")
	ErrShareExpired     = errors.New("share has expired")
	ErrSharePassword    = errors.New("invalid share password")
	ErrShareNotPublic   = errors.New("share is not public")
	ErrSelfShare        = errors.New("cannot share a file with yourself")
	ErrNotShareCreator  = errors.New("only the share creator can modify it")
	ErrGranteeNotFound  = errors.New("grantee user not found")
	ErrShareUnavailable = errors.New("shared file is no longer available")

	// Invitation errors
	ErrInvitationNotFound = errors.New("invitation not found")
	ErrInvitationExpired  = errors.New("invitation has expired")
	ErrInvitationRevoked  = errors.New("invitation has been revoked")
	ErrInvitationUsed     = errors.New("invitation has already been accepted")
	ErrInvitationEmail    = errors.New("invitation was issued for a different email")

	// Quota errors
	ErrQuotaExceeded        = errors.New("storage limit exceeded")
	ErrQuotaBelowUsage      = errors.New("quota cannot be set below current usage")
	ErrQuotaExceedsCapacity = errors.New("quota exceeds available storage")

	// Setting errors
	ErrSettingNotFound = errors.New("setting not found")

	// Auth errors
	ErrPermissionDenied  = errors.New("permission denied")
	ErrResetTokenInvalid = errors.New("invalid or expired reset token")
)
