// Package handlers provides the HTTP handlers for the Strongbox API.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/strongbox-io/strongbox/internal/api/auth"
	"github.com/strongbox-io/strongbox/internal/logger"
	"github.com/strongbox-io/strongbox/pkg/crypto"
	"github.com/strongbox-io/strongbox/pkg/files"
	"github.com/strongbox-io/strongbox/pkg/models"
	"github.com/strongbox-io/strongbox/pkg/shares"
)

// ErrorResponse is the error envelope every failed request returns.
type ErrorResponse struct {
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message"`
	ErrorCode  string `json:"errorCode,omitempty"`
	Details    any    `json:"details,omitempty"`
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// WriteErrorMessage writes an error envelope with an explicit status.
func WriteErrorMessage(w http.ResponseWriter, status int, message, code string) {
	WriteJSON(w, status, ErrorResponse{StatusCode: status, Message: message, ErrorCode: code})
}

// WriteErrorDetails writes an error envelope carrying a details payload.
func WriteErrorDetails(w http.ResponseWriter, status int, message, code string, details any) {
	WriteJSON(w, status, ErrorResponse{StatusCode: status, Message: message, ErrorCode: code, Details: details})
}

// WriteError maps a service error to the HTTP error envelope. All handler
// error paths funnel through here so a given failure always maps to the
// same status and code.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	var dup *files.DuplicateContentError
	if errors.As(err, &dup) {
		WriteErrorDetails(w, http.StatusConflict,
			"A file with identical content already exists", "DUPLICATE_CONTENT",
			map[string]any{"matches": dup.Matches})
		return
	}

	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		details := make(map[string]string, len(validationErrs))
		for _, fe := range validationErrs {
			details[fe.Field()] = fe.Tag()
		}
		WriteErrorDetails(w, http.StatusBadRequest, "Validation failed", "VALIDATION", details)
		return
	}

	status, message, code := classify(err)
	if status == http.StatusInternalServerError {
		logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
	}
	WriteErrorMessage(w, status, message, code)
}

func classify(err error) (int, string, string) {
	switch {
	// 400
	case errors.Is(err, models.ErrQuotaExceeded):
		return http.StatusBadRequest, "Storage limit exceeded", "QUOTA_EXCEEDED"
	case errors.Is(err, models.ErrQuotaBelowUsage):
		return http.StatusBadRequest, "Quota cannot be set below current usage", "VALIDATION"
	case errors.Is(err, models.ErrQuotaExceedsCapacity):
		return http.StatusBadRequest, "Quota exceeds available storage capacity", "VALIDATION"
	case errors.Is(err, files.ErrInvalidName),
		errors.Is(err, files.ErrInvalidMimeType),
		errors.Is(err, files.ErrInvalidContentHash),
		errors.Is(err, files.ErrIsFolder),
		errors.Is(err, files.ErrNotFolder),
		errors.Is(err, files.ErrNoContent),
		errors.Is(err, models.ErrNotAFolder),
		errors.Is(err, shares.ErrPasswordTooShort),
		errors.Is(err, shares.ErrPasswordTooLong),
		errors.Is(err, shares.ErrExpiryInPast),
		errors.Is(err, shares.ErrGranteeRequired),
		errors.Is(err, models.ErrSelfShare),
		errors.Is(err, models.ErrShareNotPublic):
		return http.StatusBadRequest, err.Error(), "VALIDATION"

	// 401
	case errors.Is(err, models.ErrInvalidCredentials):
		return http.StatusUnauthorized, "Invalid email or password", "INVALID_CREDENTIALS"
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrExpiredToken):
		return http.StatusUnauthorized, "Invalid or expired session", "UNAUTHORIZED"

	// 403
	case errors.Is(err, models.ErrPermissionDenied),
		errors.Is(err, models.ErrNotShareCreator):
		return http.StatusForbidden, "Insufficient permissions", "FORBIDDEN"
	case errors.Is(err, models.ErrSharePassword):
		return http.StatusForbidden, "Invalid share password", "FORBIDDEN"
	case errors.Is(err, models.ErrInvitationEmail):
		return http.StatusForbidden, "Invitation was issued for a different email address", "FORBIDDEN"

	// 404
	case errors.Is(err, models.ErrUserNotFound),
		errors.Is(err, models.ErrFileNotFound),
		errors.Is(err, models.ErrParentNotFound),
		errors.Is(err, models.ErrShareNotFound),
		errors.Is(err, models.ErrShareExpired),
		errors.Is(err, models.ErrShareUnavailable),
		errors.Is(err, models.ErrGranteeNotFound),
		errors.Is(err, models.ErrInvitationNotFound),
		errors.Is(err, models.ErrSettingNotFound),
		errors.Is(err, models.ErrResetTokenInvalid):
		return http.StatusNotFound, err.Error(), "NOT_FOUND"

	// 409
	case errors.Is(err, models.ErrDuplicateEmail):
		return http.StatusConflict, "An account with this email already exists", "CONFLICT"
	case errors.Is(err, files.ErrAlreadyUploaded):
		return http.StatusConflict, err.Error(), "CONFLICT"
	case errors.Is(err, models.ErrInvitationUsed),
		errors.Is(err, models.ErrInvitationRevoked),
		errors.Is(err, models.ErrInvitationExpired):
		return http.StatusConflict, err.Error(), "CONFLICT"

	// 413
	case errors.Is(err, files.ErrTooLarge):
		return http.StatusRequestEntityTooLarge, "Upload exceeds the maximum allowed size", "PAYLOAD_TOO_LARGE"

	// 500, with the raw cause redacted for decryption failures
	case errors.Is(err, crypto.ErrDecryptFailed):
		return http.StatusInternalServerError, "Failed to process file content", "SERVER"
	}
	return http.StatusInternalServerError, "Internal server error", "SERVER"
}

// decodeJSON decodes a JSON request body into dst, rejecting unknown
// fields.
func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
