package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v2"

	"github.com/strongbox-io/strongbox/internal/api/auth"
	"github.com/strongbox-io/strongbox/internal/api/middleware"
	"github.com/strongbox-io/strongbox/internal/logger"
	"github.com/strongbox-io/strongbox/pkg/mailer"
	"github.com/strongbox-io/strongbox/pkg/models"
	"github.com/strongbox-io/strongbox/pkg/store"
)

// resetTokenTTL bounds how long a password reset link stays valid.
const resetTokenTTL = time.Hour

// AuthHandler implements registration, login and account self-service.
type AuthHandler struct {
	store    *store.GORMStore
	jwt      *auth.JWTService
	mailer   *mailer.Mailer
	validate *validator.Validate

	// resetTokens maps opaque reset tokens to user IDs. Tokens are
	// single-use and expire server-side; restarts invalidate them, which
	// is acceptable for a reset flow.
	resetTokens *ttlcache.Cache

	publicRegistration bool
	frontendURL        string
}

// NewAuthHandler creates the auth handler.
func NewAuthHandler(st *store.GORMStore, jwt *auth.JWTService, m *mailer.Mailer, publicRegistration bool, frontendURL string) *AuthHandler {
	cache := ttlcache.NewCache()
	cache.SkipTTLExtensionOnHit(true)
	_ = cache.SetTTL(resetTokenTTL)

	return &AuthHandler{
		store:              st,
		jwt:                jwt,
		mailer:             m,
		validate:           validator.New(),
		resetTokens:        cache,
		publicRegistration: publicRegistration,
		frontendURL:        frontendURL,
	}
}

// SetupStatus reports whether the instance still needs its first account.
// GET /api/v1/auth/setup-status
func (h *AuthHandler) SetupStatus(w http.ResponseWriter, r *http.Request) {
	count, err := h.store.CountUsers(r.Context())
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"needsSetup": count == 0})
}

type registerRequest struct {
	Name        string `json:"name" validate:"required,max=255"`
	Email       string `json:"email" validate:"required,email"`
	Password    string `json:"password" validate:"required,min=8,max=72"`
	InviteToken string `json:"inviteToken,omitempty"`
}

// Register creates an account. The first registration bootstraps the
// owner; afterwards an invitation token or public registration is
// required.
// POST /api/v1/auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteErrorMessage(w, http.StatusBadRequest, "Invalid request body", "VALIDATION")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		WriteError(w, r, err)
		return
	}

	ctx := r.Context()
	count, err := h.store.CountUsers(ctx)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	hash, err := models.HashPassword(req.Password, models.UserPasswordCost)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	user := &models.User{
		Name:         req.Name,
		Email:        req.Email,
		PasswordHash: hash,
		Role:         string(models.RoleUser),
	}

	switch {
	case count == 0:
		// Bootstrap: the first account becomes the instance owner.
		user.Role = string(models.RoleOwner)
		if _, err := h.store.CreateUser(ctx, user); err != nil {
			WriteError(w, r, err)
			return
		}
		logger.Info("instance owner created", "user_id", user.ID)

	case req.InviteToken != "":
		inv, err := h.store.GetInvitationByToken(ctx, req.InviteToken)
		if err != nil {
			WriteError(w, r, err)
			return
		}
		if err := redeemableInvitation(inv); err != nil {
			WriteError(w, r, err)
			return
		}
		if models.NormalizeEmail(req.Email) != inv.Email {
			WriteError(w, r, models.ErrInvitationEmail)
			return
		}
		user.Role = inv.Role
		if _, err := h.store.CreateUserAcceptingInvitation(ctx, user, inv.ID); err != nil {
			WriteError(w, r, err)
			return
		}

	case h.publicRegistration:
		if _, err := h.store.CreateUser(ctx, user); err != nil {
			WriteError(w, r, err)
			return
		}

	default:
		WriteErrorMessage(w, http.StatusForbidden, "Registration requires an invitation", "FORBIDDEN")
		return
	}

	if err := h.startSession(w, user); err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, user)
}

func redeemableInvitation(inv *models.Invitation) error {
	switch models.InvitationStatus(inv.Status) {
	case models.InvitationPending:
		return nil
	case models.InvitationAccepted:
		return models.ErrInvitationUsed
	case models.InvitationRevoked:
		return models.ErrInvitationRevoked
	case models.InvitationExpired:
		return models.ErrInvitationExpired
	}
	return models.ErrInvitationNotFound
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// Login authenticates and starts a cookie session.
// POST /api/v1/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteErrorMessage(w, http.StatusBadRequest, "Invalid request body", "VALIDATION")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		WriteError(w, r, err)
		return
	}

	user, err := h.store.ValidateCredentials(r.Context(), req.Email, req.Password)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	if err := h.store.UpdateLastLogin(r.Context(), user.ID, time.Now()); err != nil {
		logger.Warn("failed to record last login", "user_id", user.ID, "error", err)
	}

	if err := h.startSession(w, user); err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, user)
}

// Logout clears the session cookie.
// POST /api/v1/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.jwt.ClearSessionCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

// Me returns the current user.
// GET /api/v1/auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, middleware.UserFromContext(r.Context()))
}

type updateProfileRequest struct {
	Name string `json:"name" validate:"required,max=255"`
}

// UpdateProfile updates the current user's display name.
// PATCH /api/v1/auth/profile
func (h *AuthHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())

	var req updateProfileRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteErrorMessage(w, http.StatusBadRequest, "Invalid request body", "VALIDATION")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		WriteError(w, r, err)
		return
	}

	if err := h.store.UpdateUserName(r.Context(), user.ID, req.Name); err != nil {
		WriteError(w, r, err)
		return
	}
	user.Name = req.Name
	WriteJSON(w, http.StatusOK, user)
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" validate:"required"`
	NewPassword     string `json:"newPassword" validate:"required,min=8,max=72"`
}

// ChangePassword changes the current user's password after verifying the
// current one.
// POST /api/v1/auth/change-password
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())

	var req changePasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteErrorMessage(w, http.StatusBadRequest, "Invalid request body", "VALIDATION")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		WriteError(w, r, err)
		return
	}

	if !models.CheckPassword(user.PasswordHash, req.CurrentPassword) {
		WriteError(w, r, models.ErrInvalidCredentials)
		return
	}

	hash, err := models.HashPassword(req.NewPassword, models.UserPasswordCost)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	if err := h.store.UpdatePassword(r.Context(), user.ID, hash); err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"message": "Password changed"})
}

type forgotPasswordRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// ForgotPassword mails a reset link. The response is identical whether or
// not the account exists, to avoid account enumeration.
// POST /api/v1/auth/forgot-password
func (h *AuthHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req forgotPasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteErrorMessage(w, http.StatusBadRequest, "Invalid request body", "VALIDATION")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		WriteError(w, r, err)
		return
	}

	uniform := map[string]string{"message": "If the account exists, a reset link has been sent"}

	user, err := h.store.GetUserByEmail(r.Context(), req.Email)
	if err != nil {
		WriteJSON(w, http.StatusOK, uniform)
		return
	}

	token := uuid.NewString()
	if err := h.resetTokens.SetWithTTL(token, user.ID, resetTokenTTL); err != nil {
		WriteError(w, r, err)
		return
	}

	link := h.frontendURL + "/reset-password?token=" + token
	if err := h.mailer.SendPasswordReset(r.Context(), user.Email, link); err != nil {
		// Do not leak delivery failures to the caller either.
		logger.Warn("failed to send reset mail", "user_id", user.ID, "error", err)
	}
	WriteJSON(w, http.StatusOK, uniform)
}

type resetPasswordRequest struct {
	Token    string `json:"token" validate:"required"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

// ResetPassword consumes a reset token and sets a new password.
// POST /api/v1/auth/reset-password
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteErrorMessage(w, http.StatusBadRequest, "Invalid request body", "VALIDATION")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		WriteError(w, r, err)
		return
	}

	value, err := h.resetTokens.Get(req.Token)
	if err != nil {
		if errors.Is(err, ttlcache.ErrNotFound) {
			WriteError(w, r, models.ErrResetTokenInvalid)
			return
		}
		WriteError(w, r, err)
		return
	}
	userID, _ := value.(string)

	hash, err := models.HashPassword(req.Password, models.UserPasswordCost)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	if err := h.store.UpdatePassword(r.Context(), userID, hash); err != nil {
		WriteError(w, r, err)
		return
	}
	_ = h.resetTokens.Remove(req.Token)
	WriteJSON(w, http.StatusOK, map[string]string{"message": "Password has been reset"})
}

func (h *AuthHandler) startSession(w http.ResponseWriter, user *models.User) error {
	token, err := h.jwt.GenerateToken(user)
	if err != nil {
		return err
	}
	h.jwt.SetSessionCookie(w, token)
	return nil
}
