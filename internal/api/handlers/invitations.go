package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/strongbox-io/strongbox/internal/api/auth"
	"github.com/strongbox-io/strongbox/internal/api/middleware"
	"github.com/strongbox-io/strongbox/internal/logger"
	"github.com/strongbox-io/strongbox/pkg/mailer"
	"github.com/strongbox-io/strongbox/pkg/models"
	"github.com/strongbox-io/strongbox/pkg/store"
)

// InvitationHandler implements invitation issuance and redemption.
type InvitationHandler struct {
	store    *store.GORMStore
	jwt      *auth.JWTService
	mailer   *mailer.Mailer
	validate *validator.Validate

	inviteTTL   time.Duration
	frontendURL string
}

// NewInvitationHandler creates the invitation handler.
func NewInvitationHandler(st *store.GORMStore, jwt *auth.JWTService, m *mailer.Mailer, inviteTTL time.Duration, frontendURL string) *InvitationHandler {
	return &InvitationHandler{
		store:       st,
		jwt:         jwt,
		mailer:      m,
		validate:    validator.New(),
		inviteTTL:   inviteTTL,
		frontendURL: frontendURL,
	}
}

type createInviteRequest struct {
	Email string `json:"email" validate:"required,email"`
	Role  string `json:"role,omitempty" validate:"omitempty,oneof=user admin owner"`
}

// Create issues an invitation. An inviter cannot invite a role above
// their own, and only owners may invite admins or owners.
// POST /api/v1/invites
func (h *InvitationHandler) Create(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())

	var req createInviteRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteErrorMessage(w, http.StatusBadRequest, "Invalid request body", "VALIDATION")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		WriteError(w, r, err)
		return
	}
	role := models.UserRole(req.Role)
	if role == "" {
		role = models.RoleUser
	}

	if role.AtLeast(models.RoleAdmin) && !user.IsOwner() {
		msg := "Only owners can invite admins"
		if role == models.RoleOwner {
			msg = "Only owners can invite other owners"
		}
		WriteErrorMessage(w, http.StatusForbidden, msg, "FORBIDDEN")
		return
	}
	if role.Rank() > user.GetRole().Rank() {
		WriteErrorMessage(w, http.StatusForbidden, "Cannot invite a role above your own", "FORBIDDEN")
		return
	}

	token, err := models.NewInvitationToken()
	if err != nil {
		WriteError(w, r, err)
		return
	}
	inv := &models.Invitation{
		Email:     req.Email,
		InviterID: user.ID,
		Token:     token,
		Role:      string(role),
		Status:    string(models.InvitationPending),
		ExpiresAt: time.Now().Add(h.inviteTTL),
	}
	if _, err := h.store.CreateInvitation(r.Context(), inv); err != nil {
		WriteError(w, r, err)
		return
	}

	link := h.frontendURL + "/register?inviteToken=" + token
	if err := h.mailer.SendInvitation(r.Context(), inv.Email, user.Name, link); err != nil {
		// The invite stands even when mail delivery fails; the inviter
		// can pass the link along manually.
		logger.Warn("failed to send invitation mail", "invitation_id", inv.ID, "error", err)
	}

	WriteJSON(w, http.StatusCreated, map[string]any{
		"invitation": inv,
		"inviteLink": link,
	})
}

// List returns invitations the current user issued.
// GET /api/v1/invites
func (h *InvitationHandler) List(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())
	invs, err := h.store.ListInvitations(r.Context(), user.ID)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"items": invs})
}

// Revoke withdraws a pending invitation.
// POST /api/v1/invites/{id}/revoke
func (h *InvitationHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())

	inv, err := h.store.GetInvitation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	if inv.InviterID != user.ID && !user.IsAdmin() {
		WriteErrorMessage(w, http.StatusForbidden, "Insufficient permissions", "FORBIDDEN")
		return
	}
	if inv.Status != string(models.InvitationPending) {
		WriteError(w, r, models.ErrInvitationUsed)
		return
	}

	if err := h.store.UpdateInvitationStatus(r.Context(), inv.ID, models.InvitationRevoked); err != nil {
		WriteError(w, r, err)
		return
	}
	inv.Status = string(models.InvitationRevoked)
	WriteJSON(w, http.StatusOK, inv)
}

// Validate reports whether a token is redeemable and for which email.
// GET /api/v1/invites/validate/{token}
func (h *InvitationHandler) Validate(w http.ResponseWriter, r *http.Request) {
	inv, err := h.store.GetInvitationByToken(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	if err := redeemableInvitation(inv); err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"valid":     true,
		"email":     inv.Email,
		"role":      inv.Role,
		"expiresAt": inv.ExpiresAt,
	})
}

type acceptInviteRequest struct {
	Token    string `json:"token" validate:"required"`
	Name     string `json:"name" validate:"required,max=255"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

// Accept redeems an invitation, creating the account and starting a
// session. The submitted email must match the invitee email.
// POST /api/v1/invites/accept
func (h *InvitationHandler) Accept(w http.ResponseWriter, r *http.Request) {
	var req acceptInviteRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteErrorMessage(w, http.StatusBadRequest, "Invalid request body", "VALIDATION")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		WriteError(w, r, err)
		return
	}

	ctx := r.Context()
	inv, err := h.store.GetInvitationByToken(ctx, req.Token)
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

	hash, err := models.HashPassword(req.Password, models.UserPasswordCost)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	user := &models.User{
		Name:         req.Name,
		Email:        req.Email,
		PasswordHash: hash,
		Role:         inv.Role,
	}
	if _, err := h.store.CreateUserAcceptingInvitation(ctx, user, inv.ID); err != nil {
		WriteError(w, r, err)
		return
	}

	token, err := h.jwt.GenerateToken(user)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	h.jwt.SetSessionCookie(w, token)
	WriteJSON(w, http.StatusCreated, user)
}
