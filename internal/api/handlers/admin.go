package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/strongbox-io/strongbox/internal/api/middleware"
	"github.com/strongbox-io/strongbox/internal/logger"
	"github.com/strongbox-io/strongbox/pkg/files"
	"github.com/strongbox-io/strongbox/pkg/models"
	"github.com/strongbox-io/strongbox/pkg/store"
)

// AdminHandler implements user administration.
type AdminHandler struct {
	store    *store.GORMStore
	files    *files.Service
	validate *validator.Validate
}

// NewAdminHandler creates the admin handler.
func NewAdminHandler(st *store.GORMStore, fileSvc *files.Service) *AdminHandler {
	return &AdminHandler{store: st, files: fileSvc, validate: validator.New()}
}

// ListUsers returns all accounts.
// GET /api/v1/admin/users
func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.ListUsers(r.Context())
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"items": users})
}

type updateUserRequest struct {
	Name       *string `json:"name,omitempty" validate:"omitempty,max=255"`
	Email      *string `json:"email,omitempty" validate:"omitempty,email"`
	Role       *string `json:"role,omitempty" validate:"omitempty,oneof=user admin owner"`
	QuotaBytes *int64  `json:"quotaBytes,omitempty" validate:"omitempty,gte=0"`
}

// UpdateUser updates another account. Actors cannot touch accounts at or
// above their own rank, nor grant a role above their own.
// PUT /api/v1/admin/users/{id}
func (h *AdminHandler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	actor := middleware.UserFromContext(r.Context())

	var req updateUserRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteErrorMessage(w, http.StatusBadRequest, "Invalid request body", "VALIDATION")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		WriteError(w, r, err)
		return
	}

	target, err := h.store.GetUserByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	if target.ID != actor.ID && target.GetRole().Rank() >= actor.GetRole().Rank() {
		WriteErrorMessage(w, http.StatusForbidden, "Insufficient permissions", "FORBIDDEN")
		return
	}

	if req.Name != nil {
		target.Name = *req.Name
	}
	if req.Email != nil {
		target.Email = models.NormalizeEmail(*req.Email)
	}
	if req.Role != nil {
		role := models.UserRole(*req.Role)
		if role.Rank() > actor.GetRole().Rank() {
			WriteErrorMessage(w, http.StatusForbidden, "Cannot grant a role above your own", "FORBIDDEN")
			return
		}
		target.Role = string(role)
	}
	if req.QuotaBytes != nil {
		target.QuotaBytes = *req.QuotaBytes
	}

	if err := h.store.UpdateUser(r.Context(), target); err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, target)
}

// DeleteUser removes an account with its files, shares and invitations.
// The owner account and the actor's own account cannot be deleted.
// DELETE /api/v1/admin/users/{id}
func (h *AdminHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	actor := middleware.UserFromContext(r.Context())
	targetID := chi.URLParam(r, "id")

	if targetID == actor.ID {
		WriteErrorMessage(w, http.StatusBadRequest, "Cannot delete your own account", "VALIDATION")
		return
	}
	target, err := h.store.GetUserByID(r.Context(), targetID)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	if target.GetRole().Rank() >= actor.GetRole().Rank() {
		WriteErrorMessage(w, http.StatusForbidden, "Insufficient permissions", "FORBIDDEN")
		return
	}

	if err := h.store.DeleteUser(r.Context(), targetID); err != nil {
		WriteError(w, r, err)
		return
	}
	// The rows are gone; reclaim the user's blob directory. Dedup never
	// crosses owners, so nothing else can reference these blobs.
	if err := h.files.PurgeUserBlobs(targetID); err != nil {
		logger.Warn("failed to purge blobs of deleted user", "user_id", targetID, "error", err)
	}
	logger.Info("user deleted", "user_id", targetID, "deleted_by", actor.ID)
	WriteJSON(w, http.StatusOK, map[string]string{"message": "User deleted"})
}
