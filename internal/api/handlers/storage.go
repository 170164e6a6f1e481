package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/strongbox-io/strongbox/pkg/quota"
	"github.com/strongbox-io/strongbox/pkg/store"
)

// StorageHandler implements storage usage reporting and quota management.
type StorageHandler struct {
	store    *store.GORMStore
	quota    *quota.Accountant
	validate *validator.Validate
}

// NewStorageHandler creates the storage handler.
func NewStorageHandler(st *store.GORMStore, acct *quota.Accountant) *StorageHandler {
	return &StorageHandler{store: st, quota: acct, validate: validator.New()}
}

// Overview reports system-wide capacity and usage.
// GET /api/v1/storage/overview
func (h *StorageHandler) Overview(w http.ResponseWriter, r *http.Request) {
	total, err := h.quota.TotalSpace()
	if err != nil {
		WriteError(w, r, err)
		return
	}
	free, err := h.quota.FreeSpace()
	if err != nil {
		WriteError(w, r, err)
		return
	}

	users, err := h.store.ListUsers(r.Context())
	if err != nil {
		WriteError(w, r, err)
		return
	}
	var used int64
	for _, u := range users {
		used += u.UsedBytes
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"totalBytes": total,
		"freeBytes":  free,
		"usedBytes":  used,
		"userCount":  len(users),
	})
}

// userUsage is the per-user slice of the storage report.
type userUsage struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	UsedBytes  int64  `json:"usedBytes"`
	QuotaBytes int64  `json:"quotaBytes"`
}

// Users reports per-user usage.
// GET /api/v1/storage/users
func (h *StorageHandler) Users(w http.ResponseWriter, r *http.Request) {
	users, err := h.store.ListUsers(r.Context())
	if err != nil {
		WriteError(w, r, err)
		return
	}
	items := make([]userUsage, 0, len(users))
	for _, u := range users {
		items = append(items, userUsage{
			ID:         u.ID,
			Name:       u.Name,
			Email:      u.Email,
			UsedBytes:  u.UsedBytes,
			QuotaBytes: u.QuotaBytes,
		})
	}
	WriteJSON(w, http.StatusOK, map[string]any{"items": items})
}

// User reports one user's usage.
// GET /api/v1/storage/users/{id}
func (h *StorageHandler) User(w http.ResponseWriter, r *http.Request) {
	u, err := h.store.GetUserByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, userUsage{
		ID:         u.ID,
		Name:       u.Name,
		Email:      u.Email,
		UsedBytes:  u.UsedBytes,
		QuotaBytes: u.QuotaBytes,
	})
}

type updateQuotaRequest struct {
	QuotaBytes int64 `json:"quotaBytes" validate:"gte=0"`
}

// UpdateQuota sets a user's quota. Zero means unlimited. The quota cannot
// go below current usage or beyond what the disk can still hold.
// PATCH /api/v1/storage/users/{id}/quota
func (h *StorageHandler) UpdateQuota(w http.ResponseWriter, r *http.Request) {
	var req updateQuotaRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteErrorMessage(w, http.StatusBadRequest, "Invalid request body", "VALIDATION")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		WriteError(w, r, err)
		return
	}

	free, err := h.quota.FreeSpace()
	if err != nil {
		WriteError(w, r, err)
		return
	}

	u, err := h.store.UpdateQuota(r.Context(), chi.URLParam(r, "id"), req.QuotaBytes, free)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, u)
}
