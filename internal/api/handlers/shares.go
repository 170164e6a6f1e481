package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/strongbox-io/strongbox/internal/api/middleware"
	"github.com/strongbox-io/strongbox/pkg/abuse"
	"github.com/strongbox-io/strongbox/pkg/files"
	"github.com/strongbox-io/strongbox/pkg/models"
	"github.com/strongbox-io/strongbox/pkg/shares"
)

// SharePasswordHeader carries the password for protected public shares.
const SharePasswordHeader = "X-Share-Password"

// ShareHandler implements private shares, public links and the public
// unauthenticated endpoints.
type ShareHandler struct {
	shares   *shares.Service
	files    *files.Service
	limiter  *abuse.Limiter
	validate *validator.Validate

	frontendURL string
	trustProxy  bool
}

// NewShareHandler creates the share handler.
func NewShareHandler(shareSvc *shares.Service, fileSvc *files.Service, limiter *abuse.Limiter, frontendURL string, trustProxy bool) *ShareHandler {
	return &ShareHandler{
		shares:      shareSvc,
		files:       fileSvc,
		limiter:     limiter,
		validate:    validator.New(),
		frontendURL: frontendURL,
		trustProxy:  trustProxy,
	}
}

type createShareRequest struct {
	IsPublic   bool       `json:"isPublic"`
	Email      string     `json:"email,omitempty"`
	Permission string     `json:"permission,omitempty" validate:"omitempty,oneof=read write"`
	ExpiresAt  *time.Time `json:"expiresAt,omitempty"`
	Password   string     `json:"password,omitempty"`
}

type shareResponse struct {
	*models.Share
	PublicLink string `json:"publicLink,omitempty"`
}

func (h *ShareHandler) shareResponse(r *http.Request, share *models.Share) shareResponse {
	resp := shareResponse{Share: share}
	if share.IsPublic && share.ShareToken != nil {
		resp.PublicLink = shares.PublicLink(h.frontendURL, requestOrigin(r), *share.ShareToken)
	}
	return resp
}

// requestOrigin reconstructs the scheme://host origin of the request for
// the public link fallback when no frontend URL is configured.
func requestOrigin(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}

// Create shares a file, either with another user or as a public link.
// POST /api/v1/files/{id}/share
func (h *ShareHandler) Create(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())
	fileID := chi.URLParam(r, "id")

	var req createShareRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteErrorMessage(w, http.StatusBadRequest, "Invalid request body", "VALIDATION")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		WriteError(w, r, err)
		return
	}

	share, err := h.shares.Create(r.Context(), user, shares.CreateRequest{
		FileID:       fileID,
		IsPublic:     req.IsPublic,
		GranteeEmail: req.Email,
		Permission:   req.Permission,
		ExpiresAt:    req.ExpiresAt,
		Password:     req.Password,
	})
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusCreated, h.shareResponse(r, share))
}

// ListReceived returns private shares granted to the current user.
// GET /api/v1/files/shared
func (h *ShareHandler) ListReceived(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())
	list, err := h.shares.ListReceived(r.Context(), user.ID)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{"items": list})
}

// ListPublic returns public shares the current user created.
// GET /api/v1/files/public-shares
func (h *ShareHandler) ListPublic(w http.ResponseWriter, r *http.Request) {
	h.listCreated(w, r, true)
}

// ListPrivate returns private shares the current user created.
// GET /api/v1/files/private-shares
func (h *ShareHandler) ListPrivate(w http.ResponseWriter, r *http.Request) {
	h.listCreated(w, r, false)
}

func (h *ShareHandler) listCreated(w http.ResponseWriter, r *http.Request, isPublic bool) {
	user := middleware.UserFromContext(r.Context())
	list, err := h.shares.ListCreated(r.Context(), user.ID, &isPublic)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	items := make([]shareResponse, 0, len(list))
	for _, s := range list {
		items = append(items, h.shareResponse(r, s))
	}
	WriteJSON(w, http.StatusOK, map[string]any{"items": items})
}

type updatePublicSettingsRequest struct {
	Password      *string    `json:"password,omitempty"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`
	ClearPassword bool       `json:"clearPassword"`
	ClearExpiry   bool       `json:"clearExpiry"`
}

// UpdatePublicSettings sets or clears the password and expiry of a public
// share.
// PATCH /api/v1/files/shares/{id}/public-settings
func (h *ShareHandler) UpdatePublicSettings(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())
	shareID := chi.URLParam(r, "id")

	var req updatePublicSettingsRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteErrorMessage(w, http.StatusBadRequest, "Invalid request body", "VALIDATION")
		return
	}

	share, err := h.shares.UpdatePublicSettings(r.Context(), user.ID, shareID, shares.UpdateRequest{
		Password:      req.Password,
		ExpiresAt:     req.ExpiresAt,
		ClearPassword: req.ClearPassword,
		ClearExpiry:   req.ClearExpiry,
	})
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, h.shareResponse(r, share))
}

// Revoke deletes a share the current user created.
// DELETE /api/v1/files/shares/{id}
func (h *ShareHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())
	if err := h.shares.Revoke(r.Context(), user.ID, chi.URLParam(r, "id")); err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"message": "Share revoked"})
}

// DownloadShared streams a privately shared file to its grantee.
// GET /api/v1/files/shares/{id}/download
func (h *ShareHandler) DownloadShared(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())

	share, err := h.shares.GetForGrantee(r.Context(), user.ID, chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	h.streamSharedFile(w, r, share)
}

// PublicShareMeta returns the metadata behind a public link.
// GET /api/v1/public/share/{token}
func (h *ShareHandler) PublicShareMeta(w http.ResponseWriter, r *http.Request) {
	share, ok := h.resolvePublicShare(w, r)
	if !ok {
		return
	}

	// Folder records carry no size of their own; report the recursive
	// total so the landing page can show what a download pulls.
	size := share.File.Size
	if share.File.IsFolder {
		total, err := h.files.FolderSize(r.Context(), share.File.UserID, share.File.ID)
		if err != nil {
			WriteError(w, r, err)
			return
		}
		size = total
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"file": map[string]any{
			"name":       share.File.Name,
			"size":       size,
			"mimeType":   share.File.MimeType,
			"isFolder":   share.File.IsFolder,
			"hasContent": share.File.HasContent(),
		},
		"hasPassword": share.HasPassword(),
		"expiresAt":   share.ExpiresAt,
		"createdAt":   share.CreatedAt,
	})
}

// PublicShareDownload streams the content behind a public link. Folders
// stream as a ZIP archive, matching the authenticated download.
// GET /api/v1/public/share/{token}/download
func (h *ShareHandler) PublicShareDownload(w http.ResponseWriter, r *http.Request) {
	share, ok := h.resolvePublicShare(w, r)
	if !ok {
		return
	}
	h.streamSharedFile(w, r, share)
}

// resolvePublicShare looks up the token and enforces the password and the
// abuse limiter. It writes the error response itself when the share is
// not accessible.
func (h *ShareHandler) resolvePublicShare(w http.ResponseWriter, r *http.Request) (*models.Share, bool) {
	token := chi.URLParam(r, "token")

	share, err := h.shares.GetByToken(r.Context(), token)
	if err != nil {
		WriteError(w, r, err)
		return nil, false
	}
	if !share.HasPassword() {
		return share, true
	}

	password := r.Header.Get(SharePasswordHeader)
	if password == "" {
		WriteErrorMessage(w, http.StatusForbidden, "This share requires a password", "FORBIDDEN")
		return nil, false
	}

	ip := middleware.ClientIP(r, h.trustProxy)
	if res := h.limiter.Check(ip, token); !res.Allowed {
		w.Header().Set("Retry-After", strconv.Itoa(int(res.RetryAfter.Seconds())))
		WriteErrorMessage(w, http.StatusTooManyRequests, res.Reason, "RATE_LIMITED")
		return nil, false
	}

	if !h.shares.CheckPassword(share, password) {
		h.limiter.RecordFailure(ip, token)
		WriteError(w, r, models.ErrSharePassword)
		return nil, false
	}
	h.limiter.RecordSuccess(ip, token)
	return share, true
}

// streamSharedFile streams the file behind a share, as a ZIP when it is a
// folder. Shares grant access to files the requester does not own, so the
// lookup runs as the file's owner.
func (h *ShareHandler) streamSharedFile(w http.ResponseWriter, r *http.Request, share *models.Share) {
	file := share.File
	if file == nil {
		WriteError(w, r, models.ErrShareUnavailable)
		return
	}

	if file.IsFolder {
		setDownloadHeaders(w, file.Name+".zip", "application/zip", 0)
		_ = h.files.WriteFolderArchive(r.Context(), file.UserID, file.ID, w)
		return
	}

	data, err := h.files.Decrypt(r.Context(), file)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	setDownloadHeaders(w, file.Name, file.MimeType, int64(len(data)))
	_, _ = w.Write(data)
}
