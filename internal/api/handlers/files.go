package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/strongbox-io/strongbox/internal/api/middleware"
	"github.com/strongbox-io/strongbox/pkg/files"
	"github.com/strongbox-io/strongbox/pkg/models"
	"github.com/strongbox-io/strongbox/pkg/store"
)

// FileHandler implements the file metadata and content endpoints.
type FileHandler struct {
	files    *files.Service
	validate *validator.Validate
}

// NewFileHandler creates the file handler.
func NewFileHandler(svc *files.Service) *FileHandler {
	return &FileHandler{files: svc, validate: validator.New()}
}

// paginatedResponse wraps list endpoints.
type paginatedResponse struct {
	Items any   `json:"items"`
	Total int64 `json:"total"`
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
}

// List returns the user's active files.
// GET /api/v1/files?page&limit&search&parentId
func (h *FileHandler) List(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())
	params := listParams(r, user.ID)

	q := r.URL.Query()
	if parentID := q.Get("parentId"); parentID != "" {
		params.ParentID = &parentID
	} else {
		params.RootOnly = true
	}

	items, total, err := h.files.List(r.Context(), params)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, paginatedResponse{Items: items, Total: total, Page: params.Page, Limit: params.Limit})
}

func listParams(r *http.Request, userID string) store.ListFilesParams {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	return store.ListFilesParams{
		UserID: userID,
		Page:   page,
		Limit:  limit,
		Search: q.Get("search"),
	}
}

type createFileRequest struct {
	Name               string  `json:"name" validate:"required"`
	MimeType           string  `json:"mimeType"`
	Size               int64   `json:"size" validate:"gte=0"`
	ParentID           *string `json:"parentId,omitempty"`
	IsFolder           bool    `json:"isFolder"`
	ContentHash        *string `json:"contentHash,omitempty"`
	SkipDuplicateCheck bool    `json:"skipDuplicateCheck"`
}

type createFileResponse struct {
	*models.File
	UploadURL string `json:"uploadUrl,omitempty"`
}

// Create registers file or folder metadata. Files that need content get a
// relative upload URL back.
// POST /api/v1/files
func (h *FileHandler) Create(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())

	var req createFileRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteErrorMessage(w, http.StatusBadRequest, "Invalid request body", "VALIDATION")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		WriteError(w, r, err)
		return
	}

	result, err := h.files.Create(r.Context(), user, files.CreateRequest{
		Name:               req.Name,
		MimeType:           req.MimeType,
		Size:               req.Size,
		ParentID:           req.ParentID,
		IsFolder:           req.IsFolder,
		ContentHash:        req.ContentHash,
		SkipDuplicateCheck: req.SkipDuplicateCheck,
	})
	if err != nil {
		WriteError(w, r, err)
		return
	}

	resp := createFileResponse{File: result.File}
	if result.NeedsUpload {
		resp.UploadURL = "/api/v1/files/" + result.File.ID + "/upload"
	}
	WriteJSON(w, http.StatusCreated, resp)
}

type checkDuplicateRequest struct {
	FileHash string `json:"fileHash" validate:"required"`
	FileName string `json:"fileName,omitempty"`
}

// CheckDuplicate reports existing active files with the same content hash.
// POST /api/v1/files/check-duplicate
func (h *FileHandler) CheckDuplicate(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())

	var req checkDuplicateRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteErrorMessage(w, http.StatusBadRequest, "Invalid request body", "VALIDATION")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		WriteError(w, r, err)
		return
	}

	matches, err := h.files.CheckDuplicate(r.Context(), user.ID, req.FileHash)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"isDuplicate": len(matches) > 0,
		"matches":     matches,
	})
}

// Upload receives the file content as multipart field "file", encrypts it
// and stores the blob.
// PUT /api/v1/files/{id}/upload
func (h *FileHandler) Upload(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())
	fileID := chi.URLParam(r, "id")

	// One byte of headroom past the cap turns an at-limit body into a
	// clean 413 instead of a truncated read.
	r.Body = http.MaxBytesReader(w, r.Body, files.MaxUploadBytes+maxMultipartOverhead)

	src, _, err := r.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			WriteError(w, r, files.ErrTooLarge)
			return
		}
		WriteErrorMessage(w, http.StatusBadRequest, "Multipart field 'file' is required", "VALIDATION")
		return
	}
	defer src.Close()

	data, err := io.ReadAll(io.LimitReader(src, files.MaxUploadBytes+1))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	if int64(len(data)) > files.MaxUploadBytes {
		WriteError(w, r, files.ErrTooLarge)
		return
	}

	file, err := h.files.Upload(r.Context(), user.ID, fileID, data)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, file)
}

// maxMultipartOverhead covers boundaries and part headers around a
// maximum-size file part.
const maxMultipartOverhead = 16 << 10

// Download streams the decrypted content; folders stream as a ZIP archive.
// GET /api/v1/files/{id}/download
func (h *FileHandler) Download(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())
	fileID := chi.URLParam(r, "id")

	file, err := h.files.Get(r.Context(), user.ID, fileID)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	if file.IsFolder {
		setDownloadHeaders(w, file.Name+".zip", "application/zip", 0)
		if err := h.files.WriteFolderArchive(r.Context(), user.ID, fileID, w); err != nil {
			// Headers are gone; the truncated archive is all we can signal.
			return
		}
		return
	}

	file, data, err := h.files.Download(r.Context(), user.ID, fileID)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	setDownloadHeaders(w, file.Name, file.MimeType, int64(len(data)))
	_, _ = w.Write(data)
}

// setDownloadHeaders writes the disposition carrying both a quoted ASCII
// fallback filename and the RFC 5987 encoded form, so legacy clients and
// non-ASCII names both resolve.
func setDownloadHeaders(w http.ResponseWriter, name, contentType string, size int64) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	disposition := fmt.Sprintf(`attachment; filename="%s"; filename*=UTF-8''%s`,
		asciiFilename(name), url.PathEscape(name))
	w.Header().Set("Content-Disposition", disposition)
	if size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
	}
}

// asciiFilename substitutes characters a quoted-string filename cannot
// carry, keeping the fallback parseable everywhere.
func asciiFilename(name string) string {
	return strings.Map(func(r rune) rune {
		if r < 0x20 || r > 0x7e || r == '"' || r == '\\' {
			return '_'
		}
		return r
	}, name)
}

type renameRequest struct {
	Name string `json:"name" validate:"required"`
}

// Rename changes a file or folder name.
// PATCH /api/v1/files/{id}
func (h *FileHandler) Rename(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())
	fileID := chi.URLParam(r, "id")

	var req renameRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteErrorMessage(w, http.StatusBadRequest, "Invalid request body", "VALIDATION")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		WriteError(w, r, err)
		return
	}

	file, err := h.files.Rename(r.Context(), user.ID, fileID, req.Name)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, file)
}

// SoftDelete moves a file to the trash.
// DELETE /api/v1/files/{id}
func (h *FileHandler) SoftDelete(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())
	if err := h.files.SoftDelete(r.Context(), user.ID, chi.URLParam(r, "id")); err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"message": "File moved to trash"})
}

type bulkDeleteRequest struct {
	IDs []string `json:"ids" validate:"required,min=1,dive,required"`
}

// BulkDelete trashes several files at once.
// DELETE /api/v1/files/bulk
func (h *FileHandler) BulkDelete(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())

	var req bulkDeleteRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteErrorMessage(w, http.StatusBadRequest, "Invalid request body", "VALIDATION")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		WriteError(w, r, err)
		return
	}

	if err := h.files.BulkSoftDelete(r.Context(), user.ID, req.IDs); err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"message": "Files moved to trash"})
}

// Restore brings a trashed file back.
// POST /api/v1/files/{id}/restore
func (h *FileHandler) Restore(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())
	file, err := h.files.Restore(r.Context(), user.ID, chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, file)
}

// PermanentDelete removes a trashed file for good.
// DELETE /api/v1/files/{id}/permanent
func (h *FileHandler) PermanentDelete(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())
	if err := h.files.PermanentDelete(r.Context(), user.ID, chi.URLParam(r, "id")); err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"message": "File permanently deleted"})
}

// ListTrash returns the user's trashed files.
// GET /api/v1/files/trash
func (h *FileHandler) ListTrash(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))

	items, total, err := h.files.ListTrash(r.Context(), user.ID, page, limit)
	if err != nil {
		WriteError(w, r, err)
		return
	}
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = store.DefaultPageLimit
	}
	WriteJSON(w, http.StatusOK, paginatedResponse{Items: items, Total: total, Page: page, Limit: limit})
}

// EmptyTrash permanently deletes everything in the trash.
// DELETE /api/v1/files/trash/empty
func (h *FileHandler) EmptyTrash(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())
	if err := h.files.EmptyTrash(r.Context(), user.ID); err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"message": "Trash emptied"})
}
