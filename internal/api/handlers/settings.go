package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/strongbox-io/strongbox/pkg/mailer"
	"github.com/strongbox-io/strongbox/pkg/models"
	"github.com/strongbox-io/strongbox/pkg/store"
)

// SettingsHandler implements the system settings bag and the SMTP
// configuration living inside it.
type SettingsHandler struct {
	store    *store.GORMStore
	mailer   *mailer.Mailer
	validate *validator.Validate
}

// NewSettingsHandler creates the settings handler.
func NewSettingsHandler(st *store.GORMStore, m *mailer.Mailer) *SettingsHandler {
	return &SettingsHandler{store: st, mailer: m, validate: validator.New()}
}

// List returns all settings except the SMTP credentials.
// GET /api/v1/settings
func (h *SettingsHandler) List(w http.ResponseWriter, r *http.Request) {
	settings, err := h.store.ListSettings(r.Context())
	if err != nil {
		WriteError(w, r, err)
		return
	}
	values := make(map[string]string, len(settings))
	for _, s := range settings {
		if strings.HasPrefix(s.Key, "smtp.") {
			continue
		}
		values[s.Key] = s.Value
	}
	WriteJSON(w, http.StatusOK, values)
}

// Set updates settings from a key-value map. SMTP keys go through the
// dedicated endpoint.
// PUT /api/v1/settings
func (h *SettingsHandler) Set(w http.ResponseWriter, r *http.Request) {
	var values map[string]string
	if err := decodeJSON(r, &values); err != nil {
		WriteErrorMessage(w, http.StatusBadRequest, "Invalid request body", "VALIDATION")
		return
	}
	for key := range values {
		if strings.HasPrefix(key, "smtp.") {
			WriteErrorMessage(w, http.StatusBadRequest, "SMTP settings are managed via /settings/smtp", "VALIDATION")
			return
		}
	}

	if err := h.store.SetSettings(r.Context(), values); err != nil {
		WriteError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"message": "Settings updated"})
}

// smtpSettingsResponse never carries the password back out.
type smtpSettingsResponse struct {
	Enabled     bool   `json:"enabled"`
	Host        string `json:"host"`
	Port        int    `json:"port"`
	User        string `json:"user"`
	From        string `json:"from"`
	Secure      bool   `json:"secure"`
	HasPassword bool   `json:"hasPassword"`
}

// GetSMTP returns the SMTP configuration with the password redacted.
// GET /api/v1/settings/smtp
func (h *SettingsHandler) GetSMTP(w http.ResponseWriter, r *http.Request) {
	get := func(key string) string {
		v, _ := h.store.GetSetting(r.Context(), key)
		return v
	}

	port, _ := strconv.Atoi(get(models.SettingSMTPPort))
	WriteJSON(w, http.StatusOK, smtpSettingsResponse{
		Enabled:     get(models.SettingSMTPEnabled) == "true",
		Host:        get(models.SettingSMTPHost),
		Port:        port,
		User:        get(models.SettingSMTPUser),
		From:        get(models.SettingSMTPFrom),
		Secure:      get(models.SettingSMTPSecure) == "true",
		HasPassword: get(models.SettingSMTPPassword) != "",
	})
}

type smtpSettingsRequest struct {
	Enabled  bool    `json:"enabled"`
	Host     string  `json:"host" validate:"required_if=Enabled true"`
	Port     int     `json:"port" validate:"omitempty,min=1,max=65535"`
	User     string  `json:"user"`
	Password *string `json:"password,omitempty"`
	From     string  `json:"from" validate:"required_if=Enabled true,omitempty,email"`
	Secure   bool    `json:"secure"`
}

// SetSMTP updates the SMTP configuration and invalidates the cached mail
// transport. An absent password keeps the stored one.
// PUT /api/v1/settings/smtp
func (h *SettingsHandler) SetSMTP(w http.ResponseWriter, r *http.Request) {
	var req smtpSettingsRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteErrorMessage(w, http.StatusBadRequest, "Invalid request body", "VALIDATION")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		WriteError(w, r, err)
		return
	}

	values := map[string]string{
		models.SettingSMTPEnabled: strconv.FormatBool(req.Enabled),
		models.SettingSMTPHost:    req.Host,
		models.SettingSMTPPort:    strconv.Itoa(req.Port),
		models.SettingSMTPUser:    req.User,
		models.SettingSMTPFrom:    req.From,
		models.SettingSMTPSecure:  strconv.FormatBool(req.Secure),
	}
	if req.Password != nil {
		values[models.SettingSMTPPassword] = *req.Password
	}

	if err := h.store.SetSettings(r.Context(), values); err != nil {
		WriteError(w, r, err)
		return
	}
	h.mailer.Invalidate()
	WriteJSON(w, http.StatusOK, map[string]string{"message": "SMTP settings updated"})
}

type smtpTestRequest struct {
	To string `json:"to" validate:"required,email"`
}

// TestSMTP sends a test message with the current configuration.
// POST /api/v1/settings/smtp/test
func (h *SettingsHandler) TestSMTP(w http.ResponseWriter, r *http.Request) {
	var req smtpTestRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteErrorMessage(w, http.StatusBadRequest, "Invalid request body", "VALIDATION")
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		WriteError(w, r, err)
		return
	}

	if err := h.mailer.SendTest(r.Context(), req.To); err != nil {
		WriteErrorMessage(w, http.StatusBadGateway, "Test mail failed: "+err.Error(), "SMTP")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"message": "Test mail sent"})
}
