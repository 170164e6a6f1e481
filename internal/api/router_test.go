package api

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/strongbox-io/strongbox/internal/api/auth"
	"github.com/strongbox-io/strongbox/pkg/abuse"
	"github.com/strongbox-io/strongbox/pkg/blob"
	"github.com/strongbox-io/strongbox/pkg/config"
	"github.com/strongbox-io/strongbox/pkg/crypto"
	"github.com/strongbox-io/strongbox/pkg/files"
	"github.com/strongbox-io/strongbox/pkg/mailer"
	"github.com/strongbox-io/strongbox/pkg/quota"
	"github.com/strongbox-io/strongbox/pkg/shares"
	"github.com/strongbox-io/strongbox/pkg/store"
)

const testOrigin = "http://localhost:5173"

func contentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

type testEnv struct {
	router   http.Handler
	blobRoot string
}

// newTestEnv builds the full router over an in-memory store and a
// temporary blob root.
func newTestEnv(t *testing.T, publicRegistration bool) *testEnv {
	t.Helper()

	st, err := store.New(&store.Config{
		Type: store.DatabaseTypeSQLite,
		SQLite: store.SQLiteConfig{
			Path: ":memory:",
		},
	})
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	blobRoot := t.TempDir()
	blobs, err := blob.New(blobRoot)
	if err != nil {
		t.Fatalf("failed to create blob store: %v", err)
	}
	masterKey := base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{7}, 32))
	crypt, err := crypto.New(masterKey)
	if err != nil {
		t.Fatalf("failed to create crypto service: %v", err)
	}
	acct := quota.New(blobRoot)

	jwtSvc, err := auth.NewJWTService(auth.JWTConfig{Secret: strings.Repeat("s", 32)})
	if err != nil {
		t.Fatalf("failed to create jwt service: %v", err)
	}

	cfg := &config.Config{}
	cfg.Server.FrontendURL = testOrigin
	cfg.Auth.PublicRegistration = publicRegistration
	cfg.Auth.InviteTokenTTLHours = 72
	cfg.RateLimit.TTL = time.Minute
	cfg.RateLimit.Max = 1000

	router := NewRouter(Deps{
		Config:  cfg,
		Store:   st,
		Files:   files.NewService(st, blobs, crypt, acct),
		Shares:  shares.NewService(st),
		Quota:   acct,
		Mailer:  mailer.New(st, config.EmailConfig{}),
		JWT:     jwtSvc,
		Limiter: abuse.NewLimiter(),
	})
	return &testEnv{router: router, blobRoot: blobRoot}
}

// do performs a request against the router. Mutating requests carry the
// frontend origin so the cross-origin check passes for cookie sessions.
func (e *testEnv) do(t *testing.T, method, path string, body any, cookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()

	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method != http.MethodGet {
		req.Header.Set("Origin", testOrigin)
	}
	if cookie != nil {
		req.AddCookie(cookie)
	}

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dst); err != nil {
		t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
	}
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == auth.SessionCookieName && c.Value != "" {
			return c
		}
	}
	t.Fatalf("no session cookie in response")
	return nil
}

// register creates an account through the API and returns the session
// cookie plus the decoded user.
func (e *testEnv) register(t *testing.T, name, email string) (*http.Cookie, map[string]any) {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/v1/auth/register", map[string]any{
		"name":     name,
		"email":    email,
		"password": "password123",
	}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("register %s = %d: %s", email, rec.Code, rec.Body.String())
	}
	var user map[string]any
	decodeBody(t, rec, &user)
	return sessionCookie(t, rec), user
}

// createUploadedFile creates file metadata and uploads content, returning
// the file ID.
func (e *testEnv) createUploadedFile(t *testing.T, cookie *http.Cookie, name string, content []byte) string {
	t.Helper()

	sum := contentHash(content)
	rec := e.do(t, http.MethodPost, "/api/v1/files", map[string]any{
		"name":        name,
		"mimeType":    "text/plain",
		"size":        len(content),
		"contentHash": sum,
	}, cookie)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create %s = %d: %s", name, rec.Code, rec.Body.String())
	}
	var created struct {
		ID        string `json:"id"`
		UploadURL string `json:"uploadUrl"`
	}
	decodeBody(t, rec, &created)
	if created.UploadURL == "" {
		t.Fatalf("expected upload URL for %s", name)
	}

	rec = e.upload(t, cookie, created.UploadURL, name, content)
	if rec.Code != http.StatusOK {
		t.Fatalf("upload %s = %d: %s", name, rec.Code, rec.Body.String())
	}
	return created.ID
}

// upload sends content as the multipart "file" field.
func (e *testEnv) upload(t *testing.T, cookie *http.Cookie, url, name string, content []byte) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		t.Fatalf("failed to create form file: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("failed to write part: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("failed to close multipart writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPut, url, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Origin", testOrigin)
	req.AddCookie(cookie)

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, false)
	rec := env.do(t, http.MethodGet, "/health", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("health = %d", rec.Code)
	}
	var resp map[string]string
	decodeBody(t, rec, &resp)
	if resp["status"] != "ok" {
		t.Errorf("status = %q", resp["status"])
	}
}

func TestBootstrapFlow(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(t, http.MethodGet, "/api/v1/auth/setup-status", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("setup-status = %d", rec.Code)
	}
	var status map[string]bool
	decodeBody(t, rec, &status)
	if !status["needsSetup"] {
		t.Error("expected needsSetup before first registration")
	}

	cookie, user := env.register(t, "Alice", "alice@example.com")
	if user["role"] != "owner" {
		t.Errorf("first account role = %v, want owner", user["role"])
	}

	rec = env.do(t, http.MethodGet, "/api/v1/auth/setup-status", nil, nil)
	decodeBody(t, rec, &status)
	if status["needsSetup"] {
		t.Error("needsSetup should clear after bootstrap")
	}

	t.Run("registration closed without invitation", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/v1/auth/register", map[string]any{
			"name":     "Bob",
			"email":    "bob@example.com",
			"password": "password123",
		}, nil)
		if rec.Code != http.StatusForbidden {
			t.Fatalf("register = %d, want 403", rec.Code)
		}
		var resp map[string]any
		decodeBody(t, rec, &resp)
		if resp["message"] != "Registration requires an invitation" {
			t.Errorf("unexpected message %q", resp["message"])
		}
	})

	t.Run("me requires session", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/v1/auth/me", nil, nil)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("me without cookie = %d, want 401", rec.Code)
		}
		rec = env.do(t, http.MethodGet, "/api/v1/auth/me", nil, cookie)
		if rec.Code != http.StatusOK {
			t.Fatalf("me with cookie = %d", rec.Code)
		}
		var me map[string]any
		decodeBody(t, rec, &me)
		if me["email"] != "alice@example.com" {
			t.Errorf("me email = %v", me["email"])
		}
	})
}

func TestLoginLogout(t *testing.T) {
	env := newTestEnv(t, true)
	env.register(t, "Alice", "alice@example.com")

	t.Run("wrong password", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/v1/auth/login", map[string]any{
			"email":    "alice@example.com",
			"password": "wrong-password",
		}, nil)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("login = %d, want 401", rec.Code)
		}
		var resp map[string]any
		decodeBody(t, rec, &resp)
		if resp["errorCode"] != "INVALID_CREDENTIALS" {
			t.Errorf("errorCode = %v", resp["errorCode"])
		}
	})

	t.Run("success sets session cookie", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/v1/auth/login", map[string]any{
			"email":    "Alice@Example.com",
			"password": "password123",
		}, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("login = %d: %s", rec.Code, rec.Body.String())
		}
		cookie := sessionCookie(t, rec)
		if !cookie.HttpOnly {
			t.Error("session cookie should be HttpOnly")
		}

		me := env.do(t, http.MethodGet, "/api/v1/auth/me", nil, cookie)
		if me.Code != http.StatusOK {
			t.Errorf("me after login = %d", me.Code)
		}

		out := env.do(t, http.MethodPost, "/api/v1/auth/logout", nil, cookie)
		if out.Code != http.StatusNoContent {
			t.Fatalf("logout = %d", out.Code)
		}
		for _, c := range out.Result().Cookies() {
			if c.Name == auth.SessionCookieName && c.MaxAge >= 0 {
				t.Error("logout should expire the session cookie")
			}
		}
	})

	t.Run("cookie session rejects cross-origin posts", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/v1/auth/login", map[string]any{
			"email":    "alice@example.com",
			"password": "password123",
		}, nil)
		cookie := sessionCookie(t, rec)

		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/logout", nil)
		req.AddCookie(cookie)
		res := httptest.NewRecorder()
		env.router.ServeHTTP(res, req)
		if res.Code != http.StatusForbidden {
			t.Errorf("logout without origin = %d, want 403", res.Code)
		}
	})
}

func TestInvitationFlow(t *testing.T) {
	env := newTestEnv(t, false)
	ownerCookie, _ := env.register(t, "Alice", "alice@example.com")

	rec := env.do(t, http.MethodPost, "/api/v1/invites", map[string]any{
		"email": "bob@example.com",
		"role":  "admin",
	}, ownerCookie)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create invite = %d: %s", rec.Code, rec.Body.String())
	}
	var created struct {
		Invitation struct {
			ID    string `json:"id"`
			Token string `json:"token"`
		} `json:"invitation"`
		InviteLink string `json:"inviteLink"`
	}
	decodeBody(t, rec, &created)
	token := created.Invitation.Token
	if token == "" {
		t.Fatal("invitation token missing")
	}
	if !strings.Contains(created.InviteLink, token) {
		t.Errorf("invite link %q does not carry the token", created.InviteLink)
	}

	t.Run("validate", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/v1/invites/validate/"+token, nil, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("validate = %d", rec.Code)
		}
		var resp map[string]any
		decodeBody(t, rec, &resp)
		if resp["valid"] != true || resp["email"] != "bob@example.com" {
			t.Errorf("unexpected validate response %v", resp)
		}
	})

	t.Run("register with wrong email is rejected", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/v1/auth/register", map[string]any{
			"name":        "Mallory",
			"email":       "mallory@example.com",
			"password":    "password123",
			"inviteToken": token,
		}, nil)
		if rec.Code != http.StatusForbidden {
			t.Errorf("register = %d, want 403", rec.Code)
		}
	})

	var bobCookie *http.Cookie
	t.Run("accept creates the account", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/v1/invites/accept", map[string]any{
			"token":    token,
			"name":     "Bob",
			"email":    "bob@example.com",
			"password": "password123",
		}, nil)
		if rec.Code != http.StatusCreated {
			t.Fatalf("accept = %d: %s", rec.Code, rec.Body.String())
		}
		var user map[string]any
		decodeBody(t, rec, &user)
		if user["role"] != "admin" {
			t.Errorf("accepted role = %v, want admin", user["role"])
		}
		bobCookie = sessionCookie(t, rec)
	})

	t.Run("token is single use", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/v1/invites/accept", map[string]any{
			"token":    token,
			"name":     "Bob Again",
			"email":    "bob@example.com",
			"password": "password123",
		}, nil)
		if rec.Code != http.StatusConflict {
			t.Errorf("second accept = %d, want 409", rec.Code)
		}
	})

	t.Run("admins cannot invite admins", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/v1/invites", map[string]any{
			"email": "carol@example.com",
			"role":  "admin",
		}, bobCookie)
		if rec.Code != http.StatusForbidden {
			t.Errorf("admin inviting admin = %d, want 403", rec.Code)
		}
	})

	t.Run("revoked invitation cannot be redeemed", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/v1/invites", map[string]any{
			"email": "dave@example.com",
		}, ownerCookie)
		if rec.Code != http.StatusCreated {
			t.Fatalf("create invite = %d", rec.Code)
		}
		var second struct {
			Invitation struct {
				ID    string `json:"id"`
				Token string `json:"token"`
			} `json:"invitation"`
		}
		decodeBody(t, rec, &second)

		rec = env.do(t, http.MethodPost, "/api/v1/invites/"+second.Invitation.ID+"/revoke", nil, ownerCookie)
		if rec.Code != http.StatusOK {
			t.Fatalf("revoke = %d: %s", rec.Code, rec.Body.String())
		}
		rec = env.do(t, http.MethodGet, "/api/v1/invites/validate/"+second.Invitation.Token, nil, nil)
		if rec.Code != http.StatusConflict {
			t.Errorf("validate revoked = %d, want 409", rec.Code)
		}
	})
}

func TestFileLifecycleOverAPI(t *testing.T) {
	env := newTestEnv(t, true)
	cookie, _ := env.register(t, "Alice", "alice@example.com")

	content := []byte("hello strongbox")
	fileID := env.createUploadedFile(t, cookie, "hello.txt", content)

	t.Run("list shows the file", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/v1/files", nil, cookie)
		if rec.Code != http.StatusOK {
			t.Fatalf("list = %d", rec.Code)
		}
		var resp struct {
			Items []map[string]any `json:"items"`
			Total int64            `json:"total"`
		}
		decodeBody(t, rec, &resp)
		if resp.Total != 1 || len(resp.Items) != 1 {
			t.Fatalf("list total = %d, items = %d", resp.Total, len(resp.Items))
		}
		if resp.Items[0]["name"] != "hello.txt" {
			t.Errorf("item name = %v", resp.Items[0]["name"])
		}
	})

	t.Run("download returns the plaintext", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/v1/files/"+fileID+"/download", nil, cookie)
		if rec.Code != http.StatusOK {
			t.Fatalf("download = %d: %s", rec.Code, rec.Body.String())
		}
		if !bytes.Equal(rec.Body.Bytes(), content) {
			t.Error("downloaded content does not match upload")
		}
		if cd := rec.Header().Get("Content-Disposition"); !strings.Contains(cd, "hello.txt") {
			t.Errorf("Content-Disposition = %q", cd)
		}
	})

	t.Run("non-ascii names carry both disposition forms", func(t *testing.T) {
		id := env.createUploadedFile(t, cookie, "héllo.txt", []byte("accented"))
		rec := env.do(t, http.MethodGet, "/api/v1/files/"+id+"/download", nil, cookie)
		if rec.Code != http.StatusOK {
			t.Fatalf("download = %d: %s", rec.Code, rec.Body.String())
		}
		cd := rec.Header().Get("Content-Disposition")
		if !strings.Contains(cd, `filename="h_llo.txt"`) {
			t.Errorf("missing ascii fallback in %q", cd)
		}
		if !strings.Contains(cd, `filename*=UTF-8''h%C3%A9llo.txt`) {
			t.Errorf("missing encoded form in %q", cd)
		}
	})

	t.Run("duplicate content is reported", func(t *testing.T) {
		sum := contentHash(content)

		rec := env.do(t, http.MethodPost, "/api/v1/files/check-duplicate", map[string]any{
			"fileHash": sum,
		}, cookie)
		if rec.Code != http.StatusOK {
			t.Fatalf("check-duplicate = %d", rec.Code)
		}
		var check map[string]any
		decodeBody(t, rec, &check)
		if check["isDuplicate"] != true {
			t.Error("expected duplicate to be reported")
		}

		rec = env.do(t, http.MethodPost, "/api/v1/files", map[string]any{
			"name":        "copy.txt",
			"mimeType":    "text/plain",
			"size":        len(content),
			"contentHash": sum,
		}, cookie)
		if rec.Code != http.StatusConflict {
			t.Fatalf("duplicate create = %d, want 409", rec.Code)
		}
		var resp map[string]any
		decodeBody(t, rec, &resp)
		if resp["errorCode"] != "DUPLICATE_CONTENT" {
			t.Errorf("errorCode = %v", resp["errorCode"])
		}
		if resp["details"] == nil {
			t.Error("expected match details on duplicate conflict")
		}
	})

	t.Run("trash and restore", func(t *testing.T) {
		rec := env.do(t, http.MethodDelete, "/api/v1/files/"+fileID, nil, cookie)
		if rec.Code != http.StatusOK {
			t.Fatalf("soft delete = %d: %s", rec.Code, rec.Body.String())
		}

		rec = env.do(t, http.MethodGet, "/api/v1/files/trash", nil, cookie)
		var trash struct {
			Items []map[string]any `json:"items"`
		}
		decodeBody(t, rec, &trash)
		if len(trash.Items) != 1 {
			t.Fatalf("trash items = %d, want 1", len(trash.Items))
		}

		rec = env.do(t, http.MethodPost, "/api/v1/files/"+fileID+"/restore", nil, cookie)
		if rec.Code != http.StatusOK {
			t.Fatalf("restore = %d: %s", rec.Code, rec.Body.String())
		}

		rec = env.do(t, http.MethodGet, "/api/v1/files/"+fileID+"/download", nil, cookie)
		if rec.Code != http.StatusOK {
			t.Errorf("download after restore = %d", rec.Code)
		}
	})

	t.Run("empty trash", func(t *testing.T) {
		rec := env.do(t, http.MethodDelete, "/api/v1/files/"+fileID, nil, cookie)
		if rec.Code != http.StatusOK {
			t.Fatalf("soft delete = %d", rec.Code)
		}
		rec = env.do(t, http.MethodDelete, "/api/v1/files/trash/empty", nil, cookie)
		if rec.Code != http.StatusOK {
			t.Fatalf("empty trash = %d: %s", rec.Code, rec.Body.String())
		}
		rec = env.do(t, http.MethodGet, "/api/v1/files/"+fileID+"/download", nil, cookie)
		if rec.Code != http.StatusNotFound {
			t.Errorf("download after purge = %d, want 404", rec.Code)
		}
	})
}

func TestQuotaOverAPI(t *testing.T) {
	env := newTestEnv(t, true)
	ownerCookie, _ := env.register(t, "Alice", "alice@example.com")
	bobCookie, bob := env.register(t, "Bob", "bob@example.com")
	bobID, _ := bob["id"].(string)
	if bobID == "" {
		t.Fatal("missing user id in register response")
	}

	t.Run("quota management requires admin", func(t *testing.T) {
		rec := env.do(t, http.MethodPatch, "/api/v1/storage/users/"+bobID+"/quota", map[string]any{
			"quotaBytes": 100,
		}, bobCookie)
		if rec.Code != http.StatusForbidden {
			t.Errorf("quota update as user = %d, want 403", rec.Code)
		}
	})

	rec := env.do(t, http.MethodPatch, "/api/v1/storage/users/"+bobID+"/quota", map[string]any{
		"quotaBytes": 100,
	}, ownerCookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("quota update = %d: %s", rec.Code, rec.Body.String())
	}

	t.Run("upload over quota is rejected", func(t *testing.T) {
		content := bytes.Repeat([]byte("x"), 200)
		rec := env.do(t, http.MethodPost, "/api/v1/files", map[string]any{
			"name":        "big.txt",
			"mimeType":    "text/plain",
			"size":        len(content),
			"contentHash": contentHash(content),
		}, bobCookie)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("over-quota create = %d, want 400", rec.Code)
		}
		var resp map[string]any
		decodeBody(t, rec, &resp)
		if resp["message"] != "Storage limit exceeded" {
			t.Errorf("message = %v", resp["message"])
		}
	})

	t.Run("within quota still works", func(t *testing.T) {
		env.createUploadedFile(t, bobCookie, "small.txt", []byte("under quota"))
	})

	t.Run("storage overview", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/v1/storage/overview", nil, ownerCookie)
		if rec.Code != http.StatusOK {
			t.Fatalf("overview = %d: %s", rec.Code, rec.Body.String())
		}
		var resp map[string]any
		decodeBody(t, rec, &resp)
		if resp["userCount"] != float64(2) {
			t.Errorf("userCount = %v, want 2", resp["userCount"])
		}
	})
}

func TestPublicShareOverAPI(t *testing.T) {
	env := newTestEnv(t, true)
	cookie, _ := env.register(t, "Alice", "alice@example.com")
	content := []byte("shared out loud")
	fileID := env.createUploadedFile(t, cookie, "shared.txt", content)

	t.Run("open share", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/v1/files/"+fileID+"/share", map[string]any{
			"isPublic": true,
		}, cookie)
		if rec.Code != http.StatusCreated {
			t.Fatalf("share = %d: %s", rec.Code, rec.Body.String())
		}
		var share struct {
			ShareToken string `json:"shareToken"`
			PublicLink string `json:"publicLink"`
		}
		decodeBody(t, rec, &share)
		if len(share.ShareToken) != 32 {
			t.Fatalf("token length = %d, want 32", len(share.ShareToken))
		}
		if share.PublicLink != testOrigin+"/share/"+share.ShareToken {
			t.Errorf("publicLink = %q", share.PublicLink)
		}

		meta := env.do(t, http.MethodGet, "/api/v1/public/share/"+share.ShareToken, nil, nil)
		if meta.Code != http.StatusOK {
			t.Fatalf("meta = %d: %s", meta.Code, meta.Body.String())
		}
		var metaResp struct {
			File        map[string]any `json:"file"`
			HasPassword bool           `json:"hasPassword"`
		}
		decodeBody(t, meta, &metaResp)
		if metaResp.HasPassword {
			t.Error("open share should not report a password")
		}
		if metaResp.File["name"] != "shared.txt" {
			t.Errorf("meta file name = %v", metaResp.File["name"])
		}
		if metaResp.File["hasContent"] != true {
			t.Error("uploaded file should report hasContent")
		}

		dl := env.do(t, http.MethodGet, "/api/v1/public/share/"+share.ShareToken+"/download", nil, nil)
		if dl.Code != http.StatusOK {
			t.Fatalf("download = %d", dl.Code)
		}
		if !bytes.Equal(dl.Body.Bytes(), content) {
			t.Error("public download content mismatch")
		}
	})

	t.Run("password protected share", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/v1/files/"+fileID+"/share", map[string]any{
			"isPublic": true,
			"password": "hunter22",
		}, cookie)
		if rec.Code != http.StatusCreated {
			t.Fatalf("share = %d: %s", rec.Code, rec.Body.String())
		}
		var share struct {
			ShareToken string `json:"shareToken"`
		}
		decodeBody(t, rec, &share)
		url := "/api/v1/public/share/" + share.ShareToken

		get := func(password string) *httptest.ResponseRecorder {
			req := httptest.NewRequest(http.MethodGet, url, nil)
			if password != "" {
				req.Header.Set("X-Share-Password", password)
			}
			res := httptest.NewRecorder()
			env.router.ServeHTTP(res, req)
			return res
		}

		res := get("")
		if res.Code != http.StatusForbidden {
			t.Fatalf("no password = %d, want 403", res.Code)
		}
		var resp map[string]any
		decodeBody(t, res, &resp)
		if resp["message"] != "This share requires a password" {
			t.Errorf("message = %v", resp["message"])
		}

		// Repeated wrong guesses back off with 429.
		for i := 0; i < 3; i++ {
			res = get("wrong-guess")
			if res.Code != http.StatusForbidden {
				t.Fatalf("wrong password attempt %d = %d, want 403", i+1, res.Code)
			}
		}
		res = get("wrong-guess")
		if res.Code != http.StatusTooManyRequests {
			t.Fatalf("after backoff = %d, want 429", res.Code)
		}
		if res.Header().Get("Retry-After") == "" {
			t.Error("429 should carry Retry-After")
		}
	})

	t.Run("correct password unlocks", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/v1/files/"+fileID+"/share", map[string]any{
			"isPublic": true,
			"password": "sesame99",
		}, cookie)
		var share struct {
			ShareToken string `json:"shareToken"`
		}
		decodeBody(t, rec, &share)

		req := httptest.NewRequest(http.MethodGet, "/api/v1/public/share/"+share.ShareToken+"/download", nil)
		req.Header.Set("X-Share-Password", "sesame99")
		res := httptest.NewRecorder()
		env.router.ServeHTTP(res, req)
		if res.Code != http.StatusOK {
			t.Fatalf("download with password = %d: %s", res.Code, res.Body.String())
		}
		if !bytes.Equal(res.Body.Bytes(), content) {
			t.Error("content mismatch")
		}
	})

	t.Run("folder share reports recursive size", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, "/api/v1/files", map[string]any{
			"name":     "album",
			"isFolder": true,
		}, cookie)
		if rec.Code != http.StatusCreated {
			t.Fatalf("create folder = %d: %s", rec.Code, rec.Body.String())
		}
		var folder struct {
			ID string `json:"id"`
		}
		decodeBody(t, rec, &folder)

		child := []byte("the bytes inside the album")
		rec = env.do(t, http.MethodPost, "/api/v1/files", map[string]any{
			"name":        "pic.txt",
			"mimeType":    "text/plain",
			"size":        len(child),
			"contentHash": contentHash(child),
			"parentId":    folder.ID,
		}, cookie)
		if rec.Code != http.StatusCreated {
			t.Fatalf("create child = %d: %s", rec.Code, rec.Body.String())
		}
		var created struct {
			UploadURL string `json:"uploadUrl"`
		}
		decodeBody(t, rec, &created)
		if up := env.upload(t, cookie, created.UploadURL, "pic.txt", child); up.Code != http.StatusOK {
			t.Fatalf("upload child = %d: %s", up.Code, up.Body.String())
		}

		rec = env.do(t, http.MethodPost, "/api/v1/files/"+folder.ID+"/share", map[string]any{
			"isPublic": true,
		}, cookie)
		if rec.Code != http.StatusCreated {
			t.Fatalf("share folder = %d: %s", rec.Code, rec.Body.String())
		}
		var share struct {
			ShareToken string `json:"shareToken"`
		}
		decodeBody(t, rec, &share)

		meta := env.do(t, http.MethodGet, "/api/v1/public/share/"+share.ShareToken, nil, nil)
		if meta.Code != http.StatusOK {
			t.Fatalf("meta = %d: %s", meta.Code, meta.Body.String())
		}
		var metaResp struct {
			File map[string]any `json:"file"`
		}
		decodeBody(t, meta, &metaResp)
		if metaResp.File["isFolder"] != true {
			t.Error("expected folder share")
		}
		if metaResp.File["size"] != float64(len(child)) {
			t.Errorf("folder size = %v, want %d", metaResp.File["size"], len(child))
		}
		if metaResp.File["hasContent"] != false {
			t.Error("folders must not report hasContent")
		}
	})

	t.Run("unknown token", func(t *testing.T) {
		res := env.do(t, http.MethodGet, "/api/v1/public/share/"+strings.Repeat("0", 32), nil, nil)
		if res.Code != http.StatusNotFound {
			t.Errorf("unknown token = %d, want 404", res.Code)
		}
	})
}

func TestPrivateShareOverAPI(t *testing.T) {
	env := newTestEnv(t, true)
	aliceCookie, _ := env.register(t, "Alice", "alice@example.com")
	bobCookie, _ := env.register(t, "Bob", "bob@example.com")
	carolCookie, _ := env.register(t, "Carol", "carol@example.com")

	content := []byte("for bob only")
	fileID := env.createUploadedFile(t, aliceCookie, "private.txt", content)

	rec := env.do(t, http.MethodPost, "/api/v1/files/"+fileID+"/share", map[string]any{
		"isPublic": false,
		"email":    "bob@example.com",
	}, aliceCookie)
	if rec.Code != http.StatusCreated {
		t.Fatalf("share = %d: %s", rec.Code, rec.Body.String())
	}
	var share struct {
		ID string `json:"id"`
	}
	decodeBody(t, rec, &share)

	t.Run("grantee sees and downloads", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/v1/files/shared", nil, bobCookie)
		if rec.Code != http.StatusOK {
			t.Fatalf("shared list = %d", rec.Code)
		}
		var list struct {
			Items []map[string]any `json:"items"`
		}
		decodeBody(t, rec, &list)
		if len(list.Items) != 1 {
			t.Fatalf("shared items = %d, want 1", len(list.Items))
		}

		dl := env.do(t, http.MethodGet, "/api/v1/files/shares/"+share.ID+"/download", nil, bobCookie)
		if dl.Code != http.StatusOK {
			t.Fatalf("grantee download = %d: %s", dl.Code, dl.Body.String())
		}
		if !bytes.Equal(dl.Body.Bytes(), content) {
			t.Error("grantee download content mismatch")
		}
	})

	t.Run("outsider cannot download", func(t *testing.T) {
		dl := env.do(t, http.MethodGet, "/api/v1/files/shares/"+share.ID+"/download", nil, carolCookie)
		if dl.Code != http.StatusNotFound {
			t.Errorf("outsider download = %d, want 404", dl.Code)
		}
	})

	t.Run("creator listing", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/v1/files/private-shares", nil, aliceCookie)
		if rec.Code != http.StatusOK {
			t.Fatalf("private-shares = %d", rec.Code)
		}
		var list struct {
			Items []map[string]any `json:"items"`
		}
		decodeBody(t, rec, &list)
		if len(list.Items) != 1 {
			t.Errorf("private shares = %d, want 1", len(list.Items))
		}
	})

	t.Run("revoke cuts access", func(t *testing.T) {
		rec := env.do(t, http.MethodDelete, "/api/v1/files/shares/"+share.ID, nil, aliceCookie)
		if rec.Code != http.StatusOK {
			t.Fatalf("revoke = %d: %s", rec.Code, rec.Body.String())
		}
		dl := env.do(t, http.MethodGet, "/api/v1/files/shares/"+share.ID+"/download", nil, bobCookie)
		if dl.Code != http.StatusNotFound {
			t.Errorf("download after revoke = %d, want 404", dl.Code)
		}
	})
}

func TestAdminRoutesOverAPI(t *testing.T) {
	env := newTestEnv(t, true)
	ownerCookie, _ := env.register(t, "Alice", "alice@example.com")
	userCookie, bob := env.register(t, "Bob", "bob@example.com")

	t.Run("plain users are blocked", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/v1/admin/users", nil, userCookie)
		if rec.Code != http.StatusForbidden {
			t.Errorf("admin list as user = %d, want 403", rec.Code)
		}
	})

	t.Run("owner lists users", func(t *testing.T) {
		rec := env.do(t, http.MethodGet, "/api/v1/admin/users", nil, ownerCookie)
		if rec.Code != http.StatusOK {
			t.Fatalf("admin list = %d: %s", rec.Code, rec.Body.String())
		}
	})

	t.Run("deleting a user reclaims their blobs", func(t *testing.T) {
		bobID, _ := bob["id"].(string)
		if bobID == "" {
			t.Fatal("missing user id in register response")
		}
		env.createUploadedFile(t, userCookie, "mine.txt", []byte("kept until the account goes"))

		ownerDir := filepath.Join(env.blobRoot, bobID)
		if _, err := os.Stat(ownerDir); err != nil {
			t.Fatalf("expected blob directory after upload: %v", err)
		}

		rec := env.do(t, http.MethodDelete, "/api/v1/admin/users/"+bobID, nil, ownerCookie)
		if rec.Code != http.StatusOK {
			t.Fatalf("delete user = %d: %s", rec.Code, rec.Body.String())
		}
		if _, err := os.Stat(ownerDir); !os.IsNotExist(err) {
			t.Errorf("blob directory should be gone, stat err = %v", err)
		}
	})
}

func TestLoginRateLimitOverAPI(t *testing.T) {
	env := newTestEnv(t, true)
	env.register(t, "Alice", "alice@example.com")

	body := map[string]any{"email": "alice@example.com", "password": "wrong-password"}
	var last *httptest.ResponseRecorder
	for i := 0; i < 6; i++ {
		last = env.do(t, http.MethodPost, "/api/v1/auth/login", body, nil)
	}
	if last.Code != http.StatusTooManyRequests {
		t.Fatalf("sixth login attempt = %d, want 429", last.Code)
	}
	if last.Header().Get("Retry-After") == "" {
		t.Error("429 should carry Retry-After")
	}
}
