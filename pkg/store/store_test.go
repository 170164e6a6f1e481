package store

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/strongbox-io/strongbox/pkg/models"
)

// createTestStore creates an in-memory SQLite store for testing.
func createTestStore(t *testing.T) *GORMStore {
	t.Helper()
	s, err := New(&Config{
		Type: DatabaseTypeSQLite,
		SQLite: SQLiteConfig{
			Path: ":memory:",
		},
	})
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func createTestUser(t *testing.T, s *GORMStore, email string) *models.User {
	t.Helper()
	hash, err := models.HashPassword("password123", 4)
	if err != nil {
		t.Fatalf("failed to hash password: %v", err)
	}
	user := &models.User{
		Name:         "Test User",
		Email:        email,
		PasswordHash: hash,
		Role:         string(models.RoleUser),
	}
	if _, err := s.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("failed to create user: %v", err)
	}
	return user
}

func strptr(s string) *string { return &s }

func TestNew(t *testing.T) {
	t.Run("default config uses sqlite", func(t *testing.T) {
		config := &Config{}
		config.ApplyDefaults()
		if config.Type != DatabaseTypeSQLite {
			t.Errorf("expected sqlite, got %s", config.Type)
		}
	})

	t.Run("invalid config returns error", func(t *testing.T) {
		if _, err := New(&Config{Type: "invalid"}); err == nil {
			t.Error("expected error for invalid config")
		}
	})
}

func TestUserOperations(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	t.Run("email is normalized on create", func(t *testing.T) {
		user := createTestUser(t, s, "Alice@Example.COM")
		if user.Email != "alice@example.com" {
			t.Errorf("expected normalized email, got %q", user.Email)
		}

		got, err := s.GetUserByEmail(ctx, "ALICE@example.com")
		if err != nil {
			t.Fatalf("lookup by mixed-case email failed: %v", err)
		}
		if got.ID != user.ID {
			t.Errorf("expected user %s, got %s", user.ID, got.ID)
		}
	})

	t.Run("duplicate email fails", func(t *testing.T) {
		hash, _ := models.HashPassword("password123", 4)
		_, err := s.CreateUser(ctx, &models.User{
			Name:         "Dup",
			Email:        "alice@example.com",
			PasswordHash: hash,
		})
		if !errors.Is(err, models.ErrDuplicateEmail) {
			t.Errorf("expected ErrDuplicateEmail, got %v", err)
		}
	})

	t.Run("validate credentials", func(t *testing.T) {
		user, err := s.ValidateCredentials(ctx, "alice@example.com", "password123")
		if err != nil {
			t.Fatalf("valid credentials rejected: %v", err)
		}
		if user.Email != "alice@example.com" {
			t.Errorf("unexpected user %q", user.Email)
		}

		if _, err := s.ValidateCredentials(ctx, "alice@example.com", "wrong"); !errors.Is(err, models.ErrInvalidCredentials) {
			t.Errorf("expected ErrInvalidCredentials for wrong password, got %v", err)
		}
		if _, err := s.ValidateCredentials(ctx, "nobody@example.com", "password123"); !errors.Is(err, models.ErrInvalidCredentials) {
			t.Errorf("expected ErrInvalidCredentials for unknown email, got %v", err)
		}
	})

	t.Run("count users", func(t *testing.T) {
		count, err := s.CountUsers(ctx)
		if err != nil {
			t.Fatalf("count failed: %v", err)
		}
		if count != 1 {
			t.Errorf("expected 1 user, got %d", count)
		}
	})

	t.Run("get missing user", func(t *testing.T) {
		if _, err := s.GetUserByID(ctx, "missing"); !errors.Is(err, models.ErrUserNotFound) {
			t.Errorf("expected ErrUserNotFound, got %v", err)
		}
	})
}

func TestUpdateQuota(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	user := createTestUser(t, s, "quota@example.com")

	// Simulate existing usage.
	if err := s.DB().Model(&models.User{}).Where("id = ?", user.ID).Update("used_bytes", 500).Error; err != nil {
		t.Fatalf("failed to set usage: %v", err)
	}

	t.Run("quota below usage is rejected", func(t *testing.T) {
		_, err := s.UpdateQuota(ctx, user.ID, 400, 1<<30)
		if !errors.Is(err, models.ErrQuotaBelowUsage) {
			t.Errorf("expected ErrQuotaBelowUsage, got %v", err)
		}
	})

	t.Run("quota beyond capacity is rejected", func(t *testing.T) {
		_, err := s.UpdateQuota(ctx, user.ID, 2000, 1000)
		if !errors.Is(err, models.ErrQuotaExceedsCapacity) {
			t.Errorf("expected ErrQuotaExceedsCapacity, got %v", err)
		}
	})

	t.Run("valid quota is stored", func(t *testing.T) {
		updated, err := s.UpdateQuota(ctx, user.ID, 1200, 1000)
		if err != nil {
			t.Fatalf("update failed: %v", err)
		}
		if updated.QuotaBytes != 1200 {
			t.Errorf("expected quota 1200, got %d", updated.QuotaBytes)
		}
	})

	t.Run("zero means unlimited and always passes", func(t *testing.T) {
		updated, err := s.UpdateQuota(ctx, user.ID, 0, 0)
		if err != nil {
			t.Fatalf("update failed: %v", err)
		}
		if updated.QuotaBytes != 0 {
			t.Errorf("expected quota 0, got %d", updated.QuotaBytes)
		}
	})
}

func TestFileQuotaAccounting(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	user := createTestUser(t, s, "files@example.com")

	file := &models.File{
		UserID:      user.ID,
		Name:        "report.pdf",
		MimeType:    "application/pdf",
		Size:        1000,
		ContentHash: strptr("hash-1"),
		StoragePath: strptr("ab/cd/blob-1"),
	}
	if err := s.CreateFile(ctx, file, true); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	u, _ := s.GetUserByID(ctx, user.ID)
	if u.UsedBytes != 1000 {
		t.Errorf("expected 1000 used bytes after upload, got %d", u.UsedBytes)
	}

	// Deduplicated copy pointing at the same blob.
	copyFile := &models.File{
		UserID:      user.ID,
		Name:        "report-copy.pdf",
		MimeType:    "application/pdf",
		Size:        1000,
		ContentHash: strptr("hash-1"),
		StoragePath: strptr("ab/cd/blob-1"),
	}
	if err := s.CreateFile(ctx, copyFile, true); err != nil {
		t.Fatalf("create copy failed: %v", err)
	}
	u, _ = s.GetUserByID(ctx, user.ID)
	if u.UsedBytes != 2000 {
		t.Errorf("expected 2000 used bytes with two records, got %d", u.UsedBytes)
	}

	t.Run("delete with surviving reference keeps the blob", func(t *testing.T) {
		deleted, deleteBlob, err := s.PermanentDeleteFile(ctx, user.ID, copyFile.ID)
		if err != nil {
			t.Fatalf("delete failed: %v", err)
		}
		if deleteBlob {
			t.Error("blob must survive while another record references it")
		}
		if deleted.ID != copyFile.ID {
			t.Errorf("unexpected deleted record %s", deleted.ID)
		}

		// Quota only drops when the blob goes away.
		u, _ := s.GetUserByID(ctx, user.ID)
		if u.UsedBytes != 2000 {
			t.Errorf("expected usage unchanged at 2000, got %d", u.UsedBytes)
		}
	})

	t.Run("deleting the last reference releases blob and quota", func(t *testing.T) {
		_, deleteBlob, err := s.PermanentDeleteFile(ctx, user.ID, file.ID)
		if err != nil {
			t.Fatalf("delete failed: %v", err)
		}
		if !deleteBlob {
			t.Error("expected blob deletion for the last reference")
		}
		u, _ := s.GetUserByID(ctx, user.ID)
		if u.UsedBytes != 1000 {
			t.Errorf("expected usage 1000 after releasing one blob, got %d", u.UsedBytes)
		}
	})
}

func TestCreateFileEnforcesQuota(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	user := createTestUser(t, s, "limited@example.com")
	if err := s.DB().Model(&models.User{}).Where("id = ?", user.ID).Update("quota_bytes", 100).Error; err != nil {
		t.Fatalf("failed to set quota: %v", err)
	}

	first := &models.File{UserID: user.ID, Name: "a.bin", Size: 60, StoragePath: strptr("q/one")}
	if err := s.CreateFile(ctx, first, true); err != nil {
		t.Fatalf("create within quota failed: %v", err)
	}

	t.Run("overshoot is rejected in the same transaction", func(t *testing.T) {
		second := &models.File{UserID: user.ID, Name: "b.bin", Size: 60, StoragePath: strptr("q/two")}
		if err := s.CreateFile(ctx, second, true); !errors.Is(err, models.ErrQuotaExceeded) {
			t.Fatalf("expected ErrQuotaExceeded, got %v", err)
		}

		// Neither the record nor the charge survives.
		u, _ := s.GetUserByID(ctx, user.ID)
		if u.UsedBytes != 60 {
			t.Errorf("expected usage unchanged at 60, got %d", u.UsedBytes)
		}
		if _, total, err := s.ListFiles(ctx, ListFilesParams{UserID: user.ID}); err != nil || total != 1 {
			t.Errorf("expected 1 surviving record, got %d (err %v)", total, err)
		}
	})

	t.Run("owner bypasses the quota", func(t *testing.T) {
		boss := createTestUser(t, s, "boss@example.com")
		if err := s.DB().Model(&models.User{}).Where("id = ?", boss.ID).
			Updates(map[string]any{"role": string(models.RoleOwner), "quota_bytes": 10}).Error; err != nil {
			t.Fatalf("failed to promote user: %v", err)
		}
		big := &models.File{UserID: boss.ID, Name: "big.bin", Size: 1000, StoragePath: strptr("q/three")}
		if err := s.CreateFile(ctx, big, true); err != nil {
			t.Errorf("owner create failed: %v", err)
		}
	})
}

func TestSoftDeleteAndRestore(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	user := createTestUser(t, s, "trash@example.com")

	newFile := func(name, path string) *models.File {
		f := &models.File{
			UserID:      user.ID,
			Name:        name,
			Size:        10,
			ContentHash: strptr("h"),
			StoragePath: strptr(path),
		}
		if err := s.CreateFile(ctx, f, true); err != nil {
			t.Fatalf("create %s failed: %v", name, err)
		}
		return f
	}

	t.Run("single reference moves blob to trash", func(t *testing.T) {
		f := newFile("a.txt", "aa/bb/one")
		deleted, moveBlob, err := s.SoftDeleteFile(ctx, user.ID, f.ID)
		if err != nil {
			t.Fatalf("soft delete failed: %v", err)
		}
		if !moveBlob {
			t.Error("expected blob move for the only reference")
		}
		if !deleted.IsTrashed() {
			t.Error("expected deleted_at to be set")
		}

		// Repeating the soft delete is a no-op.
		_, moveBlob, err = s.SoftDeleteFile(ctx, user.ID, f.ID)
		if err != nil {
			t.Fatalf("repeat soft delete failed: %v", err)
		}
		if moveBlob {
			t.Error("repeat soft delete must not move the blob again")
		}

		restored, moveBack, err := s.RestoreFile(ctx, user.ID, f.ID)
		if err != nil {
			t.Fatalf("restore failed: %v", err)
		}
		if !moveBack {
			t.Error("expected blob move back on restore")
		}
		if restored.IsTrashed() {
			t.Error("expected deleted_at cleared")
		}
	})

	t.Run("shared blob stays while a sibling is active", func(t *testing.T) {
		f1 := newFile("b.txt", "aa/bb/two")
		f2 := newFile("b-copy.txt", "aa/bb/two")

		_, moveBlob, err := s.SoftDeleteFile(ctx, user.ID, f1.ID)
		if err != nil {
			t.Fatalf("soft delete failed: %v", err)
		}
		if moveBlob {
			t.Error("blob must stay while the sibling record is active")
		}

		_, moveBlob, err = s.SoftDeleteFile(ctx, user.ID, f2.ID)
		if err != nil {
			t.Fatalf("soft delete failed: %v", err)
		}
		if !moveBlob {
			t.Error("expected blob move once the last active reference is trashed")
		}

		// Restoring the first record pulls the blob back.
		_, moveBack, err := s.RestoreFile(ctx, user.ID, f1.ID)
		if err != nil {
			t.Fatalf("restore failed: %v", err)
		}
		if !moveBack {
			t.Error("expected blob move back for the first restored reference")
		}

		// The second restore finds the blob already active.
		_, moveBack, err = s.RestoreFile(ctx, user.ID, f2.ID)
		if err != nil {
			t.Fatalf("restore failed: %v", err)
		}
		if moveBack {
			t.Error("second restore must not move the blob again")
		}
	})

	t.Run("foreign file is not found", func(t *testing.T) {
		f := newFile("c.txt", "aa/bb/three")
		other := createTestUser(t, s, "other@example.com")
		if _, _, err := s.SoftDeleteFile(ctx, other.ID, f.ID); !errors.Is(err, models.ErrFileNotFound) {
			t.Errorf("expected ErrFileNotFound for foreign file, got %v", err)
		}
	})
}

func TestEmptyTrash(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	user := createTestUser(t, s, "empty@example.com")

	addFile := func(name, path string, size int64) *models.File {
		f := &models.File{
			UserID:      user.ID,
			Name:        name,
			Size:        size,
			StoragePath: strptr(path),
		}
		if err := s.CreateFile(ctx, f, true); err != nil {
			t.Fatalf("create failed: %v", err)
		}
		return f
	}

	trashedOnly := addFile("t1.txt", "p/one", 100)
	sharedBlob := addFile("t2.txt", "p/two", 200)
	addFile("t2-copy.txt", "p/two", 200) // stays active
	keep := addFile("keep.txt", "p/three", 300)

	for _, f := range []*models.File{trashedOnly, sharedBlob} {
		if _, _, err := s.SoftDeleteFile(ctx, user.ID, f.ID); err != nil {
			t.Fatalf("soft delete failed: %v", err)
		}
	}

	paths, err := s.EmptyTrash(ctx, user.ID)
	if err != nil {
		t.Fatalf("empty trash failed: %v", err)
	}
	if len(paths) != 1 || paths[0] != "p/one" {
		t.Errorf("expected only p/one orphaned, got %v", paths)
	}

	// 600 initially charged, only the orphaned 100 reclaimed.
	u, _ := s.GetUserByID(ctx, user.ID)
	if u.UsedBytes != 700 {
		t.Errorf("expected 700 used bytes, got %d", u.UsedBytes)
	}

	if _, err := s.GetUserFile(ctx, user.ID, keep.ID); err != nil {
		t.Errorf("active file must survive empty trash: %v", err)
	}
	if _, err := s.GetUserFile(ctx, user.ID, trashedOnly.ID); !errors.Is(err, models.ErrFileNotFound) {
		t.Errorf("trashed file must be gone, got %v", err)
	}

	files, total, err := s.ListFiles(ctx, ListFilesParams{UserID: user.ID, Trashed: true})
	if err != nil {
		t.Fatalf("list trash failed: %v", err)
	}
	if total != 0 || len(files) != 0 {
		t.Errorf("expected empty trash, got %d items", total)
	}
}

func TestListFiles(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	user := createTestUser(t, s, "list@example.com")

	folder := &models.File{UserID: user.ID, Name: "docs", IsFolder: true}
	if err := s.CreateFile(ctx, folder, false); err != nil {
		t.Fatalf("create folder failed: %v", err)
	}
	for _, name := range []string{"alpha.txt", "beta.txt"} {
		f := &models.File{UserID: user.ID, Name: name, ParentID: &folder.ID}
		if err := s.CreateFile(ctx, f, false); err != nil {
			t.Fatalf("create failed: %v", err)
		}
	}
	root := &models.File{UserID: user.ID, Name: "root.txt"}
	if err := s.CreateFile(ctx, root, false); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	t.Run("root listing", func(t *testing.T) {
		files, total, err := s.ListFiles(ctx, ListFilesParams{UserID: user.ID, RootOnly: true})
		if err != nil {
			t.Fatalf("list failed: %v", err)
		}
		if total != 2 {
			t.Errorf("expected 2 root entries, got %d", total)
		}
		// Folders sort first.
		if len(files) == 0 || !files[0].IsFolder {
			t.Error("expected folder first in listing")
		}
	})

	t.Run("folder listing", func(t *testing.T) {
		_, total, err := s.ListFiles(ctx, ListFilesParams{UserID: user.ID, ParentID: &folder.ID})
		if err != nil {
			t.Fatalf("list failed: %v", err)
		}
		if total != 2 {
			t.Errorf("expected 2 children, got %d", total)
		}
	})

	t.Run("search is case-insensitive", func(t *testing.T) {
		files, total, err := s.ListFiles(ctx, ListFilesParams{UserID: user.ID, Search: "ALPHA"})
		if err != nil {
			t.Fatalf("list failed: %v", err)
		}
		if total != 1 || files[0].Name != "alpha.txt" {
			t.Errorf("expected alpha.txt, got %d results", total)
		}
	})

	t.Run("pagination clamps limit", func(t *testing.T) {
		files, total, err := s.ListFiles(ctx, ListFilesParams{UserID: user.ID, Page: 1, Limit: 2})
		if err != nil {
			t.Fatalf("list failed: %v", err)
		}
		if total != 4 {
			t.Errorf("expected total 4, got %d", total)
		}
		if len(files) != 2 {
			t.Errorf("expected page of 2, got %d", len(files))
		}
	})
}

// TestReferenceQueryLocksRowsOnPostgres builds the dedup reference query
// against a dry-run Postgres dialector and checks the generated SQL: the
// FOR UPDATE lock must ride a plain row select, never an aggregate, which
// Postgres rejects outright.
func TestReferenceQueryLocksRowsOnPostgres(t *testing.T) {
	db, err := gorm.Open(postgres.New(postgres.Config{
		DSN: "host=localhost user=strongbox dbname=strongbox",
	}), &gorm.Config{DryRun: true, DisableAutomaticPing: true})
	if err != nil {
		t.Fatalf("failed to open dry-run db: %v", err)
	}

	var captured []string
	err = db.Callback().Query().After("gorm:query").Register("capture_sql", func(tx *gorm.DB) {
		captured = append(captured, tx.Statement.SQL.String())
	})
	if err != nil {
		t.Fatalf("failed to register callback: %v", err)
	}

	if _, err := countOtherReferences(db, "ab/cd/blob", "file-1", true); err != nil {
		t.Fatalf("reference query failed: %v", err)
	}

	if len(captured) != 1 {
		t.Fatalf("expected 1 query, got %d", len(captured))
	}
	sql := captured[0]
	if !strings.Contains(sql, "FOR UPDATE") {
		t.Errorf("expected the reference query to lock its rows, got %q", sql)
	}
	if strings.Contains(strings.ToLower(sql), "count(") {
		t.Errorf("locking clause must not be attached to an aggregate, got %q", sql)
	}
}

func TestFindActiveByHash(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	user := createTestUser(t, s, "hash@example.com")

	f1 := &models.File{UserID: user.ID, Name: "one.bin", ContentHash: strptr("deadbeef"), StoragePath: strptr("x/one")}
	f2 := &models.File{UserID: user.ID, Name: "two.bin", ContentHash: strptr("deadbeef"), StoragePath: strptr("x/one")}
	for _, f := range []*models.File{f1, f2} {
		if err := s.CreateFile(ctx, f, false); err != nil {
			t.Fatalf("create failed: %v", err)
		}
	}
	if _, _, err := s.SoftDeleteFile(ctx, user.ID, f2.ID); err != nil {
		t.Fatalf("soft delete failed: %v", err)
	}

	matches, err := s.FindActiveByHash(ctx, user.ID, "deadbeef", 5)
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if len(matches) != 1 || matches[0].ID != f1.ID {
		t.Errorf("expected only the active record, got %d matches", len(matches))
	}
}

func TestSetFileContent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	user := createTestUser(t, s, "content@example.com")

	f := &models.File{UserID: user.ID, Name: "pending.bin", Size: 42}
	if err := s.CreateFile(ctx, f, true); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	err := s.SetFileContent(ctx, f.ID, "aa/bb/blob", []byte("wrapped"), []byte("iv"), models.EncryptionAlgorithm)
	if err != nil {
		t.Fatalf("set content failed: %v", err)
	}

	got, _ := s.GetFile(ctx, f.ID)
	if !got.HasContent() {
		t.Error("expected record to have content after upload")
	}

	// A second upload against the same record must not clobber the blob.
	err = s.SetFileContent(ctx, f.ID, "aa/bb/other", []byte("w2"), []byte("iv2"), models.EncryptionAlgorithm)
	if !errors.Is(err, models.ErrFileNotFound) {
		t.Errorf("expected ErrFileNotFound for repeated upload, got %v", err)
	}
}

func TestInvitationLifecycle(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	inviter := createTestUser(t, s, "inviter@example.com")

	t.Run("pending invitation resolves by token", func(t *testing.T) {
		token, _ := models.NewInvitationToken()
		inv := &models.Invitation{
			Email:     "Guest@Example.com",
			InviterID: inviter.ID,
			Token:     token,
			Role:      string(models.RoleUser),
			Status:    string(models.InvitationPending),
			ExpiresAt: time.Now().Add(time.Hour),
		}
		if _, err := s.CreateInvitation(ctx, inv); err != nil {
			t.Fatalf("create failed: %v", err)
		}

		got, err := s.GetInvitationByToken(ctx, token)
		if err != nil {
			t.Fatalf("lookup failed: %v", err)
		}
		if got.Email != "guest@example.com" {
			t.Errorf("expected normalized email, got %q", got.Email)
		}
		if got.Status != string(models.InvitationPending) {
			t.Errorf("expected pending, got %s", got.Status)
		}
	})

	t.Run("expired invitation transitions lazily", func(t *testing.T) {
		token, _ := models.NewInvitationToken()
		inv := &models.Invitation{
			Email:     "late@example.com",
			InviterID: inviter.ID,
			Token:     token,
			Role:      string(models.RoleUser),
			Status:    string(models.InvitationPending),
			ExpiresAt: time.Now().Add(-time.Minute),
		}
		if _, err := s.CreateInvitation(ctx, inv); err != nil {
			t.Fatalf("create failed: %v", err)
		}

		got, err := s.GetInvitationByToken(ctx, token)
		if err != nil {
			t.Fatalf("lookup failed: %v", err)
		}
		if got.Status != string(models.InvitationExpired) {
			t.Errorf("expected expired, got %s", got.Status)
		}

		// The transition is persisted.
		stored, _ := s.GetInvitation(ctx, got.ID)
		if stored.Status != string(models.InvitationExpired) {
			t.Errorf("expected persisted expired status, got %s", stored.Status)
		}
	})

	t.Run("accepting consumes the invitation exactly once", func(t *testing.T) {
		token, _ := models.NewInvitationToken()
		inv := &models.Invitation{
			Email:     "newbie@example.com",
			InviterID: inviter.ID,
			Token:     token,
			Role:      string(models.RoleAdmin),
			Status:    string(models.InvitationPending),
			ExpiresAt: time.Now().Add(time.Hour),
		}
		if _, err := s.CreateInvitation(ctx, inv); err != nil {
			t.Fatalf("create failed: %v", err)
		}

		hash, _ := models.HashPassword("password123", 4)
		user := &models.User{
			Name:         "Newbie",
			Email:        "newbie@example.com",
			PasswordHash: hash,
			Role:         inv.Role,
		}
		if _, err := s.CreateUserAcceptingInvitation(ctx, user, inv.ID); err != nil {
			t.Fatalf("accept failed: %v", err)
		}

		got, _ := s.GetInvitation(ctx, inv.ID)
		if got.Status != string(models.InvitationAccepted) {
			t.Errorf("expected accepted, got %s", got.Status)
		}

		// A second registration against the same invitation fails and must
		// not leave a user behind.
		again := &models.User{
			Name:         "Second",
			Email:        "second@example.com",
			PasswordHash: hash,
		}
		if _, err := s.CreateUserAcceptingInvitation(ctx, again, inv.ID); !errors.Is(err, models.ErrInvitationUsed) {
			t.Errorf("expected ErrInvitationUsed, got %v", err)
		}
		if _, err := s.GetUserByEmail(ctx, "second@example.com"); !errors.Is(err, models.ErrUserNotFound) {
			t.Errorf("expected rollback of the user row, got %v", err)
		}
	})
}

func TestShareOperations(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	owner := createTestUser(t, s, "owner@example.com")
	grantee := createTestUser(t, s, "grantee@example.com")

	file := &models.File{UserID: owner.ID, Name: "shared.txt", StoragePath: strptr("s/one")}
	if err := s.CreateFile(ctx, file, false); err != nil {
		t.Fatalf("create file failed: %v", err)
	}

	token, _ := models.NewShareToken()
	public := &models.Share{
		FileID:     file.ID,
		CreatorID:  owner.ID,
		ShareToken: &token,
		Permission: string(models.PermissionRead),
		IsPublic:   true,
	}
	private := &models.Share{
		FileID:        file.ID,
		CreatorID:     owner.ID,
		GranteeUserID: &grantee.ID,
		GranteeEmail:  &grantee.Email,
		Permission:    string(models.PermissionRead),
	}
	for _, sh := range []*models.Share{public, private} {
		if _, err := s.CreateShare(ctx, sh); err != nil {
			t.Fatalf("create share failed: %v", err)
		}
	}

	t.Run("lookup by token preloads the file", func(t *testing.T) {
		got, err := s.GetShareByToken(ctx, token)
		if err != nil {
			t.Fatalf("lookup failed: %v", err)
		}
		if got.File == nil || got.File.ID != file.ID {
			t.Error("expected preloaded file on token lookup")
		}
	})

	t.Run("list by creator filters visibility", func(t *testing.T) {
		isPublic := true
		shares, err := s.ListSharesByCreator(ctx, owner.ID, &isPublic)
		if err != nil {
			t.Fatalf("list failed: %v", err)
		}
		if len(shares) != 1 || shares[0].ID != public.ID {
			t.Errorf("expected only the public share, got %d", len(shares))
		}
	})

	t.Run("list shares received by a user", func(t *testing.T) {
		shares, err := s.ListSharesWithUser(ctx, grantee.ID)
		if err != nil {
			t.Fatalf("list failed: %v", err)
		}
		if len(shares) != 1 || shares[0].ID != private.ID {
			t.Errorf("expected the private share, got %d", len(shares))
		}
	})

	t.Run("share counters surface on file listings", func(t *testing.T) {
		files, _, err := s.ListFiles(ctx, ListFilesParams{UserID: owner.ID, RootOnly: true})
		if err != nil {
			t.Fatalf("list failed: %v", err)
		}
		if len(files) != 1 {
			t.Fatalf("expected 1 file, got %d", len(files))
		}
		if files[0].PublicShareCount != 1 || files[0].PrivateShareCount != 1 {
			t.Errorf("expected counters 1/1, got %d/%d", files[0].PublicShareCount, files[0].PrivateShareCount)
		}
	})

	t.Run("update public settings", func(t *testing.T) {
		hash, _ := models.HashPassword("secret", 4)
		expires := time.Now().Add(24 * time.Hour)
		got, err := s.UpdateSharePublicSettings(ctx, public.ID, &hash, &expires, false, false)
		if err != nil {
			t.Fatalf("update failed: %v", err)
		}
		if !got.HasPassword() {
			t.Error("expected password set")
		}
		if got.ExpiresAt == nil {
			t.Error("expected expiry set")
		}

		// Clearing wins over setting.
		got, err = s.UpdateSharePublicSettings(ctx, public.ID, &hash, &expires, true, true)
		if err != nil {
			t.Fatalf("clear failed: %v", err)
		}
		if got.HasPassword() || got.ExpiresAt != nil {
			t.Error("expected password and expiry cleared")
		}
	})

	t.Run("permanent delete cascades to shares", func(t *testing.T) {
		if _, _, err := s.PermanentDeleteFile(ctx, owner.ID, file.ID); err != nil {
			t.Fatalf("delete failed: %v", err)
		}
		if _, err := s.GetShare(ctx, public.ID); !errors.Is(err, models.ErrShareNotFound) {
			t.Errorf("expected share gone with the file, got %v", err)
		}
	})
}

func TestDeleteUserCascades(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	owner := createTestUser(t, s, "cascade@example.com")
	friend := createTestUser(t, s, "friend@example.com")

	file := &models.File{UserID: owner.ID, Name: "mine.txt", StoragePath: strptr("c/one")}
	if err := s.CreateFile(ctx, file, false); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	share := &models.Share{
		FileID:        file.ID,
		CreatorID:     owner.ID,
		GranteeUserID: &friend.ID,
		Permission:    string(models.PermissionRead),
	}
	if _, err := s.CreateShare(ctx, share); err != nil {
		t.Fatalf("create share failed: %v", err)
	}
	token, _ := models.NewInvitationToken()
	inv := &models.Invitation{
		Email:     "x@example.com",
		InviterID: owner.ID,
		Token:     token,
		Status:    string(models.InvitationPending),
		ExpiresAt: time.Now().Add(time.Hour),
	}
	if _, err := s.CreateInvitation(ctx, inv); err != nil {
		t.Fatalf("create invitation failed: %v", err)
	}

	if err := s.DeleteUser(ctx, owner.ID); err != nil {
		t.Fatalf("delete user failed: %v", err)
	}

	if _, err := s.GetUserByID(ctx, owner.ID); !errors.Is(err, models.ErrUserNotFound) {
		t.Errorf("expected user gone, got %v", err)
	}
	if _, err := s.GetFile(ctx, file.ID); !errors.Is(err, models.ErrFileNotFound) {
		t.Errorf("expected files gone, got %v", err)
	}
	if _, err := s.GetShare(ctx, share.ID); !errors.Is(err, models.ErrShareNotFound) {
		t.Errorf("expected shares gone, got %v", err)
	}
	if _, err := s.GetInvitation(ctx, inv.ID); !errors.Is(err, models.ErrInvitationNotFound) {
		t.Errorf("expected invitations gone, got %v", err)
	}
}

func TestSettings(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	if _, err := s.GetSetting(ctx, "missing"); !errors.Is(err, models.ErrSettingNotFound) {
		t.Errorf("expected ErrSettingNotFound, got %v", err)
	}

	if err := s.SetSetting(ctx, "branding.title", "Strongbox"); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if err := s.SetSetting(ctx, "branding.title", "Strongbox v2"); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	v, err := s.GetSetting(ctx, "branding.title")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if v != "Strongbox v2" {
		t.Errorf("expected upserted value, got %q", v)
	}

	if err := s.SetSettings(ctx, map[string]string{"a": "1", "b": "2"}); err != nil {
		t.Fatalf("bulk set failed: %v", err)
	}
	settings, err := s.ListSettings(ctx)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(settings) != 3 {
		t.Errorf("expected 3 settings, got %d", len(settings))
	}
}
