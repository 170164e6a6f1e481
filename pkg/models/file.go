package models

import (
	"time"
)

// EncryptionAlgorithm is the algorithm tag stored with every uploaded blob.
const EncryptionAlgorithm = "AES-256-GCM"

// File represents a file or folder record.
//
// Folders carry no blob: StoragePath, WrappedDEK and IV stay nil and Size is
// computed from non-deleted descendants. A non-folder is either pending
// upload (all crypto fields nil) or uploaded (all set). Several records may
// point at the same StoragePath when the deduplication policy linked them;
// the blob stays alive while at least one record references it.
//
// DeletedAt null means the record is active; non-null means trashed. Name
// uniqueness is not enforced, identity is by ID.
type File struct {
	ID          string     `gorm:"primaryKey;size:36" json:"id"`
	UserID      string     `gorm:"index;not null;size:36" json:"userId"`
	Name        string     `gorm:"not null;size:255" json:"name"`
	MimeType    string     `gorm:"size:255" json:"mimeType"`
	Size        int64      `gorm:"not null;default:0" json:"size"`
	ParentID    *string    `gorm:"index;size:36" json:"parentId,omitempty"`
	IsFolder    bool       `gorm:"not null;default:false" json:"isFolder"`
	ContentHash *string    `gorm:"index;size:64" json:"contentHash,omitempty"`
	StoragePath *string    `gorm:"index;size:512" json:"-"`
	WrappedDEK  []byte     `json:"-"`
	IV          []byte     `json:"-"`
	Algorithm   *string    `gorm:"size:50" json:"-"`
	DeletedAt   *time.Time `gorm:"index" json:"deletedAt,omitempty"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updatedAt"`

	// Derived share counters, populated on list/get queries. Not columns.
	PublicShareCount  int64 `gorm:"-" json:"publicShareCount"`
	PrivateShareCount int64 `gorm:"-" json:"privateShareCount"`
}

// TableName returns the table name for File.
func (File) TableName() string {
	return "files"
}

// HasContent reports whether the record has an uploaded, decryptable blob.
func (f *File) HasContent() bool {
	return !f.IsFolder &&
		f.StoragePath != nil && *f.StoragePath != "" &&
		len(f.WrappedDEK) > 0 && len(f.IV) > 0 &&
		f.Algorithm != nil && *f.Algorithm != ""
}

// IsTrashed reports whether the record has been soft-deleted.
func (f *File) IsTrashed() bool {
	return f.DeletedAt != nil
}
