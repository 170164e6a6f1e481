// Package quota gates uploads against per-user limits and probes the
// capacity of the filesystem hosting the blob store.
package quota

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/strongbox-io/strongbox/pkg/models"
)

// Accountant answers admission questions for uploads. The authoritative
// used-bytes counter lives on the user record and is maintained by the
// metadata store's transactions; the free-space probe is advisory only.
type Accountant struct {
	blobRoot string
}

// New creates an accountant probing the filesystem that hosts blobRoot.
func New(blobRoot string) *Accountant {
	return &Accountant{blobRoot: blobRoot}
}

// CanStore decides whether the user may store size additional bytes.
// Owners are never gated; a zero quota means unlimited.
func (a *Accountant) CanStore(user *models.User, size int64) error {
	if user.IsOwner() || user.QuotaBytes == 0 {
		return nil
	}
	if user.UsedBytes+size > user.QuotaBytes {
		return models.ErrQuotaExceeded
	}
	return nil
}

// FreeSpace returns the free bytes on the filesystem hosting the blob root.
func (a *Accountant) FreeSpace() (int64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(a.blobRoot, &st); err != nil {
		return 0, fmt.Errorf("failed to stat filesystem: %w", err)
	}
	return int64(st.Bavail) * st.Bsize, nil
}

// TotalSpace returns the size of the filesystem hosting the blob root.
func (a *Accountant) TotalSpace() (int64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(a.blobRoot, &st); err != nil {
		return 0, fmt.Errorf("failed to stat filesystem: %w", err)
	}
	return int64(st.Blocks) * st.Bsize, nil
}
