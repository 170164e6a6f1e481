package files

import (
	"errors"
	"fmt"

	"github.com/strongbox-io/strongbox/pkg/models"
)

// Typed failures raised by the file service. The HTTP layer maps them to
// status codes in one place.
var (
	ErrInvalidName        = errors.New("invalid file name")
	ErrInvalidMimeType    = errors.New("unsupported mime type")
	ErrInvalidContentHash = errors.New("invalid content hash")
	ErrIsFolder           = errors.New("operation not supported on folders")
	ErrNotFolder          = errors.New("file is not a folder")
	ErrAlreadyUploaded    = errors.New("file content has already been uploaded")
	ErrNoContent          = errors.New("file has no uploaded content")
	ErrTooLarge           = errors.New("upload exceeds the maximum allowed size")
)

// DuplicateContentError reports that content with the same hash already
// exists. It carries up to ten of the existing matches so the client can
// offer a link-instead-of-upload choice.
type DuplicateContentError struct {
	Matches []*models.File
}

func (e *DuplicateContentError) Error() string {
	return fmt.Sprintf("duplicate content detected (%d existing matches)", len(e.Matches))
}
