package files

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// MaxUploadBytes is the per-request upload ceiling (1 GiB).
const MaxUploadBytes = 1 << 30

// blockedExtensions is the deny-list of executable and script extensions
// that may never be stored.
var blockedExtensions = map[string]bool{
	".exe": true, ".bat": true, ".cmd": true, ".ps1": true, ".vbs": true,
	".vbe": true, ".jse": true, ".wsf": true, ".wsh": true, ".msc": true,
	".pif": true, ".scr": true, ".reg": true, ".dll": true, ".com": true,
	".msi": true, ".hta": true, ".cpl": true, ".inf": true, ".lnk": true,
}

// dedupExtensions lists the file types subject to the deduplication policy.
var dedupExtensions = map[string]bool{
	".pdf": true, ".doc": true, ".docx": true, ".xls": true, ".xlsx": true,
	".ppt": true, ".pptx": true, ".txt": true, ".md": true, ".csv": true,
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true,
	".svg": true, ".bmp": true,
}

// allowedMimePrefixes and allowedMimeTypes form the MIME allow-list:
// images, documents, text, archives, audio/video, code, fonts and generic
// binary uploads.
var allowedMimePrefixes = []string{
	"image/",
	"text/",
	"audio/",
	"video/",
	"font/",
}

var allowedMimeTypes = map[string]bool{
	"application/pdf":    true,
	"application/msword": true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
	"application/vnd.ms-excel": true,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": true,
	"application/vnd.ms-powerpoint":                                     true,
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": true,
	"application/vnd.oasis.opendocument.text":         true,
	"application/vnd.oasis.opendocument.spreadsheet":  true,
	"application/vnd.oasis.opendocument.presentation": true,
	"application/zip":              true,
	"application/x-zip-compressed": true,
	"application/x-tar":            true,
	"application/gzip":             true,
	"application/x-7z-compressed":  true,
	"application/x-rar-compressed": true,
	"application/json":             true,
	"application/xml":              true,
	"application/javascript":       true,
	"application/x-yaml":           true,
	"application/sql":              true,
	"application/rtf":              true,
	"application/epub+zip":         true,
	"application/x-font-ttf":       true,
	"application/x-font-otf":       true,
	"application/vnd.ms-fontobject": true,
	"application/octet-stream":      true,
}

var contentHashPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// ValidateName rejects empty names, control characters, path separators and
// the deny-listed executable extensions. Folder names skip the extension
// check.
func ValidateName(name string, isFolder bool) error {
	if name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidName)
	}
	if len(name) > 255 {
		return fmt.Errorf("%w: name exceeds 255 characters", ErrInvalidName)
	}
	if strings.HasPrefix(name, "..") {
		return fmt.Errorf("%w: name must not start with '..'", ErrInvalidName)
	}
	for _, r := range name {
		if r < 0x20 || r == 0x7f {
			return fmt.Errorf("%w: name contains control characters", ErrInvalidName)
		}
	}
	if strings.ContainsAny(name, `/\:*?"<>|`) {
		return fmt.Errorf("%w: name contains reserved characters", ErrInvalidName)
	}
	if !isFolder && blockedExtensions[strings.ToLower(filepath.Ext(name))] {
		return fmt.Errorf("%w: file type is not allowed", ErrInvalidName)
	}
	return nil
}

// ValidateMimeType checks the declared MIME against the allow-list.
func ValidateMimeType(mimeType string) error {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	if mt == "" {
		return fmt.Errorf("%w: mime type is required", ErrInvalidMimeType)
	}
	// Strip parameters like "; charset=utf-8".
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	if allowedMimeTypes[mt] {
		return nil
	}
	for _, prefix := range allowedMimePrefixes {
		if strings.HasPrefix(mt, prefix) {
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrInvalidMimeType, mimeType)
}

// ValidateContentHash checks the SHA-256 hex shape of a declared hash.
func ValidateContentHash(hash string) error {
	if !contentHashPattern.MatchString(hash) {
		return fmt.Errorf("%w: must be 64 lowercase hex characters", ErrInvalidContentHash)
	}
	return nil
}

// IsDedupCandidate reports whether the deduplication policy applies to the
// file name's extension.
func IsDedupCandidate(name string) bool {
	return dedupExtensions[strings.ToLower(filepath.Ext(name))]
}
