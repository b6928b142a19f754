// Package common provides shared utilities and default configuration.
package common

// Upload acceptance limits shared by the admin and portal upload paths.
const (
	// MaxUploadBytes caps a single uploaded card file.
	MaxUploadBytes int64 = 20 * 1024 * 1024 // 20 MB

	// MaxBatchFiles caps the number of files in one batch upload.
	MaxBatchFiles = 50
)

// acceptedUploadMimeTypes is the closed set of card file types.
var acceptedUploadMimeTypes = map[string]bool{
	"image/jpeg":      true,
	"image/jpg":       true,
	"image/png":       true,
	"image/gif":       true,
	"image/webp":      true,
	"application/pdf": true,
}

// IsAcceptedUploadMime reports whether a MIME type may be ingested as a card.
func IsAcceptedUploadMime(mime string) bool {
	return acceptedUploadMimeTypes[mime]
}
