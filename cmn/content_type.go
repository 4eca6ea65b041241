package cmn

import (
	"mime"
	"path/filepath"
)

// GuessContentType returns the MIME type for name based on its extension,
// falling back to a generic binary stream. This is the full extent of
// mimetype guessing the pipeline performs (spec §1: mimetype guessing is an
// external collaborator described only where it touches the core).
func GuessContentType(name string) string {
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
