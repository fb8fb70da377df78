// validation.go - Image upload checks.
//
// The declared Content-Type must be on the allow-list, the file extension
// (when present) must agree with it, and the first bytes must sniff as one
// of the accepted image formats.
package server

import (
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
)

// sniffLen is how many bytes http.DetectContentType looks at.
const sniffLen = 512

var sniffedImageTypes = map[string]bool{
	"image/jpeg": true,
	"image/gif":  true,
	"image/png":  true,
}

// validateImage checks an upload's declared type, extension and leading
// bytes.
func validateImage(filename, declared string, head []byte) error {
	declared = baseMediaType(declared)
	if !allowedImageTypes[declared] {
		return fmt.Errorf("MIME type not allowed: %s", declared)
	}

	if ext := strings.ToLower(filepath.Ext(filename)); ext != "" {
		expected, ok := imageExtTypes[ext]
		if !ok {
			return fmt.Errorf("file extension not allowed: %s", ext)
		}
		if !isMimeTypeCompatible(expected, declared) {
			return fmt.Errorf("MIME type mismatch: extension suggests %s but got %s", expected, declared)
		}
	}

	if sniffed := baseMediaType(http.DetectContentType(head)); !sniffedImageTypes[sniffed] {
		return fmt.Errorf("file content is not an image: %s", sniffed)
	}
	return nil
}

func baseMediaType(ct string) string {
	ct, _, _ = strings.Cut(ct, ";")
	return strings.ToLower(strings.TrimSpace(ct))
}

// isMimeTypeCompatible compares base media types, reading the legacy
// image/jpg as image/jpeg.
func isMimeTypeCompatible(expected, actual string) bool {
	return canonicalImageType(expected) == canonicalImageType(actual)
}

func canonicalImageType(ct string) string {
	ct = baseMediaType(ct)
	if ct == "image/jpg" {
		return "image/jpeg"
	}
	return ct
}
