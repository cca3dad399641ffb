package utils

import (
	"path/filepath"
	"strings"
)

// ChangeExtension replaces the extension of path with ext. ext should include its leading dot,
// or be empty to strip the extension.
func ChangeExtension(path, ext string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + ext
}

// BaseName returns the file name of path without its directory and extension.
func BaseName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
