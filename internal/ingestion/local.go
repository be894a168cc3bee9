package ingestion

import (
	"io/fs"
	"path/filepath"
	"slices"
	"strings"
)

var allowedExt = []string{".pdf", ".txt", ".md", ".png", ".jpg", ".jpeg"}

// Supported reports whether name has an extension the extractors handle.
func Supported(name string) bool {
	return slices.Contains(allowedExt, strings.ToLower(filepath.Ext(name)))
}

// LoadLocalFiles walks root and returns every supported file path.
func LoadLocalFiles(root string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && Supported(path) {
			out = append(out, path)
		}
		return nil
	})
	return out, err
}
