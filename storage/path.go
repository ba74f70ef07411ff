package storage

import (
	"errors"
	"path"
	"strings"
)

var ErrInvalidPath = errors.New("invalid sealed path")

// validatePath accepts relative slash-separated names that stay inside the
// backend namespace.
func validatePath(p string) error {
	if p == "" || strings.HasPrefix(p, "/") || strings.Contains(p, "\\") {
		return ErrInvalidPath
	}
	clean := path.Clean(p)
	if clean != p || clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return ErrInvalidPath
	}
	return nil
}
