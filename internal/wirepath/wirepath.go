// Package wirepath converts between workspace relative paths and the
// slash-prefixed paths peers exchange on the wire.
package wirepath

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ToWire prefixes p with a single "/" unless it already has one.
func ToWire(p string) string {
	if strings.HasPrefix(p, "/") {
		return p
	}
	return "/" + p
}

// FromWire strips one leading "/" from p.
func FromWire(p string) string {
	return strings.TrimPrefix(p, "/")
}

// FromLocal returns abs relative to root in slash form. It fails for paths
// outside of root.
func FromLocal(root, abs string) (string, error) {
	rel, err := filepath.Rel(root, abs)
	if err != nil {
		return "", fmt.Errorf("relative path for %s: %w", abs, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s is outside of %s", abs, root)
	}
	return filepath.ToSlash(rel), nil
}
