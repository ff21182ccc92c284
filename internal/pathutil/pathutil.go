// Package pathutil has small path helpers shared across packages.
package pathutil

import (
	"os"
	"path/filepath"
	"strings"
)

// ExpandHome expands a leading ~/ to the invoking user's home
// directory. ~otheruser paths are returned unchanged; resolving other
// users' homes is not portable.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	return filepath.Join(home, path[2:])
}
