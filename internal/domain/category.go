package domain

import (
	"errors"
	"strings"
)

// ErrDuplicatePath is returned when two category links resolve to the same path
var ErrDuplicatePath = errors.New("duplicate category path")

// CategoryRecord is a single category link found in a page
type CategoryRecord struct {
	Path  string `json:"path"`  // Slash separated path, e.g. "tech/web/js"
	Name  string `json:"name"`  // Display label without the count suffix
	Count string `json:"count"` // Count suffix digits, "0" when absent
	Level int    `json:"level"` // Number of path segments
	Href  string `json:"href"`  // Original destination URL
}

// ParentPath returns the path with its last segment removed, empty for roots
func (r CategoryRecord) ParentPath() string {
	i := strings.LastIndex(r.Path, "/")
	if i < 0 {
		return ""
	}
	return r.Path[:i]
}

// PathLevel counts the segments of a category path
func PathLevel(path string) int {
	return len(strings.Split(path, "/"))
}
