package zk

import (
	"fmt"
	"strings"
)

// ValidatePath verifies that a path names a node in the tree: it starts
// at the root, ends in a node name, and contains no empty node names.
// The root itself is not addressable by the client operations.
func ValidatePath(path string) error {
	if !strings.HasPrefix(path, "/") {
		return fmt.Errorf("%w: path does not start at the root", ErrInvalidPath)
	}

	if path == "/" {
		return fmt.Errorf("%w: path cannot be the root", ErrInvalidPath)
	}

	if strings.HasSuffix(path, "/") {
		return fmt.Errorf("%w: path should end in a node name, not a '/'", ErrInvalidPath)
	}

	// Since we have a leading /, then we expect the first name to be empty.
	for _, name := range strings.Split(path, "/")[1:] {
		if name == "" {
			return fmt.Errorf("%w: path contains an empty node name", ErrInvalidPath)
		}
	}
	return nil
}

// SplitPath breaks a path into its node names.
func SplitPath(path string) []string {
	// Since we have a leading /, then we expect the first name to be empty.
	return strings.Split(path, "/")[1:]
}

// Join appends child node names to a base path.
func Join(parts ...string) string {
	return strings.Join(parts, "/")
}

// Parent splits a path into the parent path and the final node name.
// For a node directly under the root the parent is "/".
func Parent(path string) (string, string) {
	base, name := path[:strings.LastIndex(path, "/")], path[strings.LastIndex(path, "/")+1:]
	if base == "" {
		base = "/"
	}
	return base, name
}
