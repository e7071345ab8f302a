package airdropserver

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// sanitizeFilename strips any path components from name, keeping only the
// basename, as defence against directory traversal in an uploaded file
// name (spec.md §4.8 step 1). It returns "" for a part that carries no
// usable filename at all, leaving the decision to skip that part to the
// caller.
func sanitizeFilename(name string) string {
	name = filepath.Base(filepath.Clean(name))
	if name == "." || name == "/" || name == "" {
		return ""
	}
	return name
}

// resolveCollision returns a path under dir for name that does not already
// exist, appending " (N)" before the extension and incrementing N from 1
// until a free name is found (spec.md §4.8 step 2, §8 boundary scenario 2).
func resolveCollision(dir, name string) (string, error) {
	candidate := filepath.Join(dir, name)
	if _, err := os.Stat(candidate); os.IsNotExist(err) {
		return candidate, nil
	} else if err != nil {
		return "", err
	}

	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)

	for n := 1; ; n++ {
		try := fmt.Sprintf("%s (%d)%s", base, n, ext)
		candidate = filepath.Join(dir, try)
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate, nil
		} else if err != nil {
			return "", err
		}
	}
}
