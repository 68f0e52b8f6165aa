package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
)

var validName = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// ValidateName rejects names that cannot be used as a directory component.
func ValidateName(name string) error {
	if !validName.MatchString(name) {
		return fmt.Errorf("invalid session name %q: use up to 64 lowercase letters, digits, '-' or '_', starting with a letter or digit", name)
	}
	return nil
}

// List returns the names of session directories under BaseDir, sorted.
// Entries that are not valid session names are skipped.
func List() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(BaseDir(), "sessions"))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read sessions dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() && ValidateName(e.Name()) == nil {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}
