package manifest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrNotFound is returned by Select when a requested app has no manifest
var ErrNotFound = errors.New("app not found in bucket")

// List returns the manifest files directly inside dir, sorted by name.
// Subdirectories are not descended into.
func List(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if !strings.EqualFold(filepath.Ext(entry.Name()), Extension) {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}

	sort.Strings(files)
	return files, nil
}

// Names returns the application names of the manifests in dir.
func Names(dir string) ([]string, error) {
	files, err := List(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(files))
	for i, f := range files {
		names[i] = NameFromPath(f)
	}
	return names, nil
}

// Select keeps the files of the named apps, matched case-insensitively,
// in request order. A manifest named twice is returned once.
func Select(files, names []string) ([]string, error) {
	var selected []string
	seen := make(map[string]bool)
	for _, name := range names {
		found := false
		for _, f := range files {
			if !strings.EqualFold(NameFromPath(f), name) {
				continue
			}
			if !seen[f] {
				selected = append(selected, f)
				seen[f] = true
			}
			found = true
			break
		}
		if !found {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
	}
	return selected, nil
}
