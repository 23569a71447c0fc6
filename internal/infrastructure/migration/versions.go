package migration

import (
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"
)

const (
	upSuffix   = ".up.sql"
	downSuffix = ".down.sql"
)

// Entry is one up/down migration pair
type Entry struct {
	Version uint
	Name    string // base name without suffix, e.g. 000003_create_grants_and_usage
}

// Scan lists the migration pairs in fsys ordered by version. Every up file
// needs a numeric prefix and a matching down file.
func Scan(fsys fs.FS) ([]Entry, error) {
	files, err := fs.ReadDir(fsys, ".")
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read migrations: %w", err)
	}

	downs := make(map[string]bool)
	var ups []string
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		if base, ok := strings.CutSuffix(f.Name(), upSuffix); ok {
			ups = append(ups, base)
		} else if base, ok := strings.CutSuffix(f.Name(), downSuffix); ok {
			downs[base] = true
		}
	}

	entries := make([]Entry, 0, len(ups))
	seen := make(map[uint]string, len(ups))
	for _, base := range ups {
		v, err := versionOf(base)
		if err != nil {
			return nil, err
		}
		if !downs[base] {
			return nil, fmt.Errorf("migration %s has no down file", base)
		}
		if other, dup := seen[v]; dup {
			return nil, fmt.Errorf("migrations %s and %s share version %d", other, base, v)
		}
		seen[v] = base
		entries = append(entries, Entry{Version: v, Name: base})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Version < entries[j].Version })
	return entries, nil
}

// LatestVersion is the highest version compiled into the binary
func LatestVersion() (uint, error) {
	entries, err := Scan(Files())
	if err != nil {
		return 0, err
	}
	if len(entries) == 0 {
		return 0, nil
	}
	return entries[len(entries)-1].Version, nil
}

func versionOf(base string) (uint, error) {
	prefix, _, _ := strings.Cut(base, "_")
	v, err := strconv.ParseUint(prefix, 10, 32)
	if err != nil || v == 0 {
		return 0, fmt.Errorf("migration %q has no numeric version", base)
	}
	return uint(v), nil
}
