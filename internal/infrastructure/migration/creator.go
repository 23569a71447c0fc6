package migration

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"text/template"
	"time"
)

var scaffold = template.Must(template.New("migration").Parse(
	`-- {{.Name}} ({{.Direction}})
-- Created: {{.Created}}
{{- if .Description}}
-- {{.Description}}
{{- end}}

`))

// Pair is a freshly written up/down file pair
type Pair struct {
	Entry
	UpPath   string
	DownPath string
}

var nonWord = regexp.MustCompile(`[^a-z0-9]+`)

// slugify turns a free-form name into the snake_case part of a file name
func slugify(name string) string {
	s := strings.ToLower(name)
	s = strings.NewReplacer("-", " ", "_", " ").Replace(s)
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = nonWord.ReplaceAllString(w, "")
	}
	return strings.Trim(strings.Join(strings.Fields(strings.Join(words, " ")), "_"), "_")
}

// CreatePair writes an empty up/down pair to dir, numbered after the highest
// migration already there. A dir that does not exist yet is created.
func CreatePair(dir, name, description string, now time.Time) (*Pair, error) {
	slug := slugify(name)
	if slug == "" {
		return nil, fmt.Errorf("migration name %q has no usable characters", name)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create migrations directory: %w", err)
	}

	existing, err := Scan(os.DirFS(dir))
	if err != nil {
		return nil, err
	}
	var next uint = 1
	if len(existing) > 0 {
		next = existing[len(existing)-1].Version + 1
	}

	base := fmt.Sprintf("%06d_%s", next, slug)
	pair := &Pair{
		Entry:    Entry{Version: next, Name: base},
		UpPath:   filepath.Join(dir, base+upSuffix),
		DownPath: filepath.Join(dir, base+downSuffix),
	}

	created := now.UTC().Format(time.RFC3339)
	if err := writeScaffold(pair.UpPath, name, "up", description, created); err != nil {
		return nil, err
	}
	if err := writeScaffold(pair.DownPath, name, "down", "", created); err != nil {
		_ = os.Remove(pair.UpPath)
		return nil, err
	}
	return pair, nil
}

func writeScaffold(path, name, direction, description, created string) error {
	var buf bytes.Buffer
	err := scaffold.Execute(&buf, map[string]string{
		"Name":        name,
		"Direction":   direction,
		"Description": description,
		"Created":     created,
	})
	if err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return f.Close()
}
