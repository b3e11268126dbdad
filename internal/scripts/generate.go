package scripts

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// sequenceLayout renders a UTC timestamp as yyyyMMddHHmmss followed by six
// fractional digits, giving 20-digit sequences that sort chronologically.
const sequenceLayout = "20060102150405.000000"

// EnsureFolders creates each folder (and parents) when missing.
func EnsureFolders(paths ...string) error {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := os.MkdirAll(p, 0o755); err != nil {
			return fmt.Errorf("create folder %s: %w", p, err)
		}
	}
	return nil
}

// Generate creates an empty script in folder named after the current time,
// the scope ("all" when empty) and an optional description. It never
// overwrites an existing file.
func Generate(folder, scope, description string, now time.Time) (File, error) {
	scope = strings.ToLower(strings.TrimSpace(scope))
	if scope == "" {
		scope = ScopeAll
	}
	if strings.ContainsAny(scope, `_/\ `) {
		return File{}, fmt.Errorf("invalid scope %q: must be a single word", scope)
	}
	if info, err := os.Stat(folder); err != nil || !info.IsDir() {
		return File{}, &FolderNotFoundError{Path: folder}
	}

	seq := strings.Replace(now.UTC().Format(sequenceLayout), ".", "", 1)
	name := seq + "_" + scope
	if desc := safeName(description); desc != "" {
		name += "_" + desc
	}
	name += ".sql"

	path := filepath.Join(folder, name)
	fh, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return File{}, fmt.Errorf("script %s already exists", path)
		}
		return File{}, fmt.Errorf("create script %s: %w", path, err)
	}
	if err := fh.Close(); err != nil {
		return File{}, fmt.Errorf("close script %s: %w", path, err)
	}

	f, err := ParseName(name)
	if err != nil {
		return File{}, err
	}
	f.Path = path
	return f, nil
}

func safeName(name string) string {
	name = strings.TrimSpace(name)
	name = strings.ReplaceAll(name, " ", "_")
	name = strings.ReplaceAll(name, string(filepath.Separator), "_")
	return strings.ReplaceAll(name, "/", "_")
}
