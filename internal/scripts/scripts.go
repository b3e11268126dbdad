// Package scripts finds the SQL change scripts that apply to an environment.
//
// Script files live directly in a folder and are named
//
//	<sequence>_<scope>_<description>.sql
//
// where sequence is a run of digits and scope is either "all" or the name of a
// single environment. Discovery always returns scripts in ascending numeric
// sequence order (file name breaks ties) so that execution order never depends
// on how the operating system happens to enumerate a directory.
package scripts

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ScopeAll marks a script that runs in every environment.
const ScopeAll = "all"

// File is a script discovered on disk.
type File struct {
	Name        string
	Sequence    string
	Scope       string
	Description string
	Path        string
}

// Text reads the script body.
func (f File) Text() (string, error) {
	b, err := os.ReadFile(f.Path)
	if err != nil {
		return "", fmt.Errorf("read script %s: %w", f.Name, err)
	}
	return string(b), nil
}

// AppliesTo reports whether the script is in scope for environment.
func (f File) AppliesTo(environment string) bool {
	return strings.EqualFold(f.Scope, ScopeAll) || strings.EqualFold(f.Scope, environment)
}

// ParseName splits a script file name into its parts. The sequence must be a
// non-empty run of digits terminated by the first underscore.
func ParseName(name string) (File, error) {
	base := name
	if ext := filepath.Ext(base); strings.EqualFold(ext, ".sql") {
		base = strings.TrimSuffix(base, ext)
	}
	idx := strings.IndexByte(base, '_')
	if idx <= 0 {
		return File{}, &MalformedNameError{Name: name, Reason: "missing numeric sequence before first underscore"}
	}
	seq := base[:idx]
	if !isDigits(seq) {
		return File{}, &MalformedNameError{Name: name, Reason: fmt.Sprintf("sequence %q is not numeric", seq)}
	}
	rest := base[idx+1:]
	scope, desc, _ := strings.Cut(rest, "_")
	if scope == "" {
		return File{}, &MalformedNameError{Name: name, Reason: "missing scope after sequence"}
	}
	return File{
		Name:        name,
		Sequence:    seq,
		Scope:       scope,
		Description: desc,
	}, nil
}

// Discover lists the scripts in folder that apply to environment, in
// execution order. The listing is not recursive.
func Discover(folder, environment string) ([]File, error) {
	entries, err := os.ReadDir(folder)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &FolderNotFoundError{Path: folder}
		}
		return nil, fmt.Errorf("list scripts in %s: %w", folder, err)
	}

	var files []File
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".sql") {
			continue
		}
		f, err := ParseName(entry.Name())
		if err != nil {
			return nil, err
		}
		if !f.AppliesTo(environment) {
			continue
		}
		f.Path = filepath.Join(folder, entry.Name())
		files = append(files, f)
	}

	Sort(files)

	for i := 1; i < len(files); i++ {
		if CompareSequence(files[i-1].Sequence, files[i].Sequence) == 0 {
			return nil, &DuplicateSequenceError{
				Sequence: files[i].Sequence,
				Names:    []string{files[i-1].Name, files[i].Name},
			}
		}
	}
	return files, nil
}

// Sort orders scripts by numeric sequence, then by file name.
func Sort(files []File) {
	sort.SliceStable(files, func(i, j int) bool {
		if c := CompareSequence(files[i].Sequence, files[j].Sequence); c != 0 {
			return c < 0
		}
		return files[i].Name < files[j].Name
	})
}

// CompareSequence compares two digit strings numerically without converting
// them, so 20-digit timestamp sequences compare correctly.
func CompareSequence(a, b string) int {
	a = strings.TrimLeft(a, "0")
	b = strings.TrimLeft(b, "0")
	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	return strings.Compare(a, b)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
