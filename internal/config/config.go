package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"sqlci/internal/db"
	"sqlci/internal/scripts"
)

var (
	ErrMissingConnectionString      = errors.New("connection string is required")
	ErrMissingScriptsFolder         = errors.New("scripts folder is required")
	ErrMissingReleaseVersion        = errors.New("release version is required")
	ErrMissingScriptTable           = errors.New("script table name is required")
	ErrInvalidScriptTable           = errors.New("script table name must be a plain identifier")
	ErrMissingEnvironment           = errors.New("environment is required")
	ErrUnsupportedProvider          = errors.New("unsupported database provider")
	ErrMissingResetFolder           = errors.New("reset scripts folder is required when reset is enabled")
	ErrMissingResetConnectionString = errors.New("reset connection string is required when reset is enabled")

	// ErrNotVerified is returned when an unverified configuration reaches the engine.
	ErrNotVerified = errors.New("configuration has not been verified")
)

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Configuration holds everything one deployment needs. Build it directly or
// through Project.Configuration, then call Verify before handing it on.
type Configuration struct {
	ConnectionString      string
	Provider              string
	ScriptsFolder         string
	ResetScriptsFolder    string
	ResetConnectionString string
	ResetDatabase         bool
	ReleaseVersion        string
	ScriptTable           string
	Environment           string

	verified bool
}

// Verified reports whether c came from a successful Verify.
func (c Configuration) Verified() bool { return c.verified }

// Verify checks every field and returns a verified copy. All violations are
// reported together in a *ValidationError.
func (c Configuration) Verify() (Configuration, error) {
	var problems []error

	if strings.TrimSpace(c.ConnectionString) == "" {
		problems = append(problems, ErrMissingConnectionString)
	}
	if _, err := db.ParseProvider(c.Provider); err != nil {
		problems = append(problems, fmt.Errorf("%w: %q", ErrUnsupportedProvider, c.Provider))
	}
	problems = append(problems, checkFolder(c.ScriptsFolder, ErrMissingScriptsFolder)...)
	if strings.TrimSpace(c.ReleaseVersion) == "" {
		problems = append(problems, ErrMissingReleaseVersion)
	}
	switch {
	case strings.TrimSpace(c.ScriptTable) == "":
		problems = append(problems, ErrMissingScriptTable)
	case !identPattern.MatchString(c.ScriptTable):
		problems = append(problems, fmt.Errorf("%w: %q", ErrInvalidScriptTable, c.ScriptTable))
	}
	if strings.TrimSpace(c.Environment) == "" {
		problems = append(problems, ErrMissingEnvironment)
	}
	if c.ResetDatabase {
		problems = append(problems, checkFolder(c.ResetScriptsFolder, ErrMissingResetFolder)...)
		if strings.TrimSpace(c.ResetConnectionString) == "" {
			problems = append(problems, ErrMissingResetConnectionString)
		}
	}

	if len(problems) > 0 {
		return c, &ValidationError{Problems: problems}
	}
	c.verified = true
	return c, nil
}

func checkFolder(path string, missing error) []error {
	if strings.TrimSpace(path) == "" {
		return []error{missing}
	}
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return []error{&scripts.FolderNotFoundError{Path: path}}
	}
	return nil
}

// ValidationError lists every problem found by Verify.
type ValidationError struct {
	Problems []error
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		msgs[i] = p.Error()
	}
	return "invalid configuration: " + strings.Join(msgs, "; ")
}

func (e *ValidationError) Unwrap() []error { return e.Problems }

// EnvironmentNotFoundError is returned when a project has no environment of
// the requested name.
type EnvironmentNotFoundError struct {
	Name      string
	Available []string
}

func (e *EnvironmentNotFoundError) Error() string {
	if len(e.Available) == 0 {
		return fmt.Sprintf("environment %q not found: project defines no environments", e.Name)
	}
	return fmt.Sprintf("environment %q not found (available: %s)", e.Name, strings.Join(e.Available, ", "))
}
