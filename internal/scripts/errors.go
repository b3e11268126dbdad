package scripts

import (
	"fmt"
	"strings"
)

// FolderNotFoundError is returned when a scripts or reset folder is missing.
type FolderNotFoundError struct {
	Path string
}

func (e *FolderNotFoundError) Error() string {
	return fmt.Sprintf("folder %s does not exist", e.Path)
}

// MalformedNameError is returned for a .sql file that does not follow the
// <sequence>_<scope>_<description>.sql convention.
type MalformedNameError struct {
	Name   string
	Reason string
}

func (e *MalformedNameError) Error() string {
	return fmt.Sprintf("malformed script name %s: %s", e.Name, e.Reason)
}

// DuplicateSequenceError is returned when two scripts selected for the same
// environment share a sequence, which is the history table's primary key.
type DuplicateSequenceError struct {
	Sequence string
	Names    []string
}

func (e *DuplicateSequenceError) Error() string {
	return fmt.Sprintf("sequence %s is used by more than one script: %s", e.Sequence, strings.Join(e.Names, ", "))
}
