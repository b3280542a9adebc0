package seqdb

import (
	"errors"
	"fmt"

	"github.com/hupe1980/seqdb/index"
)

var (
	// ErrDatabaseExists is returned by Create when the destination path
	// already exists. A database is never silently overwritten.
	ErrDatabaseExists = errors.New("database already exists")

	// ErrContentsNotFound is returned by Acquire when the directory has
	// no contents file. Usual causes are a wrong path, a corrupt
	// database, or a database too old to carry a contents file.
	ErrContentsNotFound = errors.New("contents file not found")

	// ErrNoIndexFiles is returned by Acquire when the database holds no
	// nucleotide index artifacts.
	ErrNoIndexFiles = errors.New("no nucleotide index files found")

	// ErrInvalidK is returned when k is not positive.
	ErrInvalidK = errors.New("k must be positive")

	// ErrIndexNotFound is returned when a marker has no registered
	// index artifact.
	ErrIndexNotFound = index.ErrNotFound
)

// ErrUnsupportedVersion indicates a contents file declaring a database
// version this package cannot read.
type ErrUnsupportedVersion struct {
	Found int
}

func (e *ErrUnsupportedVersion) Error() string {
	return fmt.Sprintf("unsupported database version: %d (version %d required)", e.Found, currentVersion)
}

// ErrMissingContentsKey indicates a contents file without one of the
// keys its declared version requires.
type ErrMissingContentsKey struct {
	Key string
}

func (e *ErrMissingContentsKey) Error() string {
	return fmt.Sprintf("missing required contents key: %s", e.Key)
}
