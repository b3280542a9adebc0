package seqdb

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

const (
	// contentsFileName is the descriptor every database directory
	// carries.
	contentsFileName = "CONTENTS.json"

	// versionKey names the descriptor entry holding the format version.
	versionKey = "singlem_database_version"

	// currentVersion is the only database version this package reads
	// and writes.
	currentVersion = 4
)

// requiredContentsKeys lists the descriptor keys each version must
// carry.
var requiredContentsKeys = map[int][]string{
	4: {versionKey},
}

// writeContents writes a fresh version descriptor into dir.
func writeContents(dir string) error {
	data, err := json.Marshal(map[string]int{versionKey: currentVersion})
	if err != nil {
		return fmt.Errorf("seqdb: failed to encode contents: %w", err)
	}

	if err := os.WriteFile(filepath.Join(dir, contentsFileName), data, 0o644); err != nil {
		return fmt.Errorf("seqdb: failed to write contents: %w", err)
	}

	return nil
}

// readContents loads and decodes the version descriptor of dir.
func readContents(dir string) (map[string]any, error) {
	data, err := os.ReadFile(filepath.Join(dir, contentsFileName))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("seqdb: %w at %s: no database at that location, or it is corrupt, or it predates versioned databases",
			ErrContentsNotFound, dir)
	}
	if err != nil {
		return nil, fmt.Errorf("seqdb: failed to read contents: %w", err)
	}

	var c map[string]any
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("seqdb: failed to decode contents: %w", err)
	}

	return c, nil
}

// validateContents gates the descriptor on the supported version and
// that version's required keys, returning the version.
func validateContents(c map[string]any) (int, error) {
	raw, ok := c[versionKey]
	if !ok {
		return 0, &ErrMissingContentsKey{Key: versionKey}
	}

	number, ok := raw.(float64)
	if !ok {
		return 0, fmt.Errorf("contents key %s is not a number", versionKey)
	}
	version := int(number)

	if version != currentVersion {
		return 0, &ErrUnsupportedVersion{Found: version}
	}

	for _, key := range requiredContentsKeys[version] {
		if _, ok := c[key]; !ok {
			return 0, &ErrMissingContentsKey{Key: key}
		}
	}

	return version, nil
}
