package seqdb

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContentsRoundTrip(t *testing.T) {
	dir := t.TempDir()

	require.NoError(t, writeContents(dir))

	c, err := readContents(dir)
	require.NoError(t, err)

	version, err := validateContents(c)
	require.NoError(t, err)
	assert.Equal(t, 4, version)
}

func TestReadContentsMissing(t *testing.T) {
	_, err := readContents(t.TempDir())
	assert.ErrorIs(t, err, ErrContentsNotFound)
}

func TestReadContentsMalformed(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, contentsFileName), []byte("{nope"), 0o644))

	_, err := readContents(dir)
	assert.Error(t, err)
}

func TestValidateContents(t *testing.T) {
	t.Run("older version", func(t *testing.T) {
		_, err := validateContents(map[string]any{versionKey: float64(3)})

		var versionErr *ErrUnsupportedVersion
		require.ErrorAs(t, err, &versionErr)
		assert.Equal(t, 3, versionErr.Found)
	})

	t.Run("newer version", func(t *testing.T) {
		_, err := validateContents(map[string]any{versionKey: float64(5)})

		var versionErr *ErrUnsupportedVersion
		require.ErrorAs(t, err, &versionErr)
		assert.Equal(t, 5, versionErr.Found)
	})

	t.Run("missing version key", func(t *testing.T) {
		_, err := validateContents(map[string]any{"other": float64(4)})

		var keyErr *ErrMissingContentsKey
		require.ErrorAs(t, err, &keyErr)
		assert.Equal(t, versionKey, keyErr.Key)
	})

	t.Run("version not a number", func(t *testing.T) {
		_, err := validateContents(map[string]any{versionKey: "4"})
		assert.Error(t, err)
	})
}
