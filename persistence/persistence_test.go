package persistence

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type artifact struct {
	Name    string
	IDs     []int64
	Payload map[int64]string
}

func testArtifact() artifact {
	return artifact{
		Name: "mA",
		IDs:  []int64{1, 2, 3},
		Payload: map[int64]string{
			1: "ATCG",
			2: "GGGG",
			3: "TTAA",
		},
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	codecs := map[string]Compression{
		"none": CompressionNone,
		"lz4":  CompressionLZ4,
		"zstd": CompressionZstd,
	}

	for name, codec := range codecs {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "a.idx")

			require.NoError(t, Save(path, KindHammingIndex, codec, testArtifact()))

			var got artifact
			require.NoError(t, Load(path, KindHammingIndex, &got))

			assert.Equal(t, testArtifact(), got)
		})
	}
}

func TestLoadKindMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.idx")
	require.NoError(t, Save(path, KindHammingIndex, CompressionZstd, testArtifact()))

	var got artifact
	assert.ErrorIs(t, Load(path, KindForestIndex, &got), ErrKindMismatch)
}

func TestLoadRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.idx")
	require.NoError(t, os.WriteFile(path, []byte("this is not an artifact, not even close"), 0o644))

	var got artifact
	assert.ErrorIs(t, Load(path, KindHammingIndex, &got), ErrInvalidMagic)
}

func TestLoadDetectsCorruption(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.idx")
	require.NoError(t, Save(path, KindHammingIndex, CompressionZstd, testArtifact()))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	// Flip one payload byte past the 24-byte header.
	raw[30] ^= 0xff
	require.NoError(t, os.WriteFile(path, raw, 0o644))

	var got artifact
	assert.ErrorIs(t, Load(path, KindHammingIndex, &got), ErrChecksumMismatch)
}

func TestSaveReplacesAtomically(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.idx")

	require.NoError(t, Save(path, KindHammingIndex, CompressionZstd, testArtifact()))

	second := testArtifact()
	second.Name = "mB"
	require.NoError(t, Save(path, KindHammingIndex, CompressionZstd, second))

	var got artifact
	require.NoError(t, Load(path, KindHammingIndex, &got))
	assert.Equal(t, "mB", got.Name)

	// No temp files may survive a successful save.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a.idx", entries[0].Name())
}

func TestLoadMissingFile(t *testing.T) {
	var got artifact
	err := Load(filepath.Join(t.TempDir(), "missing.idx"), KindHammingIndex, &got)
	assert.ErrorIs(t, err, os.ErrNotExist)
}
