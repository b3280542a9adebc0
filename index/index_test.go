package index

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryGetMemoizes(t *testing.T) {
	loads := 0
	reg := NewRegistry(func(path string) (string, error) {
		loads++
		return "opened:" + path, nil
	})

	reg.Register("mA", "indices/mA.nmslib_index")

	first, err := reg.Get("mA")
	require.NoError(t, err)
	assert.Equal(t, "opened:indices/mA.nmslib_index", first)

	second, err := reg.Get("mA")
	require.NoError(t, err)
	assert.Equal(t, first, second)

	assert.Equal(t, 1, loads)
}

func TestRegistryUnknownMarker(t *testing.T) {
	reg := NewRegistry(func(path string) (string, error) {
		return path, nil
	})

	_, err := reg.Get("mZ")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRegistryLoadErrorIsRetried(t *testing.T) {
	boom := errors.New("boom")

	fail := true
	reg := NewRegistry(func(path string) (string, error) {
		if fail {
			return "", boom
		}
		return path, nil
	})

	reg.Register("mA", "mA.annoy_index")

	_, err := reg.Get("mA")
	assert.ErrorIs(t, err, boom)

	fail = false

	got, err := reg.Get("mA")
	require.NoError(t, err)
	assert.Equal(t, "mA.annoy_index", got)
}

func TestRegistryReRegisterDropsLoaded(t *testing.T) {
	reg := NewRegistry(func(path string) (string, error) {
		return "opened:" + path, nil
	})

	reg.Register("mA", "old")
	_, err := reg.Get("mA")
	require.NoError(t, err)

	reg.Register("mA", "new")

	got, err := reg.Get("mA")
	require.NoError(t, err)
	assert.Equal(t, "opened:new", got)
}

func TestRegistryMarkers(t *testing.T) {
	reg := NewRegistry(func(path string) (string, error) {
		return path, nil
	})

	reg.Register("mC", "c")
	reg.Register("mA", "a")
	reg.Register("mB", "b")

	assert.Equal(t, 3, reg.Len())
	assert.Equal(t, []string{"mA", "mB", "mC"}, reg.Markers())
}
