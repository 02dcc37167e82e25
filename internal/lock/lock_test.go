package lock

import (
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	moverrors "github.com/Warky-Devs/WkMailMove/internal/errors"
)

func TestAcquire(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".wkmailmove.lck")

	first, err := Acquire(path)
	require.NoError(t, err)
	assert.Equal(t, path, first.Path())

	_, err = Acquire(path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, moverrors.ErrLocked))

	require.NoError(t, first.Release())

	second, err := Acquire(path)
	require.NoError(t, err)
	require.NoError(t, second.Release())
}

func TestAcquire_MissingDirectory(t *testing.T) {
	_, err := Acquire(filepath.Join(t.TempDir(), "missing", "x.lck"))
	assert.Error(t, err)
	assert.False(t, errors.Is(err, moverrors.ErrLocked))
}
