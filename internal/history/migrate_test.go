package history

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrator_UpDownVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")

	mg, err := NewMigrator(path)
	require.NoError(t, err)
	defer mg.Close()

	_, _, ok, err := mg.Version()
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, mg.Up())
	require.NoError(t, mg.Up())

	version, dirty, ok, err := mg.Version()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, dirty)
	assert.Equal(t, uint(2), version)

	require.NoError(t, mg.Steps(-1))
	version, _, _, err = mg.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)

	require.NoError(t, mg.Down())
	_, _, ok, err = mg.Version()
	require.NoError(t, err)
	assert.False(t, ok)
}
