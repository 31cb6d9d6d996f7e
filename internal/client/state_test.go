package client

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pondok-erp/pondok-erp/internal/session"
)

func TestStateFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session.json")
	f, err := NewStateFile(path)
	require.NoError(t, err)

	_, err = f.Load()
	assert.ErrorIs(t, err, ErrNoState)

	st := State{Server: "http://localhost:8080", Token: "tok-1", User: session.Snapshot{Username: "siti", Role: "bendahara"}}
	require.NoError(t, f.Save(st))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	got, err := f.Load()
	require.NoError(t, err)
	assert.Equal(t, "tok-1", got.Token)
	assert.Equal(t, "siti", got.User.Username)
	assert.False(t, got.SavedAt.IsZero())

	require.NoError(t, f.Clear())
	require.NoError(t, f.Clear())
	_, err = f.Load()
	assert.ErrorIs(t, err, ErrNoState)
}

func TestStateFileRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
	f, err := NewStateFile(path)
	require.NoError(t, err)

	_, err = f.Load()
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoState)
}
