package fs

import (
	"os"
	"path"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSecureFolder(t *testing.T) {
	tmpPath := path.Join(t.TempDir(), "config")

	fpath, err := CreateSecureFolder(tmpPath)
	require.NoError(t, err)

	npath, err := CreateSecureFolder(tmpPath)
	require.NoError(t, err)
	require.Equal(t, fpath, npath)

	b, err := Exists(npath)
	require.True(t, b)
	require.NoError(t, err)

	b, err = Exists(path.Join(tmpPath, "blou"))
	require.False(t, b)
	require.NoError(t, err)
}

func TestSecureFile(t *testing.T) {
	dir := t.TempDir()
	file := path.Join(dir, "secured")

	require.NoError(t, WriteSecureFile(file, []byte("first")))
	require.NoError(t, WriteSecureFile(file, []byte("2nd")))

	info, err := os.Stat(file)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	content, err := os.ReadFile(file)
	require.NoError(t, err)
	require.Equal(t, "2nd", string(content))

	files, err := Files(dir)
	require.NoError(t, err)
	require.Equal(t, []string{file}, files)
}

func TestSecureFolderOnFile(t *testing.T) {
	file := path.Join(t.TempDir(), "plain")
	require.NoError(t, os.WriteFile(file, nil, 0o600))

	_, err := CreateSecureFolder(file)
	require.Error(t, err)
}
