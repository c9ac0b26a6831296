package key

import (
	"os"
	"path"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ideal-lab5/etf-cli/crypto"
)

func TestFileStoreSaveLoad(t *testing.T) {
	tmp := path.Join(t.TempDir(), "etf")
	s, err := NewFileStore(tmp)
	require.NoError(t, err)
	store := s.(*fileStore)
	require.Equal(t, tmp, store.baseFolder)

	a, err := NewAuthority(crypto.NewIdentityOnG1(), nil)
	require.NoError(t, err)
	require.NoError(t, store.SaveAuthority(a))

	info, err := os.Stat(store.authorityFile)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	_, err = os.Stat(store.publicFile)
	require.NoError(t, err)

	loaded, err := store.LoadAuthority()
	require.NoError(t, err)
	require.True(t, a.Secret.Equal(loaded.Secret))
	require.True(t, a.Public.Equal(loaded.Public))

	pub, err := store.LoadPublic()
	require.NoError(t, err)
	require.True(t, a.Public.Equal(pub))
}

func TestFileStoreMismatchedPublic(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	store := s.(*fileStore)

	a, err := NewAuthority(crypto.NewIdentityOnG1(), nil)
	require.NoError(t, err)
	b, err := NewAuthority(crypto.NewIdentityOnG1(), nil)
	require.NoError(t, err)

	require.NoError(t, store.SaveAuthority(a))
	require.NoError(t, Save(store.publicFile, b.Public, false))

	_, err = store.LoadAuthority()
	require.ErrorIs(t, err, ErrInvalidKeyScheme)
}

func TestFileStoreMissing(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	_, err = s.LoadAuthority()
	require.Error(t, err)
	_, err = s.LoadPublic()
	require.Error(t, err)
}
