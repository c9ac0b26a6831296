package hybrid

import (
	"bytes"
	"testing"

	"github.com/drand/kyber/util/random"
	"github.com/stretchr/testify/require"

	"github.com/ideal-lab5/etf-cli/crypto"
)

func TestSealOpen(t *testing.T) {
	key, err := DeriveKey([]byte("shared secret"), Info)
	require.NoError(t, err)
	require.Len(t, key, KeySize)

	for _, msg := range [][]byte{{}, []byte("this is a test"), bytes.Repeat([]byte{1}, 4096)} {
		ct, nonce, err := Seal(key, msg, []byte("ad"), nil)
		require.NoError(t, err)
		require.Len(t, nonce, NonceSize)
		require.Len(t, ct, len(msg)+TagSize)

		out, err := Open(key, nonce, ct, []byte("ad"))
		require.NoError(t, err)
		require.Equal(t, msg, out)
	}
}

func TestOpenFailures(t *testing.T) {
	key, err := DeriveKey([]byte("k"), Info)
	require.NoError(t, err)
	ct, nonce, err := Seal(key, []byte("this is a test"), nil, nil)
	require.NoError(t, err)

	flipped := append([]byte(nil), ct...)
	flipped[0] ^= 1
	_, err = Open(key, nonce, flipped, nil)
	require.ErrorIs(t, err, ErrAuthentication)

	badNonce := append([]byte(nil), nonce...)
	badNonce[11] ^= 0x10
	_, err = Open(key, badNonce, ct, nil)
	require.ErrorIs(t, err, ErrAuthentication)

	_, err = Open(key, nonce, ct, []byte("other ad"))
	require.ErrorIs(t, err, ErrAuthentication)

	other, err := DeriveKey([]byte("k2"), Info)
	require.NoError(t, err)
	_, err = Open(other, nonce, ct, nil)
	require.ErrorIs(t, err, ErrAuthentication)

	_, err = Open(key, nonce[:8], ct, nil)
	require.ErrorIs(t, err, ErrNonceSize)
}

func TestDeriveScalarKey(t *testing.T) {
	g := crypto.NewIdentityOnG1().KeyGroup
	k := g.Scalar().Pick(random.New())

	k1, err := DeriveScalarKey(k)
	require.NoError(t, err)
	k2, err := DeriveScalarKey(k.Clone())
	require.NoError(t, err)
	require.Equal(t, k1, k2)

	k3, err := DeriveScalarKey(g.Scalar().Pick(random.New()))
	require.NoError(t, err)
	require.NotEqual(t, k1, k3)
}
