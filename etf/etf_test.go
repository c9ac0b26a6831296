package etf_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ideal-lab5/etf-cli/common/testlogger"
	"github.com/ideal-lab5/etf-cli/crypto"
	"github.com/ideal-lab5/etf-cli/etf"
	"github.com/ideal-lab5/etf-cli/key"
)

func ids(names ...string) [][]byte {
	out := make([][]byte, len(names))
	for i, n := range names {
		out[i] = []byte(n)
	}
	return out
}

// keep returns secrets with every position not in idx replaced by an empty
// placeholder.
func keep(secrets [][]byte, idx ...int) [][]byte {
	out := make([][]byte, len(secrets))
	for i := range out {
		out[i] = []byte{}
	}
	for _, i := range idx {
		out[i] = secrets[i]
	}
	return out
}

func TestReferenceScenario(t *testing.T) {
	msg := []byte("this is a test")
	b, err := etf.Encrypt(msg, ids("id1", "id2", "id3"), 2)
	require.NoError(t, err)
	require.Len(t, b.EtfCt, 3)
	require.Len(t, b.Secrets, 3)

	// only the keys of id1 and id3 were released
	out, err := etf.Decrypt(b.Ciphertext, b.Nonce, b.EtfCt, keep(b.Secrets, 0, 2))
	require.NoError(t, err)
	require.Equal(t, msg, out)
}

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		msg  []byte
		ids  [][]byte
		t    int
	}{
		{"empty message", []byte{}, ids("id1", "id2", "id3"), 2},
		{"single identity", []byte("x"), ids("only"), 1},
		{"t equals n", []byte("all of them"), ids("a", "b", "c", "d"), 4},
		{"duplicated ids", []byte("dup"), ids("same", "same", "other"), 2},
		{"empty identity", []byte("anonymous"), [][]byte{{}, []byte("b")}, 1},
		{"large message", make([]byte, 1<<16), ids("a", "b", "c"), 2},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			b, err := etf.Encrypt(tt.msg, tt.ids, tt.t)
			require.NoError(t, err)
			out, err := etf.Decrypt(b.Ciphertext, b.Nonce, b.EtfCt, b.Secrets)
			require.NoError(t, err)
			require.Equal(t, tt.msg, out)
			require.NotNil(t, out)
		})
	}
}

func TestThresholdFloor(t *testing.T) {
	b, err := etf.Encrypt([]byte("this is a test"), ids("id1", "id2", "id3", "id4", "id5"), 3)
	require.NoError(t, err)

	cases := [][][]byte{
		keep(b.Secrets, 0, 4),
		keep(b.Secrets, 2),
		keep(b.Secrets),
	}
	for _, secrets := range cases {
		_, err := etf.Decrypt(b.Ciphertext, b.Nonce, b.EtfCt, secrets)
		require.ErrorIs(t, err, etf.ErrInsufficientShares)

		var derr *etf.DecryptError
		require.True(t, errors.As(err, &derr))
		require.Equal(t, etf.KindInsufficientShares, derr.Kind)
	}

	// garbage and identity-element secrets count as absent
	sch := crypto.NewIdentityOnG1()
	null, err := sch.IdentityGroup.Point().Null().MarshalBinary()
	require.NoError(t, err)
	secrets := keep(b.Secrets, 0, 1)
	secrets[2] = []byte{1, 2, 3}
	secrets[3] = null
	_, err = etf.Decrypt(b.Ciphertext, b.Nonce, b.EtfCt, secrets)
	require.ErrorIs(t, err, etf.ErrInsufficientShares)
}

func TestAnySubset(t *testing.T) {
	msg := []byte("any three will do")
	b, err := etf.Encrypt(msg, ids("a", "b", "c", "d", "e"), 3)
	require.NoError(t, err)

	subsets := [][]int{
		{0, 1, 2}, {0, 1, 3}, {0, 1, 4}, {0, 2, 3}, {0, 2, 4},
		{0, 3, 4}, {1, 2, 3}, {1, 2, 4}, {1, 3, 4}, {2, 3, 4},
		{0, 1, 2, 3}, {0, 1, 2, 3, 4},
	}
	for _, s := range subsets {
		out, err := etf.Decrypt(b.Ciphertext, b.Nonce, b.EtfCt, keep(b.Secrets, s...))
		require.NoError(t, err, "subset %v", s)
		require.Equal(t, msg, out)
	}
}

func TestTamperDetection(t *testing.T) {
	msg := []byte("this is a test")
	b, err := etf.Encrypt(msg, ids("id1", "id2", "id3"), 2)
	require.NoError(t, err)

	for i := range b.Ciphertext {
		c := b.Clone()
		c.Ciphertext[i] ^= 0x01
		_, err := etf.Decrypt(c.Ciphertext, c.Nonce, c.EtfCt, c.Secrets)
		require.ErrorIs(t, err, etf.ErrAuthentication, "ciphertext byte %d", i)
	}
	for i := range b.Nonce {
		c := b.Clone()
		c.Nonce[i] ^= 0x80
		_, err := etf.Decrypt(c.Ciphertext, c.Nonce, c.EtfCt, c.Secrets)
		require.ErrorIs(t, err, etf.ErrAuthentication, "nonce byte %d", i)
	}

	// a capsule whose key is withheld still binds the ciphertext
	c := b.Clone()
	c.EtfCt[1][len(c.EtfCt[1])-1] ^= 0x01
	_, err = etf.Decrypt(c.Ciphertext, c.Nonce, c.EtfCt, keep(c.Secrets, 0, 2))
	require.ErrorIs(t, err, etf.ErrAuthentication)

	// with its key supplied, the capsule itself no longer opens
	_, err = etf.Decrypt(c.Ciphertext, c.Nonce, c.EtfCt, c.Secrets)
	require.ErrorIs(t, err, etf.ErrShareMismatch)
}

func TestWrongIdentity(t *testing.T) {
	sch := crypto.NewIdentityOnG1()
	authority, err := key.NewAuthority(sch, nil)
	require.NoError(t, err)
	engine := etf.New(sch, etf.WithLogger(testlogger.New(t)))

	b, err := engine.Encrypt(authority, []byte("this is a test"), ids("id1", "id2", "id3"), 2)
	require.NoError(t, err)

	wrong, err := authority.CalculateSecretKeys(ids("id4"))
	require.NoError(t, err)
	secrets := keep(b.Secrets, 0)
	secrets[1] = wrong[0]

	_, err = engine.Decrypt(b.Ciphertext, b.Nonce, b.EtfCt, secrets)
	require.ErrorIs(t, err, etf.ErrShareMismatch)
	var derr *etf.DecryptError
	require.True(t, errors.As(err, &derr))
	require.Equal(t, 1, derr.Index)

	// keys of another authority for the right identities
	other, err := key.NewAuthority(sch, nil)
	require.NoError(t, err)
	foreign, err := other.CalculateSecretKeys(ids("id1", "id2", "id3"))
	require.NoError(t, err)
	_, err = engine.Decrypt(b.Ciphertext, b.Nonce, b.EtfCt, foreign)
	require.ErrorIs(t, err, etf.ErrShareMismatch)
	require.True(t, errors.As(err, &derr))
	require.Equal(t, 0, derr.Index)
}

func TestInvalidThreshold(t *testing.T) {
	for _, tc := range []struct {
		ids [][]byte
		t   int
	}{
		{ids("a", "b"), 0},
		{ids("a", "b"), 3},
		{nil, 1},
		{ids("a"), -1},
	} {
		b, err := etf.Encrypt([]byte("msg"), tc.ids, tc.t)
		require.Nil(t, b)
		require.ErrorIs(t, err, etf.ErrInvalidThreshold)
		var eerr *etf.EncryptError
		require.True(t, errors.As(err, &eerr))
		require.Equal(t, etf.KindInvalidThreshold, eerr.Kind)
	}

	many := make([][]byte, etf.MaxThreshold+1)
	for i := range many {
		many[i] = []byte{byte(i), byte(i >> 8)}
	}
	_, err := etf.Encrypt([]byte("msg"), many, etf.MaxThreshold+1)
	require.ErrorIs(t, err, etf.ErrInvalidThreshold)
}

func TestMalformedInputs(t *testing.T) {
	b, err := etf.Encrypt([]byte("this is a test"), ids("id1", "id2", "id3"), 2)
	require.NoError(t, err)

	_, err = etf.Decrypt(b.Ciphertext, b.Nonce, b.EtfCt, b.Secrets[:2])
	require.ErrorIs(t, err, etf.ErrMalformedInput)

	_, err = etf.Decrypt(b.Ciphertext, b.Nonce, nil, nil)
	require.ErrorIs(t, err, etf.ErrMalformedInput)

	_, err = etf.Decrypt(b.Ciphertext, b.Nonce[:8], b.EtfCt, b.Secrets)
	require.ErrorIs(t, err, etf.ErrMalformedInput)

	c := b.Clone()
	c.EtfCt[2][0] = 3
	_, err = etf.Decrypt(c.Ciphertext, c.Nonce, c.EtfCt, c.Secrets)
	require.ErrorIs(t, err, etf.ErrMalformedInput)

	c = b.Clone()
	c.EtfCt[0] = c.EtfCt[0][:40]
	_, err = etf.Decrypt(c.Ciphertext, c.Nonce, c.EtfCt, c.Secrets)
	require.ErrorIs(t, err, etf.ErrMalformedInput)

	c = b.Clone()
	c.EtfCt[1] = []byte{}
	_, err = etf.Decrypt(c.Ciphertext, c.Nonce, c.EtfCt, c.Secrets)
	require.ErrorIs(t, err, etf.ErrMalformedInput)
}
