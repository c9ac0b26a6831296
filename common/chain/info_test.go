package chain

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ideal-lab5/etf-cli/crypto"
	"github.com/ideal-lab5/etf-cli/internal/slot"
	"github.com/ideal-lab5/etf-cli/key"
)

func newInfo(t *testing.T, sch *crypto.Scheme) *Info {
	t.Helper()
	a, err := key.NewAuthority(sch, nil)
	require.NoError(t, err)
	s, err := slot.NewSchedule(time.Unix(1_700_000_000, 0), 6*time.Second)
	require.NoError(t, err)
	return NewInfo(a.Public, s)
}

func TestInfoJSON(t *testing.T) {
	for _, sch := range []*crypto.Scheme{crypto.NewIdentityOnG1(), crypto.NewIdentityOnG2()} {
		info := newInfo(t, sch)

		var buf bytes.Buffer
		require.NoError(t, info.ToJSON(&buf))
		require.Contains(t, buf.String(), info.HashString())

		back, err := InfoFromJSON(&buf)
		require.NoError(t, err)
		require.True(t, info.Equal(back))
		require.Equal(t, info.Hash(), back.Hash())

		pub, err := back.MasterPublic()
		require.NoError(t, err)
		require.True(t, pub.Key.Equal(info.PublicKey))
		require.Equal(t, sch.Name, pub.Scheme.Name)

		s := back.Schedule()
		require.Equal(t, int64(1_700_000_000), s.Genesis)
		require.Equal(t, 6*time.Second, s.Period)
		require.Equal(t, slot.DefaultPrefix, s.Prefix)
	}
}

func TestInfoJSONRejects(t *testing.T) {
	info := newInfo(t, crypto.NewIdentityOnG1())
	buf, err := info.MarshalJSON()
	require.NoError(t, err)

	tampered := bytes.Replace(buf, []byte(`"prefix":"etf-slot-"`), []byte(`"prefix":"other-"`), 1)
	require.NotEqual(t, buf, tampered)
	_, err = InfoFromJSON(bytes.NewReader(tampered))
	require.Error(t, err)

	wrongScheme := bytes.Replace(buf, []byte(crypto.DefaultSchemeID), []byte(crypto.IdentityOnG2SchemeID), 1)
	_, err = InfoFromJSON(bytes.NewReader(wrongScheme))
	require.Error(t, err)

	_, err = InfoFromJSON(bytes.NewReader([]byte("{")))
	require.Error(t, err)
}

func TestInfoHashChanges(t *testing.T) {
	a := newInfo(t, crypto.NewIdentityOnG1())
	b := *a
	b.Period = 12 * time.Second
	require.NotEqual(t, a.Hash(), b.Hash())
	require.False(t, a.Equal(&b))
}
