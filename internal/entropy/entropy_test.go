package entropy

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/ideal-lab5/etf-cli/common/log"
	"github.com/ideal-lab5/etf-cli/common/testlogger"
)

func TestGetRandomDefault(t *testing.T) {
	r1, err := GetRandom(nil, 32)
	require.NoError(t, err)
	require.Len(t, r1, 32)

	r2, err := GetRandom(nil, 32)
	require.NoError(t, err)
	require.False(t, bytes.Equal(r1, r2))
}

func TestGetRandomShortSource(t *testing.T) {
	// a source too short is replaced by crypto/rand
	out, err := GetRandom(bytes.NewReader([]byte{1, 2, 3}), 12)
	require.NoError(t, err)
	require.Len(t, out, 12)
}

func TestGetRandomShortFileWarns(t *testing.T) {
	file := filepath.Join(t.TempDir(), "short.dat")
	require.NoError(t, os.WriteFile(file, []byte{1, 2, 3}, 0o600))

	var buf bytes.Buffer
	l := log.New(zapcore.AddSync(&buf), log.InfoLevel, true)
	r, err := GetReaderFromSource(file, l)
	require.NoError(t, err)

	out, err := GetRandom(r, 32)
	require.NoError(t, err)
	require.Len(t, out, 32)
	require.Contains(t, buf.String(), "falling back to crypto/rand")
	require.Contains(t, buf.String(), file)
}

func TestGetRandomFromSource(t *testing.T) {
	data := bytes.Repeat([]byte{0xab}, 16)
	out, err := GetRandom(bytes.NewReader(data), 16)
	require.NoError(t, err)
	require.Equal(t, data, out)
}

func TestFileSource(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "entropy.dat")
	data := []byte("test random data for file reader")
	require.NoError(t, os.WriteFile(file, data, 0o600))

	r, err := GetReaderFromSource(file, testlogger.New(t))
	require.NoError(t, err)

	out, err := GetRandom(r, uint32(len(data)))
	require.NoError(t, err)
	require.Equal(t, data, out)

	_, err = GetReaderFromSource(dir, testlogger.New(t))
	require.Error(t, err)
	_, err = GetReaderFromSource(filepath.Join(dir, "missing"), testlogger.New(t))
	require.Error(t, err)
}

func TestStream(t *testing.T) {
	seed := bytes.Repeat([]byte{5}, 32)
	s1, err := Stream(bytes.NewReader(seed))
	require.NoError(t, err)
	s2, err := Stream(bytes.NewReader(seed))
	require.NoError(t, err)

	a, b := make([]byte, 200), make([]byte, 200)
	s1.XORKeyStream(a, a)
	s2.XORKeyStream(b, b)
	require.Equal(t, a, b)

	// the stream keeps going past the seed length
	s1.XORKeyStream(a, make([]byte, 200))
	require.NotEqual(t, b, a)

	s3, err := Stream(nil)
	require.NoError(t, err)
	s3.XORKeyStream(a, a)
}
