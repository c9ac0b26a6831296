package metrics

import (
	"errors"
	"io"
	"net/http"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/ideal-lab5/etf-cli/common/testlogger"
)

func TestRecorder(t *testing.T) {
	Bind(testlogger.New(t))
	r := NewRecorder()

	okBefore := testutil.ToFloat64(EncryptCounter.WithLabelValues(ResultOK))
	errBefore := testutil.ToFloat64(EncryptCounter.WithLabelValues(ResultError))
	r.Encrypted(nil, 2)
	r.Encrypted(errors.New("boom"), 2)
	require.Equal(t, okBefore+1, testutil.ToFloat64(EncryptCounter.WithLabelValues(ResultOK)))
	require.Equal(t, errBefore+1, testutil.ToFloat64(EncryptCounter.WithLabelValues(ResultError)))

	before := testutil.ToFloat64(DecryptCounter.WithLabelValues("authentication"))
	r.Decrypted("authentication")
	require.Equal(t, before+1, testutil.ToFloat64(DecryptCounter.WithLabelValues("authentication")))

	NopRecorder().Encrypted(nil, 1)
	NopRecorder().Decrypted(ResultOK)
}

func TestStart(t *testing.T) {
	l := Start(testlogger.New(t), "127.0.0.1:0")
	require.NotNil(t, l)
	defer l.Close()

	NewRecorder().Encrypted(nil, 3)

	resp, err := http.Get("http://" + l.Addr().String() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "etf_encrypt_total")
}
