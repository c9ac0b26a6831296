package etf

import (
	"errors"
	"sync"
	"testing"

	"github.com/drand/kyber"
	"github.com/drand/kyber/share"
	"github.com/stretchr/testify/require"

	"github.com/ideal-lab5/etf-cli/common/testlogger"
	"github.com/ideal-lab5/etf-cli/crypto"
	"github.com/ideal-lab5/etf-cli/crypto/threshold"
	"github.com/ideal-lab5/etf-cli/key"
)

type recorder struct {
	sync.Mutex
	encrypted []error
	decrypted []string
}

func (r *recorder) Encrypted(err error, _ int) {
	r.Lock()
	defer r.Unlock()
	r.encrypted = append(r.encrypted, err)
}

func (r *recorder) Decrypted(result string) {
	r.Lock()
	defer r.Unlock()
	r.decrypted = append(r.decrypted, result)
}

func newTestEngine(t *testing.T, sch *crypto.Scheme, opts ...Option) (*Engine, *key.Authority) {
	t.Helper()
	if sch == nil {
		sch = crypto.NewIdentityOnG1()
	}
	authority, err := key.NewAuthority(sch, nil)
	require.NoError(t, err)
	opts = append([]Option{WithLogger(testlogger.New(t))}, opts...)
	return New(sch, opts...), authority
}

func TestSealThenRelease(t *testing.T) {
	for _, sch := range []*crypto.Scheme{crypto.NewIdentityOnG1(), crypto.NewIdentityOnG2()} {
		sch := sch
		t.Run(sch.Name, func(t *testing.T) {
			e, authority := newTestEngine(t, sch)
			identities := [][]byte{[]byte("slot-1"), []byte("slot-2"), []byte("slot-3")}

			b, err := e.Seal(authority.Public, []byte("sealed with the public key only"), identities, 2)
			require.NoError(t, err)
			require.NoError(t, b.Validate())
			require.Equal(t, 0, b.Released())
			for _, c := range b.EtfCt {
				require.Len(t, c, 1+sch.KeyGroup.PointLen()+2*sch.KeyGroup.ScalarLen())
				require.Equal(t, byte(2), c[0])
			}
			thr, err := b.Threshold()
			require.NoError(t, err)
			require.Equal(t, 2, thr)

			_, err = e.DecryptBundle(b)
			require.ErrorIs(t, err, ErrInsufficientShares)

			d, err := authority.DeriveKey(identities[1]).MarshalBinary()
			require.NoError(t, err)
			b.Secrets[1] = d
			_, err = e.DecryptBundle(b)
			require.ErrorIs(t, err, ErrInsufficientShares)

			d, err = authority.DeriveKey(identities[2]).MarshalBinary()
			require.NoError(t, err)
			b.Secrets[2] = d
			require.Equal(t, 2, b.Released())
			out, err := e.DecryptBundle(b)
			require.NoError(t, err)
			require.Equal(t, "sealed with the public key only", string(out))
		})
	}
}

func TestSchemeMismatch(t *testing.T) {
	e, _ := newTestEngine(t, crypto.NewIdentityOnG1())
	other, err := key.NewAuthority(crypto.NewIdentityOnG2(), nil)
	require.NoError(t, err)

	_, err = e.Seal(other.Public, []byte("m"), [][]byte{[]byte("a")}, 1)
	require.ErrorIs(t, err, ErrEncryptInternal)
	require.ErrorIs(t, err, key.ErrInvalidKeyScheme)

	_, err = e.Seal(nil, []byte("m"), [][]byte{[]byte("a")}, 1)
	require.ErrorIs(t, err, ErrEncryptInternal)
	_, err = e.Encrypt(nil, []byte("m"), [][]byte{[]byte("a")}, 1)
	require.ErrorIs(t, err, ErrEncryptInternal)
}

func TestMetricsRecorded(t *testing.T) {
	rec := new(recorder)
	e, authority := newTestEngine(t, nil, WithMetrics(rec))

	b, err := e.Encrypt(authority, []byte("m"), [][]byte{[]byte("a"), []byte("b")}, 1)
	require.NoError(t, err)
	_, err = e.Encrypt(authority, []byte("m"), [][]byte{[]byte("a")}, 2)
	require.Error(t, err)

	_, err = e.DecryptBundle(b)
	require.NoError(t, err)
	c := b.Clone()
	c.Ciphertext[0] ^= 1
	_, err = e.DecryptBundle(c)
	require.Error(t, err)

	require.Len(t, rec.encrypted, 2)
	require.NoError(t, rec.encrypted[0])
	require.Error(t, rec.encrypted[1])
	require.Equal(t, []string{"ok", KindAuthentication.String()}, rec.decrypted)
}

// countingCombiner wraps Shamir and remembers how many shares it combined.
type countingCombiner struct {
	threshold.Combiner
	combined int
}

func (c *countingCombiner) Combine(shares []*share.PriShare, t, n int) (kyber.Scalar, error) {
	c.combined = len(shares)
	return c.Combiner.Combine(shares, t, n)
}

func TestCustomCombiner(t *testing.T) {
	sch := crypto.NewIdentityOnG1()
	cc := &countingCombiner{Combiner: threshold.NewShamir(sch.KeyGroup, nil)}
	e, authority := newTestEngine(t, sch, WithCombiner(cc))

	b, err := e.Encrypt(authority, []byte("m"), [][]byte{[]byte("a"), []byte("b"), []byte("c")}, 2)
	require.NoError(t, err)
	_, err = e.DecryptBundle(b)
	require.NoError(t, err)
	require.Equal(t, 3, cc.combined)
}

func TestConcurrentUse(t *testing.T) {
	e, authority := newTestEngine(t, nil)
	identities := [][]byte{[]byte("a"), []byte("b"), []byte("c")}

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			msg := []byte{byte(i)}
			b, err := e.Encrypt(authority, msg, identities, 2)
			if err != nil {
				errs <- err
				return
			}
			out, err := e.DecryptBundle(b)
			if err != nil {
				errs <- err
				return
			}
			if out[0] != byte(i) {
				errs <- errors.New("wrong plaintext")
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
}

func TestErrorMessages(t *testing.T) {
	err := &DecryptError{Kind: KindShareMismatch, Index: 2, Err: errors.New("boom")}
	require.Equal(t, "etf: decrypt: share mismatch at index 2: boom", err.Error())
	require.ErrorIs(t, err, ErrShareMismatch)
	require.NotErrorIs(t, err, ErrAuthentication)

	err = &DecryptError{Kind: KindInsufficientShares, Index: -1}
	require.Equal(t, "etf: decrypt: insufficient shares", err.Error())

	eerr := &EncryptError{Kind: KindInvalidThreshold, Err: errors.New("t=0 n=1")}
	require.Equal(t, "etf: encrypt: invalid threshold: t=0 n=1", eerr.Error())
	require.Equal(t, "invalid_threshold", eerr.Kind.String())

	cerr := &CodecError{Op: "decode", Err: errors.New("eof")}
	require.ErrorIs(t, cerr, ErrCodec)
}
