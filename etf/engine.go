package etf

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/drand/kyber/share"
	"golang.org/x/crypto/blake2b"

	"github.com/ideal-lab5/etf-cli/common/log"
	"github.com/ideal-lab5/etf-cli/crypto"
	"github.com/ideal-lab5/etf-cli/crypto/hybrid"
	"github.com/ideal-lab5/etf-cli/crypto/ibe"
	"github.com/ideal-lab5/etf-cli/crypto/threshold"
	"github.com/ideal-lab5/etf-cli/internal/entropy"
	"github.com/ideal-lab5/etf-cli/internal/metrics"
	"github.com/ideal-lab5/etf-cli/key"
)

// MaxThreshold is the largest threshold a capsule header can carry.
const MaxThreshold = 255

const adTag = "etf-bundle-ad-v1"

// Engine seals messages to a set of identities and opens them again from
// released identity keys. An Engine is immutable and safe for concurrent use.
type Engine struct {
	scheme   *crypto.Scheme
	combiner threshold.Combiner
	kem      ibe.KEM
	rand     io.Reader
	log      log.Logger
	metrics  metrics.Recorder
}

// New returns an engine for sch, the default scheme when nil.
func New(sch *crypto.Scheme, opts ...Option) *Engine {
	if sch == nil {
		sch = crypto.NewIdentityOnG1()
	}
	e := &Engine{scheme: sch}
	for _, opt := range opts {
		opt(e)
	}
	if e.combiner == nil {
		e.combiner = threshold.NewShamir(sch.KeyGroup, e.rand)
	}
	if e.kem == nil {
		e.kem = ibe.NewKEM(sch, e.rand)
	}
	if e.log == nil {
		e.log = log.DefaultLogger().Named("etf")
	}
	if e.metrics == nil {
		e.metrics = metrics.NopRecorder()
	}
	return e
}

// Scheme returns the engine's scheme.
func (e *Engine) Scheme() *crypto.Scheme {
	return e.scheme
}

// Seal encrypts msg so that any t of the identity keys of ids recover it. Only
// the master public key is needed; Secrets is filled with one empty
// placeholder per identity.
func (e *Engine) Seal(master *key.MasterPublic, msg []byte, ids [][]byte, t int) (*Bundle, error) {
	b, err := e.seal(master, msg, ids, t)
	e.metrics.Encrypted(err, t)
	if err != nil {
		e.log.Debugw("seal failed", "n", len(ids), "threshold", t, "err", err)
		return nil, err
	}
	e.log.Debugw("sealed bundle", "n", len(ids), "threshold", t, "size", len(msg))
	return b, nil
}

func (e *Engine) seal(master *key.MasterPublic, msg []byte, ids [][]byte, t int) (*Bundle, error) {
	n := len(ids)
	if t < 1 || t > n || t > MaxThreshold {
		return nil, &EncryptError{
			Kind: KindInvalidThreshold,
			Err:  fmt.Errorf("t=%d n=%d", t, n),
		}
	}
	if master == nil || master.Key == nil || master.Scheme == nil {
		return nil, &EncryptError{Kind: KindInternal, Err: errors.New("missing master public key")}
	}
	if master.Scheme.Name != e.scheme.Name {
		return nil, &EncryptError{
			Kind: KindInternal,
			Err:  fmt.Errorf("%w: key is %s, engine is %s", key.ErrInvalidKeyScheme, master.Scheme.Name, e.scheme.Name),
		}
	}

	stream, err := entropy.Stream(e.rand)
	if err != nil {
		return nil, &EncryptError{Kind: KindInternal, Err: err}
	}
	k := e.scheme.KeyGroup.Scalar().Pick(stream)

	shares, err := e.combiner.Split(k, t, n)
	if err != nil {
		if errors.Is(err, threshold.ErrInvalidThreshold) {
			return nil, &EncryptError{Kind: KindInvalidThreshold, Err: err}
		}
		return nil, &EncryptError{Kind: KindInternal, Err: err}
	}
	if len(shares) != n {
		return nil, &EncryptError{Kind: KindInternal, Err: fmt.Errorf("combiner returned %d shares for %d identities", len(shares), n)}
	}

	etfCt := make([][]byte, n)
	for i, sh := range shares {
		payload, err := sh.V.MarshalBinary()
		if err != nil {
			return nil, &EncryptError{Kind: KindInternal, Err: err}
		}
		capsule, err := e.kem.Encapsulate(master.Key, ids[i], payload)
		if err != nil {
			return nil, &EncryptError{Kind: KindInternal, Err: fmt.Errorf("capsule %d: %w", i, err)}
		}
		etfCt[i] = append([]byte{byte(t)}, capsule...)
	}

	aeadKey, err := hybrid.DeriveScalarKey(k)
	if err != nil {
		return nil, &EncryptError{Kind: KindInternal, Err: err}
	}
	ciphertext, nonce, err := hybrid.Seal(aeadKey, msg, capsulesDigest(etfCt), e.rand)
	if err != nil {
		return nil, &EncryptError{Kind: KindInternal, Err: err}
	}

	secrets := make([][]byte, n)
	for i := range secrets {
		secrets[i] = []byte{}
	}
	return &Bundle{
		Ciphertext: ciphertext,
		Nonce:      nonce,
		EtfCt:      etfCt,
		Secrets:    secrets,
	}, nil
}

// Encrypt is Seal followed by the derivation of every identity key by the
// authority, so the returned bundle is self-contained.
func (e *Engine) Encrypt(authority *key.Authority, msg []byte, ids [][]byte, t int) (*Bundle, error) {
	if authority == nil {
		err := &EncryptError{Kind: KindInternal, Err: errors.New("missing authority")}
		e.metrics.Encrypted(err, t)
		return nil, err
	}
	b, err := e.Seal(authority.Public, msg, ids, t)
	if err != nil {
		return nil, err
	}
	secrets, err := authority.CalculateSecretKeys(ids)
	if err != nil {
		return nil, &EncryptError{Kind: KindInternal, Err: err}
	}
	b.Secrets = secrets
	return b, nil
}

// Decrypt recovers the message from the capsules and the identity keys in
// secrets, aligned by position. Empty or undecodable secrets are treated as
// absent. A well formed key that does not open its capsule fails the whole
// call with a share mismatch.
func (e *Engine) Decrypt(ciphertext, nonce []byte, etfCt, secrets [][]byte) ([]byte, error) {
	msg, err := e.decrypt(ciphertext, nonce, etfCt, secrets)
	if err != nil {
		var derr *DecryptError
		result := metrics.ResultError
		if errors.As(err, &derr) {
			result = derr.Kind.String()
		}
		e.metrics.Decrypted(result)
		e.log.Debugw("decrypt failed", "n", len(etfCt), "err", err)
		return nil, err
	}
	e.metrics.Decrypted(metrics.ResultOK)
	return msg, nil
}

// DecryptBundle decrypts b with the secrets it carries.
func (e *Engine) DecryptBundle(b *Bundle) ([]byte, error) {
	if b == nil {
		return nil, decryptErr(KindMalformedInput, -1, errors.New("nil bundle"))
	}
	return e.Decrypt(b.Ciphertext, b.Nonce, b.EtfCt, b.Secrets)
}

func (e *Engine) decrypt(ciphertext, nonce []byte, etfCt, secrets [][]byte) ([]byte, error) {
	n := len(etfCt)
	if n == 0 {
		return nil, decryptErr(KindMalformedInput, -1, errors.New("no capsules"))
	}
	if len(secrets) != n {
		return nil, decryptErr(KindMalformedInput, -1, fmt.Errorf("%d capsules but %d secrets", n, len(secrets)))
	}
	if len(nonce) != hybrid.NonceSize {
		return nil, decryptErr(KindMalformedInput, -1, fmt.Errorf("%w: %d bytes", hybrid.ErrNonceSize, len(nonce)))
	}

	t, err := capsuleThreshold(etfCt)
	if err != nil {
		return nil, err
	}

	shares := make([]*share.PriShare, 0, t)
	for i, secret := range secrets {
		if len(secret) == 0 {
			continue
		}
		d, err := crypto.UnmarshalPoint(e.scheme.IdentityGroup, secret)
		if err != nil {
			e.log.Debugw("ignoring unusable secret", "index", i, "err", err)
			continue
		}
		payload, err := e.kem.Decapsulate(d, etfCt[i][1:])
		switch {
		case errors.Is(err, ibe.ErrInvalidCiphertext):
			return nil, decryptErr(KindMalformedInput, i, err)
		case err != nil:
			return nil, decryptErr(KindShareMismatch, i, err)
		}
		v := e.scheme.KeyGroup.Scalar()
		if err := v.UnmarshalBinary(payload); err != nil {
			return nil, decryptErr(KindShareMismatch, i, err)
		}
		shares = append(shares, &share.PriShare{I: i, V: v})
	}
	if len(shares) < t {
		return nil, decryptErr(KindInsufficientShares, -1, fmt.Errorf("have %d, need %d", len(shares), t))
	}

	k, err := e.combiner.Combine(shares, t, n)
	if err != nil {
		if errors.Is(err, threshold.ErrNotEnoughShares) {
			return nil, decryptErr(KindInsufficientShares, -1, err)
		}
		return nil, decryptErr(KindMalformedInput, -1, err)
	}
	aeadKey, err := hybrid.DeriveScalarKey(k)
	if err != nil {
		return nil, decryptErr(KindMalformedInput, -1, err)
	}
	msg, err := hybrid.Open(aeadKey, nonce, ciphertext, capsulesDigest(etfCt))
	if err != nil {
		return nil, decryptErr(KindAuthentication, -1, err)
	}
	return msg, nil
}

// capsuleThreshold returns the threshold every capsule header agrees on.
func capsuleThreshold(etfCt [][]byte) (int, error) {
	n := len(etfCt)
	t := 0
	for i, c := range etfCt {
		if len(c) < 2 {
			return 0, decryptErr(KindMalformedInput, i, errors.New("capsule too short"))
		}
		ct := int(c[0])
		if ct < 1 || ct > n {
			return 0, decryptErr(KindMalformedInput, i, fmt.Errorf("threshold %d out of range for %d capsules", ct, n))
		}
		if i > 0 && ct != t {
			return 0, decryptErr(KindMalformedInput, i, fmt.Errorf("threshold %d, previous capsules say %d", ct, t))
		}
		t = ct
	}
	return t, nil
}

// capsulesDigest is the AEAD associated data: it ties the ciphertext to the
// exact capsule list it was sealed with.
func capsulesDigest(etfCt [][]byte) []byte {
	h, _ := blake2b.New256(nil)
	_, _ = h.Write([]byte(adTag))
	var l [4]byte
	binary.BigEndian.PutUint32(l[:], uint32(len(etfCt)))
	_, _ = h.Write(l[:])
	for _, c := range etfCt {
		binary.BigEndian.PutUint32(l[:], uint32(len(c)))
		_, _ = h.Write(l[:])
		_, _ = h.Write(c)
	}
	return h.Sum(nil)
}
