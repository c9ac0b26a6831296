// Package hybrid is the symmetric half of the scheme: a key scalar protected
// by the threshold layer is stretched with HKDF into an AES-256-GCM key.
package hybrid

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"github.com/drand/kyber"
	"golang.org/x/crypto/hkdf"

	"github.com/ideal-lab5/etf-cli/internal/entropy"
)

const (
	// KeySize is the AES-256 key size.
	KeySize = 32
	// NonceSize is the GCM nonce size.
	NonceSize = 12
	// TagSize is the GCM tag appended to every ciphertext.
	TagSize = 16
)

// Info is the HKDF info string binding derived keys to this construction.
var Info = []byte("etf-hybrid-aes256gcm-v1")

var (
	// ErrAuthentication is returned when the GCM tag does not verify.
	ErrAuthentication = errors.New("message authentication failed")
	// ErrNonceSize is returned for nonces that are not NonceSize long.
	ErrNonceSize = errors.New("invalid nonce size")
)

// DeriveKey stretches secret into a KeySize symmetric key.
func DeriveKey(secret, info []byte) ([]byte, error) {
	reader := hkdf.New(sha256.New, secret, nil, info)
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("not enough bits from the shared secret: %w", err)
	}
	return key, nil
}

// DeriveScalarKey derives the symmetric key from a key scalar.
func DeriveScalarKey(k kyber.Scalar) ([]byte, error) {
	buff, err := k.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return DeriveKey(buff, Info)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Seal encrypts msg under key with a fresh nonce read from rand (crypto/rand
// when nil). ad is authenticated but not encrypted.
func Seal(key, msg, ad []byte, rand io.Reader) (ciphertext, nonce []byte, err error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, nil, err
	}
	nonce, err = entropy.GetRandom(rand, NonceSize)
	if err != nil {
		return nil, nil, err
	}
	return aead.Seal(nil, nonce, msg, ad), nonce, nil
}

// Open decrypts and authenticates ciphertext. Any tag failure, whatever its
// cause, is reported as ErrAuthentication.
func Open(key, nonce, ciphertext, ad []byte) ([]byte, error) {
	if len(nonce) != NonceSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrNonceSize, len(nonce))
	}
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	msg, err := aead.Open(nil, nonce, ciphertext, ad)
	if err != nil {
		return nil, ErrAuthentication
	}
	if msg == nil {
		msg = []byte{}
	}
	return msg, nil
}
