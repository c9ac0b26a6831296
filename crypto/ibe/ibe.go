// Package ibe implements the Boneh-Franklin FullIdent identity based
// encryption scheme over a crypto.Scheme. A payload encrypted to an identity
// can only be recovered with d = s·H1(id), the identity key derived by the
// holder of the master secret s.
package ibe

import (
	"errors"
	"fmt"
	"io"

	"github.com/drand/kyber"
	"github.com/drand/kyber/util/random"
	"golang.org/x/crypto/blake2s"

	"github.com/ideal-lab5/etf-cli/crypto"
	"github.com/ideal-lab5/etf-cli/internal/entropy"
)

const (
	// MaxPayloadSize is the largest payload Encrypt accepts.
	MaxPayloadSize = 1<<16 - 1
	// SigmaSize is the length of σ, and so of V, whatever the payload length.
	SigmaSize = 32
)

var (
	// ErrInvalidCiphertext is returned for ciphertexts that cannot be parsed.
	ErrInvalidCiphertext = errors.New("invalid ibe ciphertext")
	// ErrInvalidProof is returned when the recomputed U does not match: the
	// key belongs to another identity or the ciphertext was modified.
	ErrInvalidProof = errors.New("ibe: U != r·B, wrong key or tampered ciphertext")
	// ErrPayloadTooLarge is returned for payloads over MaxPayloadSize.
	ErrPayloadTooLarge = errors.New("ibe: payload too large")
)

const (
	h2Tag = "ETF-IBE-H2"
	h3Tag = "ETF-IBE-H3"
	h4Tag = "ETF-IBE-H4"
)

// Ciphertext is a FullIdent ciphertext. U lives in the scheme's KeyGroup, V
// masks σ and is SigmaSize bytes long, W has the length of the payload.
type Ciphertext struct {
	U kyber.Point
	V []byte
	W []byte
}

// Encrypt encrypts msg to id under the master public key. Randomness for σ is
// read from rand, crypto/rand when nil.
func Encrypt(sch *crypto.Scheme, master kyber.Point, id, msg []byte, rand io.Reader) (*Ciphertext, error) {
	if len(msg) > MaxPayloadSize {
		return nil, ErrPayloadTooLarge
	}

	// g = e(H1(id), P_pub)
	g := sch.Pair(sch.HashToIdentity(id), master)

	sigma, err := entropy.GetRandom(rand, SigmaSize)
	if err != nil {
		return nil, err
	}

	r, err := h3(sch, sigma, msg)
	if err != nil {
		return nil, err
	}
	u := sch.KeyGroup.Point().Mul(r, nil)

	gr := sch.GT.Point().Mul(r, g)
	mask, err := h2(gr, SigmaSize)
	if err != nil {
		return nil, err
	}

	sigmaMask, err := h4(sigma, len(msg))
	if err != nil {
		return nil, err
	}

	return &Ciphertext{
		U: u,
		V: xor(sigma, mask),
		W: xor(msg, sigmaMask),
	}, nil
}

// Decrypt recovers the payload of c with the identity key private. It fails
// with ErrInvalidProof when private was not derived for the identity c was
// encrypted to, or when c has been altered.
func Decrypt(sch *crypto.Scheme, private kyber.Point, c *Ciphertext) ([]byte, error) {
	if c == nil || c.U == nil || len(c.V) != SigmaSize || len(c.W) > MaxPayloadSize {
		return nil, ErrInvalidCiphertext
	}

	// e(d, U) = e(s·Q, r·B) = g^r
	gr := sch.Pair(private, c.U)
	mask, err := h2(gr, SigmaSize)
	if err != nil {
		return nil, err
	}
	sigma := xor(c.V, mask)

	sigmaMask, err := h4(sigma, len(c.W))
	if err != nil {
		return nil, err
	}
	msg := xor(c.W, sigmaMask)

	r, err := h3(sch, sigma, msg)
	if err != nil {
		return nil, err
	}
	if !sch.KeyGroup.Point().Mul(r, nil).Equal(c.U) {
		return nil, ErrInvalidProof
	}
	return msg, nil
}

// MarshalBinary encodes the ciphertext as U || V || W, V being SigmaSize
// bytes long.
func (c *Ciphertext) MarshalBinary() ([]byte, error) {
	if c.U == nil || len(c.V) != SigmaSize {
		return nil, ErrInvalidCiphertext
	}
	u, err := c.U.MarshalBinary()
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(u)+len(c.V)+len(c.W))
	out = append(out, u...)
	out = append(out, c.V...)
	return append(out, c.W...), nil
}

// UnmarshalCiphertext parses the output of Ciphertext.MarshalBinary.
func UnmarshalCiphertext(sch *crypto.Scheme, buff []byte) (*Ciphertext, error) {
	pointLen := sch.KeyGroup.PointLen()
	if len(buff) < pointLen+SigmaSize || len(buff)-pointLen-SigmaSize > MaxPayloadSize {
		return nil, fmt.Errorf("%w: length %d", ErrInvalidCiphertext, len(buff))
	}
	u, err := crypto.UnmarshalPoint(sch.KeyGroup, buff[:pointLen])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCiphertext, err)
	}
	rest := buff[pointLen:]
	return &Ciphertext{
		U: u,
		V: append([]byte(nil), rest[:SigmaSize]...),
		W: append([]byte(nil), rest[SigmaSize:]...),
	}, nil
}

// h2 maps a GT element to a mask of the given length.
func h2(gt kyber.Point, length int) ([]byte, error) {
	buff, err := gt.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return expand(length, []byte(h2Tag), buff)
}

// h3 derives the encryption scalar r from σ and the payload.
func h3(sch *crypto.Scheme, sigma, msg []byte) (kyber.Scalar, error) {
	xof, err := blake2s.NewXOF(blake2s.OutputLengthUnknown, nil)
	if err != nil {
		return nil, err
	}
	for _, b := range [][]byte{[]byte(h3Tag), sigma, msg} {
		if _, err := xof.Write(b); err != nil {
			return nil, err
		}
	}
	return sch.KeyGroup.Scalar().Pick(random.New(xof)), nil
}

// h4 maps σ to a mask of the given length.
func h4(sigma []byte, length int) ([]byte, error) {
	return expand(length, []byte(h4Tag), sigma)
}

func expand(length int, parts ...[]byte) ([]byte, error) {
	xof, err := blake2s.NewXOF(blake2s.OutputLengthUnknown, nil)
	if err != nil {
		return nil, err
	}
	for _, p := range parts {
		if _, err := xof.Write(p); err != nil {
			return nil, err
		}
	}
	out := make([]byte, length)
	if _, err := io.ReadFull(xof, out); err != nil {
		return nil, err
	}
	return out, nil
}

func xor(a, b []byte) []byte {
	out := make([]byte, len(a))
	for i := range a {
		out[i] = a[i] ^ b[i]
	}
	return out
}
