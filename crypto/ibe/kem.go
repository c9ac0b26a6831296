package ibe

import (
	"io"

	"github.com/drand/kyber"

	"github.com/ideal-lab5/etf-cli/crypto"
)

// KEM wraps a short payload, such as a key share, to an identity.
type KEM interface {
	// Encapsulate encrypts payload to id under the master public key.
	Encapsulate(master kyber.Point, id, payload []byte) ([]byte, error)
	// Decapsulate opens a capsule with an identity key.
	Decapsulate(private kyber.Point, capsule []byte) ([]byte, error)
}

type fullIdent struct {
	sch  *crypto.Scheme
	rand io.Reader
}

// NewKEM returns the FullIdent KEM of sch. rand feeds σ; nil means crypto/rand.
func NewKEM(sch *crypto.Scheme, rand io.Reader) KEM {
	return &fullIdent{sch: sch, rand: rand}
}

func (f *fullIdent) Encapsulate(master kyber.Point, id, payload []byte) ([]byte, error) {
	c, err := Encrypt(f.sch, master, id, payload, f.rand)
	if err != nil {
		return nil, err
	}
	return c.MarshalBinary()
}

func (f *fullIdent) Decapsulate(private kyber.Point, capsule []byte) ([]byte, error) {
	c, err := UnmarshalCiphertext(f.sch, capsule)
	if err != nil {
		return nil, err
	}
	return Decrypt(f.sch, private, c)
}
