// Package key holds the IBE key authority: the master secret s, the master
// public key s·B and the derivation of identity keys s·H1(id).
package key

import (
	"errors"
	"fmt"
	"io"

	"github.com/drand/kyber"

	"github.com/ideal-lab5/etf-cli/crypto"
	"github.com/ideal-lab5/etf-cli/internal/entropy"
)

var (
	// ErrInvalidKeyScheme is returned when key material does not belong to
	// the expected scheme.
	ErrInvalidKeyScheme = errors.New("the key's scheme does not match the expected scheme")
	// ErrInvalidIdentityKey is returned when an identity key was not derived
	// from the master secret for the claimed identity.
	ErrInvalidIdentityKey = errors.New("identity key does not match the master public key")
)

// Authority is the holder of the master secret. Its identity keys are what a
// release mechanism publishes once an identity becomes decryptable.
type Authority struct {
	Secret kyber.Scalar
	Public *MasterPublic
}

// MasterPublic is the master public key P_pub = s·B, the only key material
// needed to encrypt.
type MasterPublic struct {
	Key    kyber.Point
	Scheme *crypto.Scheme
}

// NewAuthority draws a fresh master secret for sch. rand seeds the scalar;
// nil means crypto/rand.
func NewAuthority(sch *crypto.Scheme, rand io.Reader) (*Authority, error) {
	if sch == nil {
		var err error
		if sch, err = crypto.GetSchemeFromEnv(); err != nil {
			return nil, err
		}
	}
	stream, err := entropy.Stream(rand)
	if err != nil {
		return nil, err
	}
	secret := sch.KeyGroup.Scalar().Pick(stream)
	if secret.Equal(sch.KeyGroup.Scalar().Zero()) {
		return nil, errors.New("zero master secret")
	}
	return &Authority{
		Secret: secret,
		Public: &MasterPublic{
			Key:    sch.KeyGroup.Point().Mul(secret, nil),
			Scheme: sch,
		},
	}, nil
}

// Scheme returns the authority's scheme.
func (a *Authority) Scheme() *crypto.Scheme {
	return a.Public.Scheme
}

// DeriveKey returns the identity key s·H1(id).
func (a *Authority) DeriveKey(id []byte) kyber.Point {
	sch := a.Scheme()
	return sch.IdentityGroup.Point().Mul(a.Secret, sch.HashToIdentity(id))
}

// CalculateSecretKeys derives the compressed identity key of every id, in
// order. Duplicated ids yield duplicated keys.
func (a *Authority) CalculateSecretKeys(ids [][]byte) ([][]byte, error) {
	out := make([][]byte, len(ids))
	for i, id := range ids {
		buff, err := a.DeriveKey(id).MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("marshalling key %d: %w", i, err)
		}
		out[i] = buff
	}
	return out, nil
}

// Equal reports whether both keys are the same point on the same scheme.
func (m *MasterPublic) Equal(o *MasterPublic) bool {
	if m == nil || o == nil {
		return m == o
	}
	return m.Scheme.Name == o.Scheme.Name && m.Key.Equal(o.Key)
}

// VerifyIdentityKey checks e(d, B) == e(H1(id), P_pub), i.e. that d was
// derived for id by the holder of this key's master secret.
func (m *MasterPublic) VerifyIdentityKey(id []byte, d kyber.Point) error {
	sch := m.Scheme
	left := sch.Pair(d, sch.KeyGroup.Point().Base())
	right := sch.Pair(sch.HashToIdentity(id), m.Key)
	if !left.Equal(right) {
		return ErrInvalidIdentityKey
	}
	return nil
}

// AuthorityTOML is the TOML-able version of the master secret.
type AuthorityTOML struct {
	Key        string
	SchemeName string
}

// PublicTOML is the TOML-able version of the master public key.
type PublicTOML struct {
	Key        string
	SchemeName string
}

// TOML returns a struct that can be marshaled using a TOML-encoding library
func (a *Authority) TOML() interface{} {
	return &AuthorityTOML{
		Key:        crypto.ScalarToString(a.Secret),
		SchemeName: a.Scheme().Name,
	}
}

// FromTOML rebuilds the authority, public key included, from its TOML form.
func (a *Authority) FromTOML(i interface{}) error {
	atoml, ok := i.(*AuthorityTOML)
	if !ok {
		return errors.New("authority can't decode toml from non AuthorityTOML struct")
	}
	sch, err := crypto.SchemeFromName(atoml.SchemeName)
	if err != nil {
		return err
	}
	secret, err := crypto.StringToScalar(sch.KeyGroup, atoml.Key)
	if err != nil {
		return fmt.Errorf("decoding master secret: %w", err)
	}
	a.Secret = secret
	a.Public = &MasterPublic{Key: sch.KeyGroup.Point().Mul(secret, nil), Scheme: sch}
	return nil
}

// TOMLValue returns an empty TOML-compatible interface value
func (a *Authority) TOMLValue() interface{} {
	return &AuthorityTOML{}
}

// TOML returns a struct that can be marshaled using a TOML-encoding library
func (m *MasterPublic) TOML() interface{} {
	schemeName := "nil scheme"
	if m.Scheme != nil {
		schemeName = m.Scheme.Name
	}
	return &PublicTOML{Key: crypto.PointToString(m.Key), SchemeName: schemeName}
}

// FromTOML reads the TOML description of the master public key
func (m *MasterPublic) FromTOML(i interface{}) error {
	ptoml, ok := i.(*PublicTOML)
	if !ok {
		return errors.New("public can't decode from non PublicTOML struct")
	}
	sch, err := crypto.GetSchemeByIDWithDefault(ptoml.SchemeName)
	if err != nil {
		return err
	}
	m.Scheme = sch
	m.Key, err = crypto.StringToPoint(sch.KeyGroup, ptoml.Key)
	if err != nil {
		return fmt.Errorf("decoding public key: %w", err)
	}
	return nil
}

// TOMLValue returns an empty TOML-compatible interface value
func (m *MasterPublic) TOMLValue() interface{} {
	return &PublicTOML{}
}
