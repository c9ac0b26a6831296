package crypto

import (
	"fmt"
	"os"

	"github.com/drand/kyber"
	bls "github.com/drand/kyber-bls12381"
	"github.com/drand/kyber/pairing"
)

// Scheme describes where identities, identity keys and the master public key
// live on BLS12-381. IdentityGroup and KeyGroup are always distinct source
// groups of the pairing.
//
// Note: Scheme is not meant to be marshaled directly. Use its Name and
// SchemeFromName instead.
type Scheme struct {
	// Name is the registry name of the scheme.
	Name string
	// Suite is the pairing suite, built with the scheme's hash-to-curve DSTs.
	Suite pairing.Suite
	// IdentityGroup is the group identities hash into. Identity private keys
	// d = s·H1(id) are elements of it.
	IdentityGroup kyber.Group
	// KeyGroup holds the master public key s·B and the ciphertext point U.
	KeyGroup kyber.Group
	// GT is the pairing target group.
	GT kyber.Group

	identityOnG1 bool
}

func (s *Scheme) String() string {
	if s != nil {
		return s.Name
	}
	return ""
}

// HashToIdentity maps an identity to a point of IdentityGroup using the
// RFC 9380 hash-to-curve of the suite. It is deterministic and accepts any
// input, the empty identity included.
func (s *Scheme) HashToIdentity(id []byte) kyber.Point {
	return s.IdentityGroup.Point().(kyber.HashablePoint).Hash(id)
}

// Pair computes e(identityPoint, keyPoint), ordering the arguments as the
// underlying pairing expects them.
func (s *Scheme) Pair(identityPoint, keyPoint kyber.Point) kyber.Point {
	if s.identityOnG1 {
		return s.Suite.Pair(identityPoint, keyPoint)
	}
	return s.Suite.Pair(keyPoint, identityPoint)
}

const (
	dstG1 = "ETF-IBE-V01-BLS12381G1_XMD:SHA-256_SSWU_RO_"
	dstG2 = "ETF-IBE-V01-BLS12381G2_XMD:SHA-256_SSWU_RO_"
)

// DefaultSchemeID is the default scheme ID.
const DefaultSchemeID = "etf-bls12381-g1"

// NewIdentityOnG1 instantiates the default scheme: identities and identity
// keys on G1 (48 bytes), master public key and U on G2 (96 bytes).
func NewIdentityOnG1() *Scheme {
	suite := bls.NewBLS12381SuiteWithDST([]byte(dstG1), []byte(dstG2))
	return &Scheme{
		Name:          DefaultSchemeID,
		Suite:         suite,
		IdentityGroup: suite.G1(),
		KeyGroup:      suite.G2(),
		GT:            suite.GT(),
		identityOnG1:  true,
	}
}

// IdentityOnG2SchemeID is the scheme with the groups swapped.
const IdentityOnG2SchemeID = "etf-bls12381-g2"

// NewIdentityOnG2 instantiates a scheme with identities and identity keys on
// G2 (96 bytes) and the master public key on G1 (48 bytes), which halves the
// size of every capsule at the cost of larger released keys.
func NewIdentityOnG2() *Scheme {
	suite := bls.NewBLS12381SuiteWithDST([]byte(dstG1), []byte(dstG2))
	return &Scheme{
		Name:          IdentityOnG2SchemeID,
		Suite:         suite,
		IdentityGroup: suite.G2(),
		KeyGroup:      suite.G1(),
		GT:            suite.GT(),
		identityOnG1:  false,
	}
}

// SchemeFromName returns the scheme registered under schemeName.
func SchemeFromName(schemeName string) (*Scheme, error) {
	switch schemeName {
	case DefaultSchemeID:
		return NewIdentityOnG1(), nil
	case IdentityOnG2SchemeID:
		return NewIdentityOnG2(), nil
	default:
		return nil, fmt.Errorf("invalid scheme name '%s'", schemeName)
	}
}

var schemeIDs = []string{DefaultSchemeID, IdentityOnG2SchemeID}

// ListSchemes will return a slice of valid scheme ids
func ListSchemes() []string {
	return schemeIDs
}

// GetSchemeByIDWithDefault returns the scheme registered under id, or the
// default scheme when id is empty.
func GetSchemeByIDWithDefault(id string) (*Scheme, error) {
	if id == "" {
		id = DefaultSchemeID
	}
	return SchemeFromName(id)
}

// SchemeEnvVar selects the scheme used by GetSchemeFromEnv.
const SchemeEnvVar = "ETF_SCHEME"

// GetSchemeFromEnv returns the scheme named by the ETF_SCHEME environment
// variable, or the default one.
func GetSchemeFromEnv() (*Scheme, error) {
	return GetSchemeByIDWithDefault(os.Getenv(SchemeEnvVar))
}
