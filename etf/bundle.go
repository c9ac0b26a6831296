package etf

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"
	json "github.com/nikkolasg/hexjson"

	"github.com/ideal-lab5/etf-cli/crypto/hybrid"
)

// Bundle is everything a holder of released identity keys needs to decrypt:
// the AEAD ciphertext and nonce, one capsule per identity, and the identity
// keys known so far. Secrets[i] is empty until the key of identity i is
// released.
type Bundle struct {
	Ciphertext []byte   `json:"ciphertext"`
	Nonce      []byte   `json:"nonce"`
	EtfCt      [][]byte `json:"etf_ct"`
	Secrets    [][]byte `json:"secrets"`
}

// Threshold returns the threshold recorded in the capsules.
func (b *Bundle) Threshold() (int, error) {
	return capsuleThreshold(b.EtfCt)
}

// Released returns how many secrets are present.
func (b *Bundle) Released() int {
	count := 0
	for _, s := range b.Secrets {
		if len(s) > 0 {
			count++
		}
	}
	return count
}

// Validate reports every structural problem of the bundle. It does not check
// any key or tag.
func (b *Bundle) Validate() error {
	if b == nil {
		return errors.New("nil bundle")
	}
	var result *multierror.Error
	if len(b.Nonce) != hybrid.NonceSize {
		result = multierror.Append(result, fmt.Errorf("nonce is %d bytes, want %d", len(b.Nonce), hybrid.NonceSize))
	}
	if len(b.Ciphertext) < hybrid.TagSize {
		result = multierror.Append(result, fmt.Errorf("ciphertext is %d bytes, shorter than the tag", len(b.Ciphertext)))
	}
	if len(b.EtfCt) == 0 {
		result = multierror.Append(result, errors.New("no capsules"))
	} else if _, err := capsuleThreshold(b.EtfCt); err != nil {
		result = multierror.Append(result, err)
	}
	if len(b.Secrets) != len(b.EtfCt) {
		result = multierror.Append(result, fmt.Errorf("%d capsules but %d secrets", len(b.EtfCt), len(b.Secrets)))
	}
	return result.ErrorOrNil()
}

// Equal compares two bundles byte for byte. Nil and empty slices are equal.
func (b *Bundle) Equal(o *Bundle) bool {
	if b == nil || o == nil {
		return b == o
	}
	return bytes.Equal(b.Ciphertext, o.Ciphertext) &&
		bytes.Equal(b.Nonce, o.Nonce) &&
		equalLists(b.EtfCt, o.EtfCt) &&
		equalLists(b.Secrets, o.Secrets)
}

func equalLists(a, b [][]byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !bytes.Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of the bundle.
func (b *Bundle) Clone() *Bundle {
	return &Bundle{
		Ciphertext: clone(b.Ciphertext),
		Nonce:      clone(b.Nonce),
		EtfCt:      cloneList(b.EtfCt),
		Secrets:    cloneList(b.Secrets),
	}
}

func clone(b []byte) []byte {
	return append([]byte{}, b...)
}

func cloneList(l [][]byte) [][]byte {
	out := make([][]byte, len(l))
	for i := range l {
		out[i] = clone(l[i])
	}
	return out
}

type bundleJSON Bundle

// MarshalJSON encodes the bundle with hex byte strings.
func (b *Bundle) MarshalJSON() ([]byte, error) {
	return json.Marshal((*bundleJSON)(b))
}

// UnmarshalJSON decodes the output of MarshalJSON.
func (b *Bundle) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, (*bundleJSON)(b))
}
