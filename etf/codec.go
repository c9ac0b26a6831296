package etf

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// MaxCapsules bounds the number of capsules a decoded bundle may hold.
const MaxCapsules = 1 << 16

// wireBundle is the CBOR layout of a Bundle: a four element array in field
// order.
type wireBundle struct {
	_          struct{} `cbor:",toarray"`
	Ciphertext []byte
	Nonce      []byte
	EtfCt      [][]byte
	Secrets    [][]byte
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

//nolint:gochecknoinits // modes are immutable and shared
func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	decMode, err = cbor.DecOptions{
		DupMapKey:        cbor.DupMapKeyEnforcedAPF,
		IndefLength:      cbor.IndefLengthForbidden,
		TagsMd:           cbor.TagsForbidden,
		MaxNestedLevels:  4,
		MaxArrayElements: MaxCapsules,
	}.DecMode()
	if err != nil {
		panic(err)
	}
}

// Encode serializes b deterministically: equal bundles always give the same
// bytes. Bundles with a secret slot count different from their capsule count
// are rejected.
func Encode(b *Bundle) ([]byte, error) {
	if b == nil {
		return nil, &CodecError{Op: "encode", Err: errors.New("nil bundle")}
	}
	if err := checkLengths(b.EtfCt, b.Secrets); err != nil {
		return nil, &CodecError{Op: "encode", Err: err}
	}
	w := wireBundle{
		Ciphertext: clone(b.Ciphertext),
		Nonce:      clone(b.Nonce),
		EtfCt:      cloneList(b.EtfCt),
		Secrets:    cloneList(b.Secrets),
	}
	out, err := encMode.Marshal(&w)
	if err != nil {
		return nil, &CodecError{Op: "encode", Err: err}
	}
	return out, nil
}

// Decode parses the output of Encode. Truncated input, trailing bytes,
// mismatched capsule and secret counts, and any encoding other than the one
// Encode produces are rejected.
func Decode(buf []byte) (*Bundle, error) {
	var w wireBundle
	if err := decMode.Unmarshal(buf, &w); err != nil {
		return nil, &CodecError{Op: "decode", Err: err}
	}
	if err := checkLengths(w.EtfCt, w.Secrets); err != nil {
		return nil, &CodecError{Op: "decode", Err: err}
	}
	b := &Bundle{
		Ciphertext: clone(w.Ciphertext),
		Nonce:      clone(w.Nonce),
		EtfCt:      cloneList(w.EtfCt),
		Secrets:    cloneList(w.Secrets),
	}

	canonical, err := Encode(b)
	if err != nil {
		return nil, &CodecError{Op: "decode", Err: err}
	}
	if !bytes.Equal(canonical, buf) {
		return nil, &CodecError{Op: "decode", Err: errors.New("non canonical or trailing data")}
	}
	return b, nil
}

func checkLengths(etfCt, secrets [][]byte) error {
	if len(etfCt) != len(secrets) {
		return fmt.Errorf("%d capsules but %d secrets", len(etfCt), len(secrets))
	}
	return nil
}
