package crypto

import (
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/drand/kyber"
)

// ErrInvalidPoint is returned when bytes do not encode a usable group element.
var ErrInvalidPoint = errors.New("invalid point encoding")

// PointToString returns a hex-encoded string representation of the given point.
func PointToString(p kyber.Point) string {
	buff, _ := p.MarshalBinary()
	return hex.EncodeToString(buff)
}

// ScalarToString returns a hex-encoded string representation of the given scalar.
func ScalarToString(s kyber.Scalar) string {
	buff, _ := s.MarshalBinary()
	return hex.EncodeToString(buff)
}

// StringToPoint unmarshals a point of g from its hex form.
func StringToPoint(g kyber.Group, s string) (kyber.Point, error) {
	buff, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	return UnmarshalPoint(g, buff)
}

// StringToScalar unmarshals a scalar of g from its hex form.
func StringToScalar(g kyber.Group, s string) (kyber.Scalar, error) {
	buff, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	sc := g.Scalar()
	if len(buff) != sc.MarshalSize() {
		return nil, fmt.Errorf("scalar of %d bytes, want %d", len(buff), sc.MarshalSize())
	}
	return sc, sc.UnmarshalBinary(buff)
}

// UnmarshalPoint decodes a compressed point of g. Encodings of the wrong size,
// off-curve or off-subgroup points and the identity element are all rejected
// with ErrInvalidPoint.
func UnmarshalPoint(g kyber.Group, buff []byte) (kyber.Point, error) {
	p := g.Point()
	if len(buff) != p.MarshalSize() {
		return nil, fmt.Errorf("%w: %d bytes, want %d", ErrInvalidPoint, len(buff), p.MarshalSize())
	}
	if err := p.UnmarshalBinary(buff); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPoint, err)
	}
	if p.Equal(g.Point().Null()) {
		return nil, fmt.Errorf("%w: identity element", ErrInvalidPoint)
	}
	return p, nil
}
