// Package threshold splits a scalar into n shares such that any t of them
// recover it and fewer reveal nothing.
package threshold

import (
	"errors"
	"fmt"
	"io"

	"github.com/drand/kyber"
	"github.com/drand/kyber/share"

	"github.com/ideal-lab5/etf-cli/internal/entropy"
)

var (
	ErrInvalidThreshold = errors.New("threshold must satisfy 1 <= t <= n")
	ErrInvalidShare     = errors.New("invalid share")
	ErrNotEnoughShares  = errors.New("not enough shares")
)

// Combiner is a t-of-n secret sharing scheme over scalars. Share indices run
// from 0 to n-1.
type Combiner interface {
	Split(secret kyber.Scalar, t, n int) ([]*share.PriShare, error)
	Combine(shares []*share.PriShare, t, n int) (kyber.Scalar, error)
}

// Shamir is Shamir secret sharing over the scalar field of a group.
type Shamir struct {
	group kyber.Group
	rand  io.Reader
}

// NewShamir returns a Shamir combiner on g. Polynomial coefficients are drawn
// from rand, crypto/rand when nil.
func NewShamir(g kyber.Group, rand io.Reader) *Shamir {
	return &Shamir{group: g, rand: rand}
}

func checkThreshold(t, n int) error {
	if t < 1 || t > n {
		return fmt.Errorf("%w: t=%d n=%d", ErrInvalidThreshold, t, n)
	}
	return nil
}

// Split evaluates a random degree t-1 polynomial with constant term secret at
// n points.
func (s *Shamir) Split(secret kyber.Scalar, t, n int) ([]*share.PriShare, error) {
	if err := checkThreshold(t, n); err != nil {
		return nil, err
	}
	stream, err := entropy.Stream(s.rand)
	if err != nil {
		return nil, err
	}
	poly := share.NewPriPoly(s.group, t, secret, stream)
	return poly.Shares(n), nil
}

// Combine interpolates the secret from at least t distinct shares. Nil entries
// are ignored.
func (s *Shamir) Combine(shares []*share.PriShare, t, n int) (kyber.Scalar, error) {
	if err := checkThreshold(t, n); err != nil {
		return nil, err
	}

	seen := make(map[int]bool, len(shares))
	valid := make([]*share.PriShare, 0, len(shares))
	for _, sh := range shares {
		if sh == nil {
			continue
		}
		if sh.V == nil || sh.I < 0 || sh.I >= n {
			return nil, fmt.Errorf("%w: index %d out of range", ErrInvalidShare, sh.I)
		}
		if seen[sh.I] {
			return nil, fmt.Errorf("%w: duplicate index %d", ErrInvalidShare, sh.I)
		}
		seen[sh.I] = true
		valid = append(valid, sh)
	}
	if len(valid) < t {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrNotEnoughShares, len(valid), t)
	}

	secret, err := share.RecoverSecret(s.group, valid, t, n)
	if err != nil {
		return nil, fmt.Errorf("recovering secret: %w", err)
	}
	return secret, nil
}
