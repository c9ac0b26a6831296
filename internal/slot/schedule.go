// Package slot maps time slots to identities. Slot r is released at
// genesis + (r-1)·period; its identity key is published from then on, which
// makes every bundle sealed to slot identities decryptable after a known
// point in time.
package slot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	clock "github.com/jonboulle/clockwork"
)

// DefaultPrefix prefixes every slot identity.
const DefaultPrefix = "etf-slot-"

// ErrNotSlotIdentity is returned by RoundOf for identities outside the schedule.
var ErrNotSlotIdentity = errors.New("not a slot identity")

// Schedule is the release calendar of an authority.
type Schedule struct {
	// Genesis is the unix time round 1 is released at.
	Genesis int64
	// Period is the time between two rounds, a whole number of seconds.
	Period time.Duration
	// Prefix namespaces the identities of this schedule.
	Prefix string
}

// NewSchedule returns a schedule with the default prefix.
func NewSchedule(genesis time.Time, period time.Duration) (*Schedule, error) {
	s := &Schedule{Genesis: genesis.Unix(), Period: period, Prefix: DefaultPrefix}
	return s, s.Validate()
}

// Validate checks the period is a positive whole number of seconds.
func (s *Schedule) Validate() error {
	if s.Period < time.Second {
		return fmt.Errorf("period %s shorter than a second", s.Period)
	}
	if s.Period%time.Second != 0 {
		return fmt.Errorf("period %s is not a whole number of seconds", s.Period)
	}
	if s.Genesis < 0 {
		return errors.New("negative genesis")
	}
	return nil
}

// Identity returns the identity of round.
func (s *Schedule) Identity(round uint64) []byte {
	return []byte(s.Prefix + strconv.FormatUint(round, 10))
}

// Identities returns the identities of rounds, in order.
func (s *Schedule) Identities(rounds []uint64) [][]byte {
	out := make([][]byte, len(rounds))
	for i, r := range rounds {
		out[i] = s.Identity(r)
	}
	return out
}

// RoundOf is the inverse of Identity.
func (s *Schedule) RoundOf(id []byte) (uint64, error) {
	str := string(id)
	if !strings.HasPrefix(str, s.Prefix) {
		return 0, fmt.Errorf("%w: %q", ErrNotSlotIdentity, str)
	}
	digits := strings.TrimPrefix(str, s.Prefix)
	round, err := strconv.ParseUint(digits, 10, 64)
	if err != nil || strconv.FormatUint(round, 10) != digits {
		return 0, fmt.Errorf("%w: %q", ErrNotSlotIdentity, str)
	}
	return round, nil
}

// ReleaseTime returns when the key of round may be published.
func (s *Schedule) ReleaseTime(round uint64) time.Time {
	return time.Unix(TimeOfRound(s.Period, s.Genesis, round), 0)
}

// Released reports whether round is released at now.
func (s *Schedule) Released(now time.Time, round uint64) bool {
	t := TimeOfRound(s.Period, s.Genesis, round)
	return t != TimeOfRoundErrorValue && now.Unix() >= t
}

// CurrentRound returns the last released round at now.
func (s *Schedule) CurrentRound(now time.Time) uint64 {
	return CurrentRound(now.Unix(), s.Period, s.Genesis)
}

// NextRound returns the next round to be released after now.
func (s *Schedule) NextRound(now time.Time) (uint64, time.Time) {
	r, t := NextRound(now.Unix(), s.Period, s.Genesis)
	return r, time.Unix(t, 0)
}

// WaitFor blocks until round is released on clk or ctx is done.
func (s *Schedule) WaitFor(ctx context.Context, clk clock.Clock, round uint64) error {
	if s.Released(clk.Now(), round) {
		return nil
	}
	wait := s.ReleaseTime(round).Sub(clk.Now())
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-clk.After(wait):
		return nil
	}
}

// ScheduleTOML is the TOML-able version of a schedule.
type ScheduleTOML struct {
	Genesis int64
	Period  string
	Prefix  string
}

// TOML returns a struct that can be marshaled using a TOML-encoding library
func (s *Schedule) TOML() interface{} {
	return &ScheduleTOML{Genesis: s.Genesis, Period: s.Period.String(), Prefix: s.Prefix}
}

// FromTOML decodes the schedule and validates it.
func (s *Schedule) FromTOML(i interface{}) error {
	stoml, ok := i.(*ScheduleTOML)
	if !ok {
		return errors.New("schedule can't decode toml from non ScheduleTOML struct")
	}
	period, err := time.ParseDuration(stoml.Period)
	if err != nil {
		return fmt.Errorf("decoding period: %w", err)
	}
	s.Genesis = stoml.Genesis
	s.Period = period
	s.Prefix = stoml.Prefix
	return s.Validate()
}

// TOMLValue returns an empty TOML-compatible interface value
func (s *Schedule) TOMLValue() interface{} {
	return &ScheduleTOML{}
}
