package slot

import (
	"math"
	"time"
)

// TimeOfRoundErrorValue is returned by TimeOfRound when the release time does
// not fit an int64.
const TimeOfRoundErrorValue = math.MaxInt64

// TimeOfRound returns the unix time at which round is released. Round 1 is
// released at genesis, round 0 is fixed to genesis too.
func TimeOfRound(period time.Duration, genesis int64, round uint64) int64 {
	if period <= 0 {
		return TimeOfRoundErrorValue
	}
	if round == 0 {
		return genesis
	}
	secs := uint64(period.Seconds())
	if secs == 0 {
		return TimeOfRoundErrorValue
	}
	if round-1 > uint64(math.MaxInt64-max(genesis, 0))/secs {
		return TimeOfRoundErrorValue
	}
	return genesis + int64((round-1)*secs)
}

// CurrentRound calculates the last released round at now, 0 before genesis.
func CurrentRound(now int64, period time.Duration, genesis int64) uint64 {
	if now < genesis {
		return 0
	}
	next, _ := NextRound(now, period, genesis)
	return next - 1
}

// NextRound returns the next round to be released after now and its unix
// time.
func NextRound(now int64, period time.Duration, genesis int64) (nextRound uint64, nextTime int64) {
	if now < genesis {
		return 1, genesis
	}
	fromGenesis := now - genesis
	// periods elapsed since genesis, +1 because round 1 is released at
	// genesis, +1 for the next one
	nextRound = uint64(math.Floor(float64(fromGenesis)/period.Seconds())) + 2
	return nextRound, TimeOfRound(period, genesis, nextRound)
}
