package tbw

import (
	"time"

	"github.com/shopspring/decimal"
)

var (
	one      = decimal.NewFromInt(1)
	hundred  = decimal.NewFromInt(100)
	msPerDay = decimal.NewFromInt(int64(24 * time.Hour / time.Millisecond))
)

// VoteAgeDays returns the fractional number of days between lastVote and now.
// A vote timestamped after now has age zero.
func VoteAgeDays(lastVote, now time.Time) decimal.Decimal {
	elapsed := now.Sub(lastVote)
	if elapsed <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(elapsed.Milliseconds()).DivRound(msPerDay, divisionPrecision)
}

// DiscountFactor returns the multiplier in [0, 1] applied to a voter's raw share.
//
// A threshold of zero disables discounting. Votes at least thresholdDays old are fully
// matured. Younger votes ramp linearly by 1/stages per day of age, capped at 1.
func DiscountFactor(lastVote, now time.Time, thresholdDays, stages int) decimal.Decimal {
	if thresholdDays == 0 {
		return one
	}
	age := VoteAgeDays(lastVote, now)
	if age.GreaterThanOrEqual(decimal.NewFromInt(int64(thresholdDays))) {
		return one
	}
	if stages < 1 {
		stages = 1
	}
	perStage := hundred.DivRound(decimal.NewFromInt(int64(stages)), divisionPrecision).
		DivRound(hundred, divisionPrecision)
	factor := perStage.Mul(age)
	if factor.GreaterThan(one) {
		return one
	}
	return factor
}
