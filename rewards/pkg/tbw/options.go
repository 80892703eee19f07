package tbw

import (
	"encoding/hex"
	"slices"

	"github.com/mr-tron/base58"
	"github.com/shopspring/decimal"
)

// DefaultLicenseFeeCut is the fraction of every block's income taken as license fee.
var DefaultLicenseFeeCut = decimal.RequireFromString("0.01")

// Options configures the apportionment for one validator.
type Options struct {
	ValidatorPublicKey string
	// SharePercentage is the percentage (0-100) of the distributable income paid to voters.
	SharePercentage decimal.Decimal
	// Blacklist holds voter addresses excluded from rewards.
	Blacklist []string

	// VoteMaturityThresholdDays is the vote age at which a voter receives its full share.
	// Zero disables maturity discounting.
	VoteMaturityThresholdDays int
	// VoteMaturityStages controls the per-day increment (1/stages) of the discount ramp.
	VoteMaturityStages int

	// LicenseFeeCut is the fraction of the block income taken as license fee. When unset,
	// DefaultLicenseFeeCut applies; an explicit zero disables the fee.
	LicenseFeeCut decimal.NullDecimal
}

// Validate fills defaults and rejects malformed options.
func (o *Options) Validate() error {
	if o.ValidatorPublicKey == "" {
		return invalidOptions("validator public key is required")
	}
	pk, err := hex.DecodeString(o.ValidatorPublicKey)
	if err != nil || len(pk) != 33 {
		return invalidOptions("validator public key must be a 33-byte hex encoded key")
	}
	if o.SharePercentage.IsNegative() || o.SharePercentage.GreaterThan(decimal.NewFromInt(100)) {
		return invalidOptions("share percentage must be between 0 and 100, got %s", o.SharePercentage)
	}
	if !o.LicenseFeeCut.Valid {
		o.LicenseFeeCut = decimal.NewNullDecimal(DefaultLicenseFeeCut)
	}
	if cut := o.LicenseFeeCut.Decimal; cut.IsNegative() || cut.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return invalidOptions("license fee cut must be in [0, 1), got %s", cut)
	}
	if o.VoteMaturityThresholdDays < 0 {
		return invalidOptions("vote maturity threshold must not be negative")
	}
	if o.VoteMaturityStages == 0 {
		o.VoteMaturityStages = 1
	}
	if o.VoteMaturityStages < 1 {
		return invalidOptions("vote maturity stages must be at least 1")
	}
	for _, addr := range o.Blacklist {
		if addr == "" {
			return invalidOptions("blacklist contains an empty address")
		}
		if _, err := base58.Decode(addr); err != nil {
			return invalidOptions("blacklist address %q is not base58: %v", addr, err)
		}
	}
	return nil
}

// MaturityEnabled reports whether vote age discounting applies.
func (o *Options) MaturityEnabled() bool {
	return o.VoteMaturityThresholdDays != 0
}

// Blacklisted reports whether a voter address is excluded from rewards.
func (o *Options) Blacklisted(address string) bool {
	return slices.Contains(o.Blacklist, address)
}

func (o *Options) blacklistSet() map[string]struct{} {
	set := make(map[string]struct{}, len(o.Blacklist))
	for _, addr := range o.Blacklist {
		set[addr] = struct{}{}
	}
	return set
}
