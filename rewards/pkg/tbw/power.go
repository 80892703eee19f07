package tbw

import "github.com/shopspring/decimal"

// Power returns the voting power of a wallet: its balance plus its supplemental stake, if any.
// Inputs are expected to be non-negative and are not clamped.
func Power(w Wallet) decimal.Decimal {
	if !w.StakePower.Valid {
		return w.Balance
	}
	return w.Balance.Add(w.StakePower.Decimal)
}
