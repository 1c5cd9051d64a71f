package accounting

import "github.com/shopspring/decimal"

// AmountScale is the number of decimal places stored for every amount.
const AmountScale int32 = 2

// Round normalises an amount to the ledger scale, half away from zero.
func Round(v decimal.Decimal) decimal.Decimal {
	return v.Round(AmountScale)
}

// SignedDelta returns the balance movement of a line for an account with the given normal side.
func SignedDelta(side NormalSide, debit, credit decimal.Decimal) decimal.Decimal {
	if side == SideDebit {
		return debit.Sub(credit)
	}
	return credit.Sub(debit)
}
