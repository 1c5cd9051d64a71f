package integrity

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
)

// AccountTotals aggregates the GL movement of one account.
type AccountTotals struct {
	Code    string
	Name    string
	Type    accounting.AccountType
	Debit   decimal.Decimal
	Credit  decimal.Decimal
	Closing decimal.Decimal
}

// TrialBalanceGroup aggregates accounts of one type.
type TrialBalanceGroup struct {
	Type     accounting.AccountType
	Accounts []AccountTotals
	Debit    decimal.Decimal
	Credit   decimal.Decimal
}

// TrialBalance lists every account's debit and credit totals.
type TrialBalance struct {
	Groups      []TrialBalanceGroup
	TotalDebit  decimal.Decimal
	TotalCredit decimal.Decimal
}

// Balanced reports whether Σdebit == Σcredit across the ledger.
func (tb TrialBalance) Balanced() bool {
	return tb.TotalDebit.Equal(tb.TotalCredit)
}

var typeOrder = map[accounting.AccountType]int{
	accounting.AccountTypeAsset:     0,
	accounting.AccountTypeLiability: 1,
	accounting.AccountTypeEquity:    2,
	accounting.AccountTypeRevenue:   3,
	accounting.AccountTypeExpense:   4,
}

// BuildTrialBalance groups account totals by account type, ordered by code.
func BuildTrialBalance(rows []AccountTotals) TrialBalance {
	groups := make(map[accounting.AccountType]*TrialBalanceGroup)
	types := make([]accounting.AccountType, 0)
	for _, row := range rows {
		grp, ok := groups[row.Type]
		if !ok {
			grp = &TrialBalanceGroup{Type: row.Type}
			groups[row.Type] = grp
			types = append(types, row.Type)
		}
		grp.Accounts = append(grp.Accounts, row)
		grp.Debit = grp.Debit.Add(row.Debit)
		grp.Credit = grp.Credit.Add(row.Credit)
	}

	sort.Slice(types, func(i, j int) bool { return typeOrder[types[i]] < typeOrder[types[j]] })
	result := TrialBalance{}
	for _, typ := range types {
		grp := groups[typ]
		sort.Slice(grp.Accounts, func(i, j int) bool {
			return grp.Accounts[i].Code < grp.Accounts[j].Code
		})
		result.Groups = append(result.Groups, *grp)
		result.TotalDebit = result.TotalDebit.Add(grp.Debit)
		result.TotalCredit = result.TotalCredit.Add(grp.Credit)
	}
	return result
}
