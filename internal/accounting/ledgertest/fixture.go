// Package ledgertest seeds an in-memory ledger for package tests.
package ledgertest

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/memstore"
)

// Chart codes seeded by New.
const (
	GroupAssets = "1000"
	Cash        = "1010"
	Bank        = "1020"
	Receivable  = "1100"
	Payable     = "2000"
	Sales       = "4000"
	Expense     = "5000"
)

// Fixture is a memstore with a small chart and open periods around October 2026.
type Fixture struct {
	Store   *memstore.Store
	October accounting.Period
	Year    accounting.Period
}

// Day builds a UTC calendar date.
func Day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Amount parses a decimal literal.
func Amount(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

// New seeds the fixture.
func New(t testing.TB) *Fixture {
	t.Helper()
	f := &Fixture{Store: memstore.New()}
	err := f.Store.WithTx(context.Background(), func(ctx context.Context, tx accounting.TxRepository) error {
		group, _, err := tx.InsertAccountIfAbsent(ctx, accounting.AccountInput{Code: GroupAssets, Name: "Current Assets", Type: accounting.AccountTypeAsset, IsGroup: true})
		if err != nil {
			return err
		}
		seed := []accounting.AccountInput{
			{Code: Cash, Name: "Cash", Type: accounting.AccountTypeAsset, Subtype: "CASH", ParentID: &group.ID},
			{Code: Bank, Name: "Bank", Type: accounting.AccountTypeAsset, Subtype: "BANK", ParentID: &group.ID},
			{Code: Receivable, Name: "Accounts Receivable", Type: accounting.AccountTypeAsset, Subtype: "RECEIVABLE", ParentID: &group.ID},
			{Code: Payable, Name: "Accounts Payable", Type: accounting.AccountTypeLiability, Subtype: "PAYABLE"},
			{Code: Sales, Name: "Sales Revenue", Type: accounting.AccountTypeRevenue},
			{Code: Expense, Name: "Purchases", Type: accounting.AccountTypeExpense},
		}
		for _, in := range seed {
			if _, _, err := tx.InsertAccountIfAbsent(ctx, in); err != nil {
				return err
			}
		}
		f.Year, err = tx.InsertPeriod(ctx, accounting.PeriodInput{Code: "FY2026", Granularity: accounting.GranularityYear,
			StartDate: Day(2026, 1, 1), EndDate: Day(2026, 12, 31)})
		if err != nil {
			return err
		}
		f.October, err = tx.InsertPeriod(ctx, accounting.PeriodInput{Code: "2026-10", Granularity: accounting.GranularityMonth,
			StartDate: Day(2026, 10, 1), EndDate: Day(2026, 10, 31), IsCurrent: true})
		return err
	})
	require.NoError(t, err)
	return f
}

// Account loads an account by code.
func (f *Fixture) Account(t testing.TB, code string) accounting.Account {
	t.Helper()
	var account accounting.Account
	err := f.Store.WithTx(context.Background(), func(ctx context.Context, tx accounting.TxRepository) error {
		var err error
		account, err = tx.GetAccountByCode(ctx, code)
		return err
	})
	require.NoError(t, err)
	return account
}

// Balance returns the stored current balance of an account.
func (f *Fixture) Balance(t testing.TB, code string) decimal.Decimal {
	t.Helper()
	return f.Account(t, code).CurrentBalance
}

// ClosePeriod marks a period CLOSED directly in the store.
func (f *Fixture) ClosePeriod(t testing.TB, id int64) {
	t.Helper()
	err := f.Store.WithTx(context.Background(), func(ctx context.Context, tx accounting.TxRepository) error {
		return tx.UpdatePeriodStatus(ctx, id, accounting.PeriodStatusClosed, 1, time.Now())
	})
	require.NoError(t, err)
}

// Entry returns a balanced two-line entry input dated in October 2026.
func Entry(typ accounting.EntryType, debitCode, creditCode, amount string) accounting.EntryInput {
	return accounting.EntryInput{
		Date:      Day(2026, 10, 15),
		Type:      typ,
		Narration: "test entry",
		CreatedBy: 1,
		Lines: []accounting.LineInput{
			accounting.Debit(debitCode, Amount(amount)),
			accounting.Credit(creditCode, Amount(amount)),
		},
	}
}
