package integrity

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/ledgertest"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/posting"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/backoff"
)

func seedPostings(t *testing.T) *ledgertest.Fixture {
	t.Helper()
	f := ledgertest.New(t)
	ctx := context.Background()
	js := journals.NewService(f.Store, journals.DefaultPolicy(), nil)
	ps := posting.NewService(f.Store, backoff.Config{MaxAttempts: 1, Base: time.Millisecond}, nil)
	for _, in := range []accounting.EntryInput{
		ledgertest.Entry(accounting.EntryTypeSales, ledgertest.Receivable, ledgertest.Sales, "1180"),
		ledgertest.Entry(accounting.EntryTypeReceipt, ledgertest.Cash, ledgertest.Receivable, "500"),
		ledgertest.Entry(accounting.EntryTypePurchase, ledgertest.Expense, ledgertest.Payable, "75.25"),
	} {
		entry, err := js.Create(ctx, in)
		require.NoError(t, err)
		_, err = ps.Post(ctx, entry.ID, 1)
		require.NoError(t, err)
	}
	return f
}

func TestCleanLedgerPasses(t *testing.T) {
	f := seedPostings(t)
	report, err := NewChecker(f.Store, nil).Run(context.Background())
	require.NoError(t, err)
	require.True(t, report.OK(), "violations: %+v", report.Violations)
	require.Equal(t, 3, report.Entries)
	require.Equal(t, 6, report.Rows)
	require.True(t, report.TrialBalance.Balanced())
	require.True(t, report.TrialBalance.TotalDebit.Equal(ledgertest.Amount("1755.25")))

	require.Equal(t, accounting.AccountTypeAsset, report.TrialBalance.Groups[0].Type)
	var receivable AccountTotals
	for _, a := range report.TrialBalance.Groups[0].Accounts {
		if a.Code == ledgertest.Receivable {
			receivable = a
		}
	}
	require.True(t, receivable.Closing.Equal(ledgertest.Amount("680")))
}

func TestTamperedLedgerIsReported(t *testing.T) {
	f := seedPostings(t)
	ctx := context.Background()
	cash := f.Account(t, ledgertest.Cash)
	sales := f.Account(t, ledgertest.Sales)

	require.NoError(t, f.Store.WithTx(ctx, func(ctx context.Context, tx accounting.TxRepository) error {
		if err := tx.UpdateAccountBalance(ctx, cash.ID, decimal.NewFromInt(999), cash.Version); err != nil {
			return err
		}
		if _, err := tx.InsertLedgerRows(ctx, []accounting.LedgerRow{{
			AccountID:      sales.ID,
			PeriodID:       f.October.ID,
			Date:           ledgertest.Day(2026, 10, 16),
			EntryID:        1,
			LineID:         9999,
			PostingRef:     uuid.New(),
			Debit:          decimal.NewFromInt(5),
			RunningBalance: decimal.NewFromInt(123),
		}}); err != nil {
			return err
		}
		entry, err := tx.InsertEntry(ctx, accounting.JournalEntry{
			Number:      "JV-202610-999999",
			Date:        ledgertest.Day(2026, 10, 16),
			PeriodID:    f.October.ID,
			Type:        accounting.EntryTypeManual,
			TotalDebit:  decimal.NewFromInt(10),
			TotalCredit: decimal.NewFromInt(10),
			Status:      accounting.StatusDraft,
		})
		if err != nil {
			return err
		}
		_, err = tx.InsertLines(ctx, entry.ID, []accounting.JournalLine{{LineNumber: 1, AccountID: cash.ID, Debit: decimal.NewFromInt(10)}})
		return err
	}))

	report, err := NewChecker(f.Store, nil).Run(ctx)
	require.NoError(t, err)
	require.False(t, report.OK())

	counts := report.CountByKind()
	assert.Equal(t, 1, counts[KindUnbalancedEntry])
	assert.Equal(t, 1, counts[KindBrokenChain])
	assert.Equal(t, 2, counts[KindBalanceDrift], "cash drifted and sales tip moved")
	assert.Equal(t, 1, counts[KindTrialBalance])

	for _, v := range report.Violations {
		if v.Kind == KindBalanceDrift && v.AccountCode == ledgertest.Cash {
			require.True(t, v.Actual.Equal(decimal.NewFromInt(999)))
			require.True(t, v.Expected.Equal(ledgertest.Amount("500")))
			require.Contains(t, v.Detail, ledgertest.Cash)
		}
	}
}

// midCheckRepo commits a posting after the checker has read the accounts and before
// it reads their ledger rows.
type midCheckRepo struct {
	accounting.RepositoryPort
	commit func()
}

func (r *midCheckRepo) ReadSnapshot(ctx context.Context, fn func(context.Context, accounting.TxRepository) error) error {
	return r.RepositoryPort.ReadSnapshot(ctx, func(ctx context.Context, tx accounting.TxRepository) error {
		return fn(ctx, &midCheckTx{TxRepository: tx, commit: r.commit})
	})
}

type midCheckTx struct {
	accounting.TxRepository
	commit func()
}

func (t *midCheckTx) ListAccounts(ctx context.Context) ([]accounting.Account, error) {
	list, err := t.TxRepository.ListAccounts(ctx)
	if t.commit != nil {
		t.commit()
		t.commit = nil
	}
	return list, err
}

func TestPostingDuringCheckIsNotDrift(t *testing.T) {
	f := seedPostings(t)
	ctx := context.Background()
	js := journals.NewService(f.Store, journals.DefaultPolicy(), nil)
	ps := posting.NewService(f.Store, backoff.Config{MaxAttempts: 1, Base: time.Millisecond}, nil)

	repo := &midCheckRepo{RepositoryPort: f.Store, commit: func() {
		entry, err := js.Create(ctx, ledgertest.Entry(accounting.EntryTypeReceipt, ledgertest.Cash, ledgertest.Receivable, "150"))
		require.NoError(t, err)
		_, err = ps.Post(ctx, entry.ID, 1)
		require.NoError(t, err)
	}}

	report, err := NewChecker(repo, nil).Run(ctx)
	require.NoError(t, err)
	require.True(t, report.OK(), "violations: %+v", report.Violations)
	require.Equal(t, 3, report.Entries, "the check sees the ledger as it was when it started")
	require.True(t, f.Balance(t, ledgertest.Cash).Equal(ledgertest.Amount("650")))

	report, err = NewChecker(f.Store, nil).Run(ctx)
	require.NoError(t, err)
	require.True(t, report.OK())
	require.Equal(t, 4, report.Entries)
}

func TestBuildTrialBalanceGroupsByType(t *testing.T) {
	tb := BuildTrialBalance([]AccountTotals{
		{Code: "4000", Type: accounting.AccountTypeRevenue, Credit: decimal.NewFromInt(1200)},
		{Code: "1020", Type: accounting.AccountTypeAsset, Debit: decimal.NewFromInt(700)},
		{Code: "1010", Type: accounting.AccountTypeAsset, Debit: decimal.NewFromInt(500)},
	})
	require.Len(t, tb.Groups, 2)
	require.Equal(t, accounting.AccountTypeAsset, tb.Groups[0].Type)
	require.Equal(t, "1010", tb.Groups[0].Accounts[0].Code)
	require.True(t, tb.Groups[0].Debit.Equal(decimal.NewFromInt(1200)))
	require.True(t, tb.Balanced())
}
