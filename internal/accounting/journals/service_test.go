package journals

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/ledgertest"
)

func newService(t *testing.T) (*Service, *ledgertest.Fixture) {
	t.Helper()
	f := ledgertest.New(t)
	return NewService(f.Store, DefaultPolicy(), nil), f
}

func TestCreateStoresDraftWithLines(t *testing.T) {
	svc, f := newService(t)
	in := ledgertest.Entry(accounting.EntryTypeManual, ledgertest.Expense, ledgertest.Cash, "250.00")
	in.SourceType, in.SourceID = "EXPENSE_CLAIM", "EC-1"

	entry, err := svc.Create(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, accounting.StatusDraft, entry.Status)
	require.Equal(t, f.October.ID, entry.PeriodID)
	require.True(t, entry.RequiresApproval)
	require.Equal(t, "JV-202610-000001", entry.Number)
	require.True(t, entry.TotalDebit.Equal(entry.TotalCredit))
	require.Len(t, entry.Lines, 2)
	require.Equal(t, 1, entry.Lines[0].LineNumber)
	require.Equal(t, ledgertest.Expense, entry.Lines[0].AccountCode)
}

func TestCreateRejectsUnbalancedBeforeWriting(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	in := ledgertest.Entry(accounting.EntryTypeManual, ledgertest.Expense, ledgertest.Cash, "100")
	in.Lines[1].Credit = ledgertest.Amount("90")

	_, err := svc.Create(ctx, in)
	require.ErrorIs(t, err, accounting.ErrValidation)
	require.ErrorIs(t, err, accounting.ErrUnbalanced)
	var unbalanced *accounting.UnbalancedError
	require.True(t, errors.As(err, &unbalanced))
	require.Contains(t, err.Error(), "100.00")
	require.Contains(t, err.Error(), "90.00")
	require.Contains(t, err.Error(), "10.00")

	all, err := svc.List(ctx, accounting.EntryFilter{})
	require.NoError(t, err)
	require.Empty(t, all)
}

func TestCreateRejectsBadAccounts(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, ledgertest.Entry(accounting.EntryTypeManual, "7777", ledgertest.Cash, "10"))
	require.ErrorIs(t, err, accounting.ErrAccountNotFound)
	require.Contains(t, err.Error(), "7777")

	_, err = svc.Create(ctx, ledgertest.Entry(accounting.EntryTypeManual, ledgertest.GroupAssets, ledgertest.Cash, "10"))
	require.ErrorIs(t, err, accounting.ErrAccountNotPostable)
	require.Contains(t, err.Error(), ledgertest.GroupAssets)
}

func TestCreateRejectsClosedPeriod(t *testing.T) {
	svc, f := newService(t)
	f.ClosePeriod(t, f.October.ID)
	in := ledgertest.Entry(accounting.EntryTypeManual, ledgertest.Expense, ledgertest.Cash, "10")
	in.PeriodID = f.October.ID

	_, err := svc.Create(context.Background(), in)
	require.ErrorIs(t, err, accounting.ErrPeriodNotOpen)
	var periodErr *accounting.PeriodError
	require.True(t, errors.As(err, &periodErr))
	require.Equal(t, f.October.ID, periodErr.PeriodID)
	require.Equal(t, accounting.PeriodStatusClosed, periodErr.Status)
}

func TestCreateRejectsDuplicateSource(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	in := ledgertest.Entry(accounting.EntryTypeSales, ledgertest.Receivable, ledgertest.Sales, "10")
	in.SourceType, in.SourceID = "SALES_INVOICE", "INV-9"

	first, err := svc.Create(ctx, in)
	require.NoError(t, err)
	_, err = svc.Create(ctx, in)
	require.ErrorIs(t, err, accounting.ErrDuplicateEntry)
	var dup *accounting.DuplicateEntryError
	require.True(t, errors.As(err, &dup))
	require.Equal(t, first.ID, dup.ExistingID)

	_, err = svc.Cancel(ctx, first.ID, 1)
	require.NoError(t, err)
	_, err = svc.Create(ctx, in)
	require.NoError(t, err, "cancelling frees the source key")
}

func TestApprovalLevelIsFixedAtSubmission(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	entry, err := svc.Create(ctx, ledgertest.Entry(accounting.EntryTypeManual, ledgertest.Expense, ledgertest.Cash, "500000"))
	require.NoError(t, err)

	entry, err = svc.SubmitForApproval(ctx, entry.ID, 1, "")
	require.NoError(t, err)
	require.Equal(t, accounting.StatusPendingApproval, entry.Status)
	require.Equal(t, 2, entry.ApprovalLevel)

	pending, err := svc.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	_, err = svc.Approve(ctx, entry.ID, 1, "")
	require.ErrorIs(t, err, accounting.ErrSelfApproval)

	entry, err = svc.Approve(ctx, entry.ID, 2, "ok")
	require.NoError(t, err)
	require.Equal(t, accounting.StatusPendingApproval, entry.Status)
	require.Equal(t, 1, entry.ApprovalCount)

	_, err = svc.Approve(ctx, entry.ID, 2, "again")
	require.ErrorIs(t, err, accounting.ErrAlreadyApproved)

	entry, err = svc.Approve(ctx, entry.ID, 3, "ok")
	require.NoError(t, err)
	require.Equal(t, accounting.StatusApproved, entry.Status)

	logs, err := svc.Approvals(ctx, entry.ID)
	require.NoError(t, err)
	require.Len(t, logs, 3)
	require.Equal(t, accounting.ApprovalSubmit, logs[0].Action)
}

func TestRejectAndIllegalTransitions(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	entry, err := svc.Create(ctx, ledgertest.Entry(accounting.EntryTypeManual, ledgertest.Expense, ledgertest.Cash, "10"))
	require.NoError(t, err)

	_, err = svc.Approve(ctx, entry.ID, 2, "")
	require.ErrorIs(t, err, accounting.ErrIllegalTransition)

	_, err = svc.SubmitForApproval(ctx, entry.ID, 1, "")
	require.NoError(t, err)
	_, err = svc.Reject(ctx, entry.ID, 2, "")
	require.ErrorIs(t, err, accounting.ErrValidation)
	rejected, err := svc.Reject(ctx, entry.ID, 2, "wrong account")
	require.NoError(t, err)
	require.Equal(t, accounting.StatusRejected, rejected.Status)
	require.True(t, rejected.Status.Terminal())

	_, err = svc.Cancel(ctx, entry.ID, 1)
	var transition *accounting.TransitionError
	require.True(t, errors.As(err, &transition))
	require.Equal(t, accounting.StatusRejected, transition.From)
	require.Equal(t, accounting.StatusCancelled, transition.To)
}

func TestGetUnknownEntry(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.Get(context.Background(), 404)
	require.ErrorIs(t, err, accounting.ErrNotFound)
}

func TestPolicyLevels(t *testing.T) {
	tiers, err := ParseTiers("1000000:2, 100000:1")
	require.NoError(t, err)
	p := Policy{Tiers: tiers}
	require.Equal(t, 1, p.LevelFor(decimal.NewFromInt(100000)))
	require.Equal(t, 2, p.LevelFor(decimal.NewFromInt(100001)))
	require.Equal(t, 3, p.LevelFor(decimal.NewFromInt(5000000)))
	require.False(t, p.RequiresApproval(accounting.EntryTypeReversal))
	require.True(t, p.RequiresApproval(accounting.EntryTypeManual))

	_, err = ParseTiers("abc")
	require.Error(t, err)
	_, err = ParseAutoPost([]string{"sales", "NOPE"})
	require.Error(t, err)
	auto, err := ParseAutoPost([]string{"sales", " receipt "})
	require.NoError(t, err)
	require.True(t, auto[accounting.EntryTypeReceipt])
}
