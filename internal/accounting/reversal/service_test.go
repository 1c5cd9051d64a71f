package reversal

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/ledgertest"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/posting"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/backoff"
)

type harness struct {
	f        *ledgertest.Fixture
	journals *journals.Service
	posting  *posting.Service
	reversal *Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	f := ledgertest.New(t)
	js := journals.NewService(f.Store, journals.DefaultPolicy(), nil)
	ps := posting.NewService(f.Store, backoff.Config{MaxAttempts: 3, Base: time.Millisecond}, nil)
	rs := NewService(js, ps, nil)
	rs.WithNow(func() time.Time { return ledgertest.Day(2026, 10, 20) })
	return &harness{f: f, journals: js, posting: ps, reversal: rs}
}

func (h *harness) postedSale(t *testing.T, amount string) accounting.JournalEntry {
	t.Helper()
	ctx := context.Background()
	entry, err := h.journals.Create(ctx, ledgertest.Entry(accounting.EntryTypeSales, ledgertest.Receivable, ledgertest.Sales, amount))
	require.NoError(t, err)
	entry, err = h.posting.Post(ctx, entry.ID, 1)
	require.NoError(t, err)
	return entry
}

func TestReverseRestoresBalances(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	before := h.f.Balance(t, ledgertest.Receivable)
	original := h.postedSale(t, "1180.40")
	require.False(t, h.f.Balance(t, ledgertest.Receivable).Equal(before))

	res, err := h.reversal.Reverse(ctx, Input{EntryID: original.ID, Reason: "issued in error", ActorID: 5})
	require.NoError(t, err)

	require.Equal(t, accounting.StatusReversed, res.Original.Status)
	require.Equal(t, res.Reversal.ID, *res.Original.ReversedBy)
	require.Equal(t, accounting.StatusPosted, res.Reversal.Status)
	require.Equal(t, accounting.EntryTypeReversal, res.Reversal.Type)
	require.Equal(t, original.ID, *res.Reversal.ReversalOf)
	require.Equal(t, SourceType, res.Reversal.SourceType)
	require.Equal(t, strconv.FormatInt(original.ID, 10), res.Reversal.SourceID)
	require.Contains(t, res.Reversal.Narration, original.Number)

	require.True(t, h.f.Balance(t, ledgertest.Receivable).Equal(before))
	require.True(t, h.f.Balance(t, ledgertest.Sales).IsZero())

	stored, err := h.journals.Get(ctx, original.ID)
	require.NoError(t, err)
	require.Equal(t, accounting.StatusReversed, stored.Status)
	for i, line := range res.Reversal.Lines {
		require.True(t, line.Debit.Equal(original.Lines[i].Credit))
		require.True(t, line.Credit.Equal(original.Lines[i].Debit))
	}
}

func TestReverseIsOneShot(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	original := h.postedSale(t, "10")
	_, err := h.reversal.Reverse(ctx, Input{EntryID: original.ID, Reason: "x", ActorID: 1})
	require.NoError(t, err)

	_, err = h.reversal.Reverse(ctx, Input{EntryID: original.ID, Reason: "again", ActorID: 1})
	require.ErrorIs(t, err, accounting.ErrIllegalTransition)

	_, err = h.posting.Post(ctx, original.ID, 1)
	require.ErrorIs(t, err, accounting.ErrIllegalTransition)
}

func TestReverseRequiresPostedEntry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	draft, err := h.journals.Create(ctx, ledgertest.Entry(accounting.EntryTypeManual, ledgertest.Expense, ledgertest.Cash, "5"))
	require.NoError(t, err)

	_, err = h.reversal.Reverse(ctx, Input{EntryID: draft.ID, Reason: "x", ActorID: 1})
	require.ErrorIs(t, err, accounting.ErrIllegalTransition)

	_, err = h.reversal.Reverse(ctx, Input{EntryID: draft.ID, ActorID: 1})
	require.ErrorIs(t, err, accounting.ErrValidation)
}

func TestReverseUsesOpenPeriodOfReversalDate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	original := h.postedSale(t, "10")
	h.f.ClosePeriod(t, h.f.October.ID)

	res, err := h.reversal.Reverse(ctx, Input{EntryID: original.ID, Reason: "late", ActorID: 1})
	require.NoError(t, err)
	require.Equal(t, h.f.Year.ID, res.Reversal.PeriodID)
}

func TestReverseWithoutOpenPeriodLeavesOriginalPosted(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	original := h.postedSale(t, "10")
	date := ledgertest.Day(2027, 2, 1)

	_, err := h.reversal.Reverse(ctx, Input{EntryID: original.ID, Reason: "x", ActorID: 1, Date: &date})
	require.ErrorIs(t, err, accounting.ErrNoOpenPeriod)

	stored, err := h.journals.Get(ctx, original.ID)
	require.NoError(t, err)
	require.Equal(t, accounting.StatusPosted, stored.Status)
	require.True(t, h.f.Balance(t, ledgertest.Receivable).Equal(ledgertest.Amount("10")))
}
