package composer

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/ledgertest"
)

func compose(t *testing.T, f *ledgertest.Fixture, c *Composer, ev Event) (accounting.EntryInput, error) {
	t.Helper()
	var in accounting.EntryInput
	err := f.Store.WithTx(context.Background(), func(ctx context.Context, tx accounting.TxRepository) error {
		var err error
		in, err = c.ComposeTx(ctx, tx, ev)
		return err
	})
	return in, err
}

func byCode(lines []accounting.LineInput) map[string]accounting.LineInput {
	out := make(map[string]accounting.LineInput, len(lines))
	for _, l := range lines {
		out[l.AccountCode] = l
	}
	return out
}

func amt(v string) decimal.Decimal { return ledgertest.Amount(v) }

func source(id string) Source {
	return Source{Type: "SALES_INVOICE", ID: id, Number: "INV-" + id, Date: ledgertest.Day(2026, 10, 15), ActorID: 3}
}

func TestSalesInvoiceIntrastateSplitsTax(t *testing.T) {
	f := ledgertest.New(t)
	c := New(Config{}, nil)

	in, err := compose(t, f, c, SalesInvoiceIssued{
		Source:  source("1"),
		Gross:   amt("11800"),
		Taxable: amt("10000"),
		Tax:     Tax{CGST: amt("900"), SGST: amt("900")},
	})
	require.NoError(t, err)
	require.Equal(t, accounting.EntryTypeSales, in.Type)
	require.Equal(t, "Sales invoice INV-1", in.Narration)
	require.Len(t, in.Lines, 4)

	lines := byCode(in.Lines)
	assert.True(t, lines["1100"].Debit.Equal(amt("11800")))
	assert.True(t, lines["4000"].Credit.Equal(amt("10000")))
	assert.True(t, lines["2110"].Credit.Equal(amt("900")))
	assert.True(t, lines["2120"].Credit.Equal(amt("900")))
	debit, credit := accounting.Totals(in.Lines)
	require.True(t, debit.Equal(amt("11800")))
	require.True(t, credit.Equal(debit))
	require.NoError(t, accounting.ValidateLines(in.Lines))

	tax := f.Account(t, "2110")
	require.Equal(t, accounting.AccountTypeLiability, tax.Type)
	require.Equal(t, "TAX", tax.Subtype)
}

func TestSalesInvoiceInterstateUsesSingleIGSTLine(t *testing.T) {
	f := ledgertest.New(t)
	in, err := compose(t, f, New(Config{}, nil), SalesInvoiceIssued{
		Source:  source("2"),
		Gross:   amt("11800"),
		Taxable: amt("10000"),
		Tax:     Tax{IGST: amt("1800"), Interstate: true},
	})
	require.NoError(t, err)
	require.Len(t, in.Lines, 3)
	lines := byCode(in.Lines)
	require.True(t, lines["2130"].Credit.Equal(amt("1800")))
	require.NotContains(t, lines, "2110")
	require.NotContains(t, lines, "2120")
}

func TestZeroTaxComponentsEmitNoLines(t *testing.T) {
	f := ledgertest.New(t)
	in, err := compose(t, f, New(Config{}, nil), SalesInvoiceIssued{
		Source:  source("3"),
		Gross:   amt("500"),
		Taxable: amt("500"),
	})
	require.NoError(t, err)
	require.Len(t, in.Lines, 2)
}

func TestRoundOffLineOnlyForRemainder(t *testing.T) {
	f := ledgertest.New(t)
	c := New(Config{}, nil)

	in, err := compose(t, f, c, SalesInvoiceIssued{
		Source:  source("4"),
		Gross:   amt("11800"),
		Taxable: amt("9999.60"),
		Tax:     Tax{CGST: amt("900"), SGST: amt("900")},
	})
	require.NoError(t, err)
	round := byCode(in.Lines)["5950"]
	require.True(t, round.Credit.Equal(amt("0.40")))
	require.True(t, round.Debit.IsZero())

	in, err = compose(t, f, c, PurchaseBillApproved{
		Source:   Source{Type: "PURCHASE_BILL", ID: "B-1", Date: ledgertest.Day(2026, 10, 15)},
		Gross:    amt("1180"),
		Taxable:  amt("1000.30"),
		Tax:      Tax{CGST: amt("90"), SGST: amt("90")},
		VendorID: 0,
	})
	require.NoError(t, err)
	round = byCode(in.Lines)["5950"]
	require.True(t, round.Credit.Equal(amt("0.30")), "purchase remainder lands on the credit side too")
}

func TestRemainderAboveLimitIsUnbalancedAndProvisionsNothing(t *testing.T) {
	f := ledgertest.New(t)
	_, err := compose(t, f, New(Config{}, nil), SalesInvoiceIssued{
		Source:  source("5"),
		Gross:   amt("11800"),
		Taxable: amt("9000"),
		Tax:     Tax{CGST: amt("900"), SGST: amt("900")},
	})
	require.ErrorIs(t, err, accounting.ErrUnbalanced)
	require.ErrorIs(t, err, accounting.ErrValidation)
	var unbalanced *accounting.UnbalancedError
	require.True(t, errors.As(err, &unbalanced))
	require.True(t, unbalanced.Debit.Equal(amt("11800")))
	require.True(t, unbalanced.Credit.Equal(amt("10800")))

	require.NoError(t, f.Store.WithTx(context.Background(), func(ctx context.Context, tx accounting.TxRepository) error {
		_, err := tx.GetAccountByCode(ctx, "2110")
		require.ErrorIs(t, err, accounting.ErrAccountNotFound)
		return nil
	}))
}

func TestZeroRoundOffLimitRefusesEveryRemainder(t *testing.T) {
	f := ledgertest.New(t)
	none := decimal.Zero
	c := New(Config{MaxRoundOff: &none}, nil)

	_, err := compose(t, f, c, SalesInvoiceIssued{
		Source:  source("9"),
		Gross:   amt("11800.50"),
		Taxable: amt("10000"),
		Tax:     Tax{CGST: amt("900"), SGST: amt("900")},
	})
	var unbalanced *accounting.UnbalancedError
	require.True(t, errors.As(err, &unbalanced))
	require.True(t, unbalanced.Debit.Equal(amt("11800.50")))
	require.True(t, unbalanced.Credit.Equal(amt("11800")))

	in, err := compose(t, f, c, SalesInvoiceIssued{
		Source:  source("10"),
		Gross:   amt("11800"),
		Taxable: amt("10000"),
		Tax:     Tax{CGST: amt("900"), SGST: amt("900")},
	})
	require.NoError(t, err)
	require.NotContains(t, byCode(in.Lines), "5950")
}

func TestPointerEventsComposeLikeValues(t *testing.T) {
	f := ledgertest.New(t)
	c := New(Config{}, nil)

	in, err := compose(t, f, c, &PaymentReceived{Source: source("11"), Amount: amt("75"), Mode: ModeCash})
	require.NoError(t, err)
	require.Equal(t, accounting.EntryTypeReceipt, in.Type)
	require.True(t, byCode(in.Lines)["1010"].Debit.Equal(amt("75")))
	require.Equal(t, KindPaymentReceived, KindOf(&PaymentReceived{}))

	var missing *PaymentReceived
	_, err = compose(t, f, c, missing)
	require.ErrorIs(t, err, accounting.ErrValidation)
}

func TestCounterpartyLinkedAccountWins(t *testing.T) {
	f := ledgertest.New(t)
	require.NoError(t, f.Store.WithTx(context.Background(), func(ctx context.Context, tx accounting.TxRepository) error {
		_, _, err := tx.InsertAccountIfAbsent(ctx, accounting.AccountInput{Code: "1150", Name: "Receivable - Acme", Type: accounting.AccountTypeAsset})
		return err
	}))
	c := New(Config{Directory: StaticDirectory{{Kind: Customer, ID: 42}: "1150", {Kind: Customer, ID: 7}: "1199"}}, nil)

	in, err := compose(t, f, c, PaymentReceived{Source: source("6"), CustomerID: 42, Amount: amt("5000"), Mode: ModeBank})
	require.NoError(t, err)
	lines := byCode(in.Lines)
	require.True(t, lines["1150"].Credit.Equal(amt("5000")))
	require.True(t, lines["1020"].Debit.Equal(amt("5000")))

	in, err = compose(t, f, c, PaymentReceived{Source: source("7"), CustomerID: 8, Amount: amt("5"), Mode: ModeCash})
	require.NoError(t, err)
	require.Contains(t, byCode(in.Lines), "1100", "unlinked customers use the role default")
	require.Contains(t, byCode(in.Lines), "1010")

	_, err = compose(t, f, c, PaymentReceived{Source: source("8"), CustomerID: 7, Amount: amt("5"), Mode: ModeCash})
	require.ErrorIs(t, err, accounting.ErrAccountNotFound)
	require.Contains(t, err.Error(), "1199")
}

func TestComposeRefusesJournaledSource(t *testing.T) {
	f := ledgertest.New(t)
	c := New(Config{}, nil)
	js := journals.NewService(f.Store, journals.DefaultPolicy(), nil)
	ev := PaymentMade{Source: Source{Type: "VENDOR_PAYMENT", ID: "P-1", Date: ledgertest.Day(2026, 10, 15)}, Amount: amt("250"), Mode: ModeBank}

	in, err := compose(t, f, c, ev)
	require.NoError(t, err)
	entry, err := js.Create(context.Background(), in)
	require.NoError(t, err)

	_, err = compose(t, f, c, ev)
	require.ErrorIs(t, err, accounting.ErrDuplicateEntry)
	var dup *accounting.DuplicateEntryError
	require.True(t, errors.As(err, &dup))
	require.Equal(t, entry.ID, dup.ExistingID)
	require.Equal(t, entry.Number, dup.ExistingNumber)
}

func TestBankAndStockEvents(t *testing.T) {
	f := ledgertest.New(t)
	c := New(Config{}, nil)
	date := ledgertest.Day(2026, 10, 15)

	in, err := compose(t, f, c, BankTransaction{Source: Source{Type: "BANK_LINE", ID: "s-1", Date: date}, Direction: BankCharge, Amount: amt("12.50")})
	require.NoError(t, err)
	lines := byCode(in.Lines)
	require.True(t, lines["5100"].Debit.Equal(amt("12.50")))
	require.True(t, lines["1020"].Credit.Equal(amt("12.50")))

	in, err = compose(t, f, c, BankTransaction{Source: Source{Type: "BANK_LINE", ID: "s-2", Date: date}, Direction: BankDeposit, Amount: amt("40")})
	require.NoError(t, err)
	require.True(t, byCode(in.Lines)["2900"].Credit.Equal(amt("40")))

	in, err = compose(t, f, c, StockAdjustment{Source: Source{Type: "STOCK_COUNT", ID: "c-1", Date: date}, Qty: amt("-3"), UnitCost: amt("2.335")})
	require.NoError(t, err)
	lines = byCode(in.Lines)
	require.True(t, lines["5900"].Debit.Equal(amt("7.01")))
	require.True(t, lines["1200"].Credit.Equal(amt("7.01")))
	require.Equal(t, accounting.EntryTypeStock, in.Type)
}

func TestValidateReportsField(t *testing.T) {
	date := ledgertest.Day(2026, 10, 15)
	cases := []struct {
		name  string
		ev    Event
		field string
	}{
		{"missing source id", PaymentReceived{Source: Source{Type: "X", Date: date}, Amount: amt("1"), Mode: ModeBank}, "source.id"},
		{"bad mode", PaymentReceived{Source: Source{Type: "X", ID: "1", Date: date}, Amount: amt("1"), Mode: "CHEQUE"}, "mode"},
		{"zero amount", PaymentMade{Source: Source{Type: "X", ID: "1", Date: date}, Mode: ModeCash}, "amount"},
		{"three decimals", PaymentMade{Source: Source{Type: "X", ID: "1", Date: date}, Amount: amt("1.005"), Mode: ModeCash}, "amount"},
		{"igst intrastate", SalesInvoiceIssued{Source: Source{Type: "X", ID: "1", Date: date}, Gross: amt("2"), Taxable: amt("1"), Tax: Tax{IGST: amt("1")}}, "tax.igst"},
		{"unknown counter", BankTransaction{Source: Source{Type: "X", ID: "1", Date: date}, Direction: BankDeposit, Amount: amt("1"), Counter: "NOPE"}, "counter"},
		{"zero qty", StockAdjustment{Source: Source{Type: "X", ID: "1", Date: date}, UnitCost: amt("1")}, "qty"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(tc.ev)
			require.ErrorIs(t, err, accounting.ErrValidation)
			var fieldErr *accounting.FieldError
			require.True(t, errors.As(err, &fieldErr))
			require.Equal(t, tc.field, fieldErr.Field)
		})
	}
	require.ErrorIs(t, Validate(nil), accounting.ErrValidation)
}

func TestParseRoles(t *testing.T) {
	roles, err := ParseRoles(map[string]string{"accounts_receivable": "1105", "ROUND_OFF": " 6999 "})
	require.NoError(t, err)
	spec, err := roles.Spec(RoleAccountsReceivable)
	require.NoError(t, err)
	require.Equal(t, "1105", spec.Code)
	require.Equal(t, accounting.AccountTypeAsset, spec.Type)
	spec, err = roles.Spec(RoleRoundOff)
	require.NoError(t, err)
	require.Equal(t, "6999", spec.Code)

	_, err = ParseRoles(map[string]string{"PETTY_CASH": "1"})
	require.Error(t, err)
	_, err = ParseRoles(map[string]string{"CASH": ""})
	require.Error(t, err)
}
