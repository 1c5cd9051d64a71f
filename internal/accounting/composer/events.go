package composer

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
)

// Source identifies the business document an event was raised for. (Type, ID) is the
// idempotency key of the resulting journal entry.
type Source struct {
	Type      string    `validate:"required,max=64"`
	ID        string    `validate:"required,max=128"`
	Number    string    `validate:"max=64"`
	Date      time.Time `validate:"required"`
	ActorID   int64     `validate:"gte=0"`
	Narration string    `validate:"max=512"`
}

// Event is one of the business events the composer understands. The set is closed:
// only types declared in this package implement it.
type Event interface {
	source() Source
	entryType() accounting.EntryType
	label() string
	check() error
}

// Tax carries the GST split of an invoice or bill.
type Tax struct {
	CGST       decimal.Decimal
	SGST       decimal.Decimal
	IGST       decimal.Decimal
	Interstate bool
}

// Total returns the sum of all tax components.
func (t Tax) Total() decimal.Decimal {
	return t.CGST.Add(t.SGST).Add(t.IGST)
}

func (t Tax) check() error {
	for _, c := range []struct {
		field string
		v     decimal.Decimal
	}{{"tax.cgst", t.CGST}, {"tax.sgst", t.SGST}, {"tax.igst", t.IGST}} {
		if err := nonNegative(c.field, c.v); err != nil {
			return err
		}
	}
	if t.Interstate && !t.CGST.Add(t.SGST).IsZero() {
		return accounting.Invalid("tax", "interstate supply carries IGST only, got CGST %s SGST %s", t.CGST.StringFixed(2), t.SGST.StringFixed(2))
	}
	if !t.Interstate && !t.IGST.IsZero() {
		return accounting.Invalid("tax.igst", "intrastate supply cannot carry IGST %s", t.IGST.StringFixed(2))
	}
	return nil
}

// SalesInvoiceIssued books a receivable against revenue and output tax.
type SalesInvoiceIssued struct {
	Source
	CustomerID int64 `validate:"gte=0"`
	Gross      decimal.Decimal
	Taxable    decimal.Decimal
	Tax        Tax
}

// PurchaseBillApproved books a payable against expense (or inventory) and input tax.
type PurchaseBillApproved struct {
	Source
	VendorID    int64 `validate:"gte=0"`
	Gross       decimal.Decimal
	Taxable     decimal.Decimal
	Tax         Tax
	ToInventory bool
}

// PaymentMode selects the cash or bank account.
type PaymentMode string

const (
	ModeCash PaymentMode = "CASH"
	ModeBank PaymentMode = "BANK"
)

// PaymentReceived settles a customer receivable.
type PaymentReceived struct {
	Source
	CustomerID int64       `validate:"gte=0"`
	Amount     decimal.Decimal
	Mode       PaymentMode `validate:"required,oneof=CASH BANK"`
}

// PaymentMade settles a vendor payable.
type PaymentMade struct {
	Source
	VendorID int64       `validate:"gte=0"`
	Amount   decimal.Decimal
	Mode     PaymentMode `validate:"required,oneof=CASH BANK"`
}

// BankDirection classifies a bank statement line.
type BankDirection string

const (
	BankDeposit    BankDirection = "DEPOSIT"
	BankWithdrawal BankDirection = "WITHDRAWAL"
	BankCharge     BankDirection = "CHARGE"
)

// BankTransaction books a bank movement against a counter role, SUSPENSE when unset.
type BankTransaction struct {
	Source
	Direction BankDirection `validate:"required,oneof=DEPOSIT WITHDRAWAL CHARGE"`
	Amount    decimal.Decimal
	Counter   Role
}

// StockAdjustment books a stock count difference. Positive quantities are gains.
type StockAdjustment struct {
	Source
	Qty      decimal.Decimal
	UnitCost decimal.Decimal
}

// Amount is the rounded value of the adjustment.
func (e StockAdjustment) Amount() decimal.Decimal {
	return accounting.Round(e.Qty.Abs().Mul(e.UnitCost))
}

func (e SalesInvoiceIssued) source() Source                  { return e.Source }
func (e SalesInvoiceIssued) entryType() accounting.EntryType { return accounting.EntryTypeSales }
func (e SalesInvoiceIssued) label() string                   { return "Sales invoice" }
func (e SalesInvoiceIssued) check() error {
	if err := positive("gross", e.Gross); err != nil {
		return err
	}
	if err := positive("taxable", e.Taxable); err != nil {
		return err
	}
	return e.Tax.check()
}

func (e PurchaseBillApproved) source() Source                  { return e.Source }
func (e PurchaseBillApproved) entryType() accounting.EntryType { return accounting.EntryTypePurchase }
func (e PurchaseBillApproved) label() string                   { return "Purchase bill" }
func (e PurchaseBillApproved) check() error {
	if err := positive("gross", e.Gross); err != nil {
		return err
	}
	if err := positive("taxable", e.Taxable); err != nil {
		return err
	}
	return e.Tax.check()
}

func (e PaymentReceived) source() Source                  { return e.Source }
func (e PaymentReceived) entryType() accounting.EntryType { return accounting.EntryTypeReceipt }
func (e PaymentReceived) label() string                   { return "Payment received" }
func (e PaymentReceived) check() error                    { return positive("amount", e.Amount) }

func (e PaymentMade) source() Source                  { return e.Source }
func (e PaymentMade) entryType() accounting.EntryType { return accounting.EntryTypePayment }
func (e PaymentMade) label() string                   { return "Payment made" }
func (e PaymentMade) check() error                    { return positive("amount", e.Amount) }

func (e BankTransaction) source() Source                  { return e.Source }
func (e BankTransaction) entryType() accounting.EntryType { return accounting.EntryTypeBank }
func (e BankTransaction) label() string                   { return "Bank transaction" }
func (e BankTransaction) check() error {
	if e.Counter != "" && !e.Counter.Known() {
		return accounting.Invalid("counter", "unknown role %q", e.Counter)
	}
	return positive("amount", e.Amount)
}

func (e StockAdjustment) source() Source                  { return e.Source }
func (e StockAdjustment) entryType() accounting.EntryType { return accounting.EntryTypeStock }
func (e StockAdjustment) label() string                   { return "Stock adjustment" }
func (e StockAdjustment) check() error {
	if e.Qty.IsZero() {
		return accounting.Invalid("qty", "must be non-zero")
	}
	if e.UnitCost.IsNegative() {
		return accounting.Invalid("unit_cost", "negative %s", e.UnitCost.String())
	}
	if !e.Amount().IsPositive() {
		return accounting.Invalid("unit_cost", "adjustment of %s units values to zero", e.Qty.String())
	}
	return nil
}

var validate = validator.New()

// deref unwraps pointers to events, which satisfy Event through the value receivers.
// A nil pointer yields nil.
func deref(ev Event) Event {
	switch e := ev.(type) {
	case *SalesInvoiceIssued:
		if e != nil {
			return *e
		}
	case *PurchaseBillApproved:
		if e != nil {
			return *e
		}
	case *PaymentReceived:
		if e != nil {
			return *e
		}
	case *PaymentMade:
		if e != nil {
			return *e
		}
	case *BankTransaction:
		if e != nil {
			return *e
		}
	case *StockAdjustment:
		if e != nil {
			return *e
		}
	default:
		return ev
	}
	return nil
}

// Validate checks the struct tags and amount rules of ev.
func Validate(ev Event) error {
	ev = deref(ev)
	if ev == nil {
		return accounting.Invalid("event", "required")
	}
	if err := validate.Struct(ev); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return accounting.Invalid(fieldName(fe), "%s", ruleMessage(fe))
		}
		return fmt.Errorf("%w: %v", accounting.ErrValidation, err)
	}
	return ev.check()
}

func fieldName(fe validator.FieldError) string {
	ns := fe.Namespace()
	if idx := strings.Index(ns, "."); idx >= 0 {
		ns = ns[idx+1:]
	}
	return strings.ToLower(ns)
}

func ruleMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "required"
	case "oneof":
		return fmt.Sprintf("must be one of %s, got %v", fe.Param(), fe.Value())
	case "max":
		return fmt.Sprintf("longer than %s", fe.Param())
	case "gte":
		return fmt.Sprintf("must be >= %s", fe.Param())
	}
	return fmt.Sprintf("failed %s", fe.Tag())
}

func positive(field string, v decimal.Decimal) error {
	if !v.IsPositive() {
		return accounting.Invalid(field, "must be positive, got %s", v.String())
	}
	return scaled(field, v)
}

func nonNegative(field string, v decimal.Decimal) error {
	if v.IsNegative() {
		return accounting.Invalid(field, "negative %s", v.String())
	}
	return scaled(field, v)
}

func scaled(field string, v decimal.Decimal) error {
	if !v.Equal(accounting.Round(v)) {
		return accounting.Invalid(field, "%s exceeds %d decimal places", v.String(), accounting.AmountScale)
	}
	return nil
}
