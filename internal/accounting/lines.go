package accounting

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// LineInput describes a journal line before persistence. Accounts are referenced by code.
type LineInput struct {
	AccountCode string
	Debit       decimal.Decimal
	Credit      decimal.Decimal
	Memo        string
}

// Debit builds a debit line.
func Debit(code string, amount decimal.Decimal) LineInput {
	return LineInput{AccountCode: code, Debit: amount}
}

// Credit builds a credit line.
func Credit(code string, amount decimal.Decimal) LineInput {
	return LineInput{AccountCode: code, Credit: amount}
}

// EntryInput groups the header and lines of a new journal entry.
type EntryInput struct {
	Date         time.Time
	PeriodID     int64
	Type         EntryType
	SourceType   string
	SourceID     string
	SourceNumber string
	Narration    string
	CreatedBy    int64
	ReversalOf   *int64
	Lines        []LineInput
}

// Totals sums the debit and credit sides.
func Totals(lines []LineInput) (debit, credit decimal.Decimal) {
	for _, line := range lines {
		debit = debit.Add(line.Debit)
		credit = credit.Add(line.Credit)
	}
	return debit, credit
}

// ValidateLines enforces the per-line and per-entry invariants: at least two lines,
// exactly one non-zero side per line, no negative amounts, scale respected and
// Σdebit == Σcredit exactly.
func ValidateLines(lines []LineInput) error {
	if len(lines) < 2 {
		return fmt.Errorf("%w: %w", ErrValidation, ErrTooFewLines)
	}
	for idx, line := range lines {
		if strings.TrimSpace(line.AccountCode) == "" {
			return Invalid(fmt.Sprintf("lines[%d].account", idx), "account code required")
		}
		if line.Debit.IsNegative() || line.Credit.IsNegative() {
			return Invalid(fmt.Sprintf("lines[%d]", idx), "negative amount on account %s", line.AccountCode)
		}
		if line.Debit.IsZero() == line.Credit.IsZero() {
			return Invalid(fmt.Sprintf("lines[%d]", idx), "account %s needs exactly one of debit or credit", line.AccountCode)
		}
		if !line.Debit.Equal(Round(line.Debit)) || !line.Credit.Equal(Round(line.Credit)) {
			return Invalid(fmt.Sprintf("lines[%d]", idx), "amount on account %s exceeds %d decimal places", line.AccountCode, AmountScale)
		}
	}
	debit, credit := Totals(lines)
	if !debit.Equal(credit) {
		return &UnbalancedError{Debit: debit, Credit: credit}
	}
	return nil
}

// Validate checks header fields and the line invariants.
func (in EntryInput) Validate() error {
	if in.Date.IsZero() {
		return Invalid("date", "required")
	}
	if !in.Type.Valid() {
		return Invalid("type", "unknown entry type %q", in.Type)
	}
	if (in.SourceType == "") != (in.SourceID == "") {
		return Invalid("source", "source type and source id must be given together")
	}
	return ValidateLines(in.Lines)
}

// ValidateStoredLines re-checks the balance invariant on persisted lines.
func ValidateStoredLines(lines []JournalLine) error {
	inputs := make([]LineInput, 0, len(lines))
	for _, line := range lines {
		code := line.AccountCode
		if code == "" {
			code = fmt.Sprintf("#%d", line.AccountID)
		}
		inputs = append(inputs, LineInput{AccountCode: code, Debit: line.Debit, Credit: line.Credit, Memo: line.Memo})
	}
	return ValidateLines(inputs)
}

// ReverseLines swaps debit and credit on every line.
func ReverseLines(lines []JournalLine) []LineInput {
	out := make([]LineInput, 0, len(lines))
	for _, line := range lines {
		out = append(out, LineInput{
			AccountCode: line.AccountCode,
			Debit:       line.Credit,
			Credit:      line.Debit,
			Memo:        line.Memo,
		})
	}
	return out
}
