package accounting

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrValidation marks every local, non-partial input failure.
	ErrValidation = errors.New("accounting: validation failed")
	// ErrUnbalanced indicates debit != credit.
	ErrUnbalanced = errors.New("accounting: journal lines must balance")
	// ErrTooFewLines indicates less than two lines.
	ErrTooFewLines = errors.New("accounting: journal requires at least two lines")
	// ErrAccountNotFound indicates an unknown account code or id.
	ErrAccountNotFound = errors.New("accounting: account not found")
	// ErrAccountNotPostable indicates a group or inactive account.
	ErrAccountNotPostable = errors.New("accounting: account not postable")
	// ErrPeriodNotOpen indicates a CLOSED or LOCKED period.
	ErrPeriodNotOpen = errors.New("accounting: period is not open")
	// ErrNoOpenPeriod indicates no OPEN period covers the date.
	ErrNoOpenPeriod = errors.New("accounting: no open period")
	// ErrDateOutOfRange indicates journal date mismatch.
	ErrDateOutOfRange = errors.New("accounting: date outside period")
	// ErrDuplicateEntry indicates the source document already has an entry.
	ErrDuplicateEntry = errors.New("accounting: duplicate entry for source")
	// ErrNotFound indicates a missing entity.
	ErrNotFound = errors.New("accounting: not found")
	// ErrIllegalTransition indicates the state machine refuses the move.
	ErrIllegalTransition = errors.New("accounting: illegal status transition")
	// ErrConcurrencyConflict indicates a lost-update hazard was detected.
	ErrConcurrencyConflict = errors.New("accounting: concurrency conflict")
	// ErrSelfApproval indicates the maker tried to act as checker.
	ErrSelfApproval = errors.New("accounting: approver must differ from creator")
	// ErrAlreadyApproved indicates the approver already signed the entry.
	ErrAlreadyApproved = errors.New("accounting: approver already recorded")
	// ErrPeriodOverlap indicates a new period intersects an existing one.
	ErrPeriodOverlap = errors.New("accounting: period overlaps existing period")
)

// FieldError reports a single invalid input field.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("accounting: invalid %s: %s", e.Field, e.Message)
}

func (e *FieldError) Unwrap() error { return ErrValidation }

// Invalid builds a *FieldError.
func Invalid(field, format string, args ...any) error {
	return &FieldError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// UnbalancedError carries the exact totals so the entry can be corrected by hand.
type UnbalancedError struct {
	Debit  decimal.Decimal
	Credit decimal.Decimal
}

func (e *UnbalancedError) Error() string {
	return fmt.Sprintf("accounting: journal lines must balance: debit %s != credit %s (difference %s)",
		e.Debit.StringFixed(2), e.Credit.StringFixed(2), e.Debit.Sub(e.Credit).Abs().StringFixed(2))
}

func (e *UnbalancedError) Is(target error) bool {
	return target == ErrUnbalanced || target == ErrValidation
}

// AccountError names the account code that blocked the operation.
type AccountError struct {
	Code   string
	Reason error
}

func (e *AccountError) Error() string {
	return fmt.Sprintf("%s: %s", e.Reason.Error(), e.Code)
}

func (e *AccountError) Unwrap() []error {
	if e.Reason == ErrAccountNotFound {
		return []error{e.Reason, ErrNotFound, ErrValidation}
	}
	return []error{e.Reason, ErrValidation}
}

// PeriodError names the period and the status that refused the posting.
type PeriodError struct {
	PeriodID int64
	Code     string
	Status   PeriodStatus
	Reason   error
}

func (e *PeriodError) Error() string {
	if e.Status == "" {
		return fmt.Sprintf("%s: period %d", e.Reason.Error(), e.PeriodID)
	}
	return fmt.Sprintf("%s: period %d (%s) is %s", e.Reason.Error(), e.PeriodID, e.Code, e.Status)
}

func (e *PeriodError) Unwrap() []error { return []error{e.Reason, ErrValidation} }

// DuplicateEntryError points the caller at the entry that already owns the source key.
type DuplicateEntryError struct {
	SourceType     string
	SourceID       string
	ExistingID     int64
	ExistingNumber string
}

func (e *DuplicateEntryError) Error() string {
	if e.ExistingID == 0 {
		return fmt.Sprintf("accounting: duplicate entry for source %s/%s", e.SourceType, e.SourceID)
	}
	return fmt.Sprintf("accounting: duplicate entry for source %s/%s: already recorded as %s (id %d)",
		e.SourceType, e.SourceID, e.ExistingNumber, e.ExistingID)
}

func (e *DuplicateEntryError) Unwrap() error { return ErrDuplicateEntry }

// TransitionError describes a refused state machine move.
type TransitionError struct {
	EntryID int64
	From    EntryStatus
	To      EntryStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("accounting: illegal status transition for entry %d: %s -> %s", e.EntryID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrIllegalTransition }

// ConflictError is surfaced once bounded retries are exhausted.
type ConflictError struct {
	Attempts int
	Err      error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("accounting: concurrency conflict after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ConflictError) Unwrap() []error { return []error{ErrConcurrencyConflict, e.Err} }

// NotFoundError names the missing entity.
type NotFoundError struct {
	Entity string
	Key    string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("accounting: %s %s not found", e.Entity, e.Key)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// IsRetryable reports whether the operation may be attempted again.
func IsRetryable(err error) bool {
	var conflict *ConflictError
	if errors.As(err, &conflict) {
		return false
	}
	return errors.Is(err, ErrConcurrencyConflict)
}
