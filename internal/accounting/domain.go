package accounting

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AccountType enumerates CoA categories.
type AccountType string

const (
	AccountTypeAsset     AccountType = "ASSET"
	AccountTypeLiability AccountType = "LIABILITY"
	AccountTypeEquity    AccountType = "EQUITY"
	AccountTypeRevenue   AccountType = "REVENUE"
	AccountTypeExpense   AccountType = "EXPENSE"
)

// Valid reports whether t is one of the five CoA categories.
func (t AccountType) Valid() bool {
	switch t {
	case AccountTypeAsset, AccountTypeLiability, AccountTypeEquity, AccountTypeRevenue, AccountTypeExpense:
		return true
	default:
		return false
	}
}

// NormalSide is the side on which an account's balance increases.
type NormalSide string

const (
	SideDebit  NormalSide = "DEBIT"
	SideCredit NormalSide = "CREDIT"
)

// Classify derives the normal balance side purely from the account type.
func Classify(t AccountType) NormalSide {
	if t == AccountTypeAsset || t == AccountTypeExpense {
		return SideDebit
	}
	return SideCredit
}

// PeriodStatus enumerates valid period states.
type PeriodStatus string

const (
	PeriodStatusOpen   PeriodStatus = "OPEN"
	PeriodStatusClosed PeriodStatus = "CLOSED"
	PeriodStatusLocked PeriodStatus = "LOCKED"
)

// Granularity describes the length of a financial period.
type Granularity string

const (
	GranularityMonth   Granularity = "MONTH"
	GranularityQuarter Granularity = "QUARTER"
	GranularityYear    Granularity = "YEAR"
)

// EntryType classifies the business origin of a journal entry.
type EntryType string

const (
	EntryTypeSales    EntryType = "SALES"
	EntryTypePurchase EntryType = "PURCHASE"
	EntryTypeReceipt  EntryType = "RECEIPT"
	EntryTypePayment  EntryType = "PAYMENT"
	EntryTypeBank     EntryType = "BANK"
	EntryTypeStock    EntryType = "STOCK"
	EntryTypeManual   EntryType = "MANUAL"
	EntryTypeReversal EntryType = "REVERSAL"
)

// Valid reports whether t is a known entry type.
func (t EntryType) Valid() bool {
	switch t {
	case EntryTypeSales, EntryTypePurchase, EntryTypeReceipt, EntryTypePayment,
		EntryTypeBank, EntryTypeStock, EntryTypeManual, EntryTypeReversal:
		return true
	default:
		return false
	}
}

// Account models a chart of accounts node.
type Account struct {
	ID             int64
	Code           string
	Name           string
	Type           AccountType
	Subtype        string
	ParentID       *int64
	IsGroup        bool
	IsActive       bool
	CurrentBalance decimal.Decimal
	Version        int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NormalSide returns the side on which the account balance grows.
func (a Account) NormalSide() NormalSide {
	return Classify(a.Type)
}

// Period represents a fiscal period window.
type Period struct {
	ID          int64
	Code        string
	Granularity Granularity
	StartDate   time.Time
	EndDate     time.Time
	Status      PeriodStatus
	IsCurrent   bool
	ClosedAt    *time.Time
	ClosedBy    *int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Contains reports whether date falls inside the period, both bounds inclusive by day.
func (p Period) Contains(date time.Time) bool {
	d := truncateDay(date)
	return !d.Before(truncateDay(p.StartDate)) && !d.After(truncateDay(p.EndDate))
}

// JournalEntry captures header metadata and, when loaded, its lines.
type JournalEntry struct {
	ID               int64
	Number           string
	Date             time.Time
	PeriodID         int64
	Type             EntryType
	SourceType       string
	SourceID         string
	SourceNumber     string
	Narration        string
	TotalDebit       decimal.Decimal
	TotalCredit      decimal.Decimal
	Status           EntryStatus
	RequiresApproval bool
	ApprovalLevel    int
	ApprovalCount    int
	ReversalOf       *int64
	ReversedBy       *int64
	CreatedBy        int64
	SubmittedBy      *int64
	PostedBy         *int64
	PostedAt         *time.Time
	CancelledAt      *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
	Lines            []JournalLine
}

// HasSource reports whether the entry carries an idempotency key.
func (e JournalEntry) HasSource() bool {
	return e.SourceType != "" && e.SourceID != ""
}

// JournalLine stores a debit or credit amount for an account.
type JournalLine struct {
	ID          int64
	EntryID     int64
	LineNumber  int
	AccountID   int64
	AccountCode string
	Debit       decimal.Decimal
	Credit      decimal.Decimal
	Memo        string
}

// LedgerRow is an append-only general ledger row written at posting time.
type LedgerRow struct {
	ID             int64
	AccountID      int64
	PeriodID       int64
	Date           time.Time
	EntryID        int64
	LineID         int64
	PostingRef     uuid.UUID
	Debit          decimal.Decimal
	Credit         decimal.Decimal
	RunningBalance decimal.Decimal
	CreatedAt      time.Time
}

// ApprovalAction enumerates approval log actions.
type ApprovalAction string

const (
	ApprovalSubmit  ApprovalAction = "SUBMIT"
	ApprovalApprove ApprovalAction = "APPROVE"
	ApprovalReject  ApprovalAction = "REJECT"
)

// ApprovalLog represents a single maker-checker record.
type ApprovalLog struct {
	ID      int64
	EntryID int64
	ActorID int64
	Action  ApprovalAction
	Note    string
	At      time.Time
}

// EntryFilter narrows entry listings for the reporting surface.
type EntryFilter struct {
	Status []EntryStatus
	Type   EntryType
	From   *time.Time
	To     *time.Time
	Limit  int
}

// truncateDay keeps the calendar date of t and drops the clock and zone.
func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// TruncateDay exposes the calendar-date normalisation used for period and ledger dates.
func TruncateDay(t time.Time) time.Time { return truncateDay(t) }

// FormatEntryNumber renders JV-YYYYMM-NNNNNN.
func FormatEntryNumber(date time.Time, seq int64) string {
	return fmt.Sprintf("JV-%04d%02d-%06d", date.Year(), int(date.Month()), seq)
}
