package accounting

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// RepositoryPort abstracts transactional repository behaviour.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	// ReadSnapshot runs fn read-only against one consistent view of the ledger.
	// Writes made by fn fail or are discarded.
	ReadSnapshot(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// AccountInput describes a chart of accounts node to insert.
type AccountInput struct {
	Code     string
	Name     string
	Type     AccountType
	Subtype  string
	ParentID *int64
	IsGroup  bool
}

// PeriodInput describes a financial period to insert.
type PeriodInput struct {
	Code        string
	Granularity Granularity
	StartDate   time.Time
	EndDate     time.Time
	IsCurrent   bool
}

// EntryState carries the mutable columns of a journal entry header.
type EntryState struct {
	ID            int64
	Status        EntryStatus
	ApprovalLevel int
	ApprovalCount int
	SubmittedBy   *int64
	PostedBy      *int64
	PostedAt      *time.Time
	ReversedBy    *int64
	CancelledAt   *time.Time
}

// StateOf extracts the mutable columns of an entry.
func StateOf(e JournalEntry) EntryState {
	return EntryState{
		ID:            e.ID,
		Status:        e.Status,
		ApprovalLevel: e.ApprovalLevel,
		ApprovalCount: e.ApprovalCount,
		SubmittedBy:   e.SubmittedBy,
		PostedBy:      e.PostedBy,
		PostedAt:      e.PostedAt,
		ReversedBy:    e.ReversedBy,
		CancelledAt:   e.CancelledAt,
	}
}

// TxRepository exposes every operation available inside one ledger transaction.
type TxRepository interface {
	GetAccountByCode(ctx context.Context, code string) (Account, error)
	GetAccountByID(ctx context.Context, id int64) (Account, error)
	InsertAccountIfAbsent(ctx context.Context, in AccountInput) (Account, bool, error)
	ListAccounts(ctx context.Context) ([]Account, error)
	ListChildAccounts(ctx context.Context, parentID int64) ([]Account, error)
	SetAccountActive(ctx context.Context, id int64, active bool) error
	// LockAccounts takes row locks in ascending id order and returns the locked rows.
	LockAccounts(ctx context.Context, ids []int64) (map[int64]Account, error)
	// UpdateAccountBalance writes the new balance when the stored version matches.
	UpdateAccountBalance(ctx context.Context, id int64, balance decimal.Decimal, expectedVersion int64) error

	GetPeriod(ctx context.Context, id int64) (Period, error)
	GetPeriodForShare(ctx context.Context, id int64) (Period, error)
	GetPeriodForUpdate(ctx context.Context, id int64) (Period, error)
	ListPeriods(ctx context.Context) ([]Period, error)
	InsertPeriod(ctx context.Context, in PeriodInput) (Period, error)
	PeriodOverlaps(ctx context.Context, granularity Granularity, start, end time.Time) (bool, error)
	UpdatePeriodStatus(ctx context.Context, id int64, status PeriodStatus, actorID int64, at time.Time) error

	NextEntryNumber(ctx context.Context, date time.Time) (string, error)
	InsertEntry(ctx context.Context, entry JournalEntry) (JournalEntry, error)
	InsertLines(ctx context.Context, entryID int64, lines []JournalLine) ([]JournalLine, error)
	FindActiveEntryBySource(ctx context.Context, sourceType, sourceID string) (JournalEntry, bool, error)
	GetEntry(ctx context.Context, id int64) (JournalEntry, error)
	GetEntryForUpdate(ctx context.Context, id int64) (JournalEntry, error)
	UpdateEntryState(ctx context.Context, state EntryState) error
	ListEntries(ctx context.Context, filter EntryFilter) ([]JournalEntry, error)
	InsertApproval(ctx context.Context, log ApprovalLog) (ApprovalLog, error)
	ListApprovals(ctx context.Context, entryID int64) ([]ApprovalLog, error)

	InsertLedgerRows(ctx context.Context, rows []LedgerRow) ([]LedgerRow, error)
	LastLedgerRow(ctx context.Context, accountID int64) (LedgerRow, bool, error)
	ListLedgerRows(ctx context.Context, accountID, periodID int64) ([]LedgerRow, error)
	SumLedger(ctx context.Context, accountID int64, asOf time.Time) (debit, credit decimal.Decimal, err error)
}
