// Package posting writes journal entries to the general ledger and maintains
// per-account running balances.
package posting

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/periods"
	"github.com/odyssey-erp/odyssey-ledger/internal/observability"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/backoff"
)

// Notifier is told after a commit changed the general ledger.
type Notifier interface {
	Bump(ctx context.Context) error
}

// Service is the posting engine.
type Service struct {
	repo     accounting.RepositoryPort
	retry    backoff.Config
	logger   *slog.Logger
	metrics  *observability.LedgerMetrics
	notifier Notifier
	now      func() time.Time
}

// DefaultRetry allows three attempts starting at 25ms.
var DefaultRetry = backoff.Config{MaxAttempts: 3, Base: 25 * time.Millisecond}

// NewService constructs Service.
func NewService(repo accounting.RepositoryPort, retry backoff.Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if retry.MaxAttempts == 0 {
		retry = DefaultRetry
	}
	return &Service{repo: repo, retry: retry, logger: logger, now: time.Now}
}

// WithMetrics attaches posting metrics.
func (s *Service) WithMetrics(m *observability.LedgerMetrics) *Service {
	s.metrics = m
	return s
}

// WithNotifier attaches a ledger change notifier.
func (s *Service) WithNotifier(n Notifier) *Service {
	s.notifier = n
	return s
}

// WithNow overrides the clock.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Post writes the entry to the general ledger in one transaction, retrying
// concurrency conflicts with backoff. Exhausted retries surface as *ConflictError.
func (s *Service) Post(ctx context.Context, entryID, actorID int64) (accounting.JournalEntry, error) {
	started := s.now()
	var entry accounting.JournalEntry
	attempts, err := s.InTx(ctx, func(ctx context.Context, tx accounting.TxRepository) error {
		var err error
		entry, err = s.PostTx(ctx, tx, entryID, actorID)
		return err
	})
	s.metrics.ObservePosting(string(entry.Type), attempts, err, started)
	if err != nil {
		s.logger.Warn("journal posting failed", slog.Int64("entry_id", entryID), slog.Int("attempts", attempts), slog.Any("error", err))
		return accounting.JournalEntry{}, err
	}
	s.logger.Info("journal entry posted", slog.Int64("entry_id", entry.ID), slog.String("number", entry.Number),
		slog.String("total", entry.TotalDebit.StringFixed(2)), slog.Int("attempts", attempts))
	s.Notify(ctx)
	return entry, nil
}

// InTx runs fn in a transaction under the posting retry policy and reports the
// attempts made. Conflicts that outlive the retries become *ConflictError.
func (s *Service) InTx(ctx context.Context, fn func(context.Context, accounting.TxRepository) error) (int, error) {
	attempts, err := backoff.Retry(ctx, s.retry, accounting.IsRetryable, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, fn)
	})
	if err != nil && accounting.IsRetryable(err) {
		s.metrics.IncConflict()
		err = &accounting.ConflictError{Attempts: attempts, Err: err}
	}
	return attempts, err
}

// Notify tells the notifier that the ledger changed. Failures are logged only.
func (s *Service) Notify(ctx context.Context) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Bump(ctx); err != nil {
		s.logger.Warn("ledger change notification failed", slog.Any("error", err))
	}
}

// PostTx posts inside the caller's transaction. Accounts are locked in ascending id
// order so concurrent postings cannot deadlock, and every GL row of the posting
// shares one posting reference.
func (s *Service) PostTx(ctx context.Context, tx accounting.TxRepository, entryID, actorID int64) (accounting.JournalEntry, error) {
	entry, err := tx.GetEntryForUpdate(ctx, entryID)
	if err != nil {
		return accounting.JournalEntry{}, err
	}
	if err := checkPostable(entry); err != nil {
		return accounting.JournalEntry{}, err
	}
	if err := accounting.ValidateStoredLines(entry.Lines); err != nil {
		return accounting.JournalEntry{}, err
	}
	if !entry.TotalDebit.Equal(entry.TotalCredit) {
		return accounting.JournalEntry{}, &accounting.UnbalancedError{Debit: entry.TotalDebit, Credit: entry.TotalCredit}
	}

	period, err := tx.GetPeriodForShare(ctx, entry.PeriodID)
	if err != nil {
		return accounting.JournalEntry{}, err
	}
	if err := periods.EnsurePostable(period, entry.Date); err != nil {
		return accounting.JournalEntry{}, err
	}

	ids := accountIDs(entry.Lines)
	locked, err := tx.LockAccounts(ctx, ids)
	if err != nil {
		return accounting.JournalEntry{}, err
	}
	balances := make(map[int64]decimal.Decimal, len(ids))
	for _, line := range entry.Lines {
		account, ok := locked[line.AccountID]
		if !ok {
			return accounting.JournalEntry{}, &accounting.AccountError{Code: line.AccountCode, Reason: accounting.ErrAccountNotFound}
		}
		if err := accounts.EnsurePostable(account); err != nil {
			return accounting.JournalEntry{}, err
		}
		balances[account.ID] = account.CurrentBalance
	}

	lines := append([]accounting.JournalLine(nil), entry.Lines...)
	sort.SliceStable(lines, func(i, j int) bool { return lines[i].LineNumber < lines[j].LineNumber })
	ref := uuid.New()
	rows := make([]accounting.LedgerRow, 0, len(lines))
	for _, line := range lines {
		account := locked[line.AccountID]
		balance := balances[account.ID].Add(accounting.SignedDelta(account.NormalSide(), line.Debit, line.Credit))
		balances[account.ID] = balance
		rows = append(rows, accounting.LedgerRow{
			AccountID:      account.ID,
			PeriodID:       period.ID,
			Date:           entry.Date,
			EntryID:        entry.ID,
			LineID:         line.ID,
			PostingRef:     ref,
			Debit:          line.Debit,
			Credit:         line.Credit,
			RunningBalance: balance,
		})
	}
	if _, err := tx.InsertLedgerRows(ctx, rows); err != nil {
		return accounting.JournalEntry{}, err
	}
	for _, id := range ids {
		if err := tx.UpdateAccountBalance(ctx, id, balances[id], locked[id].Version); err != nil {
			return accounting.JournalEntry{}, err
		}
	}

	now := s.now()
	entry.Status = accounting.StatusPosted
	entry.PostedAt = &now
	if actorID != 0 {
		entry.PostedBy = &actorID
	}
	if err := tx.UpdateEntryState(ctx, accounting.StateOf(entry)); err != nil {
		return accounting.JournalEntry{}, err
	}
	return entry, nil
}

// checkPostable admits APPROVED entries and DRAFT entries that skip approval.
func checkPostable(entry accounting.JournalEntry) error {
	if err := accounting.CheckTransition(entry.ID, entry.Status, accounting.StatusPosted); err != nil {
		return err
	}
	if entry.Status == accounting.StatusDraft && entry.RequiresApproval {
		return &accounting.TransitionError{EntryID: entry.ID, From: entry.Status, To: accounting.StatusPosted}
	}
	return nil
}

func accountIDs(lines []accounting.JournalLine) []int64 {
	seen := make(map[int64]struct{}, len(lines))
	ids := make([]int64, 0, len(lines))
	for _, line := range lines {
		if _, ok := seen[line.AccountID]; ok {
			continue
		}
		seen[line.AccountID] = struct{}{}
		ids = append(ids, line.AccountID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
