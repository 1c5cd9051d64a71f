// Package journals persists journal entries and runs the maker-checker workflow.
package journals

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/periods"
)

// Service is the journal entry store.
type Service struct {
	repo   accounting.RepositoryPort
	policy Policy
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs Service.
func NewService(repo accounting.RepositoryPort, policy Policy, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, policy: policy, logger: logger, now: time.Now}
}

// WithNow overrides the clock.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Policy returns the approval policy in force.
func (s *Service) Policy() Policy { return s.policy }

// Create validates and stores a DRAFT entry with its lines as one unit.
func (s *Service) Create(ctx context.Context, in accounting.EntryInput) (accounting.JournalEntry, error) {
	var entry accounting.JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx accounting.TxRepository) error {
		var err error
		entry, err = s.CreateTx(ctx, tx, in)
		return err
	})
	if err != nil {
		return accounting.JournalEntry{}, err
	}
	s.logger.Info("journal entry created", slog.Int64("entry_id", entry.ID), slog.String("number", entry.Number),
		slog.String("type", string(entry.Type)), slog.String("total", entry.TotalDebit.StringFixed(2)))
	return entry, nil
}

// CreateTx stores a DRAFT entry inside the caller's transaction.
func (s *Service) CreateTx(ctx context.Context, tx accounting.TxRepository, in accounting.EntryInput) (accounting.JournalEntry, error) {
	if err := in.Validate(); err != nil {
		return accounting.JournalEntry{}, err
	}
	if in.SourceType != "" {
		existing, found, err := tx.FindActiveEntryBySource(ctx, in.SourceType, in.SourceID)
		if err != nil {
			return accounting.JournalEntry{}, err
		}
		if found {
			return accounting.JournalEntry{}, &accounting.DuplicateEntryError{
				SourceType:     in.SourceType,
				SourceID:       in.SourceID,
				ExistingID:     existing.ID,
				ExistingNumber: existing.Number,
			}
		}
	}

	var period accounting.Period
	var err error
	if in.PeriodID == 0 {
		period, err = periods.CurrentOpenPeriodTx(ctx, tx, in.Date, "")
	} else {
		period, err = tx.GetPeriodForShare(ctx, in.PeriodID)
	}
	if err != nil {
		return accounting.JournalEntry{}, err
	}
	if err := periods.EnsurePostable(period, in.Date); err != nil {
		return accounting.JournalEntry{}, err
	}

	lines := make([]accounting.JournalLine, 0, len(in.Lines))
	for idx, line := range in.Lines {
		account, err := tx.GetAccountByCode(ctx, strings.TrimSpace(line.AccountCode))
		if err != nil {
			return accounting.JournalEntry{}, err
		}
		if err := accounts.EnsurePostable(account); err != nil {
			return accounting.JournalEntry{}, err
		}
		lines = append(lines, accounting.JournalLine{
			LineNumber:  idx + 1,
			AccountID:   account.ID,
			AccountCode: account.Code,
			Debit:       line.Debit,
			Credit:      line.Credit,
			Memo:        line.Memo,
		})
	}

	number, err := tx.NextEntryNumber(ctx, in.Date)
	if err != nil {
		return accounting.JournalEntry{}, err
	}
	debit, credit := accounting.Totals(in.Lines)
	header := accounting.JournalEntry{
		Number:           number,
		Date:             accounting.TruncateDay(in.Date),
		PeriodID:         period.ID,
		Type:             in.Type,
		SourceType:       in.SourceType,
		SourceID:         in.SourceID,
		SourceNumber:     in.SourceNumber,
		Narration:        in.Narration,
		TotalDebit:       debit,
		TotalCredit:      credit,
		Status:           accounting.StatusDraft,
		RequiresApproval: s.policy.RequiresApproval(in.Type),
		ReversalOf:       in.ReversalOf,
		CreatedBy:        in.CreatedBy,
	}
	stored, err := tx.InsertEntry(ctx, header)
	if err != nil {
		return accounting.JournalEntry{}, err
	}
	stored.Lines, err = tx.InsertLines(ctx, stored.ID, lines)
	if err != nil {
		return accounting.JournalEntry{}, err
	}
	return stored, nil
}

// SubmitForApproval moves a balanced DRAFT to PENDING_APPROVAL and fixes the approval level.
func (s *Service) SubmitForApproval(ctx context.Context, entryID, actorID int64, note string) (accounting.JournalEntry, error) {
	entry, err := s.mutate(ctx, entryID, func(ctx context.Context, tx accounting.TxRepository, e *accounting.JournalEntry) error {
		if err := accounting.CheckTransition(e.ID, e.Status, accounting.StatusPendingApproval); err != nil {
			return err
		}
		if err := accounting.ValidateStoredLines(e.Lines); err != nil {
			return err
		}
		e.Status = accounting.StatusPendingApproval
		e.ApprovalLevel = s.policy.LevelFor(e.TotalDebit)
		e.ApprovalCount = 0
		e.SubmittedBy = &actorID
		return s.record(ctx, tx, e.ID, actorID, accounting.ApprovalSubmit, note)
	})
	if err != nil {
		return accounting.JournalEntry{}, err
	}
	s.logger.Info("journal entry submitted", slog.Int64("entry_id", entry.ID), slog.Int("approval_level", entry.ApprovalLevel))
	return entry, nil
}

// Approve records one checker signature. The entry becomes APPROVED once the distinct
// approvals reach the level stored at submission.
func (s *Service) Approve(ctx context.Context, entryID, approverID int64, note string) (accounting.JournalEntry, error) {
	entry, err := s.mutate(ctx, entryID, func(ctx context.Context, tx accounting.TxRepository, e *accounting.JournalEntry) error {
		if e.Status != accounting.StatusPendingApproval {
			return &accounting.TransitionError{EntryID: e.ID, From: e.Status, To: accounting.StatusApproved}
		}
		if approverID == e.CreatedBy {
			return fmt.Errorf("%w: user %d created entry %s", accounting.ErrSelfApproval, approverID, e.Number)
		}
		logs, err := tx.ListApprovals(ctx, e.ID)
		if err != nil {
			return err
		}
		for _, l := range logs {
			if l.Action == accounting.ApprovalApprove && l.ActorID == approverID {
				return fmt.Errorf("%w: user %d on entry %s", accounting.ErrAlreadyApproved, approverID, e.Number)
			}
		}
		e.ApprovalCount++
		if e.ApprovalCount >= e.ApprovalLevel {
			e.Status = accounting.StatusApproved
		}
		return s.record(ctx, tx, e.ID, approverID, accounting.ApprovalApprove, note)
	})
	if err != nil {
		return accounting.JournalEntry{}, err
	}
	s.logger.Info("journal entry approval recorded", slog.Int64("entry_id", entry.ID),
		slog.Int("approvals", entry.ApprovalCount), slog.Int("required", entry.ApprovalLevel), slog.String("status", string(entry.Status)))
	return entry, nil
}

// Reject moves a PENDING_APPROVAL entry to REJECTED. The source key stays taken.
func (s *Service) Reject(ctx context.Context, entryID, actorID int64, reason string) (accounting.JournalEntry, error) {
	if strings.TrimSpace(reason) == "" {
		return accounting.JournalEntry{}, accounting.Invalid("reason", "rejection reason required")
	}
	entry, err := s.mutate(ctx, entryID, func(ctx context.Context, tx accounting.TxRepository, e *accounting.JournalEntry) error {
		if err := accounting.CheckTransition(e.ID, e.Status, accounting.StatusRejected); err != nil {
			return err
		}
		if actorID == e.CreatedBy {
			return fmt.Errorf("%w: user %d created entry %s", accounting.ErrSelfApproval, actorID, e.Number)
		}
		e.Status = accounting.StatusRejected
		return s.record(ctx, tx, e.ID, actorID, accounting.ApprovalReject, reason)
	})
	if err != nil {
		return accounting.JournalEntry{}, err
	}
	s.logger.Info("journal entry rejected", slog.Int64("entry_id", entry.ID), slog.String("reason", reason))
	return entry, nil
}

// Cancel abandons a DRAFT or PENDING_APPROVAL entry and frees its source key.
func (s *Service) Cancel(ctx context.Context, entryID, actorID int64) (accounting.JournalEntry, error) {
	entry, err := s.mutate(ctx, entryID, func(ctx context.Context, tx accounting.TxRepository, e *accounting.JournalEntry) error {
		if err := accounting.CheckTransition(e.ID, e.Status, accounting.StatusCancelled); err != nil {
			return err
		}
		now := s.now()
		e.Status = accounting.StatusCancelled
		e.CancelledAt = &now
		return nil
	})
	if err != nil {
		return accounting.JournalEntry{}, err
	}
	s.logger.Info("journal entry cancelled", slog.Int64("entry_id", entry.ID), slog.Int64("actor_id", actorID))
	return entry, nil
}

func (s *Service) mutate(ctx context.Context, entryID int64, fn func(context.Context, accounting.TxRepository, *accounting.JournalEntry) error) (accounting.JournalEntry, error) {
	var entry accounting.JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx accounting.TxRepository) error {
		current, err := tx.GetEntryForUpdate(ctx, entryID)
		if err != nil {
			return err
		}
		if err := fn(ctx, tx, &current); err != nil {
			return err
		}
		if err := tx.UpdateEntryState(ctx, accounting.StateOf(current)); err != nil {
			return err
		}
		entry = current
		return nil
	})
	return entry, err
}

func (s *Service) record(ctx context.Context, tx accounting.TxRepository, entryID, actorID int64, action accounting.ApprovalAction, note string) error {
	_, err := tx.InsertApproval(ctx, accounting.ApprovalLog{
		EntryID: entryID,
		ActorID: actorID,
		Action:  action,
		Note:    note,
		At:      s.now(),
	})
	return err
}

// Get returns an entry with its lines.
func (s *Service) Get(ctx context.Context, id int64) (accounting.JournalEntry, error) {
	var entry accounting.JournalEntry
	err := s.repo.ReadSnapshot(ctx, func(ctx context.Context, tx accounting.TxRepository) error {
		var err error
		entry, err = tx.GetEntry(ctx, id)
		return err
	})
	return entry, err
}

// List returns entries matching filter ordered by date.
func (s *Service) List(ctx context.Context, filter accounting.EntryFilter) ([]accounting.JournalEntry, error) {
	var entries []accounting.JournalEntry
	err := s.repo.ReadSnapshot(ctx, func(ctx context.Context, tx accounting.TxRepository) error {
		var err error
		entries, err = tx.ListEntries(ctx, filter)
		return err
	})
	return entries, err
}

// ListPending returns entries waiting for a checker.
func (s *Service) ListPending(ctx context.Context) ([]accounting.JournalEntry, error) {
	return s.List(ctx, accounting.EntryFilter{Status: []accounting.EntryStatus{accounting.StatusPendingApproval}})
}

// Approvals returns the approval history of an entry.
func (s *Service) Approvals(ctx context.Context, entryID int64) ([]accounting.ApprovalLog, error) {
	var logs []accounting.ApprovalLog
	err := s.repo.ReadSnapshot(ctx, func(ctx context.Context, tx accounting.TxRepository) error {
		if _, err := tx.GetEntry(ctx, entryID); err != nil {
			return err
		}
		var err error
		logs, err = tx.ListApprovals(ctx, entryID)
		return err
	})
	return logs, err
}
