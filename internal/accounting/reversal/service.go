// Package reversal nullifies posted entries with mirror entries.
package reversal

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/periods"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/posting"
	"github.com/odyssey-erp/odyssey-ledger/internal/observability"
)

// SourceType keys reversal entries in the idempotency index.
const SourceType = "REVERSAL"

// Input names the entry to reverse.
type Input struct {
	EntryID int64
	Reason  string
	ActorID int64
	// Date defaults to the service clock.
	Date *time.Time
}

// Result carries the reversed original and the new mirror entry.
type Result struct {
	Original accounting.JournalEntry
	Reversal accounting.JournalEntry
}

// Service is the reversal engine.
type Service struct {
	journals *journals.Service
	posting  *posting.Service
	logger   *slog.Logger
	metrics  *observability.LedgerMetrics
	now      func() time.Time
}

// NewService constructs Service.
func NewService(journals *journals.Service, posting *posting.Service, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{journals: journals, posting: posting, logger: logger, now: time.Now}
}

// WithMetrics attaches ledger metrics.
func (s *Service) WithMetrics(m *observability.LedgerMetrics) *Service {
	s.metrics = m
	return s
}

// WithNow overrides the clock.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Reverse creates and posts a mirror of a POSTED entry and marks the original
// REVERSED, all in one transaction.
func (s *Service) Reverse(ctx context.Context, in Input) (Result, error) {
	if in.EntryID == 0 {
		return Result{}, accounting.Invalid("entry_id", "required")
	}
	if strings.TrimSpace(in.Reason) == "" {
		return Result{}, accounting.Invalid("reason", "reversal reason required")
	}
	date := s.now()
	if in.Date != nil {
		date = *in.Date
	}
	var res Result
	_, err := s.posting.InTx(ctx, func(ctx context.Context, tx accounting.TxRepository) error {
		var err error
		res, err = s.ReverseTx(ctx, tx, in, date)
		return err
	})
	if err != nil {
		return Result{}, err
	}
	s.metrics.IncReversal()
	s.posting.Notify(ctx)
	s.logger.Info("journal entry reversed", slog.Int64("entry_id", res.Original.ID),
		slog.Int64("reversal_id", res.Reversal.ID), slog.String("reason", in.Reason))
	return res, nil
}

// ReverseTx runs the reversal inside the caller's transaction.
func (s *Service) ReverseTx(ctx context.Context, tx accounting.TxRepository, in Input, date time.Time) (Result, error) {
	original, err := tx.GetEntryForUpdate(ctx, in.EntryID)
	if err != nil {
		return Result{}, err
	}
	if err := accounting.CheckTransition(original.ID, original.Status, accounting.StatusReversed); err != nil {
		return Result{}, err
	}
	period, err := periods.CurrentOpenPeriodTx(ctx, tx, date, "")
	if err != nil {
		return Result{}, err
	}
	mirror, err := s.journals.CreateTx(ctx, tx, accounting.EntryInput{
		Date:         date,
		PeriodID:     period.ID,
		Type:         accounting.EntryTypeReversal,
		SourceType:   SourceType,
		SourceID:     strconv.FormatInt(original.ID, 10),
		SourceNumber: original.Number,
		Narration:    fmt.Sprintf("Reversal of %s: %s", original.Number, in.Reason),
		CreatedBy:    in.ActorID,
		ReversalOf:   &original.ID,
		Lines:        accounting.ReverseLines(original.Lines),
	})
	if err != nil {
		return Result{}, err
	}
	mirror, err = s.posting.PostTx(ctx, tx, mirror.ID, in.ActorID)
	if err != nil {
		return Result{}, err
	}
	original.Status = accounting.StatusReversed
	original.ReversedBy = &mirror.ID
	if err := tx.UpdateEntryState(ctx, accounting.StateOf(original)); err != nil {
		return Result{}, err
	}
	return Result{Original: original, Reversal: mirror}, nil
}
