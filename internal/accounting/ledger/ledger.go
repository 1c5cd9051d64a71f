// Package ledger assembles the accounting services behind one entry point for host
// modules: record business events, drive the entry lifecycle and query balances.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/composer"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/periods"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/posting"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/reversal"
	"github.com/odyssey-erp/odyssey-ledger/internal/observability"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/backoff"
)

// BalanceCache memoises as-of balances per ledger version.
type BalanceCache interface {
	Balance(ctx context.Context, code string, asOf time.Time) (value decimal.Decimal, hit bool, version int64, err error)
	StoreBalance(ctx context.Context, version int64, code string, asOf time.Time, value decimal.Decimal) error
}

// Options configures New. Zero values select the defaults of each service.
type Options struct {
	Policy   *journals.Policy
	Retry    backoff.Config
	Composer composer.Config
	Metrics  *observability.LedgerMetrics
	Notifier posting.Notifier
	Cache    BalanceCache
	Logger   *slog.Logger
	Now      func() time.Time
}

// Ledger is the assembled accounting core.
type Ledger struct {
	Accounts *accounts.Service
	Periods  *periods.Service
	Journals *journals.Service
	Posting  *posting.Service
	Reversal *reversal.Service
	Composer *composer.Composer

	repo    accounting.RepositoryPort
	cache   BalanceCache
	metrics *observability.LedgerMetrics
	logger  *slog.Logger
	now     func() time.Time
}

// New wires the services on top of repo.
func New(repo accounting.RepositoryPort, opts Options) *Ledger {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	policy := journals.DefaultPolicy()
	if opts.Policy != nil {
		policy = *opts.Policy
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	js := journals.NewService(repo, policy, logger)
	js.WithNow(now)
	ps := posting.NewService(repo, opts.Retry, logger).WithMetrics(opts.Metrics)
	if opts.Notifier != nil {
		ps.WithNotifier(opts.Notifier)
	}
	ps.WithNow(now)
	rs := reversal.NewService(js, ps, logger).WithMetrics(opts.Metrics)
	rs.WithNow(now)

	return &Ledger{
		Accounts: accounts.NewService(repo, logger),
		Periods:  periods.NewService(repo, logger),
		Journals: js,
		Posting:  ps,
		Reversal: rs,
		Composer: composer.New(opts.Composer, logger),
		repo:     repo,
		cache:    opts.Cache,
		metrics:  opts.Metrics,
		logger:   logger,
		now:      now,
	}
}

// Recorded is the outcome of Record.
type Recorded struct {
	Entry  accounting.JournalEntry
	Posted bool
}

// Record composes the journal entry for ev, stores it and posts it right away when
// its type is exempt from approval. Everything happens in one transaction: a failure
// at any step leaves neither entry nor provisioned accounts behind.
func (l *Ledger) Record(ctx context.Context, ev composer.Event) (Recorded, error) {
	started := l.now()
	var out Recorded
	attempts, err := l.Posting.InTx(ctx, func(ctx context.Context, tx accounting.TxRepository) error {
		out = Recorded{}
		in, err := l.Composer.ComposeTx(ctx, tx, ev)
		if err != nil {
			return err
		}
		entry, err := l.Journals.CreateTx(ctx, tx, in)
		if err != nil {
			return err
		}
		if !entry.RequiresApproval {
			if entry, err = l.Posting.PostTx(ctx, tx, entry.ID, in.CreatedBy); err != nil {
				return err
			}
			out.Posted = true
		}
		out.Entry = entry
		return nil
	})
	if err != nil {
		l.logger.Warn("business event not journaled", slog.String("event", eventName(ev)), slog.Any("error", err))
		return Recorded{}, err
	}
	if out.Posted {
		l.metrics.ObservePosting(string(out.Entry.Type), attempts, nil, started)
		l.Posting.Notify(ctx)
	}
	l.logger.Info("business event journaled", slog.String("event", eventName(ev)),
		slog.Int64("entry_id", out.Entry.ID), slog.String("number", out.Entry.Number),
		slog.String("status", string(out.Entry.Status)), slog.String("total", out.Entry.TotalDebit.StringFixed(2)))
	return out, nil
}

func eventName(ev composer.Event) string {
	if ev == nil {
		return "<nil>"
	}
	return strings.TrimPrefix(strings.TrimPrefix(fmt.Sprintf("%T", ev), "*"), "composer.")
}

// Post posts an approved or auto-post draft entry.
func (l *Ledger) Post(ctx context.Context, entryID, actorID int64) (accounting.JournalEntry, error) {
	return l.Posting.Post(ctx, entryID, actorID)
}

// Reverse reverses a posted entry.
func (l *Ledger) Reverse(ctx context.Context, in reversal.Input) (reversal.Result, error) {
	return l.Reversal.Reverse(ctx, in)
}

// ListEntries returns entries matching filter.
func (l *Ledger) ListEntries(ctx context.Context, filter accounting.EntryFilter) ([]accounting.JournalEntry, error) {
	return l.Journals.List(ctx, filter)
}

// ListPending returns entries waiting for approval.
func (l *Ledger) ListPending(ctx context.Context) ([]accounting.JournalEntry, error) {
	return l.Journals.ListPending(ctx)
}

// BalanceAsOf sums the signed GL movements of an account dated on or before asOf.
func (l *Ledger) BalanceAsOf(ctx context.Context, code string, asOf time.Time) (decimal.Decimal, error) {
	asOf = accounting.TruncateDay(asOf)
	var version int64
	cacheable := false
	if l.cache != nil {
		value, hit, v, err := l.cache.Balance(ctx, code, asOf)
		switch {
		case err != nil:
			l.logger.Warn("balance cache read failed", slog.String("code", code), slog.Any("error", err))
		case hit:
			return value, nil
		default:
			version, cacheable = v, true
		}
	}

	var balance decimal.Decimal
	err := l.repo.ReadSnapshot(ctx, func(ctx context.Context, tx accounting.TxRepository) error {
		account, err := accounts.ResolveTx(ctx, tx, code)
		if err != nil {
			return err
		}
		debit, credit, err := tx.SumLedger(ctx, account.ID, asOf)
		if err != nil {
			return err
		}
		balance = accounting.SignedDelta(accounts.Classify(account), debit, credit)
		return nil
	})
	if err != nil {
		return decimal.Zero, err
	}
	if cacheable {
		if err := l.cache.StoreBalance(ctx, version, code, asOf, balance); err != nil {
			l.logger.Warn("balance cache write failed", slog.String("code", code), slog.Any("error", err))
		}
	}
	return balance, nil
}

// LedgerRows returns the GL rows of an account, optionally restricted to one period.
func (l *Ledger) LedgerRows(ctx context.Context, code string, periodID int64) ([]accounting.LedgerRow, error) {
	var rows []accounting.LedgerRow
	err := l.repo.ReadSnapshot(ctx, func(ctx context.Context, tx accounting.TxRepository) error {
		account, err := accounts.ResolveTx(ctx, tx, code)
		if err != nil {
			return err
		}
		if periodID != 0 {
			if _, err := tx.GetPeriod(ctx, periodID); err != nil {
				return err
			}
		}
		rows, err = tx.ListLedgerRows(ctx, account.ID, periodID)
		return err
	})
	return rows, err
}
