// Package integrity audits the stored ledger against its invariants.
package integrity

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
)

// Kind labels a violated invariant.
type Kind string

const (
	KindUnbalancedEntry Kind = "unbalanced_entry"
	KindBalanceDrift    Kind = "balance_drift"
	KindBrokenChain     Kind = "broken_chain"
	KindTrialBalance    Kind = "trial_balance"
)

// Violation describes one invariant breach.
type Violation struct {
	Kind        Kind
	AccountCode string
	EntryID     int64
	RowID       int64
	Expected    decimal.Decimal
	Actual      decimal.Decimal
	Detail      string
}

// Report is the outcome of one integrity run.
type Report struct {
	CheckedAt    time.Time
	Entries      int
	Accounts     int
	Rows         int
	Violations   []Violation
	TrialBalance TrialBalance
}

// OK reports whether no violation was found.
func (r Report) OK() bool { return len(r.Violations) == 0 }

// CountByKind tallies violations per kind.
func (r Report) CountByKind() map[Kind]int {
	out := make(map[Kind]int)
	for _, v := range r.Violations {
		out[v.Kind]++
	}
	return out
}

// Checker audits a ledger repository.
type Checker struct {
	repo   accounting.RepositoryPort
	logger *slog.Logger
	now    func() time.Time
}

// NewChecker constructs Checker.
func NewChecker(repo accounting.RepositoryPort, logger *slog.Logger) *Checker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{repo: repo, logger: logger, now: time.Now}
}

// Run reads the whole ledger from one snapshot and reports every violation.
func (c *Checker) Run(ctx context.Context) (Report, error) {
	report := Report{CheckedAt: c.now()}
	err := c.repo.ReadSnapshot(ctx, func(ctx context.Context, tx accounting.TxRepository) error {
		report = Report{CheckedAt: report.CheckedAt}
		entries, err := tx.ListEntries(ctx, accounting.EntryFilter{})
		if err != nil {
			return err
		}
		report.Entries = len(entries)
		for _, entry := range entries {
			if v, ok := checkEntry(entry); ok {
				report.Violations = append(report.Violations, v)
			}
		}

		list, err := tx.ListAccounts(ctx)
		if err != nil {
			return err
		}
		totals := make([]AccountTotals, 0, len(list))
		for _, account := range list {
			if account.IsGroup {
				continue
			}
			report.Accounts++
			rows, err := tx.ListLedgerRows(ctx, account.ID, 0)
			if err != nil {
				return err
			}
			report.Rows += len(rows)
			t, violations := checkAccount(account, rows)
			report.Violations = append(report.Violations, violations...)
			totals = append(totals, t)
		}
		report.TrialBalance = BuildTrialBalance(totals)
		if !report.TrialBalance.Balanced() {
			report.Violations = append(report.Violations, Violation{
				Kind:     KindTrialBalance,
				Expected: report.TrialBalance.TotalDebit,
				Actual:   report.TrialBalance.TotalCredit,
				Detail: fmt.Sprintf("ledger debit %s != credit %s",
					report.TrialBalance.TotalDebit.StringFixed(2), report.TrialBalance.TotalCredit.StringFixed(2)),
			})
		}
		return nil
	})
	if err != nil {
		return Report{}, err
	}
	for _, v := range report.Violations {
		c.logger.Warn("ledger integrity violation", slog.String("kind", string(v.Kind)),
			slog.String("account", v.AccountCode), slog.Int64("entry_id", v.EntryID), slog.String("detail", v.Detail))
	}
	c.logger.Info("ledger integrity checked", slog.Int("entries", report.Entries), slog.Int("accounts", report.Accounts),
		slog.Int("rows", report.Rows), slog.Int("violations", len(report.Violations)))
	return report, nil
}

func checkEntry(entry accounting.JournalEntry) (Violation, bool) {
	var debit, credit decimal.Decimal
	for _, line := range entry.Lines {
		debit = debit.Add(line.Debit)
		credit = credit.Add(line.Credit)
	}
	if debit.Equal(credit) && debit.Equal(entry.TotalDebit) && credit.Equal(entry.TotalCredit) {
		return Violation{}, false
	}
	return Violation{
		Kind:     KindUnbalancedEntry,
		EntryID:  entry.ID,
		Expected: debit,
		Actual:   credit,
		Detail: fmt.Sprintf("entry %s lines debit %s credit %s, header debit %s credit %s", entry.Number,
			debit.StringFixed(2), credit.StringFixed(2), entry.TotalDebit.StringFixed(2), entry.TotalCredit.StringFixed(2)),
	}, true
}

// checkAccount replays the running balance chain and compares its tip with the
// stored balance. Only the first break of a chain is reported.
func checkAccount(account accounting.Account, rows []accounting.LedgerRow) (AccountTotals, []Violation) {
	side := accounts.Classify(account)
	totals := AccountTotals{Code: account.Code, Name: account.Name, Type: account.Type}
	var violations []Violation
	running := decimal.Zero
	broken := false
	for _, row := range rows {
		totals.Debit = totals.Debit.Add(row.Debit)
		totals.Credit = totals.Credit.Add(row.Credit)
		running = running.Add(accounting.SignedDelta(side, row.Debit, row.Credit))
		if !broken && !running.Equal(row.RunningBalance) {
			broken = true
			violations = append(violations, Violation{
				Kind:        KindBrokenChain,
				AccountCode: account.Code,
				EntryID:     row.EntryID,
				RowID:       row.ID,
				Expected:    running,
				Actual:      row.RunningBalance,
				Detail: fmt.Sprintf("row %d running balance %s, replay gives %s",
					row.ID, row.RunningBalance.StringFixed(2), running.StringFixed(2)),
			})
		}
	}
	totals.Closing = running

	tip := decimal.Zero
	if len(rows) > 0 {
		tip = rows[len(rows)-1].RunningBalance
	}
	if !account.CurrentBalance.Equal(tip) {
		violations = append(violations, Violation{
			Kind:        KindBalanceDrift,
			AccountCode: account.Code,
			Expected:    tip,
			Actual:      account.CurrentBalance,
			Detail: fmt.Sprintf("account %s balance %s, last ledger row %s",
				account.Code, account.CurrentBalance.StringFixed(2), tip.StringFixed(2)),
		})
	}
	return totals, violations
}
