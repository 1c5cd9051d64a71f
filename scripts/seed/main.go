// Command seed installs the ledger schema, the default chart of accounts and one
// fiscal calendar. Running it again is harmless: existing accounts and periods are kept.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/composer"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/periods"
	"github.com/odyssey-erp/odyssey-ledger/internal/app"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
)

func main() {
	year := flag.Int("year", time.Now().Year(), "fiscal year to open, named after the calendar year it starts in")
	startMonth := flag.Int("start-month", 1, "first month of the fiscal year (1-12)")
	flag.Parse()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)
	ctx := context.Background()

	pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{MaxConns: 2})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	if err := accounting.Migrate(ctx, pool); err != nil {
		logger.Error("migrate", slog.Any("error", err))
		os.Exit(1)
	}
	roles, err := composer.ParseRoles(cfg.Ledger.DefaultAccounts)
	if err != nil {
		logger.Error("parse roles", slog.Any("error", err))
		os.Exit(1)
	}

	repo := accounting.NewRepository(pool)
	if err := seed(ctx, repo, roles, *year, time.Month(*startMonth), time.Now(), logger); err != nil {
		logger.Error("seed ledger", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("ledger seeded", slog.Int("year", *year))
}

func seed(ctx context.Context, repo accounting.RepositoryPort, roles composer.Roles, year int, startMonth time.Month, now time.Time, logger *slog.Logger) error {
	accountSvc := accounts.NewService(repo, logger)
	for _, spec := range chart(roles) {
		if _, err := accountSvc.GetOrCreate(ctx, spec); err != nil {
			return fmt.Errorf("account %s: %w", spec.Code, err)
		}
	}

	calendar, err := fiscalCalendar(year, startMonth, now)
	if err != nil {
		return err
	}
	periodSvc := periods.NewService(repo, logger)
	for _, in := range calendar {
		_, err := periodSvc.Create(ctx, in)
		switch {
		case errors.Is(err, accounting.ErrPeriodOverlap):
			logger.Info("period exists, skipped", slog.String("code", in.Code))
		case err != nil:
			return fmt.Errorf("period %s: %w", in.Code, err)
		}
	}
	return nil
}

var groups = []accounts.Spec{
	{Code: "1", Name: "Assets", Type: accounting.AccountTypeAsset, IsGroup: true},
	{Code: "2", Name: "Liabilities", Type: accounting.AccountTypeLiability, IsGroup: true},
	{Code: "3", Name: "Equity", Type: accounting.AccountTypeEquity, IsGroup: true},
	{Code: "4", Name: "Revenue", Type: accounting.AccountTypeRevenue, IsGroup: true},
	{Code: "5", Name: "Expenses", Type: accounting.AccountTypeExpense, IsGroup: true},
}

// chart returns the group accounts followed by every role account, each filed under
// the group of its type, plus retained earnings.
func chart(roles composer.Roles) []accounts.Spec {
	parent := make(map[accounting.AccountType]string, len(groups))
	out := append([]accounts.Spec(nil), groups...)
	for _, g := range groups {
		parent[g.Type] = g.Code
	}
	leaves := []accounts.Spec{{Code: "3100", Name: "Retained Earnings", Type: accounting.AccountTypeEquity}}
	for _, spec := range roles {
		leaves = append(leaves, spec)
	}
	sort.Slice(leaves, func(i, j int) bool { return leaves[i].Code < leaves[j].Code })
	seen := make(map[string]bool, len(leaves))
	for _, spec := range leaves {
		if seen[spec.Code] {
			continue
		}
		seen[spec.Code] = true
		if spec.ParentCode == "" {
			spec.ParentCode = parent[spec.Type]
		}
		out = append(out, spec)
	}
	return out
}

// fiscalCalendar lays out the year, its quarters and its months. The month that
// contains now is flagged current.
func fiscalCalendar(year int, startMonth time.Month, now time.Time) ([]accounting.PeriodInput, error) {
	if startMonth < time.January || startMonth > time.December {
		return nil, fmt.Errorf("start month %d out of range", startMonth)
	}
	start := time.Date(year, startMonth, 1, 0, 0, 0, 0, time.UTC)
	day := func(t time.Time) time.Time { return t.AddDate(0, 0, -1) }
	fy := fmt.Sprintf("FY%d", year)
	if startMonth != time.January {
		fy = fmt.Sprintf("FY%d-%02d", year, (year+1)%100)
	}

	out := []accounting.PeriodInput{{
		Code: fy, Granularity: accounting.GranularityYear,
		StartDate: start, EndDate: day(start.AddDate(1, 0, 0)),
	}}
	for q := 0; q < 4; q++ {
		qs := start.AddDate(0, 3*q, 0)
		out = append(out, accounting.PeriodInput{
			Code: fmt.Sprintf("%s-Q%d", fy, q+1), Granularity: accounting.GranularityQuarter,
			StartDate: qs, EndDate: day(qs.AddDate(0, 3, 0)),
		})
	}
	today := accounting.TruncateDay(now)
	for m := 0; m < 12; m++ {
		ms := start.AddDate(0, m, 0)
		me := day(ms.AddDate(0, 1, 0))
		out = append(out, accounting.PeriodInput{
			Code: ms.Format("2006-01"), Granularity: accounting.GranularityMonth,
			StartDate: ms, EndDate: me,
			IsCurrent: !today.Before(ms) && !today.After(me),
		})
	}
	return out, nil
}
