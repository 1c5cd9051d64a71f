package app

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/composer"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/ledgertest"
)

func TestNewLedgerAppliesConfiguredRolesAndPolicy(t *testing.T) {
	t.Setenv("LEDGER_DEFAULT_ACCOUNTS", "CASH:1011")
	t.Setenv("LEDGER_AUTO_POST_TYPES", "SALES")
	cfg, err := LoadConfig()
	require.NoError(t, err)

	f := ledgertest.New(t)
	l, err := NewLedger(cfg, LedgerDeps{Repo: f.Store})
	require.NoError(t, err)

	rec, err := l.Record(context.Background(), composer.PaymentReceived{
		Source:     composer.Source{Type: "RECEIPT", ID: "r-1", Date: ledgertest.Day(2026, 10, 15), ActorID: 5},
		CustomerID: 3,
		Amount:     decimal.NewFromInt(40),
		Mode:       composer.ModeCash,
	})
	require.NoError(t, err)
	require.False(t, rec.Posted)
	require.Equal(t, accounting.StatusDraft, rec.Entry.Status)

	codes := map[string]bool{}
	for _, line := range rec.Entry.Lines {
		codes[line.AccountCode] = true
	}
	require.True(t, codes["1011"])
	require.True(t, codes["1100"])
	require.Equal(t, "1011", f.Account(t, "1011").Code)
}
