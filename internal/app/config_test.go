package app

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/composer"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	require.Equal(t, ":8080", cfg.AppAddr)
	require.False(t, cfg.IsProduction())
	require.True(t, decimal.NewFromInt(1).Equal(cfg.Ledger.MaxRoundOff))
	require.Equal(t, 25*time.Millisecond, cfg.Ledger.PostBackoff)
	require.Equal(t, 10*time.Minute, cfg.Ledger.BalanceCacheTTL)

	policy, err := cfg.Ledger.Policy()
	require.NoError(t, err)
	require.Equal(t, 1, policy.LevelFor(decimal.NewFromInt(100000)))
	require.Equal(t, 2, policy.LevelFor(decimal.NewFromInt(100001)))
	require.Equal(t, 3, policy.LevelFor(decimal.NewFromInt(2000000)))
	require.False(t, policy.RequiresApproval(accounting.EntryTypeSales))
	require.True(t, policy.RequiresApproval(accounting.EntryTypeManual))

	retry := cfg.Ledger.Retry()
	require.Equal(t, 3, retry.MaxAttempts)
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("LEDGER_DEFAULT_ACCOUNTS", "cash:1001,ROUND_OFF:5990")
	t.Setenv("LEDGER_APPROVAL_TIERS", "5000:1")
	t.Setenv("LEDGER_AUTO_POST_TYPES", "sales,manual")
	t.Setenv("LEDGER_MAX_ROUND_OFF", "0.50")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.True(t, cfg.IsProduction())

	policy, err := cfg.Ledger.Policy()
	require.NoError(t, err)
	require.Equal(t, 2, policy.LevelFor(decimal.NewFromInt(5001)))
	require.False(t, policy.RequiresApproval(accounting.EntryTypeManual))
	require.True(t, policy.RequiresApproval(accounting.EntryTypeReceipt))

	cc, err := cfg.Ledger.Composer(nil)
	require.NoError(t, err)
	require.Equal(t, "1001", cc.Roles[composer.RoleCash].Code)
	require.Equal(t, "5990", cc.Roles[composer.RoleRoundOff].Code)
	require.Equal(t, "1100", cc.Roles[composer.RoleAccountsReceivable].Code)
	require.NotNil(t, cc.MaxRoundOff)
	require.True(t, decimal.RequireFromString("0.5").Equal(*cc.MaxRoundOff))
}

func TestLoadConfigKeepsZeroRoundOff(t *testing.T) {
	t.Setenv("LEDGER_MAX_ROUND_OFF", "0")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	cc, err := cfg.Ledger.Composer(nil)
	require.NoError(t, err)
	require.NotNil(t, cc.MaxRoundOff)
	require.True(t, cc.MaxRoundOff.IsZero())
}

func TestLoadConfigRejectsBadLedgerSettings(t *testing.T) {
	cases := map[string][2]string{
		"scale":     {"LEDGER_AMOUNT_SCALE", "4"},
		"tiers":     {"LEDGER_APPROVAL_TIERS", "lots"},
		"auto post": {"LEDGER_AUTO_POST_TYPES", "PAYROLL"},
		"role":      {"LEDGER_DEFAULT_ACCOUNTS", "PETTY_CASH:1005"},
		"attempts":  {"LEDGER_POST_MAX_ATTEMPTS", "0"},
		"round off": {"LEDGER_MAX_ROUND_OFF", "-1"},
	}
	for name, kv := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv(kv[0], kv[1])
			_, err := LoadConfig()
			require.Error(t, err)
		})
	}
}
