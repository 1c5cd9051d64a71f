package app

import (
	"fmt"
	"log/slog"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/composer"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/ledger"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/posting"
	"github.com/odyssey-erp/odyssey-ledger/internal/observability"
)

// LedgerDeps are the runtime collaborators of the accounting core. Cache, Notifier,
// Directory and Metrics may be nil.
type LedgerDeps struct {
	Repo      accounting.RepositoryPort
	Cache     ledger.BalanceCache
	Notifier  posting.Notifier
	Directory composer.Directory
	Metrics   *observability.LedgerMetrics
	Logger    *slog.Logger
}

// NewLedger assembles the ledger from configuration.
func NewLedger(cfg *Config, deps LedgerDeps) (*ledger.Ledger, error) {
	policy, err := cfg.Ledger.Policy()
	if err != nil {
		return nil, err
	}
	composerCfg, err := cfg.Ledger.Composer(deps.Directory)
	if err != nil {
		return nil, fmt.Errorf("LEDGER_DEFAULT_ACCOUNTS: %w", err)
	}
	return ledger.New(deps.Repo, ledger.Options{
		Policy:   &policy,
		Retry:    cfg.Ledger.Retry(),
		Composer: composerCfg,
		Metrics:  deps.Metrics,
		Notifier: deps.Notifier,
		Cache:    deps.Cache,
		Logger:   deps.Logger,
	}), nil
}
