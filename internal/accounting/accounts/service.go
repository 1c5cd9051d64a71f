// Package accounts implements the chart of accounts registry.
package accounts

import (
	"context"
	"log/slog"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
)

// Service resolves, provisions and maintains chart of accounts nodes.
type Service struct {
	repo   accounting.RepositoryPort
	logger *slog.Logger
	group  singleflight.Group
}

// NewService constructs Service.
func NewService(repo accounting.RepositoryPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger}
}

// Classify returns the account's normal balance side.
func Classify(a accounting.Account) accounting.NormalSide {
	return accounting.Classify(a.Type)
}

// Resolve looks an account up by code.
func (s *Service) Resolve(ctx context.Context, code string) (accounting.Account, error) {
	var account accounting.Account
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx accounting.TxRepository) error {
		var err error
		account, err = ResolveTx(ctx, tx, code)
		return err
	})
	return account, err
}

// ResolveTx looks an account up by code inside an open transaction.
func ResolveTx(ctx context.Context, tx accounting.TxRepository, code string) (accounting.Account, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return accounting.Account{}, accounting.Invalid("code", "required")
	}
	return tx.GetAccountByCode(ctx, code)
}

// GetOrCreate returns the account with spec.Code, inserting it when absent.
// Concurrent callers for the same code share one round trip.
func (s *Service) GetOrCreate(ctx context.Context, spec Spec) (accounting.Account, error) {
	if err := spec.validate(); err != nil {
		return accounting.Account{}, err
	}
	v, err, _ := s.group.Do(spec.Code, func() (any, error) {
		var account accounting.Account
		err := s.repo.WithTx(ctx, func(ctx context.Context, tx accounting.TxRepository) error {
			var created bool
			var err error
			account, created, err = GetOrCreateTx(ctx, tx, spec)
			if created {
				s.logger.Info("account provisioned", slog.String("code", account.Code), slog.String("type", string(account.Type)))
			}
			return err
		})
		return account, err
	})
	if err != nil {
		return accounting.Account{}, err
	}
	return v.(accounting.Account), nil
}

// GetOrCreateTx is the insert-or-fetch primitive used inside a caller's transaction.
// An existing account is returned unchanged even when the spec differs.
func GetOrCreateTx(ctx context.Context, tx accounting.TxRepository, spec Spec) (accounting.Account, bool, error) {
	if err := spec.validate(); err != nil {
		return accounting.Account{}, false, err
	}
	in := accounting.AccountInput{
		Code:    spec.Code,
		Name:    spec.Name,
		Type:    spec.Type,
		Subtype: spec.Subtype,
		IsGroup: spec.IsGroup,
	}
	if spec.ParentCode != "" {
		parent, err := tx.GetAccountByCode(ctx, spec.ParentCode)
		if err != nil {
			return accounting.Account{}, false, err
		}
		if !parent.IsGroup {
			return accounting.Account{}, false, accounting.Invalid("parent", "account %s is not a group account", parent.Code)
		}
		in.ParentID = &parent.ID
	}
	return tx.InsertAccountIfAbsent(ctx, in)
}

// Create inserts a new account and refuses an existing code.
func (s *Service) Create(ctx context.Context, spec Spec) (accounting.Account, error) {
	if err := spec.validate(); err != nil {
		return accounting.Account{}, err
	}
	var account accounting.Account
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx accounting.TxRepository) error {
		var created bool
		var err error
		account, created, err = GetOrCreateTx(ctx, tx, spec)
		if err != nil {
			return err
		}
		if !created {
			return accounting.Invalid("code", "account %s already exists", spec.Code)
		}
		return nil
	})
	return account, err
}

// Deactivate soft-deletes an account. Group accounts keep their active children.
func (s *Service) Deactivate(ctx context.Context, code string) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx accounting.TxRepository) error {
		account, err := ResolveTx(ctx, tx, code)
		if err != nil {
			return err
		}
		if !account.IsActive {
			return nil
		}
		if account.IsGroup {
			children, err := tx.ListChildAccounts(ctx, account.ID)
			if err != nil {
				return err
			}
			for _, child := range children {
				if child.IsActive {
					return accounting.Invalid("code", "group account %s still has active child %s", account.Code, child.Code)
				}
			}
		}
		if err := tx.SetAccountActive(ctx, account.ID, false); err != nil {
			return err
		}
		s.logger.Info("account deactivated", slog.String("code", account.Code))
		return nil
	})
}

// List returns the chart of accounts ordered by code.
func (s *Service) List(ctx context.Context) ([]accounting.Account, error) {
	var accounts []accounting.Account
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx accounting.TxRepository) error {
		var err error
		accounts, err = tx.ListAccounts(ctx)
		return err
	})
	return accounts, err
}

// Children returns the direct children of a group account.
func (s *Service) Children(ctx context.Context, code string) ([]accounting.Account, error) {
	var accounts []accounting.Account
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx accounting.TxRepository) error {
		parent, err := ResolveTx(ctx, tx, code)
		if err != nil {
			return err
		}
		accounts, err = tx.ListChildAccounts(ctx, parent.ID)
		return err
	})
	return accounts, err
}

// EnsurePostable refuses group and inactive accounts.
func EnsurePostable(a accounting.Account) error {
	if a.IsGroup || !a.IsActive {
		return &accounting.AccountError{Code: a.Code, Reason: accounting.ErrAccountNotPostable}
	}
	return nil
}
