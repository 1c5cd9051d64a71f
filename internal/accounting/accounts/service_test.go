package accounts

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/memstore"
)

func TestClassifyByType(t *testing.T) {
	cases := map[accounting.AccountType]accounting.NormalSide{
		accounting.AccountTypeAsset:     accounting.SideDebit,
		accounting.AccountTypeExpense:   accounting.SideDebit,
		accounting.AccountTypeLiability: accounting.SideCredit,
		accounting.AccountTypeEquity:    accounting.SideCredit,
		accounting.AccountTypeRevenue:   accounting.SideCredit,
	}
	for typ, side := range cases {
		require.Equal(t, side, Classify(accounting.Account{Type: typ}), typ)
	}
}

func TestResolveUnknownCodeNamesTheCode(t *testing.T) {
	svc := NewService(memstore.New(), nil)

	_, err := svc.Resolve(context.Background(), "9999")
	require.ErrorIs(t, err, accounting.ErrAccountNotFound)
	require.ErrorIs(t, err, accounting.ErrNotFound)
	require.Contains(t, err.Error(), "9999")
}

func TestGetOrCreateIsIdempotent(t *testing.T) {
	svc := NewService(memstore.New(), nil)
	ctx := context.Background()
	spec := Spec{Code: "1100", Name: "Accounts Receivable", Type: accounting.AccountTypeAsset, Subtype: "RECEIVABLE"}

	first, err := svc.GetOrCreate(ctx, spec)
	require.NoError(t, err)
	second, err := svc.GetOrCreate(ctx, Spec{Code: "1100", Name: "Other name", Type: accounting.AccountTypeAsset})
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, "Accounts Receivable", second.Name)
	require.True(t, second.IsActive)
}

func TestGetOrCreateConcurrentCallersShareOneAccount(t *testing.T) {
	store := memstore.New()
	svc := NewService(store, nil)
	ctx := context.Background()
	spec := Spec{Code: "2100", Name: "CGST Payable", Type: accounting.AccountTypeLiability, Subtype: "TAX"}

	var wg sync.WaitGroup
	ids := make([]int64, 16)
	errs := make([]error, 16)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, err := svc.GetOrCreate(ctx, spec)
			ids[i], errs[i] = a.ID, err
		}(i)
	}
	wg.Wait()
	for i := range ids {
		require.NoError(t, errs[i])
		require.Equal(t, ids[0], ids[i])
	}
	all, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestGetOrCreateRejectsUnknownType(t *testing.T) {
	svc := NewService(memstore.New(), nil)
	_, err := svc.GetOrCreate(context.Background(), Spec{Code: "1", Name: "x", Type: "BOGUS"})
	require.ErrorIs(t, err, accounting.ErrValidation)
	var fieldErr *accounting.FieldError
	require.True(t, errors.As(err, &fieldErr))
	require.Equal(t, "type", fieldErr.Field)
}

func TestCreateRefusesExistingCode(t *testing.T) {
	svc := NewService(memstore.New(), nil)
	ctx := context.Background()
	spec := Spec{Code: "4000", Name: "Sales", Type: accounting.AccountTypeRevenue}
	_, err := svc.Create(ctx, spec)
	require.NoError(t, err)
	_, err = svc.Create(ctx, spec)
	require.ErrorIs(t, err, accounting.ErrValidation)
	require.Contains(t, err.Error(), "4000")
}

func TestHierarchyAndDeactivate(t *testing.T) {
	svc := NewService(memstore.New(), nil)
	ctx := context.Background()
	_, err := svc.Create(ctx, Spec{Code: "1000", Name: "Current Assets", Type: accounting.AccountTypeAsset, IsGroup: true})
	require.NoError(t, err)
	_, err = svc.Create(ctx, Spec{Code: "1010", Name: "Cash", Type: accounting.AccountTypeAsset, ParentCode: "1000"})
	require.NoError(t, err)

	_, err = svc.Create(ctx, Spec{Code: "1011", Name: "Petty", Type: accounting.AccountTypeAsset, ParentCode: "1010"})
	require.ErrorIs(t, err, accounting.ErrValidation)

	children, err := svc.Children(ctx, "1000")
	require.NoError(t, err)
	require.Len(t, children, 1)
	require.Equal(t, "1010", children[0].Code)

	err = svc.Deactivate(ctx, "1000")
	require.ErrorIs(t, err, accounting.ErrValidation)
	require.Contains(t, err.Error(), "1010")

	require.NoError(t, svc.Deactivate(ctx, "1010"))
	require.NoError(t, svc.Deactivate(ctx, "1000"))

	cash, err := svc.Resolve(ctx, "1010")
	require.NoError(t, err)
	require.False(t, cash.IsActive)
	require.ErrorIs(t, EnsurePostable(cash), accounting.ErrAccountNotPostable)
}

func TestEnsurePostableRejectsGroup(t *testing.T) {
	err := EnsurePostable(accounting.Account{Code: "1000", IsGroup: true, IsActive: true})
	require.ErrorIs(t, err, accounting.ErrAccountNotPostable)
	require.ErrorIs(t, err, accounting.ErrValidation)
	require.Contains(t, err.Error(), "1000")
	require.NoError(t, EnsurePostable(accounting.Account{Code: "1010", IsActive: true}))
}
