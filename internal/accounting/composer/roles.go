package composer

import (
	"fmt"
	"sort"
	"strings"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
)

// Role is the semantic purpose of an account inside a composed entry.
type Role string

const (
	RoleAccountsReceivable Role = "ACCOUNTS_RECEIVABLE"
	RoleAccountsPayable    Role = "ACCOUNTS_PAYABLE"
	RoleSalesRevenue       Role = "SALES_REVENUE"
	RolePurchaseExpense    Role = "PURCHASE_EXPENSE"
	RoleInventory          Role = "INVENTORY"
	RoleInventoryGain      Role = "INVENTORY_GAIN"
	RoleInventoryLoss      Role = "INVENTORY_LOSS"
	RoleCGSTPayable        Role = "CGST_PAYABLE"
	RoleSGSTPayable        Role = "SGST_PAYABLE"
	RoleIGSTPayable        Role = "IGST_PAYABLE"
	RoleCGSTInput          Role = "CGST_INPUT"
	RoleSGSTInput          Role = "SGST_INPUT"
	RoleIGSTInput          Role = "IGST_INPUT"
	RoleCash               Role = "CASH"
	RoleBank               Role = "BANK"
	RoleBankCharges        Role = "BANK_CHARGES"
	RoleSuspense           Role = "SUSPENSE"
	RoleRoundOff           Role = "ROUND_OFF"
)

// Roles maps every role to the account provisioned for it.
type Roles map[Role]accounts.Spec

// DefaultRoles returns the chart used when a deployment overrides nothing.
func DefaultRoles() Roles {
	spec := func(code, name string, typ accounting.AccountType, subtype string) accounts.Spec {
		return accounts.Spec{Code: code, Name: name, Type: typ, Subtype: subtype}
	}
	return Roles{
		RoleCash:               spec("1010", "Cash", accounting.AccountTypeAsset, "CASH"),
		RoleBank:               spec("1020", "Bank", accounting.AccountTypeAsset, "BANK"),
		RoleAccountsReceivable: spec("1100", "Accounts Receivable", accounting.AccountTypeAsset, "RECEIVABLE"),
		RoleInventory:          spec("1200", "Inventory", accounting.AccountTypeAsset, "INVENTORY"),
		RoleCGSTInput:          spec("1310", "CGST Input Credit", accounting.AccountTypeAsset, "TAX"),
		RoleSGSTInput:          spec("1320", "SGST Input Credit", accounting.AccountTypeAsset, "TAX"),
		RoleIGSTInput:          spec("1330", "IGST Input Credit", accounting.AccountTypeAsset, "TAX"),
		RoleAccountsPayable:    spec("2000", "Accounts Payable", accounting.AccountTypeLiability, "PAYABLE"),
		RoleCGSTPayable:        spec("2110", "CGST Payable", accounting.AccountTypeLiability, "TAX"),
		RoleSGSTPayable:        spec("2120", "SGST Payable", accounting.AccountTypeLiability, "TAX"),
		RoleIGSTPayable:        spec("2130", "IGST Payable", accounting.AccountTypeLiability, "TAX"),
		RoleSuspense:           spec("2900", "Suspense", accounting.AccountTypeLiability, "SUSPENSE"),
		RoleSalesRevenue:       spec("4000", "Sales Revenue", accounting.AccountTypeRevenue, ""),
		RoleInventoryGain:      spec("4900", "Inventory Gain", accounting.AccountTypeRevenue, "INVENTORY"),
		RolePurchaseExpense:    spec("5000", "Purchases", accounting.AccountTypeExpense, ""),
		RoleBankCharges:        spec("5100", "Bank Charges", accounting.AccountTypeExpense, "BANK"),
		RoleInventoryLoss:      spec("5900", "Inventory Loss", accounting.AccountTypeExpense, "INVENTORY"),
		RoleRoundOff:           spec("5950", "Round Off", accounting.AccountTypeExpense, "ROUNDING"),
	}
}

// Known reports whether r is one of the defined roles.
func (r Role) Known() bool {
	_, ok := DefaultRoles()[r]
	return ok
}

// ParseRoles applies ROLE:CODE overrides on top of the defaults. The overriding code
// keeps the default name and type unless the account already exists.
func ParseRoles(overrides map[string]string) (Roles, error) {
	roles := DefaultRoles()
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		role := Role(strings.ToUpper(strings.TrimSpace(k)))
		code := strings.TrimSpace(overrides[k])
		spec, ok := roles[role]
		if !ok {
			return nil, fmt.Errorf("composer: unknown role %q", k)
		}
		if code == "" {
			return nil, fmt.Errorf("composer: empty account code for role %s", role)
		}
		spec.Code = code
		roles[role] = spec
	}
	return roles, nil
}

// Spec returns the account spec for role.
func (r Roles) Spec(role Role) (accounts.Spec, error) {
	spec, ok := r[role]
	if !ok || spec.Code == "" {
		return accounts.Spec{}, fmt.Errorf("composer: no account configured for role %s", role)
	}
	return spec, nil
}
