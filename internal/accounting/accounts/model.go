package accounts

import "github.com/odyssey-erp/odyssey-ledger/internal/accounting"

// Spec describes an account to resolve lazily or create at setup.
type Spec struct {
	Code       string
	Name       string
	Type       accounting.AccountType
	Subtype    string
	ParentCode string
	IsGroup    bool
}

func (s Spec) validate() error {
	if s.Code == "" {
		return accounting.Invalid("code", "required")
	}
	if s.Name == "" {
		return accounting.Invalid("name", "required for account %s", s.Code)
	}
	if !s.Type.Valid() {
		return accounting.Invalid("type", "unknown account type %q for account %s", s.Type, s.Code)
	}
	return nil
}
