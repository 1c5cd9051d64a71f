// Package composer turns business events into balanced journal entry inputs.
package composer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
)

// DefaultMaxRoundOff bounds the rounding line of one entry.
var DefaultMaxRoundOff = decimal.NewFromInt(1)

// Config tunes a Composer. A nil MaxRoundOff means DefaultMaxRoundOff; zero refuses
// every remainder.
type Config struct {
	Roles       Roles
	Directory   Directory
	MaxRoundOff *decimal.Decimal
}

// Composer builds journal entries for business events.
type Composer struct {
	roles       Roles
	directory   Directory
	maxRoundOff decimal.Decimal
	logger      *slog.Logger
}

// New constructs a Composer.
func New(cfg Config, logger *slog.Logger) *Composer {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Composer{
		roles:       cfg.Roles,
		directory:   cfg.Directory,
		maxRoundOff: DefaultMaxRoundOff,
		logger:      logger,
	}
	if c.roles == nil {
		c.roles = DefaultRoles()
	}
	if c.directory == nil {
		c.directory = StaticDirectory{}
	}
	if cfg.MaxRoundOff != nil {
		c.maxRoundOff = *cfg.MaxRoundOff
	}
	return c
}

// Roles returns the role table in force.
func (c *Composer) Roles() Roles { return c.roles }

type planned struct {
	role   Role
	party  *Counterparty
	debit  decimal.Decimal
	credit decimal.Decimal
	memo   string
}

type plan []planned

func (p *plan) debit(role Role, party *Counterparty, amount decimal.Decimal, memo string) {
	if amount.IsPositive() {
		*p = append(*p, planned{role: role, party: party, debit: amount, memo: memo})
	}
}

func (p *plan) credit(role Role, party *Counterparty, amount decimal.Decimal, memo string) {
	if amount.IsPositive() {
		*p = append(*p, planned{role: role, party: party, credit: amount, memo: memo})
	}
}

func (p plan) totals() (debit, credit decimal.Decimal) {
	for _, l := range p {
		debit = debit.Add(l.debit)
		credit = credit.Add(l.credit)
	}
	return debit, credit
}

// ComposeTx validates ev, refuses an already journaled source and returns the entry
// input. Default accounts are provisioned inside tx, so a failed caller transaction
// leaves no trace.
func (c *Composer) ComposeTx(ctx context.Context, tx accounting.TxRepository, ev Event) (accounting.EntryInput, error) {
	ev = deref(ev)
	if err := Validate(ev); err != nil {
		return accounting.EntryInput{}, err
	}
	src := ev.source()
	existing, found, err := tx.FindActiveEntryBySource(ctx, src.Type, src.ID)
	if err != nil {
		return accounting.EntryInput{}, err
	}
	if found {
		return accounting.EntryInput{}, &accounting.DuplicateEntryError{
			SourceType:     src.Type,
			SourceID:       src.ID,
			ExistingID:     existing.ID,
			ExistingNumber: existing.Number,
		}
	}

	lines, err := c.plan(ev)
	if err != nil {
		return accounting.EntryInput{}, err
	}
	if lines, err = c.roundOff(lines); err != nil {
		return accounting.EntryInput{}, err
	}

	inputs, err := c.resolve(ctx, tx, lines)
	if err != nil {
		return accounting.EntryInput{}, err
	}
	narration := src.Narration
	if narration == "" {
		ref := src.Number
		if ref == "" {
			ref = src.ID
		}
		narration = fmt.Sprintf("%s %s", ev.label(), ref)
	}
	return accounting.EntryInput{
		Date:         src.Date,
		Type:         ev.entryType(),
		SourceType:   src.Type,
		SourceID:     src.ID,
		SourceNumber: src.Number,
		Narration:    narration,
		CreatedBy:    src.ActorID,
		Lines:        inputs,
	}, nil
}

func (c *Composer) plan(ev Event) (plan, error) {
	var p plan
	switch e := ev.(type) {
	case SalesInvoiceIssued:
		party := &Counterparty{Kind: Customer, ID: e.CustomerID}
		p.debit(RoleAccountsReceivable, party, e.Gross, "")
		if e.Tax.Interstate {
			p.credit(RoleIGSTPayable, nil, e.Tax.IGST, "IGST")
		} else {
			p.credit(RoleCGSTPayable, nil, e.Tax.CGST, "CGST")
			p.credit(RoleSGSTPayable, nil, e.Tax.SGST, "SGST")
		}
		p.credit(RoleSalesRevenue, nil, e.Taxable, "")
	case PurchaseBillApproved:
		party := &Counterparty{Kind: Vendor, ID: e.VendorID}
		p.credit(RoleAccountsPayable, party, e.Gross, "")
		if e.Tax.Interstate {
			p.debit(RoleIGSTInput, nil, e.Tax.IGST, "IGST")
		} else {
			p.debit(RoleCGSTInput, nil, e.Tax.CGST, "CGST")
			p.debit(RoleSGSTInput, nil, e.Tax.SGST, "SGST")
		}
		target := RolePurchaseExpense
		if e.ToInventory {
			target = RoleInventory
		}
		p.debit(target, nil, e.Taxable, "")
	case PaymentReceived:
		p.debit(modeRole(e.Mode), nil, e.Amount, "")
		p.credit(RoleAccountsReceivable, &Counterparty{Kind: Customer, ID: e.CustomerID}, e.Amount, "")
	case PaymentMade:
		p.debit(RoleAccountsPayable, &Counterparty{Kind: Vendor, ID: e.VendorID}, e.Amount, "")
		p.credit(modeRole(e.Mode), nil, e.Amount, "")
	case BankTransaction:
		counter := e.Counter
		if counter == "" {
			counter = RoleSuspense
		}
		switch e.Direction {
		case BankDeposit:
			p.debit(RoleBank, nil, e.Amount, "")
			p.credit(counter, nil, e.Amount, "")
		case BankWithdrawal:
			p.debit(counter, nil, e.Amount, "")
			p.credit(RoleBank, nil, e.Amount, "")
		case BankCharge:
			p.debit(RoleBankCharges, nil, e.Amount, "")
			p.credit(RoleBank, nil, e.Amount, "")
		default:
			return nil, accounting.Invalid("direction", "unknown bank direction %q", e.Direction)
		}
	case StockAdjustment:
		amount := e.Amount()
		if e.Qty.IsPositive() {
			p.debit(RoleInventory, nil, amount, "")
			p.credit(RoleInventoryGain, nil, amount, "")
		} else {
			p.debit(RoleInventoryLoss, nil, amount, "")
			p.credit(RoleInventory, nil, amount, "")
		}
	default:
		return nil, accounting.Invalid("event", "unsupported event %T", ev)
	}
	return p, nil
}

func modeRole(mode PaymentMode) Role {
	if mode == ModeCash {
		return RoleCash
	}
	return RoleBank
}

// roundOff adds a ROUND_OFF line on the short side when a non-zero remainder exists.
// Event amounts are already at ledger scale, so the result balances exactly.
func (c *Composer) roundOff(p plan) (plan, error) {
	debit, credit := p.totals()
	remainder := debit.Sub(credit)
	if remainder.IsZero() {
		return p, nil
	}
	if remainder.Abs().GreaterThan(c.maxRoundOff) {
		return nil, &accounting.UnbalancedError{Debit: debit, Credit: credit}
	}
	if remainder.IsPositive() {
		p.credit(RoleRoundOff, nil, remainder, "Round off")
	} else {
		p.debit(RoleRoundOff, nil, remainder.Neg(), "Round off")
	}
	return p, nil
}

func (c *Composer) resolve(ctx context.Context, tx accounting.TxRepository, p plan) ([]accounting.LineInput, error) {
	codes := make(map[Role]string, len(p))
	out := make([]accounting.LineInput, 0, len(p))
	for _, l := range p {
		code, err := c.counterpartyCode(ctx, tx, l.party)
		if err != nil {
			return nil, err
		}
		if code == "" {
			if code = codes[l.role]; code == "" {
				if code, err = c.provision(ctx, tx, l.role); err != nil {
					return nil, err
				}
				codes[l.role] = code
			}
		}
		out = append(out, accounting.LineInput{AccountCode: code, Debit: l.debit, Credit: l.credit, Memo: l.memo})
	}
	return out, nil
}

// counterpartyCode returns the linked account of party, or "" to use the role default.
func (c *Composer) counterpartyCode(ctx context.Context, tx accounting.TxRepository, party *Counterparty) (string, error) {
	if party == nil || party.ID == 0 {
		return "", nil
	}
	code, found, err := c.directory.LinkedAccount(ctx, *party)
	if err != nil {
		return "", fmt.Errorf("composer: linked account of %s %d: %w", strings.ToLower(string(party.Kind)), party.ID, err)
	}
	if !found {
		return "", nil
	}
	account, err := accounts.ResolveTx(ctx, tx, code)
	if err != nil {
		return "", err
	}
	return account.Code, nil
}

func (c *Composer) provision(ctx context.Context, tx accounting.TxRepository, role Role) (string, error) {
	spec, err := c.roles.Spec(role)
	if err != nil {
		return "", err
	}
	account, created, err := accounts.GetOrCreateTx(ctx, tx, spec)
	if err != nil {
		return "", err
	}
	if created {
		c.logger.Info("default account provisioned", slog.String("role", string(role)), slog.String("code", account.Code))
	}
	return account.Code, nil
}
