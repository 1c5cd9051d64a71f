package composer

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// CounterpartyKind distinguishes customers from vendors.
type CounterpartyKind string

const (
	Customer CounterpartyKind = "CUSTOMER"
	Vendor   CounterpartyKind = "VENDOR"
)

// Counterparty identifies a customer or vendor record owned by another module.
type Counterparty struct {
	Kind CounterpartyKind
	ID   int64
}

// Directory returns the GL account linked to a counterparty, if any.
type Directory interface {
	LinkedAccount(ctx context.Context, party Counterparty) (code string, found bool, err error)
}

// StaticDirectory is a fixed counterparty → account code map.
type StaticDirectory map[Counterparty]string

// LinkedAccount implements Directory.
func (d StaticDirectory) LinkedAccount(_ context.Context, party Counterparty) (string, bool, error) {
	code, ok := d[party]
	return code, ok && code != "", nil
}

// PgDirectory reads links from ledger_counterparty_accounts.
type PgDirectory struct {
	db *pgxpool.Pool
}

// NewPgDirectory constructs PgDirectory.
func NewPgDirectory(db *pgxpool.Pool) *PgDirectory {
	return &PgDirectory{db: db}
}

// LinkedAccount implements Directory.
func (d *PgDirectory) LinkedAccount(ctx context.Context, party Counterparty) (string, bool, error) {
	if d == nil || d.db == nil || party.ID == 0 {
		return "", false, nil
	}
	var code string
	err := d.db.QueryRow(ctx, `SELECT account_code FROM ledger_counterparty_accounts WHERE kind=$1 AND counterparty_id=$2`,
		string(party.Kind), party.ID).Scan(&code)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return code, true, nil
}

// Link stores or replaces the linked account of a counterparty.
func (d *PgDirectory) Link(ctx context.Context, party Counterparty, code string) error {
	_, err := d.db.Exec(ctx, `INSERT INTO ledger_counterparty_accounts (kind, counterparty_id, account_code)
VALUES ($1, $2, $3)
ON CONFLICT (kind, counterparty_id) DO UPDATE SET account_code = EXCLUDED.account_code, updated_at = NOW()`,
		string(party.Kind), party.ID, code)
	return err
}
