package accounting

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
)

//go:embed schema.sql
var schemaSQL string

// Migrate applies the ledger schema. Every statement is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("accounting: migrate: %w", err)
	}
	return nil
}

// Repository persists ledger entities in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx executes fn within a read-committed transaction. Writers serialise on
// row locks, so a waiter observes the committed balance once the lock is released.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil || r.pool == nil {
		return errors.New("accounting repository not initialised")
	}
	return mapPgError(db.WithTx(ctx, r.pool, pgx.ReadCommitted, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	}))
}

// ReadSnapshot executes fn within a read-only repeatable-read transaction. Reads
// spanning several statements agree with each other even while postings commit.
func (r *Repository) ReadSnapshot(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil || r.pool == nil {
		return errors.New("accounting repository not initialised")
	}
	return mapPgError(db.WithSnapshot(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	}))
}

type txRepository struct {
	tx pgx.Tx
}

// mapPgError translates lock and serialization failures into ErrConcurrencyConflict.
func mapPgError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "40001", "40P01", "55P03":
		return fmt.Errorf("%w: %s", ErrConcurrencyConflict, pgErr.Message)
	}
	return err
}

const accountColumns = `id, code, name, type, subtype, parent_id, is_group, is_active, current_balance, version, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(row rowScanner) (Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.Code, &a.Name, &a.Type, &a.Subtype, &a.ParentID, &a.IsGroup, &a.IsActive,
		&a.CurrentBalance, &a.Version, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

func collectAccounts(rows pgx.Rows) ([]Account, error) {
	defer rows.Close()
	var accounts []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (r *txRepository) GetAccountByCode(ctx context.Context, code string) (Account, error) {
	a, err := scanAccount(r.tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM ledger_accounts WHERE code=$1`, code))
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, &AccountError{Code: code, Reason: ErrAccountNotFound}
	}
	return a, err
}

func (r *txRepository) GetAccountByID(ctx context.Context, id int64) (Account, error) {
	a, err := scanAccount(r.tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM ledger_accounts WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, &AccountError{Code: fmt.Sprintf("#%d", id), Reason: ErrAccountNotFound}
	}
	return a, err
}

func (r *txRepository) InsertAccountIfAbsent(ctx context.Context, in AccountInput) (Account, bool, error) {
	a, err := scanAccount(r.tx.QueryRow(ctx, `INSERT INTO ledger_accounts (code, name, type, subtype, parent_id, is_group)
VALUES ($1,$2,$3,$4,$5,$6) ON CONFLICT (code) DO NOTHING RETURNING `+accountColumns,
		in.Code, in.Name, in.Type, in.Subtype, nullIntPtr(in.ParentID), in.IsGroup))
	if err == nil {
		return a, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Account{}, false, err
	}
	existing, err := r.GetAccountByCode(ctx, in.Code)
	return existing, false, err
}

func (r *txRepository) ListAccounts(ctx context.Context) ([]Account, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+accountColumns+` FROM ledger_accounts ORDER BY code`)
	if err != nil {
		return nil, err
	}
	return collectAccounts(rows)
}

func (r *txRepository) ListChildAccounts(ctx context.Context, parentID int64) ([]Account, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+accountColumns+` FROM ledger_accounts WHERE parent_id=$1 ORDER BY code`, parentID)
	if err != nil {
		return nil, err
	}
	return collectAccounts(rows)
}

func (r *txRepository) SetAccountActive(ctx context.Context, id int64, active bool) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE ledger_accounts SET is_active=$2, updated_at=NOW() WHERE id=$1`, id, active)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return &AccountError{Code: fmt.Sprintf("#%d", id), Reason: ErrAccountNotFound}
	}
	return nil
}

func (r *txRepository) LockAccounts(ctx context.Context, ids []int64) (map[int64]Account, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+accountColumns+` FROM ledger_accounts WHERE id = ANY($1) ORDER BY id FOR UPDATE`, ids)
	if err != nil {
		return nil, err
	}
	accounts, err := collectAccounts(rows)
	if err != nil {
		return nil, err
	}
	out := make(map[int64]Account, len(accounts))
	for _, a := range accounts {
		out[a.ID] = a
	}
	return out, nil
}

func (r *txRepository) UpdateAccountBalance(ctx context.Context, id int64, balance decimal.Decimal, expectedVersion int64) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE ledger_accounts SET current_balance=$2, version=version+1, updated_at=NOW()
WHERE id=$1 AND version=$3`, id, balance, expectedVersion)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("%w: account %d changed underneath posting", ErrConcurrencyConflict, id)
	}
	return nil
}

const periodColumns = `id, code, granularity, start_date, end_date, status, is_current, closed_at, closed_by, created_at, updated_at`

func scanPeriod(row rowScanner) (Period, error) {
	var p Period
	err := row.Scan(&p.ID, &p.Code, &p.Granularity, &p.StartDate, &p.EndDate, &p.Status, &p.IsCurrent,
		&p.ClosedAt, &p.ClosedBy, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (r *txRepository) getPeriod(ctx context.Context, id int64, lock string) (Period, error) {
	p, err := scanPeriod(r.tx.QueryRow(ctx, `SELECT `+periodColumns+` FROM ledger_periods WHERE id=$1 `+lock, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Period{}, &NotFoundError{Entity: "period", Key: fmt.Sprint(id)}
	}
	return p, err
}

func (r *txRepository) GetPeriod(ctx context.Context, id int64) (Period, error) {
	return r.getPeriod(ctx, id, "")
}

func (r *txRepository) GetPeriodForShare(ctx context.Context, id int64) (Period, error) {
	return r.getPeriod(ctx, id, "FOR SHARE")
}

func (r *txRepository) GetPeriodForUpdate(ctx context.Context, id int64) (Period, error) {
	return r.getPeriod(ctx, id, "FOR UPDATE")
}

func (r *txRepository) ListPeriods(ctx context.Context) ([]Period, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+periodColumns+` FROM ledger_periods ORDER BY start_date, granularity`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var periods []Period
	for rows.Next() {
		p, err := scanPeriod(rows)
		if err != nil {
			return nil, err
		}
		periods = append(periods, p)
	}
	return periods, rows.Err()
}

func (r *txRepository) InsertPeriod(ctx context.Context, in PeriodInput) (Period, error) {
	return scanPeriod(r.tx.QueryRow(ctx, `INSERT INTO ledger_periods (code, granularity, start_date, end_date, is_current)
VALUES ($1,$2,$3,$4,$5) RETURNING `+periodColumns, in.Code, in.Granularity, in.StartDate, in.EndDate, in.IsCurrent))
}

func (r *txRepository) PeriodOverlaps(ctx context.Context, granularity Granularity, start, end time.Time) (bool, error) {
	var exists bool
	err := r.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM ledger_periods
WHERE granularity=$1 AND start_date <= $3 AND end_date >= $2)`, granularity, start, end).Scan(&exists)
	return exists, err
}

func (r *txRepository) UpdatePeriodStatus(ctx context.Context, id int64, status PeriodStatus, actorID int64, at time.Time) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE ledger_periods SET status=$2, closed_by=COALESCE(closed_by, $3),
closed_at=COALESCE(closed_at, $4), updated_at=NOW() WHERE id=$1`, id, status, nullInt(actorID), at)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return &NotFoundError{Entity: "period", Key: fmt.Sprint(id)}
	}
	return nil
}

// NextEntryNumber draws from a sequence so numbers are unique across concurrent writers.
func (r *txRepository) NextEntryNumber(ctx context.Context, date time.Time) (string, error) {
	var seq int64
	if err := r.tx.QueryRow(ctx, `SELECT nextval('journal_entry_number_seq')`).Scan(&seq); err != nil {
		return "", err
	}
	return FormatEntryNumber(date, seq), nil
}

const entryColumns = `id, number, entry_date, period_id, type, COALESCE(source_type, ''), COALESCE(source_id, ''),
source_number, narration, total_debit, total_credit, status, requires_approval, approval_level, approval_count,
reversal_of, reversed_by, created_by, submitted_by, posted_by, posted_at, cancelled_at, created_at, updated_at`

func scanEntry(row rowScanner) (JournalEntry, error) {
	var e JournalEntry
	err := row.Scan(&e.ID, &e.Number, &e.Date, &e.PeriodID, &e.Type, &e.SourceType, &e.SourceID,
		&e.SourceNumber, &e.Narration, &e.TotalDebit, &e.TotalCredit, &e.Status, &e.RequiresApproval,
		&e.ApprovalLevel, &e.ApprovalCount, &e.ReversalOf, &e.ReversedBy, &e.CreatedBy, &e.SubmittedBy,
		&e.PostedBy, &e.PostedAt, &e.CancelledAt, &e.CreatedAt, &e.UpdatedAt)
	return e, err
}

func (r *txRepository) InsertEntry(ctx context.Context, entry JournalEntry) (JournalEntry, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO journal_entries (number, entry_date, period_id, type, source_type, source_id,
source_number, narration, total_debit, total_credit, status, requires_approval, approval_level, reversal_of, created_by)
VALUES ($1,$2,$3,$4,NULLIF($5,''),NULLIF($6,''),$7,$8,$9,$10,$11,$12,$13,$14,$15) RETURNING `+entryColumns,
		entry.Number, entry.Date, entry.PeriodID, entry.Type, entry.SourceType, entry.SourceID, entry.SourceNumber,
		entry.Narration, entry.TotalDebit, entry.TotalCredit, entry.Status, entry.RequiresApproval, entry.ApprovalLevel,
		nullIntPtr(entry.ReversalOf), entry.CreatedBy)
	stored, err := scanEntry(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "uq_journal_entries_source" {
			return JournalEntry{}, &DuplicateEntryError{SourceType: entry.SourceType, SourceID: entry.SourceID}
		}
		return JournalEntry{}, err
	}
	return stored, nil
}

func (r *txRepository) InsertLines(ctx context.Context, entryID int64, lines []JournalLine) ([]JournalLine, error) {
	out := make([]JournalLine, 0, len(lines))
	for _, line := range lines {
		line.EntryID = entryID
		if err := r.tx.QueryRow(ctx, `INSERT INTO journal_lines (entry_id, line_number, account_id, debit, credit, memo)
VALUES ($1,$2,$3,$4,$5,$6) RETURNING id`, entryID, line.LineNumber, line.AccountID, line.Debit, line.Credit, line.Memo).
			Scan(&line.ID); err != nil {
			return nil, err
		}
		out = append(out, line)
	}
	return out, nil
}

func (r *txRepository) loadLines(ctx context.Context, entry *JournalEntry) error {
	rows, err := r.tx.Query(ctx, `SELECT l.id, l.entry_id, l.line_number, l.account_id, a.code, l.debit, l.credit, l.memo
FROM journal_lines l JOIN ledger_accounts a ON a.id = l.account_id WHERE l.entry_id=$1 ORDER BY l.line_number`, entry.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	entry.Lines = entry.Lines[:0]
	for rows.Next() {
		var line JournalLine
		if err := rows.Scan(&line.ID, &line.EntryID, &line.LineNumber, &line.AccountID, &line.AccountCode,
			&line.Debit, &line.Credit, &line.Memo); err != nil {
			return err
		}
		entry.Lines = append(entry.Lines, line)
	}
	return rows.Err()
}

func (r *txRepository) getEntry(ctx context.Context, id int64, lock string) (JournalEntry, error) {
	entry, err := scanEntry(r.tx.QueryRow(ctx, `SELECT `+entryColumns+` FROM journal_entries WHERE id=$1 `+lock, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return JournalEntry{}, &NotFoundError{Entity: "journal entry", Key: fmt.Sprint(id)}
		}
		return JournalEntry{}, err
	}
	if err := r.loadLines(ctx, &entry); err != nil {
		return JournalEntry{}, err
	}
	return entry, nil
}

func (r *txRepository) GetEntry(ctx context.Context, id int64) (JournalEntry, error) {
	return r.getEntry(ctx, id, "")
}

func (r *txRepository) GetEntryForUpdate(ctx context.Context, id int64) (JournalEntry, error) {
	return r.getEntry(ctx, id, "FOR UPDATE")
}

func (r *txRepository) FindActiveEntryBySource(ctx context.Context, sourceType, sourceID string) (JournalEntry, bool, error) {
	entry, err := scanEntry(r.tx.QueryRow(ctx, `SELECT `+entryColumns+` FROM journal_entries
WHERE source_type=$1 AND source_id=$2 AND status <> 'CANCELLED'`, sourceType, sourceID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return JournalEntry{}, false, nil
		}
		return JournalEntry{}, false, err
	}
	return entry, true, nil
}

func (r *txRepository) UpdateEntryState(ctx context.Context, s EntryState) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE journal_entries SET status=$2, approval_level=$3, approval_count=$4,
submitted_by=$5, posted_by=$6, posted_at=$7, reversed_by=$8, cancelled_at=$9, updated_at=NOW() WHERE id=$1`,
		s.ID, s.Status, s.ApprovalLevel, s.ApprovalCount, nullIntPtr(s.SubmittedBy), nullIntPtr(s.PostedBy),
		s.PostedAt, nullIntPtr(s.ReversedBy), s.CancelledAt)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return &NotFoundError{Entity: "journal entry", Key: fmt.Sprint(s.ID)}
	}
	return nil
}

func (r *txRepository) ListEntries(ctx context.Context, filter EntryFilter) ([]JournalEntry, error) {
	var (
		where []string
		args  []any
	)
	if len(filter.Status) > 0 {
		statuses := make([]string, 0, len(filter.Status))
		for _, s := range filter.Status {
			statuses = append(statuses, string(s))
		}
		args = append(args, statuses)
		where = append(where, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	if filter.Type != "" {
		args = append(args, filter.Type)
		where = append(where, fmt.Sprintf("type = $%d", len(args)))
	}
	if filter.From != nil {
		args = append(args, *filter.From)
		where = append(where, fmt.Sprintf("entry_date >= $%d", len(args)))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		where = append(where, fmt.Sprintf("entry_date <= $%d", len(args)))
	}
	query := `SELECT ` + entryColumns + ` FROM journal_entries`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY entry_date, id"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	rows, err := r.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	var entries []JournalEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		entries = append(entries, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range entries {
		if err := r.loadLines(ctx, &entries[i]); err != nil {
			return nil, err
		}
	}
	return entries, nil
}

func (r *txRepository) InsertApproval(ctx context.Context, log ApprovalLog) (ApprovalLog, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO journal_approvals (entry_id, actor_id, action, note, at)
VALUES ($1,$2,$3,$4,$5) RETURNING id`, log.EntryID, log.ActorID, log.Action, log.Note, log.At).Scan(&log.ID)
	return log, err
}

func (r *txRepository) ListApprovals(ctx context.Context, entryID int64) ([]ApprovalLog, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, entry_id, actor_id, action, note, at FROM journal_approvals
WHERE entry_id=$1 ORDER BY id`, entryID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var logs []ApprovalLog
	for rows.Next() {
		var l ApprovalLog
		if err := rows.Scan(&l.ID, &l.EntryID, &l.ActorID, &l.Action, &l.Note, &l.At); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

const ledgerColumns = `id, account_id, period_id, entry_date, entry_id, line_id, posting_ref, debit, credit, running_balance, created_at`

func scanLedgerRow(row rowScanner) (LedgerRow, error) {
	var l LedgerRow
	err := row.Scan(&l.ID, &l.AccountID, &l.PeriodID, &l.Date, &l.EntryID, &l.LineID, &l.PostingRef,
		&l.Debit, &l.Credit, &l.RunningBalance, &l.CreatedAt)
	return l, err
}

func (r *txRepository) InsertLedgerRows(ctx context.Context, rows []LedgerRow) ([]LedgerRow, error) {
	batch := &pgx.Batch{}
	for _, row := range rows {
		batch.Queue(`INSERT INTO general_ledger (account_id, period_id, entry_date, entry_id, line_id, posting_ref, debit, credit, running_balance)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) RETURNING `+ledgerColumns,
			row.AccountID, row.PeriodID, row.Date, row.EntryID, row.LineID, row.PostingRef, row.Debit, row.Credit, row.RunningBalance)
	}
	results := r.tx.SendBatch(ctx, batch)
	defer results.Close()
	out := make([]LedgerRow, 0, len(rows))
	for range rows {
		stored, err := scanLedgerRow(results.QueryRow())
		if err != nil {
			return nil, err
		}
		out = append(out, stored)
	}
	return out, nil
}

func (r *txRepository) LastLedgerRow(ctx context.Context, accountID int64) (LedgerRow, bool, error) {
	row, err := scanLedgerRow(r.tx.QueryRow(ctx, `SELECT `+ledgerColumns+` FROM general_ledger
WHERE account_id=$1 ORDER BY id DESC LIMIT 1`, accountID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return LedgerRow{}, false, nil
		}
		return LedgerRow{}, false, err
	}
	return row, true, nil
}

func (r *txRepository) ListLedgerRows(ctx context.Context, accountID, periodID int64) ([]LedgerRow, error) {
	query := `SELECT ` + ledgerColumns + ` FROM general_ledger WHERE account_id=$1`
	args := []any{accountID}
	if periodID != 0 {
		query += ` AND period_id=$2`
		args = append(args, periodID)
	}
	rows, err := r.tx.Query(ctx, query+` ORDER BY id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []LedgerRow
	for rows.Next() {
		row, err := scanLedgerRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (r *txRepository) SumLedger(ctx context.Context, accountID int64, asOf time.Time) (decimal.Decimal, decimal.Decimal, error) {
	var debit, credit decimal.Decimal
	err := r.tx.QueryRow(ctx, `SELECT COALESCE(SUM(debit),0), COALESCE(SUM(credit),0) FROM general_ledger
WHERE account_id=$1 AND entry_date <= $2`, accountID, asOf).Scan(&debit, &credit)
	return debit, credit, err
}

func nullInt(val int64) any {
	if val == 0 {
		return nil
	}
	return val
}

func nullIntPtr(val *int64) any {
	if val == nil || *val == 0 {
		return nil
	}
	return *val
}
