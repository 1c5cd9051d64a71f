// Package memstore provides an in-memory RepositoryPort. Each transaction works on a
// snapshot of the whole store and is applied only when the callback succeeds, so a
// failed transaction leaves no trace.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
)

type state struct {
	accounts      map[int64]accounting.Account
	accountByCode map[string]int64
	periods       map[int64]accounting.Period
	entries       map[int64]accounting.JournalEntry
	approvals     []accounting.ApprovalLog
	ledger        []accounting.LedgerRow

	nextAccount  int64
	nextPeriod   int64
	nextEntry    int64
	nextLine     int64
	nextApproval int64
	nextLedger   int64
	nextNumber   int64
}

func newState() *state {
	return &state{
		accounts:      make(map[int64]accounting.Account),
		accountByCode: make(map[string]int64),
		periods:       make(map[int64]accounting.Period),
		entries:       make(map[int64]accounting.JournalEntry),
	}
}

func (s *state) clone() *state {
	out := *s
	out.accounts = make(map[int64]accounting.Account, len(s.accounts))
	for k, v := range s.accounts {
		out.accounts[k] = v
	}
	out.accountByCode = make(map[string]int64, len(s.accountByCode))
	for k, v := range s.accountByCode {
		out.accountByCode[k] = v
	}
	out.periods = make(map[int64]accounting.Period, len(s.periods))
	for k, v := range s.periods {
		out.periods[k] = v
	}
	out.entries = make(map[int64]accounting.JournalEntry, len(s.entries))
	for k, v := range s.entries {
		v.Lines = append([]accounting.JournalLine(nil), v.Lines...)
		out.entries[k] = v
	}
	out.approvals = append([]accounting.ApprovalLog(nil), s.approvals...)
	out.ledger = append([]accounting.LedgerRow(nil), s.ledger...)
	return &out
}

// Store is a RepositoryPort backed by process memory. Transactions are serialised.
type Store struct {
	mu    sync.RWMutex
	data  *state
	now   func() time.Time
	fault func() error
}

// New constructs an empty Store.
func New() *Store {
	return &Store{data: newState(), now: time.Now}
}

// FailCommits makes the next n commits fail with a retryable conflict after the
// transaction body has run.
func (s *Store) FailCommits(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	remaining := n
	s.fault = func() error {
		if remaining <= 0 {
			return nil
		}
		remaining--
		return fmt.Errorf("%w: injected commit failure", accounting.ErrConcurrencyConflict)
	}
}

// WithTx runs fn on a snapshot and publishes it when fn and the commit succeed.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, accounting.TxRepository) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.data.clone()
	if err := fn(ctx, &tx{st: snapshot, now: s.now}); err != nil {
		return err
	}
	if s.fault != nil {
		if err := s.fault(); err != nil {
			return err
		}
	}
	s.data = snapshot
	return nil
}

// ReadSnapshot runs fn on a private copy of the store and drops whatever fn wrote.
func (s *Store) ReadSnapshot(ctx context.Context, fn func(context.Context, accounting.TxRepository) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	snapshot := s.data.clone()
	s.mu.RUnlock()
	return fn(ctx, &tx{st: snapshot, now: s.now})
}

type tx struct {
	st  *state
	now func() time.Time
}

var _ accounting.TxRepository = (*tx)(nil)

func accountMissing(code string) error {
	return &accounting.AccountError{Code: code, Reason: accounting.ErrAccountNotFound}
}

func (t *tx) GetAccountByCode(_ context.Context, code string) (accounting.Account, error) {
	id, ok := t.st.accountByCode[code]
	if !ok {
		return accounting.Account{}, accountMissing(code)
	}
	return t.st.accounts[id], nil
}

func (t *tx) GetAccountByID(_ context.Context, id int64) (accounting.Account, error) {
	a, ok := t.st.accounts[id]
	if !ok {
		return accounting.Account{}, accountMissing(fmt.Sprintf("#%d", id))
	}
	return a, nil
}

func (t *tx) InsertAccountIfAbsent(_ context.Context, in accounting.AccountInput) (accounting.Account, bool, error) {
	if id, ok := t.st.accountByCode[in.Code]; ok {
		return t.st.accounts[id], false, nil
	}
	t.st.nextAccount++
	now := t.now()
	a := accounting.Account{
		ID:             t.st.nextAccount,
		Code:           in.Code,
		Name:           in.Name,
		Type:           in.Type,
		Subtype:        in.Subtype,
		ParentID:       in.ParentID,
		IsGroup:        in.IsGroup,
		IsActive:       true,
		CurrentBalance: decimal.Zero,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	t.st.accounts[a.ID] = a
	t.st.accountByCode[a.Code] = a.ID
	return a, true, nil
}

func (t *tx) sortedAccounts(keep func(accounting.Account) bool) []accounting.Account {
	var out []accounting.Account
	for _, a := range t.st.accounts {
		if keep(a) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

func (t *tx) ListAccounts(context.Context) ([]accounting.Account, error) {
	return t.sortedAccounts(func(accounting.Account) bool { return true }), nil
}

func (t *tx) ListChildAccounts(_ context.Context, parentID int64) ([]accounting.Account, error) {
	return t.sortedAccounts(func(a accounting.Account) bool {
		return a.ParentID != nil && *a.ParentID == parentID
	}), nil
}

func (t *tx) SetAccountActive(_ context.Context, id int64, active bool) error {
	a, ok := t.st.accounts[id]
	if !ok {
		return accountMissing(fmt.Sprintf("#%d", id))
	}
	a.IsActive = active
	a.UpdatedAt = t.now()
	t.st.accounts[id] = a
	return nil
}

func (t *tx) LockAccounts(_ context.Context, ids []int64) (map[int64]accounting.Account, error) {
	out := make(map[int64]accounting.Account, len(ids))
	for _, id := range ids {
		if a, ok := t.st.accounts[id]; ok {
			out[id] = a
		}
	}
	return out, nil
}

func (t *tx) UpdateAccountBalance(_ context.Context, id int64, balance decimal.Decimal, expectedVersion int64) error {
	a, ok := t.st.accounts[id]
	if !ok {
		return accountMissing(fmt.Sprintf("#%d", id))
	}
	if a.Version != expectedVersion {
		return fmt.Errorf("%w: account %d changed underneath posting", accounting.ErrConcurrencyConflict, id)
	}
	a.CurrentBalance = balance
	a.Version++
	a.UpdatedAt = t.now()
	t.st.accounts[id] = a
	return nil
}

func (t *tx) GetPeriod(_ context.Context, id int64) (accounting.Period, error) {
	p, ok := t.st.periods[id]
	if !ok {
		return accounting.Period{}, &accounting.NotFoundError{Entity: "period", Key: fmt.Sprint(id)}
	}
	return p, nil
}

func (t *tx) GetPeriodForShare(ctx context.Context, id int64) (accounting.Period, error) {
	return t.GetPeriod(ctx, id)
}

func (t *tx) GetPeriodForUpdate(ctx context.Context, id int64) (accounting.Period, error) {
	return t.GetPeriod(ctx, id)
}

func (t *tx) ListPeriods(context.Context) ([]accounting.Period, error) {
	out := make([]accounting.Period, 0, len(t.st.periods))
	for _, p := range t.st.periods {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartDate.Equal(out[j].StartDate) {
			return out[i].Granularity < out[j].Granularity
		}
		return out[i].StartDate.Before(out[j].StartDate)
	})
	return out, nil
}

func (t *tx) InsertPeriod(_ context.Context, in accounting.PeriodInput) (accounting.Period, error) {
	for _, p := range t.st.periods {
		if p.Code == in.Code {
			return accounting.Period{}, accounting.Invalid("code", "period %s already exists", in.Code)
		}
	}
	t.st.nextPeriod++
	now := t.now()
	p := accounting.Period{
		ID:          t.st.nextPeriod,
		Code:        in.Code,
		Granularity: in.Granularity,
		StartDate:   accounting.TruncateDay(in.StartDate),
		EndDate:     accounting.TruncateDay(in.EndDate),
		Status:      accounting.PeriodStatusOpen,
		IsCurrent:   in.IsCurrent,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	t.st.periods[p.ID] = p
	return p, nil
}

func (t *tx) PeriodOverlaps(_ context.Context, granularity accounting.Granularity, start, end time.Time) (bool, error) {
	start, end = accounting.TruncateDay(start), accounting.TruncateDay(end)
	for _, p := range t.st.periods {
		if p.Granularity == granularity && !p.StartDate.After(end) && !p.EndDate.Before(start) {
			return true, nil
		}
	}
	return false, nil
}

func (t *tx) UpdatePeriodStatus(_ context.Context, id int64, status accounting.PeriodStatus, actorID int64, at time.Time) error {
	p, ok := t.st.periods[id]
	if !ok {
		return &accounting.NotFoundError{Entity: "period", Key: fmt.Sprint(id)}
	}
	p.Status = status
	if p.ClosedAt == nil {
		stamp := at
		p.ClosedAt = &stamp
	}
	if p.ClosedBy == nil && actorID != 0 {
		actor := actorID
		p.ClosedBy = &actor
	}
	p.UpdatedAt = t.now()
	t.st.periods[id] = p
	return nil
}

func (t *tx) NextEntryNumber(_ context.Context, date time.Time) (string, error) {
	t.st.nextNumber++
	return accounting.FormatEntryNumber(date, t.st.nextNumber), nil
}

func (t *tx) activeBySource(sourceType, sourceID string) (accounting.JournalEntry, bool) {
	if sourceType == "" {
		return accounting.JournalEntry{}, false
	}
	for _, e := range t.st.entries {
		if e.SourceType == sourceType && e.SourceID == sourceID && e.Status != accounting.StatusCancelled {
			return e, true
		}
	}
	return accounting.JournalEntry{}, false
}

func (t *tx) InsertEntry(_ context.Context, entry accounting.JournalEntry) (accounting.JournalEntry, error) {
	if _, dup := t.activeBySource(entry.SourceType, entry.SourceID); dup {
		return accounting.JournalEntry{}, &accounting.DuplicateEntryError{SourceType: entry.SourceType, SourceID: entry.SourceID}
	}
	for _, e := range t.st.entries {
		if e.Number == entry.Number {
			return accounting.JournalEntry{}, fmt.Errorf("memstore: entry number %s already used", entry.Number)
		}
	}
	t.st.nextEntry++
	now := t.now()
	entry.ID = t.st.nextEntry
	entry.Date = accounting.TruncateDay(entry.Date)
	entry.CreatedAt = now
	entry.UpdatedAt = now
	entry.Lines = nil
	t.st.entries[entry.ID] = entry
	return entry, nil
}

func (t *tx) InsertLines(_ context.Context, entryID int64, lines []accounting.JournalLine) ([]accounting.JournalLine, error) {
	entry, ok := t.st.entries[entryID]
	if !ok {
		return nil, &accounting.NotFoundError{Entity: "journal entry", Key: fmt.Sprint(entryID)}
	}
	out := make([]accounting.JournalLine, 0, len(lines))
	for _, line := range lines {
		if _, ok := t.st.accounts[line.AccountID]; !ok {
			return nil, accountMissing(fmt.Sprintf("#%d", line.AccountID))
		}
		t.st.nextLine++
		line.ID = t.st.nextLine
		line.EntryID = entryID
		out = append(out, line)
	}
	entry.Lines = append(entry.Lines, out...)
	t.st.entries[entryID] = entry
	return out, nil
}

func (t *tx) FindActiveEntryBySource(_ context.Context, sourceType, sourceID string) (accounting.JournalEntry, bool, error) {
	e, ok := t.activeBySource(sourceType, sourceID)
	return e, ok, nil
}

func (t *tx) GetEntry(_ context.Context, id int64) (accounting.JournalEntry, error) {
	e, ok := t.st.entries[id]
	if !ok {
		return accounting.JournalEntry{}, &accounting.NotFoundError{Entity: "journal entry", Key: fmt.Sprint(id)}
	}
	e.Lines = append([]accounting.JournalLine(nil), e.Lines...)
	return e, nil
}

func (t *tx) GetEntryForUpdate(ctx context.Context, id int64) (accounting.JournalEntry, error) {
	return t.GetEntry(ctx, id)
}

func (t *tx) UpdateEntryState(_ context.Context, s accounting.EntryState) error {
	e, ok := t.st.entries[s.ID]
	if !ok {
		return &accounting.NotFoundError{Entity: "journal entry", Key: fmt.Sprint(s.ID)}
	}
	e.Status = s.Status
	e.ApprovalLevel = s.ApprovalLevel
	e.ApprovalCount = s.ApprovalCount
	e.SubmittedBy = s.SubmittedBy
	e.PostedBy = s.PostedBy
	e.PostedAt = s.PostedAt
	e.ReversedBy = s.ReversedBy
	e.CancelledAt = s.CancelledAt
	e.UpdatedAt = t.now()
	t.st.entries[s.ID] = e
	return nil
}

func (t *tx) ListEntries(_ context.Context, filter accounting.EntryFilter) ([]accounting.JournalEntry, error) {
	var out []accounting.JournalEntry
	for _, e := range t.st.entries {
		if !matches(e, filter) {
			continue
		}
		e.Lines = append([]accounting.JournalLine(nil), e.Lines...)
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date.Equal(out[j].Date) {
			return out[i].ID < out[j].ID
		}
		return out[i].Date.Before(out[j].Date)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func matches(e accounting.JournalEntry, f accounting.EntryFilter) bool {
	if len(f.Status) > 0 {
		found := false
		for _, s := range f.Status {
			if e.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.Type != "" && e.Type != f.Type {
		return false
	}
	if f.From != nil && e.Date.Before(accounting.TruncateDay(*f.From)) {
		return false
	}
	if f.To != nil && e.Date.After(accounting.TruncateDay(*f.To)) {
		return false
	}
	return true
}

func (t *tx) InsertApproval(_ context.Context, log accounting.ApprovalLog) (accounting.ApprovalLog, error) {
	t.st.nextApproval++
	log.ID = t.st.nextApproval
	t.st.approvals = append(t.st.approvals, log)
	return log, nil
}

func (t *tx) ListApprovals(_ context.Context, entryID int64) ([]accounting.ApprovalLog, error) {
	var out []accounting.ApprovalLog
	for _, l := range t.st.approvals {
		if l.EntryID == entryID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (t *tx) InsertLedgerRows(_ context.Context, rows []accounting.LedgerRow) ([]accounting.LedgerRow, error) {
	out := make([]accounting.LedgerRow, 0, len(rows))
	for _, row := range rows {
		for _, existing := range t.st.ledger {
			if existing.LineID == row.LineID {
				return nil, fmt.Errorf("memstore: line %d already posted", row.LineID)
			}
		}
		t.st.nextLedger++
		row.ID = t.st.nextLedger
		row.Date = accounting.TruncateDay(row.Date)
		row.CreatedAt = t.now()
		t.st.ledger = append(t.st.ledger, row)
		out = append(out, row)
	}
	return out, nil
}

func (t *tx) LastLedgerRow(_ context.Context, accountID int64) (accounting.LedgerRow, bool, error) {
	for i := len(t.st.ledger) - 1; i >= 0; i-- {
		if t.st.ledger[i].AccountID == accountID {
			return t.st.ledger[i], true, nil
		}
	}
	return accounting.LedgerRow{}, false, nil
}

func (t *tx) ListLedgerRows(_ context.Context, accountID, periodID int64) ([]accounting.LedgerRow, error) {
	var out []accounting.LedgerRow
	for _, row := range t.st.ledger {
		if row.AccountID != accountID {
			continue
		}
		if periodID != 0 && row.PeriodID != periodID {
			continue
		}
		out = append(out, row)
	}
	return out, nil
}

func (t *tx) SumLedger(_ context.Context, accountID int64, asOf time.Time) (decimal.Decimal, decimal.Decimal, error) {
	limit := accounting.TruncateDay(asOf)
	debit, credit := decimal.Zero, decimal.Zero
	for _, row := range t.st.ledger {
		if row.AccountID == accountID && !row.Date.After(limit) {
			debit = debit.Add(row.Debit)
			credit = credit.Add(row.Credit)
		}
	}
	return debit, credit, nil
}
