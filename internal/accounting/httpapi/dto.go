package httpapi

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/composer"
)

const dateLayout = "2006-01-02"

// eventRequest is the union of every event payload. Fields that do not apply to
// the event kind are ignored.
type eventRequest struct {
	SourceType   string `json:"source_type" validate:"required,max=64"`
	SourceID     string `json:"source_id" validate:"required,max=128"`
	SourceNumber string `json:"source_number" validate:"max=64"`
	Date         string `json:"date" validate:"required,datetime=2006-01-02"`
	Narration    string `json:"narration" validate:"max=512"`

	CustomerID  int64           `json:"customer_id" validate:"gte=0"`
	VendorID    int64           `json:"vendor_id" validate:"gte=0"`
	Gross       decimal.Decimal `json:"gross"`
	Taxable     decimal.Decimal `json:"taxable"`
	CGST        decimal.Decimal `json:"cgst"`
	SGST        decimal.Decimal `json:"sgst"`
	IGST        decimal.Decimal `json:"igst"`
	Interstate  bool            `json:"interstate"`
	ToInventory bool            `json:"to_inventory"`
	Amount      decimal.Decimal `json:"amount"`
	Mode        string          `json:"mode"`
	Direction   string          `json:"direction"`
	Counter     string          `json:"counter"`
	Qty         decimal.Decimal `json:"qty"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
}

func (r eventRequest) toEvent(kind string, actorID int64) (composer.Event, error) {
	date, err := time.Parse(dateLayout, r.Date)
	if err != nil {
		return nil, accounting.Invalid("date", "expected YYYY-MM-DD, got %q", r.Date)
	}
	src := composer.Source{
		Type:      r.SourceType,
		ID:        r.SourceID,
		Number:    r.SourceNumber,
		Date:      date,
		ActorID:   actorID,
		Narration: r.Narration,
	}
	tax := composer.Tax{CGST: r.CGST, SGST: r.SGST, IGST: r.IGST, Interstate: r.Interstate}
	switch composer.Kind(kind) {
	case composer.KindSalesInvoice:
		return composer.SalesInvoiceIssued{Source: src, CustomerID: r.CustomerID, Gross: r.Gross, Taxable: r.Taxable, Tax: tax}, nil
	case composer.KindPurchaseBill:
		return composer.PurchaseBillApproved{Source: src, VendorID: r.VendorID, Gross: r.Gross, Taxable: r.Taxable, Tax: tax, ToInventory: r.ToInventory}, nil
	case composer.KindPaymentReceived:
		return composer.PaymentReceived{Source: src, CustomerID: r.CustomerID, Amount: r.Amount, Mode: composer.PaymentMode(strings.ToUpper(r.Mode))}, nil
	case composer.KindPaymentMade:
		return composer.PaymentMade{Source: src, VendorID: r.VendorID, Amount: r.Amount, Mode: composer.PaymentMode(strings.ToUpper(r.Mode))}, nil
	case composer.KindBankTransaction:
		return composer.BankTransaction{Source: src, Direction: composer.BankDirection(strings.ToUpper(r.Direction)), Amount: r.Amount,
			Counter: composer.Role(strings.ToUpper(r.Counter))}, nil
	case composer.KindStockAdjustment:
		return composer.StockAdjustment{Source: src, Qty: r.Qty, UnitCost: r.UnitCost}, nil
	}
	return nil, &accounting.NotFoundError{Entity: "event kind", Key: kind}
}

type noteRequest struct {
	Note string `json:"note" validate:"max=512"`
}

type rejectRequest struct {
	Reason string `json:"reason" validate:"required,max=512"`
}

type reverseRequest struct {
	Reason string `json:"reason" validate:"required,max=512"`
	Date   string `json:"date" validate:"omitempty,datetime=2006-01-02"`
}

type lineResponse struct {
	LineNumber int    `json:"line_number"`
	Account    string `json:"account"`
	Debit      string `json:"debit"`
	Credit     string `json:"credit"`
	Memo       string `json:"memo,omitempty"`
}

type entryResponse struct {
	ID               int64          `json:"id"`
	Number           string         `json:"number"`
	Date             string         `json:"date"`
	PeriodID         int64          `json:"period_id"`
	Type             string         `json:"type"`
	Status           string         `json:"status"`
	SourceType       string         `json:"source_type,omitempty"`
	SourceID         string         `json:"source_id,omitempty"`
	SourceNumber     string         `json:"source_number,omitempty"`
	Narration        string         `json:"narration,omitempty"`
	TotalDebit       string         `json:"total_debit"`
	TotalCredit      string         `json:"total_credit"`
	RequiresApproval bool           `json:"requires_approval"`
	ApprovalLevel    int            `json:"approval_level,omitempty"`
	ApprovalCount    int            `json:"approval_count,omitempty"`
	ReversalOf       *int64         `json:"reversal_of,omitempty"`
	ReversedBy       *int64         `json:"reversed_by,omitempty"`
	PostedAt         *time.Time     `json:"posted_at,omitempty"`
	Lines            []lineResponse `json:"lines,omitempty"`
}

func toEntryResponse(e accounting.JournalEntry) entryResponse {
	out := entryResponse{
		ID:               e.ID,
		Number:           e.Number,
		Date:             e.Date.Format(dateLayout),
		PeriodID:         e.PeriodID,
		Type:             string(e.Type),
		Status:           string(e.Status),
		SourceType:       e.SourceType,
		SourceID:         e.SourceID,
		SourceNumber:     e.SourceNumber,
		Narration:        e.Narration,
		TotalDebit:       e.TotalDebit.StringFixed(2),
		TotalCredit:      e.TotalCredit.StringFixed(2),
		RequiresApproval: e.RequiresApproval,
		ApprovalLevel:    e.ApprovalLevel,
		ApprovalCount:    e.ApprovalCount,
		ReversalOf:       e.ReversalOf,
		ReversedBy:       e.ReversedBy,
		PostedAt:         e.PostedAt,
	}
	for _, l := range e.Lines {
		out.Lines = append(out.Lines, lineResponse{
			LineNumber: l.LineNumber,
			Account:    l.AccountCode,
			Debit:      l.Debit.StringFixed(2),
			Credit:     l.Credit.StringFixed(2),
			Memo:       l.Memo,
		})
	}
	return out
}

func toEntryList(entries []accounting.JournalEntry) []entryResponse {
	out := make([]entryResponse, 0, len(entries))
	for _, e := range entries {
		r := toEntryResponse(e)
		r.Lines = nil
		out = append(out, r)
	}
	return out
}

type ledgerRowResponse struct {
	ID             int64  `json:"id"`
	Date           string `json:"date"`
	PeriodID       int64  `json:"period_id"`
	EntryID        int64  `json:"entry_id"`
	PostingRef     string `json:"posting_ref"`
	Debit          string `json:"debit"`
	Credit         string `json:"credit"`
	RunningBalance string `json:"running_balance"`
}

func toRowList(rows []accounting.LedgerRow) []ledgerRowResponse {
	out := make([]ledgerRowResponse, 0, len(rows))
	for _, r := range rows {
		out = append(out, ledgerRowResponse{
			ID:             r.ID,
			Date:           r.Date.Format(dateLayout),
			PeriodID:       r.PeriodID,
			EntryID:        r.EntryID,
			PostingRef:     r.PostingRef.String(),
			Debit:          r.Debit.StringFixed(2),
			Credit:         r.Credit.StringFixed(2),
			RunningBalance: r.RunningBalance.StringFixed(2),
		})
	}
	return out
}

func parseDate(field, raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return nil, accounting.Invalid(field, "expected YYYY-MM-DD, got %q", raw)
	}
	return &t, nil
}

func parseStatuses(raw string) ([]accounting.EntryStatus, error) {
	if raw == "" {
		return nil, nil
	}
	var out []accounting.EntryStatus
	for _, part := range strings.Split(raw, ",") {
		status := accounting.EntryStatus(strings.ToUpper(strings.TrimSpace(part)))
		if !status.Valid() {
			return nil, accounting.Invalid("status", "unknown status %q", part)
		}
		out = append(out, status)
	}
	return out, nil
}
