package composer

import (
	"encoding/json"
	"fmt"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
)

// Kind names an event type on the wire.
type Kind string

const (
	KindSalesInvoice    Kind = "sales-invoice"
	KindPurchaseBill    Kind = "purchase-bill"
	KindPaymentReceived Kind = "payment-received"
	KindPaymentMade     Kind = "payment-made"
	KindBankTransaction Kind = "bank-transaction"
	KindStockAdjustment Kind = "stock-adjustment"
)

// KindOf returns the wire kind of ev.
func KindOf(ev Event) Kind {
	switch deref(ev).(type) {
	case SalesInvoiceIssued:
		return KindSalesInvoice
	case PurchaseBillApproved:
		return KindPurchaseBill
	case PaymentReceived:
		return KindPaymentReceived
	case PaymentMade:
		return KindPaymentMade
	case BankTransaction:
		return KindBankTransaction
	case StockAdjustment:
		return KindStockAdjustment
	}
	return ""
}

// Envelope carries an event through a queue.
type Envelope struct {
	Kind  Kind            `json:"kind"`
	Event json.RawMessage `json:"event"`
}

// MarshalEvent encodes ev inside an Envelope.
func MarshalEvent(ev Event) ([]byte, error) {
	ev = deref(ev)
	kind := KindOf(ev)
	if kind == "" {
		return nil, fmt.Errorf("composer: cannot encode event %T", ev)
	}
	body, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("composer: encode %s: %w", kind, err)
	}
	return json.Marshal(Envelope{Kind: kind, Event: body})
}

// UnmarshalEvent decodes an Envelope produced by MarshalEvent.
func UnmarshalEvent(data []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("composer: decode envelope: %w", err)
	}
	switch env.Kind {
	case KindSalesInvoice:
		return decodeAs[SalesInvoiceIssued](env)
	case KindPurchaseBill:
		return decodeAs[PurchaseBillApproved](env)
	case KindPaymentReceived:
		return decodeAs[PaymentReceived](env)
	case KindPaymentMade:
		return decodeAs[PaymentMade](env)
	case KindBankTransaction:
		return decodeAs[BankTransaction](env)
	case KindStockAdjustment:
		return decodeAs[StockAdjustment](env)
	}
	return nil, &accounting.NotFoundError{Entity: "event kind", Key: string(env.Kind)}
}

func decodeAs[T Event](env Envelope) (Event, error) {
	var ev T
	if err := json.Unmarshal(env.Event, &ev); err != nil {
		return nil, fmt.Errorf("composer: decode %s: %w", env.Kind, err)
	}
	return ev, nil
}

// SourceOf returns the document ev was raised for.
func SourceOf(ev Event) Source {
	if ev = deref(ev); ev == nil {
		return Source{}
	}
	return ev.source()
}
