// Package httpapi exposes the ledger to host services over HTTP.
package httpapi

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/ledger"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/reversal"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
)

// ActorHeader carries the authenticated user id set by the host's auth layer.
const ActorHeader = "X-Actor-ID"

var errActorMissing = errors.New("actor required")

// Options tunes the handler.
type Options struct {
	// WriteLimit is the number of mutating requests allowed per actor per minute.
	WriteLimit int
	Now        func() time.Time
}

// Handler serves ledger endpoints.
type Handler struct {
	ledger    *ledger.Ledger
	logger    *slog.Logger
	validate  *validator.Validate
	rateLimit func(http.Handler) http.Handler
	now       func() time.Time
}

// NewHandler constructs Handler.
func NewHandler(l *ledger.Ledger, logger *slog.Logger, opts Options) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.WriteLimit <= 0 {
		opts.WriteLimit = 120
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	limiter := httprate.Limit(opts.WriteLimit, time.Minute, httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
		if actor := strings.TrimSpace(r.Header.Get(ActorHeader)); actor != "" {
			return "actor:" + actor, nil
		}
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			return "ip:" + r.RemoteAddr, nil
		}
		return "ip:" + host, nil
	}))
	validate := validator.New()
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &Handler{ledger: l, logger: logger, validate: validate, rateLimit: limiter, now: opts.Now}
}

// MountRoutes registers the ledger routes under /ledger.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/ledger", func(r chi.Router) {
		r.Get("/entries", h.listEntries)
		r.Get("/entries/pending", h.listPending)
		r.Get("/entries/{id}", h.getEntry)
		r.Get("/accounts/{code}/balance", h.balance)
		r.Get("/accounts/{code}/rows", h.ledgerRows)
		r.Group(func(r chi.Router) {
			r.Use(h.rateLimit)
			r.Post("/events/{kind}", h.recordEvent)
			r.Post("/entries/{id}/submit", h.submit)
			r.Post("/entries/{id}/approve", h.approve)
			r.Post("/entries/{id}/reject", h.reject)
			r.Post("/entries/{id}/cancel", h.cancel)
			r.Post("/entries/{id}/post", h.post)
			r.Post("/entries/{id}/reverse", h.reverse)
		})
	})
}

var errorRules = []httpx.ErrorRule{
	{Target: errActorMissing, Status: http.StatusUnauthorized, Title: "Unauthorized"},
	{Target: accounting.ErrDuplicateEntry, Status: http.StatusConflict, Title: "Duplicate Entry"},
	{Target: accounting.ErrConcurrencyConflict, Status: http.StatusConflict, Title: "Concurrency Conflict"},
	{Target: accounting.ErrIllegalTransition, Status: http.StatusConflict, Title: "Illegal Transition"},
	{Target: accounting.ErrSelfApproval, Status: http.StatusForbidden, Title: "Forbidden"},
	{Target: accounting.ErrAlreadyApproved, Status: http.StatusConflict, Title: "Already Approved"},
	{Target: accounting.ErrNoOpenPeriod, Status: http.StatusUnprocessableEntity, Title: "No Open Period"},
	{Target: accounting.ErrValidation, Status: http.StatusBadRequest, Title: "Validation Failed"},
	{Target: accounting.ErrNotFound, Status: http.StatusNotFound, Title: "Not Found"},
}

// lookupRules treat an unknown account in the path as a missing resource.
var lookupRules = append([]httpx.ErrorRule{
	{Target: accounting.ErrAccountNotFound, Status: http.StatusNotFound, Title: "Not Found"},
}, errorRules...)

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error, rules []httpx.ErrorRule) {
	if !errors.Is(err, accounting.ErrValidation) && !errors.Is(err, accounting.ErrNotFound) && !errors.Is(err, errActorMissing) {
		h.logger.Warn("ledger request failed", slog.String("method", r.Method), slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err, rules)
}

func (h *Handler) decode(r *http.Request, target any) error {
	if err := httpx.DecodeJSON(r, target); err != nil {
		return accounting.Invalid("body", "%v", err)
	}
	if err := h.validate.Struct(target); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return accounting.Invalid(fe.Field(), "failed %s %s", fe.Tag(), fe.Param())
		}
		return fmt.Errorf("%w: %v", accounting.ErrValidation, err)
	}
	return nil
}

func actorID(r *http.Request) (int64, error) {
	raw := strings.TrimSpace(r.Header.Get(ActorHeader))
	if raw == "" {
		return 0, fmt.Errorf("%w: missing %s header", errActorMissing, ActorHeader)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid %s header %q", errActorMissing, ActorHeader, raw)
	}
	return id, nil
}

func entryID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, accounting.Invalid("id", "invalid entry id %q", chi.URLParam(r, "id"))
	}
	return id, nil
}

func (h *Handler) recordEvent(w http.ResponseWriter, r *http.Request) {
	actor, err := actorID(r)
	if err != nil {
		h.fail(w, r, err, errorRules)
		return
	}
	var req eventRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err, errorRules)
		return
	}
	ev, err := req.toEvent(chi.URLParam(r, "kind"), actor)
	if err != nil {
		h.fail(w, r, err, errorRules)
		return
	}
	rec, err := h.ledger.Record(r.Context(), ev)
	if err != nil {
		h.fail(w, r, err, errorRules)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{"entry": toEntryResponse(rec.Entry), "posted": rec.Posted})
}

func (h *Handler) listEntries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := accounting.EntryFilter{Type: accounting.EntryType(strings.ToUpper(q.Get("type")))}
	var err error
	if filter.Status, err = parseStatuses(q.Get("status")); err != nil {
		h.fail(w, r, err, errorRules)
		return
	}
	if filter.From, err = parseDate("from", q.Get("from")); err != nil {
		h.fail(w, r, err, errorRules)
		return
	}
	if filter.To, err = parseDate("to", q.Get("to")); err != nil {
		h.fail(w, r, err, errorRules)
		return
	}
	if filter.Type != "" && !filter.Type.Valid() {
		h.fail(w, r, accounting.Invalid("type", "unknown entry type %q", filter.Type), errorRules)
		return
	}
	if raw := q.Get("limit"); raw != "" {
		if filter.Limit, err = strconv.Atoi(raw); err != nil || filter.Limit < 0 {
			h.fail(w, r, accounting.Invalid("limit", "invalid %q", raw), errorRules)
			return
		}
	}
	entries, err := h.ledger.ListEntries(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err, errorRules)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entries": toEntryList(entries)})
}

func (h *Handler) listPending(w http.ResponseWriter, r *http.Request) {
	entries, err := h.ledger.ListPending(r.Context())
	if err != nil {
		h.fail(w, r, err, errorRules)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entries": toEntryList(entries)})
}

func (h *Handler) getEntry(w http.ResponseWriter, r *http.Request) {
	id, err := entryID(r)
	if err != nil {
		h.fail(w, r, err, errorRules)
		return
	}
	entry, err := h.ledger.Journals.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, err, errorRules)
		return
	}
	httpx.JSON(w, http.StatusOK, toEntryResponse(entry))
}

// transition runs a workflow action that needs an actor and an entry id.
func (h *Handler) transition(w http.ResponseWriter, r *http.Request, body any, fn func(id, actor int64) (accounting.JournalEntry, error)) {
	actor, err := actorID(r)
	if err != nil {
		h.fail(w, r, err, errorRules)
		return
	}
	id, err := entryID(r)
	if err != nil {
		h.fail(w, r, err, errorRules)
		return
	}
	if body != nil && r.ContentLength != 0 {
		if err := h.decode(r, body); err != nil {
			h.fail(w, r, err, errorRules)
			return
		}
	}
	entry, err := fn(id, actor)
	if err != nil {
		h.fail(w, r, err, errorRules)
		return
	}
	httpx.JSON(w, http.StatusOK, toEntryResponse(entry))
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	var req noteRequest
	h.transition(w, r, &req, func(id, actor int64) (accounting.JournalEntry, error) {
		return h.ledger.Journals.SubmitForApproval(r.Context(), id, actor, req.Note)
	})
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	var req noteRequest
	h.transition(w, r, &req, func(id, actor int64) (accounting.JournalEntry, error) {
		return h.ledger.Journals.Approve(r.Context(), id, actor, req.Note)
	})
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request) {
	var req rejectRequest
	h.transition(w, r, &req, func(id, actor int64) (accounting.JournalEntry, error) {
		return h.ledger.Journals.Reject(r.Context(), id, actor, req.Reason)
	})
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, nil, func(id, actor int64) (accounting.JournalEntry, error) {
		return h.ledger.Journals.Cancel(r.Context(), id, actor)
	})
}

func (h *Handler) post(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, nil, func(id, actor int64) (accounting.JournalEntry, error) {
		return h.ledger.Post(r.Context(), id, actor)
	})
}

func (h *Handler) reverse(w http.ResponseWriter, r *http.Request) {
	actor, err := actorID(r)
	if err != nil {
		h.fail(w, r, err, errorRules)
		return
	}
	id, err := entryID(r)
	if err != nil {
		h.fail(w, r, err, errorRules)
		return
	}
	var req reverseRequest
	if err := h.decode(r, &req); err != nil {
		h.fail(w, r, err, errorRules)
		return
	}
	date, err := parseDate("date", req.Date)
	if err != nil {
		h.fail(w, r, err, errorRules)
		return
	}
	res, err := h.ledger.Reverse(r.Context(), reversal.Input{EntryID: id, Reason: req.Reason, ActorID: actor, Date: date})
	if err != nil {
		h.fail(w, r, err, errorRules)
		return
	}
	httpx.JSON(w, http.StatusCreated, map[string]any{
		"original": toEntryResponse(res.Original),
		"reversal": toEntryResponse(res.Reversal),
	})
}

func (h *Handler) balance(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	asOf := h.now()
	if raw := r.URL.Query().Get("as_of"); raw != "" {
		parsed, err := parseDate("as_of", raw)
		if err != nil {
			h.fail(w, r, err, lookupRules)
			return
		}
		asOf = *parsed
	}
	value, err := h.ledger.BalanceAsOf(r.Context(), code, asOf)
	if err != nil {
		h.fail(w, r, err, lookupRules)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{
		"account": code,
		"as_of":   asOf.Format(dateLayout),
		"balance": value.StringFixed(2),
	})
}

func (h *Handler) ledgerRows(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	var periodID int64
	if raw := r.URL.Query().Get("period_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id < 0 {
			h.fail(w, r, accounting.Invalid("period_id", "invalid %q", raw), lookupRules)
			return
		}
		periodID = id
	}
	rows, err := h.ledger.LedgerRows(r.Context(), code, periodID)
	if err != nil {
		h.fail(w, r, err, lookupRules)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"account": code, "rows": toRowList(rows)})
}
