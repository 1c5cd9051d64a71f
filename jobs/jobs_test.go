package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/composer"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/integrity"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/ledger"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/ledgertest"
	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
)

type stubChecker struct {
	report integrity.Report
	err    error
	calls  int
}

func (s *stubChecker) Run(context.Context) (integrity.Report, error) {
	s.calls++
	return s.report, s.err
}

type stubRecorder struct {
	events []composer.Event
	err    error
}

func (s *stubRecorder) Record(_ context.Context, ev composer.Event) (ledger.Recorded, error) {
	s.events = append(s.events, ev)
	if s.err != nil {
		return ledger.Recorded{}, s.err
	}
	return ledger.Recorded{Entry: accounting.JournalEntry{ID: 1, Number: "JV-202610-000001"}, Posted: true}, nil
}

func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			if labelsMatch(metric, labels) {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func labelsMatch(metric *dto.Metric, labels map[string]string) bool {
	matched := 0
	for _, pair := range metric.GetLabel() {
		if v, ok := labels[pair.GetName()]; ok && v == pair.GetValue() {
			matched++
		}
	}
	return matched == len(labels)
}

func payment(id string) composer.PaymentReceived {
	return composer.PaymentReceived{
		Source:     composer.Source{Type: "RECEIPT", ID: id, Date: ledgertest.Day(2026, 10, 15), ActorID: 2},
		CustomerID: 8,
		Amount:     decimal.NewFromInt(250),
		Mode:       composer.ModeCash,
	}
}

func TestGLIntegrityJobExportsViolations(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(reg)
	checker := &stubChecker{report: integrity.Report{Violations: []integrity.Violation{
		{Kind: integrity.KindBalanceDrift, AccountCode: "1010"},
		{Kind: integrity.KindBalanceDrift, AccountCode: "4000"},
		{Kind: integrity.KindBrokenChain, AccountCode: "4000"},
	}}}
	job := NewGLIntegrityJob(checker, nil, metrics)

	require.NoError(t, job.Handle(context.Background(), NewGLIntegrityTask()))
	require.Equal(t, 1, checker.calls)
	require.Equal(t, 2.0, counterValue(t, reg, "ledger_integrity_violations_total", map[string]string{"kind": "balance_drift"}))
	require.Equal(t, 1.0, counterValue(t, reg, "ledger_integrity_violations_total", map[string]string{"kind": "broken_chain"}))
	require.Equal(t, 1.0, counterValue(t, reg, "ledger_jobs_total", map[string]string{"job": TaskGLIntegrity, "status": "success"}))
}

func TestGLIntegrityJobFailsWhenLedgerUnreadable(t *testing.T) {
	reg := prometheus.NewRegistry()
	job := NewGLIntegrityJob(&stubChecker{err: errors.New("connection refused")}, nil, jobmetrics.NewMetrics(reg))

	require.Error(t, job.Handle(context.Background(), NewGLIntegrityTask()))
	require.Equal(t, 1.0, counterValue(t, reg, "ledger_jobs_failures_total", map[string]string{"job": TaskGLIntegrity}))

	var unset *GLIntegrityJob
	require.Error(t, unset.Handle(context.Background(), NewGLIntegrityTask()))
}

func TestComposeEventTaskRoundTrip(t *testing.T) {
	task, err := NewComposeEventTask(payment("r-1"))
	require.NoError(t, err)
	require.Equal(t, TaskComposeEvent, task.Type())

	recorder := &stubRecorder{}
	job := NewComposeEventJob(recorder, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))
	require.NoError(t, job.Handle(context.Background(), task))
	require.Len(t, recorder.events, 1)
	got, ok := recorder.events[0].(composer.PaymentReceived)
	require.True(t, ok)
	require.Equal(t, "r-1", got.ID)
	require.True(t, decimal.NewFromInt(250).Equal(got.Amount))
}

func TestComposeEventTaskRejectsInvalidEvent(t *testing.T) {
	ev := payment("r-2")
	ev.Mode = "CHEQUE"
	_, err := NewComposeEventTask(ev)
	require.ErrorIs(t, err, accounting.ErrValidation)
}

func TestComposeEventJobOutcomes(t *testing.T) {
	task, err := NewComposeEventTask(payment("r-3"))
	require.NoError(t, err)

	dup := &stubRecorder{err: &accounting.DuplicateEntryError{SourceType: "RECEIPT", SourceID: "r-3", ExistingID: 4, ExistingNumber: "JV-202610-000004"}}
	require.NoError(t, NewComposeEventJob(dup, nil, nil).Handle(context.Background(), task))

	invalid := &stubRecorder{err: accounting.Invalid("lines", "unbalanced")}
	err = NewComposeEventJob(invalid, nil, nil).Handle(context.Background(), task)
	require.ErrorIs(t, err, asynq.SkipRetry)

	conflict := &stubRecorder{err: &accounting.ConflictError{Attempts: 3, Err: accounting.ErrConcurrencyConflict}}
	err = NewComposeEventJob(conflict, nil, nil).Handle(context.Background(), task)
	require.ErrorIs(t, err, accounting.ErrConcurrencyConflict)
	require.NotErrorIs(t, err, asynq.SkipRetry)

	garbage := asynq.NewTask(TaskComposeEvent, []byte(`{"kind":"payroll"}`))
	err = NewComposeEventJob(&stubRecorder{}, nil, nil).Handle(context.Background(), garbage)
	require.ErrorIs(t, err, asynq.SkipRetry)
}

type stubEnqueuer struct {
	tasks []*asynq.Task
	err   error
}

func (s *stubEnqueuer) EnqueueContext(_ context.Context, task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	s.tasks = append(s.tasks, task)
	if s.err != nil {
		return nil, s.err
	}
	return &asynq.TaskInfo{Queue: QueueLedger, Type: task.Type()}, nil
}

func (s *stubEnqueuer) Close() error { return nil }

func TestEnqueueEventReportsAlreadyQueued(t *testing.T) {
	ctx := context.Background()

	queued := &stubEnqueuer{}
	info, err := (&Client{client: queued}).EnqueueEvent(ctx, payment("r-4"))
	require.NoError(t, err)
	require.Equal(t, QueueLedger, info.Queue)
	require.Len(t, queued.tasks, 1)

	info, err = (&Client{client: &stubEnqueuer{err: asynq.ErrTaskIDConflict}}).EnqueueEvent(ctx, payment("r-4"))
	require.ErrorIs(t, err, ErrEventQueued)
	require.Contains(t, err.Error(), "RECEIPT/r-4")
	require.Nil(t, info)

	_, err = (&Client{client: &stubEnqueuer{err: errors.New("redis down")}}).EnqueueEvent(ctx, payment("r-5"))
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrEventQueued)
}

type stubInspector struct {
	infos map[string]*asynq.QueueInfo
}

func (s stubInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	info, ok := s.infos[queue]
	if !ok {
		return nil, asynq.ErrQueueNotFound
	}
	return info, nil
}

func TestHealthReportsQueues(t *testing.T) {
	r := chi.NewRouter()
	NewHandler(stubInspector{infos: map[string]*asynq.QueueInfo{
		QueueLedger: {Queue: QueueLedger, Pending: 3, Retry: 1},
	}}, nil).MountRoutes(r)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Queues []queueHealth `json:"queues"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, []queueHealth{
		{Queue: QueueLedger, Pending: 3, Retry: 1},
		{Queue: QueueDefault},
	}, body.Queues)
}
