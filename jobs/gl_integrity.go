package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/integrity"
	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
)

// IntegrityChecker runs one audit of the stored ledger.
type IntegrityChecker interface {
	Run(ctx context.Context) (integrity.Report, error)
}

// GLIntegrityJob runs the ledger checker and exports its findings.
type GLIntegrityJob struct {
	Checker IntegrityChecker
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewGLIntegrityJob constructs the job handler.
func NewGLIntegrityJob(checker IntegrityChecker, logger *slog.Logger, metrics *jobmetrics.Metrics) *GLIntegrityJob {
	return &GLIntegrityJob{Checker: checker, Logger: logger, Metrics: metrics}
}

// NewGLIntegrityTask creates the task registered on the integrity cron.
func NewGLIntegrityTask() *asynq.Task {
	return asynq.NewTask(TaskGLIntegrity, nil, asynq.Queue(QueueDefault), asynq.Timeout(30*time.Minute))
}

// Handle executes the integrity check. Violations are reported through metrics and
// logs; only a failure to read the ledger fails the task.
func (j *GLIntegrityJob) Handle(ctx context.Context, _ *asynq.Task) (resultErr error) {
	if j == nil || j.Checker == nil {
		return errors.New("gl integrity: checker not configured")
	}
	tracker := j.metrics().Track(TaskGLIntegrity)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	report, err := j.Checker.Run(ctx)
	if err != nil {
		j.log().Error("integrity check failed", slog.Any("error", err))
		return err
	}
	for kind, count := range report.CountByKind() {
		j.metrics().AddViolations(string(kind), count)
	}
	if !report.OK() {
		j.log().Error("ledger invariants violated",
			slog.Int("violations", len(report.Violations)),
			slog.Bool("trial_balance_ok", report.TrialBalance.Balanced()))
		return nil
	}
	j.log().Info("ledger invariants hold",
		slog.Int("entries", report.Entries),
		slog.Int("accounts", report.Accounts),
		slog.Int("rows", report.Rows))
	return nil
}

func (j *GLIntegrityJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *GLIntegrityJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskGLIntegrity))
	}
	return slog.Default().With(slog.String("job", TaskGLIntegrity))
}
