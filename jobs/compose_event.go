package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/composer"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/ledger"
	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
)

// EventRecorder turns a business event into a journal entry.
type EventRecorder interface {
	Record(ctx context.Context, ev composer.Event) (ledger.Recorded, error)
}

// ComposeEventJob records events queued by host modules that do not need the
// entry synchronously.
type ComposeEventJob struct {
	Recorder EventRecorder
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
}

// NewComposeEventJob constructs the job handler.
func NewComposeEventJob(recorder EventRecorder, logger *slog.Logger, metrics *jobmetrics.Metrics) *ComposeEventJob {
	return &ComposeEventJob{Recorder: recorder, Logger: logger, Metrics: metrics}
}

// NewComposeEventTask wraps ev in a task. The task id is derived from the source key
// so the queue drops a second enqueue of the same document while the first is retained.
func NewComposeEventTask(ev composer.Event) (*asynq.Task, error) {
	if err := composer.Validate(ev); err != nil {
		return nil, err
	}
	body, err := composer.MarshalEvent(ev)
	if err != nil {
		return nil, err
	}
	src := composer.SourceOf(ev)
	return asynq.NewTask(TaskComposeEvent, body,
		asynq.Queue(QueueLedger),
		asynq.TaskID(fmt.Sprintf("%s:%s:%s", TaskComposeEvent, src.Type, src.ID)),
		asynq.MaxRetry(10),
	), nil
}

// Handle records the event. A source that is already journaled counts as done;
// events the ledger refuses as invalid are not retried.
func (j *ComposeEventJob) Handle(ctx context.Context, task *asynq.Task) (resultErr error) {
	if j == nil || j.Recorder == nil {
		return errors.New("compose event: recorder not configured")
	}
	tracker := j.metrics().Track(TaskComposeEvent)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	ev, err := composer.UnmarshalEvent(task.Payload())
	if err != nil {
		j.log().Error("decode event", slog.Any("error", err))
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	src := composer.SourceOf(ev)
	rec, err := j.Recorder.Record(ctx, ev)
	var dup *accounting.DuplicateEntryError
	switch {
	case err == nil:
		j.log().Info("event journaled",
			slog.String("source_type", src.Type), slog.String("source_id", src.ID),
			slog.String("entry_number", rec.Entry.Number), slog.Bool("posted", rec.Posted))
		return nil
	case errors.As(err, &dup):
		j.log().Info("event already journaled",
			slog.String("source_type", src.Type), slog.String("source_id", src.ID),
			slog.String("entry_number", dup.ExistingNumber))
		return nil
	case errors.Is(err, accounting.ErrValidation):
		j.log().Error("event refused",
			slog.String("source_type", src.Type), slog.String("source_id", src.ID), slog.Any("error", err))
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	j.log().Warn("record event failed",
		slog.String("source_type", src.Type), slog.String("source_id", src.ID), slog.Any("error", err))
	return err
}

func (j *ComposeEventJob) metrics() *jobmetrics.Metrics {
	if j != nil && j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *ComposeEventJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskComposeEvent))
	}
	return slog.Default().With(slog.String("job", TaskComposeEvent))
}
