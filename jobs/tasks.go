package jobs

import (
	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueLedger carries event composition tasks; it is weighted above the default queue.
	QueueLedger = "ledger"
	// TaskGLIntegrity audits the general ledger invariants.
	TaskGLIntegrity = "ledger:gl_integrity"
	// TaskComposeEvent records a business event as a journal entry.
	TaskComposeEvent = "ledger:compose_event"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)
