package constants

// QueueStatus is the canonical status for rows in queue_item.
type QueueStatus string

// Stable values (store these exact strings in DB).
const (
	QueueStatusQueued     QueueStatus = "QUEUED"     // waiting for a worker (or a retry window)
	QueueStatusProcessing QueueStatus = "PROCESSING" // claimed by a worker
	QueueStatusCompleted  QueueStatus = "COMPLETED"  // result written
	QueueStatusFailed     QueueStatus = "FAILED"     // terminal failure, attempts exhausted
	QueueStatusCancelled  QueueStatus = "CANCELLED"  // cancelled before a worker claimed it
)

// Active reports whether the status counts toward the one-active-item-per-document rule.
func (s QueueStatus) Active() bool {
	return s == QueueStatusQueued || s == QueueStatusProcessing
}

// AttemptStatus is the outcome of one engine invocation.
type AttemptStatus string

const (
	AttemptSuccess  AttemptStatus = "SUCCESS"
	AttemptFailed   AttemptStatus = "FAILED"
	AttemptTimeout  AttemptStatus = "TIMEOUT"
	AttemptFallback AttemptStatus = "FALLBACK" // usable result below the acceptance threshold
)
