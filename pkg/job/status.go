package job

// Status is derived from a job's timestamps and the scheduler's in-flight set.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusRetrying   Status = "retrying"
)

// Statuses lists every derived status.
func Statuses() []Status {
	return []Status{StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusRetrying}
}

// StatusOf derives the status of j. The result depends only on
// CompletedAt, FailedAt, AbandonedAt, Attempts, MaxAttempts and inFlight.
func StatusOf(j *Job, inFlight bool) Status {
	switch {
	case j.CompletedAt != nil:
		return StatusCompleted
	case j.FailedAt != nil && (j.Attempts >= j.MaxAttempts || j.AbandonedAt != nil):
		return StatusFailed
	case j.FailedAt != nil:
		return StatusRetrying
	case inFlight:
		return StatusProcessing
	default:
		return StatusPending
	}
}

// IsTerminal reports whether j is completed or failed for good.
func IsTerminal(j *Job) bool {
	s := StatusOf(j, false)
	return s == StatusCompleted || s == StatusFailed
}

// Terminal reports whether s is an end state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	for _, known := range Statuses() {
		if s == known {
			return true
		}
	}
	return false
}
