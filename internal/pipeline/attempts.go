package pipeline

// AttemptDecision says whether a stage may run again.
type AttemptDecision string

const (
	AttemptRetry     AttemptDecision = "retry"
	AttemptExhausted AttemptDecision = "exhausted"
)

// CheckAttempt reports what RecordAttempt would decide without changing
// the stage. Attempt counts runs that have been dispatched, so a stage on
// its last allowed run is exhausted.
func CheckAttempt(stage Stage) AttemptDecision {
	limit := stage.MaxAttempts
	if limit < 1 {
		limit = DefaultMaxAttempts
	}
	if stage.Attempt >= limit {
		return AttemptExhausted
	}
	return AttemptRetry
}

// RecordAttempt consumes one attempt for the next run of stage. When the
// stage is exhausted it is left unchanged, so Attempt never exceeds
// MaxAttempts.
func RecordAttempt(stage *Stage) AttemptDecision {
	decision := CheckAttempt(*stage)
	if decision == AttemptRetry {
		stage.Attempt++
	}
	return decision
}

// ResetAttempts zeroes the attempt counter of a stage an operator chose to
// retry. The next dispatch counts as its first run.
func ResetAttempts(stage *Stage) {
	stage.Attempt = 0
}
