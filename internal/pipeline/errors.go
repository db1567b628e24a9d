package pipeline

import (
	"errors"
	"fmt"
)

// ErrEmptyInput reports that the requested window held no records. For
// training this is an abort without touching the persisted model; callers
// treat it as a no-op rather than a failure.
var ErrEmptyInput = errors.New("no connection records in window")

// PartialWriteError reports that some, but not all, alerts failed to persist.
// The successful writes are already durable when this is returned.
type PartialWriteError struct {
	Failed int
	Total  int
}

func (e *PartialWriteError) Error() string {
	return fmt.Sprintf("alert write incomplete: %d of %d alerts failed", e.Failed, e.Total)
}

// State is a coarse phase label for a pipeline run, used for logging and
// progress reporting.
type State string

const (
	StateIdle          State = "idle"
	StateFetching      State = "fetching"
	StatePreprocessing State = "preprocessing"
	StateFitting       State = "fitting"
	StateScoring       State = "scoring"
	StatePersisting    State = "persisting"
	StateAlerting      State = "alerting"
	StateDone          State = "done"
	StateFailed        State = "failed"
)
