package session

import (
	"time"

	"github.com/2beens/trainmate/internal/history"
)

// CompletionEvent is emitted exactly once per exercise per session, on
// the pending->completed edge of its final set. The state machine never
// performs I/O itself; a Coordinator consumes these and takes care of
// the durable history write and the remote push.
type CompletionEvent struct {
	TrainingType  string
	ExerciseName  string
	Date          time.Time
	Weight        *float64
	Repeats       *int
	RestTime      int
	CompletedSets int
	TotalSets     int
	SetsData      []history.SetData
}
