package history

import "time"

// SetData holds the result of a single set. Both values are optional:
// old app versions recorded neither, and bodyweight exercises have no
// weight at all.
type SetData struct {
	Weight  *float64 `json:"weight,omitempty"`
	Repeats *int     `json:"repeats,omitempty"`
}

// Entry is one durable record of a completed exercise occurrence. It is
// created exactly once, when the final set of an exercise is submitted,
// and never mutated afterwards.
//
// Weight and Repeats mirror the first set's values and exist only so that
// entries written by old app versions (which had no per-set data) still
// display something meaningful.
type Entry struct {
	Date          time.Time `json:"date"`
	Weight        *float64  `json:"weight,omitempty"`
	Repeats       *int      `json:"repeats,omitempty"`
	RestTime      int       `json:"restTime"`
	CompletedSets int       `json:"completedSets"`
	TotalSets     int       `json:"totalSets"`
	SetsData      []SetData `json:"setsData,omitempty"`
}

// Override holds user-set default values for an exercise. A nil field
// means "no override for this value". The whole row is replaced on edit.
type Override struct {
	Weight   *float64 `json:"weight,omitempty"`
	RestTime *int     `json:"restTime,omitempty"`
	Repeats  *int     `json:"repeats,omitempty"`
}

// Progress is the lightweight per-(trainingType, exerciseName) counter
// used to resume a partially completed session. Unlike history entries it
// is overwritten freely and cleared on session restart.
type Progress struct {
	TrainingType string    `json:"trainingType"`
	ExerciseName string    `json:"exerciseName"`
	CurrentSet   int       `json:"currentSet"`
	UpdatedAt    time.Time `json:"updatedAt"`
}
