package session

import (
	"time"

	"github.com/2beens/trainmate/internal/history"
	"github.com/2beens/trainmate/internal/plan"
)

// ExerciseState is the live status of one exercise during an active
// session. It is never persisted as a whole: only the completion of an
// exercise is durably recorded, plus the lightweight current-set counter
// used to resume a session on the same day.
type ExerciseState struct {
	Name          string             `json:"name"`
	Spec          plan.ExerciseSpec  `json:"spec"`
	CurrentSet    int                `json:"currentSet"`
	Completed     bool               `json:"completed"`
	IsActive      bool               `json:"isActive"`
	IsResting     bool               `json:"isResting"`
	RestStartedAt time.Time          `json:"restStartedAt,omitempty"`
	RestDuration  int                `json:"restDuration"`
	Weight        *float64           `json:"weight,omitempty"`
	Repeats       *int               `json:"repeats,omitempty"`
	RestTime      int                `json:"restTime"`
	SetsData      []history.SetData  `json:"setsData,omitempty"`
}

// TimeLeft returns the remaining rest seconds, derived from wall-clock
// time on every observation. Zero when not resting.
func (e *ExerciseState) TimeLeft(now time.Time) int {
	if !e.IsResting {
		return 0
	}
	return RestTimer{StartedAt: e.RestStartedAt, Duration: e.RestDuration}.TimeLeft(now)
}

func (e *ExerciseState) clone() *ExerciseState {
	clone := *e
	clone.SetsData = make([]history.SetData, len(e.SetsData))
	copy(clone.SetsData, e.SetsData)
	return &clone
}

// TrainingState is the aggregate session state: the selected training
// type, its exercises in order, and their live states.
type TrainingState struct {
	SelectedTraining     string                    `json:"selectedTraining,omitempty"`
	PlanVersion          string                    `json:"trainingPlanVersion,omitempty"`
	Exercises            []string                  `json:"exercises,omitempty"`
	ExerciseStates       map[string]*ExerciseState `json:"exerciseStates,omitempty"`
	CurrentExerciseIndex int                       `json:"currentExerciseIndex"`
	TrainingComplete     bool                      `json:"isTrainingComplete"`
}

func (t *TrainingState) clone() TrainingState {
	clone := *t
	clone.Exercises = make([]string, len(t.Exercises))
	copy(clone.Exercises, t.Exercises)
	clone.ExerciseStates = make(map[string]*ExerciseState, len(t.ExerciseStates))
	for name, exState := range t.ExerciseStates {
		clone.ExerciseStates[name] = exState.clone()
	}
	return clone
}

func (t *TrainingState) allCompleted() bool {
	for _, exState := range t.ExerciseStates {
		if !exState.Completed {
			return false
		}
	}
	return true
}
