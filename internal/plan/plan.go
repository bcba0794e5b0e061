package plan

import (
	"errors"
	"fmt"
	"sort"
)

var ErrTrainingNotFound = errors.New("training not found")

// TrainingPlan is a versioned, immutable collection of training types,
// fetched from the coaching backend and cached locally. A training type
// maps exercise names to their prescriptions.
type TrainingPlan struct {
	Version   string              `json:"version"`
	Name      string              `json:"name"`
	Trainings map[string]Training `json:"trainings"`
}

type Training map[string]ExerciseSpec

// ExerciseSpec is the coach's prescription for one exercise within a
// training type. The doubled-s "Repeasts" spelling is the platform wire
// format and must not be "fixed" here.
type ExerciseSpec struct {
	NumberOfSets int    `json:"numberOfSets"`
	MinRepeats   int    `json:"minimumNumberOfRepeasts"`
	MaxRepeats   int    `json:"maximumNumberOfRepeasts"`
	MinRest      int    `json:"minimumTimeToRest"`
	MaxRest      int    `json:"maximumTimeToRest"`
	Note         string `json:"note,omitempty"`
	Link         string `json:"link,omitempty"`
}

func (s ExerciseSpec) Validate() error {
	if s.NumberOfSets <= 0 {
		return errors.New("number of sets must be positive")
	}
	if s.MinRepeats <= 0 || s.MaxRepeats <= 0 {
		return errors.New("repeat bounds must be positive")
	}
	if s.MinRepeats > s.MaxRepeats {
		return errors.New("minimum repeats greater than maximum")
	}
	if s.MinRest <= 0 || s.MaxRest <= 0 {
		return errors.New("rest bounds must be positive")
	}
	if s.MinRest > s.MaxRest {
		return errors.New("minimum rest greater than maximum")
	}
	return nil
}

func (p *TrainingPlan) Validate() error {
	if p.Version == "" {
		return errors.New("plan version is empty")
	}
	for trainingType, training := range p.Trainings {
		for exerciseName, spec := range training {
			if err := spec.Validate(); err != nil {
				return fmt.Errorf("training %q, exercise %q: %w", trainingType, exerciseName, err)
			}
		}
	}
	return nil
}

// Training returns the exercise prescriptions of one training type.
func (p *TrainingPlan) Training(trainingType string) (Training, error) {
	training, ok := p.Trainings[trainingType]
	if !ok {
		return nil, ErrTrainingNotFound
	}
	return training, nil
}

// TrainingNames returns the training type keys, sorted.
func (p *TrainingPlan) TrainingNames() []string {
	names := make([]string, 0, len(p.Trainings))
	for name := range p.Trainings {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ExerciseNames returns the exercise names of a training type, sorted.
// The backend serves trainings as JSON objects, so there is no reliable
// order on the wire; sorted names keep session ordering deterministic.
func (t Training) ExerciseNames() []string {
	names := make([]string, 0, len(t))
	for name := range t {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
