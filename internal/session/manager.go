package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/2beens/trainmate/internal/defaults"
	"github.com/2beens/trainmate/internal/history"
	"github.com/2beens/trainmate/internal/plan"
	"github.com/2beens/trainmate/internal/telemetry/metrics"
	"github.com/2beens/trainmate/internal/telemetry/tracing"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

const completionEventsBuffer = 32

var (
	ErrNoTrainingSelected = errors.New("no training selected")
	ErrNoPlanAvailable    = errors.New("no training plan available")
	ErrExerciseNotFound   = errors.New("exercise not found in session")
	ErrExerciseCompleted  = errors.New("exercise already completed")
	ErrInvalidSetResult   = errors.New("invalid set result")
)

type planSource interface {
	CurrentPlan(ctx context.Context) (*plan.TrainingPlan, error)
}

type valuesResolver interface {
	Resolve(ctx context.Context, exerciseName string, spec plan.ExerciseSpec) (defaults.Values, error)
}

type progressStore interface {
	GetProgress(ctx context.Context, trainingType, exerciseName string) (int, error)
	SetProgress(ctx context.Context, trainingType, exerciseName string, currentSet int) error
	ClearProgress(ctx context.Context, trainingType string) error
}

// SetResult is the trainee's input for one finished set. Nil values fall
// back to the exercise's currently resolved defaults.
type SetResult struct {
	Weight  *float64 `json:"weight,omitempty"`
	Repeats *int     `json:"repeats,omitempty"`
}

// Adjustment edits the pre-fill values of an exercise mid-session. Nil
// fields are left untouched.
type Adjustment struct {
	Weight   *float64 `json:"weight,omitempty"`
	Repeats  *int     `json:"repeats,omitempty"`
	RestTime *int     `json:"restTime,omitempty"`
}

// Manager owns the in-memory state of the active training session and
// the transition rules between exercise states. All transitions are
// synchronous and local; the only I/O on the hot path is the progress
// counter write, and its failure never rolls a transition back.
type Manager struct {
	mu       sync.Mutex
	plans    planSource
	resolver valuesResolver
	progress progressStore
	metrics  *metrics.Manager
	events   chan CompletionEvent
	now      func() time.Time
	state    TrainingState
}

func NewManager(
	plans planSource,
	resolver valuesResolver,
	progress progressStore,
	metricsManager *metrics.Manager,
) *Manager {
	return &Manager{
		plans:    plans,
		resolver: resolver,
		progress: progress,
		metrics:  metricsManager,
		events:   make(chan CompletionEvent, completionEventsBuffer),
		now:      time.Now,
	}
}

// CompletionEvents is consumed by the Coordinator. The channel is never
// closed by the manager; consumers stop via their own context.
func (m *Manager) CompletionEvents() <-chan CompletionEvent {
	return m.events
}

// State returns a deep copy of the current session state.
func (m *Manager) State() TrainingState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.clone()
}

// SelectTraining initializes (or resumes) a session for the given
// training type. Exercises whose persisted progress counter already
// reached their set count come back as completed; when that holds for
// every exercise the session initializes directly into the complete
// state, since this is a re-view of an already finished training.
func (m *Manager) SelectTraining(ctx context.Context, trainingType string) (_ TrainingState, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "session.selectTraining")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.String("training_type", trainingType))

	currentPlan, err := m.plans.CurrentPlan(ctx)
	if err != nil {
		return TrainingState{}, fmt.Errorf("get current plan: %w", err)
	}
	if currentPlan == nil {
		return TrainingState{}, ErrNoPlanAvailable
	}

	training, err := currentPlan.Training(trainingType)
	if err != nil {
		return TrainingState{}, fmt.Errorf("training %q: %w", trainingType, err)
	}

	exerciseNames := training.ExerciseNames()
	exerciseStates := make(map[string]*ExerciseState, len(exerciseNames))
	for _, name := range exerciseNames {
		spec := training[name]

		currentSet, err := m.progress.GetProgress(ctx, trainingType, name)
		if err != nil {
			return TrainingState{}, fmt.Errorf("get progress for %q: %w", name, err)
		}
		if currentSet > spec.NumberOfSets {
			currentSet = spec.NumberOfSets
		}

		values, err := m.resolver.Resolve(ctx, name, spec)
		if err != nil {
			return TrainingState{}, fmt.Errorf("resolve defaults for %q: %w", name, err)
		}

		exerciseStates[name] = &ExerciseState{
			Name:       name,
			Spec:       spec,
			CurrentSet: currentSet,
			Completed:  currentSet >= spec.NumberOfSets,
			Weight:     values.Weight,
			Repeats:    values.Repeats,
			RestTime:   values.RestTime,
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.state = TrainingState{
		SelectedTraining: trainingType,
		PlanVersion:      currentPlan.Version,
		Exercises:        exerciseNames,
		ExerciseStates:   exerciseStates,
	}
	m.state.CurrentExerciseIndex = m.firstIncompleteIndex()
	m.state.TrainingComplete = m.state.allCompleted()

	m.metrics.CounterSessionsStarted.Inc()
	log.Infof("training [%s] selected, %d exercises, complete: %t",
		trainingType, len(exerciseNames), m.state.TrainingComplete)

	return m.state.clone(), nil
}

// StartSet marks an exercise as having a set in progress. Active and
// resting are mutually exclusive, starting a set ends any rest period.
func (m *Manager) StartSet(exerciseName string) (TrainingState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	exState, err := m.exerciseState(exerciseName)
	if err != nil {
		return TrainingState{}, err
	}
	if exState.Completed {
		return TrainingState{}, ErrExerciseCompleted
	}

	exState.IsActive = true
	exState.IsResting = false
	exState.RestStartedAt = time.Time{}
	return m.state.clone(), nil
}

// SubmitSet records the result of a finished set. On the final set the
// exercise transitions to completed and a CompletionEvent is emitted -
// exactly once, guarded by the completed edge, so re-submissions of an
// already completed exercise can never duplicate the durable write.
// Otherwise a rest period starts with the timestamp captured now.
func (m *Manager) SubmitSet(ctx context.Context, exerciseName string, result SetResult) (_ TrainingState, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "session.submitSet")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.String("exercise", exerciseName))

	if err := validateSetResult(result); err != nil {
		return TrainingState{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	exState, err := m.exerciseState(exerciseName)
	if err != nil {
		return TrainingState{}, err
	}
	if exState.Completed {
		return TrainingState{}, ErrExerciseCompleted
	}

	weight := result.Weight
	if weight == nil {
		weight = exState.Weight
	}
	repeats := result.Repeats
	if repeats == nil {
		repeats = exState.Repeats
	}

	exState.SetsData = append(exState.SetsData, setData(weight, repeats))
	exState.Weight = weight
	exState.Repeats = repeats
	exState.CurrentSet++
	exState.IsActive = false

	if err := m.progress.SetProgress(ctx, m.state.SelectedTraining, exerciseName, exState.CurrentSet); err != nil {
		// resume counter is best effort, the session must keep going
		log.Errorf("persist progress for %s: %s", exerciseName, err)
	}

	if exState.CurrentSet >= exState.Spec.NumberOfSets {
		exState.Completed = true
		exState.IsResting = false
		exState.RestStartedAt = time.Time{}
		m.emitCompletion(exState)
	} else {
		exState.IsResting = true
		exState.RestStartedAt = m.now()
		exState.RestDuration = exState.RestTime
	}

	wasComplete := m.state.TrainingComplete
	m.state.TrainingComplete = m.state.allCompleted()
	if m.state.TrainingComplete && !wasComplete {
		m.metrics.CounterSessionsCompleted.Inc()
		log.Infof("training [%s] complete", m.state.SelectedTraining)
	}

	return m.state.clone(), nil
}

// SkipRest cancels the running rest period of an exercise. The timer
// holds no resources, invalidating it is just a flag flip.
func (m *Manager) SkipRest(exerciseName string) (TrainingState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	exState, err := m.exerciseState(exerciseName)
	if err != nil {
		return TrainingState{}, err
	}

	exState.IsResting = false
	exState.RestStartedAt = time.Time{}
	return m.state.clone(), nil
}

// Adjust overwrites the pre-fill values of an exercise for its next sets.
func (m *Manager) Adjust(exerciseName string, adj Adjustment) (TrainingState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	exState, err := m.exerciseState(exerciseName)
	if err != nil {
		return TrainingState{}, err
	}

	if adj.Weight != nil {
		exState.Weight = adj.Weight
	}
	if adj.Repeats != nil {
		exState.Repeats = adj.Repeats
	}
	if adj.RestTime != nil {
		exState.RestTime = *adj.RestTime
	}
	return m.state.clone(), nil
}

// NextExercise advances the session. All-complete is checked first,
// regardless of the current index, so the completion screen is reachable
// even when the trainee jumped between exercises out of order. Otherwise
// the scan starts after the current index and wraps around to the first
// not-yet-completed exercise.
func (m *Manager) NextExercise() (TrainingState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.SelectedTraining == "" {
		return TrainingState{}, ErrNoTrainingSelected
	}

	if m.state.allCompleted() {
		m.state.TrainingComplete = true
		return m.state.clone(), nil
	}

	total := len(m.state.Exercises)
	for offset := 1; offset <= total; offset++ {
		idx := (m.state.CurrentExerciseIndex + offset) % total
		if !m.state.ExerciseStates[m.state.Exercises[idx]].Completed {
			m.state.CurrentExerciseIndex = idx
			break
		}
	}
	return m.state.clone(), nil
}

// Reset abandons the session: selected training, exercise states and the
// resume counters of that training are cleared. Durable history is never
// touched here.
func (m *Manager) Reset(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.SelectedTraining != "" {
		if err := m.progress.ClearProgress(ctx, m.state.SelectedTraining); err != nil {
			return fmt.Errorf("clear progress: %w", err)
		}
	}

	m.state = TrainingState{}
	return nil
}

func (m *Manager) exerciseState(exerciseName string) (*ExerciseState, error) {
	if m.state.SelectedTraining == "" {
		return nil, ErrNoTrainingSelected
	}
	exState, ok := m.state.ExerciseStates[exerciseName]
	if !ok {
		return nil, ErrExerciseNotFound
	}
	return exState, nil
}

func (m *Manager) firstIncompleteIndex() int {
	for i, name := range m.state.Exercises {
		if !m.state.ExerciseStates[name].Completed {
			return i
		}
	}
	return 0
}

// emitCompletion hands the completed exercise to the coordinator without
// ever blocking the state transition.
func (m *Manager) emitCompletion(exState *ExerciseState) {
	event := CompletionEvent{
		TrainingType:  m.state.SelectedTraining,
		ExerciseName:  exState.Name,
		Date:          m.now().UTC(),
		RestTime:      exState.RestTime,
		CompletedSets: exState.CurrentSet,
		TotalSets:     exState.Spec.NumberOfSets,
		SetsData:      append([]history.SetData(nil), exState.SetsData...),
	}
	if len(exState.SetsData) > 0 {
		event.Weight = exState.SetsData[0].Weight
		event.Repeats = exState.SetsData[0].Repeats
	}

	select {
	case m.events <- event:
	default:
		m.metrics.CounterDroppedEvents.Inc()
		log.Errorf("completion events channel full, dropping event for [%s]", exState.Name)
	}

	m.metrics.CounterExercisesCompleted.Inc()
}

func validateSetResult(result SetResult) error {
	if result.Weight != nil && *result.Weight < 0 {
		return fmt.Errorf("%w: negative weight", ErrInvalidSetResult)
	}
	if result.Repeats != nil && *result.Repeats <= 0 {
		return fmt.Errorf("%w: repeats must be positive", ErrInvalidSetResult)
	}
	return nil
}

func setData(weight *float64, repeats *int) history.SetData {
	return history.SetData{Weight: weight, Repeats: repeats}
}
