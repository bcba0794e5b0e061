package session_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/2beens/trainmate/internal/defaults"
	"github.com/2beens/trainmate/internal/history"
	"github.com/2beens/trainmate/internal/plan"
	"github.com/2beens/trainmate/internal/session"
	"github.com/2beens/trainmate/internal/telemetry/metrics"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakePlanSource struct {
	plan *plan.TrainingPlan
	err  error
}

func (f *fakePlanSource) CurrentPlan(_ context.Context) (*plan.TrainingPlan, error) {
	return f.plan, f.err
}

type fakeResolver struct {
	values map[string]defaults.Values
}

func (f *fakeResolver) Resolve(_ context.Context, exerciseName string, spec plan.ExerciseSpec) (defaults.Values, error) {
	if v, ok := f.values[exerciseName]; ok {
		return v, nil
	}
	return defaults.Values{
		RestTime: defaults.RestMidpoint(spec.MinRest, spec.MaxRest),
	}, nil
}

type progressKey struct {
	trainingType string
	exerciseName string
}

type fakeProgressStore struct {
	counters map[progressKey]int
	setErr   error
}

func newFakeProgressStore() *fakeProgressStore {
	return &fakeProgressStore{counters: make(map[progressKey]int)}
}

func (f *fakeProgressStore) GetProgress(_ context.Context, trainingType, exerciseName string) (int, error) {
	return f.counters[progressKey{trainingType, exerciseName}], nil
}

func (f *fakeProgressStore) SetProgress(_ context.Context, trainingType, exerciseName string, currentSet int) error {
	if f.setErr != nil {
		return f.setErr
	}
	f.counters[progressKey{trainingType, exerciseName}] = currentSet
	return nil
}

func (f *fakeProgressStore) ClearProgress(_ context.Context, trainingType string) error {
	for key := range f.counters {
		if key.trainingType == trainingType {
			delete(f.counters, key)
		}
	}
	return nil
}

func testPlan() *plan.TrainingPlan {
	return &plan.TrainingPlan{
		Version: "v3",
		Name:    "push pull legs",
		Trainings: map[string]plan.Training{
			"push": {
				"bench press": {
					NumberOfSets: 1,
					MinRepeats:   8, MaxRepeats: 12,
					MinRest: 60, MaxRest: 90,
				},
				"overhead press": {
					NumberOfSets: 1,
					MinRepeats:   6, MaxRepeats: 10,
					MinRest: 60, MaxRest: 90,
				},
				"triceps pushdown": {
					NumberOfSets: 1,
					MinRepeats:   10, MaxRepeats: 15,
					MinRest: 45, MaxRest: 60,
				},
			},
			"legs": {
				"squat": {
					NumberOfSets: 3,
					MinRepeats:   5, MaxRepeats: 8,
					MinRest: 120, MaxRest: 180,
				},
			},
		},
	}
}

func newTestManager(t *testing.T, progress *fakeProgressStore) *session.Manager {
	t.Helper()
	return session.NewManager(
		&fakePlanSource{plan: testPlan()},
		&fakeResolver{},
		progress,
		metrics.NewTestManager(),
	)
}

// requireConsistent asserts the invariant that must hold after every
// transition: the training is complete if and only if all exercises are.
func requireConsistent(t *testing.T, state session.TrainingState) {
	t.Helper()
	allDone := true
	for _, exState := range state.ExerciseStates {
		assert.False(t, exState.IsActive && exState.IsResting,
			"exercise %s both active and resting", exState.Name)
		if !exState.Completed {
			allDone = false
		}
	}
	require.Equal(t, allDone, state.TrainingComplete)
}

func TestManager_FullSession(t *testing.T) {
	ctx := context.Background()
	manager := newTestManager(t, newFakeProgressStore())

	state, err := manager.SelectTraining(ctx, "push")
	require.NoError(t, err)
	require.Equal(t, "push", state.SelectedTraining)
	require.Equal(t, "v3", state.PlanVersion)
	// deterministic alphabetical order
	require.Equal(t, []string{"bench press", "overhead press", "triceps pushdown"}, state.Exercises)
	require.False(t, state.TrainingComplete)
	requireConsistent(t, state)

	weight := 60.0
	repeats := 10
	for i, name := range state.Exercises {
		state, err = manager.StartSet(name)
		require.NoError(t, err)
		require.True(t, state.ExerciseStates[name].IsActive)

		state, err = manager.SubmitSet(ctx, name, session.SetResult{Weight: &weight, Repeats: &repeats})
		require.NoError(t, err)
		require.True(t, state.ExerciseStates[name].Completed)
		requireConsistent(t, state)

		if i < len(state.Exercises)-1 {
			require.False(t, state.TrainingComplete)
			state, err = manager.NextExercise()
			require.NoError(t, err)
		}
	}

	require.True(t, state.TrainingComplete)

	// exactly one completion event per exercise, in completion order
	events := manager.CompletionEvents()
	for _, name := range state.Exercises {
		select {
		case event := <-events:
			assert.Equal(t, name, event.ExerciseName)
			assert.Equal(t, "push", event.TrainingType)
			require.Len(t, event.SetsData, 1)
			assert.Equal(t, weight, *event.SetsData[0].Weight)
			assert.Equal(t, repeats, *event.SetsData[0].Repeats)
		default:
			t.Fatalf("missing completion event for %s", name)
		}
	}
	select {
	case event := <-events:
		t.Fatalf("unexpected extra completion event for %s", event.ExerciseName)
	default:
	}
}

func TestManager_SubmitSet_StartsRestBetweenSets(t *testing.T) {
	ctx := context.Background()
	manager := newTestManager(t, newFakeProgressStore())

	_, err := manager.SelectTraining(ctx, "legs")
	require.NoError(t, err)

	state, err := manager.SubmitSet(ctx, "squat", session.SetResult{})
	require.NoError(t, err)

	squat := state.ExerciseStates["squat"]
	require.Equal(t, 1, squat.CurrentSet)
	require.False(t, squat.Completed)
	require.True(t, squat.IsResting)
	// 120-180s range resolves to a 150s default rest
	require.Equal(t, 150, squat.RestDuration)
	assert.Greater(t, squat.TimeLeft(time.Now()), 0)

	state, err = manager.SkipRest("squat")
	require.NoError(t, err)
	squat = state.ExerciseStates["squat"]
	require.False(t, squat.IsResting)
	assert.Zero(t, squat.TimeLeft(time.Now()))
}

func TestManager_SubmitSet_CompletedExerciseRejected(t *testing.T) {
	ctx := context.Background()
	manager := newTestManager(t, newFakeProgressStore())

	_, err := manager.SelectTraining(ctx, "push")
	require.NoError(t, err)

	_, err = manager.SubmitSet(ctx, "bench press", session.SetResult{})
	require.NoError(t, err)

	// re-submission must not produce a second completion event
	_, err = manager.SubmitSet(ctx, "bench press", session.SetResult{})
	require.ErrorIs(t, err, session.ErrExerciseCompleted)

	require.Len(t, manager.CompletionEvents(), 1)
}

func TestManager_SubmitSet_Validation(t *testing.T) {
	ctx := context.Background()
	manager := newTestManager(t, newFakeProgressStore())

	_, err := manager.SelectTraining(ctx, "push")
	require.NoError(t, err)

	negWeight := -5.0
	_, err = manager.SubmitSet(ctx, "bench press", session.SetResult{Weight: &negWeight})
	require.ErrorIs(t, err, session.ErrInvalidSetResult)

	zeroReps := 0
	_, err = manager.SubmitSet(ctx, "bench press", session.SetResult{Repeats: &zeroReps})
	require.ErrorIs(t, err, session.ErrInvalidSetResult)

	_, err = manager.SubmitSet(ctx, "deadlift", session.SetResult{})
	require.ErrorIs(t, err, session.ErrExerciseNotFound)
}

func TestManager_SubmitSet_ProgressWriteFailureDoesNotBlock(t *testing.T) {
	ctx := context.Background()
	progress := newFakeProgressStore()
	progress.setErr = errors.New("disk full")
	manager := newTestManager(t, progress)

	_, err := manager.SelectTraining(ctx, "legs")
	require.NoError(t, err)

	state, err := manager.SubmitSet(ctx, "squat", session.SetResult{})
	require.NoError(t, err)
	require.Equal(t, 1, state.ExerciseStates["squat"].CurrentSet)
}

func TestManager_NextExercise_SkipsCompletedAndWraps(t *testing.T) {
	ctx := context.Background()
	manager := newTestManager(t, newFakeProgressStore())

	state, err := manager.SelectTraining(ctx, "push")
	require.NoError(t, err)
	require.Equal(t, 0, state.CurrentExerciseIndex)

	// complete the middle exercise out of order
	_, err = manager.SubmitSet(ctx, "overhead press", session.SetResult{})
	require.NoError(t, err)

	state, err = manager.NextExercise()
	require.NoError(t, err)
	require.Equal(t, "triceps pushdown", state.Exercises[state.CurrentExerciseIndex])

	state, err = manager.NextExercise()
	require.NoError(t, err)
	require.Equal(t, "bench press", state.Exercises[state.CurrentExerciseIndex])
}

func TestManager_NextExercise_AllCompleteWinsOverIndex(t *testing.T) {
	ctx := context.Background()
	manager := newTestManager(t, newFakeProgressStore())

	state, err := manager.SelectTraining(ctx, "push")
	require.NoError(t, err)

	// finish everything while the index still points at the first exercise
	for _, name := range state.Exercises {
		_, err = manager.SubmitSet(ctx, name, session.SetResult{})
		require.NoError(t, err)
	}

	state, err = manager.NextExercise()
	require.NoError(t, err)
	require.True(t, state.TrainingComplete)
}

func TestManager_ResumeFromProgress(t *testing.T) {
	ctx := context.Background()
	progress := newFakeProgressStore()
	progress.counters[progressKey{"legs", "squat"}] = 2

	manager := newTestManager(t, progress)
	state, err := manager.SelectTraining(ctx, "legs")
	require.NoError(t, err)

	squat := state.ExerciseStates["squat"]
	require.Equal(t, 2, squat.CurrentSet)
	require.False(t, squat.Completed)

	state, err = manager.SubmitSet(ctx, "squat", session.SetResult{})
	require.NoError(t, err)
	require.True(t, state.ExerciseStates["squat"].Completed)
	require.True(t, state.TrainingComplete)
}

func TestManager_ResumeAllComplete(t *testing.T) {
	ctx := context.Background()
	progress := newFakeProgressStore()
	for _, name := range []string{"bench press", "overhead press", "triceps pushdown"} {
		progress.counters[progressKey{"push", name}] = 1
	}

	manager := newTestManager(t, progress)
	state, err := manager.SelectTraining(ctx, "push")
	require.NoError(t, err)

	// re-viewing an already finished training initializes straight into
	// the complete state, no completion events fire again
	require.True(t, state.TrainingComplete)
	require.Empty(t, manager.CompletionEvents())
}

func TestManager_ResumeClampsOverflowingCounter(t *testing.T) {
	ctx := context.Background()
	progress := newFakeProgressStore()
	// stale counter from an older plan version with more sets
	progress.counters[progressKey{"push", "bench press"}] = 5

	manager := newTestManager(t, progress)
	state, err := manager.SelectTraining(ctx, "push")
	require.NoError(t, err)

	bench := state.ExerciseStates["bench press"]
	require.Equal(t, 1, bench.CurrentSet)
	require.True(t, bench.Completed)
}

func TestManager_Adjust(t *testing.T) {
	ctx := context.Background()
	manager := newTestManager(t, newFakeProgressStore())

	_, err := manager.SelectTraining(ctx, "legs")
	require.NoError(t, err)

	weight := 80.0
	restTime := 90
	state, err := manager.Adjust("squat", session.Adjustment{Weight: &weight, RestTime: &restTime})
	require.NoError(t, err)

	squat := state.ExerciseStates["squat"]
	require.Equal(t, weight, *squat.Weight)
	require.Equal(t, restTime, squat.RestTime)

	// the adjusted rest applies to the next rest period
	state, err = manager.SubmitSet(ctx, "squat", session.SetResult{})
	require.NoError(t, err)
	require.Equal(t, 90, state.ExerciseStates["squat"].RestDuration)
}

func TestManager_Reset(t *testing.T) {
	ctx := context.Background()
	progress := newFakeProgressStore()
	manager := newTestManager(t, progress)

	_, err := manager.SelectTraining(ctx, "legs")
	require.NoError(t, err)
	_, err = manager.SubmitSet(ctx, "squat", session.SetResult{})
	require.NoError(t, err)
	require.NotEmpty(t, progress.counters)

	require.NoError(t, manager.Reset(ctx))
	require.Empty(t, progress.counters)

	state := manager.State()
	require.Empty(t, state.SelectedTraining)
	require.False(t, state.TrainingComplete)

	_, err = manager.SubmitSet(ctx, "squat", session.SetResult{})
	require.ErrorIs(t, err, session.ErrNoTrainingSelected)
}

func TestManager_SelectTraining_Errors(t *testing.T) {
	ctx := context.Background()

	manager := session.NewManager(
		&fakePlanSource{plan: nil},
		&fakeResolver{},
		newFakeProgressStore(),
		metrics.NewTestManager(),
	)
	_, err := manager.SelectTraining(ctx, "push")
	require.ErrorIs(t, err, session.ErrNoPlanAvailable)

	manager = newTestManager(t, newFakeProgressStore())
	_, err = manager.SelectTraining(ctx, "crossfit")
	require.ErrorIs(t, err, plan.ErrTrainingNotFound)
}

func TestManager_State_ReturnsDeepCopy(t *testing.T) {
	ctx := context.Background()
	manager := newTestManager(t, newFakeProgressStore())

	_, err := manager.SelectTraining(ctx, "legs")
	require.NoError(t, err)

	state := manager.State()
	state.ExerciseStates["squat"].CurrentSet = 99
	state.ExerciseStates["squat"].SetsData = append(
		state.ExerciseStates["squat"].SetsData,
		history.SetData{},
	)

	fresh := manager.State()
	require.Equal(t, 0, fresh.ExerciseStates["squat"].CurrentSet)
	require.Empty(t, fresh.ExerciseStates["squat"].SetsData)
}
