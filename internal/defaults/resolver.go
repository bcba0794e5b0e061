package defaults

import (
	"context"
	"fmt"
	"math"

	"github.com/2beens/trainmate/internal/history"
	"github.com/2beens/trainmate/internal/plan"
	"github.com/2beens/trainmate/internal/telemetry/tracing"

	"go.opentelemetry.io/otel/attribute"
)

//go:generate mockgen -source=$GOFILE -destination=mocks_test.go -package=defaults_test

type historySource interface {
	List(ctx context.Context, exerciseName string) ([]history.Entry, error)
	GetOverride(ctx context.Context, exerciseName string) (*history.Override, error)
}

// Values are the pre-fill values for the next set of an exercise. Weight
// and Repeats can be nil: "no default derivable, the user must type one
// in" - callers must never treat a nil weight as zero kilos.
type Values struct {
	Weight   *float64 `json:"weight,omitempty"`
	Repeats  *int     `json:"repeats,omitempty"`
	RestTime int      `json:"restTime"`
}

// Resolver computes the weight, target reps and rest duration to pre-fill
// when a set begins, from the trainee's explicit overrides, their history,
// and the exercise prescription. Pure read/compute, no side effects.
type Resolver struct {
	source historySource
}

func NewResolver(source historySource) *Resolver {
	return &Resolver{
		source: source,
	}
}

// Resolve applies the priority chain per field, first defined value wins:
//
//	weight:  override -> latest entry first set -> latest entry legacy field -> none
//	repeats: override -> latest entry first set -> latest entry legacy field -> spec midpoint
//	rest:    override -> spec midpoint rounded to the 5s grid
func (r *Resolver) Resolve(ctx context.Context, exerciseName string, spec plan.ExerciseSpec) (_ Values, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "resolver.resolve")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.String("exercise", exerciseName))

	override, err := r.source.GetOverride(ctx, exerciseName)
	if err != nil {
		return Values{}, fmt.Errorf("get override: %w", err)
	}

	entries, err := r.source.List(ctx, exerciseName)
	if err != nil {
		return Values{}, fmt.Errorf("list history: %w", err)
	}

	values := Values{
		Weight:   resolveWeight(override, entries),
		Repeats:  resolveRepeats(override, entries, spec),
		RestTime: resolveRest(override, spec),
	}
	return values, nil
}

func resolveWeight(override *history.Override, entries []history.Entry) *float64 {
	if override != nil && override.Weight != nil {
		return override.Weight
	}
	if len(entries) == 0 {
		return nil
	}

	latest := entries[0]
	if len(latest.SetsData) > 0 && latest.SetsData[0].Weight != nil {
		return latest.SetsData[0].Weight
	}
	// entries from old app versions carry only the top level weight
	return latest.Weight
}

func resolveRepeats(override *history.Override, entries []history.Entry, spec plan.ExerciseSpec) *int {
	if override != nil && override.Repeats != nil {
		return override.Repeats
	}

	// most recently used reps anywhere in history, newest entry first
	for _, entry := range entries {
		if len(entry.SetsData) > 0 && entry.SetsData[0].Repeats != nil {
			return entry.SetsData[0].Repeats
		}
		if entry.Repeats != nil {
			return entry.Repeats
		}
	}

	midpoint := int(math.Round(float64(spec.MinRepeats+spec.MaxRepeats) / 2))
	return &midpoint
}

func resolveRest(override *history.Override, spec plan.ExerciseSpec) int {
	if override != nil && override.RestTime != nil {
		return *override.RestTime
	}
	return RestMidpoint(spec.MinRest, spec.MaxRest)
}

// RestMidpoint returns the default rest duration for a (min, max) range in
// seconds: min itself when the range is collapsed, otherwise the midpoint
// snapped to the nearest 5 second increment. When the snapped value falls
// outside [min, max] (very narrow ranges), the exact rounded midpoint is
// used instead.
func RestMidpoint(minRest, maxRest int) int {
	if minRest == maxRest {
		return minRest
	}

	midpoint := float64(minRest+maxRest) / 2
	snapped := int(math.Round(midpoint/5)) * 5
	if snapped < minRest || snapped > maxRest {
		return int(math.Round(midpoint))
	}
	return snapped
}
