package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/2beens/trainmate/internal/plan"
	"github.com/2beens/trainmate/internal/telemetry/metrics"
	"github.com/2beens/trainmate/internal/telemetry/tracing"

	"github.com/coocood/freecache"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

const fetchCooldownCacheKey = "plans_fetch_cooldown"

type remoteAPI interface {
	FetchPlans(ctx context.Context) ([]plan.TrainingPlan, error)
	PushExercise(ctx context.Context, data CompletionData) error
}

type localStore interface {
	CachedPlans(ctx context.Context) ([]plan.TrainingPlan, error)
	SaveCachedPlans(ctx context.Context, plans []plan.TrainingPlan) error
	LastFetchAt(ctx context.Context) (time.Time, error)
	SetLastFetchAt(ctx context.Context, t time.Time) error
	AppendUploadBackup(ctx context.Context, payload []byte) error
}

// FetchResult reports the outcome of a plan sync. Success is false when
// the remote could not be reached and the plans come from the local
// cache (last known good), which is still fully usable offline.
type FetchResult struct {
	Success bool                `json:"success"`
	Plans   []plan.TrainingPlan `json:"plans"`
}

// Adapter sits between the session layer and the coaching backend. It
// rate limits plan fetches with a cooldown window, filters fetched plans
// against the currently installed version, falls back to the local cache
// when offline, and backs up every upload locally before pushing it.
type Adapter struct {
	mu       sync.Mutex
	client   remoteAPI
	store    localStore
	cache    *freecache.Cache
	cooldown time.Duration
	metrics  *metrics.Manager
	now      func() time.Time
}

func NewAdapter(
	client remoteAPI,
	store localStore,
	cooldown time.Duration,
	metricsManager *metrics.Manager,
) *Adapter {
	return &Adapter{
		client:   client,
		store:    store,
		cache:    freecache.NewCache(1024 * 1024),
		cooldown: cooldown,
		metrics:  metricsManager,
		now:      time.Now,
	}
}

// FetchNewTrainings returns the plans strictly newer than currentVersion,
// oldest first. Within the cooldown window the remote is not contacted
// and the cached plans are used, but the version filter is applied in
// both cases: the cooldown only decides the data source, never whether
// filtering happens.
func (a *Adapter) FetchNewTrainings(ctx context.Context, currentVersion string) (_ FetchResult, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "syncer.fetchNewTrainings")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.String("current_version", currentVersion))

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.inCooldown(ctx) {
		cached, err := a.store.CachedPlans(ctx)
		if err != nil {
			return FetchResult{}, fmt.Errorf("cached plans: %w", err)
		}
		log.Debugf("plan fetch in cooldown, serving %d cached plans", len(cached))
		return FetchResult{
			Success: true,
			Plans:   newerThan(cached, currentVersion),
		}, nil
	}

	fetched, err := a.client.FetchPlans(ctx)
	if err != nil {
		log.Errorf("remote plan fetch failed, falling back to cache: %s", err)
		a.metrics.CounterPlanFetchFallbacks.Inc()

		cached, cacheErr := a.store.CachedPlans(ctx)
		if cacheErr != nil {
			return FetchResult{}, fmt.Errorf("cached plans after failed fetch: %w", cacheErr)
		}
		return FetchResult{
			Success: false,
			Plans:   newerThan(cached, currentVersion),
		}, nil
	}

	if err := a.store.SaveCachedPlans(ctx, fetched); err != nil {
		log.Errorf("save fetched plans to cache: %s", err)
	}
	if err := a.store.SetLastFetchAt(ctx, a.now()); err != nil {
		log.Errorf("persist last fetch time: %s", err)
	}
	a.armCooldown()

	return FetchResult{
		Success: true,
		Plans:   newerThan(fetched, currentVersion),
	}, nil
}

// CurrentPlan returns the newest locally cached plan, or nil when the
// cache is empty (nothing ever fetched).
func (a *Adapter) CurrentPlan(ctx context.Context) (*plan.TrainingPlan, error) {
	cached, err := a.store.CachedPlans(ctx)
	if err != nil {
		return nil, fmt.Errorf("cached plans: %w", err)
	}
	if len(cached) == 0 {
		return nil, nil
	}

	plan.SortPlans(cached)
	newest := cached[len(cached)-1]
	return &newest, nil
}

// UpdateUserData sends one completed exercise to the backend. The payload
// is written to the local backup table first in all cases, so a crash or
// network failure between backup and push can lose nothing.
func (a *Adapter) UpdateUserData(ctx context.Context, data CompletionData) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "syncer.updateUserData")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.String("exercise", data.ExerciseName))

	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal completion data: %w", err)
	}
	if err := a.store.AppendUploadBackup(ctx, payload); err != nil {
		log.Errorf("append upload backup: %s", err)
	}

	if err := a.client.PushExercise(ctx, data); err != nil {
		a.metrics.CounterSyncPushFailures.Inc()
		return fmt.Errorf("push exercise: %w", err)
	}
	return nil
}

// inCooldown checks the in-memory TTL gate first and falls back to the
// persisted last-fetch timestamp, which survives restarts.
func (a *Adapter) inCooldown(ctx context.Context) bool {
	if _, err := a.cache.Get([]byte(fetchCooldownCacheKey)); err == nil {
		return true
	}

	lastFetch, err := a.store.LastFetchAt(ctx)
	if err != nil {
		log.Errorf("get last fetch time: %s", err)
		return false
	}
	if lastFetch.IsZero() {
		return false
	}
	return a.now().Sub(lastFetch) < a.cooldown
}

func (a *Adapter) armCooldown() {
	ttl := int(a.cooldown.Seconds())
	if ttl <= 0 {
		return
	}
	if err := a.cache.Set([]byte(fetchCooldownCacheKey), []byte("1"), ttl); err != nil {
		log.Errorf("arm fetch cooldown: %s", err)
	}
}

// newerThan filters plans to those strictly newer than currentVersion and
// returns them sorted oldest first, so a client applying them in order
// ends up on the newest one.
func newerThan(plans []plan.TrainingPlan, currentVersion string) []plan.TrainingPlan {
	newer := make([]plan.TrainingPlan, 0, len(plans))
	for _, p := range plans {
		if plan.CompareVersions(p.Version, currentVersion) > 0 {
			newer = append(newer, p)
		}
	}
	plan.SortPlans(newer)
	return newer
}
