package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/2beens/trainmate/internal/plan"
	"github.com/2beens/trainmate/internal/telemetry/tracing"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	_ "modernc.org/sqlite"
)

const (
	kvKeyCachedPlans = "cached_plans"
	kvKeyLastFetch   = "last_fetch_at"
	kvKeyUserID      = "user_id"
)

// Store is the durable on-device store: exercise history, default
// overrides, resume counters, upload backups and a small key-value area
// for the sync adapter. Backed by a single SQLite file, so every write is
// atomic per statement even if the process dies mid-write.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the store database at dir/trainmate.db.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data dir %s: %w", dir, err)
	}

	dbPath := filepath.Join(dir, "trainmate.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening store db: %w", err)
	}

	for _, stmt := range []string{
		`CREATE TABLE IF NOT EXISTS exercise_history (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			exercise_name TEXT NOT NULL,
			training_type TEXT NOT NULL,
			entry         TEXT NOT NULL,
			created_at    TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_history_exercise ON exercise_history (exercise_name, created_at)`,
		`CREATE TABLE IF NOT EXISTS defaults_override (
			exercise_name TEXT PRIMARY KEY,
			weight        REAL,
			rest_time     INTEGER,
			repeats       INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS progress (
			training_type TEXT NOT NULL,
			exercise_name TEXT NOT NULL,
			current_set   INTEGER NOT NULL,
			updated_at    TIMESTAMP NOT NULL,
			PRIMARY KEY (training_type, exercise_name)
		)`,
		`CREATE TABLE IF NOT EXISTS upload_backup (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			payload    TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS kv (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("creating store schema: %w", err)
		}
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Append adds one completed-exercise entry to the per-exercise history list.
func (s *Store) Append(ctx context.Context, exerciseName, trainingType string, entry Entry) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "store.history.append")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.String("exercise", exerciseName))
	span.SetAttributes(attribute.String("training_type", trainingType))

	entryJson, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal history entry: %w", err)
	}

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO exercise_history (exercise_name, training_type, entry, created_at) VALUES (?, ?, ?, ?)`,
		exerciseName, trainingType, string(entryJson), entry.Date,
	)
	if err != nil {
		return fmt.Errorf("insert history entry: %w", err)
	}
	return nil
}

// List returns all history entries for an exercise, newest first.
func (s *Store) List(ctx context.Context, exerciseName string) (_ []Entry, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "store.history.list")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.String("exercise", exerciseName))

	rows, err := s.db.QueryContext(
		ctx,
		`SELECT entry FROM exercise_history WHERE exercise_name = ? ORDER BY created_at DESC, id DESC`,
		exerciseName,
	)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0)
	for rows.Next() {
		var entryJson string
		if err := rows.Scan(&entryJson); err != nil {
			return nil, fmt.Errorf("scan history entry: %w", err)
		}
		var entry Entry
		if err := json.Unmarshal([]byte(entryJson), &entry); err != nil {
			// a corrupt row must not take the whole history down with it
			log.Errorf("skipping corrupt history entry for %s: %s", exerciseName, err)
			continue
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history rows: %w", err)
	}
	return entries, nil
}

// HasAnyHistory reports whether any exercise of the given training type
// has ever been completed.
func (s *Store) HasAnyHistory(ctx context.Context, trainingType string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(
		ctx,
		`SELECT COUNT(*) FROM exercise_history WHERE training_type = ?`,
		trainingType,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("count history: %w", err)
	}
	return count > 0, nil
}

// ClearAll wipes all history entries. Overrides, progress and the kv area
// are left alone.
func (s *Store) ClearAll(ctx context.Context) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "store.history.clearall")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM exercise_history`); err != nil {
		return fmt.Errorf("clear history: %w", err)
	}
	return nil
}

// SetOverride replaces the defaults override row for an exercise.
func (s *Store) SetOverride(ctx context.Context, exerciseName string, o Override) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "store.override.set")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.String("exercise", exerciseName))

	_, err = s.db.ExecContext(
		ctx,
		`INSERT OR REPLACE INTO defaults_override (exercise_name, weight, rest_time, repeats) VALUES (?, ?, ?, ?)`,
		exerciseName, o.Weight, o.RestTime, o.Repeats,
	)
	if err != nil {
		return fmt.Errorf("set override: %w", err)
	}
	return nil
}

// GetOverride returns the override for an exercise, or nil when none is set.
func (s *Store) GetOverride(ctx context.Context, exerciseName string) (*Override, error) {
	var o Override
	err := s.db.QueryRowContext(
		ctx,
		`SELECT weight, rest_time, repeats FROM defaults_override WHERE exercise_name = ?`,
		exerciseName,
	).Scan(&o.Weight, &o.RestTime, &o.Repeats)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get override: %w", err)
	}
	return &o, nil
}

func (s *Store) HasAnyOverride(ctx context.Context) (bool, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM defaults_override`).Scan(&count); err != nil {
		return false, fmt.Errorf("count overrides: %w", err)
	}
	return count > 0, nil
}

// IsFirstTime reports whether the trainee has never touched this training
// type: no history for any of its exercises and no overrides at all. The
// coarse any-override check is deliberate, it matches the first-time setup
// flow of the apps.
func (s *Store) IsFirstTime(ctx context.Context, trainingType string) (bool, error) {
	hasHistory, err := s.HasAnyHistory(ctx, trainingType)
	if err != nil {
		return false, err
	}
	if hasHistory {
		return false, nil
	}
	hasOverride, err := s.HasAnyOverride(ctx)
	if err != nil {
		return false, err
	}
	return !hasOverride, nil
}

// SetProgress upserts the resume counter for one exercise.
func (s *Store) SetProgress(ctx context.Context, trainingType, exerciseName string, currentSet int) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT OR REPLACE INTO progress (training_type, exercise_name, current_set, updated_at) VALUES (?, ?, ?, ?)`,
		trainingType, exerciseName, currentSet, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("set progress: %w", err)
	}
	return nil
}

// GetProgress returns the persisted current set counter, 0 when absent.
func (s *Store) GetProgress(ctx context.Context, trainingType, exerciseName string) (int, error) {
	var currentSet int
	err := s.db.QueryRowContext(
		ctx,
		`SELECT current_set FROM progress WHERE training_type = ? AND exercise_name = ?`,
		trainingType, exerciseName,
	).Scan(&currentSet)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get progress: %w", err)
	}
	return currentSet, nil
}

// ClearProgress drops all resume counters of a training type.
func (s *Store) ClearProgress(ctx context.Context, trainingType string) error {
	if _, err := s.db.ExecContext(
		ctx,
		`DELETE FROM progress WHERE training_type = ?`,
		trainingType,
	); err != nil {
		return fmt.Errorf("clear progress: %w", err)
	}
	return nil
}

// AppendUploadBackup stores a completed-exercise payload locally, as the
// durable fallback for remote pushes.
func (s *Store) AppendUploadBackup(ctx context.Context, payload []byte) error {
	if _, err := s.db.ExecContext(
		ctx,
		`INSERT INTO upload_backup (payload, created_at) VALUES (?, ?)`,
		string(payload), time.Now().UTC(),
	); err != nil {
		return fmt.Errorf("append upload backup: %w", err)
	}
	return nil
}

// CachedPlans returns the locally cached training plans. Absent or
// unparsable cache behaves as no cache at all (first-run semantics).
func (s *Store) CachedPlans(ctx context.Context) ([]plan.TrainingPlan, error) {
	value, err := s.kvGet(ctx, kvKeyCachedPlans)
	if err != nil {
		return nil, err
	}
	if value == "" {
		return nil, nil
	}

	var plans []plan.TrainingPlan
	if err := json.Unmarshal([]byte(value), &plans); err != nil {
		log.Errorf("cached plans unparsable, treating as absent: %s", err)
		return nil, nil
	}
	return plans, nil
}

func (s *Store) SaveCachedPlans(ctx context.Context, plans []plan.TrainingPlan) error {
	plansJson, err := json.Marshal(plans)
	if err != nil {
		return fmt.Errorf("marshal cached plans: %w", err)
	}
	return s.kvSet(ctx, kvKeyCachedPlans, string(plansJson))
}

// LastFetchAt returns the time of the last remote plan fetch, zero when
// no fetch happened yet.
func (s *Store) LastFetchAt(ctx context.Context) (time.Time, error) {
	value, err := s.kvGet(ctx, kvKeyLastFetch)
	if err != nil {
		return time.Time{}, err
	}
	if value == "" {
		return time.Time{}, nil
	}

	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		log.Errorf("last fetch timestamp unparsable, treating as absent: %s", err)
		return time.Time{}, nil
	}
	return t, nil
}

func (s *Store) SetLastFetchAt(ctx context.Context, t time.Time) error {
	return s.kvSet(ctx, kvKeyLastFetch, t.UTC().Format(time.RFC3339))
}

// UserID returns the stable per-device identifier, generating and
// persisting one on first use.
func (s *Store) UserID(ctx context.Context) (string, error) {
	userID, err := s.kvGet(ctx, kvKeyUserID)
	if err != nil {
		return "", err
	}
	if userID != "" {
		return userID, nil
	}

	userID = uuid.NewString()
	if err := s.kvSet(ctx, kvKeyUserID, userID); err != nil {
		return "", fmt.Errorf("persist user id: %w", err)
	}
	log.Infof("generated new user id: %s", userID)
	return userID, nil
}

func (s *Store) kvGet(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("kv get %s: %w", key, err)
	}
	return value, nil
}

func (s *Store) kvSet(ctx context.Context, key, value string) error {
	if _, err := s.db.ExecContext(
		ctx,
		`INSERT OR REPLACE INTO kv (key, value) VALUES (?, ?)`,
		key, value,
	); err != nil {
		return fmt.Errorf("kv set %s: %w", key, err)
	}
	return nil
}
