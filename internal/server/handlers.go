package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/2beens/trainmate/internal/history"
	"github.com/2beens/trainmate/internal/plan"
	"github.com/2beens/trainmate/internal/session"
	"github.com/2beens/trainmate/internal/syncer"
	"github.com/2beens/trainmate/pkg"

	"github.com/gorilla/mux"
	log "github.com/sirupsen/logrus"
)

type sessionService interface {
	SelectTraining(ctx context.Context, trainingType string) (session.TrainingState, error)
	StartSet(exerciseName string) (session.TrainingState, error)
	SubmitSet(ctx context.Context, exerciseName string, result session.SetResult) (session.TrainingState, error)
	SkipRest(exerciseName string) (session.TrainingState, error)
	Adjust(exerciseName string, adj session.Adjustment) (session.TrainingState, error)
	NextExercise() (session.TrainingState, error)
	Reset(ctx context.Context) error
	State() session.TrainingState
}

type planSyncer interface {
	FetchNewTrainings(ctx context.Context, currentVersion string) (syncer.FetchResult, error)
	CurrentPlan(ctx context.Context) (*plan.TrainingPlan, error)
}

type localStore interface {
	List(ctx context.Context, exerciseName string) ([]history.Entry, error)
	ClearAll(ctx context.Context) error
	GetOverride(ctx context.Context, exerciseName string) (*history.Override, error)
	SetOverride(ctx context.Context, exerciseName string, o history.Override) error
	IsFirstTime(ctx context.Context, trainingType string) (bool, error)
}

type Handler struct {
	sessionManager sessionService
	plans          planSyncer
	store          localStore
	versionInfo    string
	now            func() time.Time
}

func NewHandler(
	sessionManager sessionService,
	plans planSyncer,
	store localStore,
	versionInfo string,
) *Handler {
	return &Handler{
		sessionManager: sessionManager,
		plans:          plans,
		store:          store,
		versionInfo:    versionInfo,
		now:            time.Now,
	}
}

func (h *Handler) SetupRoutes(r *mux.Router) {
	r.HandleFunc("/api/version", h.HandleVersion).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/trainings", h.HandleTrainings).Methods("GET", "OPTIONS").Name("list-trainings")

	r.HandleFunc("/api/session/next", h.HandleNextExercise).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/session/reset", h.HandleReset).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/session/set/start", h.HandleStartSet).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/session/set", h.HandleSubmitSet).Methods("POST", "OPTIONS").Name("submit-set")
	r.HandleFunc("/api/session/rest/skip", h.HandleSkipRest).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/session/exercise/adjust", h.HandleAdjust).Methods("POST", "OPTIONS")
	r.HandleFunc("/api/session/{trainingType}", h.HandleSelectTraining).Methods("POST", "OPTIONS").Name("select-training")
	r.HandleFunc("/api/session", h.HandleSessionState).Methods("GET", "OPTIONS").Name("session-state")

	r.HandleFunc("/api/exercise/{name}/defaults", h.HandleGetDefaults).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/exercise/{name}/defaults", h.HandleSetDefaults).Methods("PUT", "OPTIONS")
	r.HandleFunc("/api/exercise/{name}/history", h.HandleExerciseHistory).Methods("GET", "OPTIONS")
	r.HandleFunc("/api/history", h.HandleClearHistory).Methods("DELETE", "OPTIONS")

	r.HandleFunc("/api/sync/plans", h.HandleSyncPlans).Methods("POST", "OPTIONS").Name("sync-plans")
}

// exerciseStateView extends the raw exercise state with the remaining
// rest seconds, derived from the clock at response time.
type exerciseStateView struct {
	session.ExerciseState
	TimeLeft int `json:"timeLeft"`
}

type sessionStateResponse struct {
	session.TrainingState
	ExerciseStates map[string]exerciseStateView `json:"exerciseStates,omitempty"`
}

func (h *Handler) stateResponse(state session.TrainingState) sessionStateResponse {
	now := h.now()
	views := make(map[string]exerciseStateView, len(state.ExerciseStates))
	for name, exState := range state.ExerciseStates {
		views[name] = exerciseStateView{
			ExerciseState: *exState,
			TimeLeft:      exState.TimeLeft(now),
		}
	}
	state.ExerciseStates = nil
	return sessionStateResponse{
		TrainingState:  state,
		ExerciseStates: views,
	}
}

func (h *Handler) writeState(w http.ResponseWriter, state session.TrainingState) {
	stateJson, err := json.Marshal(h.stateResponse(state))
	if err != nil {
		log.Errorf("marshal session state: %s", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	pkg.WriteResponseBytesOK(w, pkg.ContentType.JSON, stateJson)
}

func writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrExerciseNotFound),
		errors.Is(err, plan.ErrTrainingNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, session.ErrExerciseCompleted):
		http.Error(w, "exercise already completed", http.StatusConflict)
	case errors.Is(err, session.ErrNoTrainingSelected),
		errors.Is(err, session.ErrInvalidSetResult):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, session.ErrNoPlanAvailable):
		http.Error(w, "no training plan available", http.StatusConflict)
	default:
		log.Errorf("session handler: %s", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

func (h *Handler) HandleVersion(w http.ResponseWriter, r *http.Request) {
	pkg.WriteTextResponseOK(w, h.versionInfo)
}

type trainingInfo struct {
	Name      string `json:"name"`
	FirstTime bool   `json:"firstTime"`
}

type trainingsResponse struct {
	PlanVersion string         `json:"trainingPlanVersion"`
	PlanName    string         `json:"planName"`
	Trainings   []trainingInfo `json:"trainings"`
}

func (h *Handler) HandleTrainings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	currentPlan, err := h.plans.CurrentPlan(ctx)
	if err != nil {
		log.Errorf("get trainings, current plan: %s", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	if currentPlan == nil {
		http.Error(w, "no training plan available", http.StatusNotFound)
		return
	}

	resp := trainingsResponse{
		PlanVersion: currentPlan.Version,
		PlanName:    currentPlan.Name,
	}
	for _, name := range currentPlan.TrainingNames() {
		firstTime, err := h.store.IsFirstTime(ctx, name)
		if err != nil {
			log.Errorf("get trainings, first time check for %s: %s", name, err)
			http.Error(w, "internal server error", http.StatusInternalServerError)
			return
		}
		resp.Trainings = append(resp.Trainings, trainingInfo{
			Name:      name,
			FirstTime: firstTime,
		})
	}

	respJson, err := json.Marshal(resp)
	if err != nil {
		log.Errorf("marshal trainings response: %s", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	pkg.WriteResponseBytesOK(w, pkg.ContentType.JSON, respJson)
}

func (h *Handler) HandleSelectTraining(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	trainingType := vars["trainingType"]
	if trainingType == "" {
		http.Error(w, "error, training type empty", http.StatusBadRequest)
		return
	}

	state, err := h.sessionManager.SelectTraining(r.Context(), trainingType)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	h.writeState(w, state)
}

func (h *Handler) HandleSessionState(w http.ResponseWriter, r *http.Request) {
	h.writeState(w, h.sessionManager.State())
}

type setRequest struct {
	ExerciseName string   `json:"exerciseName"`
	Weight       *float64 `json:"weight,omitempty"`
	Repeats      *int     `json:"repeats,omitempty"`
}

func (h *Handler) HandleStartSet(w http.ResponseWriter, r *http.Request) {
	var req setRequest
	if !decodeJSONRequest(w, r, &req) {
		return
	}

	state, err := h.sessionManager.StartSet(req.ExerciseName)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	h.writeState(w, state)
}

func (h *Handler) HandleSubmitSet(w http.ResponseWriter, r *http.Request) {
	var req setRequest
	if !decodeJSONRequest(w, r, &req) {
		return
	}

	state, err := h.sessionManager.SubmitSet(r.Context(), req.ExerciseName, session.SetResult{
		Weight:  req.Weight,
		Repeats: req.Repeats,
	})
	if err != nil {
		writeSessionError(w, err)
		return
	}
	h.writeState(w, state)
}

func (h *Handler) HandleSkipRest(w http.ResponseWriter, r *http.Request) {
	var req setRequest
	if !decodeJSONRequest(w, r, &req) {
		return
	}

	state, err := h.sessionManager.SkipRest(req.ExerciseName)
	if err != nil {
		writeSessionError(w, err)
		return
	}
	h.writeState(w, state)
}

type adjustRequest struct {
	ExerciseName string   `json:"exerciseName"`
	Weight       *float64 `json:"weight,omitempty"`
	Repeats      *int     `json:"repeats,omitempty"`
	RestTime     *int     `json:"restTime,omitempty"`
}

func (h *Handler) HandleAdjust(w http.ResponseWriter, r *http.Request) {
	var req adjustRequest
	if !decodeJSONRequest(w, r, &req) {
		return
	}

	state, err := h.sessionManager.Adjust(req.ExerciseName, session.Adjustment{
		Weight:   req.Weight,
		Repeats:  req.Repeats,
		RestTime: req.RestTime,
	})
	if err != nil {
		writeSessionError(w, err)
		return
	}
	h.writeState(w, state)
}

func (h *Handler) HandleNextExercise(w http.ResponseWriter, r *http.Request) {
	state, err := h.sessionManager.NextExercise()
	if err != nil {
		writeSessionError(w, err)
		return
	}
	h.writeState(w, state)
}

func (h *Handler) HandleReset(w http.ResponseWriter, r *http.Request) {
	if err := h.sessionManager.Reset(r.Context()); err != nil {
		writeSessionError(w, err)
		return
	}
	pkg.WriteJSONResponseOK(w, `{"reset":true}`)
}

func (h *Handler) HandleGetDefaults(w http.ResponseWriter, r *http.Request) {
	exerciseName := mux.Vars(r)["name"]

	override, err := h.store.GetOverride(r.Context(), exerciseName)
	if err != nil {
		log.Errorf("get defaults for %s: %s", exerciseName, err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	if override == nil {
		override = &history.Override{}
	}

	overrideJson, err := json.Marshal(override)
	if err != nil {
		log.Errorf("marshal override: %s", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	pkg.WriteResponseBytesOK(w, pkg.ContentType.JSON, overrideJson)
}

func (h *Handler) HandleSetDefaults(w http.ResponseWriter, r *http.Request) {
	exerciseName := mux.Vars(r)["name"]

	var override history.Override
	if !decodeJSONRequest(w, r, &override) {
		return
	}

	if err := h.store.SetOverride(r.Context(), exerciseName, override); err != nil {
		log.Errorf("set defaults for %s: %s", exerciseName, err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	pkg.WriteJSONResponseOK(w, `{"saved":true}`)
}

func (h *Handler) HandleExerciseHistory(w http.ResponseWriter, r *http.Request) {
	exerciseName := mux.Vars(r)["name"]

	entries, err := h.store.List(r.Context(), exerciseName)
	if err != nil {
		log.Errorf("list history for %s: %s", exerciseName, err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	entriesJson, err := json.Marshal(entries)
	if err != nil {
		log.Errorf("marshal history entries: %s", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	pkg.WriteResponseBytesOK(w, pkg.ContentType.JSON, entriesJson)
}

func (h *Handler) HandleClearHistory(w http.ResponseWriter, r *http.Request) {
	if err := h.store.ClearAll(r.Context()); err != nil {
		log.Errorf("clear history: %s", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	pkg.WriteJSONResponseOK(w, `{"cleared":true}`)
}

func (h *Handler) HandleSyncPlans(w http.ResponseWriter, r *http.Request) {
	currentVersion := r.URL.Query().Get("currentVersion")

	result, err := h.plans.FetchNewTrainings(r.Context(), currentVersion)
	if err != nil {
		log.Errorf("sync plans: %s", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	resultJson, err := json.Marshal(result)
	if err != nil {
		log.Errorf("marshal sync result: %s", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	pkg.WriteResponseBytesOK(w, pkg.ContentType.JSON, resultJson)
}

func decodeJSONRequest(w http.ResponseWriter, r *http.Request, dest any) bool {
	contentType := r.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "application/json") {
		http.Error(w, "invalid content type", http.StatusBadRequest)
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		log.Warnf("decode request body: %s", err)
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}
