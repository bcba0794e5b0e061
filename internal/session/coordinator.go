package session

import (
	"context"
	"time"

	"github.com/2beens/trainmate/internal/history"
	"github.com/2beens/trainmate/internal/syncer"

	log "github.com/sirupsen/logrus"
)

const pushTimeout = 30 * time.Second

type historyAppender interface {
	Append(ctx context.Context, exerciseName, trainingType string, entry history.Entry) error
	UserID(ctx context.Context) (string, error)
}

type remotePusher interface {
	UpdateUserData(ctx context.Context, data syncer.CompletionData) error
}

// Coordinator drains completion events off the session manager and turns
// each into a durable history entry plus a best-effort remote push. It
// runs on its own goroutine so neither write can ever stall a session
// state transition.
type Coordinator struct {
	events  <-chan CompletionEvent
	history historyAppender
	remote  remotePusher
}

func NewCoordinator(
	events <-chan CompletionEvent,
	historyStore historyAppender,
	remote remotePusher,
) *Coordinator {
	return &Coordinator{
		events:  events,
		history: historyStore,
		remote:  remote,
	}
}

// Run blocks until ctx is done, handling events as they arrive. Meant to
// be started as `go coordinator.Run(ctx)`.
func (c *Coordinator) Run(ctx context.Context) {
	log.Debugln("session coordinator started")
	for {
		select {
		case <-ctx.Done():
			log.Debugln("session coordinator stopping")
			return
		case event, ok := <-c.events:
			if !ok {
				return
			}
			c.handle(ctx, event)
		}
	}
}

func (c *Coordinator) handle(ctx context.Context, event CompletionEvent) {
	ctx, cancel := context.WithTimeout(ctx, pushTimeout)
	defer cancel()

	entry := history.Entry{
		Date:          event.Date,
		Weight:        event.Weight,
		Repeats:       event.Repeats,
		RestTime:      event.RestTime,
		CompletedSets: event.CompletedSets,
		TotalSets:     event.TotalSets,
		SetsData:      event.SetsData,
	}
	if err := c.history.Append(ctx, event.ExerciseName, event.TrainingType, entry); err != nil {
		log.Errorf("append history for [%s]: %s", event.ExerciseName, err)
	}

	userID, err := c.history.UserID(ctx)
	if err != nil {
		log.Errorf("get user id for push: %s", err)
	}

	data := syncer.CompletionData{
		UserID:       userID,
		TrainingType: event.TrainingType,
		ExerciseName: event.ExerciseName,
		Date:         event.Date,
		Weight:       event.Weight,
		Repeats:      event.Repeats,
		RestTime:     event.RestTime,
		SetsData:     event.SetsData,
		Completed:    true,
	}
	if err := c.remote.UpdateUserData(ctx, data); err != nil {
		// history write above already succeeded, and the payload is
		// backed up locally before every push attempt
		log.Errorf("push completed exercise [%s]: %s", event.ExerciseName, err)
	}
}
