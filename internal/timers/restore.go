package timers

import (
	"context"

	"github.com/example/moto-dispatch/internal/models"
	"github.com/example/moto-dispatch/internal/observability"
	"github.com/example/moto-dispatch/internal/storage"
)

// RideResumer re-arms (or catches up) ride-scoped timers from persisted
// timestamps after a restart.
type RideResumer interface {
	ResumePendingRide(ctx context.Context, ride models.Ride) error
	ResumeRatingPrompt(ctx context.Context, ride models.Ride) error
}

// ConversationResumer re-arms (or catches up) inactivity timers for
// persisted sessions after a restart.
type ConversationResumer interface {
	ResumeConversation(ctx context.Context, cs models.ConversationState) error
}

// Restore rebuilds every outstanding timer from the store: pending rides,
// completed rides missing a rating prompt, and active conversation rows.
// A row that fails to resume is logged and skipped, never fatal; overdue
// actions fire exactly once inside the resume calls.
func (s *Scheduler) Restore(ctx context.Context, store storage.Store, rides RideResumer, convs ConversationResumer) error {
	pending, err := store.ListPendingRides(ctx)
	if err != nil {
		return err
	}
	for _, r := range pending {
		if err := rides.ResumePendingRide(ctx, r); err != nil {
			s.logger.Error("restore pending ride failed", "ride_id", r.ID, "error", err)
			continue
		}
		observability.TimersRestored.WithLabelValues("ride_wait").Inc()
	}

	awaiting, err := store.ListRidesAwaitingRatingPrompt(ctx)
	if err != nil {
		return err
	}
	for _, r := range awaiting {
		if err := rides.ResumeRatingPrompt(ctx, r); err != nil {
			s.logger.Error("restore rating prompt failed", "ride_id", r.ID, "error", err)
			continue
		}
		observability.TimersRestored.WithLabelValues("rating_prompt").Inc()
	}

	sessions, err := store.ListActiveConversations(ctx)
	if err != nil {
		return err
	}
	for _, cs := range sessions {
		if err := convs.ResumeConversation(ctx, cs); err != nil {
			s.logger.Error("restore conversation failed", "user_jid", cs.UserJID, "error", err)
			continue
		}
		observability.TimersRestored.WithLabelValues("conversation").Inc()
	}

	wait, keepalive, rating, conv := s.PendingCounts()
	s.logger.Info("timer restore complete",
		"wait", wait, "keepalive", keepalive, "rating", rating, "conversation", conv)
	return nil
}
