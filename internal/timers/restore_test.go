package timers

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/example/moto-dispatch/internal/models"
	"github.com/example/moto-dispatch/internal/storage"
)

type fakeRideResumer struct {
	pending []int64
	rating  []int64
}

func (f *fakeRideResumer) ResumePendingRide(ctx context.Context, r models.Ride) error {
	f.pending = append(f.pending, r.ID)
	return nil
}

func (f *fakeRideResumer) ResumeRatingPrompt(ctx context.Context, r models.Ride) error {
	f.rating = append(f.rating, r.ID)
	return nil
}

type fakeConvResumer struct {
	sessions []string
}

func (f *fakeConvResumer) ResumeConversation(ctx context.Context, cs models.ConversationState) error {
	f.sessions = append(f.sessions, cs.UserJID)
	return nil
}

func TestRestoreWalksEveryOutstandingRow(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	_ = store.CreateUser(ctx, &models.User{ID: "u1"})

	pending := &models.Ride{Status: models.RidePending, VehicleType: models.VehicleTaxi,
		Language: models.LangPortuguese, UserID: "u1", WaitTimeMinutes: 10, CreatedAt: now}
	if err := store.CreateRide(ctx, pending); err != nil {
		t.Fatal(err)
	}

	accepted := &models.Ride{Status: models.RidePending, VehicleType: models.VehicleTaxi,
		Language: models.LangPortuguese, UserID: "u1", WaitTimeMinutes: 10, CreatedAt: now}
	if err := store.CreateRide(ctx, accepted); err != nil {
		t.Fatal(err)
	}
	if _, err := store.AcceptRide(ctx, accepted.ID, "d1", now); err != nil {
		t.Fatal(err)
	}

	terminal := &models.Ride{Status: models.RideCancelled, VehicleType: models.VehicleTaxi,
		Language: models.LangPortuguese, UserID: "u1", CreatedAt: now}
	if err := store.CreateRide(ctx, terminal); err != nil {
		t.Fatal(err)
	}

	if err := store.UpsertConversation(ctx, &models.ConversationState{
		UserJID: "a@s.whatsapp.net", State: models.StateAwaitingName,
		LastActivityAt: now, IsActive: true,
	}); err != nil {
		t.Fatal(err)
	}
	if err := store.UpsertConversation(ctx, &models.ConversationState{
		UserJID: "b@s.whatsapp.net", State: models.StateAwaitingName,
		LastActivityAt: now, IsActive: false,
	}); err != nil {
		t.Fatal(err)
	}

	s := NewScheduler(NewFakeClock(now), slog.Default())
	rides := &fakeRideResumer{}
	convs := &fakeConvResumer{}
	if err := s.Restore(ctx, store, rides, convs); err != nil {
		t.Fatal(err)
	}

	if len(rides.pending) != 1 || rides.pending[0] != pending.ID {
		t.Fatalf("pending resumed %v, want [%d]", rides.pending, pending.ID)
	}
	if len(rides.rating) != 1 || rides.rating[0] != accepted.ID {
		t.Fatalf("rating resumed %v, want [%d]", rides.rating, accepted.ID)
	}
	if len(convs.sessions) != 1 || convs.sessions[0] != "a@s.whatsapp.net" {
		t.Fatalf("sessions resumed %v", convs.sessions)
	}
}
