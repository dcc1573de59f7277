package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/moto-dispatch/internal/models"
)

// fakeRecorder implements OpsRecorder for tests
type fakeRecorder struct {
	failIncr  int // number of times to fail Incr before succeeding
	failH     int // number of times to fail HSet before succeeding
	incrCalls int
	hCalls    int
	lastKey   string
	lastHash  map[string]interface{}
}

func (f *fakeRecorder) Incr(ctx context.Context, key string) error {
	f.incrCalls++
	if f.incrCalls <= f.failIncr {
		return errors.New("incr fail")
	}
	f.lastKey = key
	return nil
}

func (f *fakeRecorder) HSet(ctx context.Context, key string, values map[string]interface{}) error {
	f.hCalls++
	if f.hCalls <= f.failH {
		return errors.New("hset fail")
	}
	f.lastHash = values
	return nil
}

func TestRecordEventWithRetry_SucceedsAfterRetries(t *testing.T) {
	f := &fakeRecorder{failIncr: 1, failH: 1}
	ev := models.RideEvent{Type: "accepted", RideID: 7, VehicleType: models.VehicleMotoTaxi,
		DriverID: "d1", At: time.Now()}
	ctx := context.Background()
	start := time.Now()
	if err := recordEventWithRetry(ctx, f, ev, 3, 10*time.Millisecond); err != nil {
		t.Fatalf("expected success, got err=%v", err)
	}
	if f.incrCalls < 2 || f.hCalls < 2 {
		t.Fatalf("expected retries, got incr=%d h=%d", f.incrCalls, f.hCalls)
	}
	if time.Since(start) < 10*time.Millisecond {
		t.Fatalf("expected at least one backoff")
	}
	if f.lastKey != "ride_events:accepted" {
		t.Fatalf("unexpected counter key %q", f.lastKey)
	}
	if f.lastHash["driver_id"] != "d1" {
		t.Fatalf("driver id missing from hash: %v", f.lastHash)
	}
}

func TestRecordEventWithRetry_FailsWhenExhausted(t *testing.T) {
	f := &fakeRecorder{failIncr: 5}
	ev := models.RideEvent{Type: "expired", RideID: 7, VehicleType: models.VehicleTaxi, At: time.Now()}
	ctx := context.Background()
	if err := recordEventWithRetry(ctx, f, ev, 3, 5*time.Millisecond); err == nil {
		t.Fatalf("expected error after retries")
	}
}
