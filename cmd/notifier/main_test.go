package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/example/freight-matching/internal/models"
)

type fakePusher struct {
	failures int
	calls    int
	last     *models.BidEvent
}

func (f *fakePusher) Push(_ context.Context, ev *models.BidEvent) error {
	f.calls++
	f.last = ev
	if f.calls <= f.failures {
		return errors.New("push unavailable")
	}
	return nil
}

func testEvent() *models.BidEvent {
	return &models.BidEvent{
		ID:         uuid.New(),
		Type:       models.BidEventRejected,
		BidID:      uuid.New(),
		RouteID:    uuid.New(),
		CustomerID: uuid.New(),
		At:         time.Now().UTC(),
	}
}

func TestPushWithRetrySucceedsFirstTry(t *testing.T) {
	p := &fakePusher{}
	ev := testEvent()
	if err := pushWithRetry(context.Background(), p, ev, 3, time.Millisecond); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.calls != 1 {
		t.Fatalf("expected 1 call, got %d", p.calls)
	}
	if p.last != ev {
		t.Fatal("pusher did not receive the event")
	}
}

func TestPushWithRetryRecoversAfterFailures(t *testing.T) {
	p := &fakePusher{failures: 2}
	if err := pushWithRetry(context.Background(), p, testEvent(), 3, time.Millisecond); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.calls != 3 {
		t.Fatalf("expected 3 calls, got %d", p.calls)
	}
}

func TestPushWithRetryGivesUp(t *testing.T) {
	p := &fakePusher{failures: 10}
	if err := pushWithRetry(context.Background(), p, testEvent(), 3, time.Millisecond); err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if p.calls != 3 {
		t.Fatalf("expected 3 calls, got %d", p.calls)
	}
}
