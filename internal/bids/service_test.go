package bids

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/example/freight-matching/internal/models"
	"github.com/example/freight-matching/internal/storage"
)

type capturingPublisher struct {
	events []models.BidEvent
	err    error
}

func (p *capturingPublisher) PublishBidEvent(_ context.Context, ev models.BidEvent) error {
	p.events = append(p.events, ev)
	return p.err
}

func (p *capturingPublisher) ofType(t string) []models.BidEvent {
	var out []models.BidEvent
	for _, ev := range p.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func newTestService(t *testing.T) (*Service, *storage.MemoryStore, *capturingPublisher) {
	t.Helper()
	store := storage.NewMemoryStore()
	pub := &capturingPublisher{}
	svc := &Service{
		Store:  store,
		Events: pub,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	return svc, store, pub
}

func openRoute(t *testing.T, store *storage.MemoryStore) *models.Route {
	t.Helper()
	r := &models.Route{
		ID:          uuid.New(),
		DriverID:    uuid.New(),
		Origin:      models.Coord{Lat: 40.71, Lng: -74.01},
		Destination: models.Coord{Lat: 42.36, Lng: -71.06},
		DepartureAt: time.Now().Add(48 * time.Hour),
		Status:      models.RouteOpen,
		CreatedAt:   time.Now(),
	}
	if err := store.CreateRoute(context.Background(), r); err != nil {
		t.Fatalf("create route: %v", err)
	}
	return r
}

func TestPlaceBidValidation(t *testing.T) {
	svc, store, _ := newTestService(t)
	route := openRoute(t, store)
	ctx := context.Background()

	cases := []struct {
		name  string
		req   PlaceBidRequest
		field string
	}{
		{"missing customer", PlaceBidRequest{OfferedPrice: 100}, "customer_id"},
		{"zero price", PlaceBidRequest{CustomerID: uuid.New()}, "offered_price"},
		{"negative price", PlaceBidRequest{CustomerID: uuid.New(), OfferedPrice: -5}, "offered_price"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.PlaceBid(ctx, route.ID, tc.req)
			var verr *models.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if verr.Field != tc.field {
				t.Fatalf("expected field %q, got %q", tc.field, verr.Field)
			}
		})
	}
}

func TestPlaceBidEmitsEvent(t *testing.T) {
	svc, store, pub := newTestService(t)
	route := openRoute(t, store)

	bid, err := svc.PlaceBid(context.Background(), route.ID, PlaceBidRequest{CustomerID: uuid.New(), OfferedPrice: 100})
	if err != nil {
		t.Fatalf("place bid: %v", err)
	}
	if bid.Status != models.BidPending {
		t.Fatalf("status %s", bid.Status)
	}
	placed := pub.ofType(models.BidEventPlaced)
	if len(placed) != 1 {
		t.Fatalf("expected 1 placed event, got %d", len(placed))
	}
	if placed[0].BidID != bid.ID || placed[0].RouteID != route.ID {
		t.Fatal("event does not reference the bid")
	}
}

func TestPlaceBidOutsideBandStillAccepted(t *testing.T) {
	svc, store, _ := newTestService(t)
	route := openRoute(t, store)
	lo, hi := 90.0, 110.0
	route.SuggestedPriceMin, route.SuggestedPriceMax = &lo, &hi
	if err := store.UpdateRoute(context.Background(), route); err != nil {
		t.Fatalf("update route: %v", err)
	}

	bid, err := svc.PlaceBid(context.Background(), route.ID, PlaceBidRequest{CustomerID: uuid.New(), OfferedPrice: 500})
	if err != nil {
		t.Fatalf("an outlier offer must still be accepted: %v", err)
	}
	if bid.OfferedPrice != 500 {
		t.Fatalf("price %f", bid.OfferedPrice)
	}
}

func TestPlaceBidSurvivesPublisherFailure(t *testing.T) {
	svc, store, pub := newTestService(t)
	pub.err = errors.New("broker unreachable")
	route := openRoute(t, store)

	if _, err := svc.PlaceBid(context.Background(), route.ID, PlaceBidRequest{CustomerID: uuid.New(), OfferedPrice: 100}); err != nil {
		t.Fatalf("publish failures must not fail the bid: %v", err)
	}
}

func TestPlaceBidWithRequestValidation(t *testing.T) {
	svc, store, _ := newTestService(t)
	route := openRoute(t, store)
	bidReq := PlaceBidRequest{CustomerID: uuid.New(), OfferedPrice: 100}

	_, _, err := svc.PlaceBidWithRequest(context.Background(), route.ID, RequestSpec{DropoffAddr: "b"}, bidReq)
	var verr *models.ValidationError
	if !errors.As(err, &verr) || verr.Field != "pickup_address" {
		t.Fatalf("expected pickup_address validation error, got %v", err)
	}
	_, _, err = svc.PlaceBidWithRequest(context.Background(), route.ID, RequestSpec{PickupAddr: "a"}, bidReq)
	if !errors.As(err, &verr) || verr.Field != "dropoff_address" {
		t.Fatalf("expected dropoff_address validation error, got %v", err)
	}
}

func TestPlaceBidWithRequestLinksBid(t *testing.T) {
	svc, store, pub := newTestService(t)
	route := openRoute(t, store)

	spec := RequestSpec{Description: "fragile crates", WeightKg: 80, PickupAddr: "pier 3", DropoffAddr: "depot 9"}
	bid, request, err := svc.PlaceBidWithRequest(context.Background(), route.ID, spec, PlaceBidRequest{CustomerID: uuid.New(), OfferedPrice: 140})
	if err != nil {
		t.Fatalf("place bid with request: %v", err)
	}
	if bid.RequestID == nil || *bid.RequestID != request.ID {
		t.Fatal("bid not linked to request")
	}
	if _, ok := store.GetRequest(request.ID); !ok {
		t.Fatal("request not persisted")
	}
	if len(pub.ofType(models.BidEventPlaced)) != 1 {
		t.Fatal("expected a placed event")
	}
}

func TestAcceptNotifiesDisplacedCustomers(t *testing.T) {
	svc, store, pub := newTestService(t)
	route := openRoute(t, store)
	ctx := context.Background()

	winner, err := svc.PlaceBid(ctx, route.ID, PlaceBidRequest{CustomerID: uuid.New(), OfferedPrice: 150})
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	loserA, err := svc.PlaceBid(ctx, route.ID, PlaceBidRequest{CustomerID: uuid.New(), OfferedPrice: 120})
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	loserB, err := svc.PlaceBid(ctx, route.ID, PlaceBidRequest{CustomerID: uuid.New(), OfferedPrice: 130})
	if err != nil {
		t.Fatalf("place: %v", err)
	}

	accepted, err := svc.Accept(ctx, winner.ID, route.DriverID)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if accepted.Status != models.BidAccepted {
		t.Fatalf("status %s", accepted.Status)
	}

	acceptedEvents := pub.ofType(models.BidEventAccepted)
	if len(acceptedEvents) != 1 || acceptedEvents[0].CustomerID != winner.CustomerID {
		t.Fatalf("expected one accepted event for the winner, got %+v", acceptedEvents)
	}
	rejectedEvents := pub.ofType(models.BidEventRejected)
	if len(rejectedEvents) != 2 {
		t.Fatalf("expected 2 rejected events, got %d", len(rejectedEvents))
	}
	notified := map[uuid.UUID]bool{}
	for _, ev := range rejectedEvents {
		notified[ev.CustomerID] = true
	}
	if !notified[loserA.CustomerID] || !notified[loserB.CustomerID] {
		t.Fatal("displaced customers were not all notified")
	}
}

func TestAcceptErrorsSkipEvents(t *testing.T) {
	svc, store, pub := newTestService(t)
	route := openRoute(t, store)
	bid, err := svc.PlaceBid(context.Background(), route.ID, PlaceBidRequest{CustomerID: uuid.New(), OfferedPrice: 100})
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	before := len(pub.events)

	if _, err := svc.Accept(context.Background(), bid.ID, uuid.New()); !errors.Is(err, models.ErrAccessDenied) {
		t.Fatalf("expected ErrAccessDenied, got %v", err)
	}
	if len(pub.events) != before {
		t.Fatal("failed accept must not emit events")
	}
}

func TestWithdrawAndExpireEmit(t *testing.T) {
	svc, store, pub := newTestService(t)
	route := openRoute(t, store)
	ctx := context.Background()

	bid, err := svc.PlaceBid(ctx, route.ID, PlaceBidRequest{CustomerID: uuid.New(), OfferedPrice: 100})
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if _, err := svc.Withdraw(ctx, bid.ID, bid.CustomerID); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if len(pub.ofType(models.BidEventWithdrawn)) != 1 {
		t.Fatal("expected a withdrawn event")
	}

	other, err := svc.PlaceBid(ctx, route.ID, PlaceBidRequest{CustomerID: uuid.New(), OfferedPrice: 110})
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if _, err := svc.Expire(ctx, other.ID); err != nil {
		t.Fatalf("expire: %v", err)
	}
	if len(pub.ofType(models.BidEventExpired)) != 1 {
		t.Fatal("expected an expired event")
	}
}
