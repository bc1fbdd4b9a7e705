package bids

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/example/freight-matching/internal/models"
	"github.com/example/freight-matching/internal/observability"
	"github.com/example/freight-matching/internal/storage"
)

// Publisher emits bid events to the notification topic. Emission is
// fire-and-forget: it happens after the transaction commits and its failure
// is logged, never propagated.
type Publisher interface {
	PublishBidEvent(ctx context.Context, ev models.BidEvent) error
}

// Notifier pushes a bid event to a connected customer session, when one
// exists.
type Notifier interface {
	Notify(customerID uuid.UUID, ev models.BidEvent) error
}

// PlaceBidRequest is the inbound payload for a bid submission.
type PlaceBidRequest struct {
	CustomerID   uuid.UUID `json:"customer_id"`
	OfferedPrice float64   `json:"offered_price"`
	Instructions string    `json:"instructions,omitempty"`
}

// RequestSpec describes the delivery request created alongside a bid.
type RequestSpec struct {
	Description string  `json:"description"`
	WeightKg    float64 `json:"weight_kg"`
	VolumeM3    float64 `json:"volume_m3"`
	PickupAddr  string  `json:"pickup_address"`
	DropoffAddr string  `json:"dropoff_address"`
}

// Service manages the bid state machine against route capacity.
type Service struct {
	Store    storage.Store
	Events   Publisher // optional
	Sessions Notifier  // optional
	Logger   *slog.Logger
}

// PlaceBid creates a PENDING bid on an OPEN route, enforcing
// one-active-bid-per-customer-per-route at the store.
func (s *Service) PlaceBid(ctx context.Context, routeID uuid.UUID, req PlaceBidRequest) (*models.Bid, error) {
	if err := validateBid(req); err != nil {
		return nil, err
	}
	route, err := s.Store.GetRoute(ctx, routeID)
	if err != nil {
		return nil, err
	}
	s.warnOutsideBand(route, req.OfferedPrice)

	bid := newBid(routeID, req)
	if err := s.Store.CreateBid(ctx, bid); err != nil {
		return nil, err
	}
	observability.BidsPlaced.Inc()
	s.emit(ctx, models.BidEventPlaced, bid)
	return bid, nil
}

// PlaceBidWithRequest creates the delivery request and the bid atomically;
// if either half fails, neither is persisted.
func (s *Service) PlaceBidWithRequest(ctx context.Context, routeID uuid.UUID, reqSpec RequestSpec, bidReq PlaceBidRequest) (*models.Bid, *models.DeliveryRequest, error) {
	if err := validateBid(bidReq); err != nil {
		return nil, nil, err
	}
	if reqSpec.PickupAddr == "" {
		return nil, nil, &models.ValidationError{Field: "pickup_address", Reason: "required"}
	}
	if reqSpec.DropoffAddr == "" {
		return nil, nil, &models.ValidationError{Field: "dropoff_address", Reason: "required"}
	}
	route, err := s.Store.GetRoute(ctx, routeID)
	if err != nil {
		return nil, nil, err
	}
	s.warnOutsideBand(route, bidReq.OfferedPrice)

	request := &models.DeliveryRequest{
		ID:          uuid.New(),
		CustomerID:  bidReq.CustomerID,
		Description: reqSpec.Description,
		WeightKg:    reqSpec.WeightKg,
		VolumeM3:    reqSpec.VolumeM3,
		PickupAddr:  reqSpec.PickupAddr,
		DropoffAddr: reqSpec.DropoffAddr,
		CreatedAt:   time.Now(),
	}
	bid := newBid(routeID, bidReq)
	bid.RequestID = &request.ID

	if err := s.Store.CreateBidWithRequest(ctx, request, bid); err != nil {
		return nil, nil, err
	}
	observability.BidsPlaced.Inc()
	s.emit(ctx, models.BidEventPlaced, bid)
	return bid, request, nil
}

// Accept transitions the winning bid to ACCEPTED, rejects every sibling
// PENDING bid and books the route, all in one atomic store operation. The
// displaced customers are notified fire-and-forget afterwards.
func (s *Service) Accept(ctx context.Context, bidID, actingDriverID uuid.UUID) (*models.Bid, error) {
	winner, rejected, err := s.Store.AcceptBid(ctx, bidID, actingDriverID)
	if err != nil {
		return nil, err
	}
	observability.BidsAccepted.Inc()
	s.emit(ctx, models.BidEventAccepted, winner)
	for _, sibling := range rejected {
		s.emit(ctx, models.BidEventRejected, sibling)
	}
	return winner, nil
}

func (s *Service) Reject(ctx context.Context, bidID, actingDriverID uuid.UUID) (*models.Bid, error) {
	bid, err := s.Store.RejectBid(ctx, bidID, actingDriverID)
	if err != nil {
		return nil, err
	}
	s.emit(ctx, models.BidEventRejected, bid)
	return bid, nil
}

func (s *Service) Withdraw(ctx context.Context, bidID, actingCustomerID uuid.UUID) (*models.Bid, error) {
	bid, err := s.Store.WithdrawBid(ctx, bidID, actingCustomerID)
	if err != nil {
		return nil, err
	}
	s.emit(ctx, models.BidEventWithdrawn, bid)
	return bid, nil
}

// Expire is the transition primitive used by the external departure sweep.
func (s *Service) Expire(ctx context.Context, bidID uuid.UUID) (*models.Bid, error) {
	bid, err := s.Store.ExpireBid(ctx, bidID)
	if err != nil {
		return nil, err
	}
	s.emit(ctx, models.BidEventExpired, bid)
	return bid, nil
}

func (s *Service) Get(ctx context.Context, bidID uuid.UUID) (*models.Bid, error) {
	return s.Store.GetBid(ctx, bidID)
}

func newBid(routeID uuid.UUID, req PlaceBidRequest) *models.Bid {
	now := time.Now()
	return &models.Bid{
		ID:           uuid.New(),
		RouteID:      routeID,
		CustomerID:   req.CustomerID,
		OfferedPrice: req.OfferedPrice,
		Instructions: req.Instructions,
		Status:       models.BidPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func validateBid(req PlaceBidRequest) error {
	if req.CustomerID == uuid.Nil {
		return &models.ValidationError{Field: "customer_id", Reason: "required"}
	}
	if req.OfferedPrice <= 0 {
		return &models.ValidationError{Field: "offered_price", Reason: "must be > 0"}
	}
	return nil
}

// Offers outside the suggested band are allowed; they are only worth a log
// line so drivers can spot outliers.
func (s *Service) warnOutsideBand(route *models.Route, price float64) {
	if route.SuggestedPriceMin == nil || route.SuggestedPriceMax == nil {
		return
	}
	if price < *route.SuggestedPriceMin || price > *route.SuggestedPriceMax {
		s.Logger.Info("bid outside suggested band",
			"route_id", route.ID, "offered", price,
			"band_min", *route.SuggestedPriceMin, "band_max", *route.SuggestedPriceMax)
	}
}

func (s *Service) emit(ctx context.Context, eventType string, bid *models.Bid) {
	ev := models.BidEvent{
		ID:           uuid.New(),
		Type:         eventType,
		BidID:        bid.ID,
		RouteID:      bid.RouteID,
		CustomerID:   bid.CustomerID,
		OfferedPrice: bid.OfferedPrice,
		At:           time.Now(),
	}
	if s.Events != nil {
		if err := s.Events.PublishBidEvent(ctx, ev); err != nil {
			s.Logger.Warn("bid event publish failed", "type", eventType, "bid_id", bid.ID, "error", err)
		}
	}
	if s.Sessions != nil {
		if err := s.Sessions.Notify(bid.CustomerID, ev); err != nil {
			s.Logger.Debug("no live session for bid event", "customer_id", bid.CustomerID, "type", eventType)
		}
	}
}
