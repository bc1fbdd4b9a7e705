package storage

import (
	"context"

	"github.com/google/uuid"

	"github.com/example/freight-matching/internal/models"
)

// Store defines persistence for routes, bids and delivery requests.
//
// Bid mutations are domain-atomic: implementations must serialize them per
// route so the one-pending-bid-per-customer and single-winner invariants hold
// under concurrent callers.
type Store interface {
	CreateRoute(ctx context.Context, r *models.Route) error
	GetRoute(ctx context.Context, id uuid.UUID) (*models.Route, error)
	ListRoutesByDriver(ctx context.Context, driverID uuid.UUID) ([]*models.Route, error)
	UpdateRoute(ctx context.Context, r *models.Route) error
	// DeleteRoute removes a route only while no bid on it is PENDING or
	// ACCEPTED; otherwise it fails with ErrConflict.
	DeleteRoute(ctx context.Context, id uuid.UUID) error

	// CreateBid inserts a PENDING bid, failing with ErrRouteNotFound,
	// ErrRouteNotBiddable or ErrDuplicatePendingBid as appropriate. The
	// duplicate check and insert are a single atomic step.
	CreateBid(ctx context.Context, b *models.Bid) error
	// CreateBidWithRequest persists the delivery request and the bid
	// together; if either half fails, neither is stored.
	CreateBidWithRequest(ctx context.Context, req *models.DeliveryRequest, b *models.Bid) error
	GetBid(ctx context.Context, id uuid.UUID) (*models.Bid, error)
	ListBidsByRoute(ctx context.Context, routeID uuid.UUID) ([]*models.Bid, error)

	// AcceptBid transitions the winning bid to ACCEPTED, every sibling
	// PENDING bid to REJECTED and the route to BOOKED in one atomic step.
	// Only the route's owning driver may accept. Returns the winner and the
	// displaced siblings.
	AcceptBid(ctx context.Context, bidID, actingDriverID uuid.UUID) (*models.Bid, []*models.Bid, error)
	RejectBid(ctx context.Context, bidID, actingDriverID uuid.UUID) (*models.Bid, error)
	WithdrawBid(ctx context.Context, bidID, actingCustomerID uuid.UUID) (*models.Bid, error)
	// ExpireBid is the primitive used by the external departure sweep; it is
	// restricted to PENDING bids.
	ExpireBid(ctx context.Context, bidID uuid.UUID) (*models.Bid, error)
}
