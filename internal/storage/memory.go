package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/freight-matching/internal/models"
)

// MemoryStore is the in-process Store used for local runs and tests. A single
// mutex serializes every mutation, which trivially satisfies the per-route
// atomicity contract.
type MemoryStore struct {
	mu       sync.Mutex
	routes   map[uuid.UUID]*models.Route
	bids     map[uuid.UUID]*models.Bid
	requests map[uuid.UUID]*models.DeliveryRequest
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		routes:   make(map[uuid.UUID]*models.Route),
		bids:     make(map[uuid.UUID]*models.Bid),
		requests: make(map[uuid.UUID]*models.DeliveryRequest),
	}
}

func (m *MemoryStore) CreateRoute(ctx context.Context, r *models.Route) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.routes[r.ID] = &cp
	return nil
}

func (m *MemoryStore) GetRoute(ctx context.Context, id uuid.UUID) (*models.Route, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.routes[id]
	if !ok {
		return nil, models.ErrRouteNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) ListRoutesByDriver(ctx context.Context, driverID uuid.UUID) ([]*models.Route, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Route
	for _, r := range m.routes {
		if r.DriverID == driverID {
			cp := *r
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) UpdateRoute(ctx context.Context, r *models.Route) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.routes[r.ID]; !ok {
		return models.ErrRouteNotFound
	}
	cp := *r
	m.routes[r.ID] = &cp
	return nil
}

func (m *MemoryStore) DeleteRoute(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.routes[id]; !ok {
		return models.ErrRouteNotFound
	}
	for _, b := range m.bids {
		if b.RouteID == id && (b.Status == models.BidPending || b.Status == models.BidAccepted) {
			return models.ErrConflict
		}
	}
	delete(m.routes, id)
	return nil
}

func (m *MemoryStore) CreateBid(ctx context.Context, b *models.Bid) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createBidLocked(b)
}

func (m *MemoryStore) createBidLocked(b *models.Bid) error {
	route, ok := m.routes[b.RouteID]
	if !ok {
		return models.ErrRouteNotFound
	}
	if !route.Status.Biddable() {
		return models.ErrRouteNotBiddable
	}
	for _, existing := range m.bids {
		if existing.RouteID == b.RouteID && existing.CustomerID == b.CustomerID && existing.Status == models.BidPending {
			return models.ErrDuplicatePendingBid
		}
	}
	cp := *b
	m.bids[b.ID] = &cp
	return nil
}

func (m *MemoryStore) CreateBidWithRequest(ctx context.Context, req *models.DeliveryRequest, b *models.Bid) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.createBidLocked(b); err != nil {
		return err
	}
	cp := *req
	m.requests[req.ID] = &cp
	return nil
}

func (m *MemoryStore) GetBid(ctx context.Context, id uuid.UUID) (*models.Bid, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bids[id]
	if !ok {
		return nil, models.ErrBidNotFound
	}
	cp := *b
	return &cp, nil
}

func (m *MemoryStore) ListBidsByRoute(ctx context.Context, routeID uuid.UUID) ([]*models.Bid, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Bid
	for _, b := range m.bids {
		if b.RouteID == routeID {
			cp := *b
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) AcceptBid(ctx context.Context, bidID, actingDriverID uuid.UUID) (*models.Bid, []*models.Bid, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	bid, ok := m.bids[bidID]
	if !ok {
		return nil, nil, models.ErrBidNotFound
	}
	route, ok := m.routes[bid.RouteID]
	if !ok {
		return nil, nil, models.ErrRouteNotFound
	}
	if route.DriverID != actingDriverID {
		return nil, nil, models.ErrAccessDenied
	}
	if bid.Status != models.BidPending {
		return nil, nil, models.NewBidTransitionError(bid.Status, models.BidAccepted)
	}
	if !route.Status.CanTransitionTo(models.RouteBooked) {
		return nil, nil, models.NewRouteTransitionError(route.Status, models.RouteBooked)
	}

	now := time.Now()
	bid.Status = models.BidAccepted
	bid.UpdatedAt = now

	var rejected []*models.Bid
	for _, sibling := range m.bids {
		if sibling.RouteID == bid.RouteID && sibling.ID != bid.ID && sibling.Status == models.BidPending {
			sibling.Status = models.BidRejected
			sibling.UpdatedAt = now
			cp := *sibling
			rejected = append(rejected, &cp)
		}
	}

	route.Status = models.RouteBooked
	route.UpdatedAt = now

	winner := *bid
	return &winner, rejected, nil
}

func (m *MemoryStore) RejectBid(ctx context.Context, bidID, actingDriverID uuid.UUID) (*models.Bid, error) {
	return m.transition(bidID, models.BidRejected, func(b *models.Bid, r *models.Route) error {
		if r.DriverID != actingDriverID {
			return models.ErrAccessDenied
		}
		return nil
	})
}

func (m *MemoryStore) WithdrawBid(ctx context.Context, bidID, actingCustomerID uuid.UUID) (*models.Bid, error) {
	return m.transition(bidID, models.BidWithdrawn, func(b *models.Bid, r *models.Route) error {
		if b.CustomerID != actingCustomerID {
			return models.ErrAccessDenied
		}
		return nil
	})
}

func (m *MemoryStore) ExpireBid(ctx context.Context, bidID uuid.UUID) (*models.Bid, error) {
	return m.transition(bidID, models.BidExpired, func(*models.Bid, *models.Route) error { return nil })
}

func (m *MemoryStore) transition(bidID uuid.UUID, to models.BidStatus, authorize func(*models.Bid, *models.Route) error) (*models.Bid, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	bid, ok := m.bids[bidID]
	if !ok {
		return nil, models.ErrBidNotFound
	}
	route, ok := m.routes[bid.RouteID]
	if !ok {
		return nil, models.ErrRouteNotFound
	}
	if err := authorize(bid, route); err != nil {
		return nil, err
	}
	if bid.Status != models.BidPending {
		return nil, models.NewBidTransitionError(bid.Status, to)
	}
	bid.Status = to
	bid.UpdatedAt = time.Now()
	cp := *bid
	return &cp, nil
}

// GetRequest exposes stored delivery requests for tests and detail handlers.
func (m *MemoryStore) GetRequest(id uuid.UUID) (*models.DeliveryRequest, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, false
	}
	cp := *r
	return &cp, true
}
