package routes

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/example/freight-matching/internal/geometry"
	"github.com/example/freight-matching/internal/models"
	"github.com/example/freight-matching/internal/observability"
	"github.com/example/freight-matching/internal/pricing"
	"github.com/example/freight-matching/internal/profile"
	"github.com/example/freight-matching/internal/storage"
)

// CreateRouteRequest is the inbound payload for publishing a return route.
type CreateRouteRequest struct {
	DriverID          uuid.UUID     `json:"driver_id"`
	Origin            *models.Coord `json:"origin"`
	Destination       *models.Coord `json:"destination"`
	Polyline          string        `json:"polyline,omitempty"`
	DepartureAt       *time.Time    `json:"departure_at"`
	DetourToleranceKm float64       `json:"detour_tolerance_km"`
}

// Service owns route lifecycle: creation, detail assembly, update, deletion.
type Service struct {
	Store           storage.Store
	Segmenter       *geometry.Segmenter
	SegmentCache    *geometry.SegmentCache // optional
	Pricing         *pricing.Suggestor     // optional, best-effort at create
	Profiles        profile.Reader         // optional
	Logger          *slog.Logger
	TargetSegmentKm float64
	RecentBidLimit  int
	ProfileTimeout  time.Duration
}

func (s *Service) target() float64 {
	if s.TargetSegmentKm > 0 {
		return s.TargetSegmentKm
	}
	return 25
}

func (s *Service) recentLimit() int {
	if s.RecentBidLimit > 0 {
		return s.RecentBidLimit
	}
	return 10
}

// Create validates the payload, persists the route as OPEN and fills the
// suggested price band best-effort.
func (s *Service) Create(ctx context.Context, req CreateRouteRequest) (*models.Route, error) {
	if err := validateCreate(req); err != nil {
		return nil, err
	}

	now := time.Now()
	route := &models.Route{
		ID:                uuid.New(),
		DriverID:          req.DriverID,
		Origin:            *req.Origin,
		Destination:       *req.Destination,
		Polyline:          req.Polyline,
		DepartureAt:       *req.DepartureAt,
		DetourToleranceKm: req.DetourToleranceKm,
		Status:            models.RouteOpen,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.Store.CreateRoute(ctx, route); err != nil {
		return nil, err
	}
	observability.RoutesCreated.Inc()

	if s.Pricing != nil {
		if pred, err := s.Pricing.Suggest(ctx, route.ID); err == nil {
			route.SuggestedPriceMin = &pred.MinPrice
			route.SuggestedPriceMax = &pred.MaxPrice
			route.UpdatedAt = time.Now()
			if err := s.Store.UpdateRoute(ctx, route); err != nil {
				s.Logger.Warn("could not persist suggested price band", "route_id", route.ID, "error", err)
			}
		} else {
			s.Logger.Warn("price suggestion skipped at creation", "route_id", route.ID, "error", err)
		}
	}
	return route, nil
}

func validateCreate(req CreateRouteRequest) error {
	if req.DriverID == uuid.Nil {
		return &models.ValidationError{Field: "driver_id", Reason: "required"}
	}
	if req.Origin == nil {
		return &models.ValidationError{Field: "origin", Reason: "required"}
	}
	if req.Destination == nil {
		return &models.ValidationError{Field: "destination", Reason: "required"}
	}
	if err := validateCoord("origin", *req.Origin); err != nil {
		return err
	}
	if err := validateCoord("destination", *req.Destination); err != nil {
		return err
	}
	if req.DepartureAt == nil {
		return &models.ValidationError{Field: "departure_at", Reason: "required"}
	}
	if req.DepartureAt.Before(time.Now()) {
		return &models.ValidationError{Field: "departure_at", Reason: "must be in the future"}
	}
	if req.DetourToleranceKm < 0 {
		return &models.ValidationError{Field: "detour_tolerance_km", Reason: "must be >= 0"}
	}
	return nil
}

func validateCoord(field string, c models.Coord) error {
	if c.Lat < -90 || c.Lat > 90 {
		return &models.ValidationError{Field: field + ".lat", Reason: "must be within [-90, 90]"}
	}
	if c.Lng < -180 || c.Lng > 180 {
		return &models.ValidationError{Field: field + ".lng", Reason: "must be within [-180, 180]"}
	}
	return nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Route, error) {
	return s.Store.GetRoute(ctx, id)
}

func (s *Service) ListByDriver(ctx context.Context, driverID uuid.UUID) ([]*models.Route, error) {
	return s.Store.ListRoutesByDriver(ctx, driverID)
}

// Details assembles the full read view: route attributes, driver/vehicle
// metadata (best-effort), bid statistics, recent bids and segment geometry.
func (s *Service) Details(ctx context.Context, id uuid.UUID) (*models.RouteDetails, error) {
	route, err := s.Store.GetRoute(ctx, id)
	if err != nil {
		return nil, err
	}

	details := &models.RouteDetails{Route: *route}

	bids, err := s.Store.ListBidsByRoute(ctx, id)
	if err != nil {
		return nil, err
	}
	details.BidStats = bidStats(bids)
	if len(bids) > s.recentLimit() {
		bids = bids[:s.recentLimit()]
	}
	for _, b := range bids {
		details.RecentBids = append(details.RecentBids, *b)
	}

	if route.Polyline != "" {
		segs, err := s.Segments(ctx, route)
		if err != nil {
			s.Logger.Warn("segmentation failed for details view", "route_id", id, "error", err)
		} else {
			details.Segments = segs
			for _, seg := range segs {
				details.TotalDistanceKm += seg.DistanceKm
			}
		}
	}
	// No polyline, or one that would not segment: report the endpoint
	// great-circle distance rather than zero.
	if details.TotalDistanceKm == 0 {
		details.TotalDistanceKm = geometry.Haversine(
			route.Origin.Lat, route.Origin.Lng, route.Destination.Lat, route.Destination.Lng)
	}

	s.attachDriverMetadata(ctx, details)
	return details, nil
}

func (s *Service) attachDriverMetadata(ctx context.Context, details *models.RouteDetails) {
	if s.Profiles == nil {
		return
	}
	timeout := s.ProfileTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	metaCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	driverID := details.Route.DriverID
	if p, err := s.Profiles.Profile(metaCtx, driverID); err == nil {
		details.Driver = p
	} else {
		s.Logger.Debug("driver profile unavailable", "driver_id", driverID, "error", err)
	}
	if v, err := s.Profiles.Vehicle(metaCtx, driverID); err == nil {
		details.Vehicle = v
	} else {
		s.Logger.Debug("vehicle metadata unavailable", "driver_id", driverID, "error", err)
	}
}

// bidStats aggregates over non-terminal-excluded bids: PENDING and ACCEPTED
// count toward the statistics, everything terminal-and-lost does not.
func bidStats(bids []*models.Bid) models.BidStats {
	var stats models.BidStats
	var sum float64
	for _, b := range bids {
		if b.Status != models.BidPending && b.Status != models.BidAccepted {
			continue
		}
		stats.Count++
		sum += b.OfferedPrice
		if b.OfferedPrice > stats.Highest {
			stats.Highest = b.OfferedPrice
		}
	}
	if stats.Count > 0 {
		stats.Average = sum / float64(stats.Count)
	}
	return stats
}

// Segments returns the route's segment list, via the cache when configured.
func (s *Service) Segments(ctx context.Context, route *models.Route) ([]models.RouteSegment, error) {
	target := s.target()
	if s.SegmentCache != nil {
		if segs, ok := s.SegmentCache.Get(ctx, route.ID.String(), target); ok {
			return segs, nil
		}
	}
	segs, err := s.Segmenter.Segment(ctx, route.Polyline, target)
	if err != nil {
		return nil, err
	}
	observability.SegmentationsTotal.Inc()
	if s.SegmentCache != nil {
		s.SegmentCache.Set(ctx, route.ID.String(), target, segs)
	}
	return segs, nil
}

// SegmentPolyline segments an arbitrary polyline, bypassing the cache. It
// backs the stand-alone segmentation endpoint.
func (s *Service) SegmentPolyline(ctx context.Context, polyline string, targetKm float64) ([]models.RouteSegment, error) {
	segs, err := s.Segmenter.Segment(ctx, polyline, targetKm)
	if err != nil {
		return nil, err
	}
	observability.SegmentationsTotal.Inc()
	return segs, nil
}

// Update applies a partial patch when the acting driver owns the route.
func (s *Service) Update(ctx context.Context, routeID, driverID uuid.UUID, patch models.RoutePatch) (*models.Route, error) {
	route, err := s.Store.GetRoute(ctx, routeID)
	if err != nil {
		return nil, err
	}
	if route.DriverID != driverID {
		return nil, models.ErrAccessDenied
	}
	if err := applyPatch(route, patch); err != nil {
		return nil, err
	}
	route.UpdatedAt = time.Now()
	if err := s.Store.UpdateRoute(ctx, route); err != nil {
		return nil, err
	}
	if patch.Polyline != nil && s.SegmentCache != nil {
		s.SegmentCache.Invalidate(ctx, routeID.String())
	}
	return route, nil
}

func applyPatch(route *models.Route, patch models.RoutePatch) error {
	if patch.Origin != nil {
		if err := validateCoord("origin", *patch.Origin); err != nil {
			return err
		}
		route.Origin = *patch.Origin
	}
	if patch.Destination != nil {
		if err := validateCoord("destination", *patch.Destination); err != nil {
			return err
		}
		route.Destination = *patch.Destination
	}
	if patch.Polyline != nil {
		route.Polyline = *patch.Polyline
	}
	if patch.DepartureAt != nil {
		route.DepartureAt = *patch.DepartureAt
	}
	if patch.DetourToleranceKm != nil {
		if *patch.DetourToleranceKm < 0 {
			return &models.ValidationError{Field: "detour_tolerance_km", Reason: "must be >= 0"}
		}
		route.DetourToleranceKm = *patch.DetourToleranceKm
	}
	if patch.SuggestedPriceMin != nil {
		route.SuggestedPriceMin = patch.SuggestedPriceMin
	}
	if patch.SuggestedPriceMax != nil {
		route.SuggestedPriceMax = patch.SuggestedPriceMax
	}
	if route.SuggestedPriceMin != nil && route.SuggestedPriceMax != nil &&
		*route.SuggestedPriceMin > *route.SuggestedPriceMax {
		return &models.ValidationError{Field: "suggested_price_min", Reason: "must be <= suggested_price_max"}
	}
	if patch.Status != nil {
		if !route.Status.CanTransitionTo(*patch.Status) {
			return models.NewRouteTransitionError(route.Status, *patch.Status)
		}
		route.Status = *patch.Status
	}
	return nil
}

// Delete removes a route while no bid on it is PENDING or ACCEPTED.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	return s.Store.DeleteRoute(ctx, id)
}
