package models

import (
	"time"

	"github.com/google/uuid"
)

type Coord struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// RouteStatus values move forward only; CANCELLED is reachable from any
// non-terminal status.
type RouteStatus string

const (
	RouteInitiated RouteStatus = "INITIATED"
	RouteOpen      RouteStatus = "OPEN"
	RouteBooked    RouteStatus = "BOOKED"
	RouteCompleted RouteStatus = "COMPLETED"
	RouteCancelled RouteStatus = "CANCELLED"
	RouteExpired   RouteStatus = "EXPIRED"
)

func (s RouteStatus) Terminal() bool {
	return s == RouteCompleted || s == RouteCancelled || s == RouteExpired
}

// Biddable reports whether new bids may target a route in this status.
func (s RouteStatus) Biddable() bool { return s == RouteOpen }

var routeOrder = map[RouteStatus]int{
	RouteInitiated: 0,
	RouteOpen:      1,
	RouteBooked:    2,
	RouteCompleted: 3,
	RouteExpired:   3,
}

// CanTransitionTo enforces forward-only status movement, with CANCELLED
// allowed from any non-terminal status.
func (s RouteStatus) CanTransitionTo(next RouteStatus) bool {
	if s.Terminal() {
		return false
	}
	if next == RouteCancelled {
		return true
	}
	from, ok := routeOrder[s]
	if !ok {
		return false
	}
	to, ok := routeOrder[next]
	if !ok {
		return false
	}
	return to > from
}

type BidStatus string

const (
	BidPending   BidStatus = "PENDING"
	BidAccepted  BidStatus = "ACCEPTED"
	BidRejected  BidStatus = "REJECTED"
	BidExpired   BidStatus = "EXPIRED"
	BidWithdrawn BidStatus = "WITHDRAWN"
)

// Terminal reports whether a bid status admits no further transitions.
// PENDING is the only non-terminal status.
func (s BidStatus) Terminal() bool { return s != BidPending }

type Route struct {
	ID                uuid.UUID   `json:"id"`
	DriverID          uuid.UUID   `json:"driver_id"`
	Origin            Coord       `json:"origin"`
	Destination       Coord       `json:"destination"`
	Polyline          string      `json:"polyline,omitempty"`
	DepartureAt       time.Time   `json:"departure_at"`
	DetourToleranceKm float64     `json:"detour_tolerance_km"`
	SuggestedPriceMin *float64    `json:"suggested_price_min,omitempty"`
	SuggestedPriceMax *float64    `json:"suggested_price_max,omitempty"`
	Status            RouteStatus `json:"status"`
	CreatedAt         time.Time   `json:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at"`
}

// RouteSegment is derived state: recomputed from the route polyline on
// demand and identified only by (route, index).
type RouteSegment struct {
	Index      int     `json:"index"`
	Start      Coord   `json:"start"`
	End        Coord   `json:"end"`
	DistanceKm float64 `json:"distance_km"`
	PlaceName  string  `json:"place_name,omitempty"`
}

type Bid struct {
	ID           uuid.UUID  `json:"id"`
	RouteID      uuid.UUID  `json:"route_id"`
	CustomerID   uuid.UUID  `json:"customer_id"`
	RequestID    *uuid.UUID `json:"request_id,omitempty"`
	OfferedPrice float64    `json:"offered_price"`
	Instructions string     `json:"instructions,omitempty"`
	Status       BidStatus  `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

type DeliveryRequest struct {
	ID          uuid.UUID `json:"id"`
	CustomerID  uuid.UUID `json:"customer_id"`
	Description string    `json:"description"`
	WeightKg    float64   `json:"weight_kg"`
	VolumeM3    float64   `json:"volume_m3"`
	PickupAddr  string    `json:"pickup_address"`
	DropoffAddr string    `json:"dropoff_address"`
	CreatedAt   time.Time `json:"created_at"`
}

// Confidence markers for PricePrediction.
const (
	ConfidenceHistory   = "history"
	ConfidenceNoHistory = "no-history"
)

// PricePrediction is a read-only derived view, recomputed per query.
type PricePrediction struct {
	RouteID    uuid.UUID `json:"route_id"`
	MinPrice   float64   `json:"min_price"`
	MaxPrice   float64   `json:"max_price"`
	Confidence string    `json:"confidence"`
	SampleSize int       `json:"sample_size"`
	DistanceKm float64   `json:"distance_km"`
	ComputedAt time.Time `json:"computed_at"`
}

type DriverProfile struct {
	Name        string  `json:"name"`
	Rating      float64 `json:"rating"`
	ReviewCount int     `json:"review_count"`
	PhotoURL    string  `json:"photo_url,omitempty"`
}

type Vehicle struct {
	Make        string  `json:"make"`
	Model       string  `json:"model"`
	Plate       string  `json:"plate"`
	MaxWeightKg float64 `json:"max_weight_kg"`
	MaxVolumeM3 float64 `json:"max_volume_m3"`
}

type BidStats struct {
	Count   int     `json:"count"`
	Highest float64 `json:"highest"`
	Average float64 `json:"average"`
}

// RouteDetails is the assembled read view for a single route.
type RouteDetails struct {
	Route           Route          `json:"route"`
	Driver          *DriverProfile `json:"driver,omitempty"`
	Vehicle         *Vehicle       `json:"vehicle,omitempty"`
	TotalDistanceKm float64        `json:"total_distance_km"`
	Segments        []RouteSegment `json:"segments,omitempty"`
	BidStats        BidStats       `json:"bid_stats"`
	RecentBids      []Bid          `json:"recent_bids,omitempty"`
}

// RoutePatch carries a partial update; nil fields are left untouched.
type RoutePatch struct {
	Origin            *Coord       `json:"origin,omitempty"`
	Destination       *Coord       `json:"destination,omitempty"`
	Polyline          *string      `json:"polyline,omitempty"`
	DepartureAt       *time.Time   `json:"departure_at,omitempty"`
	DetourToleranceKm *float64     `json:"detour_tolerance_km,omitempty"`
	SuggestedPriceMin *float64     `json:"suggested_price_min,omitempty"`
	SuggestedPriceMax *float64     `json:"suggested_price_max,omitempty"`
	Status            *RouteStatus `json:"status,omitempty"`
}

// Bid event types published to the notification topic.
const (
	BidEventPlaced    = "bid.placed"
	BidEventAccepted  = "bid.accepted"
	BidEventRejected  = "bid.rejected"
	BidEventWithdrawn = "bid.withdrawn"
	BidEventExpired   = "bid.expired"
)

// BidEvent is the fire-and-forget notification payload emitted after a bid
// transition commits.
type BidEvent struct {
	ID           uuid.UUID `json:"id"`
	Type         string    `json:"type"`
	BidID        uuid.UUID `json:"bid_id"`
	RouteID      uuid.UUID `json:"route_id"`
	CustomerID   uuid.UUID `json:"customer_id"`
	OfferedPrice float64   `json:"offered_price"`
	At           time.Time `json:"at"`
}
