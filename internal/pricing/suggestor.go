package pricing

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/example/freight-matching/internal/geometry"
	"github.com/example/freight-matching/internal/models"
	"github.com/example/freight-matching/internal/storage"
)

// History reads accepted-bid prices for routes comparable to the given
// endpoints, ordered newest first. It may return an empty slice.
type History interface {
	AcceptedPrices(ctx context.Context, origin, dest models.Coord) ([]float64, error)
}

// Config holds the tunables for price suggestion.
type Config struct {
	BaseRatePerKm  float64       // fallback rate when no usable history exists
	BandPct        float64       // half-width of the fallback band, e.g. 0.20
	MinSamples     int           // below this the history is ignored
	MaxSamples     int           // newest samples considered for the band
	HistoryTimeout time.Duration // bound on the history read
}

func DefaultConfig() Config {
	return Config{
		BaseRatePerKm:  1.5,
		BandPct:        0.20,
		MinSamples:     3,
		MaxSamples:     20,
		HistoryTimeout: 2 * time.Second,
	}
}

// Suggestor derives a suggested price band for a route. It is pure with
// respect to store state and safe for concurrent use.
type Suggestor struct {
	Store   storage.Store
	History History
	Config  Config
	Logger  *slog.Logger
}

func NewSuggestor(store storage.Store, history History, cfg Config, logger *slog.Logger) *Suggestor {
	return &Suggestor{Store: store, History: history, Config: cfg, Logger: logger}
}

// Suggest never fails for an existing route: a missing, thin or erroring
// history degrades to the distance-based base-rate estimate, marked
// "no-history" so callers can tell estimated from learned bands.
func (s *Suggestor) Suggest(ctx context.Context, routeID uuid.UUID) (models.PricePrediction, error) {
	route, err := s.Store.GetRoute(ctx, routeID)
	if err != nil {
		return models.PricePrediction{}, err
	}

	dist := s.routeDistanceKm(route)
	pred := models.PricePrediction{
		RouteID:    route.ID,
		DistanceKm: dist,
		ComputedAt: time.Now(),
	}

	prices := s.fetchHistory(ctx, route)
	if len(prices) < s.Config.MinSamples {
		mid := dist * s.Config.BaseRatePerKm
		pred.MinPrice = mid * (1 - s.Config.BandPct)
		pred.MaxPrice = mid * (1 + s.Config.BandPct)
		pred.Confidence = models.ConfidenceNoHistory
		pred.SampleSize = len(prices)
		return pred, nil
	}

	if len(prices) > s.Config.MaxSamples {
		prices = prices[:s.Config.MaxSamples]
	}
	lo, hi := prices[0], prices[0]
	for _, p := range prices[1:] {
		if p < lo {
			lo = p
		}
		if p > hi {
			hi = p
		}
	}
	pred.MinPrice = lo
	pred.MaxPrice = hi
	pred.Confidence = models.ConfidenceHistory
	pred.SampleSize = len(prices)
	return pred, nil
}

func (s *Suggestor) fetchHistory(ctx context.Context, route *models.Route) []float64 {
	if s.History == nil {
		return nil
	}
	timeout := s.Config.HistoryTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	histCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	prices, err := s.History.AcceptedPrices(histCtx, route.Origin, route.Destination)
	if err != nil {
		if s.Logger != nil {
			s.Logger.Warn("bid history unavailable, using base-rate estimate", "route_id", route.ID, "error", err)
		}
		return nil
	}
	return prices
}

func (s *Suggestor) routeDistanceKm(route *models.Route) float64 {
	if route.Polyline != "" {
		if pts, err := geometry.DecodePolyline(route.Polyline); err == nil {
			return geometry.PathLengthKm(pts)
		}
	}
	return geometry.Haversine(route.Origin.Lat, route.Origin.Lng, route.Destination.Lat, route.Destination.Lng)
}
