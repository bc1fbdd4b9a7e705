package geometry

import (
	"context"
	"log/slog"
	"time"

	"github.com/example/freight-matching/internal/models"
)

// Geocoder resolves an approximate place name for a coordinate. Resolution is
// best-effort: segmentation never fails because a lookup did.
type Geocoder interface {
	PlaceName(ctx context.Context, lat, lng float64) (string, error)
}

// Segmenter partitions a route polyline into approximately fixed-distance
// segments in travel order.
type Segmenter struct {
	Geocoder       Geocoder
	GeocodeTimeout time.Duration
	Logger         *slog.Logger
}

func NewSegmenter(geocoder Geocoder, logger *slog.Logger) *Segmenter {
	return &Segmenter{Geocoder: geocoder, GeocodeTimeout: 2 * time.Second, Logger: logger}
}

// Segment decodes the polyline and emits 0-indexed contiguous segments whose
// distances sum to the total path length. A path shorter than the target
// distance yields exactly one segment spanning the whole route.
func (s *Segmenter) Segment(ctx context.Context, polyline string, targetKm float64) ([]models.RouteSegment, error) {
	if targetKm <= 0 {
		return nil, &models.ValidationError{Field: "target_distance_km", Reason: "must be > 0"}
	}
	pts, err := DecodePolyline(polyline)
	if err != nil {
		return nil, err
	}
	segs := SegmentPoints(pts, targetKm)
	s.tagPlaceNames(ctx, segs)
	return segs, nil
}

// SegmentPoints walks the point sequence accumulating great-circle distance
// and emits a segment whenever the accumulator reaches targetKm. Zero-distance
// steps are skipped so degenerate segments are never produced; leftover
// distance becomes a final partial segment.
func SegmentPoints(pts []models.Coord, targetKm float64) []models.RouteSegment {
	var segs []models.RouteSegment
	start := pts[0]
	var acc float64
	for i := 1; i < len(pts); i++ {
		step := Haversine(pts[i-1].Lat, pts[i-1].Lng, pts[i].Lat, pts[i].Lng)
		if step == 0 {
			continue
		}
		acc += step
		if acc >= targetKm {
			segs = append(segs, models.RouteSegment{
				Index:      len(segs),
				Start:      start,
				End:        pts[i],
				DistanceKm: acc,
			})
			start = pts[i]
			acc = 0
		}
	}
	if acc > 0 || len(segs) == 0 {
		segs = append(segs, models.RouteSegment{
			Index:      len(segs),
			Start:      start,
			End:        pts[len(pts)-1],
			DistanceKm: acc,
		})
	}
	return segs
}

func (s *Segmenter) tagPlaceNames(ctx context.Context, segs []models.RouteSegment) {
	if s.Geocoder == nil {
		return
	}
	timeout := s.GeocodeTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	for i := range segs {
		lookupCtx, cancel := context.WithTimeout(ctx, timeout)
		name, err := s.Geocoder.PlaceName(lookupCtx, segs[i].Start.Lat, segs[i].Start.Lng)
		cancel()
		if err != nil {
			if s.Logger != nil {
				s.Logger.Debug("place name lookup failed", "index", segs[i].Index, "error", err)
			}
			continue
		}
		segs[i].PlaceName = name
	}
}
