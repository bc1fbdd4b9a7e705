package geometry

import (
	"fmt"
	"math"

	"github.com/example/freight-matching/internal/models"
)

// earthRadiusKm is the mean Earth radius used for great-circle distances.
const earthRadiusKm = 6371.0

// Haversine returns the great-circle distance between two points in km.
func Haversine(lat1, lng1, lat2, lng2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180
	dLng := (lng2 - lng1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusKm * c
}

// PathLengthKm sums consecutive great-circle distances over a point sequence.
func PathLengthKm(pts []models.Coord) float64 {
	var total float64
	for i := 1; i < len(pts); i++ {
		total += Haversine(pts[i-1].Lat, pts[i-1].Lng, pts[i].Lat, pts[i].Lng)
	}
	return total
}

// DecodePolyline decodes a Google encoded polyline (5 decimal places) into
// an ordered point sequence. It fails with ErrInvalidGeometry when the input
// is malformed or yields fewer than two points.
func DecodePolyline(encoded string) ([]models.Coord, error) {
	var pts []models.Coord
	var lat, lng int64
	idx := 0
	for idx < len(encoded) {
		dLat, n, err := decodeSigned(encoded[idx:])
		if err != nil {
			return nil, fmt.Errorf("%w: bad latitude varint at offset %d", models.ErrInvalidGeometry, idx)
		}
		idx += n
		dLng, n, err := decodeSigned(encoded[idx:])
		if err != nil {
			return nil, fmt.Errorf("%w: bad longitude varint at offset %d", models.ErrInvalidGeometry, idx)
		}
		idx += n
		lat += dLat
		lng += dLng
		pts = append(pts, models.Coord{Lat: float64(lat) / 1e5, Lng: float64(lng) / 1e5})
	}
	if len(pts) < 2 {
		return nil, fmt.Errorf("%w: decoded %d point(s)", models.ErrInvalidGeometry, len(pts))
	}
	return pts, nil
}

// EncodePolyline is the inverse of DecodePolyline.
func EncodePolyline(pts []models.Coord) string {
	var out []byte
	var prevLat, prevLng int64
	for _, p := range pts {
		lat := int64(math.Round(p.Lat * 1e5))
		lng := int64(math.Round(p.Lng * 1e5))
		out = encodeSigned(out, lat-prevLat)
		out = encodeSigned(out, lng-prevLng)
		prevLat, prevLng = lat, lng
	}
	return string(out)
}

func decodeSigned(s string) (int64, int, error) {
	var result int64
	var shift uint
	for i := 0; i < len(s); i++ {
		c := int64(s[i]) - 63
		if c < 0 {
			return 0, 0, fmt.Errorf("character out of range")
		}
		result |= (c & 0x1f) << shift
		shift += 5
		if c < 0x20 {
			if result&1 != 0 {
				return ^(result >> 1), i + 1, nil
			}
			return result >> 1, i + 1, nil
		}
	}
	return 0, 0, fmt.Errorf("truncated varint")
}

func encodeSigned(dst []byte, v int64) []byte {
	u := v << 1
	if v < 0 {
		u = ^u
	}
	for u >= 0x20 {
		dst = append(dst, byte((0x20|(u&0x1f))+63))
		u >>= 5
	}
	return append(dst, byte(u+63))
}
