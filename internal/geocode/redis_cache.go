package geocode

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/freight-matching/internal/geometry"
)

// CachedGeocoder wraps another geocoder with a redis lookaside cache.
// Coordinates are bucketed to four decimals (~11m) so nearby points share
// an entry. Cache errors fall through to the underlying geocoder.
type CachedGeocoder struct {
	next   geometry.Geocoder
	client *redis.Client
	ttl    time.Duration
}

func NewCachedGeocoder(next geometry.Geocoder, client *redis.Client, ttl time.Duration) *CachedGeocoder {
	return &CachedGeocoder{next: next, client: client, ttl: ttl}
}

func cacheKey(lat, lng float64) string {
	return fmt.Sprintf("geocode:%.4f:%.4f", lat, lng)
}

func (c *CachedGeocoder) PlaceName(ctx context.Context, lat, lng float64) (string, error) {
	key := cacheKey(lat, lng)
	if name, err := c.client.Get(ctx, key).Result(); err == nil && name != "" {
		return name, nil
	}
	name, err := c.next.PlaceName(ctx, lat, lng)
	if err != nil {
		return "", err
	}
	_ = c.client.Set(ctx, key, name, c.ttl).Err()
	return name, nil
}
