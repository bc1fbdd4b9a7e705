package geometry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/freight-matching/internal/models"
)

// SegmentCache keeps computed segment lists in redis keyed by route and
// target distance. Segments are derived state, so a cache failure simply
// falls back to recomputation.
type SegmentCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewSegmentCache(client *redis.Client, ttl time.Duration) *SegmentCache {
	return &SegmentCache{client: client, ttl: ttl}
}

func segmentKey(routeID string, targetKm float64) string {
	return fmt.Sprintf("route:segments:%s:%.2f", routeID, targetKm)
}

func (c *SegmentCache) Get(ctx context.Context, routeID string, targetKm float64) ([]models.RouteSegment, bool) {
	b, err := c.client.Get(ctx, segmentKey(routeID, targetKm)).Bytes()
	if err != nil {
		return nil, false
	}
	var segs []models.RouteSegment
	if err := json.Unmarshal(b, &segs); err != nil {
		return nil, false
	}
	return segs, true
}

func (c *SegmentCache) Set(ctx context.Context, routeID string, targetKm float64, segs []models.RouteSegment) {
	b, err := json.Marshal(segs)
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, segmentKey(routeID, targetKm), b, c.ttl).Err()
}

// Invalidate drops cached segments for a route after its polyline changes.
func (c *SegmentCache) Invalidate(ctx context.Context, routeID string) {
	iter := c.client.Scan(ctx, 0, fmt.Sprintf("route:segments:%s:*", routeID), 0).Iterator()
	for iter.Next(ctx) {
		_ = c.client.Del(ctx, iter.Val()).Err()
	}
}
