package geocode

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type countingGeocoder struct {
	name  string
	err   error
	calls int
}

func (c *countingGeocoder) PlaceName(_ context.Context, _, _ float64) (string, error) {
	c.calls++
	if c.err != nil {
		return "", c.err
	}
	return c.name, nil
}

func newTestCache(t *testing.T, next *countingGeocoder) (*CachedGeocoder, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewCachedGeocoder(next, client, time.Hour), mr
}

func TestCachedGeocoderMissThenHit(t *testing.T) {
	next := &countingGeocoder{name: "Rotterdam"}
	c, _ := newTestCache(t, next)
	ctx := context.Background()

	name, err := c.PlaceName(ctx, 51.9225, 4.4792)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if name != "Rotterdam" {
		t.Fatalf("got %q", name)
	}
	if _, err := c.PlaceName(ctx, 51.9225, 4.4792); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next.calls != 1 {
		t.Fatalf("expected a single upstream lookup, got %d", next.calls)
	}
}

func TestCachedGeocoderBucketsCoordinates(t *testing.T) {
	next := &countingGeocoder{name: "Rotterdam"}
	c, _ := newTestCache(t, next)
	ctx := context.Background()

	if _, err := c.PlaceName(ctx, 51.92250, 4.47920); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// within the same ~11m bucket
	if _, err := c.PlaceName(ctx, 51.922502, 4.479204); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next.calls != 1 {
		t.Fatalf("nearby points should share a cache entry, got %d lookups", next.calls)
	}
}

func TestCachedGeocoderPropagatesUpstreamError(t *testing.T) {
	next := &countingGeocoder{err: errors.New("nominatim down")}
	c, mr := newTestCache(t, next)

	if _, err := c.PlaceName(context.Background(), 1, 2); err == nil {
		t.Fatal("expected error from upstream")
	}
	if len(mr.Keys()) != 0 {
		t.Fatal("failed lookups must not be cached")
	}
}

func TestCachedGeocoderFallsThroughOnCacheFailure(t *testing.T) {
	next := &countingGeocoder{name: "Utrecht"}
	c, mr := newTestCache(t, next)
	mr.Close() // cache unreachable

	name, err := c.PlaceName(context.Background(), 52.0907, 5.1214)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if name != "Utrecht" {
		t.Fatalf("got %q", name)
	}
}
