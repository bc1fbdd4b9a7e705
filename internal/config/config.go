package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ServerConfig captures all tunable parameters for the HTTP API process.
// Values are primarily loaded from environment variables with sane defaults
// so the binary can run locally without excessive setup.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	RedisAddr       string
	RedisPassword   string
	SegmentCacheTTL time.Duration
	GeocodeCacheTTL time.Duration

	KafkaBrokers []string
	KafkaTopic   string

	PGDSN string

	GeocodeEndpoint string
	ProfileEndpoint string

	TargetSegmentKm float64
	RecentBidLimit  int

	BaseRatePerKm  float64
	PriceBandPct   float64
	MinSamples     int
	MaxSamples     int
	HistoryTimeout time.Duration

	LogLevel      string
	RunMigrations bool
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:        ":8080",
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    10 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		SegmentCacheTTL: 10 * time.Minute,
		GeocodeCacheTTL: 24 * time.Hour,
		KafkaTopic:      "bid-events",
		GeocodeEndpoint: "https://nominatim.openstreetmap.org",
		TargetSegmentKm: 25,
		RecentBidLimit:  10,
		BaseRatePerKm:   1.5,
		PriceBandPct:    0.20,
		MinSamples:      3,
		MaxSamples:      20,
		HistoryTimeout:  2 * time.Second,
		LogLevel:        "info",
	}
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setDurationFromEnv(&cfg.SegmentCacheTTL, "SEGMENT_CACHE_TTL", &errs)
	setDurationFromEnv(&cfg.GeocodeCacheTTL, "GEOCODE_CACHE_TTL", &errs)

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")

	cfg.PGDSN = os.Getenv("PG_DSN")

	setStringFromEnv(&cfg.GeocodeEndpoint, "GEOCODE_ENDPOINT")
	setStringFromEnv(&cfg.ProfileEndpoint, "PROFILE_ENDPOINT")

	setFloatFromEnv(&cfg.TargetSegmentKm, "TARGET_SEGMENT_KM", &errs)
	setIntFromEnv(&cfg.RecentBidLimit, "RECENT_BID_LIMIT", &errs)

	setFloatFromEnv(&cfg.BaseRatePerKm, "PRICE_BASE_RATE_PER_KM", &errs)
	setFloatFromEnv(&cfg.PriceBandPct, "PRICE_BAND_PCT", &errs)
	setIntFromEnv(&cfg.MinSamples, "PRICE_MIN_SAMPLES", &errs)
	setIntFromEnv(&cfg.MaxSamples, "PRICE_MAX_SAMPLES", &errs)
	setDurationFromEnv(&cfg.HistoryTimeout, "PRICE_HISTORY_TIMEOUT", &errs)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	if cfg.TargetSegmentKm <= 0 {
		errs = append(errs, fmt.Errorf("TARGET_SEGMENT_KM must be > 0"))
	}
	if cfg.BaseRatePerKm <= 0 {
		errs = append(errs, fmt.Errorf("PRICE_BASE_RATE_PER_KM must be > 0"))
	}
	if cfg.PriceBandPct < 0 || cfg.PriceBandPct >= 1 {
		errs = append(errs, fmt.Errorf("PRICE_BAND_PCT must be within [0, 1)"))
	}

	return cfg, errors.Join(errs...)
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
