package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/example/freight-matching/internal/models"
)

// The notifier drains the bid-event topic and pushes customer notifications.
// It is the asynchronous half of the accept flow: rejecting sibling bids
// notifies the displaced customers here, never inside the accept transaction.

var (
	eventsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notifier_events_consumed_total",
		Help: "Total bid events consumed",
	})
	eventsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notifier_events_invalid_total",
		Help: "Total invalid events received",
	})
	eventsDuplicate = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notifier_events_duplicate_total",
		Help: "Total events skipped by the dedupe check",
	})
	pushesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notifier_pushes_sent_total",
		Help: "Total successful notification pushes",
	})
	pushErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notifier_push_errors_total",
		Help: "Total push failures after retries",
	})
)

func init() {
	prometheus.MustRegister(eventsConsumed, eventsInvalid, eventsDuplicate, pushesSent, pushErrors)
}

func main() {
	_ = godotenv.Load()

	var metricsAddr string
	flag.StringVar(&metricsAddr, "metrics-addr", ":2112", "address to serve prometheus metrics on")
	flag.Parse()

	brokers := []string{"localhost:9092"}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		brokers = brokers[:0]
		for _, b := range strings.Split(v, ",") {
			if s := strings.TrimSpace(b); s != "" {
				brokers = append(brokers, s)
			}
		}
	}
	topic := os.Getenv("KAFKA_TOPIC")
	if topic == "" {
		topic = "bid-events"
	}
	group := os.Getenv("KAFKA_GROUP")
	if group == "" {
		group = "freight-matching-notifier"
	}
	pushEndpoint := os.Getenv("PUSH_ENDPOINT")
	if pushEndpoint == "" {
		pushEndpoint = "http://localhost:8081/push"
	}

	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}
	rc := redis.NewClient(&redis.Options{Addr: redisAddr})

	// metrics and health server
	go func() {
		srv := http.NewServeMux()
		srv.Handle("/metrics", promhttp.Handler())
		srv.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) })
		srv.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			if err := rc.Ping(r.Context()).Err(); err != nil {
				http.Error(w, "redis not ready", 503)
				return
			}
			w.WriteHeader(200)
			w.Write([]byte("ready"))
		})
		log.Printf("metrics/health listening on %s", metricsAddr)
		if err := http.ListenAndServe(metricsAddr, srv); err != nil {
			log.Printf("metrics server stopped: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := kafka.NewReader(kafka.ReaderConfig{Brokers: brokers, Topic: topic, GroupID: group, MinBytes: 10e3, MaxBytes: 10e6})
	pusher := &httpPusher{endpoint: pushEndpoint, client: &http.Client{Timeout: 3 * time.Second}}
	defer func() {
		_ = r.Close()
		_ = rc.Close()
	}()

	log.Printf("notifier listening topic=%s brokers=%v group=%s", topic, brokers, group)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Println("shutting down notifier")
				return
			}
			log.Printf("kafka read error: %v; backing off %s", err, backoff)
			time.Sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second

		eventsConsumed.Inc()

		var ev models.BidEvent
		if err := json.Unmarshal(m.Value, &ev); err != nil {
			eventsInvalid.Inc()
			log.Printf("invalid event: %v", err)
			continue
		}

		// at-least-once delivery: dedupe on event id so redeliveries do not
		// double-notify
		seen, err := rc.SetNX(ctx, "bidevent:seen:"+ev.ID.String(), 1, 24*time.Hour).Result()
		if err == nil && !seen {
			eventsDuplicate.Inc()
			continue
		}

		if err := pushWithRetry(ctx, pusher, &ev, 3, 200*time.Millisecond); err != nil {
			pushErrors.Inc()
			log.Printf("push failed for bid=%s customer=%s: %v", ev.BidID, ev.CustomerID, err)
			continue
		}
		pushesSent.Inc()
	}
}

// Pusher delivers one bid event to the customer's device channel.
type Pusher interface {
	Push(ctx context.Context, ev *models.BidEvent) error
}

type httpPusher struct {
	endpoint string
	client   *http.Client
}

func (p *httpPusher) Push(ctx context.Context, ev *models.BidEvent) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return &pushStatusError{status: resp.StatusCode}
	}
	return nil
}

type pushStatusError struct{ status int }

func (e *pushStatusError) Error() string { return "push endpoint returned " + http.StatusText(e.status) }

// pushWithRetry delivers an event with exponential backoff between attempts.
func pushWithRetry(ctx context.Context, p Pusher, ev *models.BidEvent, attempts int, delay time.Duration) error {
	var lastErr error
	for i := 0; i < attempts; i++ {
		if err := p.Push(ctx, ev); err != nil {
			lastErr = err
			if i == attempts-1 {
				return lastErr
			}
			time.Sleep(delay)
			delay *= 2
			continue
		}
		return nil
	}
	return lastErr
}
