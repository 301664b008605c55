// Package redis publishes divergence lifecycle events over PubSub and
// caches the latest regime snapshots. Everything here is best-effort:
// a Redis outage degrades fan-out and caching, never ingestion.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"
	goredis "github.com/go-redis/redis/v8"

	"altregime/internal/model"
)

const (
	regimeKeyPrefix     = "regime:"
	regimeChannelPrefix = "pub:regime:"
	regimeTTL           = 30 * time.Minute

	breakerMaxFailures  = 5
	breakerResetTimeout = 10 * time.Second
)

// PublisherConfig configures the Redis publisher.
type PublisherConfig struct {
	Addr     string // e.g. "localhost:6379"
	Password string
	DB       int
}

// Publisher implements model.SignalPublisher on Redis.
type Publisher struct {
	client *goredis.Client
	cb     *CircuitBreaker
}

// Client returns the underlying Redis client for health checks.
func (p *Publisher) Client() *goredis.Client { return p.client }

// NewPublisher connects to Redis, retrying the initial ping with
// exponential backoff so the engine survives a Redis that comes up a few
// seconds later.
func NewPublisher(ctx context.Context, cfg PublisherConfig) (*Publisher, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ping := func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return client.Ping(pingCtx).Err()
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5), ctx)
	if err := backoff.Retry(ping, policy); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	cb := NewCircuitBreaker(breakerMaxFailures, breakerResetTimeout)
	cb.OnStateChange = func(from, to State) {
		log.Printf("[redis] circuit breaker %s → %s", from, to)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return &Publisher{client: client, cb: cb}, nil
}

// divEvent is the wire shape of a lifecycle event. At is the wall-clock
// publish time, used downstream for end-to-end latency measurement.
type divEvent struct {
	Event      string            `json:"event"` // detected / confirmed / invalidated
	At         time.Time         `json:"at"`
	Divergence *model.Divergence `json:"divergence"`
}

// PublishDivergence pushes a lifecycle event to the divergence channel for
// its (timeframe, metric). Failures are logged and absorbed.
func (p *Publisher) PublishDivergence(ctx context.Context, d model.Divergence, event string) {
	payload, err := json.Marshal(divEvent{Event: event, At: time.Now().UTC(), Divergence: &d})
	if err != nil {
		log.Printf("[redis] marshal divergence event: %v", err)
		return
	}
	channel := d.EventChannel()
	err = p.cb.Execute(func() error {
		return p.client.Publish(ctx, channel, payload).Err()
	})
	if err != nil && err != ErrCircuitOpen {
		log.Printf("[redis] publish %s: %v", channel, err)
	}
}

// CacheRegime stores the latest regime snapshot for a metric with a TTL
// and pushes it on the regime channel for live subscribers.
func (p *Publisher) CacheRegime(ctx context.Context, summary model.RegimeSummary) {
	payload := summary.JSON()
	err := p.cb.Execute(func() error {
		if err := p.client.Set(ctx, regimeKeyPrefix+string(summary.Metric), payload, regimeTTL).Err(); err != nil {
			return err
		}
		return p.client.Publish(ctx, regimeChannelPrefix+string(summary.Metric), payload).Err()
	})
	if err != nil && err != ErrCircuitOpen {
		log.Printf("[redis] cache regime %s: %v", summary.Metric, err)
	}
}

// InvalidateRegime drops the cached snapshot for a metric. Called on every
// accepted bar so readers never see a regime computed from stale series.
func (p *Publisher) InvalidateRegime(ctx context.Context, metric model.Metric) {
	err := p.cb.Execute(func() error {
		return p.client.Del(ctx, regimeKeyPrefix+string(metric)).Err()
	})
	if err != nil && err != ErrCircuitOpen {
		log.Printf("[redis] invalidate regime %s: %v", metric, err)
	}
}

// CachedRegime returns the cached snapshot for a metric, or nil when the
// cache is cold (or Redis is down — callers recompute either way).
func (p *Publisher) CachedRegime(ctx context.Context, metric model.Metric) *model.RegimeSummary {
	var data string
	err := p.cb.Execute(func() error {
		var getErr error
		data, getErr = p.client.Get(ctx, regimeKeyPrefix+string(metric)).Result()
		return getErr
	})
	if err != nil {
		if err != goredis.Nil && err != ErrCircuitOpen {
			log.Printf("[redis] read regime %s: %v", metric, err)
		}
		return nil
	}
	var summary model.RegimeSummary
	if err := json.Unmarshal([]byte(data), &summary); err != nil {
		log.Printf("[redis] decode cached regime %s: %v", metric, err)
		return nil
	}
	return &summary
}

// Close closes the Redis connection.
func (p *Publisher) Close() error {
	return p.client.Close()
}
