// Package notification delivers divergence alerts to external channels
// (Telegram, generic webhooks). Delivery is best-effort with bounded
// retries: a dead channel never blocks or fails the recompute that
// produced the alert.
package notification

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff/v4"

	"altregime/internal/metrics"
	"altregime/internal/model"
)

const sendTimeout = 10 * time.Second

// Backend delivers one alert to a single channel.
type Backend interface {
	Name() string
	Send(ctx context.Context, d model.Divergence) error
}

// Dispatcher fans a divergence out to all configured backends with retry.
// It satisfies the engine's notifier hook.
type Dispatcher struct {
	backends []Backend
	mets     *metrics.Metrics
}

// NewDispatcher creates a dispatcher over the given backends.
func NewDispatcher(mets *metrics.Metrics, backends ...Backend) *Dispatcher {
	return &Dispatcher{backends: backends, mets: mets}
}

// NotifyDivergence delivers the alert to every backend. Failures are
// retried with exponential backoff, then logged and dropped.
func (n *Dispatcher) NotifyDivergence(ctx context.Context, d model.Divergence) {
	for _, b := range n.backends {
		send := func() error {
			sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
			defer cancel()
			return b.Send(sendCtx, d)
		}
		policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
		if err := backoff.Retry(send, policy); err != nil {
			log.Printf("[notify] %s delivery failed: %v", b.Name(), err)
			continue
		}
		if n.mets != nil {
			n.mets.NotificationsOut.WithLabelValues(b.Name()).Inc()
		}
	}
}

// alertText renders the human-readable alert body shared by backends.
func alertText(d model.Divergence) string {
	grade := string(d.Grade)
	if grade == "" {
		grade = string(d.Status)
	}
	return fmt.Sprintf("%s %s divergence on %s %s (%s)\n%s\nimplication: %s, score %.2f",
		d.Side, d.Indicator, d.Metric, d.Timeframe, grade, d.Text, d.Implication, d.Score)
}

// LogBackend writes alerts to the process log. Used in development and as
// a fallback when no external channel is configured.
type LogBackend struct{}

func (LogBackend) Name() string { return "log" }

func (LogBackend) Send(_ context.Context, d model.Divergence) error {
	log.Printf("[notify] %s", alertText(d))
	return nil
}
