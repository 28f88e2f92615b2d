package outbox

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Sender is the subset of broker.Producer the publisher needs; kept as
// an interface so tests can stub it without a live Kafka broker. body
// is the already-encoded envelope JSON staged at write time.
type Sender interface {
	PublishRaw(ctx context.Context, topic, aggregateID string, body []byte) error
}

var (
	publishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_published_total",
			Help: "Total number of outbox events successfully published.",
		},
		[]string{"service"},
	)
	releasedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_release_total",
			Help: "Total number of outbox publish failures that released a row back to PENDING or FAILED.",
		},
		[]string{"service"},
	)
	oldestPendingAge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "outbox_oldest_pending_age_seconds",
			Help: "Age in seconds of the oldest unpublished outbox row.",
		},
		[]string{"service"},
	)
	registerOnce = map[string]bool{}
)

// RegisterMetrics registers the outbox gauges/counters once per
// process. Safe to call from every service's main without double
// registration panics.
func RegisterMetrics() {
	if registerOnce["done"] {
		return
	}
	registerOnce["done"] = true
	prometheus.MustRegister(publishedTotal, releasedTotal, oldestPendingAge)
}

// Publisher runs a pool of workers that repeatedly claim a batch of
// pending outbox rows and publish them. A crashed
// worker's claimed rows become reclaimable after ReclaimTimeout.
type Publisher struct {
	Store           *Store
	Sender          Sender
	ServiceName     string
	Workers         int
	BatchSize       int
	PollInterval    time.Duration
	ReclaimTimeout  time.Duration
	MaxAttempts     int
	Logger          *zap.Logger
}

// Run blocks until ctx is cancelled, fanning out Workers goroutines
// that each poll for claimable batches.
func (p *Publisher) Run(ctx context.Context) {
	workers := p.Workers
	if workers < 1 {
		workers = 1
	}

	done := make(chan struct{}, workers)
	for i := 0; i < workers; i++ {
		go func(id int) {
			p.loop(ctx, id)
			done <- struct{}{}
		}(i)
	}
	for i := 0; i < workers; i++ {
		<-done
	}
}

func (p *Publisher) loop(ctx context.Context, workerID int) {
	ticker := time.NewTicker(p.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.drainOnce(ctx, workerID)
		}
	}
}

func (p *Publisher) drainOnce(ctx context.Context, workerID int) {
	batch, err := p.Store.ClaimBatch(ctx, p.BatchSize, p.ReclaimTimeout)
	if err != nil {
		p.Logger.Error("failed to claim outbox batch", zap.Int("worker", workerID), zap.Error(err))
		return
	}

	for _, ev := range batch {
		if err := p.Sender.PublishRaw(ctx, ev.Topic, ev.AggregateID, ev.Payload); err != nil {
			p.Logger.Warn("failed to publish outbox event, releasing",
				zap.String("event_id", ev.EventID), zap.Error(err))
			if relErr := p.Store.Release(ctx, ev.EventID, ev.ClaimToken, p.MaxAttempts); relErr != nil {
				p.Logger.Error("failed to release outbox event", zap.String("event_id", ev.EventID), zap.Error(relErr))
			}
			releasedTotal.WithLabelValues(p.ServiceName).Inc()
			continue
		}

		if err := p.Store.MarkPublished(ctx, ev.EventID, ev.ClaimToken); err != nil {
			p.Logger.Error("failed to mark outbox event published", zap.String("event_id", ev.EventID), zap.Error(err))
			continue
		}
		publishedTotal.WithLabelValues(p.ServiceName).Inc()
	}

	if age, err := p.Store.OldestPendingAge(ctx); err == nil {
		oldestPendingAge.WithLabelValues(p.ServiceName).Set(age.Seconds())
	}
}
