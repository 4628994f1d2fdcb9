// Package metrics provides Prometheus metrics for pagecast.
package metrics

import (
	"context"
	"time"

	"github.com/blacktop/pagecast/internal/publish"
	"github.com/blacktop/pagecast/internal/queue"
	"github.com/blacktop/pagecast/internal/scheduler"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "pagecast"

// Publish results.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Metrics holds the collectors, registered on one registry.
type Metrics struct {
	// PublishTotal counts publish attempts by channel and result.
	PublishTotal *prometheus.CounterVec
	// PublishDuration measures publish latency.
	PublishDuration *prometheus.HistogramVec
	// ChannelRunning is 1 while a channel's worker is running.
	ChannelRunning *prometheus.GaugeVec
	// StatusUpdates counts status reports per channel.
	StatusUpdates *prometheus.CounterVec
	// MirrorFailures counts posts whose mirroring failed on some target.
	MirrorFailures *prometheus.CounterVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		PublishTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "publish_total",
				Help:      "Total number of publish attempts",
			},
			[]string{"channel", "result"},
		),
		PublishDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "publish_duration_seconds",
				Help:      "Duration of publish attempts in seconds",
				Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"channel"},
		),
		ChannelRunning: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "channel_running",
				Help:      "Whether the channel worker is running (1 = running, 0 = stopped)",
			},
			[]string{"channel"},
		),
		StatusUpdates: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "status_updates_total",
				Help:      "Total number of channel status updates",
			},
			[]string{"channel"},
		),
		MirrorFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "mirror_failures_total",
				Help:      "Total number of posts that failed to mirror to at least one target",
			},
			[]string{"channel"},
		),
	}
}

// RecordPublish records one publish attempt.
func (m *Metrics) RecordPublish(channel string, err error, d time.Duration) {
	result := ResultSuccess
	if err != nil {
		result = ResultFailure
	}
	m.PublishTotal.WithLabelValues(channel, result).Inc()
	m.PublishDuration.WithLabelValues(channel).Observe(d.Seconds())
}

// MirrorFailed returns a publish.Fanout MirrorErr hook for channel.
func (m *Metrics) MirrorFailed(channel string) func(error) {
	return func(error) {
		m.MirrorFailures.WithLabelValues(channel).Inc()
	}
}

// Report implements scheduler.Reporter.
func (m *Metrics) Report(channel string, running bool, _, _ string) {
	v := 0.0
	if running {
		v = 1
	}
	m.ChannelRunning.WithLabelValues(channel).Set(v)
	m.StatusUpdates.WithLabelValues(channel).Inc()
}

// Publisher wraps a queue publisher with timing.
func (m *Metrics) Publisher(channel string, next scheduler.Publisher) scheduler.Publisher {
	return &instrumented{m: m, channel: channel, next: next}
}

// SyncPublisher wraps a sync publisher with timing.
func (m *Metrics) SyncPublisher(channel string, next scheduler.SyncPublisher) scheduler.SyncPublisher {
	return &instrumentedSync{m: m, channel: channel, next: next}
}

type instrumented struct {
	m       *Metrics
	channel string
	next    scheduler.Publisher
}

func (p *instrumented) Publish(ctx context.Context, post queue.Post) error {
	start := time.Now()
	err := p.next.Publish(ctx, post)
	p.m.RecordPublish(p.channel, err, time.Since(start))
	return err
}

type instrumentedSync struct {
	m       *Metrics
	channel string
	next    scheduler.SyncPublisher
}

func (p *instrumentedSync) Publish(ctx context.Context, item scheduler.Item) (publish.Result, error) {
	start := time.Now()
	res, err := p.next.Publish(ctx, item)
	p.m.RecordPublish(p.channel, err, time.Since(start))
	return res, err
}
