// Package natspub publishes decoded sensor readings to a NATS subject,
// for pipelines that want the raw readings as well as the Prometheus
// gauges. Publishing is optional and best-effort: the ingestion pipeline
// treats publish failures as non-fatal.
package natspub

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/vandry/ruuvi-bridge/errors"
	"github.com/vandry/ruuvi-bridge/metric"
	"github.com/vandry/ruuvi-bridge/pkg/retry"
	"github.com/vandry/ruuvi-bridge/protocol"
)

// Message is the JSON shape of one published reading. Absent quantities
// are omitted.
type Message struct {
	Unit        string    `json:"unit"`
	Temperature *float64  `json:"temperature,omitempty"`
	Humidity    *float64  `json:"humidity,omitempty"`
	Pressure    *float64  `json:"pressure,omitempty"`
	Battery     *float64  `json:"battery,omitempty"`
	Time        time.Time `json:"time"`
}

// NewMessage converts a decoded reading for publishing.
func NewMessage(r *protocol.Reading, now time.Time) Message {
	opt := func(q protocol.Quantity) *float64 {
		if !q.Present {
			return nil
		}
		v := q.Value
		return &v
	}

	return Message{
		Unit:        r.Addr.String(),
		Temperature: opt(r.Temperature),
		Humidity:    opt(r.Humidity),
		Pressure:    opt(r.Pressure),
		Battery:     opt(r.Battery),
		Time:        now,
	}
}

// Deps holds runtime dependencies for the publisher.
type Deps struct {
	URL             string
	Subject         string
	MetricsRegistry *metric.MetricsRegistry // optional
	Logger          *slog.Logger            // optional
	Retry           retry.Config            // zero value uses retry defaults
}

// Publisher forwards readings to NATS. It implements the ingestion
// loop's ReadingPublisher.
type Publisher struct {
	url         string
	subject     string
	logger      *slog.Logger
	retryConfig retry.Config

	mu sync.Mutex
	nc *nats.Conn

	published prometheus.Counter
	failed    prometheus.Counter
}

// New creates a publisher. Connect must be called before publishing.
func New(deps Deps) *Publisher {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "natspub")
	}
	retryConfig := deps.Retry
	if retryConfig.MaxAttempts == 0 {
		retryConfig = retry.DefaultConfig()
	}

	p := &Publisher{
		url:         deps.URL,
		subject:     deps.Subject,
		logger:      logger,
		retryConfig: retryConfig,
	}

	if deps.MetricsRegistry != nil {
		p.published = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ruuvibridge",
			Subsystem: "natspub",
			Name:      "published_total",
			Help:      "Total readings published to NATS",
		})
		p.failed = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ruuvibridge",
			Subsystem: "natspub",
			Name:      "failed_total",
			Help:      "Total readings that failed to publish",
		})
		_ = deps.MetricsRegistry.RegisterCounter("natspub", "published", p.published)
		_ = deps.MetricsRegistry.RegisterCounter("natspub", "failed", p.failed)
	}

	return p
}

// Connect establishes the NATS connection, retrying transient failures.
func (p *Publisher) Connect(ctx context.Context) error {
	nc, err := retry.DoWithResult(ctx, p.retryConfig, func() (*nats.Conn, error) {
		return nats.Connect(p.url,
			nats.Name("ruuvi-bridge"),
			nats.MaxReconnects(-1),
		)
	})
	if err != nil {
		return errors.WrapTransient(err, "Publisher", "Connect", "NATS connect")
	}

	p.mu.Lock()
	p.nc = nc
	p.mu.Unlock()

	p.logger.Info("Connected to NATS", "url", p.url, "subject", p.subject)
	return nil
}

// Close drains and closes the connection.
func (p *Publisher) Close() {
	p.mu.Lock()
	nc := p.nc
	p.nc = nil
	p.mu.Unlock()

	if nc != nil {
		if err := nc.Drain(); err != nil {
			nc.Close()
		}
	}
}

// PublishReading publishes one decoded reading as JSON.
func (p *Publisher) PublishReading(_ context.Context, r *protocol.Reading) error {
	p.mu.Lock()
	nc := p.nc
	p.mu.Unlock()

	if nc == nil {
		return errors.WrapTransient(errors.ErrNoConnection,
			"Publisher", "PublishReading", "NATS connection check")
	}

	data, err := json.Marshal(NewMessage(r, time.Now()))
	if err != nil {
		return errors.WrapInvalid(err, "Publisher", "PublishReading", "encode reading")
	}

	if err := nc.Publish(p.subject, data); err != nil {
		if p.failed != nil {
			p.failed.Inc()
		}
		return errors.WrapTransient(err, "Publisher", "PublishReading", "NATS publish")
	}

	if p.published != nil {
		p.published.Inc()
	}
	return nil
}
