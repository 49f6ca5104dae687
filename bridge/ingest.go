// Package bridge ingests the byte stream relayed by the sensor bridge
// device and drives the de-framing, validation and decoding pipeline.
//
// Nothing in the pipeline is fatal: malformed frames are dropped and
// counted, and a failed or exhausted stream is abandoned, rediscovered
// and reopened after a fixed backoff, indefinitely.
package bridge

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vandry/ruuvi-bridge/errors"
	"github.com/vandry/ruuvi-bridge/frame"
	"github.com/vandry/ruuvi-bridge/metric"
	"github.com/vandry/ruuvi-bridge/protocol"
	"github.com/vandry/ruuvi-bridge/registry"
)

// DefaultBackoff is the fixed delay before retrying device discovery
// after a stream failure. This is the sole retry policy of the loop.
const DefaultBackoff = 10 * time.Second

// DefaultChunkSize is how many bytes each stream read requests.
const DefaultChunkSize = 1024

// Drop reasons for the frames_dropped_total counter.
const (
	dropTooShort        = "too_short"
	dropChecksum        = "checksum"
	dropMissingIdentity = "missing_identity"
)

// Metrics holds Prometheus metrics for the ingestion pipeline.
type Metrics struct {
	bytesReceived  prometheus.Counter
	framesReceived prometheus.Counter
	framesDropped  *prometheus.CounterVec
	framesIgnored  prometheus.Counter
	readingsTotal  prometheus.Counter
	streamRestarts prometheus.Counter
}

// newMetrics creates and registers ingestion metrics.
// Returns nil if no registry is provided.
func newMetrics(registry *metric.MetricsRegistry) *Metrics {
	if registry == nil {
		return nil
	}

	m := &Metrics{
		bytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ruuvibridge",
			Subsystem: "ingest",
			Name:      "bytes_received_total",
			Help:      "Total bytes read from the bridge byte stream",
		}),
		framesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ruuvibridge",
			Subsystem: "ingest",
			Name:      "frames_received_total",
			Help:      "Total complete frames extracted from the stream",
		}),
		framesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ruuvibridge",
			Subsystem: "ingest",
			Name:      "frames_dropped_total",
			Help:      "Frames dropped before decoding completed",
		}, []string{"reason"}),
		framesIgnored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ruuvibridge",
			Subsystem: "ingest",
			Name:      "frames_ignored_total",
			Help:      "Valid frames carrying an unrecognized broadcast format",
		}),
		readingsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ruuvibridge",
			Subsystem: "ingest",
			Name:      "readings_total",
			Help:      "Total decoded sensor readings",
		}),
		streamRestarts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ruuvibridge",
			Subsystem: "ingest",
			Name:      "stream_restarts_total",
			Help:      "Times the byte stream was abandoned and rediscovered",
		}),
	}

	_ = registry.RegisterCounter("ingest", "bytes_received", m.bytesReceived)
	_ = registry.RegisterCounter("ingest", "frames_received", m.framesReceived)
	_ = registry.RegisterCounterVec("ingest", "frames_dropped", m.framesDropped)
	_ = registry.RegisterCounter("ingest", "frames_ignored", m.framesIgnored)
	_ = registry.RegisterCounter("ingest", "readings", m.readingsTotal)
	_ = registry.RegisterCounter("ingest", "stream_restarts", m.streamRestarts)

	return m
}

// ReadingPublisher forwards decoded readings to an external system.
type ReadingPublisher interface {
	PublishReading(ctx context.Context, r *protocol.Reading) error
}

// Deps holds runtime dependencies for the ingestor.
type Deps struct {
	Source          Source
	Sink            metric.Sink
	Registry        *registry.Registry
	Publisher       ReadingPublisher // optional
	MetricsRegistry *metric.MetricsRegistry
	Logger          *slog.Logger
	Backoff         time.Duration // defaults to DefaultBackoff
	ChunkSize       int           // defaults to DefaultChunkSize
}

// Ingestor owns the ingestion loop for one byte stream at a time. Each
// opened stream gets a fresh extractor; there is no shared de-framing
// state across streams.
type Ingestor struct {
	source    Source
	sink      metric.Sink
	registry  *registry.Registry
	publisher ReadingPublisher
	logger    *slog.Logger
	backoff   time.Duration
	chunkSize int
	metrics   *Metrics

	now func() time.Time
}

// New creates an ingestor.
func New(deps Deps) *Ingestor {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "ingest")
	}
	backoff := deps.Backoff
	if backoff <= 0 {
		backoff = DefaultBackoff
	}
	chunkSize := deps.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	return &Ingestor{
		source:    deps.Source,
		sink:      deps.Sink,
		registry:  deps.Registry,
		publisher: deps.Publisher,
		logger:    logger,
		backoff:   backoff,
		chunkSize: chunkSize,
		metrics:   newMetrics(deps.MetricsRegistry),
		now:       time.Now,
	}
}

// Run ingests until ctx is cancelled. Stream and discovery failures are
// logged and retried after the fixed backoff; Run only returns the
// context's error.
func (i *Ingestor) Run(ctx context.Context) error {
	for {
		stream, err := i.source.Open(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			i.logger.Error("No byte stream to read from", "error", err)
		} else {
			err = i.pump(ctx, stream)
			_ = stream.Close()
			if ctx.Err() != nil {
				return ctx.Err()
			}
			i.logger.Error("Byte stream ended", "error", err)
			if i.metrics != nil {
				i.metrics.streamRestarts.Inc()
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(i.backoff):
		}
	}
}

// pump reads stream in fixed-size chunks and feeds the extractor until
// the stream fails or ends. It always returns a non-nil error describing
// why the stream stopped.
func (i *Ingestor) pump(ctx context.Context, stream io.Reader) error {
	extractor := frame.NewExtractor()
	buf := make([]byte, i.chunkSize)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := stream.Read(buf)
		if n > 0 {
			if i.metrics != nil {
				i.metrics.bytesReceived.Add(float64(n))
			}
			for _, b := range buf[:n] {
				if f, done := extractor.Feed(b); done {
					i.handleFrame(ctx, f)
				}
			}
		}
		if err != nil {
			if err == io.EOF {
				return errors.ErrStreamClosed
			}
			return errors.WrapTransient(err, "Ingestor", "pump", "stream read")
		}
	}
}

// handleFrame runs one extracted frame through validation and decoding
// and applies the outcome to the metric sink and the registry.
func (i *Ingestor) handleFrame(ctx context.Context, f []byte) {
	if i.metrics != nil {
		i.metrics.framesReceived.Inc()
	}

	payload, err := protocol.Validate(f)
	if err != nil {
		i.drop(err)
		return
	}

	reading, err := protocol.Decode(payload)
	if err != nil {
		i.drop(err)
		return
	}
	if reading == nil {
		// Another broadcast format; expected in the wild.
		if i.metrics != nil {
			i.metrics.framesIgnored.Inc()
		}
		return
	}

	i.apply(reading)
	i.registry.Touch(reading.Addr, i.now())

	if i.metrics != nil {
		i.metrics.readingsTotal.Inc()
	}

	if i.publisher != nil {
		if err := i.publisher.PublishReading(ctx, reading); err != nil {
			i.logger.Warn("Failed to publish reading", "unit", reading.Addr.String(), "error", err)
		}
	}
}

// apply issues one set or clear instruction per quantity. Sentinel-absent
// quantities clear any previously published value.
func (i *Ingestor) apply(r *protocol.Reading) {
	unit := r.Addr.String()

	instruct := func(q metric.Quantity, v protocol.Quantity) {
		if v.Present {
			i.sink.Set(q, unit, v.Value)
		} else {
			i.sink.Clear(q, unit)
		}
	}

	instruct(metric.Temperature, r.Temperature)
	instruct(metric.Humidity, r.Humidity)
	instruct(metric.Pressure, r.Pressure)
	instruct(metric.Battery, r.Battery)
}

// drop logs and counts a discarded frame.
func (i *Ingestor) drop(err error) {
	i.logger.Warn("Dropping frame", "error", err)
	if i.metrics == nil {
		return
	}

	var reason string
	switch {
	case errors.Is(err, errors.ErrFrameTooShort):
		reason = dropTooShort
	case errors.Is(err, errors.ErrChecksumMismatch):
		reason = dropChecksum
	case errors.Is(err, errors.ErrMissingIdentity):
		reason = dropMissingIdentity
	default:
		reason = "other"
	}
	i.metrics.framesDropped.WithLabelValues(reason).Inc()
}
