// Package registry maintains the live, expiring set of observed sensors.
//
// Every decoded broadcast touches its sensor's entry, pushing the expiry
// deadline out by the TTL. A timer-driven sweep removes entries whose
// deadline has passed and clears all of their published metrics. A sensor
// therefore has live metric values exactly while it has a non-expired
// entry here.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vandry/ruuvi-bridge/errors"
	"github.com/vandry/ruuvi-bridge/metric"
	"github.com/vandry/ruuvi-bridge/protocol"
)

const (
	// DefaultTTL is how long a sensor stays live after its last broadcast.
	DefaultTTL = 300 * time.Second
	// DefaultSweepInterval is the cadence of the expiry sweep.
	DefaultSweepInterval = 10 * time.Second
)

// Metrics holds Prometheus metrics for the registry.
type Metrics struct {
	activeSensors prometheus.Gauge
	expiredTotal  prometheus.Counter
	sweepsTotal   prometheus.Counter
}

// newMetrics creates and registers registry metrics.
// Returns nil if no registry is provided.
func newMetrics(registry *metric.MetricsRegistry) *Metrics {
	if registry == nil {
		return nil
	}

	m := &Metrics{
		activeSensors: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ruuvibridge",
			Subsystem: "registry",
			Name:      "active_sensors",
			Help:      "Number of sensors with a non-expired registry entry",
		}),
		expiredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ruuvibridge",
			Subsystem: "registry",
			Name:      "expired_total",
			Help:      "Total sensors removed by the expiry sweep",
		}),
		sweepsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ruuvibridge",
			Subsystem: "registry",
			Name:      "sweeps_total",
			Help:      "Total expiry sweeps performed",
		}),
	}

	_ = registry.RegisterGauge("registry", "active_sensors", m.activeSensors)
	_ = registry.RegisterCounter("registry", "expired_total", m.expiredTotal)
	_ = registry.RegisterCounter("registry", "sweeps_total", m.sweepsTotal)

	return m
}

// Deps holds runtime dependencies for the registry.
type Deps struct {
	Sink            metric.Sink             // receives clear instructions on expiry
	MetricsRegistry *metric.MetricsRegistry // optional
	Logger          *slog.Logger            // optional
	TTL             time.Duration           // defaults to DefaultTTL
	SweepInterval   time.Duration           // defaults to DefaultSweepInterval
}

// Registry is the concurrent mapping from hardware identity to expiry
// deadline. The ingestion loop and the sweep loop share it; all map
// access happens under one mutex, but the mutex is never held across
// calls into the Sink.
type Registry struct {
	ttl           time.Duration
	sweepInterval time.Duration
	sink          metric.Sink
	logger        *slog.Logger
	metrics       *Metrics

	mu        sync.Mutex
	deadlines map[protocol.HardwareAddr]time.Time

	// Lifecycle management for the sweep loop
	shutdown chan struct{}
	done     chan struct{}
	running  atomic.Bool
	wg       sync.WaitGroup
}

// New creates a registry. The sweep loop is not started until Start.
func New(deps Deps) *Registry {
	ttl := deps.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	interval := deps.SweepInterval
	if interval <= 0 {
		interval = DefaultSweepInterval
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "registry")
	}

	return &Registry{
		ttl:           ttl,
		sweepInterval: interval,
		sink:          deps.Sink,
		logger:        logger,
		metrics:       newMetrics(deps.MetricsRegistry),
		deadlines:     make(map[protocol.HardwareAddr]time.Time),
	}
}

// Touch sets addr's deadline to now plus the TTL, creating the entry if
// absent. Repeated rapid touches are idempotent: the final deadline is
// the one computed from the latest call.
func (r *Registry) Touch(addr protocol.HardwareAddr, now time.Time) {
	r.mu.Lock()
	r.deadlines[addr] = now.Add(r.ttl)
	size := len(r.deadlines)
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.activeSensors.Set(float64(size))
	}
}

// Deadline returns addr's current expiry deadline, if the entry exists.
func (r *Registry) Deadline(addr protocol.HardwareAddr) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	dl, ok := r.deadlines[addr]
	return dl, ok
}

// Len returns the number of live entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.deadlines)
}

// Sweep removes every entry whose deadline is strictly before now and
// clears all four metric families for each removed identity. For each
// identity the metric clear happens immediately before the registry
// removal, and the deadline is re-checked under the lock so a concurrent
// Touch is never clobbered. Entries with deadline >= now are never
// removed. Returns the number of entries removed.
func (r *Registry) Sweep(now time.Time) int {
	r.mu.Lock()
	var expired []protocol.HardwareAddr
	for addr, deadline := range r.deadlines {
		if deadline.Before(now) {
			expired = append(expired, addr)
		}
	}
	r.mu.Unlock()

	removed := 0
	for _, addr := range expired {
		unit := addr.String()
		if r.sink != nil {
			r.sink.ClearAll(unit)
		}

		r.mu.Lock()
		deadline, ok := r.deadlines[addr]
		stillExpired := ok && deadline.Before(now)
		if stillExpired {
			delete(r.deadlines, addr)
		}
		size := len(r.deadlines)
		r.mu.Unlock()

		if stillExpired {
			removed++
			r.logger.Info("Sensor expired", "unit", unit)
			if r.metrics != nil {
				r.metrics.expiredTotal.Inc()
				r.metrics.activeSensors.Set(float64(size))
			}
		}
	}

	if r.metrics != nil {
		r.metrics.sweepsTotal.Inc()
	}
	return removed
}

// Start launches the periodic sweep loop.
func (r *Registry) Start(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return errors.WrapInvalid(errors.ErrAlreadyStarted,
			"registry", "Start", "sweep loop startup")
	}

	r.shutdown = make(chan struct{})
	r.done = make(chan struct{})

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer close(r.done)
		r.sweepLoop(ctx)
	}()

	return nil
}

// sweepLoop runs Sweep at the configured cadence until stopped.
func (r *Registry) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(r.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.shutdown:
			return
		case <-ticker.C:
			r.Sweep(time.Now())
		}
	}
}

// Stop terminates the sweep loop, waiting up to timeout.
func (r *Registry) Stop(timeout time.Duration) error {
	if !r.running.CompareAndSwap(true, false) {
		return nil
	}

	close(r.shutdown)

	select {
	case <-r.done:
		return nil
	case <-time.After(timeout):
		return errors.WrapTransient(fmt.Errorf("stop timeout after %v", timeout),
			"registry", "Stop", "graceful shutdown")
	}
}
