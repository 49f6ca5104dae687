package registry

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vandry/ruuvi-bridge/metric"
	"github.com/vandry/ruuvi-bridge/protocol"
	"github.com/vandry/ruuvi-bridge/testutil"
)

var (
	addrA = protocol.HardwareAddr{0x01, 0x02, 0x03, 0x04, 0x05, 0x06}
	addrB = protocol.HardwareAddr{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF}
)

func newTestRegistry(sink metric.Sink) *Registry {
	return New(Deps{Sink: sink})
}

func TestTouchCreatesEntry(t *testing.T) {
	r := newTestRegistry(nil)
	now := time.Now()

	r.Touch(addrA, now)

	deadline, ok := r.Deadline(addrA)
	require.True(t, ok)
	assert.Equal(t, now.Add(DefaultTTL), deadline)
	assert.Equal(t, 1, r.Len())
}

func TestTouchIdempotence(t *testing.T) {
	// A later touch wins; the deadline is never stale.
	r := newTestRegistry(nil)
	t1 := time.Now()
	t2 := t1.Add(7 * time.Second)

	r.Touch(addrA, t1)
	r.Touch(addrA, t2)

	deadline, ok := r.Deadline(addrA)
	require.True(t, ok)
	assert.Equal(t, t2.Add(DefaultTTL), deadline)
	assert.Equal(t, 1, r.Len())
}

func TestSweepStrictInequality(t *testing.T) {
	sink := testutil.NewRecordingSink()
	r := newTestRegistry(sink)
	t0 := time.Now()

	r.Touch(addrA, t0)

	// Exactly at the deadline the entry survives.
	assert.Equal(t, 0, r.Sweep(t0.Add(DefaultTTL)))
	assert.Equal(t, 1, r.Len())
	assert.Empty(t, sink.Ops())

	// One instant past the deadline it goes.
	assert.Equal(t, 1, r.Sweep(t0.Add(DefaultTTL+time.Nanosecond)))
	assert.Equal(t, 0, r.Len())
}

func TestSweepClearsAllQuantities(t *testing.T) {
	sink := testutil.NewRecordingSink()
	r := newTestRegistry(sink)
	t0 := time.Now()

	unit := addrA.String()
	for _, q := range metric.Quantities {
		sink.Set(q, unit, 1.0)
	}
	sink.Reset() // only observe the sweep's instructions
	r.Touch(addrA, t0)

	removed := r.Sweep(t0.Add(301 * time.Second))
	assert.Equal(t, 1, removed)

	ops := sink.Ops()
	require.Len(t, ops, 1)
	assert.Equal(t, "clearall", ops[0].Kind)
	assert.Equal(t, unit, ops[0].Unit)
	assert.Equal(t, 0, sink.Live(unit))

	_, ok := r.Deadline(addrA)
	assert.False(t, ok, "no registry entry survives without its metrics")
}

func TestSweepOnlyExpired(t *testing.T) {
	sink := testutil.NewRecordingSink()
	r := newTestRegistry(sink)
	t0 := time.Now()

	r.Touch(addrA, t0)
	r.Touch(addrB, t0.Add(200*time.Second))

	removed := r.Sweep(t0.Add(DefaultTTL + time.Second))
	assert.Equal(t, 1, removed)

	_, okA := r.Deadline(addrA)
	_, okB := r.Deadline(addrB)
	assert.False(t, okA)
	assert.True(t, okB)

	ops := sink.Ops()
	require.Len(t, ops, 1)
	assert.Equal(t, addrA.String(), ops[0].Unit)
}

func TestSweepEmptyRegistry(t *testing.T) {
	sink := testutil.NewRecordingSink()
	r := newTestRegistry(sink)
	assert.Equal(t, 0, r.Sweep(time.Now()))
	assert.Empty(t, sink.Ops())
}

func TestExpiryScenario(t *testing.T) {
	// Touched at t0: live for now < t0+300s, gone at t0+301s with all
	// four metric families cleared in the same sweep.
	sink := testutil.NewRecordingSink()
	r := newTestRegistry(sink)
	t0 := time.Now()
	unit := addrA.String()

	for _, q := range metric.Quantities {
		sink.Set(q, unit, 1.0)
	}
	r.Touch(addrA, t0)

	for _, offset := range []time.Duration{time.Second, 150 * time.Second, 299 * time.Second} {
		assert.Equal(t, 0, r.Sweep(t0.Add(offset)), "still live at t0+%v", offset)
		assert.Equal(t, 4, sink.Live(unit))
	}

	assert.Equal(t, 1, r.Sweep(t0.Add(301*time.Second)))
	assert.Equal(t, 0, sink.Live(unit), "no metric survives registry removal")
	assert.Equal(t, 0, r.Len())
}

func TestConcurrentTouchAndSweep(t *testing.T) {
	sink := testutil.NewRecordingSink()
	r := newTestRegistry(sink)

	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			addr := addrA
			addr[5] = byte(n)
			for j := 0; j < 200; j++ {
				r.Touch(addr, start.Add(time.Duration(j)*time.Millisecond))
			}
		}(i)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for j := 0; j < 50; j++ {
			r.Sweep(start.Add(time.Duration(j) * time.Millisecond))
		}
	}()

	wg.Wait()

	// Every touched sensor was last touched well after the final sweep
	// cutoff, so all four must still be live.
	assert.Equal(t, 4, r.Len())
}

func TestSweepLoopLifecycle(t *testing.T) {
	sink := testutil.NewRecordingSink()
	r := New(Deps{Sink: sink, SweepInterval: 5 * time.Millisecond})

	ctx := context.Background()
	require.NoError(t, r.Start(ctx))
	assert.Error(t, r.Start(ctx), "second start must fail")

	// Entry already expired: the loop removes it without explicit Sweep.
	r.Touch(addrA, time.Now().Add(-DefaultTTL-time.Hour))

	require.Eventually(t, func() bool {
		return r.Len() == 0
	}, 2*time.Second, time.Millisecond)

	require.NoError(t, r.Stop(time.Second))
	assert.NoError(t, r.Stop(time.Second), "second stop is a no-op")
}
