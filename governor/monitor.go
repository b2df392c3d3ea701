package governor

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/bjoelf/venue-gateway/gatewaylog"
)

const (
	sampleRingCap  = 1000
	sampleRingTrim = 500
)

// Sample is one monitoring-loop tick's combined reading.
type Sample struct {
	Timestamp    time.Time
	Memory       MemorySample
	CPUPercent   float64
	TrackedTotal int
	PoolSize     int
	PoolCapacity int
}

// Governor ties the TrackedObject registry, a generic ConnectionPool
// inventory, the Inspector, and the AlertBus into the background loops
// it runs. It holds only non-owning references to the objects it samples.
type Governor struct {
	mu      sync.Mutex
	samples []Sample

	Tracked    *TrackedObject
	Alerts     *AlertBus
	thresholds Thresholds

	inspector *Inspector

	poolSizeFn     func() int
	poolCapacityFn func() int

	monitorInterval time.Duration
	cleanupInterval time.Duration

	cancel context.CancelFunc
}

// NewGovernor constructs a Governor. poolSizeFn/poolCapacityFn let the
// caller report the live size/capacity of whatever ConnectionPool(s) it
// runs, without the Governor owning them.
func NewGovernor(poolSizeFn, poolCapacityFn func() int) (*Governor, error) {
	inspector, err := NewInspector()
	if err != nil {
		return nil, err
	}
	return &Governor{
		Tracked:         NewTrackedObject(),
		Alerts:          NewAlertBus(),
		thresholds:      DefaultThresholds(),
		inspector:       inspector,
		poolSizeFn:      poolSizeFn,
		poolCapacityFn:  poolCapacityFn,
		monitorInterval: 10 * time.Second,
		cleanupInterval: 30 * time.Second,
	}, nil
}

// Start launches the monitoring and cleanup loops.
func (g *Governor) Start(parent context.Context, pools ...evictable) {
	ctx, cancel := context.WithCancel(parent)
	g.mu.Lock()
	g.cancel = cancel
	g.mu.Unlock()

	go g.monitorLoop(ctx)
	go g.cleanupLoop(ctx, pools)
}

// Stop cancels both loops.
func (g *Governor) Stop() {
	g.mu.Lock()
	cancel := g.cancel
	g.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// evictable is satisfied directly by *ConnectionPool[T] for any T.
type evictable interface {
	EvictExpired() int
}

func (g *Governor) monitorLoop(ctx context.Context) {
	ticker := time.NewTicker(g.monitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.sampleOnce()
		}
	}
}

func (g *Governor) sampleOnce() {
	mem, err := g.inspector.SampleMemory()
	if err != nil {
		gatewaylog.Named("governor").Warn().Err(err).Msg("memory sample failed")
	}
	cpuPct, err := g.inspector.SampleCPUPercent()
	if err != nil {
		gatewaylog.Named("governor").Warn().Err(err).Msg("cpu sample failed")
	}

	poolSize, poolCap := 0, 0
	if g.poolSizeFn != nil {
		poolSize = g.poolSizeFn()
	}
	if g.poolCapacityFn != nil {
		poolCap = g.poolCapacityFn()
	}

	sample := Sample{
		Timestamp:    time.Now(),
		Memory:       mem,
		CPUPercent:   cpuPct,
		TrackedTotal: g.Tracked.Stats().Total,
		PoolSize:     poolSize,
		PoolCapacity: poolCap,
	}

	g.mu.Lock()
	g.samples = append(g.samples, sample)
	if len(g.samples) > sampleRingCap {
		g.samples = append([]Sample(nil), g.samples[len(g.samples)-sampleRingTrim:]...)
	}
	g.mu.Unlock()

	observeSample(sample)
	g.evaluateAlerts(sample)
}

func (g *Governor) evaluateAlerts(s Sample) {
	now := s.Timestamp
	if s.Memory.SystemPercent > g.thresholds.MemoryPercent {
		g.Alerts.Fire(Alert{Type: "memory", Level: AlertWarning, Message: "system memory above threshold", Value: s.Memory.SystemPercent, Timestamp: now})
		g.Alerts.MaybeForceGCHint(func() { runtime.GC() })
	}
	if s.CPUPercent > g.thresholds.CPUPercent {
		g.Alerts.Fire(Alert{Type: "cpu", Level: AlertWarning, Message: "cpu usage above threshold", Value: s.CPUPercent, Timestamp: now})
	}
	if s.PoolCapacity > 0 {
		utilization := float64(s.PoolSize) / float64(s.PoolCapacity)
		if utilization > g.thresholds.PoolFraction {
			g.Alerts.Fire(Alert{Type: "pool", Level: AlertWarning, Message: "connection pool near capacity", Value: utilization, Timestamp: now})
		}
	}
}

func (g *Governor) cleanupLoop(ctx context.Context, pools []evictable) {
	ticker := time.NewTicker(g.cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, p := range pools {
				p.EvictExpired()
			}
		}
	}
}

// Samples returns a snapshot of the retained sample ring, oldest first.
func (g *Governor) Samples() []Sample {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]Sample, len(g.samples))
	copy(out, g.samples)
	return out
}
