package governor

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/bjoelf/venue-gateway/gatewaylog"
)

// AlertLevel tags alert severity.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "info"
	AlertWarning  AlertLevel = "warning"
	AlertCritical AlertLevel = "critical"
)

// Alert carries the fields a dashboard needs: type, level, message,
// numeric value, and timestamp.
type Alert struct {
	Type      string
	Level     AlertLevel
	Message   string
	Value     float64
	Timestamp time.Time
}

const (
	alertHistoryCap  = 100
	alertHistoryTrim = 50
)

// AlertBus fans alerts out to registered callbacks and retains a bounded
// history for dashboards. Callback errors (panics) never abort the
// caller.
type AlertBus struct {
	mu        sync.Mutex
	callbacks []func(Alert)
	history   []Alert

	gcHintLimiter *rate.Sometimes
}

// NewAlertBus constructs an AlertBus whose forced GC hints are
// rate-limited to at most once per 10s, via
// golang.org/x/time/rate.Sometimes rather than a hand-rolled timestamp
// check — it is built for exactly this "do X at most every N" shape.
func NewAlertBus() *AlertBus {
	return &AlertBus{
		gcHintLimiter: &rate.Sometimes{Interval: 10 * time.Second},
	}
}

// Register adds a callback invoked on every fired alert.
func (b *AlertBus) Register(cb func(Alert)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.callbacks = append(b.callbacks, cb)
}

// Fire records the alert in history (capped at alertHistoryCap, trimmed
// to alertHistoryTrim on overflow) and invokes every registered callback,
// isolating panics.
func (b *AlertBus) Fire(a Alert) {
	observeAlert(a)

	b.mu.Lock()
	b.history = append(b.history, a)
	if len(b.history) > alertHistoryCap {
		b.history = append([]Alert(nil), b.history[len(b.history)-alertHistoryTrim:]...)
	}
	callbacks := make([]func(Alert), len(b.callbacks))
	copy(callbacks, b.callbacks)
	b.mu.Unlock()

	for _, cb := range callbacks {
		safeInvoke(cb, a)
	}
}

func safeInvoke(cb func(Alert), a Alert) {
	defer func() {
		if r := recover(); r != nil {
			gatewaylog.Named("governor").Warn().Interface("panic", r).Msg("alert callback panicked")
		}
	}()
	cb(a)
}

// History returns a snapshot of retained alerts, oldest first.
func (b *AlertBus) History() []Alert {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Alert, len(b.history))
	copy(out, b.history)
	return out
}

// MaybeForceGCHint runs hint if at least 10s have elapsed since the last
// invocation, otherwise it's a no-op.
func (b *AlertBus) MaybeForceGCHint(hint func()) {
	b.gcHintLimiter.Do(hint)
}
