package wsgateway

import (
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Deduper is the single, global message-deduplication instance.
// IsDuplicate is its only mutator; cleanup is amortized over a probe counter.
type Deduper struct {
	mu     sync.Mutex
	seen   map[uint64]time.Time
	probes int
	window time.Duration
	maxAge time.Duration
	every  int
}

// NewDeduper constructs a Deduper using the standard defaults: a 5s
// duplicate window and a 60s purge age, swept every dedupPurgeEvery probes.
func NewDeduper() *Deduper {
	return &Deduper{
		seen:   make(map[uint64]time.Time),
		window: dedupWindow,
		maxAge: dedupMaxAge,
		every:  dedupPurgeEvery,
	}
}

// DedupKeyFields is the subset of a parsed message used to derive the
// dedup key: symbol/instrument, event time, arrival timestamp, and price
// if present.
type DedupKeyFields struct {
	Symbol    string
	EventTime string
	Timestamp string
	Price     string // "" if not present
}

func dedupKey(f DedupKeyFields) uint64 {
	h := xxhash.New()
	h.WriteString(f.Symbol)
	h.WriteString("|")
	h.WriteString(f.EventTime)
	h.WriteString("|")
	h.WriteString(f.Timestamp)
	h.WriteString("|")
	h.WriteString(f.Price)
	return h.Sum64()
}

// IsDuplicate reports whether the key for f was seen less than the dedup
// window ago, and records/advances the latest arrival timestamp for that
// key either way. Amortized cleanup of stale entries runs every `every`
// probes.
func (d *Deduper) IsDuplicate(f DedupKeyFields, now time.Time) bool {
	key := dedupKey(f)

	d.mu.Lock()
	defer d.mu.Unlock()

	dup := false
	if last, ok := d.seen[key]; ok && now.Sub(last) < d.window {
		dup = true
	}
	d.seen[key] = now

	d.probes++
	if d.probes >= d.every {
		d.probes = 0
		d.purgeLocked(now)
	}
	return dup
}

func (d *Deduper) purgeLocked(now time.Time) {
	for k, ts := range d.seen {
		if now.Sub(ts) > d.maxAge {
			delete(d.seen, k)
		}
	}
}

// Len reports the number of tracked keys, mainly for tests/diagnostics.
func (d *Deduper) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

func formatPrice(p float64, ok bool) string {
	if !ok {
		return ""
	}
	return strconv.FormatFloat(p, 'f', -1, 64)
}
