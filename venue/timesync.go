package venue

import (
	"sync/atomic"
	"time"
)

// timeSyncSanityWindow bounds how far server_time() is trusted before a
// stale offset forces a re-sync at the next signed request.
const timeSyncSanityWindow = 10 * time.Minute

// minValidTimestampMs is the lower sanity bound for validate_timestamp
// (2017-01-01T00:00:00Z).
const minValidTimestampMs int64 = 1483228800000

// timestampFutureSkewMs is the upper sanity bound: server_time()+10s.
const timestampFutureSkewMs int64 = 10000

// timeSyncOffset is signed milliseconds added to local wall time to
// produce venue time.
type timeSyncOffset struct {
	offsetMs atomic.Int64
	syncedAt atomic.Int64 // unix nano of last successful sync
}

func (t *timeSyncOffset) set(ms int64, now time.Time) {
	t.offsetMs.Store(ms)
	t.syncedAt.Store(now.UnixNano())
}

func (t *timeSyncOffset) get() int64 { return t.offsetMs.Load() }

func (t *timeSyncOffset) stale(now time.Time) bool {
	synced := t.syncedAt.Load()
	if synced == 0 {
		return true
	}
	return now.Sub(time.Unix(0, synced)) > timeSyncSanityWindow
}

// ServerTime returns local wall time shifted by the stored offset.
func (c *Connector) ServerTime() int64 {
	return time.Now().UnixMilli() + c.offset.get()
}

// ValidateTimestamp reports whether ts is within
// [1483228800000, server_time()+10000].
func (c *Connector) ValidateTimestamp(ts int64) bool {
	return ts >= minValidTimestampMs && ts <= c.ServerTime()+timestampFutureSkewMs
}
